// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// File keeps every key in one JSON object on disk. Each Store rewrites the
// file atomically and durably (fsync before rename) through renameio.
type File struct {
	mu     sync.Mutex
	path   string
	data   map[string]string
	logger zerolog.Logger
}

// OpenFile loads path if it exists. A missing file is an empty mirror; an
// unreadable or corrupt one is an error.
func OpenFile(path string, logger zerolog.Logger) (*File, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create mirror dir: %w", err)
	}

	f := &File{path: path, data: make(map[string]string), logger: logger}

	// #nosec G304 -- mirror path is provided by the operator via config
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("read mirror file: %w", err)
	}
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f.data); err != nil {
		return nil, fmt.Errorf("decode mirror file %s: %w", path, err)
	}
	return f, nil
}

func (f *File) Load(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *File) Store(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.data[key]
	f.data[key] = value
	if err := f.flush(); err != nil {
		if had {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

// flush writes the whole map. Caller must hold f.mu.
func (f *File) flush() error {
	buf, err := json.Marshal(f.data)
	if err != nil {
		return fmt.Errorf("encode mirror file: %w", err)
	}

	pending, err := renameio.NewPendingFile(f.path)
	if err != nil {
		return fmt.Errorf("create pending mirror file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			f.logger.Debug().Err(err).Msg("cleanup pending mirror file")
		}
	}()

	if _, err := pending.Write(buf); err != nil {
		return fmt.Errorf("write mirror data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace mirror file: %w", err)
	}
	return nil
}

func (f *File) Close() error { return nil }
