// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/livefeed/internal/config"
	"github.com/ManuGH/livefeed/internal/log"
	"github.com/ManuGH/livefeed/internal/mirror"
)

// Resolver looks up host names; net.DefaultResolver in production.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// PerformStartupChecks validates the environment before the service starts.
// Unresolvable upstream hosts only warn: the service may start offline.
func PerformStartupChecks(ctx context.Context, cfg *config.AppConfig, resolver Resolver) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if m := cfg.Cache.DurableMirror; m != nil {
		if err := checkMirrorPath(logger, *m); err != nil {
			return fmt.Errorf("durable mirror check failed: %w", err)
		}
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}
	checkUpstreamHosts(ctx, logger, cfg, resolver)

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkMirrorPath(logger zerolog.Logger, m mirror.Config) error {
	switch m.Kind {
	case mirror.KindFile, mirror.KindSQLite:
		return checkDirWritable(logger, filepath.Dir(m.Path))
	case mirror.KindBadger:
		if err := os.MkdirAll(m.Path, 0o750); err != nil {
			return fmt.Errorf("create badger dir %s: %w", m.Path, err)
		}
		return checkDirWritable(logger, m.Path)
	}
	return nil
}

func checkDirWritable(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("mirror directory is writable")
	return nil
}

func checkUpstreamHosts(ctx context.Context, logger zerolog.Logger, cfg *config.AppConfig, resolver Resolver) {
	seen := make(map[string]bool)
	for _, sc := range cfg.Sources {
		if sc.Fetcher.Kind != config.FetcherHTTP {
			continue
		}
		u, err := url.Parse(sc.Fetcher.URL)
		if err != nil || seen[u.Hostname()] {
			continue
		}
		host := u.Hostname()
		seen[host] = true
		if net.ParseIP(host) != nil {
			continue
		}

		lctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err = resolver.LookupHost(lctx, host)
		cancel()
		if err != nil {
			logger.Warn().
				Err(err).
				Str(log.FieldSourceID, sc.ID).
				Str("host", host).
				Msg("upstream host does not resolve yet")
		}
	}
}
