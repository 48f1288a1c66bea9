package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseSink runs the contract every sink must satisfy.
func exerciseSink(t *testing.T, s Sink) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Store(ctx, "livefeed:cache:scores", `{"value":1}`))
	v, ok, err := s.Load(ctx, "livefeed:cache:scores")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"value":1}`, v)

	require.NoError(t, s.Store(ctx, "livefeed:cache:scores", `{"value":2}`))
	v, ok, err = s.Load(ctx, "livefeed:cache:scores")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"value":2}`, v)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	exerciseSink(t, m)
	assert.Equal(t, 1, m.Len())
	require.NoError(t, m.Close())
}

func TestMemory_CancelledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Store(ctx, "k", "v"), context.Canceled)
	_, _, err := m.Load(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFile_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mirror.json")
	f, err := OpenFile(path, zerolog.Nop())
	require.NoError(t, err)
	exerciseSink(t, f)
	require.NoError(t, f.Close())

	reopened, err := OpenFile(path, zerolog.Nop())
	require.NoError(t, err)
	v, ok, err := reopened.Load(context.Background(), "livefeed:cache:scores")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"value":2}`, v)
}

func TestFile_CorruptIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := OpenFile(path, zerolog.Nop())
	require.Error(t, err)
}

func TestFile_EmptyFileIsEmptyMirror(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	f, err := OpenFile(path, zerolog.Nop())
	require.NoError(t, err)
	_, ok, err := f.Load(context.Background(), "x")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	exerciseSink(t, r)
	require.NoError(t, r.HealthCheck(context.Background()))

	got, err := mr.Get("livefeed:cache:scores")
	require.NoError(t, err)
	assert.Equal(t, `{"value":2}`, got)
	assert.Zero(t, mr.TTL("livefeed:cache:scores"))
}

func TestRedis_ConnectFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedis(context.Background(), RedisConfig{Addr: addr}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis connection failed")
}

func TestRedis_LoadErrorAfterServerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	mr.Close()
	_, _, err = r.Load(context.Background(), "k")
	require.Error(t, err)
	require.Error(t, r.Store(context.Background(), "k", "v"))
}

func TestBadger(t *testing.T) {
	b, err := OpenBadgerInMemory()
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	exerciseSink(t, b)
}

func TestBadger_OnDisk(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, b.Store(context.Background(), "k", "v"))
	require.NoError(t, b.Close())

	b, err = OpenBadger(dir)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	v, ok, err := b.Load(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mirror.db")
	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	exerciseSink(t, s)
	require.NoError(t, s.HealthCheck(ctx))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	v, ok, err := s.Load(ctx, "livefeed:cache:scores")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"value":2}`, v)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Kind: "memory"}, false},
		{"file needs path", Config{Kind: "file"}, true},
		{"file ok", Config{Kind: "file", Path: "/tmp/x"}, false},
		{"redis needs addr", Config{Kind: "redis"}, true},
		{"redis ok", Config{Kind: "redis", Addr: "localhost:6379"}, false},
		{"badger needs path", Config{Kind: "badger", Path: " "}, true},
		{"unknown", Config{Kind: "etcd"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.ErrorIs(t, Config{Kind: "etcd"}.Validate(), ErrUnknownKind)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	for _, cfg := range []Config{
		{Kind: KindMemory},
		{Kind: KindFile, Path: filepath.Join(dir, "m.json")},
		{Kind: KindRedis, Addr: mr.Addr()},
		{Kind: KindBadger, Path: filepath.Join(dir, "badger")},
		{Kind: KindSQLite, Path: filepath.Join(dir, "m.db")},
	} {
		t.Run(cfg.Kind, func(t *testing.T) {
			s, err := Open(ctx, cfg, zerolog.Nop())
			require.NoError(t, err)
			defer func() { _ = s.Close() }()
			exerciseSink(t, s)
		})
	}

	_, err := Open(ctx, Config{Kind: "etcd"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnknownKind)
}
