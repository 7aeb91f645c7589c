package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyneme/maggtomic/datom"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	openTestStore(t, Options{Path: path})

	_, err := os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 3; i++ {
		s, err := Open(context.Background(), Options{Path: path})
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}

	s := openTestStore(t, Options{Path: path})
	for _, table := range []string{"vals", "eavt", "aevt", "avet", "vaet", "hwm"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %q missing", table)
	}

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_WALMode(t *testing.T) {
	s := openTestStore(t, Options{})
	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_RejectsBadOptions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := Open(ctx, Options{})
	assert.Error(t, err)

	_, err = Open(ctx, Options{Path: filepath.Join(dir, "a.db"), Compression: "brotli"})
	assert.ErrorContains(t, err, "unknown compression")

	_, err = Open(ctx, Options{Path: filepath.Join(dir, "b.db"), Synchronous: "SOMETIMES"})
	assert.ErrorContains(t, err, "invalid synchronous mode")
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), Options{Path: path})
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), Options{Path: path})
	assert.ErrorContains(t, err, "newer than supported")
}

func TestClose_Twice(t *testing.T) {
	s, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestClose_LaterCallsFail(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Options{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.WriteBatch(ctx, []datom.Datom{assertD(ent(1), attr(1), datom.Int(1), tx(1))}, indexedAttrs{})
	assert.True(t, datom.HasCode(err, datom.ErrCodeClosed), "write: %v", err)
	_, err = s.LatestTx(ctx)
	assert.True(t, datom.HasCode(err, datom.ErrCodeClosed), "latest: %v", err)
	_, err = s.Counts(ctx)
	assert.True(t, datom.HasCode(err, datom.ErrCodeClosed), "counts: %v", err)
	_, err = s.LoadAttrs(ctx)
	assert.True(t, datom.HasCode(err, datom.ErrCodeClosed), "attrs: %v", err)
	for _, err := range s.Scan(ctx, datom.EAVT, nil, nil, tx(1)) {
		assert.True(t, datom.HasCode(err, datom.ErrCodeClosed), "scan: %v", err)
	}
}

func TestParseCodec(t *testing.T) {
	for name, want := range map[string]Codec{"": CodecZstd, "zstd": CodecZstd, "lz4": CodecLZ4, "none": CodecNone} {
		got, err := ParseCodec(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseCodec("gzip")
	assert.Error(t, err)
}
