package index

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"

	"github.com/polyneme/maggtomic/datom"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - empty database
// 1 - index families, vals, hwm
const currentSchemaVersion = 1

// Options configures Open.
type Options struct {
	// Path is the database file. Created if missing.
	Path string

	// Synchronous is the SQLite synchronous pragma: NORMAL (default), FULL or OFF.
	Synchronous string

	// BusyTimeout bounds how long a connection waits on a lock.
	BusyTimeout time.Duration

	// ReadPoolSize caps concurrent read connections. 0 means 4.
	ReadPoolSize int

	// Compression names the codec for large interned values: zstd, lz4 or none.
	Compression string

	// CompressThreshold is the size in bytes above which interned content
	// is compressed.
	CompressThreshold int

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store is the index manager: the only component that touches the
// database file.
type Store struct {
	db  *sql.DB // single writer connection
	rdb *sql.DB // read-only pool

	codec     Codec
	threshold int
	zenc      *zstd.Encoder
	zdec      *zstd.Decoder
	log       *slog.Logger

	closed atomic.Bool
}

// Open creates or opens the database at opts.Path, applies pragmas and
// migrations, and opens the read pool.
//
// This function is idempotent - safe to call on an existing database.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("open index: empty path")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Synchronous == "" {
		opts.Synchronous = "NORMAL"
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.ReadPoolSize <= 0 {
		opts.ReadPoolSize = 4
	}
	codec, err := ParseCodec(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	busy := fmt.Sprintf("%d", opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn(opts.Path, url.Values{
		"_busy_timeout": {busy},
		"_txlock":       {"immediate"},
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db, opts.Synchronous); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	rdb, err := sql.Open("sqlite3", dsn(opts.Path, url.Values{
		"mode":          {"ro"},
		"_busy_timeout": {busy},
	}))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open read pool: %w", err)
	}
	rdb.SetMaxOpenConns(opts.ReadPoolSize)
	rdb.SetMaxIdleConns(opts.ReadPoolSize)
	if err := rdb.PingContext(ctx); err != nil {
		rdb.Close()
		db.Close()
		return nil, fmt.Errorf("failed to connect read pool: %w", err)
	}

	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		rdb.Close()
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		zenc.Close()
		rdb.Close()
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	s := &Store{
		db:        db,
		rdb:       rdb,
		codec:     codec,
		threshold: opts.CompressThreshold,
		zenc:      zenc,
		zdec:      zdec,
		log:       opts.Logger,
	}
	s.log.Debug("index store opened", "path", opts.Path, "codec", codec.String())
	return s, nil
}

// checkOpen returns a CLOSED error once Close has been called.
func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return datom.Errorf(datom.ErrCodeClosed, "index store is closed")
	}
	return nil
}

func dsn(path string, params url.Values) string {
	return "file:" + path + "?" + params.Encode()
}

// Close closes both connection pools. Safe to call more than once.
// Every later call on the store returns a CLOSED error.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	rerr := s.rdb.Close()
	werr := s.db.Close()
	s.zenc.Close()
	s.zdec.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// applyPragmas sets required SQLite configuration on the writer.
func applyPragmas(ctx context.Context, db *sql.DB, synchronous string) error {
	switch synchronous {
	case "NORMAL", "FULL", "OFF":
	default:
		return fmt.Errorf("invalid synchronous mode %q", synchronous)
	}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = " + synchronous,
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(ctx, db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	// Version 1 is the base schema; later versions migrate from here.
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
