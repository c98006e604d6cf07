// Package db opens the Postgres connection pool and provides the transaction
// helper shared by repositories.
package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"
)

// Options tunes the connection pool and the startup connect loop.
type Options struct {
	// ConnectRetries is how many extra ping attempts Open makes before giving up.
	ConnectRetries uint64
	// RetryBase is the first backoff interval; it doubles per attempt up to 5s.
	RetryBase    time.Duration
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// Open opens a Postgres pool for dsn and pings it, retrying with exponential
// backoff while the server is unreachable. Caller must call Close when done.
func Open(ctx context.Context, dsn string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("db: empty DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLife > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLife)
	}

	base := opts.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(opts.ConnectRetries, retry.WithCappedDuration(5*time.Second, retry.NewExponential(base)))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
