// Package postgres opens the database/sql pool backed by lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

// Open connects to databaseURL and verifies the connection. maxConns <= 0
// leaves the pool unbounded.
func Open(ctx context.Context, databaseURL string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(max(maxConns/2, 1))
	}
	db.SetConnMaxIdleTime(15 * time.Minute)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}
