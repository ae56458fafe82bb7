package database

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// New opens a connection pool and checks it with a ping.
func New(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}
	return pool, nil
}

// Migrate creates the orders and payment_events tables if they are missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Health pings the database and reports pool statistics.
// It returns a map with keys indicating various health statistics.
func Health(ctx context.Context, pool *pgxpool.Pool) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := pool.Ping(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	s := pool.Stat()
	stats["total_connections"] = strconv.Itoa(int(s.TotalConns()))
	stats["in_use"] = strconv.Itoa(int(s.AcquiredConns()))
	stats["idle"] = strconv.Itoa(int(s.IdleConns()))
	stats["max_connections"] = strconv.Itoa(int(s.MaxConns()))
	stats["empty_acquire_count"] = strconv.FormatInt(s.EmptyAcquireCount(), 10)
	stats["acquire_duration"] = s.AcquireDuration().String()
	stats["max_idle_destroyed"] = strconv.FormatInt(s.MaxIdleDestroyCount(), 10)
	stats["max_lifetime_destroyed"] = strconv.FormatInt(s.MaxLifetimeDestroyCount(), 10)

	if s.MaxConns() > 0 && s.AcquiredConns() >= s.MaxConns()*4/5 {
		stats["message"] = "The database is experiencing heavy load."
	}

	if s.EmptyAcquireCount() > 1000 {
		stats["message"] = "The pool has a high number of waits for a free connection, indicating potential bottlenecks."
	}

	if s.MaxLifetimeDestroyCount() > int64(s.TotalConns())/2 && s.TotalConns() > 0 {
		stats["message"] = "Many connections are being closed due to max lifetime, consider increasing max lifetime or revising the connection usage pattern."
	}

	return stats
}
