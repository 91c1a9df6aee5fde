package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var DB *pgxpool.Pool

// Connect initializes the connection pool for dsn.
func Connect(dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("POSTGRES_URL is empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	// Try pinging to make sure it's valid
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	DB = pool

	return pool, nil
}

// ClosePool is for graceful shutdown
func ClosePool() {
	if DB != nil {
		DB.Close()
	}
}
