package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoPool is returned by Check before the service has connected.
var ErrNoPool = errors.New("database pool not initialized")

// Check pings pool for the /healthz endpoint. Pool statistics are exported
// separately by the metrics collector.
func Check(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return ErrNoPool
	}
	start := time.Now()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed after %s: %w", time.Since(start).Round(time.Millisecond), err)
	}
	return nil
}
