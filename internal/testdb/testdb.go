//go:build integration

// Package testdb starts a throwaway PostgreSQL for integration tests and
// applies the linker's migrations to it.
package testdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/otherjamesbrown/penf-linker/migrations"
	"github.com/otherjamesbrown/penf-linker/pkg/db"
)

// Image is the PostgreSQL image used by integration tests.
const Image = "postgres:16-alpine"

// Database is a running container with a migrated schema.
type Database struct {
	Pool      *pgxpool.Pool
	ConnStr   string
	container *postgres.PostgresContainer
}

// Start runs a container, connects and migrates.
func Start(ctx context.Context) (*Database, error) {
	container, err := postgres.Run(ctx, Image,
		postgres.WithDatabase("penf_linker"),
		postgres.WithUsername("penf"),
		postgres.WithPassword("penf"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("error starting postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("error getting connection string: %w", err)
	}

	pool, err := db.Connect(ctx, &db.Config{URL: connStr, MaxConns: 5})
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, err
	}
	if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
		pool.Close()
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("error migrating: %w", err)
	}

	return &Database{Pool: pool, ConnStr: connStr, container: container}, nil
}

// Reset empties every linker table.
func (d *Database) Reset(ctx context.Context) error {
	_, err := d.Pool.Exec(ctx, `
		TRUNCATE occurrence_relations, entities, entity_containers, acl, documents
	`)
	return err
}

// Stop closes the pool and removes the container.
func (d *Database) Stop() error {
	d.Pool.Close()
	return testcontainers.TerminateContainer(d.container)
}
