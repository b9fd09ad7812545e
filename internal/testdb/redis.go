//go:build integration

package testdb

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisImage is the Redis image used by integration tests.
const RedisImage = "redis:7-alpine"

// Redis is a Redis server for integration tests.
type Redis struct {
	Client    *redis.Client
	Addr      string
	container testcontainers.Container
}

// StartRedis connects to REDIS_ADDR when set, otherwise runs a container.
func StartRedis(ctx context.Context) (*Redis, error) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return connectRedis(ctx, addr, nil)
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        RedisImage,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("error starting redis container: %w", err)
	}
	addr, err := container.Endpoint(ctx, "")
	if err != nil {
		_ = testcontainers.TerminateContainer(container)
		return nil, fmt.Errorf("error getting redis endpoint: %w", err)
	}
	return connectRedis(ctx, addr, container)
}

func connectRedis(ctx context.Context, addr string, container testcontainers.Container) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if container != nil {
			_ = testcontainers.TerminateContainer(container)
		}
		return nil, fmt.Errorf("error pinging redis at %s: %w", addr, err)
	}
	return &Redis{Client: client, Addr: addr, container: container}, nil
}

// Flush empties the current database.
func (r *Redis) Flush(ctx context.Context) error {
	return r.Client.FlushDB(ctx).Err()
}

// Stop closes the client and removes the container if one was started.
func (r *Redis) Stop() error {
	err := r.Client.Close()
	if r.container != nil {
		if terr := testcontainers.TerminateContainer(r.container); terr != nil {
			return terr
		}
	}
	return err
}
