package testredis

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const redisPort = "6379/tcp"

// StartRedis runs a throwaway Redis for the lifetime of tb and returns its
// redis:// URL.
func StartRedis(tb testing.TB) string {
	tb.Helper()

	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{redisPort},
			WaitingFor:   wait.ForListeningPort(redisPort).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		tb.Fatalf("testredis: start container: %v", err)
	}
	tb.Cleanup(func() { terminate(tb, c) })

	endpoint, err := c.PortEndpoint(ctx, redisPort, "redis")
	if err != nil {
		tb.Fatalf("testredis: endpoint: %v", err)
	}
	return endpoint
}

func terminate(tb testing.TB, c testcontainers.Container) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Terminate(ctx); err != nil {
		tb.Errorf("testredis: terminate container: %v", err)
	}
}
