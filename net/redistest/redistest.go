// Package redistest starts Redis protocol servers in containers for
// tests.
package redistest

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Server is a container image speaking the Redis protocol.
type Server struct {
	Name  string
	Image string
	// Ready is the log line of a server accepting connections
	Ready string
}

var (
	Redis  = Server{Name: "redis", Image: "redis:6-alpine", Ready: "* Ready to accept connections"}
	Valkey = Server{Name: "valkey", Image: "valkey/valkey:8-alpine", Ready: "Ready to accept connections"}
)

// NewTestRedis starts a Redis server and returns its address and a
// function to stop it.
func NewTestRedis(t testing.TB) (address string, done func()) {
	return Start(t, Redis, "")
}

func NewTestRedisWithPassword(t testing.TB, password string) (address string, done func()) {
	return Start(t, Redis, password)
}

// Start runs the server image. The test is skipped when no container
// runtime is available.
func Start(t testing.TB, s Server, password string) (address string, done func()) {
	var cmd []string
	if password != "" {
		cmd = []string{"--requirepass", password}
	}

	start := time.Now()

	// the first start pulls the image
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        s.Image,
			Cmd:          cmd,
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog(s.Ready),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Failed to start %s server: %v", s.Name, err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	address, err = container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get %s address: %v", s.Name, err)
	}

	if err := ping(ctx, address, password); err != nil {
		t.Fatalf("Failed to ping %s server at %s: %v", s.Name, address, err)
	}

	t.Logf("Started %s server at %s in %v", s.Name, address, time.Since(start))

	done = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("Failed to stop %s server: %v", s.Name, err)
		}
	}
	return
}

// ping waits until the server answers or ctx is done.
func ping(ctx context.Context, address, password string) error {
	rdb := redis.NewClient(&redis.Options{Addr: address, Password: password})
	defer rdb.Close()

	for {
		err := rdb.Ping(ctx).Err()
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return err
		case <-time.After(100 * time.Millisecond):
		}
	}
}
