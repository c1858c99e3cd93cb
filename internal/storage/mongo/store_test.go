package mongo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"solana-wallet-tracker/internal/storage"
	"solana-wallet-tracker/internal/storage/storetest"
)

// setupTestDB starts a MongoDB container and returns its URI.
func setupTestDB(t *testing.T) (string, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping mongo integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Waiting for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("27017/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start mongo container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return fmt.Sprintf("mongodb://%s:%s", host, port.Port()), cleanup
}

func TestStore_Suite(t *testing.T) {
	uri, cleanup := setupTestDB(t)
	defer cleanup()

	storetest.Run(t, func(t *testing.T) storage.Store {
		ctx := context.Background()
		s, err := Connect(ctx, uri, "wallet_bot_test")
		require.NoError(t, err)
		require.NoError(t, s.Drop(ctx))
		return s
	})
}

func TestConnect_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := Connect(ctx, "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200", "x")
	require.Error(t, err)
}
