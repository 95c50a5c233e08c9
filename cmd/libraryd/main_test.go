package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/internal/catalog"
	"libraryhub/internal/clients"
	"libraryhub/internal/config"
)

// unsetEnv removes the overrides config.Load reads, restoring them after the test.
func unsetEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "STORE_DRIVER", "DATABASE_URL", "EVENTSTORE_URL", "REDIS_ADDR", "LOCK_TTL",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "API_TOKEN_HASH", "LOG_LEVEL",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "SERVICE_NAME",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return strconv.Itoa(port)
}

// writeConfig replaces the file in one rename so a reload never reads it half written.
func writeConfig(t *testing.T, path, port string) {
	t.Helper()
	content := fmt.Sprintf("port: %q\nstore:\n  driver: memory\nrate_limit:\n  rps: 0\nlog:\n  level: error\n", port)
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func waitHealthy(t *testing.T, c *clients.Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Health(context.Background()) == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestServe_ConfigReloadKeepsMemoryStore(t *testing.T) {
	unsetEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	firstPort := freePort(t)
	writeConfig(t, path, firstPort)

	ctx, cancel := context.WithCancel(context.Background())
	stores := &storeHolder{}
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- serve(ctx, path, stores)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
		stores.Close()
	})

	first := clients.NewClient("http://127.0.0.1:" + firstPort)
	waitHealthy(t, first)

	book, err := first.CreateBook(ctx, catalog.BookDetails{
		Title: "Kindred", Author: "Octavia E. Butler", PublicationYear: 1979, ISBN: "978-0-8070-8305-0",
	})
	require.NoError(t, err)

	// moving the port shows the server really restarted
	secondPort := freePort(t)
	writeConfig(t, path, secondPort)

	second := clients.NewClient("http://127.0.0.1:" + secondPort)
	waitHealthy(t, second)

	got, err := second.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, book.ISBN, got.ISBN)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStoreHolder_ReusesStoreUntilClosed(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &storeHolder{}
	defer h.Close()

	cfg := config.Default()
	first, health, err := h.Open(ctx, cfg, logger)
	require.NoError(t, err)
	assert.Nil(t, health)

	cfg.Store.DSN = "unused by the memory driver"
	again, _, err := h.Open(ctx, cfg, logger)
	require.NoError(t, err)
	assert.Same(t, first, again)

	h.Close()
	fresh, _, err := h.Open(ctx, cfg, logger)
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
}
