package bootstrap

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"txindex/internal/config"
	"txindex/internal/infrastructure/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore_SQLite(t *testing.T) {
	cfg := config.Config{DBDriver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "records.db")}
	store, err := OpenStore(cfg)
	require.NoError(t, err)
	defer CloseAll(store)

	_, ok := store.(*sqlite.Repository)
	assert.True(t, ok)
	assert.NoError(t, store.Ping(context.Background()))

	// no redis address leaves the store uncached
	cached := WithCache(store, cfg)
	assert.NoError(t, cached.SetLastProcessedBlock(context.Background(), 1, 3))
	last, found, err := store.LastProcessedBlock(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, uint64(3), last)
}

func TestOpenStore_Errors(t *testing.T) {
	_, err := OpenStore(config.Config{DBDriver: "postgres"})
	assert.Error(t, err)

	_, err = OpenStore(config.Config{DBDriver: config.DriverSQLite})
	assert.Error(t, err)

	_, err = OpenStateStore(config.Config{DBDriver: config.DriverMySQL})
	assert.Error(t, err)
}

func TestInitLogging_WritesFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	path := filepath.Join(t.TempDir(), "txindex.log")
	closeLog := InitLogging(config.Config{Log: config.LogConfig{Level: "debug"}}, path)
	slog.Debug("rotating log ready")
	closeLog()
	assert.FileExists(t, path)
}
