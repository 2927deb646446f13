package main

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"txindex/internal/bootstrap"
	"txindex/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeSpy struct {
	bootstrap.Store
	closed bool
}

func (c *closeSpy) Close() error {
	c.closed = true
	return c.Store.Close()
}

func TestRun_ClosesStateStoreWhenPublisherFails(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	dir := t.TempDir()
	cfg := config.Config{
		RPCURL:     "http://127.0.0.1:8545",
		DBDriver:   config.DriverSQLite,
		SQLitePath: filepath.Join(dir, "state.db"),
		Log:        config.LogConfig{Level: "error", File: filepath.Join(dir, "mapper.log")},
	}

	var spy *closeSpy
	restoreStore, restorePublisher := openStateStore, newPublisher
	t.Cleanup(func() { openStateStore, newPublisher = restoreStore, restorePublisher })
	openStateStore = func(cfg config.Config) (bootstrap.Store, error) {
		store, err := bootstrap.OpenStateStore(cfg)
		if err != nil {
			return nil, err
		}
		spy = &closeSpy{Store: store}
		return spy, nil
	}
	errBroker := errors.New("broker unreachable")
	newPublisher = func(config.Config) (publisher, error) { return nil, errBroker }

	err := run(cfg)
	require.ErrorIs(t, err, errBroker)
	require.NotNil(t, spy)
	assert.True(t, spy.closed)
}

func TestRun_RequiresRPC(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	err := run(config.Config{Log: config.LogConfig{File: filepath.Join(t.TempDir(), "mapper.log")}})
	assert.ErrorIs(t, err, config.ErrRPCURLRequired)
}
