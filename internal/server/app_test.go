package server

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/server/config"
	"github.com/dmitrijs2005/finkeeper/internal/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.DatabaseDSN = config.DSNMemory
	c.EndpointAddrGRPC = "127.0.0.1:0"
	c.EndpointAddrHTTP = "127.0.0.1:0"
	return c
}

func TestOpenStorage_Memory(t *testing.T) {
	st, err := OpenStorage(context.Background(), memoryConfig())
	require.NoError(t, err)
	assert.IsType(t, &storage.Memory{}, st)
}

func TestOpenStorage_PostgresError(t *testing.T) {
	orig := openPostgres
	defer func() { openPostgres = orig }()
	openPostgres = func(context.Context, string) (storage.Storage, error) { return nil, errors.New("refused") }

	c := memoryConfig()
	c.DatabaseDSN = "postgres://nowhere"
	_, err := OpenStorage(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db init error")
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	var logs bytes.Buffer
	app, err := newApp(context.Background(), memoryConfig(), &logs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Contains(t, logs.String(), "Starting gRPC server")
	assert.Contains(t, logs.String(), "Starting HTTP server")
}

func TestApp_ServerFailureStopsApp(t *testing.T) {
	c := memoryConfig()
	c.EndpointAddrHTTP = "127.0.0.1:99999"

	app, err := newApp(context.Background(), c, &bytes.Buffer{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("a failing server should cancel the others")
	}
}
