package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/outflow/outflow/pkg/cmd"
	"github.com/outflow/outflow/pkg/config"
	"github.com/outflow/outflow/pkg/otelhelper"
	"github.com/outflow/outflow/pkg/persistence/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIApp(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := cmd.NewEngine(config.Default(), memory.NewPersistence(), nil, logger)

	app := NewAPI(logger, engine, otelhelper.NoopTracer()).App()

	tests := []struct {
		path   string
		status int
	}{
		{"/health", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/flows", http.StatusOK},
		{"/executions/missing", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
