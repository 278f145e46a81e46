package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/outflow/outflow/pkg/config"
	"github.com/outflow/outflow/pkg/importer"
	"github.com/outflow/outflow/pkg/metrics"
	"github.com/outflow/outflow/pkg/models"
	"github.com/outflow/outflow/pkg/persistence/memory"
	"github.com/outflow/outflow/pkg/services"
	"github.com/outflow/outflow/pkg/traversal"
	"github.com/outflow/outflow/pkg/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const flowDocument = `{
  "id": "welcome",
  "name": "Welcome",
  "start_node_id": "A",
  "nodes": [
    {"id": "A", "type": "stage", "channel": "email", "content": "Hi {{.Name}}"}
  ]
}`

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := memory.NewPersistence()
	cfg := config.Default()
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	advancer := traversal.NewAdvancer(ledger, logger, traversal.WithMetrics(collector))
	executions := services.NewExecutions(ledger, traversal.NewGraphCache(ledger.FlowRepository()), advancer, cfg.Costs, logger)
	flows := services.NewFlows(ledger, logger)
	imports := services.NewImports(ledger, importer.NewPipeline(ledger, cfg.Import, collector, nil, logger))

	handlers := web.NewAPIHandlers(executions, flows, imports, validator.New(validator.WithRequiredStructEnabled()))

	return web.NewApp(handlers, registry, true)
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch value := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(value)
	default:
		payload, err := json.Marshal(value)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func TestExecutionLifecycle(t *testing.T) {
	app := setupTestApp(t)

	status, _ := do(t, app, http.MethodPut, "/flows/welcome", flowDocument)
	require.Equal(t, http.StatusCreated, status)

	status, _ = do(t, app, http.MethodPut, "/flows/welcome", flowDocument)
	assert.Equal(t, http.StatusConflict, status)

	status, body := do(t, app, http.MethodPost, "/executions", web.LaunchRequest{
		FlowID:      "welcome",
		ProspectIDs: []string{"p1", "p2"},
		Origin:      "test",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var execution models.Execution
	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)

	status, body = do(t, app, http.MethodPost, "/executions/"+execution.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, models.ExecutionStatusPaused, execution.Status)

	status, _ = do(t, app, http.MethodPost, "/executions/"+execution.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, body = do(t, app, http.MethodPost, "/executions/"+execution.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, models.ExecutionStatusInProgress, execution.Status)

	status, body = do(t, app, http.MethodGet, "/executions?flow_id=welcome", nil)
	require.Equal(t, http.StatusOK, status)

	var list web.ExecutionListResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Executions, 1)

	status, body = do(t, app, http.MethodGet, "/executions/"+execution.ID+"/stages", nil)
	require.Equal(t, http.StatusOK, status)

	var stages web.StagesResponse
	require.NoError(t, json.Unmarshal(body, &stages))
	assert.Equal(t, execution.ID, stages.ExecutionID)
}

func TestErrorMapping(t *testing.T) {
	app := setupTestApp(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"invalid JSON", http.MethodPost, "/executions", "invalid-json", http.StatusBadRequest},
		{"missing prospects", http.MethodPost, "/executions", web.LaunchRequest{FlowID: "x"}, http.StatusBadRequest},
		{"unknown flow", http.MethodPost, "/executions", web.LaunchRequest{FlowID: "x", ProspectIDs: []string{"p1"}}, http.StatusNotFound},
		{"unknown execution", http.MethodGet, "/executions/nope", nil, http.StatusNotFound},
		{"unknown import", http.MethodGet, "/imports/nope", nil, http.StatusNotFound},
		{"bad limit", http.MethodGet, "/executions?limit=many", nil, http.StatusBadRequest},
		{"unknown status", http.MethodGet, "/executions?status=sleeping", nil, http.StatusBadRequest},
		{"invalid flow", http.MethodPut, "/flows/bad", `{"id":"bad","start_node_id":"A","nodes":[]}`, http.StatusBadRequest},
		{"import without path", http.MethodPost, "/imports", web.ImportRequest{}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, app, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status, string(body))
		})
	}
}

func TestImportEndpoints(t *testing.T) {
	app := setupTestApp(t)

	path := filepath.Join(t.TempDir(), "prospects.csv")
	require.NoError(t, os.WriteFile(path, []byte("name;email\nAna;ana@example.com\nBruno;bruno@example.com\n"), 0o600))

	status, body := do(t, app, http.MethodPost, "/imports", web.ImportRequest{Path: path})
	require.Equal(t, http.StatusCreated, status, string(body))

	var record models.ImportRecord
	require.NoError(t, json.Unmarshal(body, &record))
	require.NotNil(t, record.Result)
	assert.Equal(t, 2, record.Result.Succeeded)

	status, _ = do(t, app, http.MethodGet, "/imports/"+record.ID, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = do(t, app, http.MethodPost, "/imports/"+record.ID+"/resume", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestHealthAndMetrics(t *testing.T) {
	app := setupTestApp(t)

	status, body := do(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "healthy")

	path := filepath.Join(t.TempDir(), "prospects.csv")
	require.NoError(t, os.WriteFile(path, []byte("name\nAna\n"), 0o600))
	status, _ = do(t, app, http.MethodPost, "/imports", web.ImportRequest{Path: path})
	require.Equal(t, http.StatusCreated, status)

	status, body = do(t, app, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "outflow_")
}
