package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idc-core/idc/engine/infra/server/router"
	"github.com/idc-core/idc/engine/publish"
	"github.com/idc-core/idc/pkg/config"
	"github.com/idc-core/idc/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "idc.db")
	cfg.Lock.RetryDelay = 10 * time.Millisecond
	cfg.Lock.RetryJitter = 5 * time.Millisecond
	return cfg
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	return logger.ContextWithLogger(t.Context(), logger.NewForTests())
}

func buildTestServer(t *testing.T, cfg *config.Config) (*Dependencies, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := testContext(t)
	deps, err := BuildDependencies(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { deps.Close(context.WithoutCancel(ctx)) })
	r, err := NewRouter(ctx, deps)
	require.NoError(t, err)
	return deps, r
}

func doRequest(r http.Handler, method, path, clientID, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if clientID != "" {
		req.Header.Set(router.HeaderClientID, clientID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter(t *testing.T) {
	t.Run("Should answer ping", func(t *testing.T) {
		_, r := buildTestServer(t, testConfig(t))
		w := doRequest(r, http.MethodGet, "/ping", "", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "idc-core is alive!", w.Body.String())
	})

	t.Run("Should expose engine metrics after an action runs", func(t *testing.T) {
		_, r := buildTestServer(t, testConfig(t))
		w := doRequest(r, http.MethodPost, "/task", "c1", `{"task_definition": {"function": "success"}}`)
		require.Equal(t, http.StatusOK, w.Code)
		w = doRequest(r, http.MethodGet, "/metrics", "", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Contains(t, body, "idc_action_executions")
		assert.Contains(t, body, "idc_task_executions")
		assert.Contains(t, body, "idc_http_requests")
	})

	t.Run("Should not mount metrics when monitoring is disabled", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Monitoring.Enabled = false
		_, r := buildTestServer(t, cfg)
		w := doRequest(r, http.MethodGet, "/metrics", "", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Should persist documents through the configured store", func(t *testing.T) {
		deps, r := buildTestServer(t, testConfig(t))
		w := doRequest(r, http.MethodPost, "/action", "c1", `{"action_definition": {"tasks_definitions": {
			"make": {"function": "create_document", "params": {"collection_name": "widgets", "payload": {"n": 1}}}
		}}}`)
		require.Equal(t, http.StatusOK, w.Code)
		var state map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
		doc := state["tasks_results"].(map[string]any)["make"].(map[string]any)["document"].(map[string]any)
		id := doc["idc_id"].(string)
		exists, err := deps.Store.Tenant("c1").Exists(testContext(t), "widgets", id)
		require.NoError(t, err)
		assert.True(t, exists)
		other, err := deps.Store.Tenant("c2").Exists(testContext(t), "widgets", id)
		require.NoError(t, err)
		assert.False(t, other)
	})
}

func TestBuildDependencies(t *testing.T) {
	t.Run("Should reject an unknown database driver", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Database.Driver = "oracle"
		_, err := BuildDependencies(testContext(t), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported database driver")
	})

	t.Run("Should publish task results over an embedded JetStream bus", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Bus.Driver = config.BusDriverNATS
		cfg.Bus.NATSURL = NATSURLEmbedded
		cfg.Bus.NATSStoreDir = t.TempDir()
		ctx := testContext(t)
		deps, r := buildTestServer(t, cfg)
		sub, err := deps.Bus.Subscribe(ctx, publish.Topic("c1", ">"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = sub.Close() })

		w := doRequest(r, http.MethodPost, "/task", "c1", `{"task_definition": {"function": "success"}}`)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, deps.Publisher.Flush(ctx))

		select {
		case msg := <-sub.Messages():
			assert.Equal(t, publish.Topic("c1", "success"), msg.Topic)
			var payload map[string]any
			require.NoError(t, json.Unmarshal(msg.Payload, &payload))
			assert.Equal(t, "task", payload["task_name"])
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for published task results")
		}
	})
}
