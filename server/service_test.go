package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgantsov/rq/queue"
	"github.com/kgantsov/rq/storage"
)

func TestNew(t *testing.T) {
	httpAddr := "8080"
	broker := newTestBroker()

	service := New(httpAddr, broker)

	assert.NotNil(t, service)
	assert.NotNil(t, service.router)
	assert.NotNil(t, service.api)
	assert.NotNil(t, service.h)
	assert.Equal(t, httpAddr, service.httpAddr)

	tests := []struct {
		description  string
		method       string
		url          string
		expectedCode int
	}{
		{"Healthcheck Middleware", "GET", "/readyz", fiber.StatusOK},
		{"Prometheus Middleware", "GET", "/metrics", fiber.StatusOK},
		{"Monitor Middleware", "GET", "/service/metrics", fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.url, nil)
			resp, err := service.router.Test(req)

			require.NoError(t, err)
			assert.Equal(t, tt.expectedCode, resp.StatusCode)
		})
	}

	// check that the correct headers are set by middlewares
	jsonBody := []byte(`{"data": {"to": "bob@example.com"}}`)
	bodyReader := bytes.NewReader(jsonBody)
	req := httptest.NewRequest("POST", "/API/v1/queues/emails/tasks", bodyReader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := service.router.Test(req)

	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	require.Equal(t, "0", resp.Header.Get(fiber.HeaderXXSSProtection))
	require.Equal(t, "nosniff", resp.Header.Get(fiber.HeaderXContentTypeOptions))
	require.Equal(t, "SAMEORIGIN", resp.Header.Get(fiber.HeaderXFrameOptions))
	require.Equal(t, "", resp.Header.Get(fiber.HeaderContentSecurityPolicy))
	require.Equal(t, "no-referrer", resp.Header.Get(fiber.HeaderReferrerPolicy))
	require.Equal(t, "", resp.Header.Get(fiber.HeaderPermissionsPolicy))
	require.Equal(t, "require-corp", resp.Header.Get("Cross-Origin-Embedder-Policy"))
	require.Equal(t, "same-origin", resp.Header.Get("Cross-Origin-Opener-Policy"))
	require.Equal(t, "same-origin", resp.Header.Get("Cross-Origin-Resource-Policy"))
	require.Equal(t, "?1", resp.Header.Get("Origin-Agent-Cluster"))
	require.Equal(t, "off", resp.Header.Get("X-DNS-Prefetch-Control"))
	require.Equal(t, "noopen", resp.Header.Get("X-Download-Options"))
	require.Equal(t, "none", resp.Header.Get("X-Permitted-Cross-Domain-Policies"))
	require.NotEqual(t, "", resp.Header.Get("X-Request-Id"))
}

func TestEnqueue(t *testing.T) {
	_, api := humatest.New(t)

	broker := newTestBroker()

	h := &Handler{
		broker: broker,
	}
	h.RegisterRoutes(api)

	type SuccessOutput struct {
		ID    int64  `json:"id"`
		Queue string `json:"queue"`
	}
	type ErrorOutput struct {
		Title  string `json:"title"`
		Status int    `json:"status"`
		Detail string `json:"detail"`
	}

	resp := api.Post("/API/v1/queues/emails/tasks", map[string]any{
		"data": map[string]any{"to": "bob@example.com", "subject": "hello"},
	})

	successOutput := &SuccessOutput{}

	json.Unmarshal(resp.Body.Bytes(), successOutput)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(1), successOutput.ID)
	assert.Equal(t, "emails", successOutput.Queue)

	resp = api.Post("/API/v1/queues/emails/tasks", map[string]any{
		"data": map[string]any{"to": "alice@example.com"},
	})

	successOutput = &SuccessOutput{}

	json.Unmarshal(resp.Body.Bytes(), successOutput)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(2), successOutput.ID)

	// ids are scoped per queue
	resp = api.Post("/API/v1/queues/reports/tasks", map[string]any{
		"data": map[string]any{"month": "2024-01"},
	})

	successOutput = &SuccessOutput{}

	json.Unmarshal(resp.Body.Bytes(), successOutput)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(1), successOutput.ID)
	assert.Equal(t, "reports", successOutput.Queue)

	resp = api.Post("/API/v1/queues/emails/tasks", map[string]any{
		"data": map[string]any{},
	})

	errorOutput := &ErrorOutput{}

	json.Unmarshal(resp.Body.Bytes(), errorOutput)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Bad Request", errorOutput.Title)
	assert.Equal(t, 400, errorOutput.Status)
	assert.Equal(t, "Failed to enqueue a task", errorOutput.Detail)
}

// TestEnqueueStoreError tests the enqueue endpoint when the store is down.
func TestEnqueueStoreError(t *testing.T) {
	_, api := humatest.New(t)

	broker := newTestBroker()
	broker.err = errors.New("connection refused")

	h := &Handler{
		broker: broker,
	}
	h.RegisterRoutes(api)

	type ErrorOutput struct {
		Title  string `json:"title"`
		Status int    `json:"status"`
		Detail string `json:"detail"`
	}

	resp := api.Post("/API/v1/queues/emails/tasks", map[string]any{
		"data": map[string]any{"to": "bob@example.com"},
	})

	errorOutput := &ErrorOutput{}

	json.Unmarshal(resp.Body.Bytes(), errorOutput)

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "Internal Server Error", errorOutput.Title)
	assert.Equal(t, 500, errorOutput.Status)
	assert.Equal(t, "Failed to enqueue a task", errorOutput.Detail)
}

func TestGetTask(t *testing.T) {
	_, api := humatest.New(t)

	broker := newTestBroker()

	h := &Handler{
		broker: broker,
	}
	h.RegisterRoutes(api)

	type SuccessOutput struct {
		ID    int64             `json:"id"`
		Queue string            `json:"queue"`
		Data  map[string]string `json:"data"`
	}
	type ErrorOutput struct {
		Title  string `json:"title"`
		Status int    `json:"status"`
		Detail string `json:"detail"`
	}

	resp := api.Post("/API/v1/queues/emails/tasks", map[string]any{
		"data": map[string]any{"to": "bob@example.com", "subject": "hello"},
	})

	assert.Equal(t, http.StatusOK, resp.Code)

	resp = api.Get("/API/v1/queues/emails/tasks/1")

	successOutput := &SuccessOutput{}

	json.Unmarshal(resp.Body.Bytes(), successOutput)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(1), successOutput.ID)
	assert.Equal(t, "emails", successOutput.Queue)
	assert.Equal(t, map[string]string{"to": "bob@example.com", "subject": "hello"}, successOutput.Data)

	resp = api.Get("/API/v1/queues/emails/tasks/42")

	errorOutput := &ErrorOutput{}

	json.Unmarshal(resp.Body.Bytes(), errorOutput)

	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "Not Found", errorOutput.Title)
	assert.Equal(t, 404, errorOutput.Status)
	assert.Equal(t, "Task not found", errorOutput.Detail)
}

func TestStats(t *testing.T) {
	_, api := humatest.New(t)

	broker := newTestBroker()

	h := &Handler{
		broker: broker,
	}
	h.RegisterRoutes(api)

	type SuccessOutput struct {
		Queue   string `json:"queue"`
		Waiting int64  `json:"waiting"`
		Working int64  `json:"working"`
	}

	resp := api.Get("/API/v1/queues/emails/stats")

	successOutput := &SuccessOutput{}

	json.Unmarshal(resp.Body.Bytes(), successOutput)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "emails", successOutput.Queue)
	assert.Equal(t, int64(0), successOutput.Waiting)
	assert.Equal(t, int64(0), successOutput.Working)

	for i := 0; i < 3; i++ {
		resp = api.Post("/API/v1/queues/emails/tasks", map[string]any{
			"data": map[string]any{"to": "bob@example.com"},
		})
		assert.Equal(t, http.StatusOK, resp.Code)
	}

	resp = api.Get("/API/v1/queues/emails/stats")

	successOutput = &SuccessOutput{}

	json.Unmarshal(resp.Body.Bytes(), successOutput)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(3), successOutput.Waiting)
	assert.Equal(t, int64(0), successOutput.Working)
}

type testBroker struct {
	mu      sync.Mutex
	ids     map[string]int64
	records map[string]map[string]string
	waiting map[string]int64
	err     error
}

func newTestBroker() *testBroker {
	return &testBroker{
		ids:     make(map[string]int64),
		records: make(map[string]map[string]string),
		waiting: make(map[string]int64),
	}
}

func (b *testBroker) Enqueue(ctx context.Context, name string, data map[string]string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return 0, b.err
	}
	if len(data) == 0 {
		return 0, queue.ErrEmptyData
	}

	b.ids[name]++
	id := b.ids[name]
	b.records[fmt.Sprintf("%s:%d", name, id)] = data
	b.waiting[name]++

	return id, nil
}

func (b *testBroker) Stats(ctx context.Context, name string) (queue.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return queue.Stats{}, b.err
	}

	return queue.Stats{Queue: name, Waiting: b.waiting[name]}, nil
}

func (b *testBroker) TaskData(ctx context.Context, name string, id int64) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return nil, b.err
	}

	data, ok := b.records[fmt.Sprintf("%s:%d", name, id)]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return data, nil
}
