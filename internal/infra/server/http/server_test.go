package httpserver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bridge"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
	"github.com/coachpo/eventframe/internal/infra/config"
	"github.com/coachpo/eventframe/internal/infra/logging"
)

type fixture struct {
	bus     *eventbus.MemoryBus
	bridge  *bridge.Bridge
	handler http.Handler
}

func newFixture(t *testing.T, history config.HistoryConfig) *fixture {
	t.Helper()
	bus := eventbus.NewMemoryBus(eventbus.Config{MaxHistory: 10}, eventbus.WithLogger(logging.Nop()))
	b, err := bridge.New(bus, nil, bridge.Config{Policies: bridge.DefaultPolicies()}, bridge.WithLogger(logging.Nop()))
	require.NoError(t, err)
	nop := logging.Nop()
	h := NewHandler(Options{Bus: bus, Dispatcher: b, Bridge: b, History: history, Logger: &nop})
	return &fixture{bus: bus, bridge: b, handler: h}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestEmitEvent(t *testing.T) {
	f := newFixture(t, config.HistoryConfig{})
	_, err := f.bus.On("user.created", func(context.Context, *schema.Event) (schema.Result, error) {
		return schema.NewReply("welcome sent"), nil
	}, eventbus.WithName("welcome"))
	require.NoError(t, err)

	rec, body := f.do(t, http.MethodPost, "/api/events", map[string]any{"name": "user.created", "data": map[string]any{"id": 1}, "scope": "local"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["listenersExecuted"])
	assert.Equal(t, []any{"welcome sent"}, body["results"])
	assert.Equal(t, "local", body["scope"])
	event := body["event"].(map[string]any)
	assert.Equal(t, "user.created", event["name"])
	assert.NotEmpty(t, event["timestamp"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestEmitEventErrors(t *testing.T) {
	f := newFixture(t, config.HistoryConfig{})

	rec, body := f.do(t, http.MethodPost, "/api/events", `{"data":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", body["status"])

	rec, _ = f.do(t, http.MethodPost, "/api/events", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/events", map[string]any{"name": "x", "scope": "nowhere"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.bus.Use("reject", func(_ context.Context, evt *schema.Event) (*schema.Event, error) {
		if strings.HasPrefix(evt.Name, "bad.") {
			return nil, assert.AnError
		}
		return evt, nil
	})
	rec, _ = f.do(t, http.MethodPost, "/api/events", map[string]any{"name": "bad.thing"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHistoryLimitsAndClear(t *testing.T) {
	f := newFixture(t, config.HistoryConfig{DefaultLimit: 2, MaxLimit: 3})
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d"} {
		_, err := f.bus.Publish(ctx, name, nil)
		require.NoError(t, err)
	}

	rec, body := f.do(t, http.MethodGet, "/api/events/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), body["total"])
	assert.Equal(t, []string{"c", "d"}, frameNames(body["events"]))

	_, body = f.do(t, http.MethodGet, "/api/events/history?limit=50", nil)
	assert.Equal(t, []string{"b", "c", "d"}, frameNames(body["events"]))

	rec, _ = f.do(t, http.MethodGet, "/api/events/history?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = f.do(t, http.MethodPost, "/api/events/clear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	_, body = f.do(t, http.MethodGet, "/api/events/history", nil)
	assert.Equal(t, float64(0), body["total"])
}

func frameNames(raw any) []string {
	list, _ := raw.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, item.(map[string]any)["name"].(string))
	}
	return out
}

func TestListenersAndHealth(t *testing.T) {
	f := newFixture(t, config.HistoryConfig{})
	noop := func(context.Context, *schema.Event) (schema.Result, error) { return schema.Done, nil }
	_, err := f.bus.On("user.created", noop, eventbus.WithName("audit"), eventbus.WithPriority(5))
	require.NoError(t, err)
	_, err = f.bus.On("*", noop, eventbus.WithName("logger"), eventbus.WithPriority(100))
	require.NoError(t, err)

	rec, body := f.do(t, http.MethodGet, "/api/listeners", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["wildcardListeners"])
	listeners := body["listeners"].(map[string]any)
	audit := listeners["user.created"].([]any)[0].(map[string]any)
	assert.Equal(t, "audit", audit["name"])
	assert.Equal(t, float64(5), audit["priority"])

	rec, body = f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "disconnected", body["bridge"])
	system := body["eventSystem"].(map[string]any)
	assert.Equal(t, float64(2), system["listenersCount"])
	assert.Equal(t, []any{"*", "user.created"}, system["eventTypes"])
}

func TestBridgeStatus(t *testing.T) {
	f := newFixture(t, config.HistoryConfig{})
	rec, body := f.do(t, http.MethodGet, "/api/bridge/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "service", body["role"])
	assert.Equal(t, "disconnected", body["state"])
	assert.NotContains(t, body, "lastError")
}

func TestUnknownRoutes(t *testing.T) {
	f := newFixture(t, config.HistoryConfig{})
	rec, _ := f.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = f.do(t, http.MethodDelete, "/api/events", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, config.HistoryConfig{})
	req := httptest.NewRequest(http.MethodOptions, "/api/events", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
