// Package httpserver exposes the REST control surface and the bridge websocket endpoint.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/coachpo/eventframe/errs"
	"github.com/coachpo/eventframe/internal/domain/schema"
	"github.com/coachpo/eventframe/internal/infra/bridge"
	"github.com/coachpo/eventframe/internal/infra/bus/eventbus"
	"github.com/coachpo/eventframe/internal/infra/config"
	"github.com/coachpo/eventframe/internal/infra/logging"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	eventsPath       = "/api/events"
	historyPath      = "/api/events/history"
	clearHistoryPath = "/api/events/clear"
	listenersPath    = "/api/listeners"
	healthPath       = "/api/health"
	bridgeStatusPath = "/api/bridge/status"
	socketPath       = "/ws"
)

// Dispatcher emits a request on the local bus and reports the settled result.
type Dispatcher interface {
	Dispatch(ctx context.Context, req schema.EmitRequest) (schema.EmitResponse, error)
}

// StatusSource reports the bridge connection state.
type StatusSource interface {
	Status() bridge.Status
	Config() bridge.Config
}

// Options wires the handler to the running components.
type Options struct {
	Bus            *eventbus.MemoryBus
	Dispatcher     Dispatcher
	Bridge         StatusSource
	Socket         http.Handler
	History        config.HistoryConfig
	AllowedOrigins []string
	Logger         *zerolog.Logger
}

type httpServer struct {
	bus        *eventbus.MemoryBus
	dispatcher Dispatcher
	bridge     StatusSource
	history    config.HistoryConfig
	logger     zerolog.Logger
}

// NewHandler builds the router.
func NewHandler(opts Options) http.Handler {
	server := &httpServer{
		bus:        opts.Bus,
		dispatcher: opts.Dispatcher,
		bridge:     opts.Bridge,
		history:    opts.History,
		logger:     logging.Component("http"),
	}
	if opts.Logger != nil {
		server.logger = *opts.Logger
	}
	if server.history.DefaultLimit <= 0 {
		server.history.DefaultLimit = 50
	}
	if server.history.MaxLimit <= 0 {
		server.history.MaxLimit = eventbus.DefaultMaxHistory
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(requestLogger(server.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length", "Accept-Encoding"},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Post(eventsPath, server.emitEvent)
	r.Get(historyPath, server.getHistory)
	r.Post(clearHistoryPath, server.clearHistory)
	r.Get(listenersPath, server.getListeners)
	r.Get(healthPath, server.getHealth)
	r.Get(bridgeStatusPath, server.getBridgeStatus)
	if opts.Socket != nil {
		r.Handle(socketPath, opts.Socket)
	}
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (s *httpServer) emitEvent(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatcher unavailable")
		return
	}
	req, err := decodeEmitRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *httpServer) getHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.history.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > s.history.MaxLimit {
		limit = s.history.MaxLimit
	}
	events := s.bus.History(limit)
	frames := make([]schema.Frame, 0, len(events))
	for _, evt := range events {
		frames = append(frames, schema.FrameFromEvent(evt))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": frames,
		"total":  len(s.bus.History(0)),
	})
}

func (s *httpServer) clearHistory(w http.ResponseWriter, _ *http.Request) {
	s.bus.ClearHistory()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Event history cleared"})
}

func (s *httpServer) getListeners(w http.ResponseWriter, _ *http.Request) {
	topics := s.bus.Registry().Topics()
	writeJSON(w, http.StatusOK, map[string]any{
		"listeners":         topics,
		"wildcardListeners": len(topics[eventbus.MatchAll]),
	})
}

func (s *httpServer) getHealth(w http.ResponseWriter, _ *http.Request) {
	counts := s.bus.ListenerCounts()
	total := 0
	types := make([]string, 0, len(counts))
	for topic, n := range counts {
		total += n
		types = append(types, topic)
	}
	sort.Strings(types)
	body := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"eventSystem": map[string]any{
			"listenersCount":    total,
			"eventTypes":        types,
			"wildcardListeners": counts[eventbus.MatchAll],
		},
	}
	if s.bridge != nil {
		body["bridge"] = string(s.bridge.Status().State)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *httpServer) getBridgeStatus(w http.ResponseWriter, _ *http.Request) {
	if s.bridge == nil {
		writeError(w, http.StatusNotFound, "bridge not configured")
		return
	}
	st := s.bridge.Status()
	cfg := s.bridge.Config()
	body := map[string]any{
		"role":       cfg.Role,
		"state":      st.State,
		"since":      st.At.Format(time.RFC3339Nano),
		"syncLocal":  cfg.SyncLocal,
		"syncRemote": cfg.SyncRemote,
		"policies":   cfg.Policies,
	}
	if st.Err != nil {
		body["lastError"] = st.Err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func decodeEmitRequest(w http.ResponseWriter, r *http.Request) (schema.EmitRequest, error) {
	defer func() {
		_ = r.Body.Close()
	}()
	var req schema.EmitRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		return req, fmt.Errorf("decode payload: %w", err)
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	return req, nil
}

func statusFor(err error) int {
	switch errs.CodeOf(err) {
	case errs.CodeInvalid, errs.CodeMalformed:
		return http.StatusBadRequest
	case errs.CodeFiltered:
		return http.StatusForbidden
	case errs.CodeMiddleware:
		return http.StatusUnprocessableEntity
	case errs.CodeUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}
