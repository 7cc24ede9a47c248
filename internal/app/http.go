package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cebarrett/todo/internal/logging"
	"github.com/charmbracelet/log"
	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
)

type HTTPConfig struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	Logger         *log.Logger
}

type HTTPServer struct {
	service        *Service
	corsOrigins    map[string]struct{}
	requestTimeout time.Duration
	logger         *log.Logger
	validator      *bodyValidator
}

func NewHTTPServer(service *Service, cfg HTTPConfig) (*HTTPServer, error) {
	validator, err := newBodyValidator()
	if err != nil {
		return nil, err
	}
	origins := make(map[string]struct{}, len(cfg.CORSOrigins))
	for _, origin := range cfg.CORSOrigins {
		if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
			origins[origin] = struct{}{}
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &HTTPServer{
		service:        service,
		corsOrigins:    origins,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger,
		validator:      validator,
	}, nil
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Methods(http.MethodGet, http.MethodHead).Path("/api/health").HandlerFunc(s.handleHealth)
	r.Methods(http.MethodGet, http.MethodHead).Path("/api/ready").HandlerFunc(s.handleReady)

	r.Methods(http.MethodGet).Path("/api/todos/search").HandlerFunc(s.authed(s.handleSearch))
	r.Methods(http.MethodPut).Path("/api/todos/order").HandlerFunc(s.authed(s.handleReorder))
	r.Methods(http.MethodGet).Path("/api/todos").HandlerFunc(s.authed(s.handleList))
	r.Methods(http.MethodPost).Path("/api/todos").HandlerFunc(s.authed(s.handleCreate))
	r.Methods(http.MethodPatch).Path("/api/todos/{id}").HandlerFunc(s.authed(s.handleUpdate))
	r.Methods(http.MethodDelete).Path("/api/todos/{id}").HandlerFunc(s.authed(s.handleDelete))
	r.Methods(http.MethodPost).Path("/api/todos/{id}/move").HandlerFunc(s.authed(s.handleMove))
	r.Methods(http.MethodPost).Path("/api/rpc").HandlerFunc(s.authed(s.handleRPC))

	return s.withMiddleware(r)
}

type principalHandler func(w http.ResponseWriter, r *http.Request, p Principal)

// authed verifies the bearer token before the handler can reach the service.
func (s *HTTPServer) authed(next principalHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := s.requirePrincipal(w, r)
		if !ok {
			return
		}
		next(w, r, principal)
	}
}

func (s *HTTPServer) requirePrincipal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	token := bearerToken(r)
	if token == "" {
		s.fail(w, r, errUnauthorized)
		return Principal{}, false
	}
	principal, err := s.service.Authenticate(token)
	if err != nil {
		s.fail(w, r, err)
		return Principal{}, false
	}
	return principal, true
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "err", err)
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request, p Principal) {
	items, err := s.service.List(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request, p Principal) {
	var body struct {
		Text string `json:"text"`
	}
	if err := s.validator.decode(r, schemaCreate, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(key) > 255 {
		s.fail(w, r, invalid("Idempotency-Key must be at most 255 characters"))
		return
	}
	item, replayed, err := s.service.Create(r.Context(), p, body.Text, key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		status = http.StatusOK
	}
	writeJSON(w, status, item)
}

func (s *HTTPServer) handleUpdate(w http.ResponseWriter, r *http.Request, p Principal) {
	var body struct {
		Text      *string `json:"text"`
		Completed *bool   `json:"completed"`
	}
	if err := s.validator.decode(r, schemaUpdate, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	input := UpdateInput{Text: body.Text, Completed: body.Completed}
	if raw := strings.TrimSpace(r.Header.Get("If-Unmodified-Since")); raw != "" {
		since, err := parseTimestamp(raw)
		if err != nil {
			s.fail(w, r, domainError(http.StatusBadRequest, "INVALID_HEADER", "If-Unmodified-Since must be an RFC 3339 timestamp", nil))
			return
		}
		input.UnmodifiedSince = since
	}
	item, err := s.service.Update(r.Context(), p, mux.Vars(r)["id"], input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request, p Principal) {
	if err := s.service.Delete(r.Context(), p, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleReorder(w http.ResponseWriter, r *http.Request, p Principal) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := s.validator.decode(r, schemaReorder, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.service.Reorder(r.Context(), p, body.IDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleMove(w http.ResponseWriter, r *http.Request, p Principal) {
	var body struct {
		Direction string `json:"direction"`
	}
	if err := s.validator.decode(r, schemaMove, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.service.Move(r.Context(), p, mux.Vars(r)["id"], body.Direction)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, p Principal) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, invalid("limit must be a number"))
			return
		}
		limit = parsed
	}
	resp, err := s.service.Search(r.Context(), p, r.URL.Query().Get("q"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// fail writes the mapped error. Errors outside the taxonomy are logged with
// their detail; the caller only sees a generic message.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if isInternal(err) {
		s.logger.Error("request failed", "request_id", requestID(r.Context()), "method", r.Method, "path", r.URL.Path, "err", err)
	} else if status == http.StatusServiceUnavailable {
		s.logger.Warn("request unavailable", "request_id", requestID(r.Context()), "path", r.URL.Path, "err", err)
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		if s.requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
			defer cancel()
		}
		r = r.WithContext(ctx)

		s.setCORSHeaders(w.Header(), r.Header.Get("Origin"))
		w.Header().Set("X-Request-ID", requestID)
		w.Header().Set("Cache-Control", "no-store")

		metrics := httpsnoop.CaptureMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		}), w, r)

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", metrics.Code,
			"duration_ms", metrics.Duration.Milliseconds(),
			"bytes", metrics.Written,
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// setCORSHeaders grants credentials only to allow-listed origins. Anyone else
// gets no Access-Control-Allow-* headers at all.
func (s *HTTPServer) setCORSHeaders(header http.Header, origin string) {
	if origin == "" {
		return
	}
	header.Add("Vary", "Origin")
	if _, ok := s.corsOrigins[origin]; !ok {
		return
	}
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Credentials", "true")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Idempotency-Key, If-Unmodified-Since")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Access-Control-Max-Age", "600")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func parseTimestamp(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}
