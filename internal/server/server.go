package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/screenlog/internal/archive"
	"github.com/GriffinCanCode/screenlog/internal/config"
	apperrors "github.com/GriffinCanCode/screenlog/internal/errors"
	"github.com/GriffinCanCode/screenlog/internal/orchestrator"
	"github.com/GriffinCanCode/screenlog/internal/orchestrator/activity"
	"github.com/GriffinCanCode/screenlog/internal/orchestrator/capture"
	"github.com/GriffinCanCode/screenlog/internal/store"
	"github.com/GriffinCanCode/screenlog/internal/trace"
)

// Controller is what the server drives. *orchestrator.Manager implements it.
type Controller interface {
	Start(ctx context.Context, intervalSeconds int, theme string) error
	Stop() error
	CaptureOnce(ctx context.Context, theme string) (capture.Outcome, error)
	Status() capture.Status
	ExtractText(ctx context.Context, path string) (orchestrator.Extraction, error)
	Reextract(ctx context.Context, id int64) error
	IsOCRAvailable(ctx context.Context) bool
	OCRStrategies() []string
	Statistics(ctx context.Context) (store.Statistics, error)
	Search(ctx context.Context, q store.Query) ([]store.Capture, error)
	Themes(ctx context.Context) ([]store.Theme, error)
	Cleanup(ctx context.Context) (orchestrator.CleanupReport, error)
	Settings() config.Settings
	UpdateSettings(s config.Settings) (config.Settings, error)
	Events() <-chan activity.Event
	Recent(n int) []activity.Event
}

// Request bodies.
type StartRequest struct {
	IntervalSeconds int    `json:"intervalSeconds"`
	Theme           string `json:"theme"`
}

type CaptureOnceRequest struct {
	Theme string `json:"theme"`
}

type ExtractRequest struct {
	Path string `json:"path"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	capture.Status
	OCRAvailable  bool     `json:"ocrAvailable"`
	OCRStrategies []string `json:"ocrStrategies"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	TraceID string `json:"traceId,omitempty"`
}

// WebSocket messages.
type Message struct {
	Type string `json:"type"`
}

type EventMessage struct {
	Type  string         `json:"type"`
	Event activity.Event `json:"event"`
}

type StatusMessage struct {
	Type   string         `json:"type"`
	Status capture.Status `json:"status"`
}

type RateLimitedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctl     Controller
	origins []string
	mu      sync.RWMutex
	conns   map[*websocket.Conn]*rateLimiter
}

// New creates a server. Call Broadcast to fan activity out to WebSocket
// clients.
func New(ctl Controller) *Server {
	return &Server{
		ctl:   ctl,
		conns: make(map[*websocket.Conn]*rateLimiter),
	}
}

// WithOrigins sets the host patterns (path.Match syntax, e.g.
// "localhost:*") allowed to call the API from a browser. Without it only
// same-origin requests are served.
func (s *Server) WithOrigins(patterns ...string) *Server {
	s.origins = patterns
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/capture/start", s.handleStart)
	mux.HandleFunc("POST /api/capture/stop", s.handleStop)
	mux.HandleFunc("POST /api/capture/once", s.handleCaptureOnce)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("POST /api/ocr/extract", s.handleExtract)
	mux.HandleFunc("GET /api/ocr/available", s.handleOCRAvailable)
	mux.HandleFunc("GET /api/captures", s.handleCaptures)
	mux.HandleFunc("POST /api/captures/{id}/ocr", s.handleReextract)
	mux.HandleFunc("GET /api/themes", s.handleThemes)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/cleanup", s.handleCleanup)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)

	// Apply middleware: trace -> CORS
	return corsMiddleware(s.origins, trace.Middleware(mux))
}

// corsMiddleware rejects requests whose Origin matches neither the request
// host nor one of patterns, and echoes allowed origins back.
func corsMiddleware(patterns []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if !originAllowed(r, origin, patterns) {
				writeError(w, r, apperrors.Newf(apperrors.Forbidden, "origin %s not allowed", origin))
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+trace.TraceIDKey+", "+trace.SpanIDKey)
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func originAllowed(r *http.Request, origin string, patterns []string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	host := strings.ToLower(u.Host)
	for _, p := range patterns {
		if ok, _ := path.Match(strings.ToLower(p), host); ok {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := apperrors.Unknown
	if ae, ok := apperrors.As(err); ok {
		status = ae.HTTPStatus()
		code = ae.Code
	}
	tc, _ := trace.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		trace.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "code", code, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: string(code), TraceID: tc.TraceID})
}

// decodeBody reads an optional JSON body into v. An empty body leaves v as is.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.Wrap(err, apperrors.InvalidArgument, "invalid request body")
	}
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ctl.Start(r.Context(), req.IntervalSeconds, req.Theme); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Stop(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleCaptureOnce(w http.ResponseWriter, r *http.Request) {
	var req CaptureOnceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	out, err := s.ctl.CaptureOnce(r.Context(), req.Theme)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        s.ctl.Status(),
		OCRAvailable:  s.ctl.IsOCRAvailable(r.Context()),
		OCRStrategies: s.ctl.OCRStrategies(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ctl.Statistics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.ctl.ExtractText(r.Context(), req.Path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleOCRAvailable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"available":  s.ctl.IsOCRAvailable(r.Context()),
		"strategies": s.ctl.OCRStrategies(),
	})
}

func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	captures, err := s.ctl.Search(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if captures == nil {
		captures = []store.Capture{}
	}
	writeJSON(w, http.StatusOK, captures)
}

// parseQuery reads q, theme, date, from, to and limit. date (YYYY-MM-DD)
// selects one whole local day; from and to take the same format or RFC 3339.
func parseQuery(r *http.Request) (store.Query, error) {
	v := r.URL.Query()
	q := store.Query{Text: v.Get("q"), Theme: v.Get("theme")}

	if d := v.Get("date"); d != "" {
		day, err := time.ParseInLocation(archive.DayFormat, d, time.Local)
		if err != nil {
			return q, apperrors.Newf(apperrors.InvalidArgument, "invalid date %q", d)
		}
		q.From, q.To = day, day.AddDate(0, 0, 1)
	}
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &q.From}, {"to", &q.To}} {
		raw := v.Get(p.key)
		if raw == "" {
			continue
		}
		t, err := parseTime(raw)
		if err != nil {
			return q, apperrors.Newf(apperrors.InvalidArgument, "invalid %s %q", p.key, raw)
		}
		*p.dst = t
	}
	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return q, apperrors.Newf(apperrors.InvalidArgument, "invalid limit %q", l)
		}
		q.Limit = n
	}
	return q, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(archive.DayFormat, s, time.Local)
}

func (s *Server) handleReextract(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, apperrors.Newf(apperrors.InvalidArgument, "invalid capture id %q", r.PathValue("id")))
		return
	}
	if err := s.ctl.Reextract(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": "queued"})
}

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	themes, err := s.ctl.Themes(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if themes == nil {
		themes = []store.Theme{}
	}
	writeJSON(w, http.StatusOK, themes)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	n := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, _ = strconv.Atoi(l)
	}
	events := s.ctl.Recent(n)
	if events == nil {
		events = []activity.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	report, err := s.ctl.Cleanup(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Settings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	// Start from the current values so partial bodies only touch what they name.
	next := s.ctl.Settings()
	if err := decodeBody(r, &next); err != nil {
		writeError(w, r, err)
		return
	}
	stored, err := s.ctl.UpdateSettings(next)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	rl := &rateLimiter{}
	s.mu.Lock()
	s.conns[conn] = rl
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	s.write(baseCtx, conn, StatusMessage{Type: "status", Status: s.ctl.Status()})
	for _, ev := range s.ctl.Recent(WSBacklogEvents) {
		s.write(baseCtx, conn, EventMessage{Type: "event", Event: ev})
	}

	for {
		var msg Message
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			s.write(baseCtx, conn, RateLimitedMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		switch msg.Type {
		case "status":
			s.write(baseCtx, conn, StatusMessage{Type: "status", Status: s.ctl.Status()})
		case "ping":
			s.write(baseCtx, conn, Message{Type: "pong"})
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, v any) {
	ctx, cancel := context.WithTimeout(ctx, WSWriteTimeout)
	defer cancel()
	_ = wsjson.Write(ctx, conn, v)
}

// Broadcast forwards activity events to every connected client until ctx is
// done.
func (s *Server) Broadcast(ctx context.Context) error {
	events := s.ctl.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			msg := EventMessage{Type: "event", Event: ev}

			s.mu.RLock()
			for conn := range s.conns {
				go s.write(context.Background(), conn, msg)
			}
			s.mu.RUnlock()
		}
	}
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
