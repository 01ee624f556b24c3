// Package server is the HTTP + WebSocket API surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/raysh454/siteaudit/docs/swagger" // registers the OpenAPI document
	"github.com/raysh454/siteaudit/internal/app"
	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/model"
	"github.com/raysh454/siteaudit/internal/report"
	"github.com/raysh454/siteaudit/internal/store"
	"github.com/raysh454/siteaudit/internal/stream"
)

// UserHeader carries the caller's user id. Authentication happens upstream.
const UserHeader = "X-User-ID"

// Server routes requests to the Application.
type Server struct {
	cfg      app.ServerConfig
	app      *app.Application
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func New(a *app.Application) *Server {
	s := &Server{
		cfg:    a.Config.Server,
		app:    a,
		router: chi.NewRouter(),
		logger: a.Logger.With(logging.F("component", "server")),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)

	r.Get("/healthz", s.handleHealth)

	r.Post("/analyze", s.handleAnalyze)
	r.Get("/ws/analyze", s.handleAnalyzeWS)

	r.Post("/tasks", s.handleCreateTask)
	r.Get("/tasks/{taskID}", s.handleGetTask)
	r.Delete("/tasks/{taskID}", s.handleCancelTask)
	r.Get("/ws/tasks/{taskID}", s.handleTaskWS)

	r.Post("/monitors", s.handleCreateMonitor)
	r.Get("/monitors", s.handleListMonitors)
	r.Delete("/monitors/{monitorID}", s.handleDeleteMonitor)

	r.Get("/audits", s.handleListAudits)
	r.Get("/audits/{auditID}", s.handleGetAudit)
	r.Get("/audits/{auditID}/diff", s.handleAuditDiff)

	if mc := s.app.Config.Metrics; mc.Enabled {
		r.Method(http.MethodGet, mc.Path, s.app.Metrics.Handler())
	}
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+UserHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.router.ServeHTTP(w, r)
	s.logger.Info("http_request",
		logging.F("method", r.Method),
		logging.F("path", r.URL.Path),
		logging.F("duration", time.Since(start).String()))
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

// requireUser resolves the caller to a stored user or writes 401.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	id := userID(r)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
		return nil, false
	}
	u, err := s.app.Store.GetUser(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return nil, false
	}
	if err != nil {
		s.logger.Warn("looking up user", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "user lookup failed")
		return nil, false
	}
	return u, true
}

// --- HTTP handlers ---

// handleHealth reports liveness and database reachability.
//
//	@Summary	Health check
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Failure	503	{object}	HealthResponse
//	@Router		/healthz [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.app.Store.DB().PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Timestamp: time.Now().UTC()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

// Scans

// scanRequests validates body and resolves the caller's features.
func (s *Server) scanRequests(r *http.Request, body AnalyzeRequest) (target model.ScanRequest, competitor *model.ScanRequest, err error) {
	if err := model.ValidateTargetURL(body.URL); err != nil {
		return target, nil, err
	}
	if body.CompetitorURL != "" {
		if err := model.ValidateTargetURL(body.CompetitorURL); err != nil {
			return target, nil, err
		}
	}
	lang := body.Lang
	if lang == "" {
		lang = "en"
	}
	allowed := s.app.Gate.Allowed(s.app.PlanFor(r.Context(), userID(r)))
	target = model.ScanRequest{URL: body.URL, Language: lang, Allowed: allowed}
	if body.CompetitorURL != "" {
		competitor = &model.ScanRequest{URL: body.CompetitorURL, Language: lang, Allowed: allowed}
	}
	return target, competitor, nil
}

func (s *Server) events(ctx context.Context, r *http.Request, target model.ScanRequest, competitor *model.ScanRequest) <-chan model.Event {
	if competitor != nil {
		return s.app.RunBattle(ctx, userID(r), target, *competitor)
	}
	return s.app.RunScan(ctx, userID(r), target)
}

// handleAnalyze streams scan progress as NDJSON.
//
//	@Summary	Run a scan (battle mode when competitor_url is set)
//	@Accept		json
//	@Produce	application/x-ndjson
//	@Param		X-User-ID	header	string			false	"caller id"
//	@Param		body		body	AnalyzeRequest	true	"scan target"
//	@Success	200
//	@Failure	400	{object}	ErrorResponse
//	@Router		/analyze [post]
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	target, competitor, err := s.scanRequests(r, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	if err := stream.Pipe(ctx, stream.NewEncoder(w), s.events(ctx, r, target, competitor)); err != nil {
		s.logger.Info("analyze stream ended early", logging.F("url", body.URL), logging.Err(err))
	}
}

// handleAnalyzeWS streams the same events over a websocket; parameters come
// from the query string (url, lang, competitor_url).
func (s *Server) handleAnalyzeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	body := AnalyzeRequest{URL: q.Get("url"), Lang: q.Get("lang"), CompetitorURL: q.Get("competitor_url")}
	target, competitor, err := s.scanRequests(r, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Err(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go watchDisconnect(conn, cancel)

	failed := false
	for ev := range s.events(ctx, r, target, competitor) {
		if failed {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			// Client went away; keep draining until the producer stops.
			failed = true
			cancel()
		}
	}
	if !failed {
		closeNormal(conn)
	}
}

// watchDisconnect cancels once the peer closes or errors. Clients are not
// expected to send anything.
func watchDisconnect(conn *websocket.Conn, cancel context.CancelFunc) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			cancel()
			return
		}
	}
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// Tasks

// handleCreateTask queues an asynchronous scan.
//
//	@Summary	Queue a scan task
//	@Accept		json
//	@Produce	json
//	@Param		body	body		CreateTaskRequest	true	"scan target"
//	@Success	202		{object}	app.Job
//	@Failure	400		{object}	ErrorResponse
//	@Router		/tasks [post]
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.app.Jobs.Submit(r.Context(), userID(r), body.URL)
	switch {
	case errors.Is(err, model.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, app.ErrJobsClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Warn("submitting task", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("queued task", logging.F("task_id", job.ID))
	writeJSON(w, http.StatusAccepted, job)
}

// handleGetTask reads the persisted task, so finished tasks stay visible
// after their in-memory job expires.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	task, err := s.app.Store.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Warn("getting task", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	if err := s.app.Jobs.Cancel(id); err != nil {
		writeError(w, http.StatusNotFound, "task not running")
		return
	}
	s.logger.Info("canceled task", logging.F("task_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// handleTaskWS pushes job events for a running task.
func (s *Server) handleTaskWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	job := s.app.Jobs.Get(id)
	if job == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Err(err))
		return
	}
	defer conn.Close()

	_ = conn.WriteJSON(job)
	for ev := range job.Events {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
	closeNormal(conn)
}

// Monitors

// handleCreateMonitor registers a URL with the watchdog for the caller.
//
//	@Summary	Create a monitor
//	@Accept		json
//	@Produce	json
//	@Param		X-User-ID	header		string					true	"owner id"
//	@Param		body		body		CreateMonitorRequest	true	"monitor"
//	@Success	201			{object}	model.Monitor
//	@Failure	400			{object}	ErrorResponse
//	@Failure	401			{object}	ErrorResponse
//	@Router		/monitors [post]
func (s *Server) handleCreateMonitor(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var body CreateMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	m := &model.Monitor{
		UserID:           u.ID,
		URL:              body.URL,
		Cadence:          body.Frequency,
		PreferredHour:    body.CheckHour,
		PreferredWeekday: body.CheckDay,
		AlertThreshold:   body.AlertThreshold,
	}
	if err := s.app.Store.CreateMonitor(r.Context(), m); err != nil {
		if isValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Warn("creating monitor", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("created monitor", logging.F("monitor_id", m.ID), logging.F("url", m.URL))
	writeJSON(w, http.StatusCreated, m)
}

func isValidation(err error) bool {
	for _, target := range []error{
		model.ErrInvalidURL, model.ErrInvalidCadence, model.ErrInvalidHour,
		model.ErrInvalidWeekday, model.ErrInvalidThreshold,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	ms, err := s.app.Store.ListMonitorsByUser(r.Context(), u.ID)
	if err != nil {
		s.logger.Warn("listing monitors", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ms == nil {
		ms = []*model.Monitor{}
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *Server) handleDeleteMonitor(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "monitorID")
	err := s.app.Store.DeleteMonitor(r.Context(), id, u.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	if err != nil {
		s.logger.Warn("deleting monitor", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("deleted monitor", logging.F("monitor_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// Audits

// handleListAudits returns the audit history for one URL, newest first.
//
//	@Summary	List audits for a URL
//	@Produce	json
//	@Param		url		query		string	true	"audited URL"
//	@Param		limit	query		int		false	"max records (default 50)"
//	@Success	200		{array}		model.AuditRecord
//	@Failure	400		{object}	ErrorResponse
//	@Router		/audits [get]
func (s *Server) handleListAudits(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "missing url query parameter")
		return
	}
	limit := 0
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			limit = v
		}
	}
	audits, err := s.app.Store.ListAudits(r.Context(), url, limit)
	if err != nil {
		s.logger.Warn("listing audits", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if audits == nil {
		audits = []*model.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, audits)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	a, ok := s.audit(w, r, chi.URLParam(r, "auditID"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleAuditDiff compares audit {auditID} against the audit named by the
// against query parameter.
func (s *Server) handleAuditDiff(w http.ResponseWriter, r *http.Request) {
	againstID := r.URL.Query().Get("against")
	if againstID == "" {
		writeError(w, http.StatusBadRequest, "missing against query parameter")
		return
	}
	head, ok := s.audit(w, r, chi.URLParam(r, "auditID"))
	if !ok {
		return
	}
	base, ok := s.audit(w, r, againstID)
	if !ok {
		return
	}
	d, err := report.Compare(base, head)
	if errors.Is(err, report.ErrURLMismatch) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) audit(w http.ResponseWriter, r *http.Request, id string) (*model.AuditRecord, bool) {
	a, err := s.app.Store.GetAudit(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "audit "+id+" not found")
		return nil, false
	}
	if err != nil {
		s.logger.Warn("getting audit", logging.Err(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return a, true
}
