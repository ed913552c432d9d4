package httpx

import (
	"context"
	"errors"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkoval/todolist/internal/repository"
	"github.com/dkoval/todolist/internal/service/auth"
	"github.com/dkoval/todolist/internal/service/task"
	"github.com/dkoval/todolist/pkg/config"
)

// Router wires HTTP endpoints to services and renders the HTML pages.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	auth      auth.Service
	tasks     task.Service
	templates map[string]*template.Template
	limiter   RateLimiter
	cfg       config.AppConfig
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const healthCheckTimeout = 2 * time.Second

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, taskSvc task.Service, limiter RateLimiter, cfg config.AppConfig, dbHealth func(context.Context) error) (*Router, error) {
	templates, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		auth:      authSvc,
		tasks:     taskSvc,
		templates: templates,
		limiter:   limiter,
		cfg:       cfg,
		dbHealth:  dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r, nil
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/", r.audit(r.handleHome))
	r.mux.HandleFunc("/signup", r.audit(r.withRateLimit("signup", r.cfg.RateLimitSignup, r.cfg.RateLimitWindow, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/login", r.audit(r.withRateLimit("login", r.cfg.RateLimitLogin, r.cfg.RateLimitWindow, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/logout", r.audit(r.requireUser(r.handleLogout)))
	r.mux.HandleFunc("/tasks", r.audit(r.requireUser(r.handleOpenTasks)))
	r.mux.HandleFunc("/tasks/", r.audit(r.requireUser(r.handleTaskSubroutes)))
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
}

func (r *Router) handleHome(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		r.notFound(w, req)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if _, ok := r.sessionUser(req); ok {
		http.Redirect(w, req, "/tasks", http.StatusFound)
		return
	}
	r.render(w, http.StatusOK, "home.html", pageData{})
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.render(w, http.StatusOK, "signup.html", pageData{})
	case http.MethodPost:
		if err := req.ParseForm(); err != nil {
			r.render(w, http.StatusOK, "signup.html", pageData{Error: "invalid form submission"})
			return
		}
		username := req.PostFormValue("username")
		_, sess, err := r.auth.Signup(req.Context(), username, req.PostFormValue("password1"), req.PostFormValue("password2"))
		if err != nil {
			if isSignupValidationError(err) {
				r.render(w, http.StatusOK, "signup.html", pageData{
					Error: err.Error(),
					Form:  formValues{Username: username},
				})
				return
			}
			r.serverError(w, req, err)
			return
		}
		r.setSessionCookie(w, sess.Token, sess.ExpiresAt)
		http.Redirect(w, req, "/tasks", http.StatusFound)
	default:
		r.methodNotAllowed(w)
	}
}

func isSignupValidationError(err error) bool {
	return errors.Is(err, auth.ErrMissingFields) ||
		errors.Is(err, auth.ErrPasswordMismatch) ||
		errors.Is(err, auth.ErrPasswordTooShort) ||
		errors.Is(err, auth.ErrUsernameTaken)
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.render(w, http.StatusOK, "login.html", pageData{Next: req.URL.Query().Get("next")})
	case http.MethodPost:
		if err := req.ParseForm(); err != nil {
			r.render(w, http.StatusOK, "login.html", pageData{Error: "invalid form submission"})
			return
		}
		username := req.PostFormValue("username")
		next := req.PostFormValue("next")
		_, sess, err := r.auth.Login(req.Context(), username, req.PostFormValue("password"))
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				r.render(w, http.StatusOK, "login.html", pageData{
					Error: err.Error(),
					Next:  next,
					Form:  formValues{Username: username},
				})
				return
			}
			r.serverError(w, req, err)
			return
		}
		r.setSessionCookie(w, sess.Token, sess.ExpiresAt)
		http.Redirect(w, req, safeNext(next), http.StatusFound)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if cookie, err := req.Cookie(r.cfg.SessionCookieName); err == nil {
		if err := r.auth.Logout(req.Context(), cookie.Value); err != nil {
			r.logger.Warn("session revocation failed", "error", err)
		}
	}
	r.clearSessionCookie(w)
	http.Redirect(w, req, "/", http.StatusFound)
}

func (r *Router) handleOpenTasks(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	user, ok := userFromContext(req.Context())
	if !ok {
		r.serverError(w, req, errAuthContextMissing)
		return
	}
	tasks, err := r.tasks.ListOpen(req.Context(), user.ID)
	if err != nil {
		r.serverError(w, req, err)
		return
	}
	r.render(w, http.StatusOK, "tasks.html", pageData{User: user, Tasks: tasks})
}

func (r *Router) handleCompletedTasks(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	user, ok := userFromContext(req.Context())
	if !ok {
		r.serverError(w, req, errAuthContextMissing)
		return
	}
	tasks, err := r.tasks.ListCompleted(req.Context(), user.ID)
	if err != nil {
		r.serverError(w, req, err)
		return
	}
	r.render(w, http.StatusOK, "completed.html", pageData{User: user, Tasks: tasks})
}

func (r *Router) handleTaskSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/tasks/")
	parts := strings.Split(trimmed, "/")
	switch {
	case len(parts) == 1 && parts[0] == "completed":
		r.handleCompletedTasks(w, req)
	case len(parts) == 1 && parts[0] == "new":
		r.handleCreateTask(w, req)
	case len(parts) == 1 && parts[0] != "":
		r.handleViewTask(w, req, parts[0])
	case len(parts) == 2 && parts[1] == "complete":
		r.handleCompleteTask(w, req, parts[0])
	case len(parts) == 2 && parts[1] == "delete":
		r.handleDeleteTask(w, req, parts[0])
	default:
		r.notFound(w, req)
	}
}

func (r *Router) handleCreateTask(w http.ResponseWriter, req *http.Request) {
	user, ok := userFromContext(req.Context())
	if !ok {
		r.serverError(w, req, errAuthContextMissing)
		return
	}
	switch req.Method {
	case http.MethodGet:
		r.render(w, http.StatusOK, "create.html", pageData{User: user})
	case http.MethodPost:
		if err := req.ParseForm(); err != nil {
			r.render(w, http.StatusOK, "create.html", pageData{User: user, Error: "invalid form submission"})
			return
		}
		title := req.PostFormValue("title")
		memo := req.PostFormValue("memo")
		if _, err := r.tasks.Create(req.Context(), user.ID, title, memo); err != nil {
			if errors.Is(err, task.ErrTitleRequired) {
				r.render(w, http.StatusOK, "create.html", pageData{
					User:  user,
					Error: err.Error(),
					Form:  formValues{Title: title, Memo: memo},
				})
				return
			}
			r.serverError(w, req, err)
			return
		}
		http.Redirect(w, req, "/tasks", http.StatusFound)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleViewTask(w http.ResponseWriter, req *http.Request, taskID string) {
	user, ok := userFromContext(req.Context())
	if !ok {
		r.serverError(w, req, errAuthContextMissing)
		return
	}
	switch req.Method {
	case http.MethodGet:
		t, err := r.tasks.Get(req.Context(), user.ID, taskID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				r.notFound(w, req)
				return
			}
			r.serverError(w, req, err)
			return
		}
		r.render(w, http.StatusOK, "task.html", pageData{
			User: user,
			Task: t,
			Form: formValues{Title: t.Title, Memo: t.Memo},
		})
	case http.MethodPost:
		if err := req.ParseForm(); err != nil {
			t, getErr := r.tasks.Get(req.Context(), user.ID, taskID)
			if getErr != nil {
				r.notFound(w, req)
				return
			}
			r.render(w, http.StatusOK, "task.html", pageData{
				User:  user,
				Task:  t,
				Error: "invalid form submission",
				Form:  formValues{Title: t.Title, Memo: t.Memo},
			})
			return
		}
		title := req.PostFormValue("title")
		memo := req.PostFormValue("memo")
		err := r.tasks.Update(req.Context(), user.ID, taskID, title, memo)
		if err == nil {
			http.Redirect(w, req, "/tasks", http.StatusFound)
			return
		}
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w, req)
			return
		}
		if errors.Is(err, task.ErrTitleRequired) {
			t, getErr := r.tasks.Get(req.Context(), user.ID, taskID)
			if getErr != nil {
				r.notFound(w, req)
				return
			}
			r.render(w, http.StatusOK, "task.html", pageData{
				User:  user,
				Task:  t,
				Error: err.Error(),
				Form:  formValues{Title: title, Memo: memo},
			})
			return
		}
		r.serverError(w, req, err)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleCompleteTask(w http.ResponseWriter, req *http.Request, taskID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	user, ok := userFromContext(req.Context())
	if !ok {
		r.serverError(w, req, errAuthContextMissing)
		return
	}
	if err := r.tasks.Complete(req.Context(), user.ID, taskID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w, req)
			return
		}
		r.serverError(w, req, err)
		return
	}
	http.Redirect(w, req, "/tasks/completed", http.StatusFound)
}

func (r *Router) handleDeleteTask(w http.ResponseWriter, req *http.Request, taskID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	user, ok := userFromContext(req.Context())
	if !ok {
		r.serverError(w, req, errAuthContextMissing)
		return
	}
	if err := r.tasks.Delete(req.Context(), user.ID, taskID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w, req)
			return
		}
		r.serverError(w, req, err)
		return
	}
	http.Redirect(w, req, "/tasks", http.StatusFound)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

var errAuthContextMissing = errors.New("authenticated context missing user")

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if user, ok := userFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", user.ID)
		}
		fields = append(fields, "actor", actor)

		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses task identifiers so metric cardinality stays bounded.
func routeLabel(path string) string {
	if !strings.HasPrefix(path, "/tasks/") {
		return path
	}
	trimmed := strings.TrimPrefix(path, "/tasks/")
	parts := strings.Split(trimmed, "/")
	switch {
	case len(parts) == 1 && (parts[0] == "completed" || parts[0] == "new"):
		return path
	case len(parts) == 1:
		return "/tasks/:id"
	case len(parts) == 2:
		return "/tasks/:id/" + parts[1]
	default:
		return "/tasks/*"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func (r *Router) notFound(w http.ResponseWriter, req *http.Request) {
	user, _ := userFromContext(req.Context())
	r.render(w, http.StatusNotFound, "notfound.html", pageData{User: user})
}

func (r *Router) serverError(w http.ResponseWriter, req *http.Request, err error) {
	r.logger.Error("request failed", "path", req.URL.Path, "error", err)
	user, _ := userFromContext(req.Context())
	r.render(w, http.StatusInternalServerError, "error.html", pageData{User: user})
}
