// Package httpapi is the JSON command surface over the scheduler, the
// vault, the proxy pool, the session pool and analytics.
package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"airdrop_manager/internal/analytics"
	"airdrop_manager/internal/browser"
	"airdrop_manager/internal/config"
	"airdrop_manager/internal/errs"
	"airdrop_manager/internal/logbus"
	"airdrop_manager/internal/model"
	"airdrop_manager/internal/proxy"
	"airdrop_manager/internal/scheduler"
	"airdrop_manager/internal/vault"
	"airdrop_manager/internal/ws"
)

type Options struct {
	Cfg       config.Config
	Bus       *logbus.Bus
	Logger    *zap.Logger
	Scheduler *scheduler.Scheduler
	Vault     *vault.Vault
	Proxies   *proxy.Pool
	Sessions  *browser.Pool
	Analytics *analytics.Analytics
	Metrics   HTTPMetrics
	// MetricsHandler is mounted at MetricsPath (default /metrics) when set.
	MetricsHandler http.Handler
	MetricsPath    string
}

type Server struct {
	cfg       config.Config
	bus       *logbus.Bus
	logger    *zap.Logger
	sched     *scheduler.Scheduler
	vault     *vault.Vault
	proxies   *proxy.Pool
	sessions  *browser.Pool
	analytics *analytics.Analytics
	metrics   HTTPMetrics
	promh     http.Handler
	promPath  string
	ws        *ws.Handler
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:       opts.Cfg,
		bus:       opts.Bus,
		logger:    logger.With(zap.String("component", "httpapi")),
		sched:     opts.Scheduler,
		vault:     opts.Vault,
		proxies:   opts.Proxies,
		sessions:  opts.Sessions,
		analytics: opts.Analytics,
		metrics:   opts.Metrics,
		promh:     opts.MetricsHandler,
		promPath:  metricsPath(opts.MetricsPath),
		ws:        ws.NewHandler(opts.Bus, opts.Cfg.Server.Cors.AllowOrigins, logger),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.ws)
	if s.promh != nil {
		mux.Handle(s.promPath, s.promh)
	}

	api := http.NewServeMux()
	routes := map[string]http.HandlerFunc{
		"/api/v1/projects":        s.handleProjects,
		"/api/v1/tasks":           s.handleTasks,
		"/api/v1/tasks/pause":     s.handleTaskPause,
		"/api/v1/tasks/resume":    s.handleTaskResume,
		"/api/v1/tasks/stop":      s.handleTaskStop,
		"/api/v1/accounts":        s.handleAccounts,
		"/api/v1/proxies":         s.handleProxies,
		"/api/v1/proxies/test":    s.handleProxyTest,
		"/api/v1/points":          s.handlePoints,
		"/api/v1/points/accounts": s.handlePointsByAccount,
		"/api/v1/points/history":  s.handlePointsHistory,
		"/api/v1/activity":        s.handleActivity,
		"/api/v1/stats":           s.handleStats,
		"/api/v1/sessions":        s.handleSessions,
	}
	for route, h := range routes {
		api.Handle(route, s.instrument(route, h))
	}
	api.Handle("/api/", s.instrument("other", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	})))

	mux.Handle("/api/", corsMiddleware(s.cfg.Server.Cors, api))
	return mux
}

func metricsPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || !strings.HasPrefix(p, "/") {
		return "/metrics"
	}
	return p
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleProjects is submitProject: it schedules one task against the URL.
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body struct {
		URL          string `json:"url"`
		AccountCount int    `json:"accountCount"`
		ReferralCode string `json:"referralCode,omitempty"`
	}
	if err := readJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.sched.ScheduleTask(r.Context(), body.URL, body.AccountCount, strings.TrimSpace(body.ReferralCode))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.sched.GetTask(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.bus.Log("info", "task scheduled", map[string]any{"taskId": id, "url": task.URL, "accounts": task.AccountCount})
	writeJSON(w, http.StatusAccepted, map[string]any{"data": task})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
		task, err := s.sched.GetTask(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": task})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.sched.ListTasks()})
}

// taskID reads the id from ?id= or from a {"id": ...} body.
func taskID(r *http.Request) (string, error) {
	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
		return id, nil
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := readJSON(r, &body); err != nil {
		return "", err
	}
	if id := strings.TrimSpace(body.ID); id != "" {
		return id, nil
	}
	return "", errs.Validation("id is required")
}

func (s *Server) taskCommand(w http.ResponseWriter, r *http.Request, apply func(id string) error) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id, err := taskID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := apply(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	task, err := s.sched.GetTask(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": task})
}

func (s *Server) handleTaskPause(w http.ResponseWriter, r *http.Request) {
	s.taskCommand(w, r, s.sched.PauseTask)
}

func (s *Server) handleTaskResume(w http.ResponseWriter, r *http.Request) {
	s.taskCommand(w, r, s.sched.ResumeTask)
}

func (s *Server) handleTaskStop(w http.ResponseWriter, r *http.Request) {
	s.taskCommand(w, r, func(id string) error { return s.sched.StopTask(r.Context(), id) })
}

// handleAccounts is manageAccount plus listing and deletion.
func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := model.AccountStatus(strings.TrimSpace(r.URL.Query().Get("status")))
		if status != "" && !status.Valid() {
			s.writeError(w, r, errs.Validation("unknown status %q", status))
			return
		}
		accounts, err := s.vault.List(r.Context(), status)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": accounts})
	case http.MethodPost:
		var body model.AccountInput
		if err := readJSON(r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
		acc, err := s.vault.Save(r.Context(), body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": acc})
	case http.MethodDelete:
		id, err := requireQuery(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.vault.Delete(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProxies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"data": s.proxies.List(), "counts": s.proxies.Counts()})
	case http.MethodPost:
		var body model.ProxyInput
		if err := readJSON(r, &body); err != nil {
			s.writeError(w, r, err)
			return
		}
		saved, res, err := s.proxies.Add(r.Context(), body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": saved, "test": res})
	case http.MethodDelete:
		id, err := requireQuery(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.proxies.Delete(r.Context(), id); err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		methodNotAllowed(w)
	}
}

// handleProxyTest probes one address when given, otherwise sweeps every
// stored proxy and persists the results.
func (s *Server) handleProxyTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var body model.ProxyInput
	if err := readJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.Address) != "" {
		body.Address = strings.TrimSpace(body.Address)
		writeJSON(w, http.StatusOK, map[string]any{"data": s.proxies.Test(r.Context(), body)})
		return
	}
	results, err := s.proxies.TestAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": results})
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	out, err := s.analytics.PointsByProject(r.Context(), strings.TrimSpace(r.URL.Query().Get("projectUrl")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) handlePointsByAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	out, err := s.analytics.PointsByAccount(r.Context(), strings.TrimSpace(r.URL.Query().Get("accountId")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) handlePointsHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, err := queryInt(r, "limit", analytics.DefaultHistoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	out, err := s.analytics.PointsHistory(r.Context(), strings.TrimSpace(q.Get("accountId")), strings.TrimSpace(q.Get("projectUrl")), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit, err := queryInt(r, "limit", analytics.DefaultHistoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	out, err := s.analytics.RecentActivity(r.Context(), strings.TrimSpace(q.Get("accountId")), strings.TrimSpace(q.Get("projectUrl")), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.analytics.DashboardStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":     stats,
		"proxies":  s.proxies.Counts(),
		"sessions": map[string]any{"active": s.sessions.ActiveCount(), "max": s.sessions.MaxConcurrent()},
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": s.sessions.Sessions(),
		"max":  s.sessions.MaxConcurrent(),
	})
}
