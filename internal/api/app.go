// Package api exposes the control plane over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentgate/agentgate/internal/audit"
	"github.com/agentgate/agentgate/internal/auth"
	"github.com/agentgate/agentgate/internal/config"
	"github.com/agentgate/agentgate/internal/constraint"
	"github.com/agentgate/agentgate/internal/control"
	"github.com/agentgate/agentgate/internal/metrics"
	"github.com/agentgate/agentgate/internal/monitor"
	"github.com/agentgate/agentgate/internal/snapshot"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/emergency"
	"github.com/agentgate/agentgate/pkg/types"
)

type App struct {
	cfg       *config.Config
	orch      *control.Orchestrator
	store     store.EventStore
	stop      *emergency.Stop
	engine    *constraint.Engine
	monitor   *monitor.Monitor
	snapshots *snapshot.Manager
	metrics   *metrics.Collector
	audit     *audit.Logger

	apiKeyAuth *auth.APIKeyAuth
}

type Options struct {
	Config     *config.Config
	Orch       *control.Orchestrator
	Store      store.EventStore
	Stop       *emergency.Stop
	Engine     *constraint.Engine
	Monitor    *monitor.Monitor
	Snapshots  *snapshot.Manager
	Metrics    *metrics.Collector
	Audit      *audit.Logger
	APIKeyAuth *auth.APIKeyAuth
}

func NewApp(opts Options) *App {
	return &App{
		cfg:        opts.Config,
		orch:       opts.Orch,
		store:      opts.Store,
		stop:       opts.Stop,
		engine:     opts.Engine,
		monitor:    opts.Monitor,
		snapshots:  opts.Snapshots,
		metrics:    opts.Metrics,
		audit:      opts.Audit,
		apiKeyAuth: opts.APIKeyAuth,
	}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(a.authMiddleware)

	r.Get(a.cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })
	r.Get(a.cfg.Health.ReadinessPath, func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ready\n") })

	if a.cfg.Metrics.Enabled && a.metrics != nil {
		r.Get(a.cfg.Metrics.Path, a.metrics.Handler(metrics.HandlerOptions{
			EmergencyActive: a.stop.IsActive,
			SnapshotCount:   a.snapshotCount,
		}).ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/authorize", a.authorize)
		r.Get("/status", a.status)

		r.Get("/events/search", a.searchEvents)
		r.Get("/events/summary", a.eventSummary)
		r.Get("/events/anomalies", a.eventAnomalies)
		r.Get("/usage/{resource}", a.usageHistory)

		r.Post("/snapshots", a.createSnapshot)
		r.Get("/snapshots", a.listSnapshots)
		r.Post("/snapshots/{id}/rollback", a.rollbackSnapshot)

		r.Get("/emergency", a.emergencyStatus)
		r.Post("/emergency/trigger", a.triggerEmergency)
		r.Post("/emergency/reset", a.resetEmergency)
	})

	return r
}

func (a *App) authMiddleware(next http.Handler) http.Handler {
	if a.cfg.Development.DisableAuth || strings.EqualFold(a.cfg.Auth.Type, "none") {
		return next
	}
	if strings.EqualFold(a.cfg.Auth.Type, "api_key") {
		if a.apiKeyAuth == nil {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"error": "api key auth enabled but keys not loaded",
				})
			})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(a.apiKeyAuth.HeaderName())
			if key == "" || !a.apiKeyAuth.IsAllowed(key) {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unsupported auth type"})
	})
}

func (a *App) authorize(w http.ResponseWriter, r *http.Request) {
	var op types.OperationContext
	if !decodeJSON(w, r, &op, "invalid operation context") {
		return
	}
	if op.Operation == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "operation is required"})
		return
	}
	d := a.orch.Authorize(r.Context(), op)
	status := http.StatusOK
	if !d.Allow {
		status = http.StatusForbidden
	}
	writeJSON(w, status, d)
}

func (a *App) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"emergency":  a.stop.Status(),
		"validation": a.engine.Stats(),
		"snapshots":  a.snapshotCount(),
	})
}

func (a *App) searchEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	evs, err := a.store.QueryEvents(r.Context(), q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if evs == nil {
		evs = []types.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (a *App) eventSummary(w http.ResponseWriter, r *http.Request) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := parseTimeOrAgo(since)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("since: %v", err)})
			return
		}
		start = t
	}
	if until := r.URL.Query().Get("until"); until != "" {
		t, err := parseTimeOrAgo(until)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("until: %v", err)})
			return
		}
		end = t
	}
	s, err := audit.NewAnalyzer(a.store).ActivitySummary(r.Context(), start, end)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *App) eventAnomalies(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if win := r.URL.Query().Get("window"); win != "" {
		d, err := time.ParseDuration(win)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("window: %v", err)})
			return
		}
		window = d
	}
	anomalies, err := audit.NewAnalyzer(a.store).DetectAnomalies(r.Context(), window)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if anomalies == nil {
		anomalies = []audit.Anomaly{}
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (a *App) usageHistory(w http.ResponseWriter, r *http.Request) {
	if a.monitor == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "monitor not enabled"})
		return
	}
	resource := types.ResourceType(chi.URLParam(r, "resource"))
	switch resource {
	case types.ResourceCPU, types.ResourceMemory, types.ResourceDisk, types.ResourceNetwork:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("unknown resource %q", resource)})
		return
	}
	minutes, _ := strconv.Atoi(r.URL.Query().Get("minutes"))
	if minutes <= 0 {
		minutes = 60
	}
	samples := a.monitor.GetUsageHistory(resource, minutes)
	if samples == nil {
		samples = []types.ResourceSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (a *App) createSnapshot(w http.ResponseWriter, r *http.Request) {
	if a.snapshots == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "snapshots not enabled"})
		return
	}
	var req struct {
		Metadata map[string]any `json:"metadata"`
	}
	if r.ContentLength > 0 && !decodeJSON(w, r, &req, "") {
		return
	}
	snap, err := a.snapshots.Create(req.Metadata)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if a.audit != nil {
		_ = a.audit.Event(types.EventSnapshotCreated, types.SeverityInfo, "", map[string]any{
			"snapshot_id": snap.ID,
			"files":       len(snap.Manifest),
		})
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (a *App) listSnapshots(w http.ResponseWriter, r *http.Request) {
	if a.snapshots == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	snaps, err := a.snapshots.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if snaps == nil {
		snaps = []*snapshot.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (a *App) rollbackSnapshot(w http.ResponseWriter, r *http.Request) {
	if a.snapshots == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "snapshots not enabled"})
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := a.snapshots.Get(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	if err := a.snapshots.Rollback(id); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	a.metrics.IncRollback()
	writeJSON(w, http.StatusOK, map[string]any{"status": "rolled_back", "snapshot_id": id})
}

func (a *App) emergencyStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.stop.Status())
}

func (a *App) triggerEmergency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason  string         `json:"reason"`
		Context map[string]any `json:"context"`
	}
	if !decodeJSON(w, r, &req, "") {
		return
	}
	if req.Reason == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "reason is required"})
		return
	}
	transitioned := a.orch.TriggerEmergency(req.Reason, req.Context)
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "transitioned": transitioned})
}

func (a *App) resetEmergency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		User   string `json:"user"`
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req, "") {
		return
	}
	if req.User == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "user is required"})
		return
	}
	transitioned := a.orch.ResetEmergency(req.User, req.Reason)
	writeJSON(w, http.StatusOK, map[string]any{"active": false, "transitioned": transitioned})
}

func (a *App) snapshotCount() int {
	if a.snapshots == nil {
		return 0
	}
	snaps, err := a.snapshots.List()
	if err != nil {
		return 0
	}
	return len(snaps)
}

func parseEventQuery(r *http.Request) (types.EventQuery, error) {
	v := r.URL.Query()
	var q types.EventQuery
	if t := v.Get("type"); t != "" {
		q.Types = strings.Split(t, ",")
	}
	q.UserID = v.Get("user_id")
	q.Severity = types.Severity(v.Get("severity"))
	q.Limit, _ = strconv.Atoi(v.Get("limit"))
	q.Offset, _ = strconv.Atoi(v.Get("offset"))

	if since := v.Get("since"); since != "" {
		t, err := parseTimeOrAgo(since)
		if err != nil {
			return q, fmt.Errorf("since: %w", err)
		}
		q.Since = &t
	}
	if until := v.Get("until"); until != "" {
		t, err := parseTimeOrAgo(until)
		if err != nil {
			return q, fmt.Errorf("until: %w", err)
		}
		q.Until = &t
	}
	return q, nil
}

// parseTimeOrAgo accepts RFC3339 timestamps or durations like "15m"
// meaning that long ago.
func parseTimeOrAgo(s string) (time.Time, error) {
	if strings.ContainsAny(s, "smhdw") && !strings.Contains(s, "T") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return time.Time{}, err
		}
		return time.Now().UTC().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
