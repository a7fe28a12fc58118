// Package httpapi exposes the prediction engine to the dashboard and
// data-entry collaborators.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"churnwatch/internal/config"
	"churnwatch/internal/ensemble"
	"churnwatch/internal/jobs"
	"churnwatch/internal/metrics"
	"churnwatch/internal/predictor"
	"churnwatch/internal/store"
)

const dateLayout = "2006-01-02"

// Router builds HTTP handlers for /api and /ops.
type Router struct {
	cfg      config.Config
	store    *store.Store
	engine   *predictor.Engine
	ens      *ensemble.Predictor
	runner   *jobs.Runner
	metrics  *metrics.Metrics
	log      *slog.Logger
	nowInLoc func() time.Time
}

func NewRouter(cfg config.Config, st *store.Store, engine *predictor.Engine, ens *ensemble.Predictor, runner *jobs.Runner, m *metrics.Metrics, log *slog.Logger) *Router {
	return &Router{
		cfg:      cfg,
		store:    st,
		engine:   engine,
		ens:      ens,
		runner:   runner,
		metrics:  m,
		log:      log,
		nowInLoc: func() time.Time { return time.Now().In(cfg.Location()) },
	}
}

// SetNow overrides the clock. Intended for tests.
func (rt *Router) SetNow(now func() time.Time) { rt.nowInLoc = now }

func (rt *Router) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(RequestID)
	mux.Use(Logger(rt.log))

	mux.Post("/api/churn/run", rt.run)
	mux.Get("/api/churn/latest", rt.latest)
	mux.Get("/api/churn/predict", rt.predict)
	mux.Post("/api/metrics", rt.upsertMetrics)
	mux.Get("/api/metrics/history", rt.history)

	mux.Post("/ops/predict-all", rt.predictAll)
	mux.Get("/ops/status", rt.status)
	mux.Get("/ops/health", rt.health)
	mux.Method(http.MethodGet, "/metrics", rt.metrics.Handler())

	return mux
}

// tenantID resolves the tenant from the X-Tenant-ID header or ?tenant=.
func tenantID(r *http.Request) string {
	if t := r.Header.Get("X-Tenant-ID"); t != "" {
		return t
	}
	return r.URL.Query().Get("tenant")
}

// refDate resolves the reference date: explicit ?date=YYYY-MM-DD, else today
// in the configured tenant calendar.
func (rt *Router) refDate(r *http.Request) (time.Time, error) {
	if q := r.URL.Query().Get("date"); q != "" {
		return time.ParseInLocation(dateLayout, q, rt.cfg.Location())
	}
	return rt.nowInLoc(), nil
}

func (rt *Router) run(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		httpError(w, http.StatusBadRequest, "tenant required")
		return
	}
	refDate, err := rt.refDate(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, "bad date, want YYYY-MM-DD")
		return
	}
	outcome, err := rt.engine.Run(r.Context(), tenant, refDate)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "prediction failed: "+err.Error())
		return
	}
	respondJSON(w, runResponse(outcome, true))
}

func (rt *Router) latest(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		httpError(w, http.StatusBadRequest, "tenant required")
		return
	}
	outcome, err := rt.store.LatestOutcome(r.Context(), tenant)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if outcome == nil {
		respondJSON(w, map[string]any{"exists": false})
		return
	}
	respondJSON(w, runResponse(outcome, false))
}

// runResponse shapes an outcome for the dashboard. risk_level and level are
// dual-keyed for backward compatibility.
func runResponse(o *store.PredictionOutcome, full bool) map[string]any {
	resp := map[string]any{
		"exists":          true,
		"date":            o.Date,
		"risk_percentage": o.RiskPercentage,
		"risk_score":      o.RiskScore,
		"risk_level":      o.RiskLevel,
		"level":           o.RiskLevel,
		"description":     o.Description,
		"factors":         o.Factors,
	}
	if full {
		resp["model_confidence"] = o.Confidence
		resp["is_new_user"] = predictor.IsNewUser(o)
		resp["data_available"] = !predictor.IsNewUser(o)
		resp["analysis_quality"] = o.AnalysisQuality
	}
	return resp
}

func (rt *Router) predict(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		httpError(w, http.StatusBadRequest, "tenant required")
		return
	}
	refDate, err := rt.refDate(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, "bad date, want YYYY-MM-DD")
		return
	}
	pred, err := rt.ens.Predict(r.Context(), tenant, refDate.Format(dateLayout))
	if errors.Is(err, ensemble.ErrInsufficientData) {
		httpError(w, http.StatusUnprocessableEntity, "insufficient data: at least 7 days of history required")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rt.metrics.EnsemblePredictions.Inc()
	respondJSON(w, pred)
}

func (rt *Router) upsertMetrics(w http.ResponseWriter, r *http.Request) {
	var m store.DailyMetrics
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if m.TenantID == "" {
		m.TenantID = tenantID(r)
	}
	if m.TenantID == "" {
		httpError(w, http.StatusBadRequest, "tenant required")
		return
	}
	if m.Date == "" {
		m.Date = rt.nowInLoc().Format(dateLayout)
	}
	if _, err := time.Parse(dateLayout, m.Date); err != nil {
		httpError(w, http.StatusBadRequest, "bad date, want YYYY-MM-DD")
		return
	}
	if m.Transactions < 0 || m.Sales < 0 || m.Footfall < 0 {
		httpError(w, http.StatusBadRequest, "counts and sales must be non-negative")
		return
	}
	fillDerivedDrops(&m)
	now := config.Now()
	m.CreatedAt, m.UpdatedAt = now, now
	if err := rt.store.UpsertDailyMetrics(r.Context(), &m); err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, map[string]any{"status": "ok", "tenant_id": m.TenantID, "date": m.Date})
}

// fillDerivedDrops back-fills the pre-computed drop percentages from the
// weekly-average columns, falling back to the previous-day counters.
func fillDerivedDrops(m *store.DailyMetrics) {
	if m.TxDropPct <= 0 {
		base := m.WeeklyAvgTx
		if base <= 0 {
			base = float64(m.PrevTx)
		}
		m.TxDropPct = dropPct(float64(m.Transactions), base)
	}
	if m.SalesDropPct <= 0 {
		base := m.WeeklyAvgSal
		if base <= 0 {
			base = m.PrevSales
		}
		m.SalesDropPct = dropPct(m.Sales, base)
	}
}

func dropPct(recent, base float64) float64 {
	if base <= 0 || recent >= base {
		return 0
	}
	pct := (base - recent) / base * 100
	if pct > 100 {
		return 100
	}
	return pct
}

func (rt *Router) history(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		httpError(w, http.StatusBadRequest, "tenant required")
		return
	}
	days := 30
	if q := r.URL.Query().Get("days"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 90 {
			httpError(w, http.StatusBadRequest, "days must be 1-90")
			return
		}
		days = n
	}
	date := rt.nowInLoc().Format(dateLayout)
	rows, err := rt.store.HistoryThrough(r.Context(), tenant, date, days)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, map[string]any{"tenant_id": tenant, "history": rows})
}

func (rt *Router) predictAll(w http.ResponseWriter, r *http.Request) {
	refDate, err := rt.refDate(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, "bad date, want YYYY-MM-DD")
		return
	}
	batchID, accepted, err := rt.runner.RunAll(r.Context(), refDate)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, map[string]any{"batch_id": batchID, "accepted": accepted})
}

func (rt *Router) status(w http.ResponseWriter, r *http.Request) {
	metricRows, outcomeRows, err := rt.store.Counts(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, map[string]any{
		"daily_metrics":       metricRows,
		"prediction_outcomes": outcomeRows,
		"runner":              rt.runner.Snapshot(),
		"environment":         rt.cfg.Environment,
	})
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	if err := rt.store.Health(r.Context()); err != nil {
		httpError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
