// Package predictor orchestrates a churn prediction run: features, tree
// model with heuristic fallback, factor analysis, classification, and
// idempotent persistence of one outcome per tenant per day.
package predictor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"churnwatch/internal/factors"
	"churnwatch/internal/features"
	"churnwatch/internal/heuristic"
	"churnwatch/internal/metrics"
	"churnwatch/internal/store"
	"churnwatch/internal/treemodel"
)

const dateLayout = "2006-01-02"

// Risk levels for the orchestrated path.
const (
	LevelLow    = "Low"
	LevelMedium = "Medium"
	LevelHigh   = "High"
)

// Analysis quality tags.
const (
	QualityFull         = "full"
	QualityFallback     = "fallback"
	QualityInsufficient = "insufficient_data"
)

// New-user constant path: not an estimate, a placeholder for "no history".
const (
	newUserProbability = 0.05
	newUserConfidence  = 0.1
)

const caveat = " Confidence is limited by sparse history; treat this estimate with caution."

// Engine sequences one prediction run end to end.
type Engine struct {
	store       *store.Store
	models      *treemodel.Cache
	metrics     *metrics.Metrics
	log         *slog.Logger
	historyDays int
}

func NewEngine(st *store.Store, models *treemodel.Cache, m *metrics.Metrics, log *slog.Logger, historyDays int) *Engine {
	return &Engine{store: st, models: models, metrics: m, log: log, historyDays: historyDays}
}

// Run computes and persists the outcome for (tenant, refDate). Model errors
// downgrade to the fallback scorer and never surface; persistence errors do.
// Re-running replaces the previous outcome for the same day.
func (e *Engine) Run(ctx context.Context, tenantID string, refDate time.Time) (*store.PredictionOutcome, error) {
	start := time.Now()
	defer func() { e.metrics.RunDuration.Observe(time.Since(start).Seconds()) }()

	date := refDate.Format(dateLayout)

	today, err := e.store.EnsureMetrics(ctx, tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	history, err := e.store.HistoryBefore(ctx, tenantID, date, e.historyDays)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	baseline := features.ComputeBaseline(history)
	vec := features.Build(today, baseline)
	fac := factors.Analyze(today, baseline, vec)

	var (
		prob         float64
		confidence   float64
		usedFallback bool
		quality      string
		path         string
	)

	switch {
	case today.Transactions == 0 && today.Sales == 0 && today.Footfall == 0:
		// No activity at all: skip both scorers.
		prob = newUserProbability
		confidence = newUserConfidence
		quality = QualityInsufficient
		path = metrics.PathNewUser
	default:
		prob, usedFallback = e.scoreWithModel(vec, fac.Critical)
		if usedFallback {
			confidence = 0.35 + 0.3*math.Min(1, float64(baseline.Days)/14)
			quality = QualityFallback
			path = metrics.PathFallback
		} else {
			confidence = 0.5 + 0.4*math.Min(1, float64(baseline.Days)/14)
			quality = QualityFull
			path = metrics.PathModel
		}
	}

	pct := round2(prob * 100)
	level := Classify(pct)

	outcome := &store.PredictionOutcome{
		RunID:           uuid.NewString(),
		TenantID:        tenantID,
		Date:            date,
		RiskScore:       round4(prob),
		RiskPercentage:  pct,
		RiskLevel:       level,
		Description:     describe(level, fac, confidence, usedFallback),
		Factors:         fac.Factors,
		Confidence:      confidence,
		UsedFallback:    usedFallback,
		AnalysisQuality: quality,
		CreatedAt:       time.Now().UTC(),
	}

	if err := e.store.ReplaceOutcome(ctx, outcome); err != nil {
		e.metrics.PersistFailures.Inc()
		return nil, fmt.Errorf("persist outcome: %w", err)
	}
	e.metrics.RunsTotal.WithLabelValues(path).Inc()
	e.log.Info("prediction run",
		slog.String("tenant", tenantID), slog.String("date", date),
		slog.Float64("risk_pct", pct), slog.String("level", level),
		slog.Bool("fallback", usedFallback))
	return outcome, nil
}

// scoreWithModel tries the tree ensemble and substitutes the heuristic
// scorer on any load or evaluation problem.
func (e *Engine) scoreWithModel(vec features.Vector, criticalCount int) (prob float64, usedFallback bool) {
	m, err := e.models.Model()
	if err == nil {
		err = m.ValidateFeatures(vec)
	}
	if err != nil {
		e.log.Warn("tree model unavailable, using heuristic scorer", slog.String("err", err.Error()))
		return heuristic.Score(vec, criticalCount), true
	}
	return m.PredictProbability(vec), false
}

// Classify maps a risk percentage onto the three-level scale: below 25 Low,
// below 65 Medium, else High.
func Classify(pct float64) string {
	switch {
	case pct < 25:
		return LevelLow
	case pct < 65:
		return LevelMedium
	default:
		return LevelHigh
	}
}

func describe(level string, fac factors.Result, confidence float64, usedFallback bool) string {
	desc := fmt.Sprintf("%s churn risk: %d critical, %d warning, and %d positive signals detected.",
		level, fac.Critical, fac.Warning, fac.Positive)
	if confidence < 0.5 || (usedFallback && confidence < 0.8) {
		desc += caveat
	}
	return desc
}

// IsNewUser reports whether the outcome came from the constant new-user path.
func IsNewUser(o *store.PredictionOutcome) bool {
	return o.AnalysisQuality == QualityInsufficient
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
