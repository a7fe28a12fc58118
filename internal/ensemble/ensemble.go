package ensemble

import (
	"context"
	"fmt"
	"sort"

	"churnwatch/internal/store"
)

// Fixed combination weights; they sum to 1.
var weights = map[string]float64{
	"trend":      0.25,
	"volatility": 0.20,
	"pattern":    0.25,
	"anomaly":    0.15,
	"momentum":   0.15,
}

const (
	LevelCritical = "CRITICAL"
	LevelHigh     = "HIGH"
	LevelMedium   = "MEDIUM"
	LevelLow      = "LOW"
	LevelMinimal  = "MINIMAL"
)

const (
	maxTopFactors = 5
	impactScale   = 0.15
)

// Factor is one ranked contributing signal, tagged with its source model.
type Factor struct {
	Factor string  `json:"factor"`
	Model  string  `json:"model"`
	Impact float64 `json:"impact"`
}

// Prediction is the statistical path's result shape.
type Prediction struct {
	RiskScore       float64  `json:"risk_score"`
	RiskLevel       string   `json:"risk_level"`
	Confidence      float64  `json:"confidence"`
	TopFactors      []Factor `json:"top_factors"`
	Recommendations []string `json:"recommendations"`
	DataPoints      int      `json:"data_points"`
}

// Combine folds sub-model outputs into the final score, confidence, and
// ranked factor list. Kept separate from the sub-models so the weighting is
// trivially testable.
func Combine(subs []SubModel) Prediction {
	var p Prediction
	var factors []Factor
	for _, s := range subs {
		w := weights[s.Name]
		p.RiskScore += s.Score * w
		p.Confidence += s.Confidence * w
		for _, sig := range s.Signals {
			factors = append(factors, Factor{Factor: sig, Model: s.Name, Impact: s.Score * impactScale})
		}
	}
	sort.SliceStable(factors, func(i, j int) bool { return factors[i].Impact > factors[j].Impact })
	if len(factors) > maxTopFactors {
		factors = factors[:maxTopFactors]
	}
	p.TopFactors = factors
	p.RiskLevel = Classify(p.RiskScore)
	return p
}

// Classify maps a 0-100 score onto the five-level scale. Boundaries are
// inclusive on the lower edge.
func Classify(score float64) string {
	switch {
	case score >= 70:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	case score >= 15:
		return LevelLow
	default:
		return LevelMinimal
	}
}

var baseRecommendations = map[string][]string{
	LevelCritical: {
		"Act now: reach out to regular customers with a comeback offer",
		"Review pricing and stock levels against nearby competitors",
		"Check for operational issues keeping customers away",
	},
	LevelHigh: {
		"Run a short promotion to recover transaction volume",
		"Follow up with your most frequent customers this week",
	},
	LevelMedium: {
		"Watch the declining metrics daily for the next week",
		"Consider a loyalty incentive for repeat buyers",
	},
	LevelLow: {
		"Keep recording daily sales to sharpen future predictions",
	},
	LevelMinimal: {
		"Business looks healthy; maintain current operations",
	},
}

// Recommend returns the fixed per-level message set plus two conditional
// additions for prolonged inactivity and high transaction volatility.
func Recommend(level string, f Features) []string {
	out := append([]string(nil), baseRecommendations[level]...)
	if f.DaysSinceLast > 3 {
		out = append(out, fmt.Sprintf("No data recorded for %.0f days; enter recent sales to keep monitoring accurate", f.DaysSinceLast))
	}
	if f.TxCV > 0.4 {
		out = append(out, "Daily transaction counts swing widely; look for causes of inconsistent traffic")
	}
	return out
}

// Predictor runs the five sub-models over a tenant's recent history. It is a
// read-only analytical view; it never writes prediction outcomes.
type Predictor struct {
	store   *store.Store
	window  int
	minDays int
}

func NewPredictor(st *store.Store, windowDays, minDays int) *Predictor {
	return &Predictor{store: st, window: windowDays, minDays: minDays}
}

// Predict engineers features from history through refDate and combines the
// five sub-model scores. Returns ErrInsufficientData below the minimum
// history threshold.
func (p *Predictor) Predict(ctx context.Context, tenantID, refDate string) (Prediction, error) {
	history, err := p.store.HistoryThrough(ctx, tenantID, refDate, p.window)
	if err != nil {
		return Prediction{}, fmt.Errorf("fetch history: %w", err)
	}
	f, err := BuildFeatures(history, refDate, p.minDays)
	if err != nil {
		return Prediction{}, err
	}

	subs := []SubModel{
		scoreTrend(f),
		scoreVolatility(f),
		scorePattern(f),
		scoreAnomaly(f),
		scoreMomentum(f),
	}
	pred := Combine(subs)
	pred.DataPoints = f.DataPoints
	pred.Recommendations = Recommend(pred.RiskLevel, f)
	return pred, nil
}
