package heuristic

import (
	"math"
	"testing"

	"churnwatch/internal/features"
)

func vec(values map[string]float64) features.Vector {
	return features.FromValues(values)
}

func TestScoreSingleDropTerm(t *testing.T) {
	// 50% transaction drop alone, healthy activity: 0.50 x 0.40 = 0.20.
	v := vec(map[string]float64{
		features.FeatTxDrop:       50,
		features.FeatTransactions: 10,
		features.FeatSales:        1000,
	})
	got := Score(v, 0)
	if math.Abs(got-0.20) > 1e-12 {
		t.Fatalf("score = %v, want 0.20", got)
	}
}

func TestScoreWeightedSum(t *testing.T) {
	v := vec(map[string]float64{
		features.FeatTxDrop:       100,
		features.FeatSalesDrop:    100,
		features.FeatTrafficDrop:  100,
		features.FeatImbalance:    50,
		features.FeatTransactions: 10,
		features.FeatSales:        1000,
	})
	// 0.40 + 0.35 + 0.15 + 0.10 = 1.0, then clamped.
	if got := Score(v, 0); got != 1 {
		t.Fatalf("score = %v, want 1", got)
	}
}

func TestScoreCriticalMultiplier(t *testing.T) {
	v := vec(map[string]float64{
		features.FeatTxDrop:       50,
		features.FeatTransactions: 10,
		features.FeatSales:        1000,
	})
	// 0.20 x (1 + 0.2x2) = 0.28
	got := Score(v, 2)
	if math.Abs(got-0.28) > 1e-12 {
		t.Fatalf("score with 2 criticals = %v, want 0.28", got)
	}
}

func TestScoreLowActivityPenalty(t *testing.T) {
	v := vec(map[string]float64{
		features.FeatTransactions: 3,
		features.FeatSales:        200,
	})
	got := Score(v, 0)
	if math.Abs(got-0.15) > 1e-12 {
		t.Fatalf("low-activity score = %v, want 0.15", got)
	}
}

func TestScoreConversionFailurePenalty(t *testing.T) {
	// Footfall but zero transactions: +0.25, plus the low-activity +0.15.
	v := vec(map[string]float64{
		features.FeatTraffic: 40,
	})
	got := Score(v, 0)
	if math.Abs(got-0.40) > 1e-12 {
		t.Fatalf("conversion-failure score = %v, want 0.40", got)
	}
}

func TestScoreImbalanceCappedAtOne(t *testing.T) {
	// Imbalance 100 maps to min(1, 100/50) = 1 before weighting.
	v := vec(map[string]float64{
		features.FeatImbalance:    100,
		features.FeatTransactions: 10,
		features.FeatSales:        1000,
	})
	got := Score(v, 0)
	if math.Abs(got-0.10) > 1e-12 {
		t.Fatalf("imbalance score = %v, want 0.10", got)
	}
}

func TestScoreClampedToUnitInterval(t *testing.T) {
	v := vec(map[string]float64{
		features.FeatTxDrop:      100,
		features.FeatSalesDrop:   100,
		features.FeatTrafficDrop: 100,
		features.FeatImbalance:   100,
		features.FeatTraffic:     50,
	})
	if got := Score(v, 5); got != 1 {
		t.Fatalf("score = %v, want clamp to 1", got)
	}
}

func TestScoreZeroSignals(t *testing.T) {
	v := vec(map[string]float64{
		features.FeatTransactions: 20,
		features.FeatSales:        2000,
	})
	if got := Score(v, 0); got != 0 {
		t.Fatalf("score = %v, want 0", got)
	}
}
