// Package heuristic scores churn risk from fixed weighted rules. It is the
// fallback path, used only when the tree model cannot be loaded or evaluated.
package heuristic

import (
	"math"

	"churnwatch/internal/features"
)

// Fixed term weights.
const (
	weightTxDrop      = 0.40
	weightSalesDrop   = 0.35
	weightTrafficDrop = 0.15
	weightImbalance   = 0.10

	criticalBoost         = 0.2
	lowActivityPenalty    = 0.15
	conversionFailPenalty = 0.25
)

// Score produces a probability in [0,1] from the feature vector. Each
// weighted term is included only when its source metric is positive. One or
// more critical factors multiply the running score by 1 + 0.2*count. Flat
// penalties apply for very low activity (transactions < 5 and sales < 500)
// and for total conversion failure (footfall with zero transactions).
func Score(vec features.Vector, criticalCount int) float64 {
	txDrop, _ := vec.Get(features.FeatTxDrop)
	salesDrop, _ := vec.Get(features.FeatSalesDrop)
	trafficDrop, _ := vec.Get(features.FeatTrafficDrop)
	imbalance, _ := vec.Get(features.FeatImbalance)
	transactions, _ := vec.Get(features.FeatTransactions)
	sales, _ := vec.Get(features.FeatSales)
	traffic, _ := vec.Get(features.FeatTraffic)

	var score float64
	if txDrop > 0 {
		score += txDrop / 100 * weightTxDrop
	}
	if salesDrop > 0 {
		score += salesDrop / 100 * weightSalesDrop
	}
	if trafficDrop > 0 {
		score += trafficDrop / 100 * weightTrafficDrop
	}
	if imbalance > 0 {
		score += math.Min(1, imbalance/50) * weightImbalance
	}

	if criticalCount > 0 {
		score *= 1 + criticalBoost*float64(criticalCount)
	}

	if transactions < 5 && sales < 500 {
		score += lowActivityPenalty
	}
	if traffic > 0 && transactions == 0 {
		score += conversionFailPenalty
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
