// Package features turns a tenant's recent daily-metric history into a
// rolling baseline and the normalized feature vector consumed by the tree
// model and the fallback scorer.
package features

import (
	"math"

	"churnwatch/internal/store"
)

// Canonical feature names. The trained model refers to features by these
// names; synthetic f<N> names fall back to positional lookup in this order.
const (
	FeatTransactions = "transaction_count"
	FeatSales        = "sales_amount"
	FeatTraffic      = "customer_traffic"
	FeatTxDrop       = "transaction_drop_pct"
	FeatSalesDrop    = "sales_drop_pct"
	FeatTrafficDrop  = "traffic_drop_pct"
	FeatImbalance    = "shift_imbalance_pct"
)

var featureOrder = []string{
	FeatTransactions, FeatSales, FeatTraffic,
	FeatTxDrop, FeatSalesDrop, FeatTrafficDrop, FeatImbalance,
}

// Baseline holds arithmetic means over up to the prior 14 days of history.
// Days is the number of contributing records; 0 means "no history" and is a
// valid result.
type Baseline struct {
	Transactions float64
	Sales        float64
	Footfall     float64
	EarlyTx      float64
	MidTx        float64
	LateTx       float64
	EarlySales   float64
	MidSales     float64
	LateSales    float64
	Days         int
}

// Vector is a named mapping of numeric model inputs. Values are normalized
// with max(v, 0) at build time.
type Vector struct {
	values map[string]float64
}

// Get returns the named feature value.
func (v Vector) Get(name string) (float64, bool) {
	val, ok := v.values[name]
	return val, ok
}

// ByIndex returns the i-th feature in canonical order, for synthetic f<N>
// model feature names.
func (v Vector) ByIndex(i int) (float64, bool) {
	if i < 0 || i >= len(featureOrder) {
		return 0, false
	}
	return v.Get(featureOrder[i])
}

// Names returns the canonical feature order.
func Names() []string {
	out := make([]string, len(featureOrder))
	copy(out, featureOrder)
	return out
}

// FromValues builds a vector directly. Intended for tests and model tooling.
func FromValues(m map[string]float64) Vector {
	values := make(map[string]float64, len(m))
	for k, v := range m {
		values[k] = math.Max(v, 0)
	}
	return Vector{values: values}
}

// ComputeBaseline averages each numeric column over the supplied history
// rows. The caller fetches up to 14 rows strictly before the target date.
func ComputeBaseline(history []store.DailyMetrics) Baseline {
	b := Baseline{Days: len(history)}
	if len(history) == 0 {
		return b
	}
	for _, m := range history {
		b.Transactions += float64(m.Transactions)
		b.Sales += m.Sales
		b.Footfall += float64(m.Footfall)
		b.EarlyTx += float64(m.EarlyTx)
		b.MidTx += float64(m.MidTx)
		b.LateTx += float64(m.LateTx)
		b.EarlySales += m.EarlySales
		b.MidSales += m.MidSales
		b.LateSales += m.LateSales
	}
	n := float64(len(history))
	b.Transactions /= n
	b.Sales /= n
	b.Footfall /= n
	b.EarlyTx /= n
	b.MidTx /= n
	b.LateTx /= n
	b.EarlySales /= n
	b.MidSales /= n
	b.LateSales /= n
	return b
}

// Build produces the feature vector for today's record against the baseline.
// Pre-computed drop percentages on the record win; otherwise drops are
// back-filled from the rolling averages when recent performance sits below
// them.
func Build(today *store.DailyMetrics, baseline Baseline) Vector {
	txDrop := clampPct(today.TxDropPct)
	if txDrop <= 0 {
		txDrop = dropVsBaseline(float64(today.Transactions), baseline.Transactions)
	}
	salesDrop := clampPct(today.SalesDropPct)
	if salesDrop <= 0 {
		salesDrop = dropVsBaseline(today.Sales, baseline.Sales)
	}
	trafficDrop := dropVsBaseline(float64(today.Footfall), baseline.Footfall)

	return FromValues(map[string]float64{
		FeatTransactions: float64(today.Transactions),
		FeatSales:        today.Sales,
		FeatTraffic:      float64(today.Footfall),
		FeatTxDrop:       txDrop,
		FeatSalesDrop:    salesDrop,
		FeatTrafficDrop:  trafficDrop,
		FeatImbalance:    ShiftImbalance(today.EarlyTx, today.MidTx, today.LateTx),
	})
}

// ShiftImbalance is the coefficient of variation across the three shift
// transaction counts, as a percentage capped at 100. A zero mean yields 0.
func ShiftImbalance(early, mid, late int) float64 {
	counts := []float64{float64(early), float64(mid), float64(late)}
	mean := (counts[0] + counts[1] + counts[2]) / 3
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, c := range counts {
		d := c - mean
		sq += d * d
	}
	std := math.Sqrt(sq / 3)
	return math.Min(std/mean*100, 100)
}

// dropVsBaseline computes (baseline - recent) / baseline * 100 when recent
// performance is below the rolling average, floored at 0.
func dropVsBaseline(recent, baseline float64) float64 {
	if baseline <= 0 || recent >= baseline {
		return 0
	}
	return clampPct((baseline - recent) / baseline * 100)
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
