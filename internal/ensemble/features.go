// Package ensemble is the self-contained statistical prediction path. Five
// independent sub-models score a shared engineered feature set and are
// combined with fixed weights into one 0-100 risk score.
package ensemble

import (
	"errors"
	"math"
	"time"

	"churnwatch/internal/store"
)

// ErrInsufficientData is surfaced to the caller of the predict operation
// when the tenant has fewer than the minimum history days.
var ErrInsufficientData = errors.New("ensemble: insufficient data for statistical prediction")

const dateLayout = "2006-01-02"

// Features is the shared, explicitly typed input every sub-model reads.
// Sub-models never read each other's state.
type Features struct {
	DataPoints int

	// Latest-day signals.
	TxDropPct     float64
	SalesDropPct  float64
	PrevTxDropPct float64
	RecentTx      float64
	RecentSales   float64
	WeeklyAvgTx   float64
	WeeklyAvgSal  float64
	ShiftShares   [3]float64 // early/mid/late transaction shares, 0-100
	TotalShiftTx  int
	ConversionPct float64
	HasFootfall   bool

	// Distributional signals over the full window.
	TxCV       float64
	SalesCV    float64
	FootfallCV float64
	TxZ        float64
	SalesZ     float64

	// Temporal signals.
	DaysSinceLast       float64
	TrafficTrendPct     float64 // 7-day vs prior-7-day footfall change
	WoWTxChangePct      float64
	WoWSalesChangePct   float64
	ConsecutiveDeclines int
}

// BuildFeatures engineers the shared feature set from up to 30 days of
// history, newest first. Fails with ErrInsufficientData below minDays rows.
func BuildFeatures(history []store.DailyMetrics, refDate string, minDays int) (Features, error) {
	var f Features
	f.DataPoints = len(history)
	if len(history) < minDays {
		return f, ErrInsufficientData
	}

	latest := history[0]
	f.RecentTx = float64(latest.Transactions)
	f.RecentSales = latest.Sales
	f.WeeklyAvgTx = latest.WeeklyAvgTx
	f.WeeklyAvgSal = latest.WeeklyAvgSal

	txs := column(history, func(m store.DailyMetrics) float64 { return float64(m.Transactions) })
	sales := column(history, func(m store.DailyMetrics) float64 { return m.Sales })
	foot := column(history, func(m store.DailyMetrics) float64 { return float64(m.Footfall) })

	txMean, txStd := meanStd(txs)
	salesMean, salesStd := meanStd(sales)
	footMean, footStd := meanStd(foot)

	f.TxCV = cv(txStd, txMean)
	f.SalesCV = cv(salesStd, salesMean)
	f.FootfallCV = cv(footStd, footMean)
	if txStd > 0 {
		f.TxZ = (f.RecentTx - txMean) / txStd
	}
	if salesStd > 0 {
		f.SalesZ = (f.RecentSales - salesMean) / salesStd
	}

	f.TxDropPct = effectiveDrop(latest.TxDropPct, f.RecentTx, txMean)
	if len(history) > 1 {
		prev := history[1]
		f.PrevTxDropPct = effectiveDrop(prev.TxDropPct, float64(prev.Transactions), txMean)
	}
	f.SalesDropPct = effectiveDrop(latest.SalesDropPct, f.RecentSales, salesMean)

	totalShift := latest.EarlyTx + latest.MidTx + latest.LateTx
	f.TotalShiftTx = totalShift
	if totalShift > 0 {
		f.ShiftShares[0] = float64(latest.EarlyTx) / float64(totalShift) * 100
		f.ShiftShares[1] = float64(latest.MidTx) / float64(totalShift) * 100
		f.ShiftShares[2] = float64(latest.LateTx) / float64(totalShift) * 100
	}

	if latest.Footfall > 0 {
		f.HasFootfall = true
		f.ConversionPct = float64(latest.Transactions) / float64(latest.Footfall) * 100
	}

	f.DaysSinceLast = daysBetween(latest.Date, refDate)
	f.TrafficTrendPct = weekOverWeek(foot)
	f.WoWTxChangePct = weekOverWeek(txs)
	f.WoWSalesChangePct = weekOverWeek(sales)
	f.ConsecutiveDeclines = consecutiveDeclines(txs)

	return f, nil
}

func column(history []store.DailyMetrics, pick func(store.DailyMetrics) float64) []float64 {
	out := make([]float64, len(history))
	for i, m := range history {
		out[i] = pick(m)
	}
	return out
}

// meanStd returns the arithmetic mean and population standard deviation.
func meanStd(vals []float64) (mean, std float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(vals)))
}

func cv(std, mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	return std / mean
}

// effectiveDrop prefers the pre-computed drop percentage and back-fills
// against the window mean when it is not positive.
func effectiveDrop(stored, recent, mean float64) float64 {
	if stored > 0 {
		return math.Min(stored, 100)
	}
	if mean <= 0 || recent >= mean {
		return 0
	}
	return math.Min((mean-recent)/mean*100, 100)
}

// weekOverWeek compares the most recent 7 values against the prior 7.
// Returns 0 without two full weeks of data.
func weekOverWeek(vals []float64) float64 {
	if len(vals) < 14 {
		return 0
	}
	var recent, prior float64
	for i := 0; i < 7; i++ {
		recent += vals[i]
		prior += vals[i+7]
	}
	if prior <= 0 {
		return 0
	}
	return (recent - prior) / prior * 100
}

// consecutiveDeclines counts the run of strict day-over-day transaction
// declines ending at the most recent day. Values are newest first.
func consecutiveDeclines(txs []float64) int {
	count := 0
	for i := 0; i+1 < len(txs); i++ {
		if txs[i] < txs[i+1] {
			count++
		} else {
			break
		}
	}
	return count
}

func daysBetween(from, to string) float64 {
	a, err1 := time.Parse(dateLayout, from)
	b, err2 := time.Parse(dateLayout, to)
	if err1 != nil || err2 != nil {
		return 0
	}
	d := b.Sub(a).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}
