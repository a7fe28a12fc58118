// Package factors derives a prioritized, human-readable list of contributing
// factors from one day of metrics. It explains a risk score; it never
// computes one.
package factors

import (
	"fmt"

	"churnwatch/internal/features"
	"churnwatch/internal/store"
)

const maxFactors = 7

type severity int

const (
	sevCritical severity = iota
	sevWarning
	sevPositive
	sevInfo
)

type factor struct {
	sev severity
	msg string
}

// Result carries the assembled factor list plus severity counts. The counts
// feed the fallback scorer's critical multiplier and the run description.
type Result struct {
	Factors  []string
	Critical int
	Warning  int
	Positive int
	Info     int
}

// Fixed messages emitted when no individual check fires.
var (
	zeroDataFactors = []string{
		"No sales activity recorded yet",
		"Enter today's transactions to start churn monitoring",
	}
	steadyFactors = []string{
		"Business metrics look stable",
		"No significant churn signals detected",
	}
)

// Analyze evaluates each metric independently against its threshold ladder
// and assembles the factor list: criticals and warnings first, then up to 3
// positives while the list holds at most 3 entries, then up to 2
// informational entries while it holds at most 4, truncated to 7. When nothing fires, one of two
// fixed message pairs is returned depending on whether all core metrics are
// zero.
func Analyze(today *store.DailyMetrics, baseline features.Baseline, vec features.Vector) Result {
	var found []factor
	add := func(sev severity, format string, args ...any) {
		found = append(found, factor{sev: sev, msg: fmt.Sprintf(format, args...)})
	}

	txDrop, _ := vec.Get(features.FeatTxDrop)
	salesDrop, _ := vec.Get(features.FeatSalesDrop)
	trafficDrop, _ := vec.Get(features.FeatTrafficDrop)
	imbalance, _ := vec.Get(features.FeatImbalance)

	switch {
	case txDrop >= 50:
		add(sevCritical, "Transactions down %.0f%% vs the recent average", txDrop)
	case txDrop >= 25:
		add(sevWarning, "Transactions down %.0f%% vs the recent average", txDrop)
	case txDrop >= 10:
		add(sevInfo, "Transactions slightly below the recent average (%.0f%%)", txDrop)
	case baseline.Days > 0 && today.Transactions > 0:
		add(sevPositive, "Transaction volume holding at or above the recent average")
	}

	switch {
	case salesDrop >= 50:
		add(sevCritical, "Sales down %.0f%% vs the recent average", salesDrop)
	case salesDrop >= 25:
		add(sevWarning, "Sales down %.0f%% vs the recent average", salesDrop)
	case salesDrop >= 10:
		add(sevInfo, "Sales slightly below the recent average (%.0f%%)", salesDrop)
	case baseline.Days > 0 && today.Sales > 0:
		add(sevPositive, "Sales holding at or above the recent average")
	}

	switch {
	case trafficDrop >= 50:
		add(sevCritical, "Customer traffic down %.0f%% vs the recent average", trafficDrop)
	case trafficDrop >= 30:
		add(sevWarning, "Customer traffic down %.0f%% vs the recent average", trafficDrop)
	}

	analyzeShiftShares(today, add)

	switch {
	case imbalance >= 70:
		add(sevWarning, "Very uneven activity across shifts (imbalance %.0f%%)", imbalance)
	case imbalance > 0 && imbalance < 30 && today.Transactions > 0:
		add(sevPositive, "Activity is well balanced across shifts")
	}

	if today.Transactions > 0 {
		ticket := today.Sales / float64(today.Transactions)
		switch {
		case ticket > 0 && ticket < 50:
			add(sevWarning, "Average ticket is low at ₱%.2f", ticket)
		case ticket >= 500:
			add(sevPositive, "Healthy average ticket at ₱%.2f", ticket)
		}
	}

	analyzeConversion(today, add)
	analyzeWeeklyTrend(today, add)

	switch {
	case today.Transactions > 0 && today.Transactions < 5 && today.Sales < 500:
		add(sevWarning, "Very low daily activity (%d sales, ₱%.2f)", today.Transactions, today.Sales)
	case today.Transactions >= 100 || today.Sales >= 10000:
		add(sevInfo, "High-volume day (%d sales, ₱%.2f)", today.Transactions, today.Sales)
	}

	analyzeHistoryTrend(today, baseline, add)

	return assemble(found, today)
}

// analyzeShiftShares flags under- or over-concentration in one shift, only
// when total shift volume is statistically meaningful (at least 20
// transactions or 1000 in revenue). At most one factor is emitted, for the worst offender.
func analyzeShiftShares(today *store.DailyMetrics, add func(severity, string, ...any)) {
	totalTx := today.EarlyTx + today.MidTx + today.LateTx
	totalSales := today.EarlySales + today.MidSales + today.LateSales
	if totalTx < 20 && totalSales < 1000 {
		return
	}
	names := []string{"early", "mid", "late"}
	txShares := []float64{0, 0, 0}
	if totalTx > 0 {
		txShares[0] = float64(today.EarlyTx) / float64(totalTx) * 100
		txShares[1] = float64(today.MidTx) / float64(totalTx) * 100
		txShares[2] = float64(today.LateTx) / float64(totalTx) * 100
	}
	salesShares := []float64{0, 0, 0}
	if totalSales > 0 {
		salesShares[0] = today.EarlySales / totalSales * 100
		salesShares[1] = today.MidSales / totalSales * 100
		salesShares[2] = today.LateSales / totalSales * 100
	}

	// Worst offender wins: the share furthest outside the [10, 60] band.
	worst := -1
	worstGap := 0.0
	worstMsg := ""
	consider := func(i int, share float64, kind string) {
		var gap float64
		var msg string
		switch {
		case totalTx > 0 && share < 10:
			gap = 10 - share
			msg = fmt.Sprintf("Hardly any %s during the %s shift (%.0f%% of the day)", kind, names[i], share)
		case share > 60:
			gap = share - 60
			msg = fmt.Sprintf("%s concentrated in the %s shift (%.0f%% of the day)", title(kind), names[i], share)
		default:
			return
		}
		if gap > worstGap {
			worst, worstGap, worstMsg = i, gap, msg
		}
	}
	if totalTx >= 20 {
		for i, share := range txShares {
			consider(i, share, "transactions")
		}
	}
	if totalSales >= 1000 {
		for i, share := range salesShares {
			consider(i, share, "revenue")
		}
	}
	if worst >= 0 {
		add(sevWarning, "%s", worstMsg)
	}
}

func analyzeConversion(today *store.DailyMetrics, add func(severity, string, ...any)) {
	if today.Footfall <= 0 {
		return
	}
	if today.Transactions == 0 {
		add(sevCritical, "Visitors came in but no sales were closed today")
		return
	}
	conv := float64(today.Transactions) / float64(today.Footfall) * 100
	switch {
	case conv < 30:
		add(sevWarning, "Low footfall-to-sale conversion (%.0f%%)", conv)
	case conv >= 70:
		add(sevPositive, "Strong footfall-to-sale conversion (%.0f%%)", conv)
	}
}

func analyzeWeeklyTrend(today *store.DailyMetrics, add func(severity, string, ...any)) {
	if today.WeeklyAvgTx <= 0 {
		return
	}
	change := (float64(today.Transactions) - today.WeeklyAvgTx) / today.WeeklyAvgTx * 100
	switch {
	case change <= -30:
		add(sevWarning, "Today trails the weekly average by %.0f%%", -change)
	case change >= 15:
		add(sevPositive, "Today runs %.0f%% above the weekly average", change)
	}
}

// analyzeHistoryTrend classifies the multi-day trend vs the rolling average.
// Needs at least 7 days of rollup history.
func analyzeHistoryTrend(today *store.DailyMetrics, baseline features.Baseline, add func(severity, string, ...any)) {
	if baseline.Days < 7 || baseline.Transactions <= 0 {
		return
	}
	ratio := float64(today.Transactions) / baseline.Transactions
	switch {
	case ratio > 1.10:
		add(sevPositive, "Multi-day trend is improving (%.0f%% above the %d-day average)", (ratio-1)*100, baseline.Days)
	case ratio < 0.60:
		add(sevCritical, "Multi-day trend is in steep decline (%.0f%% below the %d-day average)", (1-ratio)*100, baseline.Days)
	case ratio < 0.90:
		add(sevWarning, "Multi-day trend is declining (%.0f%% below the %d-day average)", (1-ratio)*100, baseline.Days)
	default:
		add(sevInfo, "Multi-day trend is stable against the %d-day average", baseline.Days)
	}
}

func assemble(found []factor, today *store.DailyMetrics) Result {
	var res Result
	var positives, infos []string
	for _, f := range found {
		switch f.sev {
		case sevCritical:
			res.Critical++
			res.Factors = append(res.Factors, f.msg)
		case sevWarning:
			res.Warning++
		case sevPositive:
			res.Positive++
			positives = append(positives, f.msg)
		case sevInfo:
			res.Info++
			infos = append(infos, f.msg)
		}
	}
	for _, f := range found {
		if f.sev == sevWarning {
			res.Factors = append(res.Factors, f.msg)
		}
	}

	if len(res.Factors) <= 3 {
		for i := 0; i < len(positives) && i < 3; i++ {
			res.Factors = append(res.Factors, positives[i])
		}
	}
	if len(res.Factors) <= 4 {
		for i := 0; i < len(infos) && i < 2; i++ {
			res.Factors = append(res.Factors, infos[i])
		}
	}
	if len(res.Factors) == 0 {
		if today.Transactions == 0 && today.Sales == 0 && today.Footfall == 0 {
			res.Factors = append(res.Factors, zeroDataFactors...)
		} else {
			res.Factors = append(res.Factors, steadyFactors...)
		}
	}
	if len(res.Factors) > maxFactors {
		res.Factors = res.Factors[:maxFactors]
	}
	return res
}

// ZeroDataFactors returns the fixed message pair for a day with no recorded
// activity. The new-user prediction path reuses it.
func ZeroDataFactors() []string {
	out := make([]string, len(zeroDataFactors))
	copy(out, zeroDataFactors)
	return out
}

func title(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
