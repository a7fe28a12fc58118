package ensemble

import (
	"fmt"
	"math"
)

// SubModel is one independent scorer's output: a 0-100 score, a confidence,
// and the signals it fired.
type SubModel struct {
	Name       string
	Score      float64
	Confidence float64
	Signals    []string
}

func newSub(name string) *SubModel { return &SubModel{Name: name} }

func (s *SubModel) addScore(points float64, format string, args ...any) {
	s.Score += points
	s.Signals = append(s.Signals, fmt.Sprintf(format, args...))
}

func (s *SubModel) cap() {
	if s.Score > 100 {
		s.Score = 100
	}
}

// scoreTrend scores declining volume. Drop percentages contribute tiered
// linear terms above 5%/15% (transactions) and 10%/20% (sales); recent
// volume under 70%/75% of the rolling weekly average adds flat penalties.
func scoreTrend(f Features) SubModel {
	s := newSub("trend")

	switch {
	case f.TxDropPct > 15:
		s.addScore(20+(f.TxDropPct-15)*1.5, "Transaction volume dropping sharply (%.0f%%)", f.TxDropPct)
	case f.TxDropPct > 5:
		s.addScore((f.TxDropPct-5)*2, "Transaction volume trending down (%.0f%%)", f.TxDropPct)
	}

	switch {
	case f.SalesDropPct > 20:
		s.addScore(20+(f.SalesDropPct-20)*1.5, "Sales dropping sharply (%.0f%%)", f.SalesDropPct)
	case f.SalesDropPct > 10:
		s.addScore((f.SalesDropPct-10)*2, "Sales trending down (%.0f%%)", f.SalesDropPct)
	}

	if f.WeeklyAvgTx > 0 && f.RecentTx < f.WeeklyAvgTx*0.70 {
		s.addScore(20, "Transactions running below 70%% of the weekly average")
	}
	if f.WeeklyAvgSal > 0 && f.RecentSales < f.WeeklyAvgSal*0.75 {
		s.addScore(15, "Sales running below 75%% of the weekly average")
	}

	s.cap()
	s.Confidence = math.Min(1, float64(f.DataPoints)/30)
	return *s
}

// scoreVolatility scores erratic day-to-day behavior via coefficients of
// variation: transactions above 0.4, sales above 0.45, footfall above 0.5.
func scoreVolatility(f Features) SubModel {
	s := newSub("volatility")

	if f.TxCV > 0.4 {
		s.addScore(math.Min((f.TxCV-0.4)*120, 40), "Transaction counts highly volatile (CV %.2f)", f.TxCV)
	}
	if f.SalesCV > 0.45 {
		s.addScore(math.Min((f.SalesCV-0.45)*120, 35), "Sales amounts highly volatile (CV %.2f)", f.SalesCV)
	}
	if f.FootfallCV > 0.5 {
		s.addScore(math.Min((f.FootfallCV-0.5)*100, 25), "Customer traffic erratic (CV %.2f)", f.FootfallCV)
	}

	s.cap()
	s.Confidence = math.Min(1, float64(f.DataPoints)/21)
	return *s
}

// scorePattern scores structural pathologies: shift coverage outside the
// 10-60% band, poor conversion, and inactivity gaps longer than 3 days
// (contribution capped at 7 days).
func scorePattern(f Features) SubModel {
	s := newSub("pattern")

	if f.TotalShiftTx > 0 {
		names := []string{"early", "mid", "late"}
		for i, share := range f.ShiftShares {
			if share < 10 {
				s.addScore(15, "Very thin coverage in the %s shift (%.0f%%)", names[i], share)
			} else if share > 60 {
				s.addScore(15, "Activity concentrated in the %s shift (%.0f%%)", names[i], share)
			}
		}
	}

	if f.HasFootfall && f.ConversionPct < 30 {
		s.addScore(25, "Low footfall-to-sale conversion (%.0f%%)", f.ConversionPct)
	}

	if f.DaysSinceLast > 3 {
		days := math.Min(f.DaysSinceLast, 7)
		s.addScore((days-3)*10, "No activity recorded for %.0f days", f.DaysSinceLast)
	}

	s.cap()
	s.Confidence = 0.85
	return *s
}

// scoreAnomaly scores statistical outliers: transaction and sales z-scores
// against the window mean, penalizing z below -1 and more heavily below -2,
// plus a deteriorating week-over-week traffic trend beyond -30%.
func scoreAnomaly(f Features) SubModel {
	s := newSub("anomaly")

	switch {
	case f.TxZ < -2:
		s.addScore(40, "Today's transactions are a severe outlier (z=%.1f)", f.TxZ)
	case f.TxZ < -1:
		s.addScore(20, "Today's transactions are below the normal range (z=%.1f)", f.TxZ)
	}
	switch {
	case f.SalesZ < -2:
		s.addScore(35, "Today's sales are a severe outlier (z=%.1f)", f.SalesZ)
	case f.SalesZ < -1:
		s.addScore(18, "Today's sales are below the normal range (z=%.1f)", f.SalesZ)
	}

	if f.TrafficTrendPct < -30 {
		s.addScore(20, "Customer traffic down %.0f%% week over week", -f.TrafficTrendPct)
	}

	s.cap()
	s.Confidence = math.Min(1, float64(f.DataPoints)/25)
	return *s
}

// scoreMomentum scores worsening direction: an accelerating drop, a run of
// three or more daily declines, and week-over-week drops beyond -10%
// (transactions) / -15% (sales).
func scoreMomentum(f Features) SubModel {
	s := newSub("momentum")

	if f.TxDropPct > 0 && f.TxDropPct > f.PrevTxDropPct {
		s.addScore(20, "Transaction decline is accelerating (%.0f%% vs %.0f%% yesterday)", f.TxDropPct, f.PrevTxDropPct)
	}
	if f.ConsecutiveDeclines >= 3 {
		s.addScore(25, "%d consecutive days of declining transactions", f.ConsecutiveDeclines)
	}
	if f.WoWTxChangePct < -10 {
		s.addScore(15, "Transactions down %.0f%% week over week", -f.WoWTxChangePct)
	}
	if f.WoWSalesChangePct < -15 {
		s.addScore(15, "Sales down %.0f%% week over week", -f.WoWSalesChangePct)
	}

	s.cap()
	s.Confidence = 0.80
	return *s
}
