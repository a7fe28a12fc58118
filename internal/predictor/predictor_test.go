package predictor

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"churnwatch/internal/factors"
	"churnwatch/internal/metrics"
	"churnwatch/internal/store"
	"churnwatch/internal/treemodel"
)

const testModelDoc = `{
    "objective": {"name": "binary:logistic"},
    "learner_model_param": {"base_score": "0.5"},
    "trees": [{
        "nodeid": 0, "split": "transaction_drop_pct", "split_condition": 25,
        "yes": 1, "no": 2, "missing": 1,
        "children": [
            {"nodeid": 1, "leaf": -0.5},
            {"nodeid": 2, "leaf": 0.7}
        ]
    }]
}`

var refDate = time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, modelPath string) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := NewEngine(st, treemodel.NewCache(modelPath), metrics.New(), log, 14)
	return eng, st
}

func writeModel(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}

// seedDropScenario inserts identical history days before refDate plus today's
// row, which carries a stored 50% transaction drop.
func seedDropScenario(t *testing.T, st *store.Store, tenant string, historyDays int) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= historyDays; i++ {
		day := refDate.AddDate(0, 0, -i).Format("2006-01-02")
		err := st.UpsertDailyMetrics(ctx, &store.DailyMetrics{
			TenantID: tenant, Date: day, Transactions: 20, Sales: 2000,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", day, err)
		}
	}
	err := st.UpsertDailyMetrics(ctx, &store.DailyMetrics{
		TenantID: tenant, Date: refDate.Format("2006-01-02"),
		Transactions: 20, Sales: 2000, TxDropPct: 50,
	})
	if err != nil {
		t.Fatalf("seed today: %v", err)
	}
}

func TestRunNewUserConstantPath(t *testing.T) {
	eng, st := newTestEngine(t, filepath.Join(t.TempDir(), "absent.json"))
	ctx := context.Background()

	o, err := eng.Run(ctx, "fresh-shop", refDate)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if o.RiskScore != newUserProbability {
		t.Fatalf("RiskScore = %v, want %v", o.RiskScore, newUserProbability)
	}
	if o.RiskPercentage != 5 || o.RiskLevel != LevelLow {
		t.Fatalf("got %v%% %s, want 5%% Low", o.RiskPercentage, o.RiskLevel)
	}
	if o.Confidence != newUserConfidence {
		t.Fatalf("Confidence = %v, want %v", o.Confidence, newUserConfidence)
	}
	if o.AnalysisQuality != QualityInsufficient || o.UsedFallback {
		t.Fatalf("quality = %q fallback = %v", o.AnalysisQuality, o.UsedFallback)
	}
	if !IsNewUser(o) {
		t.Fatal("IsNewUser = false for constant path")
	}
	want := factors.ZeroDataFactors()
	if len(o.Factors) != len(want) || o.Factors[0] != want[0] || o.Factors[1] != want[1] {
		t.Fatalf("factors = %v, want zero-data pair", o.Factors)
	}
	if !strings.Contains(o.Description, "caution") {
		t.Fatalf("low-confidence caveat missing: %q", o.Description)
	}

	// The run also materialized today's zero row.
	m, err := st.MetricsForDate(ctx, "fresh-shop", refDate.Format("2006-01-02"))
	if err != nil || m == nil {
		t.Fatalf("metrics row not created: %v %v", m, err)
	}
}

func TestRunFallbackScoring(t *testing.T) {
	eng, st := newTestEngine(t, filepath.Join(t.TempDir(), "absent.json"))
	seedDropScenario(t, st, "t1", 5)

	o, err := eng.Run(context.Background(), "t1", refDate)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !o.UsedFallback || o.AnalysisQuality != QualityFallback {
		t.Fatalf("expected fallback path, got quality=%q fallback=%v", o.AnalysisQuality, o.UsedFallback)
	}
	// 50% drop is one critical signal: 0.40*0.5 scaled by the 1.2 multiplier.
	if o.RiskScore != 0.24 {
		t.Fatalf("RiskScore = %v, want 0.24", o.RiskScore)
	}
	if o.RiskPercentage != 24 || o.RiskLevel != LevelLow {
		t.Fatalf("got %v%% %s, want 24%% Low", o.RiskPercentage, o.RiskLevel)
	}
	wantConf := 0.35 + 0.3*(5.0/14)
	if math.Abs(o.Confidence-wantConf) > 1e-9 {
		t.Fatalf("Confidence = %v, want %v", o.Confidence, wantConf)
	}
	if !strings.Contains(o.Description, "1 critical") {
		t.Fatalf("description = %q", o.Description)
	}
	if !strings.Contains(o.Description, "caution") {
		t.Fatalf("fallback caveat missing: %q", o.Description)
	}
}

func TestRunModelScoring(t *testing.T) {
	eng, st := newTestEngine(t, writeModel(t, testModelDoc))
	seedDropScenario(t, st, "t1", 5)

	o, err := eng.Run(context.Background(), "t1", refDate)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if o.UsedFallback || o.AnalysisQuality != QualityFull {
		t.Fatalf("expected model path, got quality=%q fallback=%v", o.AnalysisQuality, o.UsedFallback)
	}
	// 50% drop takes the no-branch: margin logit(0.5)+0.7.
	wantProb := treemodel.Sigmoid(treemodel.Logit(0.5) + 0.7)
	if math.Abs(o.RiskScore-wantProb) > 5e-5 {
		t.Fatalf("RiskScore = %v, want ~%v", o.RiskScore, wantProb)
	}
	if o.RiskLevel != LevelHigh {
		t.Fatalf("RiskLevel = %s, want High at %v%%", o.RiskLevel, o.RiskPercentage)
	}
	wantConf := 0.5 + 0.4*(5.0/14)
	if math.Abs(o.Confidence-wantConf) > 1e-9 {
		t.Fatalf("Confidence = %v, want %v", o.Confidence, wantConf)
	}
	if strings.Contains(o.Description, "caution") {
		t.Fatalf("unexpected caveat at confidence %v: %q", o.Confidence, o.Description)
	}
}

func TestRunBrokenModelFallsBack(t *testing.T) {
	eng, st := newTestEngine(t, writeModel(t, `{"trees": "not a list"`))
	seedDropScenario(t, st, "t1", 5)

	o, err := eng.Run(context.Background(), "t1", refDate)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !o.UsedFallback {
		t.Fatal("broken model should downgrade to the heuristic scorer")
	}
}

func TestRunIsIdempotentPerDay(t *testing.T) {
	eng, st := newTestEngine(t, filepath.Join(t.TempDir(), "absent.json"))
	seedDropScenario(t, st, "t1", 5)
	ctx := context.Background()

	first, err := eng.Run(ctx, "t1", refDate)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := eng.Run(ctx, "t1", refDate)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.RunID == second.RunID {
		t.Fatal("reruns must mint fresh run ids")
	}

	n, err := st.OutcomeCount(ctx, "t1", refDate.Format("2006-01-02"))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("outcome rows = %d, want 1 after rerun", n)
	}
	stored, err := st.OutcomeForDate(ctx, "t1", refDate.Format("2006-01-02"))
	if err != nil || stored == nil {
		t.Fatalf("fetch: %v %v", stored, err)
	}
	if stored.RunID != second.RunID {
		t.Fatalf("stored run %s, want latest %s", stored.RunID, second.RunID)
	}
}

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		pct  float64
		want string
	}{
		{0, LevelLow},
		{24.99, LevelLow},
		{25, LevelMedium},
		{64.99, LevelMedium},
		{65, LevelHigh},
		{100, LevelHigh},
	}
	for _, c := range cases {
		if got := Classify(c.pct); got != c.want {
			t.Errorf("Classify(%v) = %q, want %q", c.pct, got, c.want)
		}
	}
}
