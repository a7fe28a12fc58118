package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite access for daily metrics and prediction outcomes.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daily_metrics (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id TEXT NOT NULL,
            date TEXT NOT NULL,
            transactions INTEGER NOT NULL DEFAULT 0,
            sales REAL NOT NULL DEFAULT 0,
            footfall INTEGER NOT NULL DEFAULT 0,
            early_tx INTEGER NOT NULL DEFAULT 0,
            mid_tx INTEGER NOT NULL DEFAULT 0,
            late_tx INTEGER NOT NULL DEFAULT 0,
            early_sales REAL NOT NULL DEFAULT 0,
            mid_sales REAL NOT NULL DEFAULT 0,
            late_sales REAL NOT NULL DEFAULT 0,
            prev_transactions INTEGER NOT NULL DEFAULT 0,
            prev_sales REAL NOT NULL DEFAULT 0,
            prev_footfall INTEGER NOT NULL DEFAULT 0,
            weekly_avg_tx REAL NOT NULL DEFAULT 0,
            weekly_avg_sales REAL NOT NULL DEFAULT 0,
            tx_drop_pct REAL NOT NULL DEFAULT 0,
            sales_drop_pct REAL NOT NULL DEFAULT 0,
            created_at TIMESTAMP,
            updated_at TIMESTAMP
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_metrics_tenant_date ON daily_metrics(tenant_id, date);`,
		`CREATE TABLE IF NOT EXISTS prediction_outcomes (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            tenant_id TEXT NOT NULL,
            date TEXT NOT NULL,
            risk_score REAL NOT NULL,
            risk_percentage REAL NOT NULL,
            risk_level TEXT NOT NULL,
            description TEXT NOT NULL,
            factors_json TEXT NOT NULL DEFAULT '[]',
            confidence REAL NOT NULL DEFAULT 0,
            used_fallback INTEGER NOT NULL DEFAULT 0,
            analysis_quality TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMP
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_outcomes_tenant_date ON prediction_outcomes(tenant_id, date);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// DailyMetrics is one row of operational counters per (tenant, calendar date).
// Dates are stored as YYYY-MM-DD in the tenant's calendar.
type DailyMetrics struct {
	ID           int64     `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Date         string    `json:"date"`
	Transactions int       `json:"transactions"`
	Sales        float64   `json:"sales"`
	Footfall     int       `json:"footfall"`
	EarlyTx      int       `json:"early_tx"`
	MidTx        int       `json:"mid_tx"`
	LateTx       int       `json:"late_tx"`
	EarlySales   float64   `json:"early_sales"`
	MidSales     float64   `json:"mid_sales"`
	LateSales    float64   `json:"late_sales"`
	PrevTx       int       `json:"prev_transactions"`
	PrevSales    float64   `json:"prev_sales"`
	PrevFootfall int       `json:"prev_footfall"`
	WeeklyAvgTx  float64   `json:"weekly_avg_tx"`
	WeeklyAvgSal float64   `json:"weekly_avg_sales"`
	TxDropPct    float64   `json:"tx_drop_pct"`
	SalesDropPct float64   `json:"sales_drop_pct"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PredictionOutcome is the persisted result of one orchestrated run.
type PredictionOutcome struct {
	ID              int64     `json:"id"`
	RunID           string    `json:"run_id"`
	TenantID        string    `json:"tenant_id"`
	Date            string    `json:"date"`
	RiskScore       float64   `json:"risk_score"`
	RiskPercentage  float64   `json:"risk_percentage"`
	RiskLevel       string    `json:"risk_level"`
	Description     string    `json:"description"`
	Factors         []string  `json:"factors"`
	Confidence      float64   `json:"confidence"`
	UsedFallback    bool      `json:"used_fallback"`
	AnalysisQuality string    `json:"analysis_quality"`
	CreatedAt       time.Time `json:"created_at"`
}

const metricsCols = `id, tenant_id, date, transactions, sales, footfall,
    early_tx, mid_tx, late_tx, early_sales, mid_sales, late_sales,
    prev_transactions, prev_sales, prev_footfall, weekly_avg_tx, weekly_avg_sales,
    tx_drop_pct, sales_drop_pct, created_at, updated_at`

// UpsertDailyMetrics inserts or fully replaces the row for (tenant, date).
func (s *Store) UpsertDailyMetrics(ctx context.Context, m *DailyMetrics) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO daily_metrics(
        tenant_id, date, transactions, sales, footfall,
        early_tx, mid_tx, late_tx, early_sales, mid_sales, late_sales,
        prev_transactions, prev_sales, prev_footfall, weekly_avg_tx, weekly_avg_sales,
        tx_drop_pct, sales_drop_pct, created_at, updated_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT(tenant_id, date) DO UPDATE SET
            transactions=excluded.transactions, sales=excluded.sales, footfall=excluded.footfall,
            early_tx=excluded.early_tx, mid_tx=excluded.mid_tx, late_tx=excluded.late_tx,
            early_sales=excluded.early_sales, mid_sales=excluded.mid_sales, late_sales=excluded.late_sales,
            prev_transactions=excluded.prev_transactions, prev_sales=excluded.prev_sales,
            prev_footfall=excluded.prev_footfall, weekly_avg_tx=excluded.weekly_avg_tx,
            weekly_avg_sales=excluded.weekly_avg_sales, tx_drop_pct=excluded.tx_drop_pct,
            sales_drop_pct=excluded.sales_drop_pct, updated_at=excluded.updated_at`,
		m.TenantID, m.Date, m.Transactions, m.Sales, m.Footfall,
		m.EarlyTx, m.MidTx, m.LateTx, m.EarlySales, m.MidSales, m.LateSales,
		m.PrevTx, m.PrevSales, m.PrevFootfall, m.WeeklyAvgTx, m.WeeklyAvgSal,
		m.TxDropPct, m.SalesDropPct, m.CreatedAt, m.UpdatedAt)
	return err
}

func scanMetrics(row interface{ Scan(...any) error }) (*DailyMetrics, error) {
	var m DailyMetrics
	var created, updated sql.NullTime
	err := row.Scan(&m.ID, &m.TenantID, &m.Date, &m.Transactions, &m.Sales, &m.Footfall,
		&m.EarlyTx, &m.MidTx, &m.LateTx, &m.EarlySales, &m.MidSales, &m.LateSales,
		&m.PrevTx, &m.PrevSales, &m.PrevFootfall, &m.WeeklyAvgTx, &m.WeeklyAvgSal,
		&m.TxDropPct, &m.SalesDropPct, &created, &updated)
	if err != nil {
		return nil, err
	}
	if created.Valid {
		m.CreatedAt = created.Time
	}
	if updated.Valid {
		m.UpdatedAt = updated.Time
	}
	return &m, nil
}

// MetricsForDate returns the row for (tenant, date), or nil when absent.
func (s *Store) MetricsForDate(ctx context.Context, tenantID, date string) (*DailyMetrics, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+metricsCols+` FROM daily_metrics WHERE tenant_id=? AND date=?`, tenantID, date)
	m, err := scanMetrics(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// EnsureMetrics fetches the row for (tenant, date), lazily creating an
// all-zero row when none exists yet.
func (s *Store) EnsureMetrics(ctx context.Context, tenantID, date string) (*DailyMetrics, error) {
	m, err := s.MetricsForDate(ctx, tenantID, date)
	if err != nil {
		return nil, err
	}
	if m != nil {
		return m, nil
	}
	now := time.Now().UTC()
	blank := &DailyMetrics{TenantID: tenantID, Date: date, CreatedAt: now, UpdatedAt: now}
	if err := s.UpsertDailyMetrics(ctx, blank); err != nil {
		return nil, err
	}
	return s.MetricsForDate(ctx, tenantID, date)
}

// HistoryBefore returns up to limit rows strictly before date, newest first.
func (s *Store) HistoryBefore(ctx context.Context, tenantID, date string, limit int) ([]DailyMetrics, error) {
	return s.queryHistory(ctx, `SELECT `+metricsCols+` FROM daily_metrics
        WHERE tenant_id=? AND date<? ORDER BY date DESC LIMIT ?`, tenantID, date, limit)
}

// HistoryThrough returns up to limit rows at or before date, newest first.
func (s *Store) HistoryThrough(ctx context.Context, tenantID, date string, limit int) ([]DailyMetrics, error) {
	return s.queryHistory(ctx, `SELECT `+metricsCols+` FROM daily_metrics
        WHERE tenant_id=? AND date<=? ORDER BY date DESC LIMIT ?`, tenantID, date, limit)
}

func (s *Store) queryHistory(ctx context.Context, q, tenantID, date string, limit int) ([]DailyMetrics, error) {
	rows, err := s.db.QueryContext(ctx, q, tenantID, date, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DailyMetrics
	for rows.Next() {
		m, err := scanMetrics(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ReplaceOutcome deletes any existing outcome for (tenant, date) and inserts
// the new one inside a single transaction. Re-running a prediction for the
// same day therefore leaves exactly one row.
func (s *Store) ReplaceOutcome(ctx context.Context, o *PredictionOutcome) error {
	factorsJSON, err := json.Marshal(o.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM prediction_outcomes WHERE tenant_id=? AND date=?`, o.TenantID, o.Date); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO prediction_outcomes(
        run_id, tenant_id, date, risk_score, risk_percentage, risk_level,
        description, factors_json, confidence, used_fallback, analysis_quality, created_at)
        VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.RunID, o.TenantID, o.Date, o.RiskScore, o.RiskPercentage, o.RiskLevel,
		o.Description, string(factorsJSON), o.Confidence, boolToInt(o.UsedFallback), o.AnalysisQuality, o.CreatedAt)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	o.ID, _ = res.LastInsertId()
	return nil
}

func scanOutcome(row interface{ Scan(...any) error }) (*PredictionOutcome, error) {
	var o PredictionOutcome
	var factorsJSON string
	var fallback int
	var created sql.NullTime
	err := row.Scan(&o.ID, &o.RunID, &o.TenantID, &o.Date, &o.RiskScore, &o.RiskPercentage,
		&o.RiskLevel, &o.Description, &factorsJSON, &o.Confidence, &fallback, &o.AnalysisQuality, &created)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(factorsJSON), &o.Factors); err != nil {
		o.Factors = nil
	}
	o.UsedFallback = fallback != 0
	if created.Valid {
		o.CreatedAt = created.Time
	}
	return &o, nil
}

const outcomeCols = `id, run_id, tenant_id, date, risk_score, risk_percentage,
    risk_level, description, factors_json, confidence, used_fallback, analysis_quality, created_at`

// LatestOutcome returns the most recent persisted outcome for a tenant, or
// nil when none exists.
func (s *Store) LatestOutcome(ctx context.Context, tenantID string) (*PredictionOutcome, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outcomeCols+` FROM prediction_outcomes
        WHERE tenant_id=? ORDER BY date DESC LIMIT 1`, tenantID)
	o, err := scanOutcome(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// OutcomeForDate returns the outcome for (tenant, date), or nil when absent.
func (s *Store) OutcomeForDate(ctx context.Context, tenantID, date string) (*PredictionOutcome, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outcomeCols+` FROM prediction_outcomes
        WHERE tenant_id=? AND date=?`, tenantID, date)
	o, err := scanOutcome(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// OutcomeCount reports rows for (tenant, date). Used by idempotency tests.
func (s *Store) OutcomeCount(ctx context.Context, tenantID, date string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prediction_outcomes WHERE tenant_id=? AND date=?`, tenantID, date)
	var n int
	err := row.Scan(&n)
	return n, err
}

// TenantsWithMetricsOn lists tenants that have a metrics row on date.
func (s *Store) TenantsWithMetricsOn(ctx context.Context, date string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM daily_metrics WHERE date=? ORDER BY tenant_id`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Counts reports table sizes for the ops status endpoint.
func (s *Store) Counts(ctx context.Context) (metrics, outcomes int64, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM daily_metrics`).Scan(&metrics); err != nil {
		return
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM prediction_outcomes`).Scan(&outcomes)
	return
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
