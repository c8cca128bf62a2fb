package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"intent-ledger-reconciler/internal/core/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "db", "runs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id string, started time.Time) *Run {
	at := started.Add(-time.Hour)
	res := &model.ReconciliationResult{
		Matched: []model.MatchedPair{{
			Intention: model.Intention{
				Timestamp: at, TimeSource: model.TimeLogged, Pair: "EUR/USD",
				Direction: model.DirectionBuy, Confidence: 0.7, ConfidenceSource: model.ConfidenceLogged,
				EntryPrice: decimal.RequireFromString("1.1000"), Outcome: model.OutcomeExecuted,
			},
			Transaction: model.Transaction{
				ID: "10", Time: at.Add(2 * time.Second), Instrument: "EUR_USD",
				Units: decimal.NewFromInt(1000), Price: decimal.RequireFromString("1.1001"),
				RealizedPL: decimal.RequireFromString("12.50"), Kind: model.TxClose,
			},
			Delay: 2 * time.Second,
		}},
		UnmatchedRejected: []model.Intention{{Timestamp: at, Outcome: model.OutcomeRejected, RejectionReason: "spread"}},
		UnmatchedHeld:     []model.Intention{{Outcome: model.OutcomeHeld, TimeSource: model.TimeDefaulted}},
		Unexplained:       []model.Transaction{{ID: "11", Kind: model.TxOther, RealizedPL: decimal.RequireFromString("-0.3")}},
	}
	rep := &model.MetricsReport{
		Source:  "reconciled",
		Overall: model.StatsRow{Key: "ALL", Trades: 1, Wins: 1, TotalPL: decimal.RequireFromString("12.50"), ProfitFactor: model.Ratio(math.Inf(1))},
		Summary: &model.ReconSummary{Transactions: 2, ExecutionAccuracy: 1},
		Caveats: []string{},
	}
	return &Run{ID: id, Source: "reconciled", StartedAt: started, FinishedAt: started.Add(time.Second), Result: res, Report: rep}
}

func TestStore_SaveRunAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	if err := s.SaveRun(ctx, sampleRun("a", t1)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.SaveRun(ctx, sampleRun("b", t1.Add(time.Hour))); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	runs, err := s.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "b" || runs[1].ID != "a" {
		t.Fatalf("runs=%+v, want b then a", runs)
	}
	r := runs[1]
	if r.Intentions != 3 || r.Matched != 1 || r.Transactions != 2 || r.Trades != 1 {
		t.Fatalf("summary=%+v", r)
	}
	if !r.TotalPL.Equal(decimal.RequireFromString("12.5")) || r.ExecutionAccuracy != 1 || !r.StartedAt.Equal(t1) {
		t.Fatalf("summary=%+v", r)
	}

	if limited, _ := s.Runs(ctx, 1); len(limited) != 1 {
		t.Fatalf("limit len=%d, want 1", len(limited))
	}

	c, err := s.Details(ctx, "a")
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	if c.Matches != 1 || c.Unmatched != 2 || c.Unexplained != 1 {
		t.Fatalf("details=%+v", c)
	}

	raw, err := s.ReportJSON(ctx, "a")
	if err != nil {
		t.Fatalf("ReportJSON: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	overall := m["overall"].(map[string]any)
	if overall["profit_factor"] != "+Inf" {
		t.Fatalf("profit_factor=%v, want +Inf", overall["profit_factor"])
	}
}

func TestStore_DuplicateRunRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	if err := s.SaveRun(ctx, sampleRun("a", t1)); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := s.SaveRun(ctx, sampleRun("a", t1)); err == nil {
		t.Fatalf("重复运行编号应失败")
	}
	c, _ := s.Details(ctx, "a")
	if c.Matches != 1 {
		t.Fatalf("matches=%d, want 1", c.Matches)
	}
}

func TestStore_LedgerRunAndMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID: "l", Source: "ledger", StartedAt: time.Now(), FinishedAt: time.Now(),
		Report: &model.MetricsReport{Source: "ledger", Overall: model.StatsRow{Key: "ALL", Trades: 4}},
	}
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	runs, _ := s.Runs(ctx, 0)
	if len(runs) != 1 || runs[0].Trades != 4 || runs[0].Intentions != 0 {
		t.Fatalf("runs=%+v", runs)
	}

	if _, err := s.ReportJSON(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err=%v, want ErrRunNotFound", err)
	}
	if err := s.SaveRun(ctx, &Run{ID: "x"}); err == nil {
		t.Fatalf("缺少报告应失败")
	}
}
