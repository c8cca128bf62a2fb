// Package sqlite 将每次对账运行归档到 SQLite 数据库。
// 金额以十进制字符串保存，时间以 UTC RFC3339Nano 文本保存。
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"intent-ledger-reconciler/internal/core/model"
)

// ErrRunNotFound 运行记录不存在
var ErrRunNotFound = errors.New("运行记录不存在")

// Run 一次运行的归档内容
type Run struct {
	// ID 运行编号
	ID string
	// Source 报告来源: reconciled 或 ledger
	Source string
	// StartedAt 开始时间
	StartedAt time.Time
	// FinishedAt 结束时间
	FinishedAt time.Time
	// Result 对账结果；账本统计运行为 nil
	Result *model.ReconciliationResult
	// Report 绩效报告
	Report *model.MetricsReport
}

// RunSummary 运行概要
type RunSummary struct {
	ID                string
	Source            string
	StartedAt         time.Time
	Intentions        int
	Matched           int
	Transactions      int
	Trades            int
	TotalPL           decimal.Decimal
	ExecutionAccuracy float64
}

// Store SQLite 归档
type Store struct {
	db *sql.DB
}

// NewStore 打开（必要时创建）数据库并初始化表结构
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// 单写者
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		intentions INTEGER NOT NULL DEFAULT 0,
		matched INTEGER NOT NULL DEFAULT 0,
		transactions INTEGER NOT NULL DEFAULT 0,
		trades INTEGER NOT NULL DEFAULT 0,
		total_pl TEXT NOT NULL DEFAULT '0',
		execution_accuracy REAL NOT NULL DEFAULT 0,
		report TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS matches (
		run_id TEXT NOT NULL,
		intention_time TEXT,
		pair TEXT NOT NULL,
		direction TEXT NOT NULL,
		confidence REAL,
		entry_price TEXT NOT NULL,
		tx_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		units TEXT NOT NULL,
		price TEXT NOT NULL,
		realized_pl TEXT NOT NULL,
		kind TEXT NOT NULL,
		delay_ms INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS unmatched_intentions (
		run_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		timestamp TEXT,
		time_source TEXT NOT NULL,
		pair TEXT NOT NULL,
		direction TEXT NOT NULL,
		reason TEXT,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS unexplained_transactions (
		run_id TEXT NOT NULL,
		tx_id TEXT NOT NULL,
		time TEXT,
		instrument TEXT NOT NULL,
		units TEXT NOT NULL,
		realized_pl TEXT NOT NULL,
		kind TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_matches_run ON matches(run_id);
	CREATE INDEX IF NOT EXISTS idx_unmatched_run ON unmatched_intentions(run_id);
	CREATE INDEX IF NOT EXISTS idx_unexplained_run ON unexplained_transactions(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun 在一个事务内写入运行记录及其明细
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run == nil || run.Report == nil {
		return fmt.Errorf("运行记录缺少报告")
	}
	report, err := json.Marshal(run.Report)
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	var intentions, matched, transactions int
	var accuracy float64
	if run.Result != nil {
		intentions = run.Result.IntentionCount()
		matched = len(run.Result.Matched)
		transactions = run.Result.TransactionCount()
	}
	if run.Report.Summary != nil {
		accuracy = run.Report.Summary.ExecutionAccuracy
		transactions = run.Report.Summary.Transactions
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, source, started_at, finished_at, intentions, matched, transactions, trades, total_pl, execution_accuracy, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Source, timeText(run.StartedAt), timeText(run.FinishedAt),
		intentions, matched, transactions, run.Report.Overall.Trades,
		run.Report.Overall.TotalPL.String(), accuracy, string(report))
	if err != nil {
		return fmt.Errorf("写入运行记录失败: %w", err)
	}

	if run.Result != nil {
		if err := saveDetails(ctx, tx, run.ID, run.Result); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

func saveDetails(ctx context.Context, tx *sql.Tx, runID string, res *model.ReconciliationResult) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO matches (run_id, intention_time, pair, direction, confidence, entry_price, tx_id, instrument, units, price, realized_pl, kind, delay_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("准备匹配明细语句失败: %w", err)
	}
	defer stmt.Close()
	for i := range res.Matched {
		p := &res.Matched[i]
		var conf any
		if p.Intention.HasConfidence() {
			conf = p.Intention.Confidence
		}
		_, err := stmt.ExecContext(ctx, runID, timeText(p.Intention.Timestamp), p.Intention.Pair,
			string(p.Intention.Direction), conf, p.Intention.EntryPrice.String(),
			p.Transaction.ID, p.Transaction.Instrument, p.Transaction.Units.String(),
			p.Transaction.Price.String(), p.Transaction.RealizedPL.String(),
			string(p.Transaction.Kind), p.Delay.Milliseconds())
		if err != nil {
			return fmt.Errorf("写入匹配明细失败: %w", err)
		}
	}

	istmt, err := tx.PrepareContext(ctx, `
		INSERT INTO unmatched_intentions (run_id, outcome, timestamp, time_source, pair, direction, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("准备未匹配意图语句失败: %w", err)
	}
	defer istmt.Close()
	for _, list := range [][]model.Intention{res.UnmatchedExecuted, res.UnmatchedRejected, res.UnmatchedHeld} {
		for i := range list {
			it := &list[i]
			_, err := istmt.ExecContext(ctx, runID, string(it.Outcome), timeText(it.Timestamp),
				string(it.TimeSource), it.Pair, string(it.Direction), it.RejectionReason)
			if err != nil {
				return fmt.Errorf("写入未匹配意图失败: %w", err)
			}
		}
	}

	ustmt, err := tx.PrepareContext(ctx, `
		INSERT INTO unexplained_transactions (run_id, tx_id, time, instrument, units, realized_pl, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("准备未认领账本语句失败: %w", err)
	}
	defer ustmt.Close()
	for i := range res.Unexplained {
		t := &res.Unexplained[i]
		_, err := ustmt.ExecContext(ctx, runID, t.ID, timeText(t.Time), t.Instrument,
			t.Units.String(), t.RealizedPL.String(), string(t.Kind))
		if err != nil {
			return fmt.Errorf("写入未认领账本记录失败: %w", err)
		}
	}
	return nil
}

// Runs 按开始时间倒序列出最近的运行
// 参数 limit: 最多返回条数，<=0 表示不限
func (s *Store) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT id, source, started_at, intentions, matched, transactions, trades, total_pl, execution_accuracy
		FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var started, pl string
		if err := rows.Scan(&r.ID, &r.Source, &started, &r.Intentions, &r.Matched,
			&r.Transactions, &r.Trades, &pl, &r.ExecutionAccuracy); err != nil {
			return nil, fmt.Errorf("读取运行记录失败: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.TotalPL, err = decimal.NewFromString(pl)
		if err != nil {
			return nil, fmt.Errorf("解析总盈亏失败: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReportJSON 读取运行的报告原文
func (s *Store) ReportJSON(ctx context.Context, runID string) ([]byte, error) {
	var report string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, runID).Scan(&report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("读取报告失败: %w", err)
	}
	return []byte(report), nil
}

// DetailCounts 运行的明细行数
type DetailCounts struct {
	Matches     int
	Unmatched   int
	Unexplained int
}

// Details 统计运行的明细行数
func (s *Store) Details(ctx context.Context, runID string) (DetailCounts, error) {
	var c DetailCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM matches WHERE run_id = ?),
			(SELECT COUNT(*) FROM unmatched_intentions WHERE run_id = ?),
			(SELECT COUNT(*) FROM unexplained_transactions WHERE run_id = ?)
	`, runID, runID, runID).Scan(&c.Matches, &c.Unmatched, &c.Unexplained)
	if err != nil {
		return c, fmt.Errorf("统计明细失败: %w", err)
	}
	return c, nil
}

// timeText 零值时间保存为 NULL
func timeText(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
