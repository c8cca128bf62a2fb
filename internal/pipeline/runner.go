// Package pipeline 串联一次完整运行：获取 → 提取 → 归一化 → 对账 → 统计。
// 除两个数据源外各阶段均为纯函数，运行之间没有共享的可变状态。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"intent-ledger-reconciler/internal/config"
	"intent-ledger-reconciler/internal/core/model"
	"intent-ledger-reconciler/internal/extract"
	"intent-ledger-reconciler/internal/ledger"
	"intent-ledger-reconciler/internal/logsource"
	"intent-ledger-reconciler/internal/reconcile"
	"intent-ledger-reconciler/internal/stats/perf"
	"intent-ledger-reconciler/internal/trace"
	"intent-ledger-reconciler/internal/util/timeutil"
)

// Outcome 一次运行的全部产物（只读）
type Outcome struct {
	// RunID 运行编号
	RunID string `json:"run_id"`
	// Source 报告来源: reconciled 或 ledger
	Source string `json:"source"`
	// StartedAt 开始时间
	StartedAt time.Time `json:"started_at"`
	// FinishedAt 结束时间
	FinishedAt time.Time `json:"finished_at"`
	// LogWindow 日志窗口
	LogWindow timeutil.Window `json:"-"`
	// LedgerWindow 账本窗口
	LedgerWindow timeutil.Window `json:"-"`
	// Extraction 提取统计（仅对账运行）
	Extraction extract.Stats `json:"extraction"`
	// Closures 日志中的平仓声明
	Closures []model.Closure `json:"-"`
	// Normalize 归一化统计
	Normalize ledger.NormalizeStats `json:"normalize"`
	// Transactions 归一化后的账本记录
	Transactions []model.Transaction `json:"-"`
	// Result 对账结果（仅对账运行）
	Result *model.ReconciliationResult `json:"-"`
	// ClosureCheck 平仓声明核对（仅对账运行）
	ClosureCheck *model.ClosureCheck `json:"-"`
	// Report 绩效报告
	Report model.MetricsReport `json:"report"`
}

// Deps 运行依赖
type Deps struct {
	// Logs 日志来源；仅账本运行时可为 nil
	Logs logsource.Source
	// Ledger 账本来源
	Ledger ledger.Source
	// Clock 时间源；nil 时使用系统时钟
	Clock timeutil.Clock
	// Logger 日志记录器；nil 时不输出
	Logger *zap.Logger
}

// Runner 运行器
type Runner struct {
	cfg        *config.Config
	logs       logsource.Source
	ledger     ledger.Source
	reconciler *reconcile.Reconciler
	agg        *perf.Aggregator
	clock      timeutil.Clock
	logger     *zap.Logger
	newRunID   func() string
}

// NewRunner 创建运行器
// 配置中的分组维度、区间与容差在此校验，错误立即返回
func NewRunner(cfg *config.Config, deps Deps) (*Runner, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("账本来源不能为空")
	}

	rec, err := reconcile.New(reconcile.Options{
		TimeWindow:     cfg.Match.TimeWindow(),
		PriceTolerance: cfg.Match.PriceTolerance,
	})
	if err != nil {
		return nil, err
	}

	opts, err := PerfOptions(&cfg.Analysis)
	if err != nil {
		return nil, err
	}
	agg, err := perf.NewAggregator(opts)
	if err != nil {
		return nil, err
	}

	clock := deps.Clock
	if clock == nil {
		clock = timeutil.SystemClock
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		cfg:        cfg,
		logs:       deps.Logs,
		ledger:     deps.Ledger,
		reconciler: rec,
		agg:        agg,
		clock:      clock,
		logger:     logger.Named("pipeline"),
		newRunID:   uuid.NewString,
	}, nil
}

// PerfOptions 由分析配置构造统计参数
func PerfOptions(cfg *config.AnalysisConfig) (perf.Options, error) {
	opts := perf.DefaultOptions()
	if len(cfg.GroupBy) > 0 {
		keys, err := perf.ParseGroupKeys(cfg.GroupBy)
		if err != nil {
			return opts, err
		}
		opts.GroupBy = keys
	}
	if len(cfg.ConfidenceBuckets) > 0 {
		opts.Buckets = append([]float64(nil), cfg.ConfidenceBuckets...)
	}
	if cfg.WinRateFloor != nil {
		opts.WinRateFloor = *cfg.WinRateFloor
	}
	if cfg.TopN > 0 {
		opts.TopN = cfg.TopN
	}
	opts.EstimateMissing = cfg.EstimateMissingConfidence
	opts.IncludeEstimated = cfg.IncludeEstimatedConfidence
	return opts, opts.Validate()
}

// windows 计算日志与账本窗口
// 账本窗口至少覆盖日志窗口再向前一个匹配时间窗口
func (r *Runner) windows(now time.Time) (timeutil.Window, timeutil.Window) {
	logW := timeutil.WindowBack(now, r.cfg.Logs.LookBack())
	ledW := timeutil.WindowBack(now, r.cfg.Ledger.LookBack())
	if from := logW.From.Add(-r.cfg.Match.TimeWindow()); from.Before(ledW.From) {
		ledW.From = from
	}
	return logW, ledW
}

// Run 完整对账
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	if r.logs == nil {
		return nil, fmt.Errorf("日志来源不能为空")
	}

	out := r.begin(perf.SourceReconciled)
	ctx, span := trace.StartSpan(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", out.RunID))
	logger := r.logger.With(zap.String("run_id", out.RunID))
	logger.Info("开始对账", trace.Fields(ctx)...)

	// 两个数据源相互独立，并发获取；任一失败即取消另一个
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		wg               sync.WaitGroup
		text             string
		entries          []ledger.Entry
		open             []ledger.OpenTrade
		logErr, ledgeErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if text, logErr = r.fetchLogs(fetchCtx, out.LogWindow); logErr != nil {
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if entries, open, ledgeErr = r.fetchLedger(fetchCtx, out.LedgerWindow); ledgeErr != nil {
			cancel()
		}
	}()
	wg.Wait()
	// 被对方取消的一侧只会返回 context.Canceled，优先报告真正的失败原因
	switch {
	case logErr != nil && (ledgeErr == nil || !errors.Is(logErr, context.Canceled) || ctx.Err() != nil):
		return nil, fail(span, fmt.Errorf("获取日志失败: %w", logErr))
	case ledgeErr != nil:
		return nil, fail(span, fmt.Errorf("获取账本失败: %w", ledgeErr))
	}

	_, sp := trace.StartSpan(ctx, "extract")
	ex := extract.New(extract.Options{Location: r.cfg.Logs.Location(), Clock: r.clock}).Extract(text)
	sp.SetAttributes(attribute.Int("intentions", len(ex.Intentions)), attribute.Int("closures", len(ex.Closures)))
	sp.End()
	out.Extraction = ex.Stats
	out.Closures = ex.Closures

	r.normalize(ctx, out, entries, open)

	_, sp = trace.StartSpan(ctx, "reconcile")
	res := r.reconciler.Reconcile(ex.Intentions, out.Transactions)
	check := reconcile.CheckClosures(ex.Closures, out.Transactions)
	sp.SetAttributes(attribute.Int("matched", len(res.Matched)), attribute.Int("unexplained", len(res.Unexplained)))
	sp.End()
	out.Result = &res
	out.ClosureCheck = &check

	_, sp = trace.StartSpan(ctx, "aggregate")
	out.Report = r.agg.FromResult(out.Result, out.ClosureCheck)
	sp.End()

	out.FinishedAt = r.clock()
	logger.Info("对账完成",
		zap.Int("lines", ex.Stats.Lines),
		zap.Int("intentions", len(ex.Intentions)),
		zap.Int("defaulted_timestamps", ex.Stats.DefaultedTimestamps),
		zap.Int("discarded_blocks", ex.Stats.DiscardedBlocks),
		zap.Int("transactions", len(out.Transactions)),
		zap.Int("matched", len(res.Matched)),
		zap.Int("unmatched_executed", len(res.UnmatchedExecuted)),
		zap.Int("unexplained", len(res.Unexplained)),
		zap.Float64("execution_accuracy", out.Report.Summary.ExecutionAccuracy),
		zap.Duration("elapsed", out.FinishedAt.Sub(out.StartedAt)),
	)
	return out, nil
}

// RunLedger 仅基于账本的统计
func (r *Runner) RunLedger(ctx context.Context) (*Outcome, error) {
	out := r.begin(perf.SourceLedger)
	ctx, span := trace.StartSpan(ctx, "pipeline.ledger")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", out.RunID))
	logger := r.logger.With(zap.String("run_id", out.RunID))
	logger.Info("开始账本统计", trace.Fields(ctx)...)

	entries, open, err := r.fetchLedger(ctx, out.LedgerWindow)
	if err != nil {
		return nil, fail(span, fmt.Errorf("获取账本失败: %w", err))
	}
	r.normalize(ctx, out, entries, open)

	_, sp := trace.StartSpan(ctx, "aggregate")
	out.Report = r.agg.FromTransactions(out.Transactions)
	sp.End()

	out.FinishedAt = r.clock()
	logger.Info("账本统计完成",
		zap.Int("transactions", len(out.Transactions)),
		zap.Int("trades", out.Report.Overall.Trades),
		zap.String("total_pl", out.Report.Overall.TotalPL.StringFixed(2)),
		zap.Float64("win_rate", out.Report.Overall.WinRate),
		zap.Int("open_positions", out.Report.Open.Count),
	)
	return out, nil
}

func (r *Runner) begin(source string) *Outcome {
	now := r.clock()
	logW, ledW := r.windows(now)
	return &Outcome{
		RunID:        r.newRunID(),
		Source:       source,
		StartedAt:    now,
		LogWindow:    logW,
		LedgerWindow: ledW,
	}
}

func (r *Runner) fetchLogs(ctx context.Context, w timeutil.Window) (string, error) {
	ctx, sp := trace.StartSpan(ctx, "fetch.logs")
	defer sp.End()
	text, err := r.logs.Fetch(ctx, w)
	if err != nil {
		return "", fail(sp, err)
	}
	sp.SetAttributes(attribute.Int("bytes", len(text)))
	return text, nil
}

func (r *Runner) fetchLedger(ctx context.Context, w timeutil.Window) ([]ledger.Entry, []ledger.OpenTrade, error) {
	ctx, sp := trace.StartSpan(ctx, "fetch.ledger")
	defer sp.End()

	entries, err := r.ledger.Transactions(ctx, w)
	if err != nil {
		return nil, nil, fail(sp, err)
	}
	var open []ledger.OpenTrade
	if !r.cfg.Ledger.SkipOpenTrades {
		open, err = r.ledger.OpenTrades(ctx)
		if err != nil {
			return nil, nil, fail(sp, fmt.Errorf("获取当前持仓失败: %w", err))
		}
	}
	sp.SetAttributes(attribute.Int("entries", len(entries)), attribute.Int("open_trades", len(open)))
	return entries, open, nil
}

func (r *Runner) normalize(ctx context.Context, out *Outcome, entries []ledger.Entry, open []ledger.OpenTrade) {
	_, sp := trace.StartSpan(ctx, "normalize")
	defer sp.End()
	out.Transactions, out.Normalize = ledger.NewNormalizer(r.clock).Normalize(entries, open)
	sp.SetAttributes(attribute.Int("transactions", len(out.Transactions)))
	if out.Normalize.Dropped > 0 || out.Normalize.BadTimes > 0 {
		r.logger.Info("账本归一化存在丢弃或无法解析的记录",
			zap.Int("dropped", out.Normalize.Dropped),
			zap.Int("bad_times", out.Normalize.BadTimes),
			zap.Int("orphan_closes", out.Normalize.OrphanCloses),
		)
	}
}

// fail 在 span 上记录错误并原样返回
func fail(sp oteltrace.Span, err error) error {
	sp.RecordError(err)
	sp.SetStatus(codes.Error, err.Error())
	return err
}
