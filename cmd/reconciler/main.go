// Package main 是意图-账本对账器的入口点。
// 从交易机器人日志中提取交易意图，与券商账本逐笔对账，并输出绩效报告。
//
// 本工具只读取日志与账本，不会下单。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"intent-ledger-reconciler/internal/config"
	"intent-ledger-reconciler/internal/ledger"
	"intent-ledger-reconciler/internal/logsource"
	"intent-ledger-reconciler/internal/output/jsonl"
	"intent-ledger-reconciler/internal/output/sqlite"
	"intent-ledger-reconciler/internal/pipeline"
	"intent-ledger-reconciler/internal/trace"
)

// Version 版本号，构建时可通过 -ldflags 覆盖
var Version = "0.1.0"

// app 命令共享的运行环境
type app struct {
	configPath string
	jsonOut    bool

	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer
}

func main() {
	a := &app{stdout: os.Stdout}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "reconciler",
		Short:         "交易意图与券商账本对账",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = newLogger(&cfg.App)
			return trace.Init(cfg.Trace, Version, os.Stderr)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = trace.Shutdown(ctx)
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "configs/config.yaml", "配置文件路径")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "以 JSON 输出完整报告")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "获取日志与账本并完成对账",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.execute(cmd.Context(), false)
			},
		},
		&cobra.Command{
			Use:   "ledger",
			Short: "仅基于账本计算绩效统计",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.execute(cmd.Context(), true)
			},
		},
		newRunsCmd(a),
	)
	return root
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "列出已归档的运行",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Output.SQLitePath == "" {
				return fmt.Errorf("未配置 output.sqlite_path")
			}
			st, err := sqlite.NewStore(a.cfg.Output.SQLitePath)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(a.stdout, runs)
			}
			printRuns(a.stdout, runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "最多显示条数")
	return cmd
}

// execute 执行一次对账或账本统计，并写出结果
func (a *app) execute(parent context.Context, ledgerOnly bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// 捕获 SIGINT/SIGTERM，取消进行中的拉取
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer ossignal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			a.logger.Info("收到退出信号，取消运行")
			cancel()
		case <-ctx.Done():
		}
	}()

	src, err := ledger.New(&a.cfg.Ledger, a.logger)
	if err != nil {
		return err
	}
	deps := pipeline.Deps{Ledger: src, Logger: a.logger}
	if !ledgerOnly {
		logs, err := logsource.New(&a.cfg.Logs, a.logger)
		if err != nil {
			return err
		}
		deps.Logs = logs
	}

	runner, err := pipeline.NewRunner(a.cfg, deps)
	if err != nil {
		return err
	}

	var out *pipeline.Outcome
	if ledgerOnly {
		out, err = runner.RunLedger(ctx)
	} else {
		out, err = runner.Run(ctx)
	}
	if err != nil {
		return err
	}

	if err := a.archive(ctx, out); err != nil {
		// 归档失败不影响报告输出
		a.logger.Error("写出运行结果失败", zap.Error(err))
	}

	if a.jsonOut {
		return writeJSON(a.stdout, out)
	}
	printOutcome(a.stdout, out)
	return nil
}

func (a *app) archive(ctx context.Context, out *pipeline.Outcome) error {
	var w *jsonl.Writer
	if a.cfg.Output.JSONLEnabled {
		path := filepath.Join(a.cfg.Output.Dir, fmt.Sprintf("%s_%s.jsonl", out.Source, out.StartedAt.UTC().Format("20060102T150405Z")))
		var err error
		w, err = jsonl.NewWriter(path, a.cfg.Output.BufferSize)
		if err != nil {
			return err
		}
		defer w.Close()
	}

	var st *sqlite.Store
	if a.cfg.Output.SQLitePath != "" {
		var err error
		st, err = sqlite.NewStore(a.cfg.Output.SQLitePath)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	if err := pipeline.Archive(ctx, out, w, st); err != nil {
		return err
	}
	if w != nil {
		a.logger.Info("JSONL 明细已写出", zap.String("path", w.Path()), zap.Int64("records", w.Written()), zap.Int64("dropped", w.Dropped()))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
