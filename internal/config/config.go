// Package config 负责加载和验证 YAML 配置文件。
// 提供日志来源、账本来源、匹配容差、统计分组与输出等配置项；
// 凭据类配置项可由环境变量或 .env 文件覆盖。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 环境变量名
const (
	EnvOANDAAPIKey    = "OANDA_API_KEY"
	EnvOANDAAccountID = "OANDA_ACCOUNT_ID"
	EnvOANDABaseURL   = "OANDA_BASE_URL"
	EnvLogStreamURL   = "LOG_STREAM_URL"
	EnvLogStreamToken = "LOG_STREAM_TOKEN"
	// EnvRailwayToken 部署平台令牌，LOG_STREAM_TOKEN 未设置时使用
	EnvRailwayToken = "RAILWAY_TOKEN"
)

// 数据源类型
const (
	LogSourceFile   = "file"
	LogSourceStream = "stream"

	LedgerSourceOANDA = "oanda"
	LedgerSourceCSV   = "csv"
)

// DefaultConfidenceBuckets 默认置信度区间边界
var DefaultConfidenceBuckets = []float64{0.5, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1.0}

// DefaultWinRateFloor 默认胜率下限
const DefaultWinRateFloor = 0.15

// DefaultGroupBy 默认分组维度
var DefaultGroupBy = []string{"instrument", "hour", "weekday", "confidence"}

var validGroupKeys = map[string]bool{
	"instrument": true, "hour": true, "weekday": true, "confidence": true,
}

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Logs 机器人日志来源
	Logs LogsConfig `yaml:"logs"`
	// Ledger 券商账本来源
	Ledger LedgerConfig `yaml:"ledger"`
	// Match 匹配容差
	Match MatchConfig `yaml:"match"`
	// Analysis 统计分析参数
	Analysis AnalysisConfig `yaml:"analysis"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
	// Trace 链路追踪配置
	Trace TraceConfig `yaml:"trace"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
	// LogFile 日志文件路径；为空时只输出到 stderr
	LogFile string `yaml:"log_file"`
	// LogMaxSizeMB 单个日志文件大小上限（MB）
	LogMaxSizeMB int `yaml:"log_max_size_mb"`
	// LogMaxBackups 保留的旧日志文件数
	LogMaxBackups int `yaml:"log_max_backups"`
	// LogMaxAgeDays 旧日志保留天数
	LogMaxAgeDays int `yaml:"log_max_age_days"`
}

// LogsConfig 机器人日志来源配置
type LogsConfig struct {
	// Source 来源类型: file 或 stream
	Source string `yaml:"source"`
	// Path 日志文件路径（file）
	Path string `yaml:"path"`
	// StreamURL 日志流 WebSocket 地址（stream）
	StreamURL string `yaml:"stream_url"`
	// StreamToken 日志流鉴权令牌
	StreamToken string `yaml:"stream_token"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// ReadTimeoutMs 读取超时（毫秒）
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
	// IdleTimeoutMs 无新消息多久视为回放结束（毫秒）
	IdleTimeoutMs int `yaml:"idle_timeout_ms"`
	// MaxReconnects 最大重连次数
	MaxReconnects int `yaml:"max_reconnects"`
	// HoursBack 拉取最近多少小时的日志
	HoursBack int `yaml:"hours_back"`
	// Timezone 日志中无时区时间戳所在时区，如 UTC、Asia/Shanghai
	Timezone string `yaml:"timezone"`
}

// LedgerConfig 券商账本配置
type LedgerConfig struct {
	// Source 来源类型: oanda 或 csv
	Source string `yaml:"source"`
	// BaseURL REST API 地址
	BaseURL string `yaml:"base_url"`
	// AccountID 账户编号
	AccountID string `yaml:"account_id"`
	// APIKey 访问令牌（建议通过环境变量提供）
	APIKey string `yaml:"api_key"`
	// TimeoutMs HTTP 请求超时（毫秒）
	TimeoutMs int `yaml:"timeout_ms"`
	// PageSize 账本分页大小
	PageSize int `yaml:"page_size"`
	// MaxRetries 失败重试次数
	MaxRetries int `yaml:"max_retries"`
	// DaysBack 拉取最近多少天的账本
	DaysBack int `yaml:"days_back"`
	// CSVPath 账本导出 CSV 路径（csv）
	CSVPath string `yaml:"csv_path"`
	// SkipOpenTrades 不拉取当前持仓
	SkipOpenTrades bool `yaml:"skip_open_trades"`
}

// MatchConfig 匹配容差配置
type MatchConfig struct {
	// TimeWindowSec 意图与成交的最大时间差（秒）
	TimeWindowSec int `yaml:"time_window_sec"`
	// PriceTolerance 最大相对价差，如 0.001 表示 0.1%
	PriceTolerance float64 `yaml:"price_tolerance"`
}

// AnalysisConfig 统计分析配置
type AnalysisConfig struct {
	// GroupBy 分组维度: instrument, hour, weekday, confidence
	GroupBy []string `yaml:"group_by"`
	// ConfidenceBuckets 置信度区间边界，严格递增且位于 [0,1]
	ConfidenceBuckets []float64 `yaml:"confidence_buckets"`
	// WinRateFloor 阈值建议使用的胜率下限；未设置时为 0.15，显式 0 表示不设下限
	WinRateFloor *float64 `yaml:"win_rate_floor"`
	// TopN 最佳/最差分组数量
	TopN int `yaml:"top_n"`
	// EstimateMissingConfidence 为缺失置信度的记录估算置信度
	EstimateMissingConfidence bool `yaml:"estimate_missing_confidence"`
	// IncludeEstimatedConfidence 估算值是否参与置信度分组与相关性
	IncludeEstimatedConfidence bool `yaml:"include_estimated_confidence"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// JSONLEnabled 是否输出 JSONL 明细
	JSONLEnabled bool `yaml:"jsonl_enabled"`
	// SQLitePath 运行记录数据库路径；为空时不持久化
	SQLitePath string `yaml:"sqlite_path"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// TraceConfig 链路追踪配置
type TraceConfig struct {
	// Enabled 是否启用
	Enabled bool `yaml:"enabled"`
	// ServiceName 服务名
	ServiceName string `yaml:"service_name"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径；同目录与当前目录下的 .env 会先被加载
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}

	// 读取配置文件
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析 YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyEnv()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv 依次加载存在的 .env 文件；已存在的环境变量不会被覆盖
func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// applyEnv 用环境变量覆盖凭据类配置
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvOANDAAPIKey); v != "" {
		c.Ledger.APIKey = v
	}
	if v := os.Getenv(EnvOANDAAccountID); v != "" {
		c.Ledger.AccountID = v
	}
	if v := os.Getenv(EnvOANDABaseURL); v != "" {
		c.Ledger.BaseURL = v
	}
	if v := os.Getenv(EnvLogStreamURL); v != "" {
		c.Logs.StreamURL = v
	}
	if v := os.Getenv(EnvLogStreamToken); v != "" {
		c.Logs.StreamToken = v
	} else if v := os.Getenv(EnvRailwayToken); v != "" && c.Logs.StreamToken == "" {
		c.Logs.StreamToken = v
	}
}

// setDefaults 设置配置默认值
func (c *Config) setDefaults() {
	if c.App.Name == "" {
		c.App.Name = "intent-ledger-reconciler"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.LogMaxSizeMB == 0 {
		c.App.LogMaxSizeMB = 100
	}
	if c.App.LogMaxBackups == 0 {
		c.App.LogMaxBackups = 3
	}
	if c.App.LogMaxAgeDays == 0 {
		c.App.LogMaxAgeDays = 28
	}

	// 日志来源默认值
	if c.Logs.Source == "" {
		c.Logs.Source = LogSourceFile
	}
	if c.Logs.PingIntervalMs == 0 {
		c.Logs.PingIntervalMs = 20000 // 20 秒
	}
	if c.Logs.ReadTimeoutMs == 0 {
		c.Logs.ReadTimeoutMs = 30000 // 30 秒
	}
	if c.Logs.IdleTimeoutMs == 0 {
		c.Logs.IdleTimeoutMs = 5000 // 5 秒
	}
	if c.Logs.MaxReconnects == 0 {
		c.Logs.MaxReconnects = 5
	}
	if c.Logs.HoursBack == 0 {
		c.Logs.HoursBack = 24
	}

	// 账本默认值
	if c.Ledger.Source == "" {
		c.Ledger.Source = LedgerSourceOANDA
	}
	if c.Ledger.BaseURL == "" {
		c.Ledger.BaseURL = "https://api-fxpractice.oanda.com"
	}
	if c.Ledger.TimeoutMs == 0 {
		c.Ledger.TimeoutMs = 10000 // 10 秒
	}
	if c.Ledger.PageSize == 0 {
		c.Ledger.PageSize = 1000
	}
	if c.Ledger.MaxRetries == 0 {
		c.Ledger.MaxRetries = 3
	}
	if c.Ledger.DaysBack == 0 {
		c.Ledger.DaysBack = 7
	}

	// 匹配容差默认值
	if c.Match.TimeWindowSec == 0 {
		c.Match.TimeWindowSec = 300 // 5 分钟
	}
	if c.Match.PriceTolerance == 0 {
		c.Match.PriceTolerance = 0.001 // 0.1%
	}

	// 分析默认值
	if len(c.Analysis.GroupBy) == 0 {
		c.Analysis.GroupBy = append([]string(nil), DefaultGroupBy...)
	}
	if len(c.Analysis.ConfidenceBuckets) == 0 {
		c.Analysis.ConfidenceBuckets = append([]float64(nil), DefaultConfidenceBuckets...)
	}
	if c.Analysis.WinRateFloor == nil {
		floor := DefaultWinRateFloor
		c.Analysis.WinRateFloor = &floor
	}
	if c.Analysis.TopN == 0 {
		c.Analysis.TopN = 3
	}

	// 输出默认值
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}

	if c.Trace.ServiceName == "" {
		c.Trace.ServiceName = c.App.Name
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	// 验证日志来源
	switch c.Logs.Source {
	case LogSourceFile:
		if c.Logs.Path == "" {
			errs = append(errs, "logs.path: 日志文件路径不能为空")
		}
	case LogSourceStream:
		if c.Logs.StreamURL == "" {
			errs = append(errs, "logs.stream_url: 日志流地址不能为空")
		}
	default:
		errs = append(errs, fmt.Sprintf("logs.source: 无效的日志来源 '%s'，有效值: file, stream", c.Logs.Source))
	}
	if c.Logs.IdleTimeoutMs < 0 || c.Logs.ReadTimeoutMs < 0 || c.Logs.PingIntervalMs < 0 {
		errs = append(errs, "logs: 超时与心跳间隔不能为负数")
	}
	if c.Logs.HoursBack < 0 {
		errs = append(errs, "logs.hours_back: 不能为负数")
	}
	if _, err := loadLocation(c.Logs.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("logs.timezone: 无效的时区 '%s'", c.Logs.Timezone))
	}

	// 验证账本来源
	switch c.Ledger.Source {
	case LedgerSourceOANDA:
		if c.Ledger.BaseURL == "" {
			errs = append(errs, "ledger.base_url: API 地址不能为空")
		}
		if c.Ledger.AccountID == "" {
			errs = append(errs, fmt.Sprintf("ledger.account_id: 账户编号不能为空（可通过 %s 提供）", EnvOANDAAccountID))
		}
		if c.Ledger.APIKey == "" {
			errs = append(errs, fmt.Sprintf("ledger.api_key: 访问令牌不能为空（可通过 %s 提供）", EnvOANDAAPIKey))
		}
	case LedgerSourceCSV:
		if c.Ledger.CSVPath == "" {
			errs = append(errs, "ledger.csv_path: CSV 路径不能为空")
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger.source: 无效的账本来源 '%s'，有效值: oanda, csv", c.Ledger.Source))
	}
	if c.Ledger.PageSize < 0 || c.Ledger.PageSize > 1000 {
		errs = append(errs, "ledger.page_size: 分页大小必须在 1-1000 之间")
	}
	if c.Ledger.DaysBack < 0 {
		errs = append(errs, "ledger.days_back: 不能为负数")
	}

	// 验证匹配容差
	if c.Match.TimeWindowSec <= 0 {
		errs = append(errs, "match.time_window_sec: 时间窗口必须为正数")
	}
	if c.Match.PriceTolerance <= 0 || c.Match.PriceTolerance >= 1 {
		errs = append(errs, "match.price_tolerance: 价格容差必须在 (0, 1) 之间")
	}

	// 验证分析参数
	for i, k := range c.Analysis.GroupBy {
		if !validGroupKeys[strings.ToLower(k)] {
			errs = append(errs, fmt.Sprintf("analysis.group_by[%d]: 未知的分组维度 '%s'，有效值: instrument, hour, weekday, confidence", i, k))
		}
	}
	if err := ValidateBuckets(c.Analysis.ConfidenceBuckets); err != nil {
		errs = append(errs, "analysis.confidence_buckets: "+err.Error())
	}
	if f := c.Analysis.WinRateFloor; f != nil && (*f < 0 || *f > 1) {
		errs = append(errs, "analysis.win_rate_floor: 胜率下限必须在 0-1 之间")
	}
	if c.Analysis.TopN <= 0 {
		errs = append(errs, "analysis.top_n: 必须为正数")
	}

	if c.Output.BufferSize <= 0 {
		errs = append(errs, "output.buffer_size: 缓冲区大小必须为正数")
	}

	// 验证日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ValidateBuckets 验证置信度区间边界
// 至少两个边界，严格递增，且位于 [0,1]
func ValidateBuckets(edges []float64) error {
	if len(edges) < 2 {
		return fmt.Errorf("至少需要两个边界")
	}
	for i, v := range edges {
		if v < 0 || v > 1 {
			return fmt.Errorf("边界 %v 超出 [0,1]", v)
		}
		if i > 0 && v <= edges[i-1] {
			return fmt.Errorf("边界必须严格递增: %v <= %v", v, edges[i-1])
		}
	}
	return nil
}

// TimeWindow 匹配时间窗口
func (m MatchConfig) TimeWindow() time.Duration {
	return time.Duration(m.TimeWindowSec) * time.Second
}

// Location 日志时区
func (l LogsConfig) Location() *time.Location {
	loc, err := loadLocation(l.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LookBack 日志回看时长
func (l LogsConfig) LookBack() time.Duration {
	return time.Duration(l.HoursBack) * time.Hour
}

// LookBack 账本回看时长
func (l LedgerConfig) LookBack() time.Duration {
	return time.Duration(l.DaysBack) * 24 * time.Hour
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
