package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"intent-ledger-reconciler/internal/config"
	"intent-ledger-reconciler/internal/util/backoff"
)

// StatusError 非 200 的 HTTP 响应
type StatusError struct {
	// StatusCode HTTP 状态码
	StatusCode int
	// Body 响应体片段
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP 状态码错误: %d: %s", e.StatusCode, e.Body)
}

// Retryable 限流与服务端错误可重试
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// OANDAClient 券商 REST v3 账本客户端
type OANDAClient struct {
	// cfg 账本配置
	cfg *config.LedgerConfig
	// client HTTP 客户端
	client *http.Client
	// logger 日志记录器
	logger *zap.Logger
	// newBackoff 每次请求使用独立的退避计算器
	newBackoff func() *backoff.Backoff
}

// NewOANDAClient 创建账本客户端
// 参数 cfg: 账本配置
// 参数 logger: 日志记录器
func NewOANDAClient(cfg *config.LedgerConfig, logger *zap.Logger) *OANDAClient {
	return &OANDAClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
		logger: logger.Named("oanda"),
		newBackoff: func() *backoff.Backoff {
			return backoff.New(500*time.Millisecond, 10*time.Second, 0.2)
		},
	}
}

// Transactions 获取窗口内的账本条目
// 先获取分页索引，再逐页拉取
func (c *OANDAClient) Transactions(ctx context.Context, w Window) ([]Entry, error) {
	q := url.Values{}
	if !w.From.IsZero() {
		q.Set("from", w.From.UTC().Format(time.RFC3339))
	}
	if !w.To.IsZero() {
		q.Set("to", w.To.UTC().Format(time.RFC3339))
	}
	if c.cfg.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	}
	indexURL := c.accountURL("transactions") + "?" + q.Encode()

	body, err := c.get(ctx, indexURL)
	if err != nil {
		return nil, fmt.Errorf("请求账本分页索引失败: %w", err)
	}
	var pages transactionPagesResponse
	if err := json.Unmarshal(body, &pages); err != nil {
		return nil, fmt.Errorf("解析账本分页索引失败: %w", err)
	}

	entries := make([]Entry, 0, pages.Count)
	for _, page := range pages.Pages {
		body, err := c.get(ctx, c.resolve(page))
		if err != nil {
			return nil, fmt.Errorf("请求账本分页失败: %w", err)
		}
		var resp transactionPageResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("解析账本分页失败: %w", err)
		}
		entries = append(entries, resp.Transactions...)
	}

	c.logger.Info("账本获取完成",
		zap.Int("pages", len(pages.Pages)),
		zap.Int("entries", len(entries)),
		zap.Time("from", w.From),
		zap.Time("to", w.To))
	return entries, nil
}

// OpenTrades 获取当前持仓
func (c *OANDAClient) OpenTrades(ctx context.Context) ([]OpenTrade, error) {
	body, err := c.get(ctx, c.accountURL("openTrades"))
	if err != nil {
		return nil, fmt.Errorf("请求当前持仓失败: %w", err)
	}
	var resp openTradesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析当前持仓失败: %w", err)
	}
	return resp.Trades, nil
}

func (c *OANDAClient) accountURL(resource string) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	return fmt.Sprintf("%s/v3/accounts/%s/%s", base, url.PathEscape(c.cfg.AccountID), resource)
}

// resolve 分页地址可能是绝对地址，也可能是相对路径
func (c *OANDAClient) resolve(page string) string {
	if strings.HasPrefix(page, "/") {
		return strings.TrimRight(c.cfg.BaseURL, "/") + page
	}
	return page
}

// get 带退避重试的 GET 请求
func (c *OANDAClient) get(ctx context.Context, u string) ([]byte, error) {
	var body []byte
	attempts := c.cfg.MaxRetries + 1
	err := c.newBackoff().Retry(ctx, attempts, retryable, func(ctx context.Context) error {
		b, err := c.doRequest(ctx, u)
		if err != nil {
			c.logger.Warn("账本请求失败", zap.String("url", u), zap.Error(err))
			return err
		}
		body = b
		return nil
	})
	return body, err
}

// retryable 判断错误是否值得重试
// 上下文取消与 4xx（429 除外）不重试
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// doRequest 执行 HTTP GET 请求
// 参数 ctx: 上下文
// 参数 u: 请求地址
// 返回: 响应体字节数组
func (c *OANDAClient) doRequest(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	// 设置请求头
	req.Header.Set("User-Agent", "intent-ledger-reconciler/1.0")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Datetime-Format", "RFC3339")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	return body, nil
}
