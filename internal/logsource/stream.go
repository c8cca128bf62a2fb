package logsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"intent-ledger-reconciler/internal/config"
	"intent-ledger-reconciler/internal/util/backoff"
	"intent-ledger-reconciler/internal/util/timeutil"
)

// subscribeRequest 订阅请求，携带回放窗口
type subscribeRequest struct {
	Type string `json:"type"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// logFrame JSON 格式的日志帧
type logFrame struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// StreamMetrics 日志流指标
type StreamMetrics struct {
	Frames      int64 `json:"frames"`
	Lines       int64 `json:"lines"`
	Skipped     int64 `json:"skipped"`
	Reconnects  int64 `json:"reconnects"`
	ParseErrors int64 `json:"parse_errors"`
}

// StreamSource WebSocket 日志流
// 连接后发送订阅帧，持续读取直到空闲超时、服务端正常关闭或 ctx 取消；
// 连接异常时按指数退避重连，重连后重新回放整个窗口。
type StreamSource struct {
	cfg    *config.LogsConfig
	logger *zap.Logger
	loc    *time.Location

	// newBackoff 重连退避，测试中可替换
	newBackoff func() *backoff.Backoff

	frames      atomic.Int64
	lines       atomic.Int64
	skipped     atomic.Int64
	reconnects  atomic.Int64
	parseErrors atomic.Int64

	// parseErrSampleCount 解析错误计数（用于采样日志）
	parseErrSampleCount atomic.Uint64
}

// NewStreamSource 创建日志流来源
func NewStreamSource(cfg *config.LogsConfig, logger *zap.Logger) *StreamSource {
	return &StreamSource{
		cfg:        cfg,
		logger:     logger.Named("logstream"),
		loc:        cfg.Location(),
		newBackoff: backoff.NewDefault,
	}
}

// Metrics 获取指标快照
func (s *StreamSource) Metrics() StreamMetrics {
	return StreamMetrics{
		Frames:      s.frames.Load(),
		Lines:       s.lines.Load(),
		Skipped:     s.skipped.Load(),
		Reconnects:  s.reconnects.Load(),
		ParseErrors: s.parseErrors.Load(),
	}
}

// Fetch 实现 Source
func (s *StreamSource) Fetch(ctx context.Context, w timeutil.Window) (string, error) {
	bo := s.newBackoff()
	attempts := 0

	var lines []string
	for {
		got, err := s.session(ctx, w)
		if err == nil {
			lines = got
			break
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		attempts++
		if attempts > s.cfg.MaxReconnects {
			return "", fmt.Errorf("日志流重连 %d 次后仍失败: %w", s.cfg.MaxReconnects, err)
		}
		s.reconnects.Add(1)
		s.logger.Warn("日志流连接中断，准备重连", zap.Error(err), zap.Int("attempt", attempts))
		if werr := bo.Wait(ctx); werr != nil {
			return "", werr
		}
	}

	m := s.Metrics()
	s.logger.Info("日志流读取完成",
		zap.Int("lines", len(lines)),
		zap.Int64("received_lines", m.Lines),
		zap.Int64("frames", m.Frames),
		zap.Int64("skipped", m.Skipped),
		zap.Int64("reconnects", m.Reconnects),
		zap.Int64("parse_errors", m.ParseErrors),
	)
	return strings.Join(lines, "\n"), nil
}

// session 单次连接的读取过程
// 返回: 本次连接收到的日志行；错误为 nil 表示回放正常结束
func (s *StreamSource) session(ctx context.Context, w timeutil.Window) ([]string, error) {
	header := http.Header{}
	header.Set("User-Agent", "intent-ledger-reconciler/1.0")
	if s.cfg.StreamToken != "" {
		header.Set("Authorization", "Bearer "+s.cfg.StreamToken)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.StreamURL, header)
	if err != nil {
		return nil, fmt.Errorf("连接日志流失败: %w", err)
	}
	defer conn.Close()

	req := subscribeRequest{Type: "subscribe"}
	if !w.From.IsZero() {
		req.From = w.From.UTC().Format(time.RFC3339)
	}
	if !w.To.IsZero() {
		req.To = w.To.UTC().Format(time.RFC3339)
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("发送订阅请求失败: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pingLoop(sessCtx, conn)
	}()
	// ctx 取消时关闭连接以打断阻塞读
	go func() {
		defer wg.Done()
		<-sessCtx.Done()
		if ctx.Err() != nil {
			_ = conn.Close()
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	idle := time.Duration(s.cfg.IdleTimeoutMs) * time.Millisecond
	if idle <= 0 {
		idle = 5 * time.Second
	}
	var lines []string
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// 空闲超时视为回放结束
				return lines, nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return lines, nil
			}
			return nil, fmt.Errorf("读取日志流失败: %w", err)
		}
		s.frames.Add(1)
		got := s.parseFrame(data, w)
		lines = append(lines, got...)
		s.lines.Add(int64(len(got)))
	}
}

// parseFrame 解析一帧日志
// 帧可以是原始文本（可含多行）、单个 {timestamp,message} 对象或其数组
func (s *StreamSource) parseFrame(data []byte, w timeutil.Window) []string {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}

	var frames []logFrame
	switch trimmed[0] {
	case '{':
		var f logFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.maybeLogParseError(err, data)
			return rawLines(trimmed)
		}
		frames = []logFrame{f}
	case '[':
		if err := json.Unmarshal(data, &frames); err != nil {
			s.maybeLogParseError(err, data)
			return rawLines(trimmed)
		}
	default:
		return rawLines(trimmed)
	}

	out := make([]string, 0, len(frames))
	for _, f := range frames {
		if f.Message == "" {
			continue
		}
		if ts, ok := timeutil.ParseTimestamp(f.Timestamp, s.loc); ok {
			if !w.Contains(ts) {
				s.skipped.Add(1)
				continue
			}
			if _, has := timeutil.FindLogTimestamp(f.Message, s.loc); !has {
				// 消息自身无时间戳时补上帧时间，供提取器使用
				out = append(out, ts.UTC().Format("2006-01-02 15:04:05Z07:00")+" - "+f.Message)
				continue
			}
		}
		out = append(out, f.Message)
	}
	return out
}

func rawLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

func (s *StreamSource) pingLoop(ctx context.Context, conn *websocket.Conn) {
	intervalMs := s.cfg.PingIntervalMs
	if intervalMs <= 0 {
		intervalMs = 20000
	}
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				s.logger.Debug("发送日志流 ping 失败", zap.Error(err))
				return
			}
		}
	}
}

// maybeLogParseError 采样记录解析错误，每 100 次记录 1 条
func (s *StreamSource) maybeLogParseError(err error, data []byte) {
	s.parseErrors.Add(1)
	if s.parseErrSampleCount.Add(1)%100 != 1 {
		return
	}
	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	s.logger.Warn("解析日志帧失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
