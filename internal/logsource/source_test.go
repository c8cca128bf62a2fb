package logsource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"intent-ledger-reconciler/internal/config"
	"intent-ledger-reconciler/internal/util/backoff"
	"intent-ledger-reconciler/internal/util/timeutil"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestStream(url string, reconnects int) *StreamSource {
	cfg := &config.LogsConfig{
		Source:         config.LogSourceStream,
		StreamURL:      url,
		StreamToken:    "tok",
		IdleTimeoutMs:  200,
		PingIntervalMs: 50,
		MaxReconnects:  reconnects,
	}
	s := NewStreamSource(cfg, zap.NewNop())
	s.newBackoff = func() *backoff.Backoff { return backoff.New(time.Millisecond, time.Millisecond, 0) }
	return s
}

func closeNormally(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	if err := os.WriteFile(path, []byte("a\nb\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := NewFileSource(path).Fetch(context.Background(), timeutil.Window{})
	if err != nil || got != "a\nb\n" {
		t.Fatalf("Fetch=%q,%v", got, err)
	}
	if _, err := NewFileSource(path + ".missing").Fetch(context.Background(), timeutil.Window{}); err == nil {
		t.Fatalf("缺失文件应返回错误")
	}
}

func TestNew_UnknownSource(t *testing.T) {
	if _, err := New(&config.LogsConfig{Source: "ftp"}, zap.NewNop()); err == nil {
		t.Fatalf("未知来源应返回错误")
	}
}

func TestStreamSource_Frames(t *testing.T) {
	var gotAuth atomic.Value
	var gotReq subscribeRequest
	subscribed := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if err := conn.ReadJSON(&gotReq); err == nil {
			close(subscribed)
		}
		frames := []string{
			"2024-06-01 08:00:00 - line one\n2024-06-01 08:00:01 - line two",
			`{"timestamp":"2024-06-01T08:00:02Z","message":"🚀 EXECUTING TRADE"}`,
			`[{"timestamp":"2024-05-01T00:00:00Z","message":"too old"},{"timestamp":"","message":"no ts"}]`,
			`{"timestamp":"2024-06-01T08:00:03Z","message":"2024-06-01 08:00:03 - has own ts"}`,
			`{"broken`,
		}
		for _, f := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		closeNormally(conn)
	}))
	defer srv.Close()

	s := newTestStream(wsURL(srv), 0)
	core, logs := observer.New(zap.InfoLevel)
	s.logger = zap.New(core)
	w := timeutil.Window{
		From: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
	}
	text, err := s.Fetch(context.Background(), w)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	<-subscribed

	want := strings.Join([]string{
		"2024-06-01 08:00:00 - line one",
		"2024-06-01 08:00:01 - line two",
		"2024-06-01 08:00:02Z - 🚀 EXECUTING TRADE",
		"no ts",
		"2024-06-01 08:00:03 - has own ts",
		`{"broken`,
	}, "\n")
	if text != want {
		t.Fatalf("text=\n%s\nwant\n%s", text, want)
	}
	if gotAuth.Load() != "Bearer tok" {
		t.Fatalf("auth=%v", gotAuth.Load())
	}
	if gotReq.Type != "subscribe" || gotReq.From != "2024-06-01T00:00:00Z" || gotReq.To != "2024-06-02T00:00:00Z" {
		t.Fatalf("subscribe=%+v", gotReq)
	}
	m := s.Metrics()
	if m.Frames != 5 || m.Skipped != 1 || m.ParseErrors != 1 || m.Lines != 6 {
		t.Fatalf("metrics=%+v", m)
	}

	done := logs.FilterMessage("日志流读取完成").All()
	if len(done) != 1 {
		t.Fatalf("完成日志条数=%d, want 1", len(done))
	}
	fields := done[0].ContextMap()
	if fields["frames"] != int64(5) || fields["skipped"] != int64(1) || fields["parse_errors"] != int64(1) || fields["lines"] != int64(6) {
		t.Fatalf("fields=%v", fields)
	}
}

func TestStreamSource_IdleTimeoutEndsReplay(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("only line"))
		<-release
	}))
	defer srv.Close()

	text, err := newTestStream(wsURL(srv), 0).Fetch(context.Background(), timeutil.Window{})
	if err != nil || text != "only line" {
		t.Fatalf("Fetch=%q,%v", text, err)
	}
}

func TestStreamSource_ReconnectReplaysWindow(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte("partial"))
			// 不发送关闭帧直接断开
			_ = conn.Close()
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("full a\nfull b"))
		closeNormally(conn)
	}))
	defer srv.Close()

	s := newTestStream(wsURL(srv), 2)
	text, err := s.Fetch(context.Background(), timeutil.Window{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if text != "full a\nfull b" {
		t.Fatalf("text=%q, want only the replayed session", text)
	}
	if calls.Load() != 2 || s.Metrics().Reconnects != 1 {
		t.Fatalf("calls=%d reconnects=%d", calls.Load(), s.Metrics().Reconnects)
	}
}

func TestStreamSource_ReconnectsExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestStream(wsURL(srv), 2).Fetch(context.Background(), timeutil.Window{})
	if err == nil {
		t.Fatalf("握手失败应返回错误")
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d, want 3", calls.Load())
	}
}

func TestStreamSource_Canceled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	defer srv.Close()

	s := newTestStream(wsURL(srv), 3)
	s.cfg.IdleTimeoutMs = 10_000

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	if _, err := s.Fetch(ctx, timeutil.Window{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}
