// Package jsonl 以 JSONL 格式异步输出对账明细。
// 每行是一个 Record 信封，携带运行编号与记录类型。
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// ErrClosed 写入器已关闭
var ErrClosed = errors.New("writer 已关闭")

// request 投递给后台 goroutine 的请求
// reply 为 nil 表示写入一行；非 nil 表示 flush（final 为 true 时随后关闭文件）
type request struct {
	val   any
	reply chan error
	final bool
}

// Writer 异步 JSONL 写入器
// Write 只负责投递，编码与文件 I/O 在后台 goroutine 完成；
// 通道排空时自动 flush，因此运行结束前文件内容最多落后一个批次。
type Writer struct {
	path string
	reqs chan request

	// mu 保护 closed 与通道发送，避免向已关闭的通道投递
	mu     sync.Mutex
	closed bool
	done   chan struct{}
	err    error

	written atomic.Int64
	dropped atomic.Int64
}

// NewWriter 创建 JSONL 写入器，文件以追加方式打开
// 参数 path: 输出文件路径，目录不存在时自动创建
// 参数 bufferSize: 待写队列长度
func NewWriter(path string, bufferSize int) (*Writer, error) {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开输出文件失败: %w", err)
	}

	w := &Writer{
		path: path,
		reqs: make(chan request, bufferSize),
		done: make(chan struct{}),
	}
	go w.drain(f)
	return w, nil
}

// Path 输出文件路径
func (w *Writer) Path() string {
	return w.path
}

// Write 投递一条记录
// 编码失败的记录被丢弃并计入 Dropped，不影响后续记录
func (w *Writer) Write(v any) error {
	if w == nil {
		return fmt.Errorf("writer 为空")
	}
	return w.send(request{val: v})
}

// WriteRecords 依次写入多条记录
// 返回: 第一次失败时的错误
func (w *Writer) WriteRecords(records []Record) error {
	for i := range records {
		if err := w.Write(&records[i]); err != nil {
			return err
		}
	}
	return nil
}

// Flush 等待已投递的记录全部写入文件
func (w *Writer) Flush() error {
	if w == nil {
		return nil
	}
	reply := make(chan error, 1)
	if err := w.send(request{reply: reply}); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	return <-reply
}

// Close 写出剩余记录并关闭文件，可重复调用
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.reqs <- request{reply: make(chan error, 1), final: true}
		close(w.reqs)
	}
	w.mu.Unlock()
	<-w.done
	return w.err
}

// Written 已写入的行数
func (w *Writer) Written() int64 {
	return w.written.Load()
}

// Dropped 因编码或写入失败被丢弃的行数
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

func (w *Writer) send(req request) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.reqs <- req
	return nil
}

func (w *Writer) drain(f *os.File) {
	defer close(w.done)

	bw := bufio.NewWriterSize(f, 1<<20)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)

	for req := range w.reqs {
		if req.reply == nil {
			// Encode 先完整编码再写出，失败时不会留下半行
			if err := enc.Encode(req.val); err != nil {
				w.dropped.Add(1)
			} else {
				w.written.Add(1)
			}
			if len(w.reqs) == 0 {
				_ = bw.Flush()
			}
			continue
		}

		err := bw.Flush()
		if req.final {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			w.err = err
		}
		req.reply <- err
	}
}
