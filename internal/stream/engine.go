// Package stream 把一个逐 token 产出的生成调用包装成有序、可取消、带背压的事件流。
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"health-coach-go/internal/model"
	"health-coach-go/pkg/log"
)

// AbortedMessage 是调用方取消时发给客户端的终止错误文案。
const AbortedMessage = "Request aborted"

// GenericErrorMessage 是未知错误对客户端展示的文案，不包含任何上游细节。
const GenericErrorMessage = "The coach could not finish this answer. Please try again."

// ErrStreamClosed 在流结束后仍调用 emit 时返回。
var ErrStreamClosed = errors.New("stream closed")

// PublicError 携带可以直接展示给客户端的错误文案。
type PublicError struct {
	Message string
	Err     error
}

func (e *PublicError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *PublicError) Unwrap() error { return e.Err }

// EmitFunc 把一个 token 或 meta 事件推入流。返回错误时生成方应尽快停止。
type EmitFunc func(ev model.StreamEvent) error

// Generator 产出事件，返回最终成功的 provider 名称。
type Generator func(ctx context.Context, emit EmitFunc) (provider string, err error)

// Result 汇总一次流的结果，在终止事件之后交给 onComplete。
type Result struct {
	RequestID    string
	Text         string
	Provider     string
	Err          error
	Aborted      bool
	TokenCount   int
	StartedAt    time.Time
	FirstTokenAt time.Time
	FinishedAt   time.Time
}

// Success 表示流以 done 结束。
func (r Result) Success() bool { return r.Err == nil && !r.Aborted }

// Engine 创建事件流。
type Engine struct {
	bufferSize int
	abortGrace time.Duration
	now        func() time.Time
}

// NewEngine 创建引擎。bufferSize 是事件通道的容量，决定生产者最多领先消费者多少个事件。
func NewEngine(bufferSize int) *Engine {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Engine{bufferSize: bufferSize, abortGrace: time.Second, now: time.Now}
}

// Stream 是一次请求的事件流，只能消费一次。
type Stream struct {
	events chan model.StreamEvent
	done   chan struct{}
	result Result
}

// Events 返回事件通道，终止事件之后通道关闭。
func (s *Stream) Events() <-chan model.StreamEvent { return s.events }

// Result 阻塞到流结束（包括 onComplete 执行完毕）并返回结果。
func (s *Stream) Result() Result {
	<-s.done
	return s.result
}

// Start 启动单个生产者协程：先发送 prelude，再运行 gen，最后发送且仅发送一个 done 或 error。
// ctx 取消时流以 AbortedMessage 结束，gen 收到的 ctx 同时被取消。
func (e *Engine) Start(ctx context.Context, requestID string, prelude []model.StreamEvent, gen Generator, onComplete func(Result)) *Stream {
	s := &Stream{
		events: make(chan model.StreamEvent, e.bufferSize),
		done:   make(chan struct{}),
	}
	go e.produce(ctx, s, requestID, prelude, gen, onComplete)
	return s
}

func (e *Engine) produce(ctx context.Context, s *Stream, requestID string, prelude []model.StreamEvent, gen Generator, onComplete func(Result)) {
	defer close(s.done)

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := Result{RequestID: requestID, StartedAt: e.now()}
	var (
		gate   sync.RWMutex // 读锁覆盖 emit 的发送，写锁用于关闭
		closed bool
		acctMu sync.Mutex
		text   strings.Builder
	)

	send := func(ev model.StreamEvent) error {
		ev.RequestID = requestID
		if err := genCtx.Err(); err != nil {
			return err
		}
		select {
		case s.events <- ev:
			return nil
		case <-genCtx.Done():
			return genCtx.Err()
		}
	}

	emit := func(ev model.StreamEvent) error {
		if ev.IsTerminal() {
			return fmt.Errorf("generator may not emit %s events", ev.Type)
		}
		if ev.Type == model.EventToken && ev.Value == "" {
			return nil
		}
		gate.RLock()
		defer gate.RUnlock()
		if closed {
			return ErrStreamClosed
		}
		if err := send(ev); err != nil {
			return err
		}
		if ev.Type == model.EventToken {
			acctMu.Lock()
			text.WriteString(ev.Value)
			res.TokenCount++
			if res.FirstTokenAt.IsZero() {
				res.FirstTokenAt = e.now()
			}
			acctMu.Unlock()
		}
		return nil
	}

	var (
		provider string
		err      error
	)
	for _, ev := range prelude {
		if err = emit(ev); err != nil {
			break
		}
	}
	if err == nil {
		provider, err = runGenerator(genCtx, gen, emit)
	}

	// 生成方返回后不再接受任何事件，残留的发送通过 genCtx 解除阻塞
	cancel()
	gate.Lock()
	closed = true
	gate.Unlock()

	acctMu.Lock()
	res.Text = text.String()
	acctMu.Unlock()
	res.Provider = provider

	var final model.StreamEvent
	switch {
	case ctx.Err() != nil:
		res.Aborted = true
		res.Err = ctx.Err()
		final = model.ErrorEvent(requestID, AbortedMessage)
	case err != nil:
		res.Err = err
		final = model.ErrorEvent(requestID, publicMessage(err))
	default:
		final = model.DoneEvent(requestID)
	}

	if res.Aborted {
		// 消费方可能已经离开，最多等待 abortGrace
		select {
		case s.events <- final:
		case <-time.After(e.abortGrace):
			log.Debugw("终止事件无人接收", "requestId", requestID)
		}
	} else {
		s.events <- final
	}
	close(s.events)

	res.FinishedAt = e.now()
	s.result = res
	if onComplete != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorw("onComplete panic", "requestId", requestID, "panic", r)
				}
			}()
			onComplete(res)
		}()
	}
}

func runGenerator(ctx context.Context, gen Generator, emit EmitFunc) (provider string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()
	return gen(ctx, emit)
}

func publicMessage(err error) string {
	var pe *PublicError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return GenericErrorMessage
}
