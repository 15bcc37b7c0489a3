// Package tasks 提供一个有界的后台任务队列，承载与主响应无关的尽力而为工作。
// 队列满时直接丢弃任务，不保证送达。
package tasks

import (
	"context"
	"errors"
	"sync"

	"health-coach-go/pkg/log"
)

// ErrQueueFull 表示任务因队列已满被丢弃。
var ErrQueueFull = errors.New("task queue full")

// ErrQueueClosed 表示队列已关闭。
var ErrQueueClosed = errors.New("task queue closed")

// Task 是一个后台任务。传入的 ctx 与请求生命周期无关。
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue 由固定数量的 worker 消费。
type Queue struct {
	tasks  chan Task
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueue 创建队列并启动 workers 个消费协程。
func NewQueue(size, workers int) *Queue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{tasks: make(chan Task, size), ctx: ctx, cancel: cancel}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit 非阻塞地投递任务。
func (q *Queue) Submit(t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- t:
		return nil
	default:
		log.Warnw("后台任务队列已满，丢弃任务", "task", t.Name)
		return ErrQueueFull
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *Queue) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("后台任务 panic", "task", t.Name, "panic", r)
		}
	}()
	if err := t.Run(q.ctx); err != nil {
		log.Warnw("后台任务执行失败", "task", t.Name, "error", err)
	}
}

// Close 停止接收新任务，并等待已入队的任务执行完毕或 ctx 到期。
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}
