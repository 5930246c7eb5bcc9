// Package worker 提供由 suture 监管的固定大小任务池。
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/newsrelay/internal/logging"
	"github.com/newsrelay/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

var (
	// ErrQueueFull 表示队列已满。
	ErrQueueFull = errors.New("worker queue is full")
	// ErrPoolClosed 表示任务池已停止。
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Task 为提交到任务池的工作，ctx 在任务池停止时取消。
type Task func(ctx context.Context)

// Pool 为固定数量的 worker，共享一个有界队列。
type Pool struct {
	name   string
	queue  chan Task
	sup    *suture.Supervisor
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// New 构造任务池，调用 Start 后开始消费队列。
func New(name string, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	logger := logging.Component("worker").With().Str("pool", name).Logger()
	p := &Pool{
		name:   name,
		queue:  make(chan Task, queueSize),
		logger: logger,
	}
	p.sup = suture.New(name, suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn().Int("event_type", int(e.Type())).Interface("details", e.Map()).Msg(e.String())
		},
	})
	for i := 0; i < workers; i++ {
		p.sup.Add(&poolWorker{id: i, pool: p})
	}
	return p
}

// Start 在后台运行监管树，ctx 取消后任务池停止。返回的 channel 在监管树退出时收到结果。
func (p *Pool) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	errCh := p.sup.ServeBackground(ctx)
	go func() {
		err := <-errCh
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		done <- err
	}()
	return done
}

// Submit 将任务放入队列，队列已满时立即返回 ErrQueueFull。
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- task:
		metrics.QueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

type poolWorker struct {
	id   int
	pool *Pool
}

func (w *poolWorker) String() string {
	return fmt.Sprintf("%s-worker-%d", w.pool.name, w.id)
}

// Serve 实现 suture.Service。
func (w *poolWorker) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-w.pool.queue:
			metrics.QueueDepth.Set(float64(len(w.pool.queue)))
			w.run(ctx, task)
		}
	}
}

func (w *poolWorker) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			w.pool.logger.Error().Str("worker", w.String()).Interface("panic", r).Msg("task panicked")
		}
	}()
	task(ctx)
}
