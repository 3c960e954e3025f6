// Package worker implements a bounded goroutine pool that transport
// listeners submit query-handling jobs to, so a burst of inbound packets
// cannot spawn unbounded goroutines. An optional golang.org/x/time/rate
// token bucket governs how fast jobs are admitted independent of queue
// depth — a concurrency/resource control, not the per-client DNS query
// rate limiting the resolver explicitly does not implement.
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrPoolClosed  = errors.New("worker: pool closed")
	ErrJobTimeout  = errors.New("worker: job timed out waiting in queue")
	ErrQueueFull   = errors.New("worker: job queue is full")
	ErrRateLimited = errors.New("worker: admission rate exceeded")
)

// Job is a unit of work a pool worker executes.
type Job interface {
	Execute(ctx context.Context) error
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Execute(ctx context.Context) error { return f(ctx) }

// Config controls pool sizing and admission control.
type Config struct {
	// Workers is the number of long-lived goroutines processing jobs.
	// Defaults to runtime.NumCPU() * 4.
	Workers int

	// QueueMultiplier sets the job queue's capacity as Workers *
	// QueueMultiplier. Defaults to 10, following the backpressure
	// threshold convention of rejecting new work once the queue holds
	// ten times the worker count's worth of backlog.
	QueueMultiplier int

	// QueueTimeout bounds how long Submit waits for a free queue slot
	// before returning ErrJobTimeout. Zero means no timeout.
	QueueTimeout time.Duration

	// AdmissionRate, if non-zero, caps the sustained rate of job
	// admission via a token bucket; AdmissionBurst sets the bucket's
	// burst size (defaults to Workers if zero). Zero AdmissionRate
	// disables the limiter.
	AdmissionRate  rate.Limit
	AdmissionBurst int

	PanicHandler func(interface{})
}

// Pool is a bounded worker pool guarding against goroutine exhaustion
// from a flood of inbound queries.
type Pool struct {
	workers      int
	queue        chan *jobWrapper
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	closed       atomic.Bool
	queueSize    int
	queueTimeout time.Duration

	limiter *rate.Limiter

	panicHandler func(interface{})

	jobsSubmitted atomic.Uint64
	jobsCompleted atomic.Uint64
	jobsRejected  atomic.Uint64
	jobsFailed    atomic.Uint64
	jobsTimedOut  atomic.Uint64
	jobsThrottled atomic.Uint64
	totalLatency  atomic.Uint64
}

type jobWrapper struct {
	job        Job
	ctx        context.Context
	resultCh   chan error
	submitTime time.Time
}

// New creates a running Pool per cfg.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU() * 4
	}
	if cfg.QueueMultiplier <= 0 {
		cfg.QueueMultiplier = 10
	}
	queueSize := cfg.Workers * cfg.QueueMultiplier

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		workers:      cfg.Workers,
		queue:        make(chan *jobWrapper, queueSize),
		ctx:          ctx,
		cancel:       cancel,
		queueSize:    queueSize,
		queueTimeout: cfg.QueueTimeout,
		panicHandler: cfg.PanicHandler,
	}

	if cfg.AdmissionRate > 0 {
		burst := cfg.AdmissionBurst
		if burst <= 0 {
			burst = cfg.Workers
		}
		p.limiter = rate.NewLimiter(cfg.AdmissionRate, burst)
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case wrapper, ok := <-p.queue:
			if !ok {
				return
			}
			p.executeJob(wrapper)
		}
	}
}

func (p *Pool) executeJob(wrapper *jobWrapper) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			select {
			case wrapper.resultCh <- errors.New("worker: job panicked"):
			default:
			}
			p.jobsFailed.Add(1)
		}
	}()

	start := time.Now()
	err := wrapper.job.Execute(wrapper.ctx)
	p.totalLatency.Add(uint64(time.Since(start).Nanoseconds()))

	select {
	case wrapper.resultCh <- err:
	default:
	}

	if err != nil {
		p.jobsFailed.Add(1)
	} else {
		p.jobsCompleted.Add(1)
	}
}

// Submit queues job and blocks until it completes, the queue rejects it,
// or ctx is canceled. If an admission limiter is configured and has no
// tokens available, Submit returns ErrRateLimited immediately rather than
// waiting, since DNS query handling should fail fast under overload.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if p.limiter != nil && !p.limiter.Allow() {
		p.jobsThrottled.Add(1)
		return ErrRateLimited
	}

	p.jobsSubmitted.Add(1)
	wrapper := &jobWrapper{job: job, ctx: ctx, resultCh: make(chan error, 1), submitTime: time.Now()}

	var timeoutCtx context.Context = ctx
	if p.queueTimeout > 0 {
		var cancel context.CancelFunc
		timeoutCtx, cancel = context.WithTimeout(ctx, p.queueTimeout)
		defer cancel()
	}

	select {
	case p.queue <- wrapper:
		select {
		case err := <-wrapper.resultCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-timeoutCtx.Done():
		p.jobsTimedOut.Add(1)
		return ErrJobTimeout
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit queues job without blocking, returning ErrQueueFull if the
// queue is at capacity. Used by the UDP listener, where blocking risks
// dropping the datagram's socket buffer slot entirely. It returns as soon
// as the job is queued; the job's own error is not reported back.
func (p *Pool) TrySubmit(ctx context.Context, job Job) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if p.limiter != nil && !p.limiter.Allow() {
		p.jobsThrottled.Add(1)
		return ErrRateLimited
	}

	p.jobsSubmitted.Add(1)
	wrapper := &jobWrapper{job: job, ctx: ctx, resultCh: make(chan error, 1), submitTime: time.Now()}

	select {
	case p.queue <- wrapper:
		return nil
	default:
		p.jobsRejected.Add(1)
		return ErrQueueFull
	}
}

// Close stops accepting new jobs and waits for in-flight work to finish.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return ErrPoolClosed
	}
	close(p.queue)
	p.wg.Wait()
	p.cancel()
	return nil
}

// CloseTimeout is Close bounded by timeout; in-flight jobs may still be
// running in background goroutines when it returns early, so callers
// should treat a timeout as "shutdown requested, not guaranteed drained."
func (p *Pool) CloseTimeout(timeout time.Duration) error {
	if p.closed.Swap(true) {
		return ErrPoolClosed
	}
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return errors.New("worker: shutdown timeout exceeded")
	}
}

// Stats summarizes pool activity for export as Prometheus metrics.
type Stats struct {
	Workers      int
	QueueSize    int
	QueueDepth   int
	Submitted    uint64
	Completed    uint64
	Rejected     uint64
	Failed       uint64
	TimedOut     uint64
	Throttled    uint64
	AvgLatencyNs uint64
}

func (p *Pool) Stats() Stats {
	completed := p.jobsCompleted.Load()
	totalLatency := p.totalLatency.Load()
	var avgLatency uint64
	if completed > 0 {
		avgLatency = totalLatency / completed
	}

	return Stats{
		Workers:      p.workers,
		QueueSize:    p.queueSize,
		QueueDepth:   len(p.queue),
		Submitted:    p.jobsSubmitted.Load(),
		Completed:    completed,
		Rejected:     p.jobsRejected.Load(),
		Failed:       p.jobsFailed.Load(),
		TimedOut:     p.jobsTimedOut.Load(),
		Throttled:    p.jobsThrottled.Load(),
		AvgLatencyNs: avgLatency,
	}
}

// QueueDepth returns the number of jobs currently queued.
func (p *Pool) QueueDepth() int { return len(p.queue) }
