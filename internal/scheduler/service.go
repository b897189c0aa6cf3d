package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/tcsched/internal/config"
	"github.com/gyaneshwarpardhi/tcsched/internal/metrics"
	"github.com/gyaneshwarpardhi/tcsched/internal/request"
	"github.com/gyaneshwarpardhi/tcsched/internal/schedule"
)

// job is one turn of the schedule owner.
type job struct {
	name string
	run  func(ctx context.Context)
}

// Service gives a Scheduler a single owner goroutine. Requests, release
// passes and reconfiguration are queued in arrival order and executed one
// at a time.
type Service struct {
	sched *Scheduler
	pool  *workerPool[job]
	log   *slog.Logger

	releasePending atomic.Bool
	submitTimeout  atomic.Int64
	tickInterval   atomic.Int64
	retick         chan time.Duration
}

// NewService starts the owner goroutine for sched. The schedule must not be
// touched directly once this returns.
func NewService(ctx context.Context, sched *Scheduler, conf config.SchedulerConf, log *slog.Logger) *Service {
	s := &Service{
		sched:  sched,
		log:    log,
		retick: make(chan time.Duration, 1),
	}
	s.submitTimeout.Store(int64(millis(conf.SubmitTimeoutMs)))
	s.tickInterval.Store(int64(millis(conf.TickMs)))

	s.pool = newWorkerPool[job](ctx, 1, conf.QueueDepth, func(ctx context.Context, j job) {
		j.run(ctx)
	})
	return s
}

// Submit queues env behind any pending work and waits for its outcome.
// It fails if the queue stays full for the submit timeout.
func (s *Service) Submit(ctx context.Context, env *request.Envelope) (*Outcome, error) {
	resultC := make(chan *Outcome, 1)
	j := job{name: "request", run: func(ctx context.Context) {
		resultC <- s.sched.Execute(ctx, env)
	}}

	timeout := time.Duration(s.submitTimeout.Load())
	if err := s.pool.Submit(ctx, j, timeout); err != nil {
		if errors.Is(err, ErrQueueFull) {
			metrics.RequestsDropped.Inc()
			return nil, fmt.Errorf("%s: %w (capacity %d, waited %v)", env.Body.Kind(), err, s.pool.QueueCap(), timeout)
		}
		return nil, fmt.Errorf("%s: %w", env.Body.Kind(), err)
	}
	metrics.RequestsEnqueued.Inc()

	select {
	case res := <-resultC:
		if !env.ReceivedAt.IsZero() {
			metrics.RequestDuration.Observe(float64(time.Since(env.ReceivedAt).Milliseconds()))
		}
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// call runs fn on the owner goroutine and returns its result.
func call[R any](ctx context.Context, s *Service, name string, fn func(ctx context.Context) R) (R, error) {
	var zero R
	resultC := make(chan R, 1)
	j := job{name: name, run: func(ctx context.Context) { resultC <- fn(ctx) }}
	if err := s.pool.Submit(ctx, j, time.Duration(s.submitTimeout.Load())); err != nil {
		return zero, fmt.Errorf("%s: %w", name, err)
	}
	select {
	case r := <-resultC:
		return r, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Status reports the schedule state.
func (s *Service) Status(ctx context.Context) (Status, error) {
	return call(ctx, s, "status", func(context.Context) Status { return s.sched.Status() })
}

// Snapshot copies the schedule.
func (s *Service) Snapshot(ctx context.Context) (schedule.Snapshot, error) {
	return call(ctx, s, "snapshot", func(context.Context) schedule.Snapshot { return s.sched.Snapshot() })
}

// Tick queues a release pass unless one is already waiting, and reports
// whether it queued one. It blocks while the queue is full, so a release
// pass waits behind at most a queue's worth of requests.
func (s *Service) Tick(ctx context.Context) bool {
	if !s.releasePending.CompareAndSwap(false, true) {
		return false
	}
	j := job{name: "release", run: func(ctx context.Context) {
		s.releasePending.Store(false)
		s.sched.ReleaseDue(ctx)
	}}
	if err := s.pool.Submit(ctx, j, 0); err != nil {
		s.releasePending.Store(false)
		return false
	}
	return true
}

// Run polls for due activities until ctx is done.
func (s *Service) Run(ctx context.Context) {
	t := time.NewTicker(time.Duration(s.tickInterval.Load()))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.retick:
			t.Reset(d)
		case <-t.C:
			s.Tick(ctx)
			metrics.QueueUtilization.Set(s.QueueUtilization())
		}
	}
}

// Apply takes over reloadable settings. The queue depth is fixed at start.
func (s *Service) Apply(ctx context.Context, conf config.SchedulerConf) error {
	if conf.QueueDepth != s.pool.QueueCap() {
		s.log.Warn("queue_depth change needs a restart", "current", s.pool.QueueCap(), "configured", conf.QueueDepth)
	}
	s.submitTimeout.Store(int64(millis(conf.SubmitTimeoutMs)))

	tick := millis(conf.TickMs)
	if time.Duration(s.tickInterval.Swap(int64(tick))) != tick {
		select {
		case <-s.retick:
		default:
		}
		select {
		case s.retick <- tick:
		default:
		}
	}

	_, err := call(ctx, s, "apply", func(context.Context) struct{} {
		s.sched.SetCapacity(conf.Capacity)
		s.sched.SetMinLead(conf.MinLeadSeconds)
		return struct{}{}
	})
	return err
}

// QueueUtilization returns queue used / capacity (0-1).
func (s *Service) QueueUtilization() float64 {
	if s.pool.QueueCap() == 0 {
		return 0
	}
	return float64(s.pool.QueueLen()) / float64(s.pool.QueueCap())
}

// Shutdown refuses new work and waits for queued work to finish.
func (s *Service) Shutdown() {
	s.pool.Drain()
}

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }
