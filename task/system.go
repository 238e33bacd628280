package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// System is the event dispatcher (C4). It owns a task_id -> Runner map, leases
// events off the queue, and spawns one handler goroutine per lease so that
// different tasks process in parallel while a Runner's own lock keeps each
// task's events strictly serialized.
type System struct {
	cfg config

	queue      EventQueue
	stateCache StateCache

	runnersMu sync.Mutex // guards runners; touched by handler goroutines (runnerFor, removeRunner) and HasTask
	runners   map[uint64]Runner

	cancel context.CancelFunc

	started  bool
	stopOnce sync.Once
}

// NewSystem constructs a System. queue and stateCache back C2 and C1
// respectively; opts configure retry/shield timing, logging, metrics, and the
// RunnerFactory used for task ids seen for the first time.
func NewSystem(queue EventQueue, stateCache StateCache, opts ...Option) *System {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &System{
		cfg:        cfg,
		queue:      queue,
		stateCache: stateCache,
		runners:    make(map[uint64]Runner),
	}
}

// SetRunnerFactory overrides how the System constructs a Runner for a task id
// it hasn't seen yet. Must be called before Start.
func (s *System) SetRunnerFactory(f RunnerFactory) {
	s.cfg.RunnerFactory = f
}

// HasTask reports whether taskID has a live in-memory Runner, or (absent
// that) a durable state record — a task survives a process restart in the
// state cache even though its Runner is gone.
func (s *System) HasTask(ctx context.Context, taskID uint64) (bool, error) {
	s.runnersMu.Lock()
	_, ok := s.runners[taskID]
	s.runnersMu.Unlock()
	if ok {
		return true, nil
	}
	return s.stateCache.Has(ctx, taskID)
}

// Start runs the dispatcher loop until ctx is cancelled or Stop is called.
// It blocks until every in-flight handler has completed its shielded
// ack/no_ack path. Start must not be called more than once.
func (s *System) Start(ctx context.Context) error {
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)

	for {
		ackID, event, err := s.queue.Get(groupCtx)
		if err != nil {
			break
		}

		group.Go(func() error {
			s.handle(runCtx, ackID, event)
			return nil
		})
	}

	waitErr := group.Wait()
	cancel()

	if errors.Is(groupCtx.Err(), context.Canceled) && ctx.Err() == nil {
		// The group context was cancelled by Stop, not by the caller's ctx;
		// that's a normal shutdown, not a reportable error.
		return nil
	}
	return waitErr
}

// Stop signals the dispatcher loop and all in-flight handlers to wind down.
// In-flight handlers still complete their shielded ack/no_ack path before
// Start returns.
func (s *System) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// handle runs one leased event through to its shielded ack/no_ack
// disposition.
func (s *System) handle(ctx context.Context, ackID AckID, event Event) {
	start := time.Now()
	logger := s.cfg.Logger.With().Uint64("task_id", event.TaskID).Str("event_kind", string(event.Kind)).Logger()

	runner, err := s.runnerFor(ctx, event.TaskID)
	if err != nil {
		logger.Error().Err(err).Msg("runner init failed")
		s.shieldedNoAck(ctx, ackID, logger)
		return
	}

	start = time.Now()
	finished, err := runner.ProcessEvent(ctx, event)
	s.cfg.Metrics.HandlerDuration.Record(time.Since(start).Seconds())

	switch {
	case err == nil:
		s.cfg.Metrics.EventsProcessed.Add(1)
		if finished {
			s.removeRunner(ctx, event.TaskID)
		}
		s.shieldedAck(ctx, ackID, logger)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.shieldedNoAck(ctx, ackID, logger)

	default:
		s.dispatchError(ctx, ackID, err, logger)
	}
}

func (s *System) dispatchError(ctx context.Context, ackID AckID, err error, logger zerolog.Logger) {
	var te *Error
	if !errors.As(err, &te) {
		logger.Error().Err(err).Msg("unclassified handler error")
		s.shieldedNoAck(ctx, ackID, logger)
		return
	}

	logger = logger.With().Str("source", string(te.Source)).Bool("retry", te.Retry).Logger()

	if !te.Retry {
		s.cfg.Metrics.EventsDropped.Add(1)
		logger.Warn().Err(err).Msg("event dropped: non-retryable error")
		if ackErr := shielded(ctx, s.cfg.ShieldDeadline, func(sctx context.Context) error {
			return s.queue.Ack(sctx, ackID)
		}); ackErr != nil {
			logger.Error().Err(ackErr).Msg("ack failed after non-retryable error")
		}
		return
	}

	s.cfg.Metrics.EventsRetried.Add(1)
	logger.Warn().Err(err).Msg("event retried after delay")
	retryErr := shielded(ctx, s.cfg.RetryDelay+s.cfg.ShieldDeadline, func(sctx context.Context) error {
		select {
		case <-time.After(s.cfg.RetryDelay):
		case <-sctx.Done():
			return sctx.Err()
		}
		return s.queue.NoAck(sctx, ackID)
	})
	if retryErr != nil {
		logger.Error().Err(retryErr).Msg("no_ack failed after retryable error")
	}
}

func (s *System) shieldedAck(ctx context.Context, ackID AckID, logger zerolog.Logger) {
	if err := shielded(ctx, s.cfg.ShieldDeadline, func(sctx context.Context) error {
		return s.queue.Ack(sctx, ackID)
	}); err != nil {
		logger.Error().Err(err).Msg("ack failed")
	}
}

func (s *System) shieldedNoAck(ctx context.Context, ackID AckID, logger zerolog.Logger) {
	if err := shielded(ctx, s.cfg.ShieldDeadline, func(sctx context.Context) error {
		return s.queue.NoAck(sctx, ackID)
	}); err != nil {
		logger.Error().Err(err).Msg("no_ack failed")
	}
}

func (s *System) runnerFor(ctx context.Context, taskID uint64) (Runner, error) {
	s.runnersMu.Lock()
	defer s.runnersMu.Unlock()

	if r, ok := s.runners[taskID]; ok {
		return r, nil
	}

	if s.cfg.RunnerFactory == nil {
		return nil, ErrRunnerFactoryRequired
	}

	r := s.cfg.RunnerFactory(taskID)
	if err := r.Init(ctx); err != nil {
		return nil, err
	}
	s.runners[taskID] = r
	s.cfg.Metrics.TasksActive.Add(1)
	return r, nil
}

func (s *System) removeRunner(ctx context.Context, taskID uint64) {
	s.runnersMu.Lock()
	_, ok := s.runners[taskID]
	delete(s.runners, taskID)
	s.runnersMu.Unlock()

	if ok {
		s.cfg.Metrics.TasksActive.Add(-1)
	}

	if err := shielded(ctx, s.cfg.ShieldDeadline, func(sctx context.Context) error {
		return s.stateCache.Delete(sctx, taskID)
	}); err != nil {
		s.cfg.Logger.Error().Err(err).Uint64("task_id", taskID).Msg("state delete failed")
	}
}
