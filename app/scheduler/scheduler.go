package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/feedtoot/feedtoot/app/dispatch"
)

// ErrRunInProgress is returned by TriggerNow while a run is executing or
// a manual trigger is already queued. Overlapping runs are forbidden:
// they would race on the dedup ledger.
var ErrRunInProgress = errors.New("a run is already in progress")

type Runner interface {
	Run(ctx context.Context, trigger string) (*dispatch.Result, error)
}

var _ Runner = (*dispatch.Pipeline)(nil)

// Scheduler triggers pipeline runs on a fixed interval and on manual
// request, executing at most one run at a time. The next scheduled run is
// measured from the previous run's completion, so slow runs push the
// schedule back instead of compounding drift.
type Scheduler struct {
	runner   Runner
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	manual chan struct{}

	mu      sync.Mutex
	running bool
	nextRun time.Time
}

func NewScheduler(runner Runner, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:   runner,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		manual:   make(chan struct{}, 1),
	}
}

func (s *Scheduler) Start() {
	s.setNextRun(time.Now().Add(s.interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(s.interval)
		defer timer.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-timer.C:
				s.execute(dispatch.TriggerScheduled)
			case <-s.manual:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				s.execute(dispatch.TriggerManual)
			}

			// Rearm from completion, not from the original trigger.
			timer.Reset(s.interval)
			s.setNextRun(time.Now().Add(s.interval))
		}
	}()

	slog.Info("Scheduler started", "interval", s.interval)
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// TriggerNow requests an immediate manual run. It never queues behind an
// active run: callers get ErrRunInProgress and can retry once the run
// visible in Status has finished.
func (s *Scheduler) TriggerNow() error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return ErrRunInProgress
	}

	select {
	case s.manual <- struct{}{}:
		return nil
	default:
		return ErrRunInProgress
	}
}

// Status reports the next scheduled run time and whether a run is active.
func (s *Scheduler) Status() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun, s.running
}

func (s *Scheduler) execute(trigger string) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	slog.Info("Run starting", "trigger", trigger)
	if _, err := s.runner.Run(s.ctx, trigger); err != nil {
		slog.Error("Run aborted", "trigger", trigger, "error", err)
	}
}

func (s *Scheduler) setNextRun(t time.Time) {
	s.mu.Lock()
	s.nextRun = t
	s.mu.Unlock()
}
