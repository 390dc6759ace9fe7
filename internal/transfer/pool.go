package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/windsync/wind/internal/batch"
)

// DefaultWorkers is the pool size when none is configured.
const DefaultWorkers = 10

// TaskFunc executes one task.
type TaskFunc func(ctx context.Context, task Task) Result

// Pool runs tasks with at most a fixed number of them active at once.
//
// A task waiting on a batch.Coordinator lends its seat back to the pool (see
// batch.WithSeat), so the pool starts further tasks while earlier ones wait
// for their batch. Once no task is active and nothing is left to start, the
// idle hook runs so a batch buffer can be flushed without waiting out its
// interval.
type Pool struct {
	workers int
	run     TaskFunc
	logger  *slog.Logger
	idle    func()

	mu sync.Mutex
}

// NewPool creates a pool of the given size (DefaultWorkers when < 1).
func NewPool(workers int, run TaskFunc, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = DefaultWorkers
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Pool{workers: workers, run: run, logger: logger}
}

// OnIdle sets the hook called when every unfinished task is waiting on a
// batch and no task remains to be started.
func (p *Pool) OnIdle(f func()) {
	p.idle = f
}

// Run executes tasks and returns one result per task, in task order.
//
// Each running task finishes before Run returns. Once ctx is canceled no new
// task starts; the remaining ones are reported as not attempted with the
// cancellation cause. onResult, when set, is called once per result,
// serialized, as results arrive.
func (p *Pool) Run(ctx context.Context, tasks []Task, onResult func(Result)) []Result {
	results := make([]Result, len(tasks))
	done := make([]bool, len(tasks))

	emit := func(i int, res Result) {
		p.mu.Lock()
		defer p.mu.Unlock()

		results[i] = res
		done[i] = true

		if onResult != nil {
			onResult(res)
		}
	}

	seats := newSeatTable(p.workers, p.idle)

	var g errgroup.Group

	for i := range tasks {
		if !seats.acquire(ctx) {
			break
		}

		g.Go(func() error {
			defer seats.finish()

			emit(i, p.safeRun(batch.WithSeat(ctx, seats), tasks[i]))

			return nil
		})
	}

	seats.drain()

	_ = g.Wait()

	if ctx.Err() != nil {
		cause := context.Cause(ctx)

		skipped := 0

		for i, task := range tasks {
			if done[i] {
				continue
			}

			emit(i, Result{
				Task:   task,
				Status: StatusNotAttempted,
				State:  StatePlanned,
				Err:    cause,
			})
			skipped++
		}

		if skipped > 0 {
			p.logger.Warn("run stopped before all tasks started",
				slog.String("cause", cause.Error()),
				slog.Int("not_attempted", skipped),
			)
		}
	}

	return results
}

// seatTable bounds active tasks. Tasks parked in a batch wait hold no seat.
type seatTable struct {
	sem  chan struct{}
	idle func()

	mu       sync.Mutex
	active   int
	parked   int
	draining bool
}

var _ batch.Seat = (*seatTable)(nil)

func newSeatTable(n int, idle func()) *seatTable {
	return &seatTable{sem: make(chan struct{}, n), idle: idle}
}

// acquire takes a seat for a new task. It returns false once ctx is done,
// even when a seat was free.
func (s *seatTable) acquire(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	if ctx.Err() != nil {
		<-s.sem

		return false
	}

	s.mu.Lock()
	s.active++
	s.mu.Unlock()

	return true
}

// finish gives back the seat of a completed task.
func (s *seatTable) finish() {
	<-s.sem

	s.mu.Lock()
	s.active--
	fire := s.idleLocked()
	s.mu.Unlock()

	s.fire(fire)
}

// Release parks the calling task.
func (s *seatTable) Release() {
	<-s.sem

	s.mu.Lock()
	s.active--
	s.parked++
	fire := s.idleLocked()
	s.mu.Unlock()

	s.fire(fire)
}

// Reacquire seats a parked task again, waiting for a free seat.
func (s *seatTable) Reacquire() {
	s.sem <- struct{}{}

	s.mu.Lock()
	s.parked--
	s.active++
	s.mu.Unlock()
}

// drain records that no further task will be started.
func (s *seatTable) drain() {
	s.mu.Lock()
	s.draining = true
	fire := s.idleLocked()
	s.mu.Unlock()

	s.fire(fire)
}

func (s *seatTable) idleLocked() bool {
	return s.idle != nil && s.draining && s.active == 0 && s.parked > 0
}

func (s *seatTable) fire(ok bool) {
	if ok {
		s.idle()
	}
}

// safeRun converts a panic inside a task into a failed result.
func (p *Pool) safeRun(ctx context.Context, task Task) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in transfer task",
				slog.String("path", task.Source.Path),
				slog.Any("panic", r),
			)

			res = Result{
				Task:   task,
				Status: StatusTransferFailed,
				State:  StateFailed,
				Err:    fmt.Errorf("transfer: panic: %v", r),
			}
		}
	}()

	return p.run(ctx, task)
}
