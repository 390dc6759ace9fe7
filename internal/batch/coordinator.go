// Package batch groups item-creation requests from many workers into bounded
// remote batch calls and hands each worker its own item's outcome.
//
// Workers submit an Item together with a private reply channel. The pending
// buffer is guarded by a mutex; a batch is detached from the buffer under the
// lock and the remote call runs outside it, so other workers keep enqueueing
// while a call is in flight.
//
// A worker pool that runs submitters can attach a Seat to their context
// with WithSeat. Submit gives the seat back while it waits for the batch, so
// the pool keeps starting tasks and the buffer can fill past the pool size.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MaxBatchSize is the most items a single remote batch call may carry.
const MaxBatchSize = 50

// DefaultInterval is how long a non-empty buffer may wait before flushing.
const DefaultInterval = 3 * time.Second

var (
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("batch: coordinator closed")
	// ErrMissingStatus marks an item the remote call returned no status for.
	ErrMissingStatus = errors.New("batch: no status returned for item")
)

// Item is one pending creation request.
type Item struct {
	Token       string
	FileName    string
	Description string
}

// Status is the remote outcome for one item. Err is nil on success.
type Status struct {
	Token    string
	RemoteID string
	Err      error
}

// Creator performs one remote batch call. It returns one status per item in
// request order; a non-nil error means the whole call failed.
type Creator interface {
	BatchCreate(ctx context.Context, items []Item) ([]Status, error)
}

// Options configures a Coordinator.
type Options struct {
	MaxBatch int
	Interval time.Duration
	Logger   *slog.Logger
}

type request struct {
	item  Item
	reply chan Status
}

// Seat is one unit of a caller's concurrency limit.
type Seat interface {
	Release()
	Reacquire()
}

type seatKey struct{}

// WithSeat returns a context whose Submit calls release s while they wait.
func WithSeat(ctx context.Context, s Seat) context.Context {
	return context.WithValue(ctx, seatKey{}, s)
}

func seatFrom(ctx context.Context) Seat {
	s, _ := ctx.Value(seatKey{}).(Seat)

	return s
}

// Coordinator buffers items and flushes them in batches.
type Coordinator struct {
	creator  Creator
	maxBatch int
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending []request
	closed  bool
	callCtx context.Context

	notify   chan struct{}
	done     chan struct{}
	loopDone chan struct{}
	started  bool
	flights  sync.WaitGroup

	calls atomic.Int64
	items atomic.Int64
}

// New creates a Coordinator. Call Start to enable interval flushing and Close
// to flush the tail.
func New(creator Creator, opts Options) *Coordinator {
	if opts.MaxBatch <= 0 || opts.MaxBatch > MaxBatchSize {
		opts.MaxBatch = MaxBatchSize
	}

	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Coordinator{
		creator:  creator,
		maxBatch: opts.MaxBatch,
		interval: opts.Interval,
		logger:   opts.Logger,
		callCtx:  context.Background(),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start launches the interval flusher. Remote calls use a context detached
// from ctx's cancellation so that items already handed over still complete.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	c.callCtx = context.WithoutCancel(ctx)
	c.started = true
	c.mu.Unlock()

	go c.loop()
}

// Submit enqueues item and waits for its status. The returned error is the
// item's own failure, ErrClosed, or ctx's error if the caller stops waiting.
func (c *Coordinator) Submit(ctx context.Context, item Item) (Status, error) {
	reply := make(chan Status, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return Status{}, ErrClosed
	}

	c.pending = append(c.pending, request{item: item, reply: reply})

	var full []request
	if len(c.pending) >= c.maxBatch {
		full = c.detachLocked()
	} else if len(c.pending) == 1 {
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
	callCtx := c.callCtx
	c.mu.Unlock()

	if full != nil {
		c.dispatch(callCtx, full, "size")
	}

	if seat := seatFrom(ctx); seat != nil {
		seat.Release()
		defer seat.Reacquire()
	}

	select {
	case st := <-reply:
		if st.Err != nil {
			return st, fmt.Errorf("batch: creating %s: %w", item.FileName, st.Err)
		}

		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Close flushes whatever is buffered, stops the interval flusher and waits
// for all in-flight calls to deliver their results.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return
	}

	c.closed = true
	tail := c.detachLocked()
	started := c.started
	callCtx := c.callCtx
	c.mu.Unlock()

	if len(tail) > 0 {
		c.dispatch(callCtx, tail, "close")
	}

	close(c.done)

	if started {
		<-c.loopDone
	}

	c.flights.Wait()

	c.logger.Debug("batch coordinator closed",
		slog.Int64("calls", c.calls.Load()),
		slog.Int64("items", c.items.Load()),
	)
}

// Flush sends whatever is buffered now instead of waiting for the interval.
// Pools call it once every outstanding task is waiting on a batch.
func (c *Coordinator) Flush() {
	c.mu.Lock()
	batch := c.detachLocked()
	callCtx := c.callCtx
	c.mu.Unlock()

	if batch != nil {
		c.dispatch(callCtx, batch, "idle")
	}
}

// Calls returns the number of remote batch calls issued.
func (c *Coordinator) Calls() int64 {
	return c.calls.Load()
}

// Pending returns the number of buffered items.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// detachLocked takes the buffer and registers it as in flight, so Close
// cannot miss a batch detached just before it.
func (c *Coordinator) detachLocked() []request {
	if len(c.pending) == 0 {
		return nil
	}

	batch := c.pending
	c.pending = nil
	c.flights.Add(1)

	return batch
}

func (c *Coordinator) loop() {
	defer close(c.loopDone)

	timer := time.NewTimer(c.interval)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
			timer.Reset(c.interval)
		case <-timer.C:
			c.mu.Lock()
			batch := c.detachLocked()
			callCtx := c.callCtx
			c.mu.Unlock()

			if batch != nil {
				c.dispatch(callCtx, batch, "interval")
			}
		}
	}
}

// dispatch runs a batch returned by detachLocked.
func (c *Coordinator) dispatch(ctx context.Context, batch []request, trigger string) {
	go func() {
		defer c.flights.Done()
		c.flush(ctx, batch, trigger)
	}()
}

func (c *Coordinator) flush(ctx context.Context, batch []request, trigger string) {
	items := make([]Item, len(batch))
	for i := range batch {
		items[i] = batch[i].item
	}

	start := time.Now()
	statuses, err := c.creator.BatchCreate(ctx, items)
	c.calls.Add(1)
	c.items.Add(int64(len(items)))

	failed := 0

	for i, r := range batch {
		st := Status{Token: r.item.Token}

		switch {
		case err != nil:
			st.Err = err
		case i < len(statuses):
			st = statuses[i]
			if st.Token == "" {
				st.Token = r.item.Token
			}
		default:
			st.Err = ErrMissingStatus
		}

		if st.Err != nil {
			failed++
		}

		r.reply <- st
	}

	level := slog.LevelDebug
	if failed > 0 {
		level = slog.LevelWarn
	}

	c.logger.Log(ctx, level, "batch create finished",
		slog.String("trigger", trigger),
		slog.Int("items", len(items)),
		slog.Int("failed", failed),
		slog.Duration("elapsed", time.Since(start)),
	)
}
