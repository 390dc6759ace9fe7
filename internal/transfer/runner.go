package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/windsync/wind/internal/dedup"
	"github.com/windsync/wind/internal/provider"
	"github.com/windsync/wind/internal/resume"
	"github.com/windsync/wind/internal/retry"
	"github.com/windsync/wind/internal/staging"
)

// Options configures one run.
type Options struct {
	Source     provider.Provider
	Dest       provider.Provider
	SourceRoot string
	DestRoot   string

	Mode    Mode
	DryRun  bool
	Workers int
	Since   time.Time
	Limit   int

	Policy       Rules
	Include      []string
	Exclude      []string
	RecordFilter func(provider.FileRecord) bool

	Dedup   *dedup.Index
	Resume  *resume.Store
	Retry   retry.Policy
	Staging *staging.Area
	Logger  *slog.Logger

	// Idle is called when every unfinished task waits on a batch and no
	// task is left to start; batch-backed destinations flush there.
	Idle func()
}

// Runner glues planner, pool and engine together for one run.
type Runner struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a runner.
func NewRunner(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Runner{opts: opts, logger: logger, now: time.Now}
}

// Run plans and, unless DryRun is set, executes the transfer. The returned
// summary is valid whenever err is nil; err reports conditions that stop the
// run before any task executes (listing failures, authentication) and resume
// store write failures at the end.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{StartedAt: r.now(), DryRun: r.opts.DryRun}

	planner := NewPlanner(r.opts.Source, r.opts.Dest, PlannerOptions{
		SourceRoot: r.opts.SourceRoot,
		DestRoot:   r.opts.DestRoot,
		Mode:       r.opts.Mode,
		Filter: Filter{
			Since:   r.opts.Since,
			Include: r.opts.Include,
			Exclude: r.opts.Exclude,
			Record:  r.opts.RecordFilter,
		},
		Policy: r.opts.Policy,
		Limit:  r.opts.Limit,
		Dedup:  r.opts.Dedup,
		Resume: r.opts.Resume,
		Retry:  r.opts.Retry,
		Logger: r.logger,
	})

	plan, err := planner.Plan(ctx)
	if err != nil {
		if errors.Is(err, provider.ErrAuth) {
			return nil, fmt.Errorf("transfer: authentication failed, nothing was transferred: %w", err)
		}

		return nil, err
	}

	sum.Planned = len(plan.Tasks)
	sum.Excluded = plan.Excluded

	for _, res := range plan.Skipped {
		sum.Add(res)
	}

	if r.opts.DryRun {
		sum.Plan = plan.Entries
		sum.FinishedAt = r.now()

		return sum, nil
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	engine := NewEngine(EngineOptions{
		Source:  r.opts.Source,
		Dest:    r.opts.Dest,
		Staging: r.opts.Staging,
		Retry:   r.opts.Retry,
		Dedup:   r.opts.Dedup,
		Logger:  r.logger,
	})

	pool := NewPool(r.opts.Workers, engine.Run, r.logger)
	pool.OnIdle(r.opts.Idle)

	var fatal error

	pool.Run(runCtx, plan.Tasks, func(res Result) {
		sum.Add(res)

		if res.Status == StatusVerified {
			r.confirm(res)
		}

		if fatal == nil && res.Err != nil && provider.IsFatal(res.Err) {
			fatal = res.Err
			r.logger.Error("fatal error, stopping run", slog.String("error", res.Err.Error()))
			cancel(fmt.Errorf("transfer: run aborted: %w", res.Err))
		}
	})

	sum.Stopped = runCtx.Err() != nil
	if fatal != nil {
		sum.FatalError = fatal.Error()
	}

	var flushErr error
	if r.opts.Resume != nil {
		flushErr = r.opts.Resume.Flush()
	}

	sum.FinishedAt = r.now()

	r.logger.Info("run finished",
		slog.Int("verified", sum.Verified),
		slog.Int("failed", sum.Failed),
		slog.Int("mismatched", sum.Mismatched),
		slog.Int("skipped", sum.Skipped),
		slog.Int("not_attempted", sum.NotAttempted),
		slog.Bool("stopped", sum.Stopped),
		slog.Duration("elapsed", sum.Duration()),
	)

	if flushErr != nil {
		return sum, fmt.Errorf("transfer: saving resume state: %w", flushErr)
	}

	return sum, nil
}

// confirm records a verified upload in the resume store and dedup index.
func (r *Runner) confirm(res Result) {
	if r.opts.Resume != nil {
		if err := r.opts.Resume.Record(res.Task.Source.RemoteID, res.Hash); err != nil {
			r.logger.Warn("failed to save resume state", slog.String("error", err.Error()))
		}
	}

	if r.opts.Dedup != nil {
		r.opts.Dedup.Record(res.Task.Source.Name, res.Hash, res.RemoteID)
	}
}
