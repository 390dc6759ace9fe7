package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/windsync/wind/internal/dedup"
	"github.com/windsync/wind/internal/provider"
	"github.com/windsync/wind/internal/resume"
	"github.com/windsync/wind/internal/retry"
)

// Reasons reported for skipped records and dry-run entries.
const (
	reasonDestExists  = "destination exists"
	reasonWouldUpload = "would upload"
)

// PlanEntry is one line of the dry-run report.
type PlanEntry struct {
	Path   string `json:"path"`
	Dest   string `json:"dest"`
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Plan is the planner's output. Skipped holds one result per record the
// planner decided not to transfer; Excluded counts records dropped by
// filters or the resume store, which produce no result at all.
type Plan struct {
	Tasks    []Task
	Skipped  []Result
	Entries  []PlanEntry
	Excluded int
	Limited  bool
}

// PlannerOptions configures a Planner.
type PlannerOptions struct {
	SourceRoot string
	DestRoot   string
	Mode       Mode
	Filter     Filter
	Policy     Rules
	Limit      int
	Dedup      *dedup.Index
	Resume     *resume.Store
	Retry      retry.Policy
	Logger     *slog.Logger
}

// Planner turns a source listing into tasks. It never mutates remote state.
type Planner struct {
	src  provider.Provider
	dst  provider.Provider
	opts PlannerOptions

	logger   *slog.Logger
	seen     map[string]struct{}
	reserved map[string]struct{}
}

// NewPlanner creates a planner for one run.
func NewPlanner(src, dst provider.Provider, opts PlannerOptions) *Planner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if opts.Mode == "" {
		opts.Mode = ModeCopy
	}

	opts.Retry = withProviderClassification(opts.Retry, logger)

	return &Planner{
		src:      src,
		dst:      dst,
		opts:     opts,
		logger:   logger,
		seen:     make(map[string]struct{}),
		reserved: make(map[string]struct{}),
	}
}

// Plan walks the source and returns the plan. Listing errors, and auth
// errors from destination probes, abort planning.
func (p *Planner) Plan(ctx context.Context) (*Plan, error) {
	plan := &Plan{}

	err := p.src.List(ctx, p.opts.SourceRoot, func(rec provider.FileRecord) error {
		if p.opts.Limit > 0 && len(plan.Tasks) >= p.opts.Limit {
			plan.Limited = true

			return provider.ErrStopList
		}

		return p.consider(ctx, plan, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("transfer: planning from %s:%s: %w", p.src.Name(), p.opts.SourceRoot, err)
	}

	p.logger.Info("plan ready",
		slog.Int("tasks", len(plan.Tasks)),
		slog.Int("skipped", len(plan.Skipped)),
		slog.Int("excluded", plan.Excluded),
		slog.Bool("limited", plan.Limited),
	)

	return plan, nil
}

func (p *Planner) consider(ctx context.Context, plan *Plan, rec provider.FileRecord) error {
	rel := provider.RelPath(p.opts.SourceRoot, rec.Path)

	if ok, why := p.opts.Filter.Allow(rel, rec); !ok {
		p.logger.Debug("filtered", slog.String("path", rec.Path), slog.String("reason", why))
		plan.Excluded++

		return nil
	}

	if rec.RemoteID != "" {
		if _, dup := p.seen[rec.RemoteID]; dup {
			plan.Excluded++

			return nil
		}

		p.seen[rec.RemoteID] = struct{}{}
	}

	if r := p.opts.Resume; r != nil && (r.HasID(rec.RemoteID) || r.HasHash(rec.ContentHash)) {
		p.logger.Debug("already uploaded", slog.String("path", rec.Path))
		plan.Excluded++

		return nil
	}

	dest := provider.JoinPath(p.opts.DestRoot, rel)

	if ix := p.opts.Dedup; ix != nil {
		if v := ix.Before(rec.Name, rec.ContentHash); v.Duplicate {
			p.skip(plan, rec, dest, v.Reason)

			return nil
		}
	}

	action, finalDest, err := p.resolve(ctx, rel, dest)
	if err != nil {
		if errors.Is(err, provider.ErrAuth) {
			return err
		}

		plan.Skipped = append(plan.Skipped, Result{
			Task:   Task{Source: rec, DestPath: dest, Action: ActionNew, Mode: p.opts.Mode},
			Status: StatusTransferFailed,
			State:  StateFailed,
			Err:    err,
		})

		return nil
	}

	if action == ActionSkip {
		p.skip(plan, rec, dest, reasonDestExists)

		return nil
	}

	p.reserved[finalDest] = struct{}{}

	plan.Tasks = append(plan.Tasks, Task{Source: rec, DestPath: finalDest, Action: action, Mode: p.opts.Mode})
	plan.Entries = append(plan.Entries, PlanEntry{
		Path:   rec.Path,
		Dest:   finalDest,
		Action: action,
		Reason: wouldReason(action, finalDest),
	})

	return nil
}

func (p *Planner) skip(plan *Plan, rec provider.FileRecord, dest, reason string) {
	plan.Skipped = append(plan.Skipped, Result{
		Task:   Task{Source: rec, DestPath: dest, Action: ActionSkip, Mode: p.opts.Mode},
		Status: StatusSkipped,
		State:  StateDone,
		Reason: reason,
	})
	plan.Entries = append(plan.Entries, PlanEntry{
		Path:   rec.Path,
		Dest:   dest,
		Action: ActionSkip,
		Reason: "would skip: " + reason,
	})
}

// resolve probes the destination and applies the duplicate policy.
func (p *Planner) resolve(ctx context.Context, rel, dest string) (Action, string, error) {
	exists, err := p.exists(ctx, dest)
	if err != nil {
		return "", "", err
	}

	if !exists {
		return ActionNew, dest, nil
	}

	switch p.opts.Policy.For(rel) {
	case PolicyOverwrite:
		return ActionOverwrite, dest, nil
	case PolicyDuplicate:
		for n := 1; n <= maxDuplicateSuffix; n++ {
			candidate := duplicateName(dest, n)

			taken, err := p.exists(ctx, candidate)
			if err != nil {
				return "", "", err
			}

			if !taken {
				return ActionDuplicate, candidate, nil
			}
		}

		return "", "", fmt.Errorf("transfer: no free duplicate name for %s", dest)
	default:
		return ActionSkip, dest, nil
	}
}

// exists reports whether dest is taken at the destination or by another
// task of this plan.
func (p *Planner) exists(ctx context.Context, dest string) (bool, error) {
	if _, ok := p.reserved[dest]; ok {
		return true, nil
	}

	_, err := p.opts.Retry.Do(ctx, "stat "+dest, func(ctx context.Context) error {
		_, statErr := p.dst.Stat(ctx, dest)

		return statErr
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, provider.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("transfer: probing %s: %w", dest, err)
	}
}

func wouldReason(action Action, dest string) string {
	switch action {
	case ActionOverwrite:
		return "would overwrite"
	case ActionDuplicate:
		return "would upload as " + dest
	default:
		return reasonWouldUpload
	}
}

// withProviderClassification fills the retry policy's classifier and hint
// from the provider error taxonomy when the caller left them unset.
func withProviderClassification(p retry.Policy, logger *slog.Logger) retry.Policy {
	if p.Retryable == nil {
		p.Retryable = provider.IsRetryable
	}

	if p.RetryAfter == nil {
		p.RetryAfter = provider.RetryAfter
	}

	if p.Logger == nil {
		p.Logger = logger
	}

	return p
}
