package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/windsync/wind/internal/history"
	"github.com/windsync/wind/internal/provider"
	"github.com/windsync/wind/internal/retry"
	"github.com/windsync/wind/internal/staging"
	"github.com/windsync/wind/internal/transfer"
)

// errRunFailed is returned after a summary with failures or mismatches has
// been printed; main exits 1 without printing it again.
var errRunFailed = errors.New("run finished with failures")

const (
	historyFile  = "history.db"
	stateDirPerm = 0o700
	sinceLayout  = "2006-01-02"
)

// parseSince accepts YYYY-MM-DD (local midnight) or RFC 3339. Empty means no
// cutoff.
func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	if t, err := time.ParseInLocation(sinceLayout, s, time.Local); err == nil {
		return t, nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since: want YYYY-MM-DD, got %q", s)
	}

	return t, nil
}

// retryPolicy builds the per-operation retry policy from [transfer].
func (cc *CLIContext) retryPolicy() retry.Policy {
	base, maxDelay := cc.Cfg.Transfer.RetryDelays()

	return retry.Policy{
		MaxAttempts: cc.Cfg.Transfer.MaxRetries,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		Jitter:      retry.DefaultJitter,
		Retryable:   provider.IsRetryable,
		RetryAfter:  provider.RetryAfter,
		Logger:      cc.Logger,
	}
}

// stateDir returns the state directory, creating it if needed.
func (cc *CLIContext) stateDir() (string, error) {
	dir := cc.Cfg.StatePath()
	if err := os.MkdirAll(dir, stateDirPerm); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}

	return dir, nil
}

func (cc *CLIContext) openHistory(ctx context.Context) (*history.Store, error) {
	dir, err := cc.stateDir()
	if err != nil {
		return nil, err
	}

	return history.Open(ctx, filepath.Join(dir, historyFile), cc.Logger)
}

func (cc *CLIContext) stagingArea() (*staging.Area, error) {
	area, err := staging.NewArea(staging.Options{
		Dir:     cc.Cfg.TempDir,
		Keep:    cc.Cfg.KeepTemp,
		Limiter: staging.NewLimiter(cc.Cfg.Transfer.BandwidthBytes(), cc.Logger),
		Logger:  cc.Logger,
	})
	if err != nil {
		return nil, err
	}

	if _, err := area.Sweep(); err != nil {
		cc.Logger.Warn("could not sweep staging directory", slog.String("error", err.Error()))
	}

	return area, nil
}

// execute runs one transfer, records it in the history database and prints
// the summary. opts must carry the endpoints and run options; staging, retry
// and logging are filled in here.
func (cc *CLIContext) execute(ctx context.Context, cmd *cobra.Command, command string, src, dst endpoint, opts transfer.Options) error {
	area, err := cc.stagingArea()
	if err != nil {
		return err
	}

	opts.Staging = area
	opts.Retry = cc.retryPolicy()
	opts.Logger = cc.Logger

	sum, runErr := transfer.NewRunner(opts).Run(ctx)
	if sum == nil {
		return runErr
	}

	// An interrupted run is still worth recording.
	runID := cc.recordRun(context.WithoutCancel(ctx), history.Run{
		Command: command,
		Source:  src.Raw,
		Dest:    dst.Raw,
		Summary: *sum,
	})

	if err := printSummary(cmd.OutOrStdout(), runID, sum, cc.Flags.JSON); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}

	if !sum.OK() {
		return errRunFailed
	}

	return nil
}

// recordRun stores run and returns its id. History is best effort: a
// failure is logged and the empty id returned.
func (cc *CLIContext) recordRun(ctx context.Context, run history.Run) string {
	store, err := cc.openHistory(ctx)
	if err != nil {
		cc.Logger.Warn("could not open run history", slog.String("error", err.Error()))

		return ""
	}
	defer store.Close()

	id, err := store.Record(ctx, run)
	if err != nil {
		cc.Logger.Warn("could not record run", slog.String("error", err.Error()))

		return ""
	}

	return id
}
