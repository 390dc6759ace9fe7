package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/windsync/wind/internal/dedup"
	"github.com/windsync/wind/internal/provider"
	"github.com/windsync/wind/internal/retry"
	"github.com/windsync/wind/internal/staging"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Source  provider.Provider
	Dest    provider.Provider
	Staging *staging.Area
	Retry   retry.Policy
	Dedup   *dedup.Index
	Logger  *slog.Logger
}

// Engine runs the copy-verify-delete state machine for single tasks.
// It is safe for concurrent use by pool workers.
type Engine struct {
	src     provider.Provider
	dst     provider.Provider
	staging *staging.Area
	retry   retry.Policy
	dedup   *dedup.Index
	logger  *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Engine{
		src:     opts.Source,
		dst:     opts.Dest,
		staging: opts.Staging,
		retry:   withProviderClassification(opts.Retry, logger),
		dedup:   opts.Dedup,
		logger:  logger,
	}
}

// Run executes one task and returns its result. The task runs to completion
// even if ctx is canceled: a stop request never leaves a file half-moved.
func (e *Engine) Run(ctx context.Context, task Task) Result {
	ctx = context.WithoutCancel(ctx)
	res := Result{Task: task, State: StatePlanned}

	log := e.logger.With(
		slog.String("src", task.Source.Path),
		slog.String("dest", task.DestPath),
	)

	res.State = StateDownloading

	var staged *staging.File

	attempts, err := e.retry.Do(ctx, "download "+task.Source.Path, func(ctx context.Context) error {
		f, fetchErr := e.staging.Fetch(ctx, e.src, task.Source)
		if fetchErr != nil {
			return fetchErr
		}

		staged = f

		return nil
	})
	res.Attempts += attempts

	if err != nil {
		return e.fail(log, res, fmt.Errorf("transfer: downloading %s: %w", task.Source.Path, err))
	}

	defer func() {
		if rmErr := staged.Remove(); rmErr != nil {
			log.Warn("failed to remove staged file", slog.String("error", rmErr.Error()))
		}
	}()

	res.Bytes = staged.Size
	res.Hash = staged.SHA256

	if e.dedup != nil {
		if v := e.dedup.After(staged.SHA256); v.Duplicate {
			log.Info("skipping duplicate content", slog.String("reason", v.Reason))

			res.Status = StatusSkipped
			res.State = StateDone
			res.Reason = v.Reason

			return res
		}
	}

	res.State = StateUploading

	req := provider.UploadRequest{
		LocalPath: staged.Path,
		DestPath:  task.DestPath,
		Size:      staged.Size,
		Overwrite: task.Action == ActionOverwrite,
		Source:    task.Source.WithHash(staged.SHA256),
	}

	var up provider.UploadResult

	attempts, err = e.retry.Do(ctx, "upload "+task.DestPath, func(ctx context.Context) error {
		var upErr error
		up, upErr = e.dst.Upload(ctx, req)

		return upErr
	})
	res.Attempts += attempts

	if err != nil {
		return e.fail(log, res, fmt.Errorf("transfer: uploading %s: %w", task.DestPath, err))
	}

	res.RemoteID = up.RemoteID
	res.State = StateVerifying

	if err := e.verify(ctx, staged.Path, up); err != nil {
		res.Err = err

		if errors.Is(err, provider.ErrChecksumMismatch) {
			res.Status = StatusChecksumMismatch
			res.State = StateMismatch
			log.Error("checksum mismatch, source kept", slog.String("error", err.Error()))

			return res
		}

		return e.fail(log, res, err)
	}

	res.Status = StatusVerified
	res.State = StateVerified

	if task.Mode == ModeMove {
		res.State = StateDeletingSource

		if _, err := e.retry.Do(ctx, "delete "+task.Source.Path, func(ctx context.Context) error {
			return e.src.Delete(ctx, task.Source)
		}); err != nil {
			res.Err = fmt.Errorf("transfer: deleting source %s: %w", task.Source.Path, err)
			log.Warn("verified but source delete failed", slog.String("error", err.Error()))
		} else {
			res.SourceDeleted = true
		}
	}

	res.State = StateDone

	log.Info("transfer verified",
		slog.Int64("bytes", res.Bytes),
		slog.Int("attempts", res.Attempts),
		slog.Bool("source_deleted", res.SourceDeleted),
	)

	return res
}

// verify compares the token the destination should report for the staged
// file with the one it actually reports.
func (e *Engine) verify(ctx context.Context, localPath string, up provider.UploadResult) error {
	expected, err := e.dst.Expect(localPath)
	if err != nil {
		return fmt.Errorf("transfer: computing expected token: %w", err)
	}

	got := up.Token
	if got.IsZero() {
		if _, err := e.retry.Do(ctx, "verify "+up.RemoteID, func(ctx context.Context) error {
			var verr error
			got, verr = e.dst.Verify(ctx, up.RemoteID)

			return verr
		}); err != nil {
			return fmt.Errorf("transfer: reading token for %s: %w", up.RemoteID, err)
		}
	}

	if !expected.Matches(got) {
		return fmt.Errorf("transfer: %s: expected %s, destination reports %s: %w",
			up.RemoteID, expected, got, provider.ErrChecksumMismatch)
	}

	return nil
}

func (e *Engine) fail(log *slog.Logger, res Result, err error) Result {
	res.Status = StatusTransferFailed
	res.State = StateFailed
	res.Err = err

	log.Error("transfer failed", slog.String("error", err.Error()))

	return res
}
