package main

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/windsync/wind/internal/batch"
	"github.com/windsync/wind/internal/dedup"
	"github.com/windsync/wind/internal/provider/photos"
	"github.com/windsync/wind/internal/resume"
	"github.com/windsync/wind/internal/transfer"
)

type photosFlags struct {
	dedup        string
	precedence   string
	skipDedup    bool
	refreshCache bool
	saveEvery    int
	since        string
	limit        int
	dryRun       bool
}

func newPhotosCmd() *cobra.Command {
	var f photosFlags

	cmd := &cobra.Command{
		Use:   "photos SRC",
		Short: "Bulk-upload supported media from SRC into the photo library",
		Long: `Upload every supported image and video under SRC into the Google Photos
library. Files already in the library (by name, content hash, or both) are
skipped, and progress is saved so an interrupted run picks up where it
stopped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhotos(cmd, args[0], f)
		},
	}

	cmd.Flags().StringVar(&f.dedup, "dedup", "", "none, filename, hash or filename+hash (default from config)")
	cmd.Flags().StringVar(&f.precedence, "precedence", "", "filename+hash precedence: fast-filename or strict-hash")
	cmd.Flags().BoolVar(&f.skipDedup, "skip-dedup", false, "same as --dedup none")
	cmd.Flags().BoolVar(&f.refreshCache, "refresh-cache", false, "rescan the library instead of using the filename cache")
	cmd.Flags().IntVar(&f.saveEvery, "save-every", 0, "save progress every N uploads (default from config)")
	cmd.Flags().StringVar(&f.since, "since", "", "only files modified after YYYY-MM-DD")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "upload at most N files")
	cmd.Flags().Int("workers", 0, "parallel uploads (default from config)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print what would be uploaded without uploading")

	return cmd
}

// dedupSettings resolves the dedup mode and precedence from config and flags.
func dedupSettings(cc *CLIContext, f photosFlags) (dedup.Mode, dedup.Precedence, error) {
	modeName := cc.Cfg.Photos.DedupMode
	if f.dedup != "" {
		modeName = f.dedup
	}

	if f.skipDedup {
		modeName = string(dedup.ModeNone)
	}

	mode, err := dedup.ParseMode(modeName)
	if err != nil {
		return "", "", err
	}

	precName := cc.Cfg.Photos.DedupPrecedence
	if f.precedence != "" {
		precName = f.precedence
	}

	prec, err := dedup.ParsePrecedence(precName)
	if err != nil {
		return "", "", err
	}

	return mode, prec, nil
}

func usesFilenames(mode dedup.Mode) bool {
	return mode == dedup.ModeFilename || mode == dedup.ModeFilenameHash
}

func runPhotos(cmd *cobra.Command, srcArg string, f photosFlags) error {
	cc := mustCLIContext(cmd.Context())

	src, err := parseEndpoint(srcArg)
	if err != nil {
		return err
	}

	if src.Kind == kindPhotos {
		return fmt.Errorf("the photo library cannot be its own source")
	}

	since, err := parseSince(f.since)
	if err != nil {
		return err
	}

	if f.limit < 0 || f.saveEvery < 0 {
		return fmt.Errorf("--limit and --save-every must not be negative")
	}

	mode, prec, err := dedupSettings(cc, f)
	if err != nil {
		return err
	}

	saveEvery := cc.Cfg.Photos.SaveEvery
	if f.saveEvery > 0 {
		saveEvery = f.saveEvery
	}

	dir, err := cc.stateDir()
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	srcProv, err := cc.openProvider(ctx, src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src.Raw, err)
	}

	lib, err := cc.openPhotos(ctx)
	if err != nil {
		return fmt.Errorf("opening photo library: %w", err)
	}

	store, err := resume.Open(dir, saveEvery, cc.Logger)
	if err != nil {
		return err
	}

	var (
		index  *dedup.Index
		cache  *dedup.Cache
		cached []string
	)

	if mode != dedup.ModeNone {
		if usesFilenames(mode) {
			cache = dedup.NewCache(dir, cc.Logger)

			snap, err := cache.Ensure(ctx, lib, f.refreshCache)
			if err != nil {
				return err
			}

			cached = snap.Filenames
		}

		index = dedup.NewIndex(mode, prec, cached, store.Snapshot().ContentHashes)
	}

	cc.Logger.Info("photo upload starting",
		slog.String("source", src.Raw),
		slog.String("dedup", string(mode)),
		slog.Int("save_every", saveEvery),
		slog.Bool("dry_run", f.dryRun),
	)

	var flush func()

	if !f.dryRun {
		coord := batch.New(lib, batch.Options{
			MaxBatch: cc.Cfg.Photos.BatchSize,
			Interval: cc.Cfg.Photos.Interval(),
			Logger:   cc.Logger,
		})
		coord.Start(ctx)
		lib.UseCoordinator(coord)
		flush = coord.Flush

		defer coord.Close()
	}

	runErr := cc.execute(ctx, cmd, "photos", src, endpoint{Raw: "photos:", Kind: kindPhotos, Root: "/"}, transfer.Options{
		Source:       srcProv,
		Dest:         lib,
		SourceRoot:   src.Root,
		DestRoot:     "/",
		Mode:         transfer.ModeCopy,
		DryRun:       f.dryRun,
		Workers:      cc.Cfg.Transfer.Workers,
		Since:        since,
		Limit:        f.limit,
		Policy:       transfer.Rules{Default: transfer.PolicySkip},
		RecordFilter: photos.Supported,
		Dedup:        index,
		Resume:       store,
		Idle:         flush,
	})

	// Names uploaded this run join the cache so the next run need not rescan.
	if cache != nil && !f.dryRun {
		if _, err := cache.Save(slices.Concat(cached, index.Recorded())); err != nil {
			cc.Logger.Warn("could not update filename cache", slog.String("error", err.Error()))
		}
	}

	return runErr
}
