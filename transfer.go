package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/windsync/wind/internal/config"
	"github.com/windsync/wind/internal/transfer"
)

type transferFlags struct {
	move        bool
	dryRun      bool
	onDuplicate string
	since       string
	limit       int
	include     []string
	exclude     []string
}

func newTransferCmd() *cobra.Command {
	var f transferFlags

	cmd := &cobra.Command{
		Use:   "transfer SRC DST",
		Short: "Copy or move files between two endpoints, verifying each one",
		Long: `Copy (or with --move, move) every file under SRC to DST. Each upload is
verified against the destination before it counts, and in move mode the
source is deleted only after verification succeeds.

Endpoints: onedrive:/path, gdrive:<folder-id>[/sub], s3://bucket/prefix,
local:/path or a plain directory, photos:.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, args, f)
		},
	}

	cmd.Flags().BoolVar(&f.move, "move", false, "delete each source file after its copy is verified")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print the plan without transferring anything")
	cmd.Flags().StringVar(&f.onDuplicate, "on-duplicate", "", "when the destination exists: skip, overwrite or duplicate (default from config)")
	cmd.Flags().Int("workers", 0, "parallel transfers (default from config)")
	cmd.Flags().StringVar(&f.since, "since", "", "only files modified after YYYY-MM-DD")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "transfer at most N files")
	cmd.Flags().StringArrayVar(&f.include, "include", nil, "only paths matching this glob (repeatable)")
	cmd.Flags().StringArrayVar(&f.exclude, "exclude", nil, "skip paths matching this glob (repeatable)")

	return cmd
}

func runTransfer(cmd *cobra.Command, args []string, f transferFlags) error {
	cc := mustCLIContext(cmd.Context())

	src, err := parseEndpoint(args[0])
	if err != nil {
		return err
	}

	dst, err := parseEndpoint(args[1])
	if err != nil {
		return err
	}

	if src.Kind == kindPhotos {
		return fmt.Errorf("the photo library cannot be a transfer source")
	}

	since, err := parseSince(f.since)
	if err != nil {
		return err
	}

	if f.limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	rules, err := duplicateRules(&cc.Cfg.Transfer, f.onDuplicate)
	if err != nil {
		return err
	}

	mode := transfer.ModeCopy
	if f.move {
		mode = transfer.ModeMove
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	srcProv, err := cc.openProvider(ctx, src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src.Raw, err)
	}

	dstProv, err := cc.openProvider(ctx, dst)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dst.Raw, err)
	}

	cc.Statusf("%s %s -> %s\n", mode, src.Raw, dst.Raw)

	return cc.execute(ctx, cmd, "transfer", src, dst, transfer.Options{
		Source:     srcProv,
		Dest:       dstProv,
		SourceRoot: src.Root,
		DestRoot:   dst.Root,
		Mode:       mode,
		DryRun:     f.dryRun,
		Workers:    cc.Cfg.Transfer.Workers,
		Since:      since,
		Limit:      f.limit,
		Policy:     rules,
		Include:    slices.Concat(cc.Cfg.Transfer.Include, f.include),
		Exclude:    slices.Concat(cc.Cfg.Transfer.Exclude, f.exclude),
	})
}

// duplicateRules builds the duplicate policy from config. A non-empty
// override replaces the configured default; per-pattern rules still apply.
func duplicateRules(t *config.TransferConfig, override string) (transfer.Rules, error) {
	def := t.OnDuplicate
	if override != "" {
		def = override
	}

	policy, err := transfer.ParsePolicy(def)
	if err != nil {
		return transfer.Rules{}, err
	}

	rules := transfer.Rules{Default: policy}

	for _, r := range t.DuplicateRules {
		p, err := transfer.ParsePolicy(r.Policy)
		if err != nil {
			return transfer.Rules{}, fmt.Errorf("duplicate rule %q: %w", r.Pattern, err)
		}

		rules.Rules = append(rules.Rules, transfer.Rule{Pattern: r.Pattern, Policy: p})
	}

	return rules, nil
}
