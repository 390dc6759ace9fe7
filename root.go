package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/windsync/wind/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// CLIFlags are the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is everything a command needs after the root pre-run: the
// resolved configuration, the flags, and a logger built from both.
type CLIContext struct {
	Cfg     *config.Config
	CfgPath string
	Flags   CLIFlags
	Logger  *slog.Logger
}

type cliContextKey struct{}

// cliContextFrom returns the CLIContext stored by PersistentPreRunE, or nil.
func cliContextFrom(ctx context.Context) *CLIContext {
	if ctx == nil {
		return nil
	}

	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// mustCLIContext is cliContextFrom for RunE bodies, where a missing context
// is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("wind: command run without CLI context")
	}

	return cc
}

// newRootCmd builds the root command with every subcommand registered.
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:     "wind",
		Short:   "Verified file transfer between cloud drives",
		Long:    "Copy or move files between OneDrive, Google Drive, S3 and local folders, or bulk-upload media into a Google Photos library, verifying every file that lands.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd, flags)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "print the run summary as JSON")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "only log errors")

	cmd.AddCommand(newTransferCmd())
	cmd.AddCommand(newPhotosCmd())
	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// loadCLIContext resolves the configuration through the override chain
// defaults -> file -> environment -> flags. A subcommand's --workers flag,
// when given, takes part in the chain so it is validated with the rest.
func loadCLIContext(cmd *cobra.Command, flags CLIFlags) (*CLIContext, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if f := cmd.Flags().Lookup("workers"); f != nil && f.Changed {
		n, err := cmd.Flags().GetInt("workers")
		if err != nil {
			return nil, err
		}

		cli.Workers = &n
	}

	cfg, cfgPath, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(cfg, flags, cmd.ErrOrStderr())
	logger.Debug("config resolved", slog.String("path", cfgPath), slog.String("state_dir", cfg.StatePath()))

	return &CLIContext{Cfg: cfg, CfgPath: cfgPath, Flags: flags, Logger: logger}, nil
}

// buildLogger creates the run logger. The config file sets the baseline
// level; --verbose and --quiet override it. Interactive terminals get the
// charmbracelet handler unless log_format asks for something specific.
func buildLogger(cfg *config.Config, flags CLIFlags, w io.Writer) *slog.Logger {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	format := "auto"
	if cfg != nil {
		format = cfg.LogFormat
	}

	opts := &slog.HandlerOptions{Level: level}

	switch {
	case format == "json":
		return slog.New(slog.NewJSONHandler(w, opts))
	case format == "auto" && isTerminal(w):
		return slog.New(log.NewWithOptions(w, log.Options{
			Level:           log.Level(level),
			ReportTimestamp: true,
		}))
	default:
		return slog.New(slog.NewTextHandler(w, opts))
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
