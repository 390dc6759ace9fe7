package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/windsync/wind/internal/dedup"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the photo library filename cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Rescan the photo library and rebuild the cache",
		Args:  cobra.NoArgs,
		RunE:  runCacheRefresh,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show what the cache holds",
		Args:  cobra.NoArgs,
		RunE:  runCacheShow,
	})

	return cmd
}

func runCacheRefresh(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	dir, err := cc.stateDir()
	if err != nil {
		return err
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	lib, err := cc.openPhotos(ctx)
	if err != nil {
		return fmt.Errorf("opening photo library: %w", err)
	}

	cache := dedup.NewCache(dir, cc.Logger)

	snap, err := cache.Refresh(ctx, lib)
	if err != nil {
		return err
	}

	return printSnapshot(cmd, cc, cache.Path(), snap)
}

func runCacheShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	cache := dedup.NewCache(cc.Cfg.StatePath(), cc.Logger)

	snap, ok, err := cache.Load()
	if err != nil {
		return err
	}

	if !ok {
		cc.Statusf("no filename cache at %s; run `wind cache refresh`\n", cache.Path())

		return nil
	}

	return printSnapshot(cmd, cc, cache.Path(), snap)
}

func printSnapshot(cmd *cobra.Command, cc *CLIContext, path string, snap dedup.Snapshot) error {
	w := cmd.OutOrStdout()

	if cc.Flags.JSON {
		return writeJSON(w, struct {
			Path        string `json:"path"`
			LastUpdated string `json:"last_updated"`
			ItemCount   int    `json:"item_count"`
		}{path, snap.LastUpdated.Format(time.RFC3339), snap.ItemCount})
	}

	printTable(w, []string{"CACHE", "UPDATED", "ITEMS"}, [][]string{
		{path, formatTime(snap.LastUpdated), strconv.Itoa(snap.ItemCount)},
	})

	return nil
}
