package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/windsync/wind/internal/history"
	"github.com/windsync/wind/internal/transfer"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// formatSize returns a human-readable size string (e.g. "1.2 MiB").
func formatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}

	return humanize.IBytes(uint64(bytes))
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t = t.Local()

	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// summaryJSON is the --json shape of a finished run.
type summaryJSON struct {
	RunID string `json:"run_id,omitempty"`
	*transfer.Summary
}

// printSummary writes the run report as a table, or JSON when asJSON is set.
func printSummary(w io.Writer, runID string, sum *transfer.Summary, asJSON bool) error {
	if asJSON {
		return writeJSON(w, summaryJSON{RunID: runID, Summary: sum})
	}

	if sum.DryRun {
		printPlan(w, sum.Plan)
	}

	rows := [][]string{
		{"planned", strconv.Itoa(sum.Planned)},
		{"transferred", strconv.Itoa(sum.Transferred)},
		{"verified", strconv.Itoa(sum.Verified)},
		{"mismatched", strconv.Itoa(sum.Mismatched)},
		{"failed", strconv.Itoa(sum.Failed)},
		{"skipped", strconv.Itoa(sum.Skipped)},
		{"not attempted", strconv.Itoa(sum.NotAttempted)},
		{"sources deleted", strconv.Itoa(sum.SourcesDeleted)},
		{"excluded", strconv.Itoa(sum.Excluded)},
		{"bytes", formatSize(sum.Bytes)},
		{"elapsed", sum.Duration().Round(time.Millisecond).String()},
	}

	fmt.Fprintln(w)
	printTable(w, []string{"RESULT", "COUNT"}, rows)

	if sum.Stopped {
		fmt.Fprintln(w, "\nrun stopped before all tasks finished")
	}

	if sum.FatalError != "" {
		fmt.Fprintf(w, "fatal: %s\n", sum.FatalError)
	}

	printFailures(w, sum.Failures)

	if runID != "" {
		fmt.Fprintf(w, "\nrun id: %s\n", runID)
	}

	return nil
}

func printPlan(w io.Writer, plan []transfer.PlanEntry) {
	if len(plan) == 0 {
		fmt.Fprintln(w, "nothing to do")

		return
	}

	rows := make([][]string, 0, len(plan))
	for _, e := range plan {
		rows = append(rows, []string{string(e.Action), e.Path, e.Dest, e.Reason})
	}

	printTable(w, []string{"ACTION", "SOURCE", "DEST", "REASON"}, rows)
}

func printFailures(w io.Writer, failures []transfer.Failure) {
	if len(failures) == 0 {
		return
	}

	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{string(f.Status), f.Path, f.Error})
	}

	fmt.Fprintln(w)
	printTable(w, []string{"STATUS", "PATH", "ERROR"}, rows)
}

// printRuns writes the history listing.
func printRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")

		return
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			shortID(r.ID),
			formatTime(r.Summary.StartedAt),
			r.Command,
			r.Source + " -> " + r.Dest,
			strconv.Itoa(r.Summary.Verified),
			strconv.Itoa(r.Summary.Failed + r.Summary.Mismatched),
			runOutcome(r.Summary),
		})
	}

	printTable(w, []string{"ID", "STARTED", "COMMAND", "ROUTE", "VERIFIED", "FAILED", "OUTCOME"}, rows)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}

func runOutcome(sum transfer.Summary) string {
	switch {
	case sum.DryRun:
		return "dry-run"
	case sum.FatalError != "":
		return "aborted"
	case sum.Stopped:
		return "interrupted"
	case !sum.OK():
		return "failures"
	default:
		return "ok"
	}
}
