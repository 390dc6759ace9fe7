package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windsync/wind/internal/history"
	"github.com/windsync/wind/internal/transfer"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{-1, "0 B"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.bytes))
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(time.Time{}))

	old := time.Date(2020, time.December, 25, 8, 0, 0, 0, time.Local)
	assert.Contains(t, formatTime(old), "2020")

	recent := time.Date(time.Now().Year(), time.March, 15, 10, 30, 0, 0, time.Local)
	assert.Contains(t, formatTime(recent), "10:30")
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"NAME", "SIZE"}, [][]string{
		{"file.txt", "1.2 MiB"},
		{"a", "0 B"},
	})

	assert.Equal(t, "NAME      SIZE\nfile.txt  1.2 MiB\na         0 B\n", buf.String())
}

func sampleSummary() *transfer.Summary {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	return &transfer.Summary{
		Planned:     3,
		Transferred: 2,
		Verified:    1,
		Mismatched:  1,
		Skipped:     1,
		Bytes:       2048,
		StartedAt:   start,
		FinishedAt:  start.Add(2 * time.Second),
		Failures: []transfer.Failure{
			{Path: "/b.jpg", Dest: "/b.jpg", Status: transfer.StatusChecksumMismatch, Error: "checksum mismatch"},
		},
	}
}

func TestPrintSummary_Table(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printSummary(&buf, "run-123", sampleSummary(), false))

	out := buf.String()
	assert.Contains(t, out, "mismatched")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "checksum_mismatch")
	assert.Contains(t, out, "/b.jpg")
	assert.Contains(t, out, "run id: run-123")
}

func TestPrintSummary_JSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printSummary(&buf, "run-123", sampleSummary(), true))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))

	assert.Equal(t, "run-123", got["run_id"])
	assert.EqualValues(t, 1, got["mismatched"])
	assert.EqualValues(t, 2048, got["bytes"])
	assert.Len(t, got["failures"], 1)
}

func TestPrintSummary_DryRunShowsPlan(t *testing.T) {
	var buf bytes.Buffer

	sum := &transfer.Summary{
		DryRun:  true,
		Planned: 1,
		Plan:    []transfer.PlanEntry{{Path: "/a.jpg", Dest: "/out/a.jpg", Action: transfer.ActionNew, Reason: "would upload"}},
	}

	require.NoError(t, printSummary(&buf, "", sum, false))
	assert.Contains(t, buf.String(), "/out/a.jpg")
	assert.Contains(t, buf.String(), "would upload")
	assert.NotContains(t, buf.String(), "run id")
}

func TestRunOutcome(t *testing.T) {
	assert.Equal(t, "ok", runOutcome(transfer.Summary{Verified: 1}))
	assert.Equal(t, "failures", runOutcome(transfer.Summary{Failed: 1}))
	assert.Equal(t, "aborted", runOutcome(transfer.Summary{FatalError: "auth", Stopped: true}))
	assert.Equal(t, "interrupted", runOutcome(transfer.Summary{Stopped: true}))
	assert.Equal(t, "dry-run", runOutcome(transfer.Summary{DryRun: true}))
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer

	printRuns(&buf, nil)
	assert.Equal(t, "no runs recorded\n", buf.String())

	buf.Reset()
	printRuns(&buf, []history.Run{{
		ID:      "0123456789abcdef",
		Command: "photos",
		Source:  "gdrive:root",
		Dest:    "photos:",
		Summary: *sampleSummary(),
	}})

	out := buf.String()
	assert.Contains(t, out, "01234567 ")
	assert.NotContains(t, out, "0123456789")
	assert.Contains(t, out, "gdrive:root -> photos:")
	assert.Contains(t, out, "failures")
}
