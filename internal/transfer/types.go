// Package transfer plans and executes verified copies between two providers.
//
// A run walks the source, turns each eligible record into a Task, and hands
// the tasks to a bounded worker pool. Each task goes through the
// copy-verify-delete state machine in Engine and yields exactly one Result.
// The Runner aggregates results into a Summary and keeps the dedup index and
// resume store current as uploads are confirmed.
package transfer

import (
	"fmt"
	"strings"

	"github.com/windsync/wind/internal/provider"
)

// Action is the planner's decision for one source record.
type Action string

const (
	ActionNew       Action = "new"
	ActionSkip      Action = "skip"
	ActionOverwrite Action = "overwrite"
	ActionDuplicate Action = "duplicate"
)

// Policy decides what happens when the destination path already exists.
type Policy string

const (
	PolicySkip      Policy = "skip"
	PolicyOverwrite Policy = "overwrite"
	PolicyDuplicate Policy = "duplicate"
)

// ParsePolicy validates a duplicate policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicySkip, PolicyOverwrite, PolicyDuplicate:
		return p, nil
	case "":
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("transfer: unknown duplicate policy %q (want skip, overwrite or duplicate)", s)
	}
}

// Mode is copy or move. Move deletes the source after verification.
type Mode string

const (
	ModeCopy Mode = "copy"
	ModeMove Mode = "move"
)

// Task is one planned file transfer. It is owned by a single worker until
// its Result is emitted.
type Task struct {
	Source   provider.FileRecord
	DestPath string
	Action   Action
	Mode     Mode
}

// Status is the terminal outcome of a task.
type Status string

const (
	StatusVerified         Status = "verified"
	StatusChecksumMismatch Status = "checksum_mismatch"
	StatusTransferFailed   Status = "transfer_failed"
	StatusSkipped          Status = "skipped"
	StatusNotAttempted     Status = "not_attempted"
)

// State is a step of the copy-verify-delete state machine.
type State string

const (
	StatePlanned        State = "PLANNED"
	StateDownloading    State = "DOWNLOADING"
	StateUploading      State = "UPLOADING"
	StateVerifying      State = "VERIFYING"
	StateVerified       State = "VERIFIED"
	StateMismatch       State = "MISMATCH"
	StateFailed         State = "FAILED"
	StateDeletingSource State = "DELETING_SOURCE"
	StateDone           State = "DONE"
)

// Result is the immutable outcome of one task.
//
// Err on a verified result is a failed source delete in move mode; the
// upload itself stands.
type Result struct {
	Task          Task
	Status        Status
	State         State
	Reason        string
	Err           error
	Bytes         int64
	Attempts      int
	RemoteID      string
	Hash          string
	SourceDeleted bool
}

// Uploaded reports whether the bytes reached the destination.
func (r Result) Uploaded() bool {
	return r.Status == StatusVerified || r.Status == StatusChecksumMismatch
}
