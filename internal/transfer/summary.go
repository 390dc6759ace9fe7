package transfer

import "time"

// Failure describes one task that did not end verified or skipped.
type Failure struct {
	Path   string `json:"path"`
	Dest   string `json:"dest"`
	Status Status `json:"status"`
	Error  string `json:"error"`
}

// Summary is the aggregate report of a run, and the only thing reporting
// layers consume.
type Summary struct {
	Planned        int         `json:"planned"`
	Transferred    int         `json:"transferred"`
	Verified       int         `json:"verified"`
	Mismatched     int         `json:"mismatched"`
	Failed         int         `json:"failed"`
	Skipped        int         `json:"skipped"`
	NotAttempted   int         `json:"not_attempted"`
	SourcesDeleted int         `json:"sources_deleted"`
	Excluded       int         `json:"excluded"`
	Bytes          int64       `json:"bytes"`
	Failures       []Failure   `json:"failures,omitempty"`
	Plan           []PlanEntry `json:"plan,omitempty"`
	DryRun         bool        `json:"dry_run"`
	Stopped        bool        `json:"stopped"`
	FatalError     string      `json:"fatal_error,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
}

// Add folds one result into the counts.
func (s *Summary) Add(res Result) {
	if res.Uploaded() {
		s.Transferred++
		s.Bytes += res.Bytes
	}

	if res.SourceDeleted {
		s.SourcesDeleted++
	}

	switch res.Status {
	case StatusVerified:
		s.Verified++

		// A failed source delete is worth reporting even though the copy stands.
		if res.Err != nil {
			s.Failures = append(s.Failures, failureOf(res))
		}

		return
	case StatusSkipped:
		s.Skipped++

		return
	case StatusChecksumMismatch:
		s.Mismatched++
	case StatusTransferFailed:
		s.Failed++
	case StatusNotAttempted:
		s.NotAttempted++

		return
	}

	s.Failures = append(s.Failures, failureOf(res))
}

// OK reports whether the run ended without failures or mismatches.
func (s *Summary) OK() bool {
	return s.Failed == 0 && s.Mismatched == 0 && s.FatalError == ""
}

// Duration is the wall time of the run.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

func failureOf(res Result) Failure {
	f := Failure{
		Path:   res.Task.Source.Path,
		Dest:   res.Task.DestPath,
		Status: res.Status,
	}

	if res.Err != nil {
		f.Error = res.Err.Error()
	}

	return f
}
