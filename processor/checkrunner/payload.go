package checkrunner

import (
	"time"

	"github.com/axonlabs/scopeguard/engine"
	"github.com/axonlabs/scopeguard/judge"
)

// Check lifecycle states recorded in the KV bucket. Pending is written
// by the enqueuer; the runner advances through the rest.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// ResultSubject returns the subject a finished check's result is
// published on.
func ResultSubject(checkID string) string {
	return "scopeguard.check.result." + checkID
}

// ResultPayload is the wire form of a finished check, published on
// ResultSubject(id). Failed checks carry Error and no Verdict.
type ResultPayload struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	Verdict        *judge.Verdict `json:"verdict,omitempty"`
	Report         string         `json:"report,omitempty"`
	Degraded       bool           `json:"degraded,omitempty"`
	FailedSources  []string       `json:"failed_sources,omitempty"`
	FilesChanged   int            `json:"files_changed,omitempty"`
	EvidenceCount  int            `json:"evidence_count,omitempty"`
	Repairs        int            `json:"repairs,omitempty"`
	ElapsedSeconds float64        `json:"elapsed_seconds,omitempty"`
	Error          string         `json:"error,omitempty"`
}

func successPayload(res *engine.CheckResult) ResultPayload {
	v := res.Verdict
	return ResultPayload{
		ID:             res.CheckID,
		Status:         StatusComplete,
		Verdict:        &v,
		Report:         res.Report,
		Degraded:       res.Degraded,
		FailedSources:  res.FailedSources,
		FilesChanged:   res.FilesChanged,
		EvidenceCount:  res.EvidenceCount,
		Repairs:        res.Repairs,
		ElapsedSeconds: res.Elapsed.Seconds(),
	}
}

func failurePayload(checkID string, err error) ResultPayload {
	return ResultPayload{
		ID:     checkID,
		Status: StatusFailed,
		Error:  err.Error(),
	}
}

// stateRecord is the KV bucket value keyed by check ID.
type stateRecord struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Score      float64   `json:"score,omitempty"`
	Violations int       `json:"violations,omitempty"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}
