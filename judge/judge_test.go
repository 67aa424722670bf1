package judge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/axonlabs/scopeguard/llm"
	"github.com/axonlabs/scopeguard/llm/testutil"
	"github.com/axonlabs/scopeguard/prompt"
)

var testInventory = []string{"src/payments/fraud.py", "src/payments/grpc.py"}

const validOutput = `{
  "alignment_score": 0.4,
  "violations": [
    {"kind": "scope_creep", "severity": "critical", "file_path": "src/payments/fraud.py",
     "description": "Adds fraud detection outside the approved REST-only payments design.",
     "recommendation": "Remove fraud.py or get the design amended."}
  ],
  "summary": "The change introduces an undesigned fraud module."
}`

func testPayload() *prompt.Payload {
	return &prompt.Payload{
		Prompt: "judge this change",
		Schema: Schema,
		Mode:   llm.DecodingFree,
	}
}

func TestJudge_AcceptsFirstAttempt(t *testing.T) {
	mock := &testutil.MockInvoker{Outputs: []string{validOutput}}
	j := New(mock)

	res, err := j.Judge(context.Background(), testPayload(), testInventory)
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	if res.Repairs != 0 || res.Attempts != 1 {
		t.Errorf("Repairs=%d Attempts=%d, want 0 and 1", res.Repairs, res.Attempts)
	}
	if res.Verdict.AlignmentScore != 0.4 {
		t.Errorf("AlignmentScore = %v, want 0.4", res.Verdict.AlignmentScore)
	}
	if len(res.Verdict.Violations) != 1 {
		t.Fatalf("got %d violations, want 1", len(res.Verdict.Violations))
	}
	v := res.Verdict.Violations[0]
	if v.Kind != KindScopeCreep || v.Severity != SeverityCritical || v.FilePath != "src/payments/fraud.py" {
		t.Errorf("unexpected violation: %+v", v)
	}
}

func TestJudge_RepairsInvalidJSONThenAccepts(t *testing.T) {
	// Invalid twice, valid on the third attempt: exactly 2 repair cycles.
	mock := &testutil.MockInvoker{Outputs: []string{"not json", "still {not json", validOutput}}
	j := New(mock, WithMaxRetries(2))

	res, err := j.Judge(context.Background(), testPayload(), testInventory)
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	if res.Repairs != 2 || res.Attempts != 3 {
		t.Errorf("Repairs=%d Attempts=%d, want 2 and 3", res.Repairs, res.Attempts)
	}
	if mock.CallCount() != 3 {
		t.Errorf("CallCount = %d, want 3", mock.CallCount())
	}

	prompts := mock.Prompts()
	if !strings.Contains(prompts[1], "not json") {
		t.Error("repair prompt missing the rejected output")
	}
	if !strings.Contains(prompts[1], "rejected") {
		t.Error("repair prompt missing the correction instruction")
	}
	if !strings.Contains(prompts[1], "src/payments/fraud.py") {
		t.Error("repair prompt missing the valid file paths")
	}
}

func TestJudge_FailsAfterExhaustedRetries(t *testing.T) {
	mock := &testutil.MockInvoker{Outputs: []string{"bad", "bad", "bad"}}
	j := New(mock, WithMaxRetries(2))

	_, err := j.Judge(context.Background(), testPayload(), testInventory)
	if err == nil {
		t.Fatal("expected AnalysisUnavailable, got nil")
	}
	if !IsAnalysisUnavailable(err) {
		t.Fatalf("error %v is not AnalysisUnavailable", err)
	}
	var ae *AnalysisUnavailableError
	errors.As(err, &ae)
	if ae.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", ae.Attempts)
	}
	if ae.LastOutput != "bad" {
		t.Errorf("LastOutput = %q, want the final rejected output", ae.LastOutput)
	}
	if mock.CallCount() != 3 {
		t.Errorf("CallCount = %d, want 3", mock.CallCount())
	}
}

func TestJudge_ServiceErrorIsTerminal(t *testing.T) {
	svcErr := &llm.InvokeError{Code: llm.ErrCodeQuotaExceeded, Err: errors.New("429")}
	mock := &testutil.MockInvoker{Errs: []error{svcErr}}
	j := New(mock, WithMaxRetries(2))

	_, err := j.Judge(context.Background(), testPayload(), testInventory)
	if !IsAnalysisUnavailable(err) {
		t.Fatalf("error %v is not AnalysisUnavailable", err)
	}
	var ae *AnalysisUnavailableError
	errors.As(err, &ae)
	if ae.Code != llm.ErrCodeQuotaExceeded {
		t.Errorf("Code = %q, want quota_exceeded", ae.Code)
	}
	if mock.CallCount() != 1 {
		t.Errorf("CallCount = %d, want 1 (service failures are not repaired)", mock.CallCount())
	}
}

func TestJudge_RejectsUnknownFilePath(t *testing.T) {
	bad := `{"alignment_score": 0.9, "violations": [{"kind": "other", "severity": "info", "file_path": "src/nowhere.py", "description": "x"}], "summary": "s"}`
	good := `{"alignment_score": 0.9, "violations": [{"kind": "other", "severity": "info", "file_path": null, "description": "x"}], "summary": "s"}`
	mock := &testutil.MockInvoker{Outputs: []string{bad, good}}
	j := New(mock, WithMaxRetries(2))

	res, err := j.Judge(context.Background(), testPayload(), testInventory)
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	if res.Repairs != 1 {
		t.Errorf("Repairs = %d, want 1", res.Repairs)
	}
	if res.Verdict.Violations[0].FilePath != "" {
		t.Errorf("FilePath = %q, want empty for project-wide", res.Verdict.Violations[0].FilePath)
	}

	prompts := mock.Prompts()
	if !strings.Contains(prompts[1], "src/nowhere.py") {
		t.Error("repair prompt does not name the offending path")
	}
}

func TestJudge_RejectsScoreOutOfRange(t *testing.T) {
	bad := `{"alignment_score": 1.4, "violations": [], "summary": "s"}`
	good := `{"alignment_score": 1.0, "violations": [], "summary": "s"}`
	mock := &testutil.MockInvoker{Outputs: []string{bad, good}}
	j := New(mock, WithMaxRetries(1))

	res, err := j.Judge(context.Background(), testPayload(), testInventory)
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	if res.Verdict.AlignmentScore != 1.0 {
		t.Errorf("AlignmentScore = %v, want 1.0", res.Verdict.AlignmentScore)
	}
}

func TestJudge_ZeroRetriesFailsImmediately(t *testing.T) {
	mock := &testutil.MockInvoker{Outputs: []string{"bad"}}
	j := New(mock, WithMaxRetries(0))

	_, err := j.Judge(context.Background(), testPayload(), testInventory)
	if !IsAnalysisUnavailable(err) {
		t.Fatalf("error %v is not AnalysisUnavailable", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("CallCount = %d, want 1", mock.CallCount())
	}
}

func TestJudge_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := &testutil.MockInvoker{Outputs: []string{validOutput}}
	j := New(mock)

	_, err := j.Judge(ctx, testPayload(), testInventory)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if mock.CallCount() != 0 {
		t.Errorf("CallCount = %d, want 0 after pre-invoke cancellation", mock.CallCount())
	}
}
