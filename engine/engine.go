// Package engine orchestrates one scope check end to end: change
// acquisition and workflow parsing fan out concurrently, retrieval and
// summarization join before prompt assembly, the judge produces a
// validated verdict, and the report builder renders the result.
// Independent checks share no mutable state and may run concurrently.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/axonlabs/scopeguard/budget"
	"github.com/axonlabs/scopeguard/change"
	"github.com/axonlabs/scopeguard/cicd"
	"github.com/axonlabs/scopeguard/judge"
	"github.com/axonlabs/scopeguard/llm"
	"github.com/axonlabs/scopeguard/metrics"
	"github.com/axonlabs/scopeguard/model"
	"github.com/axonlabs/scopeguard/prompt"
	"github.com/axonlabs/scopeguard/report"
	"github.com/axonlabs/scopeguard/retrieve"
	"github.com/axonlabs/scopeguard/summarize"
)

// ErrInvalidRequest marks check requests rejected before any work ran.
var ErrInvalidRequest = errors.New("invalid check request")

// CheckRequest identifies one scope check.
type CheckRequest struct {
	// ID names the check; assigned when empty.
	ID string `json:"id"`

	// RepoRef is the workspace-relative repository reference.
	RepoRef string `json:"repo_ref"`

	// ProjectID scopes design document retrieval.
	ProjectID string `json:"project_id"`

	Base string `json:"base"`
	Head string `json:"head"`

	// Description is optional natural-language context for the change.
	// When empty, a summary is derived from the branch commits.
	Description string `json:"description,omitempty"`
}

// Validate checks the request fields that no default can stand in for.
func (r *CheckRequest) Validate() error {
	var missing []string
	if r.RepoRef == "" {
		missing = append(missing, "repo_ref")
	}
	if r.ProjectID == "" {
		missing = append(missing, "project_id")
	}
	if r.Base == "" {
		missing = append(missing, "base")
	}
	if r.Head == "" {
		missing = append(missing, "head")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// CheckResult is the externally visible outcome of an accepted check.
type CheckResult struct {
	CheckID string        `json:"check_id"`
	Verdict judge.Verdict `json:"verdict"`
	Report  string        `json:"report"`

	// Degraded marks a check whose retrieval lost one or more sources.
	Degraded      bool     `json:"degraded"`
	FailedSources []string `json:"failed_sources,omitempty"`

	FilesChanged  int           `json:"files_changed"`
	EvidenceCount int           `json:"evidence_count"`
	Repairs       int           `json:"repairs"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Engine runs scope checks. It is safe for concurrent use; per-check
// state (budget, change set, evidence) lives on the Run stack.
type Engine struct {
	changes    change.Provider
	workflows  cicd.Parser
	retriever  *retrieve.Retriever
	invoker    llm.Invoker
	summarizer *summarize.Summarizer
	builder    *report.Builder

	modelID      string
	smallMarkers []string
	maxRetries   int

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Deps are the collaborators every engine needs.
type Deps struct {
	Changes   change.Provider
	Workflows cicd.Parser
	Retriever *retrieve.Retriever
	Invoker   llm.Invoker
}

// Option configures an Engine.
type Option func(*Engine)

// WithModelID sets the judge model identifier used for profile
// detection (small models get a shrunken budget and constrained
// decoding).
func WithModelID(id string) Option {
	return func(e *Engine) { e.modelID = id }
}

// WithSmallMarkers overrides the small-model identifier markers.
func WithSmallMarkers(markers []string) Option {
	return func(e *Engine) { e.smallMarkers = markers }
}

// WithJudgeRetries bounds the judge's repair cycles.
func WithJudgeRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithApprovalThreshold sets the report builder's approval threshold.
func WithApprovalThreshold(t float64) Option {
	return func(e *Engine) { e.builder = report.NewBuilder(report.WithApprovalThreshold(t)) }
}

// WithSummarizer replaces the diff summarizer.
func WithSummarizer(s *summarize.Summarizer) Option {
	return func(e *Engine) { e.summarizer = s }
}

// WithMetrics wires Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an Engine. All four collaborators are required.
func New(deps Deps, opts ...Option) (*Engine, error) {
	if deps.Changes == nil {
		return nil, fmt.Errorf("engine requires a change provider")
	}
	if deps.Workflows == nil {
		return nil, fmt.Errorf("engine requires a workflow parser")
	}
	if deps.Retriever == nil {
		return nil, fmt.Errorf("engine requires a retriever")
	}
	if deps.Invoker == nil {
		return nil, fmt.Errorf("engine requires a model invoker")
	}

	e := &Engine{
		changes:    deps.Changes,
		workflows:  deps.Workflows,
		retriever:  deps.Retriever,
		invoker:    deps.Invoker,
		summarizer: summarize.New(),
		builder:    report.NewBuilder(),
		maxRetries: 2,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes one scope check. It returns a result only for ACCEPTED
// verdicts; every failure surfaces as an error (ref/input errors,
// BudgetExceeded, AnalysisUnavailable) and never as a fabricated score.
func (e *Engine) Run(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	logger := e.logger.With("check_id", req.ID, "project_id", req.ProjectID)
	logger.Info("scope check started",
		"repo_ref", req.RepoRef, "base", req.Base, "head", req.Head)

	e.metrics.CheckStarted()
	start := time.Now()
	outcome := metrics.OutcomeFailed
	defer func() {
		e.metrics.CheckCompleted(outcome, time.Since(start))
	}()

	// Diff computation and CI config parsing are independent.
	var (
		wg       sync.WaitGroup
		set      *change.Set
		specs    []cicd.WorkflowSpec
		setErr   error
		parseErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		set, setErr = e.changes.ChangeSet(ctx, req.RepoRef, req.Base, req.Head)
	}()
	go func() {
		defer wg.Done()
		specs, parseErr = e.workflows.ParseWorkflows(ctx, req.RepoRef)
	}()
	wg.Wait()

	if setErr != nil {
		outcome = metrics.OutcomeInputError
		return nil, fmt.Errorf("change set %s..%s: %w", req.Base, req.Head, setErr)
	}
	if parseErr != nil {
		outcome = metrics.OutcomeInputError
		return nil, fmt.Errorf("parse workflows: %w", parseErr)
	}

	description := req.Description
	if description == "" {
		if bs, err := e.changes.BranchSummary(ctx, req.RepoRef, req.Base, req.Head); err == nil {
			description = strings.TrimSpace(bs.Title + "\n" + bs.Body)
		} else {
			logger.Debug("branch summary unavailable", "error", err)
		}
	}

	profile := e.profile()

	// Summarization is pure; retrieval fans out to the store. They
	// join here before prompt assembly.
	var (
		summary *summarize.Summary
		result  *retrieve.Result
		retErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		summary = e.summarizer.Summarize(set, specs)
	}()
	go func() {
		defer wg.Done()
		result, retErr = e.retriever.Retrieve(ctx, retrieve.Query{
			ProjectID:   req.ProjectID,
			Description: description,
			Paths:       set.Paths(),
			TopK:        profile.RetrievalTopK,
		})
	}()
	wg.Wait()

	if retErr != nil {
		return nil, fmt.Errorf("retrieve evidence: %w", retErr)
	}
	for _, source := range result.FailedSources {
		e.metrics.SourceFailed(source)
	}

	mgr := budget.NewManager(profile, budget.WithLogger(logger))
	payload, err := prompt.Assemble(mgr, prompt.Inputs{
		DiffSummary: summary.Render(),
		Evidence:    result.Chunks,
		Schema:      judge.Schema,
	})
	if err != nil {
		if budget.IsBudgetExceeded(err) {
			outcome = metrics.OutcomeBudgetExceeded
		}
		return nil, fmt.Errorf("assemble prompt: %w", err)
	}

	logger.Debug("prompt assembled",
		"evidence_included", payload.EvidenceIncluded,
		"decoding_mode", string(payload.Mode),
		"tokens_reserved", payload.Budget.TotalReserved())

	j := judge.New(e.invoker,
		judge.WithMaxRetries(e.maxRetries),
		judge.WithLogger(logger))
	res, err := j.Judge(ctx, payload, set.Paths())
	if err != nil {
		return nil, err
	}
	e.metrics.RepairCycles(res.Repairs)

	final, rendered := e.builder.Build(*res.Verdict, report.Annotations{
		Degraded:      result.Degraded,
		FailedSources: result.FailedSources,
	})

	outcome = metrics.OutcomeAccepted
	elapsed := time.Since(start)
	logger.Info("scope check accepted",
		"alignment_score", final.AlignmentScore,
		"violations", len(final.Violations),
		"approval_required", final.ApprovalRequired,
		"degraded", result.Degraded,
		"repairs", res.Repairs,
		"elapsed", elapsed)

	return &CheckResult{
		CheckID:       req.ID,
		Verdict:       final,
		Report:        rendered,
		Degraded:      result.Degraded,
		FailedSources: result.FailedSources,
		FilesChanged:  len(set.Files),
		EvidenceCount: payload.EvidenceIncluded,
		Repairs:       res.Repairs,
		Elapsed:       elapsed,
	}, nil
}

func (e *Engine) profile() model.Profile {
	return model.ProfileFor(e.modelID, e.smallMarkers)
}
