package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/axonlabs/scopeguard/llm"
	"github.com/axonlabs/scopeguard/prompt"
)

// State names a position in the judgment state machine. States are
// logged for observability; no other component observes them.
type State string

const (
	StateBuilding   State = "building"
	StateInvoking   State = "invoking"
	StateValidating State = "validating"
	StateAccepted   State = "accepted"
	StateRepairing  State = "repairing"
	StateFailed     State = "failed"
)

// AnalysisUnavailableError is the terminal judge failure: the model
// service failed, or every repair attempt produced invalid output.
// Callers must report it as-is and never substitute a default score.
type AnalysisUnavailableError struct {
	// Attempts counts model invocations made before giving up.
	Attempts int

	// Code classifies the service failure when the model call itself
	// failed; empty when retries exhausted on malformed output.
	Code llm.ErrorCode

	// LastOutput is a truncated excerpt of the final malformed output.
	LastOutput string

	Err error
}

func (e *AnalysisUnavailableError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("analysis unavailable after %d attempt(s): model service failed (%s): %v",
			e.Attempts, e.Code, e.Err)
	}
	return fmt.Sprintf("analysis unavailable: model output still invalid after %d attempt(s): %v",
		e.Attempts, e.Err)
}

func (e *AnalysisUnavailableError) Unwrap() error {
	return e.Err
}

// IsAnalysisUnavailable reports whether err is a terminal judge failure.
func IsAnalysisUnavailable(err error) bool {
	var ae *AnalysisUnavailableError
	return errors.As(err, &ae)
}

// Judge validates model judgments and repairs malformed output. One
// Judge may serve concurrent checks; it holds no per-check state.
type Judge struct {
	invoker    llm.Invoker
	maxRetries int
	logger     *slog.Logger
}

// Option configures a Judge.
type Option func(*Judge)

// WithMaxRetries bounds the repair cycles after malformed output.
func WithMaxRetries(n int) Option {
	return func(j *Judge) {
		if n >= 0 {
			j.maxRetries = n
		}
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Judge) { j.logger = logger }
}

// New creates a Judge over the given invoker.
func New(invoker llm.Invoker, opts ...Option) *Judge {
	j := &Judge{
		invoker:    invoker,
		maxRetries: 2,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Result is an accepted judgment plus how hard it was to obtain.
type Result struct {
	Verdict *Verdict

	// Repairs counts the repair cycles that ran before acceptance.
	Repairs int

	// Attempts counts model invocations, always Repairs+1.
	Attempts int
}

// Judge runs the state machine for one check. inventory is the change
// set's complete file list; every violation must reference one of its
// paths or none. The returned error is ctx.Err() on cancellation or an
// AnalysisUnavailableError on terminal failure; partial verdicts are
// never returned.
func (j *Judge) Judge(ctx context.Context, p *prompt.Payload, inventory []string) (*Result, error) {
	paths := make(map[string]bool, len(inventory))
	for _, path := range inventory {
		paths[path] = true
	}

	state := StateBuilding
	current := p.Prompt

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		state = j.transition(state, StateInvoking, attempt)
		raw, invokeErr := j.invoker.Invoke(ctx, current, p.Schema, p.Mode)
		state = j.transition(state, StateValidating, attempt)

		if invokeErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Transport-level retries already happened inside the
			// invocation service; a surviving failure is terminal.
			j.transition(state, StateFailed, attempt)
			return nil, &AnalysisUnavailableError{
				Attempts: attempt + 1,
				Code:     llm.CodeOf(invokeErr),
				Err:      invokeErr,
			}
		}

		verdict, valErr := parseVerdict(raw, paths)
		if valErr == nil {
			j.transition(state, StateAccepted, attempt)
			return &Result{Verdict: verdict, Repairs: attempt, Attempts: attempt + 1}, nil
		}

		if attempt >= j.maxRetries {
			j.transition(state, StateFailed, attempt)
			return nil, &AnalysisUnavailableError{
				Attempts:   attempt + 1,
				LastOutput: truncate(raw, 500),
				Err:        valErr,
			}
		}

		state = j.transition(state, StateRepairing, attempt)
		j.logger.Warn("model output rejected, repairing",
			"attempt", attempt+1,
			"max_retries", j.maxRetries,
			"reason", valErr.Error())
		current = repairPrompt(p.Prompt, raw, valErr, inventory)
	}
}

func (j *Judge) transition(from, to State, attempt int) State {
	j.logger.Debug("judge state transition",
		"from", string(from),
		"to", string(to),
		"attempt", attempt+1)
	return to
}

// maxRepairContext bounds the restated original request inside a
// repair prompt so repairs stay affordable on small context windows.
const maxRepairContext = 6000

// repairPrompt builds the corrective follow-up: what was wrong, the
// rejected output, the valid file paths, and a truncated restatement
// of the original request.
func repairPrompt(original, rejected string, valErr error, inventory []string) string {
	paths := "(none)"
	if len(inventory) > 0 {
		paths = ""
		for i, p := range inventory {
			if i > 0 {
				paths += ", "
			}
			paths += p
		}
	}

	return fmt.Sprintf(`Your previous response was rejected: %s

Respond ONLY with a single valid JSON object matching the schema. No markdown, no explanation. Every violation file_path must be null or one of: %s

Your rejected response was:
%s

Original request (may be truncated):
%s`,
		valErr.Error(),
		paths,
		truncate(rejected, 2000),
		truncate(original, maxRepairContext))
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
