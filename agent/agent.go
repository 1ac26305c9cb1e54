package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fleetsense/fleetsense/config"
	ferrors "github.com/fleetsense/fleetsense/errors"
	"github.com/fleetsense/fleetsense/memory"
	"github.com/fleetsense/fleetsense/pkg/logging"
	"github.com/fleetsense/fleetsense/pkg/telemetry"
	"github.com/fleetsense/fleetsense/rag/retriever"
	"github.com/fleetsense/fleetsense/rag/tokenizer"
	"github.com/fleetsense/fleetsense/report"
	"github.com/fleetsense/fleetsense/risk"
)

// Phase is a state of the agent's execution machine.
type Phase string

const (
	PhaseInit     Phase = "INIT"
	PhaseRetrieve Phase = "RETRIEVE"
	PhaseReason   Phase = "REASON"
	PhaseDraft    Phase = "DRAFT"
	PhaseValidate Phase = "VALIDATE"
	PhaseRetry    Phase = "RETRY"
	PhaseDone     Phase = "DONE"
	PhaseFailed   Phase = "FAILED"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// LLMClient abstracts the text-generation backend. Implementations
// live under contrib/provider.
type LLMClient interface {
	Generate(ctx context.Context, turns []memory.Turn) (memory.Turn, error)
}

// State carries one session's pipeline state across phases. Mutated
// only by the engine while the session's lock is held.
type State struct {
	SessionID  string
	Assessment risk.Assessment
	Question   string

	Phase      Phase
	Retrieved  []retriever.Result
	RawDraft   string
	Draft      report.MaintenanceReport
	Violations []string
	Attempts   int

	Report  *report.MaintenanceReport
	Failure *report.Failure
}

// NewState binds an assessment into a fresh state ready to run.
func NewState(sessionID string, assessment risk.Assessment) *State {
	return &State{
		SessionID:  sessionID,
		Assessment: assessment.Clone(),
		Phase:      PhaseInit,
	}
}

// Engine drives the phase machine for one session at a time.
type Engine struct {
	llm       LLMClient
	retriever *retriever.Retriever
	validator *report.Validator
	tokenizer tokenizer.Tokenizer
	cfg       config.Config
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTokenizer overrides the prompt token counter.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(e *Engine) { e.tokenizer = t }
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds an engine. The validator is compiled once and shared.
func New(llm LLMClient, ret *retriever.Retriever, validator *report.Validator, cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		llm:       llm,
		retriever: ret,
		validator: validator,
		tokenizer: tokenizer.Heuristic{},
		cfg:       cfg.Normalize(),
		logger:    logging.WithComponent("agent"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the phase machine until a terminal phase. The state is
// mutated in place; memory receives the final agent turn on success.
// Cancellation is observed at phase boundaries.
func (e *Engine) Run(ctx context.Context, st *State, mem *memory.SessionMemory) error {
	ctx, span := telemetry.Tracer("agent").Start(ctx, "agent.Run")
	var runErr error
	defer func() { telemetry.End(span, runErr) }()

	if st.Phase == "" {
		st.Phase = PhaseInit
	}

	for !st.Phase.Terminal() {
		if err := ctx.Err(); err != nil {
			e.fail(st, "cancelled", err.Error())
			runErr = err
			return err
		}

		var err error
		switch st.Phase {
		case PhaseInit:
			st.Phase = PhaseRetrieve
		case PhaseRetrieve:
			err = e.retrieve(ctx, st)
		case PhaseReason:
			err = e.reason(ctx, st, mem)
		case PhaseDraft:
			e.draft(st)
		case PhaseValidate:
			e.validate(st)
		case PhaseRetry:
			e.retry(st)
		default:
			err = fmt.Errorf("unknown phase %q", st.Phase)
		}
		if err != nil {
			runErr = err
			return err
		}
	}

	if st.Phase == PhaseDone && st.Report != nil {
		mem.Append(memory.Turn{
			SessionID: st.SessionID,
			Role:      memory.RoleAgent,
			Content:   st.RawDraft,
			CreatedAt: time.Now().UTC(),
		})
	}
	return nil
}

// retrieve issues one query per top-attributed feature plus a primary
// tier query, merges by document keeping the best score, and caps the
// merged set at the configured top-K. An unavailable backend is
// recoverable: reasoning proceeds without evidence and the retry
// budget bounds the run.
func (e *Engine) retrieve(ctx context.Context, st *State) error {
	queries := e.buildQueries(st)

	best := make(map[string]retriever.Result)
	for _, q := range queries {
		results, err := e.retriever.Query(ctx, q, e.cfg.TopK)
		if err != nil {
			if errors.Is(err, ferrors.ErrRetrievalUnavailable) {
				e.logger.Warn("retrieval unavailable, reasoning without evidence",
					"session", st.SessionID, "error", err)
				st.Retrieved = nil
				st.Violations = []string{err.Error()}
				st.Phase = PhaseRetry
				return nil
			}
			return err
		}
		for _, r := range results {
			if prev, ok := best[r.Chunk.DocumentID]; !ok || r.Score > prev.Score {
				best[r.Chunk.DocumentID] = r
			}
		}
	}

	merged := make([]retriever.Result, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	sortResults(merged)
	if len(merged) > e.cfg.TopK {
		merged = merged[:e.cfg.TopK]
	}
	st.Retrieved = merged
	e.logger.Debug("retrieval complete",
		"session", st.SessionID, "queries", len(queries), "chunks", len(merged))
	st.Phase = PhaseReason
	return nil
}

func (e *Engine) buildQueries(st *State) []string {
	queries := []string{
		fmt.Sprintf("vehicle maintenance guidance for %s risk vehicle", st.Assessment.Tier),
	}
	for _, f := range st.Assessment.TopFeatures(e.cfg.MaxFeatureQueries) {
		queries = append(queries, fmt.Sprintf("maintenance recommendation for %s", humanizeFeature(f.Name)))
	}
	if st.Question != "" {
		queries = append(queries, st.Question)
	}
	return queries
}

// reason invokes generation once, under the per-call timeout. Timeouts
// and backend errors are recoverable and feed the retry transition.
func (e *Engine) reason(ctx context.Context, st *State, mem *memory.SessionMemory) error {
	summary, recent, err := mem.Context(ctx)
	if err != nil {
		// Context assembly degraded to the text fold; reasoning proceeds.
		e.logger.Warn("memory fold degraded", "session", st.SessionID, "error", err)
	}

	prompt := BuildPrompt(PromptInput{
		Assessment: st.Assessment,
		Retrieved:  st.Retrieved,
		Summary:    summary,
		Recent:     recent,
		Question:   st.Question,
		Violations: st.Violations,
	}, e.tokenizer, e.cfg.PromptTokenBudget)

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()

	st.Attempts++
	turn, err := e.llm.Generate(genCtx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ferrors.ErrGenerationTimeout, err)
		} else {
			err = fmt.Errorf("%w: %v", ferrors.ErrGenerationFailed, err)
		}
		e.logger.Warn("generation attempt failed",
			"session", st.SessionID, "attempt", st.Attempts, "error", err)
		st.Violations = []string{err.Error()}
		st.Phase = PhaseRetry
		return nil
	}

	st.RawDraft = turn.Content
	st.Phase = PhaseDraft
	return nil
}

// draft parses the raw generation output into a structured report.
func (e *Engine) draft(st *State) {
	rep, err := report.ParseDraft(st.RawDraft)
	if err != nil {
		st.Violations = []string{err.Error()}
		st.Phase = PhaseRetry
		return
	}
	st.Draft = rep
	st.Phase = PhaseValidate
}

func (e *Engine) validate(st *State) {
	outcome := e.validator.Validate(st.Draft, st.Retrieved, st.Assessment)
	if outcome.Valid {
		final := st.Draft.Clone()
		st.Report = &final
		st.Violations = nil
		st.Phase = PhaseDone
		e.logger.Info("report validated",
			"session", st.SessionID, "vehicle", st.Assessment.VehicleID, "attempts", st.Attempts)
		return
	}
	st.Violations = outcome.Violations
	st.Phase = PhaseRetry
}

// retry re-enters reasoning while attempts remain, otherwise fails the
// session with the last draft and rejection reasons preserved.
func (e *Engine) retry(st *State) {
	if st.Attempts >= e.cfg.RetryBudget {
		e.fail(st, "retry_exhausted",
			fmt.Sprintf("%v after %d attempts: %v", ferrors.ErrRetryExhausted, st.Attempts, st.Violations))
		return
	}
	e.logger.Info("retrying generation",
		"session", st.SessionID, "attempt", st.Attempts, "violations", len(st.Violations))
	st.Phase = PhaseReason
}

func (e *Engine) fail(st *State, code, message string) {
	st.Failure = &report.Failure{Code: code, Message: message}
	st.Phase = PhaseFailed
	e.logger.Warn("session failed",
		"session", st.SessionID, "code", code, "attempts", st.Attempts)
}

func sortResults(results []retriever.Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.Ordinal != results[j].Chunk.Ordinal {
			return results[i].Chunk.Ordinal < results[j].Chunk.Ordinal
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
}
