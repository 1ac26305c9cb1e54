package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fleetsense/fleetsense/agent"
	ferrors "github.com/fleetsense/fleetsense/errors"
	"github.com/fleetsense/fleetsense/memory"
	"github.com/fleetsense/fleetsense/pkg/logging"
	"github.com/fleetsense/fleetsense/report"
	"github.com/fleetsense/fleetsense/risk"
	"github.com/fleetsense/fleetsense/session"
)

// TurnResult is the outcome of one pipeline run for a session.
type TurnResult struct {
	SessionID string                    `json:"session_id"`
	Phase     agent.Phase               `json:"phase"`
	Report    *report.MaintenanceReport `json:"report,omitempty"`
	Failure   *report.Failure           `json:"failure,omitempty"`
}

// Service is the invocation surface of the recommendation pipeline:
// start a session from a risk assessment, submit follow-up messages,
// and fetch the terminal report.
type Service struct {
	adapter  *risk.Adapter
	sessions *session.Manager
	engine   *agent.Engine
	logger   *slog.Logger
}

// New wires the pipeline components into a service.
func New(adapter *risk.Adapter, sessions *session.Manager, engine *agent.Engine) *Service {
	return &Service{
		adapter:  adapter,
		sessions: sessions,
		engine:   engine,
		logger:   logging.WithComponent("service"),
	}
}

// StartSession validates the assessment, creates a session, and runs
// the pipeline to its first terminal phase.
func (s *Service) StartSession(ctx context.Context, assessment risk.Assessment) (TurnResult, error) {
	accepted, err := s.adapter.Accept(assessment)
	if err != nil {
		return TurnResult{}, err
	}

	h, err := s.sessions.Create(ctx, accepted)
	if err != nil {
		return TurnResult{}, err
	}
	id := h.Record.ID

	locked, err := s.sessions.Acquire(ctx, id)
	if err != nil {
		return TurnResult{}, err
	}
	return s.runLocked(ctx, locked, "")
}

// SubmitMessage records an operator message and re-runs the pipeline
// with the message folded into retrieval and reasoning. Corrections
// accumulate through conversation memory.
func (s *Service) SubmitMessage(ctx context.Context, id, message string) (TurnResult, error) {
	if message == "" {
		return TurnResult{}, fmt.Errorf("%w: empty message", ferrors.ErrMalformedInput)
	}

	h, err := s.sessions.Acquire(ctx, id)
	if err != nil {
		return TurnResult{}, err
	}
	h.Memory.Append(memory.Turn{Role: memory.RoleUser, Content: message})
	return s.runLocked(ctx, h, message)
}

// Report returns the session's terminal report. Sessions that have not
// reached DONE report not-ready; failed sessions surface their failure.
func (s *Service) Report(ctx context.Context, id string) (*report.MaintenanceReport, error) {
	record, err := s.sessions.Peek(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Report != nil {
		return record.Report, nil
	}
	if record.Failure != nil {
		return nil, fmt.Errorf("%w: session failed: %s: %s",
			ferrors.ErrReportNotReady, record.Failure.Code, record.Failure.Message)
	}
	return nil, fmt.Errorf("%w: session %s in phase %s", ferrors.ErrReportNotReady, id, record.Phase)
}

// runLocked executes the pipeline while holding the session lock, then
// releases it. The caller must have acquired the handle.
func (s *Service) runLocked(ctx context.Context, h *session.Handle, question string) (TurnResult, error) {
	id := h.Record.ID
	st := agent.NewState(id, h.Record.Assessment)
	st.Question = question

	runErr := s.engine.Run(ctx, st, h.Memory)

	h.Record.Phase = st.Phase
	h.Record.Attempts = st.Attempts
	h.Record.Report = st.Report
	h.Record.Failure = st.Failure

	if err := s.sessions.Release(ctx, h); err != nil {
		s.logger.Error("release session failed", "id", id, "error", err)
	}
	if runErr != nil {
		return TurnResult{}, runErr
	}

	return TurnResult{
		SessionID: id,
		Phase:     st.Phase,
		Report:    st.Report,
		Failure:   st.Failure,
	}, nil
}
