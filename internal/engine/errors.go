package engine

import (
	"errors"
	"fmt"
)

// ErrDispatcherClosed indicates the dispatcher is no longer accepting work.
var ErrDispatcherClosed = errors.New("engine: dispatcher closed")

// ErrCaseExists is returned by the case store when a case record already
// exists for the conversation. Callers treat it as a successful no-op.
var ErrCaseExists = errors.New("engine: case record already exists")

// ClassificationFailure wraps errors from the per-turn risk classifier. It is
// always recovered locally with the fail-closed default level.
type ClassificationFailure struct {
	Err error
	Raw string
}

func (e *ClassificationFailure) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("engine: classification failed: %v (raw output %q)", e.Err, truncate(e.Raw, 120))
	}
	return fmt.Sprintf("engine: classification failed: %v", e.Err)
}

func (e *ClassificationFailure) Unwrap() error { return e.Err }

// AnalysisFailure wraps errors from the end-of-conversation analyzer. The
// engine converts it into a degraded high-risk assessment rather than
// returning an empty one.
type AnalysisFailure struct {
	Err error
	Raw string
}

func (e *AnalysisFailure) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("engine: analysis failed: %v (raw output %q)", e.Err, truncate(e.Raw, 120))
	}
	return fmt.Sprintf("engine: analysis failed: %v", e.Err)
}

func (e *AnalysisFailure) Unwrap() error { return e.Err }

// AdapterFailure records a sub-workflow adapter error. Coaching and triage
// failures are non-fatal for the turn; case-management failures are promoted
// to EscalationDeliveryFailure.
type AdapterFailure struct {
	Capability Capability
	Err        error
}

func (e *AdapterFailure) Error() string {
	return fmt.Sprintf("engine: %s adapter failed: %v", e.Capability, e.Err)
}

func (e *AdapterFailure) Unwrap() error { return e.Err }

// EscalationDeliveryFailure signals that an escalation was requested but the
// case-management dispatch failed. It must be surfaced to the caller so the
// surrounding system can retry or alert; swallowing it would lose a crisis
// signal.
type EscalationDeliveryFailure struct {
	ConversationID string
	Err            error
}

func (e *EscalationDeliveryFailure) Error() string {
	return fmt.Sprintf("engine: escalation delivery failed for %s: %v", e.ConversationID, e.Err)
}

func (e *EscalationDeliveryFailure) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
