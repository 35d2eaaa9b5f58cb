package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/havenline/support-ai-platform/pkg/logging"
)

// EngineEvent is a structured event at a decision point in the turn
// pipeline. All events share the same base fields for easy filtering:
//
//	grep '"event":"escalation_requested"' /var/log/app.log
//	grep '"conversation_id":"conv_abc"' /var/log/app.log
type EngineEvent struct {
	Time           string         `json:"time"`
	Event          string         `json:"event"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// EventLogger emits structured JSON lifecycle events.
type EventLogger struct {
	logger *logging.Logger
}

// NewEventLogger creates a new engine event logger.
func NewEventLogger(logger *logging.Logger) *EventLogger {
	return &EventLogger{logger: logger}
}

// Log emits a structured engine event.
func (e *EventLogger) Log(_ context.Context, event, convID, userID string, data map[string]any) {
	if e == nil || e.logger == nil {
		return
	}
	evt := EngineEvent{
		Time:           time.Now().UTC().Format(time.RFC3339Nano),
		Event:          event,
		ConversationID: convID,
		UserID:         userID,
		Data:           data,
	}
	b, _ := json.Marshal(evt)
	e.logger.Info(string(b))
}

// Convenience methods for common events:

func (e *EventLogger) TurnReceived(ctx context.Context, convID, userID, message string) {
	msg := message
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	e.Log(ctx, "turn_received", convID, userID, map[string]any{
		"message": msg,
	})
}

func (e *EventLogger) RiskClassified(ctx context.Context, convID string, c Classification) {
	e.Log(ctx, "risk_classified", convID, "", map[string]any{
		"intent":     c.Intent,
		"risk_level": c.ImmediateRiskLevel,
		"confidence": c.IntentConfidence,
		"signals":    c.CrisisSignals,
		"failed":     c.Failed,
	})
}

func (e *EventLogger) EscalationRequested(ctx context.Context, convID, source string, level RiskLevel) {
	e.Log(ctx, "escalation_requested", convID, "", map[string]any{
		"source":     source,
		"risk_level": level,
	})
}

func (e *EventLogger) AdapterInvoked(ctx context.Context, convID string, capability Capability, failed bool) {
	e.Log(ctx, "adapter_invoked", convID, "", map[string]any{
		"capability": capability,
		"failed":     failed,
	})
}

func (e *EventLogger) ConversationEnded(ctx context.Context, convID, reason string) {
	e.Log(ctx, "conversation_ended", convID, "", map[string]any{
		"reason": reason,
	})
}

func (e *EventLogger) AnalysisCompleted(ctx context.Context, convID string, a *ConversationAssessment, degraded bool) {
	if a == nil {
		return
	}
	e.Log(ctx, "analysis_completed", convID, "", map[string]any{
		"overall_risk":      a.OverallRiskLevel,
		"trend":             a.RiskTrend,
		"should_escalate":   a.ShouldEscalate,
		"messages_analyzed": a.MessageCountAnalyzed,
		"degraded":          degraded,
	})
}

func (e *EventLogger) CaseOpened(ctx context.Context, convID, caseID string) {
	e.Log(ctx, "case_opened", convID, "", map[string]any{
		"case_id": caseID,
	})
}
