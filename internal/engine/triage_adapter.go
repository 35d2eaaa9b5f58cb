package engine

import (
	"context"

	"github.com/havenline/support-ai-platform/pkg/logging"
)

// triageReplies are deterministic, pre-approved grounding responses. Triage
// deliberately avoids the LLM: under an active crisis the response must be
// immediate and safe-messaging compliant, not model-dependent.
var triageReplies = map[RiskLevel]string{
	RiskCritical: "I'm really glad you told me. You deserve support right now, and you don't have to face this alone. If you are in immediate danger, please call or text 988 (Suicide & Crisis Lifeline) or your local emergency number. I'm connecting you with one of our counselors, and I'll stay right here with you. Can you tell me where you are and whether you're somewhere safe?",
	RiskHigh:     "Thank you for trusting me with this - it matters, and so do you. A caring human counselor is being looped in to support you. While we wait, let's take one slow breath together. If things ever feel unsafe, the 988 Suicide & Crisis Lifeline (call or text 988) is available around the clock. What feels most overwhelming right now?",
	RiskModerate: "That sounds genuinely heavy, and I'm glad you're talking about it. You're taking a good step just by putting it into words. If you'd like extra support, the 988 Lifeline (call or text 988) is always there. Would it help to talk through what's been hardest today?",
}

// SafetyTriageAdapter produces the immediate safety response on high-risk
// turns and surfaces crisis resources.
type SafetyTriageAdapter struct {
	logger *logging.Logger
}

// NewSafetyTriageAdapter builds the safety-triage sub-workflow.
func NewSafetyTriageAdapter(logger *logging.Logger) *SafetyTriageAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &SafetyTriageAdapter{logger: logger}
}

func (a *SafetyTriageAdapter) Capability() Capability { return CapabilitySafetyTriage }

// Execute returns the grounding response for the turn's risk level and asks
// the engine to keep the escalation request standing for high/critical.
func (a *SafetyTriageAdapter) Execute(ctx context.Context, view StateView) (StateUpdate, error) {
	reply, ok := triageReplies[view.ImmediateRiskLevel]
	if !ok {
		reply = triageReplies[RiskModerate]
	}

	a.logger.Info("safety triage engaged",
		"conversation_id", view.ConversationID,
		"risk_level", view.ImmediateRiskLevel,
		"signals", view.CrisisSignals,
	)

	update := StateUpdate{
		Reply:   reply,
		Actions: []string{"crisis_resources_shared"},
	}
	if view.ImmediateRiskLevel.AtLeast(RiskHigh) {
		update.RequestEscalation = true
		update.Actions = append(update.Actions, "counselor_handoff_requested")
	}
	return update, nil
}
