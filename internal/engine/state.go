package engine

import (
	"time"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// HistoryEntry is one message in the conversation transcript.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationState is the mutable conversation-scoped aggregate threaded
// through every turn. It is exclusively owned by the engine; adapters only
// ever see a StateView and return a StateUpdate.
type ConversationState struct {
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	History        []HistoryEntry `json:"history"`
	StartedAt      time.Time      `json:"started_at"`
	LastActivity   time.Time      `json:"last_activity"`

	ImmediateRiskLevel RiskLevel `json:"immediate_risk_level"`
	CrisisSignals      []string  `json:"crisis_signals"`

	// Monotonic flags. ConversationEnded and EscalationRequested are never
	// cleared once set; AnalysisCompleted is set-once and guards the single
	// allowed ConversationAnalyzer invocation.
	ConversationEnded   bool `json:"conversation_ended"`
	EscalationRequested bool `json:"escalation_requested"`
	EscalationInvoked   bool `json:"escalation_invoked"`
	AnalysisCompleted   bool `json:"analysis_completed"`
	LegacySeverityHigh  bool `json:"legacy_severity_high"`

	EndAssessment *ConversationAssessment `json:"end_assessment,omitempty"`
	CaseID        string                  `json:"case_id,omitempty"`
}

// NewConversationState initializes state for the first turn of a conversation.
func NewConversationState(conversationID, userID string, now time.Time) *ConversationState {
	return &ConversationState{
		ConversationID:     conversationID,
		UserID:             userID,
		StartedAt:          now,
		LastActivity:       now,
		ImmediateRiskLevel: RiskNone,
	}
}

// AppendHistory records one transcript entry; history is append-only and
// insertion order is significant.
func (s *ConversationState) AppendHistory(role, content string, at time.Time) {
	s.History = append(s.History, HistoryEntry{Role: role, Content: content, Timestamp: at})
}

// RecentHistory returns up to the last n entries without copying the backing
// array; callers must treat the slice as read-only.
func (s *ConversationState) RecentHistory(n int) []HistoryEntry {
	if n <= 0 || len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}

// UserMessageCount counts user-authored transcript entries.
func (s *ConversationState) UserMessageCount() int {
	count := 0
	for _, entry := range s.History {
		if entry.Role == ChatRoleUser {
			count++
		}
	}
	return count
}

// ConversationAssessment is the immutable output of the end-of-conversation
// analyzer. Created once, never mutated.
type ConversationAssessment struct {
	OverallRiskLevel     RiskLevel     `json:"overall_risk_level"`
	RiskTrend            RiskTrend     `json:"risk_trend"`
	Summary              string        `json:"summary"`
	Stressors            []string      `json:"stressors"`
	CopingMechanisms     []string      `json:"coping_mechanisms"`
	ProtectiveFactors    []string      `json:"protective_factors"`
	Concerns             []string      `json:"concerns"`
	RecommendedActions   []string      `json:"recommended_actions"`
	ShouldEscalate       bool          `json:"should_escalate"`
	Rationale            string        `json:"rationale"`
	MessageCountAnalyzed int           `json:"message_count_analyzed"`
	AnalyzedAt           time.Time     `json:"analyzed_at"`
	ConversationDuration time.Duration `json:"conversation_duration"`
}

// StateView is the read-only projection handed to sub-workflow adapters.
// Adapters never receive the mutable state itself.
type StateView struct {
	ConversationID      string
	UserID              string
	Message             string
	History             []HistoryEntry
	ImmediateRiskLevel  RiskLevel
	CrisisSignals       []string
	EscalationRequested bool
	EndAssessment       *ConversationAssessment
}

// StateUpdate is the partial update an adapter hands back for the engine to
// merge. The merge never clears monotonic flags, so a buggy adapter cannot
// un-request an escalation.
type StateUpdate struct {
	Reply             string
	Actions           []string
	CaseID            string
	RequestEscalation bool
	Metadata          map[string]string
}

// TurnRequest is the inbound contract for processing one turn.
type TurnRequest struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Message        string    `json:"message"`
	Timestamp      time.Time `json:"timestamp"`
	// EndRequested is the caller-supplied explicit termination signal, e.g.
	// an "end session" action in the surrounding application.
	EndRequested bool `json:"end_requested"`
}

// TurnResult is returned to the caller after a turn reaches the closed phase.
type TurnResult struct {
	ConversationID      string                  `json:"conversation_id"`
	Reply               string                  `json:"reply"`
	Actions             []string                `json:"actions,omitempty"`
	RiskLevel           RiskLevel               `json:"risk_level"`
	CrisisSignals       []string                `json:"crisis_signals,omitempty"`
	AgentsInvoked       []Capability            `json:"agents_invoked"`
	EscalationTriggered bool                    `json:"escalation_triggered"`
	ConversationEnded   bool                    `json:"conversation_ended"`
	Assessment          *ConversationAssessment `json:"assessment,omitempty"`
	Errors              []string                `json:"errors,omitempty"`
	Timestamp           time.Time               `json:"timestamp"`
}
