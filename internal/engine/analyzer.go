package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/havenline/support-ai-platform/pkg/logging"
)

var analyzerTracer = otel.Tracer("havenline/conversation-analyzer")

// AnalyzerConfig tunes the Tier-2 end-of-conversation analyzer.
type AnalyzerConfig struct {
	Model string
	// Timeout is the long Tier-2 budget; analysis runs at most once per
	// conversation so tens of seconds is acceptable.
	Timeout time.Duration
	// Window bounds how many trailing transcript entries are analyzed.
	Window    int
	MaxTokens int32
}

const defaultAnalyzerPrompt = `You are a clinical-adjacent reviewer producing a structured risk read of a completed support conversation. You are not diagnosing; you are triaging for human follow-up.

Analyze the full transcript and return ONLY JSON:
{
  "overall_risk_level": "none|low|moderate|high|critical",
  "risk_trend": "stable|escalating|de-escalating|insufficient_data",
  "summary": "2-3 sentences",
  "stressors": ["..."],
  "coping_mechanisms": ["..."],
  "protective_factors": ["..."],
  "concerns": ["..."],
  "recommended_actions": ["..."],
  "should_escalate": false,
  "rationale": "one sentence explaining the escalation recommendation"
}

Set should_escalate=true when a human counselor should review this
conversation: any self-harm or suicide signal, risk trending upward, or an
unsafe living situation.`

// ConversationAnalyzer produces the comprehensive end-of-conversation risk
// assessment. It is invoked at most once per conversation, only after the
// conversation has ended; the engine enforces that invariant.
type ConversationAnalyzer struct {
	client LLMClient
	cfg    AnalyzerConfig
	logger *logging.Logger
}

// NewConversationAnalyzer constructs the Tier-2 analyzer.
func NewConversationAnalyzer(client LLMClient, cfg AnalyzerConfig, logger *logging.Logger) *ConversationAnalyzer {
	if client == nil {
		panic("engine: analyzer llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 30
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &ConversationAnalyzer{client: client, cfg: cfg, logger: logger}
}

// Analyze maps a transcript into a ConversationAssessment. On any failure to
// produce parseable structured output it returns an *AnalysisFailure; it
// never silently returns an empty assessment. The caller converts the
// failure into the fail-safe degraded assessment.
func (a *ConversationAnalyzer) Analyze(ctx context.Context, transcript []HistoryEntry, duration time.Duration) (*ConversationAssessment, error) {
	ctx, span := analyzerTracer.Start(ctx, "analyzer.analyze")
	defer span.End()

	if len(transcript) == 0 {
		return nil, &AnalysisFailure{Err: errors.New("transcript is empty")}
	}

	window := transcript
	if len(window) > a.cfg.Window {
		window = window[len(window)-a.cfg.Window:]
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if a.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	resp, err := a.client.Complete(callCtx, LLMRequest{
		Model:     a.cfg.Model,
		System:    []string{defaultAnalyzerPrompt},
		Messages:  []ChatMessage{{Role: ChatRoleUser, Content: renderTranscript(window, duration)}},
		MaxTokens: a.cfg.MaxTokens,
	})
	if err != nil {
		return nil, &AnalysisFailure{Err: err}
	}

	assessment, err := parseAssessment(resp.Text)
	if err != nil {
		return nil, &AnalysisFailure{Err: err, Raw: resp.Text}
	}

	// Convention: MessageCountAnalyzed counts the user-authored messages in
	// the analyzed window, including the farewell message that ended the
	// conversation.
	assessment.MessageCountAnalyzed = countUserMessages(window)
	assessment.AnalyzedAt = time.Now().UTC()
	assessment.ConversationDuration = duration

	span.SetAttributes(
		attribute.String("analyzer.overall_risk", string(assessment.OverallRiskLevel)),
		attribute.String("analyzer.trend", string(assessment.RiskTrend)),
		attribute.Bool("analyzer.should_escalate", assessment.ShouldEscalate),
		attribute.Int("analyzer.messages", assessment.MessageCountAnalyzed),
	)
	a.logger.Info("conversation analysis completed",
		"overall_risk", assessment.OverallRiskLevel,
		"trend", assessment.RiskTrend,
		"should_escalate", assessment.ShouldEscalate,
		"messages_analyzed", assessment.MessageCountAnalyzed,
	)
	return assessment, nil
}

// DegradedAssessment is the fail-safe result used when analysis itself
// failed: maximal-practical risk with escalation recommended, so a broken
// Tier-2 read can only over-escalate, never under-escalate.
func DegradedAssessment(cause error, messageCount int, duration time.Duration) *ConversationAssessment {
	return &ConversationAssessment{
		OverallRiskLevel:     RiskHigh,
		RiskTrend:            TrendInsufficientData,
		Summary:              "Automated analysis was unavailable for this conversation.",
		ShouldEscalate:       true,
		Rationale:            fmt.Sprintf("analysis error - defaulting to high risk (%v)", cause),
		MessageCountAnalyzed: messageCount,
		AnalyzedAt:           time.Now().UTC(),
		ConversationDuration: duration,
	}
}

func countUserMessages(entries []HistoryEntry) int {
	count := 0
	for _, entry := range entries {
		if entry.Role == ChatRoleUser {
			count++
		}
	}
	return count
}

func renderTranscript(entries []HistoryEntry, duration time.Duration) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Conversation duration: %s\nMessages: %d\n\n", duration.Round(time.Second), len(entries))
	for _, entry := range entries {
		role := "User"
		if entry.Role == ChatRoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, entry.Content)
	}
	return sb.String()
}

type assessmentPayload struct {
	OverallRiskLevel   string   `json:"overall_risk_level"`
	RiskTrend          string   `json:"risk_trend"`
	Summary            string   `json:"summary"`
	Stressors          []string `json:"stressors"`
	CopingMechanisms   []string `json:"coping_mechanisms"`
	ProtectiveFactors  []string `json:"protective_factors"`
	Concerns           []string `json:"concerns"`
	RecommendedActions []string `json:"recommended_actions"`
	ShouldEscalate     bool     `json:"should_escalate"`
	Rationale          string   `json:"rationale"`
}

func parseAssessment(raw string) (*ConversationAssessment, error) {
	text := sanitizeModelJSON(raw)
	if text == "" {
		return nil, errors.New("empty analyzer response")
	}

	var payload assessmentPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, err
	}

	level, ok := ParseRiskLevel(payload.OverallRiskLevel)
	if !ok {
		return nil, fmt.Errorf("invalid overall risk level %q", payload.OverallRiskLevel)
	}

	return &ConversationAssessment{
		OverallRiskLevel:   level,
		RiskTrend:          ParseRiskTrend(payload.RiskTrend),
		Summary:            strings.TrimSpace(payload.Summary),
		Stressors:          payload.Stressors,
		CopingMechanisms:   payload.CopingMechanisms,
		ProtectiveFactors:  payload.ProtectiveFactors,
		Concerns:           payload.Concerns,
		RecommendedActions: payload.RecommendedActions,
		ShouldEscalate:     payload.ShouldEscalate,
		Rationale:          strings.TrimSpace(payload.Rationale),
	}, nil
}
