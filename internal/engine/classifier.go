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

var classifierTracer = otel.Tracer("havenline/risk-classifier")

// Classification is the per-turn screening result.
type Classification struct {
	Intent             Intent
	IntentConfidence   float64
	ImmediateRiskLevel RiskLevel
	CrisisSignals      []string
	Rationale          string
	// Failed marks a fail-closed result: the inference call errored or
	// returned garbage and ImmediateRiskLevel is the configured safe default.
	Failed bool
}

// RiskClassifierConfig tunes the per-turn classifier.
type RiskClassifierConfig struct {
	Model string
	// Timeout is the short Tier-1 inference budget. A timeout is treated
	// identically to a failure: the result fails closed.
	Timeout time.Duration
	// FailClosedLevel is the level assumed when classification fails. It must
	// never be none; moderate is the shipped default.
	FailClosedLevel RiskLevel
	// HistoryWindow bounds how many recent turns accompany the message.
	HistoryWindow int
	MaxTokens     int32
}

const defaultClassifierPrompt = `You are a risk screener for a mental-health support line.

Given the user's latest message and recent conversation context, classify:
- intent: one of support_seeking, coaching_request, crisis, escalation_request, small_talk, other
- intent_confidence: 0.0-1.0
- risk_level: one of none, low, moderate, high, critical (immediate risk in THIS message)
- rationale: one short sentence

Risk guidance:
- critical: active suicidal intent, a plan, or access to means
- high: suicidal ideation, self-harm, danger from others
- moderate: acute distress, hopelessness, substance misuse as coping
- low: manageable stress or sadness
- none: no distress indicators

Return ONLY JSON:
{"intent":"...","intent_confidence":0.0,"risk_level":"...","rationale":"..."}`

// RiskClassifier screens every inbound message. It is total: Classify always
// returns a usable result, falling back to the fail-closed default on any
// inference or parse failure.
type RiskClassifier struct {
	client   LLMClient
	detector *CrisisDetector
	cfg      RiskClassifierConfig
	logger   *logging.Logger
}

// NewRiskClassifier constructs the Tier-1 classifier.
func NewRiskClassifier(client LLMClient, detector *CrisisDetector, cfg RiskClassifierConfig, logger *logging.Logger) *RiskClassifier {
	if client == nil {
		panic("engine: classifier llm client cannot be nil")
	}
	if detector == nil {
		detector = NewCrisisDetector(logger)
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.FailClosedLevel.Rank() < RiskLow.Rank() {
		cfg.FailClosedLevel = RiskModerate
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	return &RiskClassifier{client: client, detector: detector, cfg: cfg, logger: logger}
}

// Classify screens one message against its recent history. The lexical crisis
// detector runs first and acts as a floor under the LLM result, so a matched
// crisis token always yields at least its mapped level even when the model
// disagrees or fails.
func (c *RiskClassifier) Classify(ctx context.Context, message string, recentHistory []HistoryEntry) Classification {
	ctx, span := classifierTracer.Start(ctx, "classifier.classify")
	defer span.End()

	lexical := c.detector.Detect(ctx, message)

	result := c.classifyLLM(ctx, message, recentHistory)
	result.CrisisSignals = lexical.Signals
	if lexical.Detected {
		result.ImmediateRiskLevel = MaxRiskLevel(result.ImmediateRiskLevel, lexical.MinimumRisk)
		if result.Intent != IntentCrisis && lexical.MinimumRisk.AtLeast(RiskHigh) {
			result.Intent = IntentCrisis
		}
	}

	span.SetAttributes(
		attribute.String("classifier.intent", string(result.Intent)),
		attribute.String("classifier.risk_level", string(result.ImmediateRiskLevel)),
		attribute.Bool("classifier.failed", result.Failed),
		attribute.Int("classifier.crisis_signals", len(result.CrisisSignals)),
	)
	return result
}

func (c *RiskClassifier) classifyLLM(ctx context.Context, message string, recentHistory []HistoryEntry) Classification {
	callCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	messages := make([]ChatMessage, 0, c.cfg.HistoryWindow+1)
	history := recentHistory
	if len(history) > c.cfg.HistoryWindow {
		history = history[len(history)-c.cfg.HistoryWindow:]
	}
	for _, entry := range history {
		role := ChatRoleUser
		if entry.Role == ChatRoleAssistant {
			role = ChatRoleAssistant
		}
		messages = append(messages, ChatMessage{Role: role, Content: entry.Content})
	}
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: message})

	resp, err := c.client.Complete(callCtx, LLMRequest{
		Model:     c.cfg.Model,
		System:    []string{defaultClassifierPrompt},
		Messages:  messages,
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return c.failClosed(&ClassificationFailure{Err: err})
	}

	parsed, err := parseClassification(resp.Text)
	if err != nil {
		return c.failClosed(&ClassificationFailure{Err: err, Raw: resp.Text})
	}
	return parsed
}

// failClosed returns the safe default classification. The default level is
// deliberately never none: a transient inference error must not look like an
// all-clear.
func (c *RiskClassifier) failClosed(cause *ClassificationFailure) Classification {
	c.logger.Warn("risk classification failed closed",
		"error", cause.Error(),
		"default_level", c.cfg.FailClosedLevel,
	)
	return Classification{
		Intent:             IntentOther,
		ImmediateRiskLevel: c.cfg.FailClosedLevel,
		Rationale:          fmt.Sprintf("classification unavailable (%v); defaulting to %s", cause.Err, c.cfg.FailClosedLevel),
		Failed:             true,
	}
}

type classificationPayload struct {
	Intent           string  `json:"intent"`
	IntentConfidence float64 `json:"intent_confidence"`
	RiskLevel        string  `json:"risk_level"`
	Rationale        string  `json:"rationale"`
}

func parseClassification(raw string) (Classification, error) {
	text := sanitizeModelJSON(raw)
	if text == "" {
		return Classification{}, errors.New("empty classifier response")
	}

	var payload classificationPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return Classification{}, err
	}

	level, ok := ParseRiskLevel(payload.RiskLevel)
	if !ok {
		return Classification{}, fmt.Errorf("invalid risk level %q", payload.RiskLevel)
	}

	confidence := payload.IntentConfidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Classification{
		Intent:             ParseIntent(payload.Intent),
		IntentConfidence:   confidence,
		ImmediateRiskLevel: level,
		Rationale:          strings.TrimSpace(payload.Rationale),
	}, nil
}

// sanitizeModelJSON strips code fences and extracts the first JSON object
// from model output that may carry extra prose.
func sanitizeModelJSON(raw string) string {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "{") {
		return text
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
