package engine

import (
	"context"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/havenline/support-ai-platform/pkg/logging"
)

var crisisTracer = otel.Tracer("havenline/crisis-detector")

// CrisisCategory classifies the kind of crisis signal a message carries.
type CrisisCategory string

const (
	CrisisNone        CrisisCategory = ""
	CrisisSelfHarm    CrisisCategory = "SELF_HARM"
	CrisisSuicidal    CrisisCategory = "SUICIDAL_IDEATION"
	CrisisHarmOthers  CrisisCategory = "HARM_TO_OTHERS"
	CrisisAbuse       CrisisCategory = "ABUSE"
	CrisisSubstance   CrisisCategory = "SUBSTANCE_CRISIS"
	CrisisHopelessNow CrisisCategory = "ACUTE_HOPELESSNESS"
)

// CrisisResult contains every signal matched in a single message plus the
// minimum risk level those signals imply. The engine uses MinimumRisk as a
// floor under the LLM classification, never a ceiling.
type CrisisResult struct {
	Detected    bool
	Category    CrisisCategory
	Confidence  float64
	Signals     []string
	MinimumRisk RiskLevel
}

type crisisPattern struct {
	regex   *regexp.Regexp
	weight  float64
	keyword string
	risk    RiskLevel
}

// CrisisDetector scans messages for crisis trigger phrases. It is purely
// lexical so it stays deterministic and cheap enough to run on every turn
// before any inference call.
type CrisisDetector struct {
	logger   *logging.Logger
	patterns map[CrisisCategory][]*crisisPattern
}

// NewCrisisDetector creates a new crisis detector.
func NewCrisisDetector(logger *logging.Logger) *CrisisDetector {
	if logger == nil {
		logger = logging.Default()
	}

	d := &CrisisDetector{
		logger:   logger,
		patterns: make(map[CrisisCategory][]*crisisPattern),
	}

	d.patterns[CrisisSuicidal] = []*crisisPattern{
		{regex: regexp.MustCompile(`(?i)\bkill\s+myself\b`), weight: 0.98, keyword: "kill myself", risk: RiskCritical},
		{regex: regexp.MustCompile(`(?i)\bend\s+(my\s+life|it\s+all)\b`), weight: 0.95, keyword: "end my life", risk: RiskCritical},
		{regex: regexp.MustCompile(`(?i)\bsuicid(e|al)\b`), weight: 0.9, keyword: "suicide", risk: RiskCritical},
		{regex: regexp.MustCompile(`(?i)\b(want|wish)\s+to\s+die\b`), weight: 0.9, keyword: "want to die", risk: RiskCritical},
		{regex: regexp.MustCompile(`(?i)\bbetter\s+off\s+(dead|without\s+me)\b`), weight: 0.85, keyword: "better off dead", risk: RiskHigh},
		{regex: regexp.MustCompile(`(?i)\b(pills?|rope|gun)\s+ready\b`), weight: 0.95, keyword: "means ready", risk: RiskCritical},
		{regex: regexp.MustCompile(`(?i)\bhave\s+(pills|a\s+plan)\b`), weight: 0.9, keyword: "has plan or means", risk: RiskCritical},
		{regex: regexp.MustCompile(`(?i)\bno\s+reason\s+to\s+(live|go\s+on)\b`), weight: 0.85, keyword: "no reason to live", risk: RiskHigh},
	}

	d.patterns[CrisisSelfHarm] = []*crisisPattern{
		{regex: regexp.MustCompile(`(?i)\bhurt\s+myself\b`), weight: 0.9, keyword: "hurt myself", risk: RiskHigh},
		{regex: regexp.MustCompile(`(?i)\bcut(ting)?\s+myself\b`), weight: 0.9, keyword: "cutting", risk: RiskHigh},
		{regex: regexp.MustCompile(`(?i)\bself[\s-]?harm\b`), weight: 0.85, keyword: "self-harm", risk: RiskHigh},
		{regex: regexp.MustCompile(`(?i)\bburn(ed|ing)?\s+myself\b`), weight: 0.85, keyword: "burning", risk: RiskHigh},
	}

	d.patterns[CrisisHarmOthers] = []*crisisPattern{
		{regex: regexp.MustCompile(`(?i)\b(hurt|kill)\s+(him|her|them|someone)\b`), weight: 0.9, keyword: "harm others", risk: RiskHigh},
		{regex: regexp.MustCompile(`(?i)\bmake\s+them\s+pay\b`), weight: 0.7, keyword: "make them pay", risk: RiskHigh},
	}

	d.patterns[CrisisAbuse] = []*crisisPattern{
		{regex: regexp.MustCompile(`(?i)\b(he|she|they)\s+(hits?|beats?)\s+me\b`), weight: 0.9, keyword: "physical abuse", risk: RiskHigh},
		{regex: regexp.MustCompile(`(?i)\bafraid\s+(of\s+)?(him|her|them)\b`), weight: 0.7, keyword: "afraid of person", risk: RiskModerate},
		{regex: regexp.MustCompile(`(?i)\bnot\s+safe\s+at\s+home\b`), weight: 0.9, keyword: "unsafe at home", risk: RiskHigh},
	}

	d.patterns[CrisisSubstance] = []*crisisPattern{
		{regex: regexp.MustCompile(`(?i)\boverdos(e|ed|ing)\b`), weight: 0.95, keyword: "overdose", risk: RiskCritical},
		{regex: regexp.MustCompile(`(?i)\btook\s+(too\s+many|a\s+lot\s+of)\s+pills\b`), weight: 0.95, keyword: "took too many pills", risk: RiskCritical},
		{regex: regexp.MustCompile(`(?i)\bdrink(ing)?\s+to\s+(cope|forget|numb)\b`), weight: 0.6, keyword: "drinking to cope", risk: RiskModerate},
	}

	d.patterns[CrisisHopelessNow] = []*crisisPattern{
		{regex: regexp.MustCompile(`(?i)\bcan'?t\s+(go\s+on|take\s+(it|this)\s+anymore)\b`), weight: 0.8, keyword: "can't go on", risk: RiskHigh},
		{regex: regexp.MustCompile(`(?i)\bnothing\s+matters\s+anymore\b`), weight: 0.7, keyword: "nothing matters", risk: RiskModerate},
		{regex: regexp.MustCompile(`(?i)\bcompletely\s+hopeless\b`), weight: 0.7, keyword: "hopeless", risk: RiskModerate},
	}

	return d
}

// Detect analyzes a message for crisis signals. Every matching pattern
// contributes a signal; the strongest match sets category and confidence.
func (d *CrisisDetector) Detect(ctx context.Context, message string) *CrisisResult {
	_, span := crisisTracer.Start(ctx, "crisis.detect")
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return &CrisisResult{Detected: false, MinimumRisk: RiskNone}
	}

	result := &CrisisResult{MinimumRisk: RiskNone}

	for category, patterns := range d.patterns {
		for _, p := range patterns {
			if !p.regex.MatchString(message) {
				continue
			}
			result.Detected = true
			result.Signals = append(result.Signals, p.keyword)
			result.MinimumRisk = MaxRiskLevel(result.MinimumRisk, p.risk)
			if p.weight > result.Confidence {
				result.Confidence = p.weight
				result.Category = category
			}
		}
	}

	if !result.Detected {
		return result
	}

	span.SetAttributes(
		attribute.Bool("crisis.detected", true),
		attribute.String("crisis.category", string(result.Category)),
		attribute.Float64("crisis.confidence", result.Confidence),
		attribute.String("crisis.minimum_risk", string(result.MinimumRisk)),
	)

	d.logger.Info("crisis signal detected",
		"category", result.Category,
		"confidence", result.Confidence,
		"signals", result.Signals,
		"minimum_risk", result.MinimumRisk,
	)

	return result
}
