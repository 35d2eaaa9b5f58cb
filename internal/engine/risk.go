package engine

import "strings"

// RiskLevel is the five-level immediate risk scale. The ordering matters:
// escalation decisions compare levels, so the numeric rank must follow
// none < low < moderate < high < critical.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskNone:     0,
	RiskLow:      1,
	RiskModerate: 2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Rank returns the ordinal position of the level on the risk scale.
// Unknown levels rank below none so they can never win a Max comparison.
func (r RiskLevel) Rank() int {
	if rank, ok := riskRank[r]; ok {
		return rank
	}
	return -1
}

// AtLeast reports whether r is at or above the given level.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

// MaxRiskLevel returns the higher of two levels.
func MaxRiskLevel(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseRiskLevel normalizes a raw level string. The second return is false
// when the input is not one of the five known levels.
func ParseRiskLevel(raw string) (RiskLevel, bool) {
	level := RiskLevel(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := riskRank[level]; ok {
		return level, true
	}
	return "", false
}

// RiskTrend describes how risk evolved over a whole conversation.
type RiskTrend string

const (
	TrendStable           RiskTrend = "stable"
	TrendEscalating       RiskTrend = "escalating"
	TrendDeEscalating     RiskTrend = "de-escalating"
	TrendInsufficientData RiskTrend = "insufficient_data"
)

// ParseRiskTrend normalizes a raw trend string, defaulting to
// insufficient_data for anything unrecognized.
func ParseRiskTrend(raw string) RiskTrend {
	trend := RiskTrend(strings.ToLower(strings.TrimSpace(raw)))
	switch trend {
	case TrendStable, TrendEscalating, TrendDeEscalating, TrendInsufficientData:
		return trend
	case "deescalating", "de_escalating":
		return TrendDeEscalating
	default:
		return TrendInsufficientData
	}
}

// Intent is the conversational intent assigned by the classifier.
type Intent string

const (
	IntentSupportSeeking Intent = "support_seeking"
	IntentCoaching       Intent = "coaching_request"
	IntentCrisis         Intent = "crisis"
	IntentEscalation     Intent = "escalation_request"
	IntentSmallTalk      Intent = "small_talk"
	IntentOther          Intent = "other"
)

// ParseIntent normalizes a raw intent string, defaulting to other.
func ParseIntent(raw string) Intent {
	intent := Intent(strings.ToLower(strings.TrimSpace(raw)))
	switch intent {
	case IntentSupportSeeking, IntentCoaching, IntentCrisis, IntentEscalation, IntentSmallTalk, IntentOther:
		return intent
	default:
		return IntentOther
	}
}

// Capability identifies a sub-workflow adapter.
type Capability string

const (
	CapabilityCoaching       Capability = "therapeutic-coaching"
	CapabilityCaseManagement Capability = "case-management"
	CapabilitySafetyTriage   Capability = "safety-triage"
)
