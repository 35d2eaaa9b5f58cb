package engine

import (
	"strings"
	"time"
	"unicode"
)

// EndDetectorConfig tunes conversation-end detection.
type EndDetectorConfig struct {
	// FarewellTokens is the closed farewell vocabulary, localizable via
	// configuration. Matching is case-insensitive against the tail of the
	// message.
	FarewellTokens []string
	// InactivityTimeout ends a conversation when the gap since the previous
	// turn exceeds it.
	InactivityTimeout time.Duration
}

// EndDetector decides whether a conversation has ended. It is a pure
// predicate over three independent signals combined with OR: a terminal
// farewell token, an inactivity gap, and an explicit end request.
type EndDetector struct {
	tokens            []string
	inactivityTimeout time.Duration
}

// NewEndDetector builds a detector from config, applying defaults for any
// zero field.
func NewEndDetector(cfg EndDetectorConfig) *EndDetector {
	tokens := cfg.FarewellTokens
	if len(tokens) == 0 {
		tokens = []string{
			"bye", "goodbye", "bye for now", "see you", "see ya", "talk later",
			"talk to you later", "gotta go", "good night", "goodnight", "take care",
		}
	}
	normalized := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" {
			normalized = append(normalized, tok)
		}
	}
	timeout := cfg.InactivityTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &EndDetector{tokens: normalized, inactivityTimeout: timeout}
}

// IsEnded reports whether this turn ends the conversation. now is injected so
// the inactivity signal is testable.
func (d *EndDetector) IsEnded(message string, lastActivity time.Time, now time.Time, explicitEnd bool) bool {
	return explicitEnd || d.InactivityExceeded(lastActivity, now) || d.HasFarewell(message)
}

// InactivityExceeded reports whether the gap since the previous turn passed
// the threshold.
func (d *EndDetector) InactivityExceeded(lastActivity, now time.Time) bool {
	if lastActivity.IsZero() {
		return false
	}
	return now.Sub(lastActivity) > d.inactivityTimeout
}

// HasFarewell matches the farewell vocabulary against the terminal substring
// of the message, not full-text contains. "bye" ending a message counts;
// "goodbye was hard to say" does not.
func (d *EndDetector) HasFarewell(message string) bool {
	normalized := normalizeTail(message)
	if normalized == "" {
		return false
	}
	for _, tok := range d.tokens {
		if normalized == tok || strings.HasSuffix(normalized, " "+tok) {
			return true
		}
	}
	return false
}

// normalizeTail lowercases the message and strips trailing punctuation and
// emoji-ish runes so "bye!!" and "Bye :)" still match.
func normalizeTail(message string) string {
	s := strings.ToLower(strings.TrimSpace(message))
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	// Collapse internal whitespace so multi-word tokens match reliably.
	return strings.Join(strings.Fields(s), " ")
}
