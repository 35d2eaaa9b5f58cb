package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEndDetector_HasFarewell(t *testing.T) {
	detector := NewEndDetector(EndDetectorConfig{})

	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"bare farewell", "bye", true},
		{"farewell with punctuation", "Bye!!", true},
		{"farewell at end of sentence", "thanks for listening, goodbye", true},
		{"multi-word farewell", "ok talk to you later", true},
		{"good night", "Good night", true},
		{"take care trailing emoji-ish", "take care :)", true},
		{"farewell mid-sentence does not end", "goodbye was the hardest thing I ever said to her", false},
		{"bye as substring of word", "I bought a new bicycle", false},
		{"plain message", "I had a rough day", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detector.HasFarewell(tt.message))
		})
	}
}

func TestEndDetector_CustomVocabulary(t *testing.T) {
	detector := NewEndDetector(EndDetectorConfig{
		FarewellTokens: []string{"adios", "hasta luego"},
	})

	assert.True(t, detector.HasFarewell("adios"))
	assert.True(t, detector.HasFarewell("ok hasta luego"))
	assert.False(t, detector.HasFarewell("bye"))
}

func TestEndDetector_InactivityExceeded(t *testing.T) {
	detector := NewEndDetector(EndDetectorConfig{InactivityTimeout: 30 * time.Minute})
	now := time.Now()

	assert.False(t, detector.InactivityExceeded(now.Add(-10*time.Minute), now))
	assert.True(t, detector.InactivityExceeded(now.Add(-31*time.Minute), now))

	// A zero last-activity means a brand new conversation, never a timeout.
	assert.False(t, detector.InactivityExceeded(time.Time{}, now))
}

func TestEndDetector_IsEnded(t *testing.T) {
	detector := NewEndDetector(EndDetectorConfig{InactivityTimeout: 30 * time.Minute})
	now := time.Now()
	recent := now.Add(-time.Minute)

	assert.False(t, detector.IsEnded("still here", recent, now, false))
	assert.True(t, detector.IsEnded("still here", recent, now, true), "explicit end request")
	assert.True(t, detector.IsEnded("goodbye", recent, now, false), "farewell")
	assert.True(t, detector.IsEnded("still here", now.Add(-2*time.Hour), now, false), "inactivity gap")
}
