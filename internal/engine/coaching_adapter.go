package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/havenline/support-ai-platform/pkg/logging"
)

const coachingSystemPrompt = `You are a supportive wellbeing coach on a mental-health support line.

Guidelines:
- Validate the user's feelings before anything else.
- Offer one small, concrete coping step they could try today.
- Do NOT diagnose, prescribe, or promise outcomes.
- Keep the reply under 120 words, warm and plain-spoken.
- If the user mentions wanting to hurt themselves, gently point them to the
  crisis resources and encourage them to stay in the conversation.`

// coachingFallbackReply is used when the coaching model is unavailable. The
// turn still gets a supportive reply; the adapter error is recorded
// separately as non-fatal.
const coachingFallbackReply = "Thank you for sharing that with me. What you're feeling is valid, and it took courage to put it into words. I'm here with you - would you like to tell me a bit more about what's been weighing on you?"

// CoachingAdapter drafts a therapeutic-coaching reply with the LLM.
type CoachingAdapter struct {
	client    LLMClient
	model     string
	timeout   time.Duration
	maxTokens int32
	logger    *logging.Logger
}

// NewCoachingAdapter builds the coaching sub-workflow.
func NewCoachingAdapter(client LLMClient, model string, timeout time.Duration, logger *logging.Logger) *CoachingAdapter {
	if client == nil {
		panic("engine: coaching llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CoachingAdapter{
		client:    client,
		model:     model,
		timeout:   timeout,
		maxTokens: 512,
		logger:    logger,
	}
}

func (a *CoachingAdapter) Capability() Capability { return CapabilityCoaching }

// Execute drafts a coaching reply. On model failure it returns the canned
// supportive reply alongside the error so the engine can continue the turn.
func (a *CoachingAdapter) Execute(ctx context.Context, view StateView) (StateUpdate, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	messages := make([]ChatMessage, 0, len(view.History)+1)
	for _, entry := range view.History {
		role := ChatRoleUser
		if entry.Role == ChatRoleAssistant {
			role = ChatRoleAssistant
		}
		messages = append(messages, ChatMessage{Role: role, Content: entry.Content})
	}
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: view.Message})

	resp, err := a.client.Complete(callCtx, LLMRequest{
		Model:     a.model,
		System:    []string{coachingSystemPrompt},
		Messages:  messages,
		MaxTokens: a.maxTokens,
	})
	if err != nil {
		a.logger.Warn("coaching draft failed, using fallback reply",
			"conversation_id", view.ConversationID,
			"error", err,
		)
		return StateUpdate{Reply: coachingFallbackReply}, &AdapterFailure{Capability: CapabilityCoaching, Err: err}
	}

	reply := strings.TrimSpace(resp.Text)
	if reply == "" {
		err := fmt.Errorf("coaching model returned empty reply")
		return StateUpdate{Reply: coachingFallbackReply}, &AdapterFailure{Capability: CapabilityCoaching, Err: err}
	}
	return StateUpdate{Reply: reply}, nil
}
