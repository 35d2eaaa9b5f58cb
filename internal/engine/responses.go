package engine

// Default replies used when no sub-workflow produced one. They follow
// safe-messaging guidance: supportive, non-alarming, and never a dead end.

var defaultReplies = map[Intent]string{
	IntentSupportSeeking: "I'm here with you, and I'm listening. Whatever is going on, you don't have to sort through it alone. What's been on your mind?",
	IntentSmallTalk:      "It's good to hear from you. How are you feeling today?",
	IntentEscalation:     "Of course - I'm arranging for one of our counselors to join. They'll be with you as soon as possible. I'll stay with you in the meantime.",
	IntentOther:          "Thank you for reaching out. I'm here to listen and support you. What would you like to talk about?",
}

// farewellReply closes an ended conversation without cutting the user off
// from coming back.
const farewellReply = "Thank you for talking with me today. Remember, you can come back any time - day or night. Take gentle care of yourself."

func defaultReplyFor(intent Intent) string {
	if reply, ok := defaultReplies[intent]; ok {
		return reply
	}
	return defaultReplies[IntentOther]
}
