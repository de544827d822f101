// Package command implements the text command surface: deciding whether an
// input is an automation command, pulling typed parameters out of it, and
// executing it against the messaging adapters.
package command

import (
	"strings"

	"relaybot/internal/domain"
)

// Trigger vocabulary. Matching is case-insensitive substring containment
// with no scoring or negation, so unrelated sentences containing a trigger
// still classify as commands, a known limitation kept for predictability.
// Changing a phrase breaks existing user commands; additions only.
var (
	fetchTriggers = []string{
		"fetch email", "get email", "check email", "read email",
		"show email", "fetch message", "get message",
	}
	sendMailTriggers = []string{
		"send email", "send an email", "email to",
	}
	sendChatTriggers = []string{
		"send telegram", "send to telegram", "telegram message", "message to telegram",
	}

	// The forward pair: a source filter plus a chat destination, both
	// present anywhere in the text.
	senderStyleTriggers = []string{
		"email from", "emails from", "mail from", "messages from",
	}
	telegramStyleTriggers = []string{
		"telegram", "to chat", forwardTrigger,
	}
)

const forwardTrigger = "forward to"

// Classify reports whether the input text is an automation command.
func Classify(text string) bool {
	t := strings.ToLower(text)
	return containsAny(t, fetchTriggers) ||
		containsAny(t, sendMailTriggers) ||
		containsAny(t, sendChatTriggers) ||
		strings.Contains(t, forwardTrigger) ||
		hasForwardPair(t)
}

// Route maps text to exactly one intent. The forward pair is checked first:
// the phrase sets overlap, and a sentence naming both a source filter and a
// chat destination must resolve to the forward workflow even when fetch or
// send triggers also match.
func Route(text string) domain.CommandIntent {
	t := strings.ToLower(text)
	switch {
	case hasForwardPair(t):
		return domain.IntentForwardToChat
	case containsAny(t, fetchTriggers):
		return domain.IntentFetchMessages
	case containsAny(t, sendMailTriggers):
		return domain.IntentSendMessage
	case containsAny(t, sendChatTriggers):
		return domain.IntentSendToChat
	default:
		return domain.IntentUnrecognized
	}
}

func hasForwardPair(lower string) bool {
	return containsAny(lower, senderStyleTriggers) && containsAny(lower, telegramStyleTriggers)
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
