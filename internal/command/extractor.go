package command

import (
	"regexp"
	"strings"

	"relaybot/internal/domain"
)

// Fixed extraction patterns. These are deliberately not a grammar: each
// field is located independently and the first match wins.
var (
	senderPattern    = regexp.MustCompile(`(?i)\bfrom\s+([A-Za-z0-9_@.\-]+)`)
	recipientPattern = regexp.MustCompile(`(?i)\bto\s+([A-Za-z0-9_@.\-]+)`)
	subjectPattern   = regexp.MustCompile(`(?i)subject\s+(?:"([^"]*)"|'([^']*)')`)
	bodyPattern      = regexp.MustCompile(`(?i)message\s+(?:"([^"]*)"|'([^']*)')`)
	chatPattern      = regexp.MustCompile(`(?i)telegram\s+(@?[A-Za-z0-9_\-]+)`)
	chatToPattern    = regexp.MustCompile(`(?i)\bto\s+(@?[A-Za-z0-9_\-]+)`)
)

// Extract pulls command parameters out of raw text. Pure: no side effects,
// and a field that cannot be located is the empty string, never an error;
// the dispatcher decides between defaulting and a usage hint.
func Extract(text string, intent domain.CommandIntent) domain.ExtractedParams {
	var p domain.ExtractedParams

	switch intent {
	case domain.IntentFetchMessages, domain.IntentForwardToChat:
		if m := senderPattern.FindStringSubmatch(text); m != nil {
			p.Sender = m[1]
		}
	case domain.IntentSendMessage:
		if m := recipientPattern.FindStringSubmatch(text); m != nil {
			p.Recipient = m[1]
		}
	}

	if intent == domain.IntentSendToChat || intent == domain.IntentForwardToChat {
		p.ChatTarget = chatTarget(text)
	}

	p.Subject = firstQuoted(subjectPattern, text)
	p.Body = firstQuoted(bodyPattern, text)

	return p
}

// chatTarget locates the chat destination token. Grammar keywords are not
// targets: "send telegram message \"hi\"" names no chat, and capturing the
// literal "message" would misroute the send.
func chatTarget(text string) string {
	for _, re := range []*regexp.Regexp{chatPattern, chatToPattern} {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if tok := m[1]; !grammarKeyword(tok) {
			return tok
		}
	}
	return ""
}

func grammarKeyword(token string) bool {
	t := strings.ToLower(strings.TrimPrefix(token, "@"))
	return t == "message" || t == "telegram" || t == "subject"
}

// firstQuoted returns the first quoted capture, whichever quote style matched.
func firstQuoted(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}
