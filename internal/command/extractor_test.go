package command

import (
	"testing"

	"relaybot/internal/domain"
)

func TestExtract_SendEmailRoundTrip(t *testing.T) {
	params := Extract(`send email to a@b.com subject "S" message "M"`, domain.IntentSendMessage)

	if params.Recipient != "a@b.com" {
		t.Errorf("recipient: expected a@b.com, got %q", params.Recipient)
	}
	if params.Subject != "S" {
		t.Errorf("subject: expected S, got %q", params.Subject)
	}
	if params.Body != "M" {
		t.Errorf("body: expected M, got %q", params.Body)
	}
}

func TestExtract_SingleQuotes(t *testing.T) {
	params := Extract(`send email to x@y.dev subject 'Weekly report' message 'All green.'`, domain.IntentSendMessage)

	if params.Subject != "Weekly report" {
		t.Errorf("subject: expected 'Weekly report', got %q", params.Subject)
	}
	if params.Body != "All green." {
		t.Errorf("body: expected 'All green.', got %q", params.Body)
	}
}

func TestExtract_SenderForFetch(t *testing.T) {
	params := Extract("fetch email from mom@gmail.com", domain.IntentFetchMessages)
	if params.Sender != "mom@gmail.com" {
		t.Errorf("sender: expected mom@gmail.com, got %q", params.Sender)
	}
}

func TestExtract_ChatTargetAfterTelegram(t *testing.T) {
	params := Extract("send telegram @mychat message \"hi\"", domain.IntentSendToChat)
	if params.ChatTarget != "@mychat" {
		t.Errorf("chat target: expected @mychat, got %q", params.ChatTarget)
	}
}

func TestExtract_ChatTargetFallsBackToTo(t *testing.T) {
	params := Extract("forward mail from alice@work.com over to @archive", domain.IntentForwardToChat)
	if params.ChatTarget != "@archive" {
		t.Errorf("chat target: expected @archive, got %q", params.ChatTarget)
	}
}

func TestExtract_GrammarWordsAreNotTargets(t *testing.T) {
	// "message" here is the body keyword, not a chat name; no target was named.
	params := Extract(`send telegram message "hi"`, domain.IntentSendToChat)
	if params.ChatTarget != "" {
		t.Errorf("chat target: expected empty, got %q", params.ChatTarget)
	}
	if params.Body != "hi" {
		t.Errorf("body: expected hi, got %q", params.Body)
	}

	// Trailing keyword after "to" is skipped the same way.
	params = Extract("forward emails from mom@gmail.com to telegram", domain.IntentForwardToChat)
	if params.ChatTarget != "" {
		t.Errorf("chat target: expected empty, got %q", params.ChatTarget)
	}
}

func TestExtract_ForwardGetsSenderAndTarget(t *testing.T) {
	params := Extract("Get emails from mom@gmail.com and send to telegram @mychat", domain.IntentForwardToChat)

	if params.Sender != "mom@gmail.com" {
		t.Errorf("sender: expected mom@gmail.com, got %q", params.Sender)
	}
	if params.ChatTarget != "@mychat" {
		t.Errorf("chat target: expected @mychat, got %q", params.ChatTarget)
	}
}

func TestExtract_MissingFieldsAreEmpty(t *testing.T) {
	params := Extract("send email", domain.IntentSendMessage)

	if params.Recipient != "" || params.Subject != "" || params.Body != "" {
		t.Errorf("expected all fields empty, got %+v", params)
	}
}

func TestExtract_IntentAware(t *testing.T) {
	// Recipient is only pulled for send-message intents.
	params := Extract("fetch email to somewhere from bob@x.com", domain.IntentFetchMessages)
	if params.Recipient != "" {
		t.Errorf("recipient should not be extracted for fetch, got %q", params.Recipient)
	}
	if params.Sender != "bob@x.com" {
		t.Errorf("sender: expected bob@x.com, got %q", params.Sender)
	}

	// Sender is not pulled for plain sends.
	params = Extract("send email to a@b.com from my account", domain.IntentSendMessage)
	if params.Sender != "" {
		t.Errorf("sender should not be extracted for send, got %q", params.Sender)
	}
}

func TestExtract_FirstQuotedWins(t *testing.T) {
	params := Extract(`send email to a@b.com subject "first" subject "second"`, domain.IntentSendMessage)
	if params.Subject != "first" {
		t.Errorf("expected first subject to win, got %q", params.Subject)
	}
}

func TestExtract_Pure(t *testing.T) {
	text := `send email to a@b.com subject "S" message "M"`
	first := Extract(text, domain.IntentSendMessage)
	second := Extract(text, domain.IntentSendMessage)
	if first != second {
		t.Errorf("extraction should be deterministic: %+v vs %+v", first, second)
	}
}
