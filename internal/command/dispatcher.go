package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const (
	errMarker = "⚠️ "
	okMarker  = "✅ "

	fetchLimit   = 5
	forwardLimit = 3

	defaultSubject = "No subject"
	defaultBody    = "(no content)"

	recordDateFormat = "2006-01-02 15:04"
)

// ActivityRecorder receives one-line summaries of completed relay actions.
// Satisfied by the workflow registry.
type ActivityRecorder interface {
	AppendLog(message string)
}

// Dispatcher executes classified commands against the messaging adapters.
// Every branch converts adapter failures into user-facing strings: a raw
// error never escapes to the conversation layer.
type Dispatcher struct {
	mail     domain.Messenger
	chat     domain.Messenger
	activity ActivityRecorder
	logger   *slog.Logger
}

// NewDispatcher wires the dispatcher to its two adapters. The activity
// recorder may be nil when no workflow registry is running.
func NewDispatcher(mail, chat domain.Messenger, activity ActivityRecorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		mail:     mail,
		chat:     chat,
		activity: activity,
		logger:   logger,
	}
}

// Dispatch executes one classified command and returns the reply text.
// Error replies carry the "⚠️ " marker, confirmations "✅ ".
func (d *Dispatcher) Dispatch(ctx context.Context, intent domain.CommandIntent, params domain.ExtractedParams) string {
	metrics.CommandsTotal.Inc()
	d.logger.Info("dispatching command", "intent", intent.String())

	switch intent {
	case domain.IntentFetchMessages:
		return d.fetchMessages(ctx, params)
	case domain.IntentSendMessage:
		return d.sendMessage(ctx, params)
	case domain.IntentSendToChat:
		return d.sendToChat(ctx, params)
	case domain.IntentForwardToChat:
		return d.forwardToChat(ctx, params)
	default:
		return HelpText()
	}
}

func (d *Dispatcher) fetchMessages(ctx context.Context, params domain.ExtractedParams) string {
	records, err := d.mail.Fetch(ctx, params.Sender, fetchLimit)
	if err != nil {
		return d.fetchErrorString(err)
	}
	if len(records) == 0 {
		return noMessagesString(params.Sender)
	}

	header := fmt.Sprintf("Latest %d messages:", len(records))
	if params.Sender != "" {
		header = fmt.Sprintf("Latest %d messages from %s:", len(records), params.Sender)
	}

	blocks := make([]string, 0, len(records))
	for _, rec := range records {
		blocks = append(blocks, renderRecord(rec))
	}
	return header + "\n\n" + strings.Join(blocks, "\n\n")
}

func (d *Dispatcher) sendMessage(ctx context.Context, params domain.ExtractedParams) string {
	if params.Recipient == "" {
		return `Usage: send email to <recipient> subject "<subject>" message "<body>"`
	}

	subject := params.Subject
	if subject == "" {
		subject = defaultSubject
	}
	body := params.Body
	if body == "" {
		body = defaultBody
	}

	confirmation, err := d.mail.Send(ctx, params.Recipient, subject, body)
	if err != nil {
		return d.sendErrorString(err)
	}
	return okMarker + confirmation
}

func (d *Dispatcher) sendToChat(ctx context.Context, params domain.ExtractedParams) string {
	if params.ChatTarget == "" {
		return `Usage: send telegram @<chat> message "<text>"`
	}

	body := params.Body
	if body == "" {
		body = defaultBody
	}

	// The chat adapter has no subject line.
	confirmation, err := d.chat.Send(ctx, params.ChatTarget, "", body)
	if err != nil {
		return d.sendErrorString(err)
	}
	return okMarker + confirmation
}

// forwardToChat chains a mail fetch to per-record chat sends, strictly in
// fetch order, one at a time. A failed send stops the sequence; delivered
// forwards always match a prefix of the fetch order.
func (d *Dispatcher) forwardToChat(ctx context.Context, params domain.ExtractedParams) string {
	if params.Sender == "" || params.ChatTarget == "" {
		return `Usage: forward emails from <sender> to telegram @<chat>`
	}

	records, err := d.mail.Fetch(ctx, params.Sender, forwardLimit)
	if err != nil {
		return d.fetchErrorString(err)
	}
	if len(records) == 0 {
		return noMessagesString(params.Sender)
	}

	sent := 0
	for _, rec := range records {
		if _, err := d.chat.Send(ctx, params.ChatTarget, "", renderForward(rec)); err != nil {
			d.logger.Error("forward aborted", "sent", sent, "total", len(records), "error", err)
			return errMarker + fmt.Sprintf("Forwarded %d of %d messages, then the chat service failed: %v", sent, len(records), err)
		}
		sent++
	}

	metrics.ForwardsTotal.Add(int64(sent))
	summary := fmt.Sprintf("Forwarded %d messages from %s to %s", sent, params.Sender, params.ChatTarget)
	if d.activity != nil {
		d.activity.AppendLog(summary)
	}
	d.logger.Info("forward complete", "count", sent, "sender", params.Sender, "target", params.ChatTarget)
	return okMarker + summary
}

func (d *Dispatcher) fetchErrorString(err error) string {
	var unavailable *domain.ServiceUnavailableError
	if errors.As(err, &unavailable) {
		return errMarker + unavailableHint(unavailable.Service)
	}
	return errMarker + fmt.Sprintf("Could not fetch messages: %v", err)
}

func (d *Dispatcher) sendErrorString(err error) string {
	var unavailable *domain.ServiceUnavailableError
	if errors.As(err, &unavailable) {
		return errMarker + unavailableHint(unavailable.Service)
	}
	return errMarker + fmt.Sprintf("Could not send the message: %v", err)
}

func unavailableHint(service string) string {
	switch service {
	case "mail":
		return "The mail service is not configured. Set mail.baseUrl and mail.token in the config, then try again."
	case "telegram":
		return "The telegram service is not configured. Set telegram.token in the config, then try again."
	default:
		return fmt.Sprintf("The %s service is not available. Check its configuration and try again.", service)
	}
}

func noMessagesString(sender string) string {
	if sender == "" {
		return "No messages found"
	}
	return fmt.Sprintf("No messages found from %s", sender)
}

// renderRecord is the fixed display block for one fetched message.
func renderRecord(rec domain.MessageRecord) string {
	subject := rec.Subject
	if subject == "" {
		subject = defaultSubject
	}
	return fmt.Sprintf("From: %s\nSubject: %s\nDate: %s\n%s",
		rec.Sender, subject, rec.Timestamp.Format(recordDateFormat), rec.Excerpt)
}

// renderForward is the fixed template for a message relayed into a chat.
func renderForward(rec domain.MessageRecord) string {
	subject := rec.Subject
	if subject == "" {
		subject = defaultSubject
	}
	return fmt.Sprintf("Forwarded from %s\nSubject: %s\nDate: %s\n\n%s",
		rec.Sender, subject, rec.Timestamp.Format(recordDateFormat), rec.Excerpt)
}

// HelpText lists the supported command shapes. Also sent when a message
// classifies as a command but no intent matches.
func HelpText() string {
	return `**RelayBot Commands**

• fetch email from <sender> — show the latest messages from a sender
• send email to <recipient> subject "<subject>" message "<body>"
• send telegram @<chat> message "<text>"
• forward emails from <sender> to telegram @<chat>`
}
