package channel

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relaybot/internal/command"
	"relaybot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramEditInterval   = time.Second
)

// MessageObserver receives inbound chat messages accepted by the surface.
// The chat-side messaging adapter implements it to feed its fetch ring.
type MessageObserver interface {
	Observe(rec domain.MessageRecord)
}

// Telegram implements domain.Channel for the Telegram Bot API. Streamed
// replies render by editing a single message in place; finals that outgrow
// the message limit are chunked.
type Telegram struct {
	token     string
	allowFrom []int64 // senders permitted to talk to the bot; empty admits everyone
	parseMode string
	observer  MessageObserver
	onConnect func(*tgbotapi.BotAPI)

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger

	streamMu sync.Mutex
	streams  map[int64]*tgStream
}

// tgStream tracks the in-place edited message for one chat's active turn.
type tgStream struct {
	messageID int
	lastEdit  time.Time
	lastText  string
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // numeric sender IDs
	ParseMode string
	Logger    *slog.Logger
	Observer  MessageObserver        // optional: feeds accepted messages to the chat adapter
	OnConnect func(*tgbotapi.BotAPI) // optional: called once the bot is connected
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		observer:  cfg.Observer,
		onConnect: cfg.OnConnect,
		logger:    cfg.Logger,
		streams:   make(map[int64]*tgStream),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects the bot and consumes its update stream until ctx ends.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("connect telegram: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot online",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	if t.onConnect != nil {
		t.onConnect(bot)
	}

	bus.OnOutbound("telegram", t.deliverOutbound)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram update polling running")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel winding down")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.onUpdate(ctx, update)
		}
	}
}

// Stop is a no-op. Start already tears the update stream down when its
// context ends, and StopReceivingUpdates panics if invoked twice.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("chat id %q: %w", chatID, err)
	}
	t.deliver(id, content)
	return nil
}

func (t *Telegram) deliverOutbound(msg domain.OutboundMessage) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		t.logger.Error("outbound chat id unparseable", "chat_id", msg.ChatID, "err", err)
		return
	}

	evt := msg.StreamEvent
	if evt == nil {
		if msg.Content != "" {
			t.deliver(chatID, msg.Content)
		}
		return
	}

	switch evt.Type {
	case domain.StreamThinking:
		// Typing action is already sent when the turn arrives.
	case domain.StreamSnapshot:
		t.renderSnapshot(chatID, evt.Content, false)
	case domain.StreamDone:
		content := evt.Content
		if content == "" {
			content = msg.Content
		}
		t.renderSnapshot(chatID, content, true)
	case domain.StreamError:
		t.renderSnapshot(chatID, evt.Content, true)
	}
}

// renderSnapshot applies a reply snapshot to the chat. The first snapshot of
// a turn sends a message; later ones edit it in place, at most one edit per
// telegramEditInterval. The final snapshot is always applied, and falls back
// to fresh chunked messages when it outgrows the message limit.
func (t *Telegram) renderSnapshot(chatID int64, text string, done bool) {
	t.streamMu.Lock()
	defer t.streamMu.Unlock()

	st := t.streams[chatID]
	if st == nil {
		st = &tgStream{}
		t.streams[chatID] = st
	}
	if done {
		defer delete(t.streams, chatID)
	}

	if text == "" {
		return
	}

	if st.messageID == 0 {
		if done {
			t.deliver(chatID, text)
			return
		}
		if len(text) > telegramMaxMsgLen {
			return
		}
		sent, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		if err != nil {
			t.logger.Warn("stream opener failed", "err", err)
			return
		}
		st.messageID = sent.MessageID
		st.lastEdit = time.Now()
		st.lastText = text
		return
	}

	if !done {
		if len(text) > telegramMaxMsgLen || text == st.lastText ||
			time.Since(st.lastEdit) < telegramEditInterval {
			return
		}
		if err := t.editMessage(chatID, st.messageID, text, false); err != nil {
			t.logger.Warn("stream edit failed", "err", err)
			return
		}
		st.lastEdit = time.Now()
		st.lastText = text
		return
	}

	// Final snapshot. Re-edit with parse mode so formatting lands on the
	// finished text; oversized finals replace the streamed message.
	if len(text) > telegramMaxMsgLen {
		cut := splitMessage(text)
		if err := t.editMessage(chatID, st.messageID, cut[0], true); err != nil {
			t.logger.Warn("final edit failed", "err", err)
		}
		for _, chunk := range cut[1:] {
			t.pushChunk(chatID, chunk)
		}
		return
	}
	if text == st.lastText {
		return
	}
	if err := t.editMessage(chatID, st.messageID, text, true); err != nil {
		t.logger.Warn("final edit failed", "err", err)
	}
}

// editMessage edits a previously sent message. With parse set, the configured
// parse mode is tried first and malformed markup falls back to plain text.
func (t *Telegram) editMessage(chatID int64, messageID int, text string, parse bool) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	if parse && t.parseMode != "" {
		edit.ParseMode = t.parseMode
	}
	_, err := t.bot.Send(edit)
	if err != nil && edit.ParseMode != "" && isParseError(err) {
		plain := tgbotapi.NewEditMessageText(chatID, messageID, text)
		_, err = t.bot.Send(plain)
	}
	return err
}

func (t *Telegram) onUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("telegram sender not on allow list",
			"user_id", userID,
			"user_name", update.Message.From.UserName,
		)
		t.deliver(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleSlash(chatID, update.Message)
		return
	}

	t.logger.Info("telegram inbound",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	if t.observer != nil {
		t.observer.Observe(domain.MessageRecord{
			ID:        strconv.Itoa(update.Message.MessageID),
			Sender:    senderKey(update.Message.From),
			Excerpt:   text,
			Timestamp: time.Unix(int64(update.Message.Date), 0),
		})
	}

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	t.bus.Publish(domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) handleSlash(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.deliver(chatID, "👋 Hello! I'm RelayBot.\n\nSend me a message to chat, or a relay command like \"check my email\" or \"send a telegram to @ops message \\\"build done\\\"\".\n\nCommands:\n/status — Show bot status\n/help — Show this message")
	case "help":
		t.deliver(chatID, "📖 *RelayBot Help*\n\nPlain messages go to the model. Relay commands run directly:\n\n"+command.HelpText())
	case "status":
		t.deliver(chatID, fmt.Sprintf("🟢 RelayBot is running\n\nBot: @%s\nYour ID: %d\nChat ID: %d", t.bot.Self.UserName, msg.From.ID, chatID))
	default:
		t.deliver(chatID, "Unknown command. /help lists what I understand.")
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	return len(t.allowFrom) == 0 || slices.Contains(t.allowFrom, userID)
}

// senderKey is the name fetch filters match against: the username when set,
// otherwise the first name.
func senderKey(from *tgbotapi.User) string {
	if from.UserName != "" {
		return from.UserName
	}
	return from.FirstName
}

func (t *Telegram) deliver(chatID int64, text string) {
	for _, chunk := range splitMessage(text) {
		t.pushChunk(chatID, chunk)
	}
}

// splitMessage cuts text into pieces under the Telegram message limit,
// preferring newline boundaries. A boundary in the first half of the
// window is too wasteful, so those fall back to a hard cut.
func splitMessage(text string) []string {
	if text == "" {
		return nil
	}
	var parts []string
	for len(text) > telegramMaxMsgLen {
		cut := strings.LastIndex(text[:telegramMaxMsgLen], "\n")
		if cut < telegramMaxMsgLen/2 {
			cut = telegramMaxMsgLen
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	return append(parts, text)
}

// pushChunk delivers one piece of a message, riding out rate limits and
// markup rejections. The first try carries the configured parse mode;
// anything after that goes out plain.
func (t *Telegram) pushChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		switch {
		case isRateLimited(err):
			wait := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram throttling us", "wait", wait, "attempt", attempt+1)
			time.Sleep(wait)

		case attempt == 0 && msg.ParseMode != "" && isParseError(err):
			t.logger.Warn("markup rejected, resending plain", "err", err, "parse_mode", t.parseMode)
			if _, plainErr := t.bot.Send(tgbotapi.NewMessage(chatID, text)); plainErr == nil {
				return
			}
			time.Sleep(time.Second)

		case attempt < telegramMaxSendRetries:
			wait := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send failed, retrying", "err", err, "wait", wait)
			time.Sleep(wait)

		default:
			t.logger.Error("telegram send gave up", "err", err, "attempts", attempt+1)
		}
	}
}

func isRateLimited(err error) bool {
	s := err.Error()
	return strings.Contains(s, "Too Many Requests") || strings.Contains(s, "429")
}

func isParseError(err error) bool {
	return strings.Contains(err.Error(), "can't parse entities")
}
