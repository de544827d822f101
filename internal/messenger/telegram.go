package messenger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

const (
	telegramSendRetries = 3
	observeRingCap      = 50
)

// Telegram is the chat-side messaging adapter. Sends go through the bot API
// and always propagate failures; the chat side never simulates. Fetches
// are served from a ring of recently observed inbound chat messages, fed by
// the telegram surface via Observe.
type Telegram struct {
	cfg    config.TelegramConfig
	logger *slog.Logger

	mu       sync.Mutex
	bot      *tgbotapi.BotAPI
	observed []domain.MessageRecord
}

func NewTelegram(cfg config.TelegramConfig, logger *slog.Logger) *Telegram {
	return &Telegram{cfg: cfg, logger: logger}
}

func (t *Telegram) Name() string { return "telegram" }

// AttachBot injects an existing bot connection so the surface and the
// adapter share one.
func (t *Telegram) AttachBot(bot *tgbotapi.BotAPI) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bot = bot
}

func (t *Telegram) client() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	if t.cfg.Token == "" {
		return nil, &domain.ServiceUnavailableError{Service: "telegram", Reason: "bot token not set"}
	}
	bot, err := tgbotapi.NewBotAPI(t.cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	t.bot = bot
	return bot, nil
}

// Observe records an inbound chat message so chat-side fetches return real
// conversation data. The ring keeps the most recent entries only.
func (t *Telegram) Observe(rec domain.MessageRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observed = append(t.observed, rec)
	if len(t.observed) > observeRingCap {
		t.observed = t.observed[len(t.observed)-observeRingCap:]
	}
}

// Fetch returns recently observed chat messages, newest first, never more
// than limit. With no bot configured and telegram.fallback set, the demo
// records are served instead.
func (t *Telegram) Fetch(ctx context.Context, sender string, limit int) ([]domain.MessageRecord, error) {
	t.mu.Lock()
	observed := make([]domain.MessageRecord, len(t.observed))
	copy(observed, t.observed)
	configured := t.cfg.Token != "" || t.bot != nil
	t.mu.Unlock()

	if !configured && len(observed) == 0 {
		if t.cfg.Fallback {
			t.logger.Warn("telegram not configured, serving fallback records", "sender", sender)
			metrics.FetchFallbacks.Inc()
			return demoRecords(sender, limit), nil
		}
		return nil, &domain.ServiceUnavailableError{Service: "telegram", Reason: "bot token not set"}
	}

	records := make([]domain.MessageRecord, 0, limit)
	for i := len(observed) - 1; i >= 0 && len(records) < limit; i-- {
		if sender != "" && observed[i].Sender != sender {
			continue
		}
		records = append(records, observed[i])
	}
	return records, nil
}

// Send delivers text to a chat. The recipient may be an @username, a
// numeric chat ID, or empty to use telegram.defaultChat. A subject, when
// present, becomes the first line.
func (t *Telegram) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	bot, err := t.client()
	if err != nil {
		return "", err
	}

	target := recipient
	if target == "" {
		target = t.cfg.DefaultChat
	}
	if target == "" {
		return "", &domain.ServiceUnavailableError{Service: "telegram", Reason: "no chat target and no default chat configured"}
	}

	text := body
	if subject != "" {
		text = subject + "\n\n" + body
	}

	msg := buildChatMessage(target, text)
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < telegramSendRetries; attempt++ {
		_, err := bot.Send(msg)
		if err == nil {
			metrics.SendLatency.Observe(time.Since(start).Seconds())
			return fmt.Sprintf("Message sent to %s", target), nil
		}
		lastErr = err
		if !strings.Contains(err.Error(), "Too Many Requests") {
			return "", fmt.Errorf("telegram send: %w", err)
		}
		wait := time.Duration(attempt+1) * 3 * time.Second
		t.logger.Warn("telegram rate limited, backing off", "wait", wait)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", fmt.Errorf("telegram send: %w", lastErr)
}

// buildChatMessage resolves @usernames and bare names to channel-style
// sends, and numeric targets to chat-ID sends.
func buildChatMessage(target, text string) tgbotapi.MessageConfig {
	if strings.HasPrefix(target, "@") {
		return tgbotapi.NewMessageToChannel(target, text)
	}
	if chatID, err := strconv.ParseInt(target, 10, 64); err == nil {
		return tgbotapi.NewMessage(chatID, text)
	}
	return tgbotapi.NewMessageToChannel("@"+target, text)
}
