package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/metrics"
	"relaybot/internal/provider"
)

// Mail is the mail-style messaging adapter: a thin JSON client over a relay
// endpoint. Fetch may degrade to demo records and Send may be simulated,
// both gated by explicit config flags. This is the only adapter allowed to
// simulate sends.
type Mail struct {
	cfg    config.MailConfig
	client *http.Client
	logger *slog.Logger
}

func NewMail(cfg config.MailConfig, logger *slog.Logger) *Mail {
	return &Mail{
		cfg:    cfg,
		client: provider.SharedHTTPClient(time.Duration(cfg.TimeoutSeconds) * time.Second),
		logger: logger,
	}
}

func (m *Mail) Name() string { return "mail" }

// Wire DTOs for the relay endpoint.
type mailMessage struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Snippet string    `json:"snippet"`
	Body    string    `json:"body,omitempty"`
	Date    time.Time `json:"date"`
}

type mailListResponse struct {
	Messages []mailMessage `json:"messages"`
}

type mailSendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type mailSendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Fetch returns the latest messages, newest first, never more than limit.
// An empty result is not an error. With mail.fallback set, a missing
// configuration or a transport failure degrades to the demo records.
func (m *Mail) Fetch(ctx context.Context, sender string, limit int) ([]domain.MessageRecord, error) {
	if !m.configured() {
		if m.cfg.Fallback {
			m.logger.Warn("mail backend not configured, serving fallback records", "sender", sender)
			metrics.FetchFallbacks.Inc()
			return demoRecords(sender, limit), nil
		}
		return nil, &domain.ServiceUnavailableError{Service: "mail", Reason: "baseUrl or token not set"}
	}

	records, err := m.fetchRemote(ctx, sender, limit)
	if err != nil {
		if m.cfg.Fallback {
			m.logger.Warn("mail fetch failed, serving fallback records", "sender", sender, "error", err)
			metrics.FetchFallbacks.Inc()
			return demoRecords(sender, limit), nil
		}
		return nil, fmt.Errorf("mail fetch: %w", err)
	}
	return records, nil
}

func (m *Mail) fetchRemote(ctx context.Context, sender string, limit int) ([]domain.MessageRecord, error) {
	q := url.Values{}
	if sender != "" {
		q.Set("sender", sender)
	}
	q.Set("limit", strconv.Itoa(limit))
	endpoint := m.cfg.BaseURL + "/api/messages?" + q.Encode()

	resp, err := provider.DoWithRetry(ctx, m.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
		return req, nil
	}, m.logger)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var list mailListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	records := make([]domain.MessageRecord, 0, len(list.Messages))
	for _, msg := range list.Messages {
		records = append(records, domain.MessageRecord{
			ID:        msg.ID,
			Sender:    msg.From,
			Subject:   msg.Subject,
			Excerpt:   msg.Snippet,
			Timestamp: msg.Date,
			FullBody:  msg.Body,
		})
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Send delivers one message and returns a confirmation string. With
// mail.simulateSend set, a missing configuration or a transport failure is
// confirmed locally instead of failing the command.
func (m *Mail) Send(ctx context.Context, recipient, subject, body string) (string, error) {
	if !m.configured() {
		if m.cfg.SimulateSend {
			m.logger.Warn("mail backend not configured, simulating send", "recipient", recipient)
			return fmt.Sprintf("Email to %s sent (simulated: no mail backend configured)", recipient), nil
		}
		return "", &domain.ServiceUnavailableError{Service: "mail", Reason: "baseUrl or token not set"}
	}

	start := time.Now()
	confirmation, err := m.sendRemote(ctx, recipient, subject, body)
	if err != nil {
		if m.cfg.SimulateSend {
			m.logger.Warn("mail send failed, simulating success", "recipient", recipient, "error", err)
			return fmt.Sprintf("Email to %s sent (simulated: backend unavailable)", recipient), nil
		}
		return "", fmt.Errorf("mail send: %w", err)
	}
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	return confirmation, nil
}

func (m *Mail) sendRemote(ctx context.Context, recipient, subject, body string) (string, error) {
	payload, err := json.Marshal(mailSendRequest{To: recipient, Subject: subject, Body: body})
	if err != nil {
		return "", fmt.Errorf("encode send request: %w", err)
	}

	resp, err := provider.DoWithRetry(ctx, m.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+"/api/send", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+m.cfg.Token)
		return req, nil
	}, m.logger)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var sendResp mailSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}

	if sendResp.ID != "" {
		return fmt.Sprintf("Email to %s sent (id %s)", recipient, sendResp.ID), nil
	}
	return fmt.Sprintf("Email to %s sent", recipient), nil
}

func (m *Mail) configured() bool {
	return m.cfg.Enabled && m.cfg.BaseURL != "" && m.cfg.Token != ""
}
