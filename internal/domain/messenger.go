package domain

import (
	"context"
	"fmt"
)

// Messenger is the uniform fetch/send contract over a messaging backend.
// Both operations may block for network I/O; neither may be called from a
// surface-owning goroutine.
type Messenger interface {
	Name() string

	// Fetch returns up to limit records, newest first, optionally filtered
	// by sender. No results is an empty slice and a nil error, never an
	// error.
	Fetch(ctx context.Context, sender string, limit int) ([]MessageRecord, error)

	// Send delivers a message and returns a human-readable confirmation.
	Send(ctx context.Context, recipient, subject, body string) (string, error)
}

// ServiceUnavailableError reports that a messaging backend is not configured
// or not authenticated. Callers detect it with errors.As and turn it into an
// instructive message rather than a raw failure.
type ServiceUnavailableError struct {
	Service string
	Reason  string
}

func (e *ServiceUnavailableError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s service unavailable", e.Service)
	}
	return fmt.Sprintf("%s service unavailable: %s", e.Service, e.Reason)
}
