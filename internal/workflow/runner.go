package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
	"relaybot/internal/metrics"
)

// runnerFetchLimit caps how many records one workflow sweep pulls from its
// source service.
const runnerFetchLimit = 3

const transformSystem = "You rewrite forwarded messages into short, clear notifications. Keep names, dates, and amounts. Reply with the rewritten text only."

// Runner executes active workflows on their poll interval: fetch new
// records from the source service, optionally rewrite them with the model,
// and send them to the destination. Failures are logged and the workflow
// keeps its schedule.
type Runner struct {
	registry   *Registry
	messengers map[string]domain.Messenger
	generator  domain.Generator
	interval   time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	nextRun  map[string]time.Time
	lastSeen map[string]string
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRunner builds a runner over the registry. messengers maps service
// names ("mail", "telegram") to their adapters; generator may be nil when
// generation is disabled. pollSeconds <= 0 falls back to 300.
func NewRunner(registry *Registry, messengers map[string]domain.Messenger, generator domain.Generator, pollSeconds int, logger *slog.Logger) *Runner {
	if pollSeconds <= 0 {
		pollSeconds = 300
	}
	return &Runner{
		registry:   registry,
		messengers: messengers,
		generator:  generator,
		interval:   time.Duration(pollSeconds) * time.Second,
		logger:     logger,
		nextRun:    make(map[string]time.Time),
		lastSeen:   make(map[string]string),
		stopCh:     make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.logger.Info("workflow runner started", "interval", r.interval)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("workflow runner stopping")
			return
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			r.sweep(ctx, now)
		}
	}
}

// Stop halts the runner. Safe to call multiple times.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

func (r *Runner) sweep(ctx context.Context, now time.Time) {
	defs := r.registry.List()

	active := 0
	for _, def := range defs {
		if !def.Active {
			continue
		}
		active++

		r.mu.Lock()
		next, known := r.nextRun[def.ID]
		if !known {
			// First sighting: schedule one interval out.
			r.nextRun[def.ID] = now.Add(r.interval)
			r.mu.Unlock()
			continue
		}
		due := now.After(next)
		if due {
			r.nextRun[def.ID] = now.Add(r.interval)
		}
		r.mu.Unlock()

		if due {
			r.execute(ctx, def)
		}
	}
	metrics.ActiveWorkflows.Set(int64(active))
}

func (r *Runner) execute(ctx context.Context, def domain.WorkflowDefinition) {
	source, ok := r.messengers[def.SourceService]
	if !ok {
		r.logger.Warn("workflow source service not available", "workflow", def.Name, "service", def.SourceService)
		return
	}
	dest, ok := r.messengers[def.DestinationService]
	if !ok {
		r.logger.Warn("workflow destination service not available", "workflow", def.Name, "service", def.DestinationService)
		return
	}

	records, err := source.Fetch(ctx, def.Filter, runnerFetchLimit)
	if err != nil {
		r.logger.Error("workflow fetch failed", "workflow", def.Name, "error", err)
		return
	}

	r.mu.Lock()
	records = cutSeen(records, r.lastSeen[def.ID])
	r.mu.Unlock()
	if len(records) == 0 {
		return
	}

	forwarded := 0
	for _, rec := range records {
		body := r.renderBody(ctx, def, rec)

		var sendErr error
		if def.DestinationService == "mail" {
			_, sendErr = dest.Send(ctx, def.TargetRecipient, "Fwd: "+rec.Subject, body)
		} else {
			_, sendErr = dest.Send(ctx, def.TargetChatID, "", body)
		}
		if sendErr != nil {
			r.logger.Error("workflow send failed", "workflow", def.Name, "error", sendErr)
			break
		}
		forwarded++
	}

	if forwarded > 0 {
		// Records arrive newest first, so the first one sent marks the
		// high-water line for the next sweep.
		r.mu.Lock()
		r.lastSeen[def.ID] = records[0].ID
		r.mu.Unlock()

		metrics.WorkflowRuns.Inc()
		r.registry.AppendLog(fmt.Sprintf("Workflow %s: forwarded %d messages", def.Name, forwarded))
		r.logger.Info("workflow run complete", "workflow", def.Name, "forwarded", forwarded)
	}
}

func (r *Runner) renderBody(ctx context.Context, def domain.WorkflowDefinition, rec domain.MessageRecord) string {
	body := fmt.Sprintf("Forwarded from %s\nSubject: %s\nDate: %s\n\n%s",
		rec.Sender, rec.Subject, rec.Timestamp.Format("2006-01-02 15:04"), rec.Excerpt)

	if !def.TransformWithModel || r.generator == nil {
		return body
	}
	resp, err := r.generator.Complete(ctx, domain.GenerateRequest{
		System: transformSystem,
		Prompt: body,
	})
	if err != nil {
		r.logger.Warn("workflow transform failed, forwarding original", "workflow", def.Name, "error", err)
		return body
	}
	if resp.Content == "" {
		return body
	}
	return resp.Content
}

// cutSeen drops lastID and everything after it from a newest-first slice.
func cutSeen(records []domain.MessageRecord, lastID string) []domain.MessageRecord {
	if lastID == "" {
		return records
	}
	for i, rec := range records {
		if rec.ID == lastID {
			return records[:i]
		}
	}
	return records
}
