// Package poller runs the notification processing loop: fetch, record,
// enqueue, respond, mark.
package poller

import (
	"context"
	"log/slog"
	"time"

	"mention_bot/internal/alert"
	"mention_bot/internal/health"
	"mention_bot/internal/ledger"
	"mention_bot/internal/model"
	"mention_bot/internal/queue"
	"mention_bot/internal/retry"
)

// Source fetches raw notifications from the platform. since is the
// high-water mark of the previous run; an empty value means fetch
// everything available.
type Source interface {
	Fetch(ctx context.Context, since string) ([]model.Notification, error)
}

// Outcome is the Responder's decision for a notification.
type Outcome int

// Responder outcomes.
const (
	// OutcomeReplied means a reply was generated and posted.
	OutcomeReplied Outcome = iota
	// OutcomeNoReply means the notification was handled with a
	// deliberate decision not to respond.
	OutcomeNoReply
	// OutcomeIgnored means the notification was not worth handling.
	OutcomeIgnored
)

// Responder generates and posts the reply for a notification.
type Responder interface {
	Respond(ctx context.Context, n *model.Notification) (Outcome, error)
}

// Poller periodically fetches notifications, records them in the
// ledger, persists them to the file queue, and drives them through the
// responder.
type Poller struct {
	ledger    *ledger.Ledger
	store     *queue.Store
	source    Source
	responder Responder
	monitor   *health.Monitor
	alerts    alert.Notifier
	log       *slog.Logger

	tick        time.Duration
	cleanupDays int

	maxAttempts int
	baseDelay   time.Duration
}

// New creates a Poller with the default 1-minute tick.
func New(
	led *ledger.Ledger,
	store *queue.Store,
	source Source,
	responder Responder,
	monitor *health.Monitor,
	alerts alert.Notifier,
	log *slog.Logger,
) *Poller {
	return &Poller{
		ledger:      led,
		store:       store,
		source:      source,
		responder:   responder,
		monitor:     monitor,
		alerts:      alerts,
		log:         log,
		tick:        1 * time.Minute,
		cleanupDays: 7,
		maxAttempts: retry.DefaultMaxAttempts,
		baseDelay:   retry.DefaultBaseDelay,
	}
}

// SetTickInterval overrides the default 1-minute poll interval.
func (p *Poller) SetTickInterval(d time.Duration) {
	p.tick = d
}

// SetCleanupDays overrides the default 7-day ledger retention.
func (p *Poller) SetCleanupDays(days int) {
	p.cleanupDays = days
}

// SetRetryPolicy overrides the queue I/O retry envelope. Tests inject a
// near-zero base delay to keep backoff deterministic and fast.
func (p *Poller) SetRetryPolicy(maxAttempts int, baseDelay time.Duration) {
	p.maxAttempts = maxAttempts
	p.baseDelay = baseDelay
}

// Run starts the polling loop, blocking until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.runOnce(ctx)

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

// runOnce executes one full polling cycle bracketed by a session.
func (p *Poller) runOnce(ctx context.Context) {
	sessionID, err := p.ledger.StartSession(ctx)
	if err != nil {
		p.log.Error("start session", "error", err)
		return
	}
	defer func() {
		if err := p.ledger.EndSession(ctx, sessionID); err != nil {
			p.log.Error("end session", "error", err)
		}
	}()

	since, err := p.ledger.LatestProcessedTime(ctx)
	if err != nil {
		p.log.Error("latest processed time", "error", err)
		return
	}

	notifs, err := p.source.Fetch(ctx, since)
	if err != nil {
		p.log.Error("fetch notifications", "since", since, "error", err)
		return
	}

	for i := range notifs {
		if ctx.Err() != nil {
			return
		}
		p.handle(ctx, sessionID, &notifs[i])
	}

	if _, err := p.ledger.CleanupOldRecords(ctx, p.cleanupDays); err != nil {
		p.log.Error("cleanup old records", "error", err)
	}

	p.checkHealth()
}

func (p *Poller) handle(ctx context.Context, sessionID int64, n *model.Notification) {
	added, err := p.ledger.Add(ctx, n)
	if err != nil {
		p.log.Error("add notification", "uri", n.URI, "error", err)
		return
	}
	if !added {
		p.log.Warn("rejected malformed notification", "reason", n.Reason)
		p.countSession(ctx, sessionID, 0, 1, 0)
		return
	}

	processed, err := p.ledger.IsProcessed(ctx, n.URI)
	if err != nil {
		p.log.Error("check processed", "uri", n.URI, "error", err)
		return
	}
	if processed {
		p.countSession(ctx, sessionID, 0, 1, 0)
		return
	}

	var path string
	err = retry.Do(ctx, p.maxAttempts, p.baseDelay, func() error {
		var saveErr error
		path, saveErr = p.store.Enqueue(n)
		return saveErr
	})
	if err != nil {
		if queue.IsHealth(err) {
			p.alerts.Notify("queue write failed, disk may be full: " + err.Error())
		}
		p.log.Error("enqueue notification", "uri", n.URI, "error", err)
		p.countSession(ctx, sessionID, 0, 0, 1)
		return
	}

	outcome, err := p.responder.Respond(ctx, n)
	if err != nil {
		p.log.Error("respond", "uri", n.URI, "handle", n.Handle(), "error", err)
		if markErr := p.ledger.MarkProcessed(ctx, n.URI, model.StatusError, err.Error()); markErr != nil {
			p.log.Error("mark error", "uri", n.URI, "error", markErr)
		}
		if moveErr := p.store.Move(path, queue.LocationError); moveErr != nil {
			p.log.Error("quarantine failed notification", "path", path, "error", moveErr)
		}
		p.countSession(ctx, sessionID, 0, 0, 1)
		return
	}

	status := model.StatusProcessed
	if outcome == OutcomeIgnored {
		status = model.StatusIgnored
	}
	if err := p.ledger.MarkProcessed(ctx, n.URI, status, ""); err != nil {
		p.log.Error("mark processed", "uri", n.URI, "error", err)
	}

	switch outcome {
	case OutcomeNoReply:
		if err := p.store.Move(path, queue.LocationNoReply); err != nil {
			p.log.Error("move to no_reply", "path", path, "error", err)
		}
	default:
		if err := p.store.Delete(path); err != nil {
			p.log.Error("delete queue file", "path", path, "error", err)
		}
	}

	p.countSession(ctx, sessionID, 1, 0, 0)
	p.log.Info("handled notification", "uri", n.URI, "handle", n.Handle(), "outcome", status)
}

func (p *Poller) checkHealth() {
	status := p.monitor.Check()
	switch status {
	case health.StatusCritical:
		p.alerts.Notify("queue health CRITICAL: error backlog needs attention")
		p.log.Error("queue health", "status", status)
	case health.StatusDegraded:
		p.log.Warn("queue health", "status", status)
	default:
		p.log.Debug("queue health", "status", status)
	}
}

func (p *Poller) countSession(ctx context.Context, id int64, processed, skipped, errored int) {
	if err := p.ledger.UpdateSession(ctx, id, processed, skipped, errored); err != nil {
		p.log.Error("update session", "session_id", id, "error", err)
	}
}
