package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	logx "remindd/pkg/logx"
)

// dispatchDue materializes pending requests whose scheduled_for instant is
// inside the tolerance window around now.
func (e *Engine) dispatchDue(ctx context.Context, now time.Time, sum *Summary) {
	if e.deps.Requests == nil {
		return
	}
	cfg, _ := e.snapshot()

	due, err := e.deps.Requests.DuePending(ctx, now.Add(-cfg.DispatchLookback), now.Add(cfg.DispatchLookahead))
	if err != nil {
		e.log.Warn("due request scan failed", logx.Err(err))
		return
	}

	for _, req := range due {
		if ctx.Err() != nil {
			return
		}
		e.dispatchOne(ctx, cfg, now, req, sum)
	}
}

// dispatchOne materializes a single request. One request's failure never
// blocks the remaining candidates of the same cycle.
func (e *Engine) dispatchOne(ctx context.Context, cfg Config, now time.Time, req ScheduledRequest, sum *Summary) {
	n := Notification{
		ID:          uuid.NewString(),
		RecipientID: req.RecipientID,
		Category:    req.Category,
		Title:       req.Title,
		Body:        req.Body,
		Payload:     req.Payload,
		CreatedAt:   now,
	}

	claimed, err := e.materialize(ctx, cfg, req.ID, n, now)
	if err != nil {
		// Terminal: record the failure detail on the request. If an
		// overlapping cycle already moved it out of pending, leave it alone.
		moved, ferr := e.deps.Requests.MarkFailed(ctx, req.ID, err.Error(), now)
		if ferr != nil {
			e.log.Error("failed-state transition errored",
				logx.String("request", req.ID), logx.Err(ferr))
			return
		}
		if moved {
			sum.RequestsFailed++
			e.log.Warn("request materialization failed",
				logx.String("request", req.ID),
				logx.String("recipient", req.RecipientID),
				logx.Err(err))
		}
		return
	}
	if !claimed {
		// Another cycle won the pending->sent race.
		e.log.Debug("request already handled", logx.String("request", req.ID))
		return
	}

	sum.RequestsSent++
	e.log.Debug("request sent",
		logx.String("request", req.ID),
		logx.String("recipient", req.RecipientID),
		logx.String("notification", n.ID))

	// Push delivery is best-effort and independently tracked: a fan-out
	// failure never rolls back the sent state.
	e.fanout(ctx, cfg, now, n, sum)
}

// materialize attempts MarkSent with bounded retry/backoff before giving up.
// MarkSent commits the state transition and the inbox record together, so
// retries can never produce a second visible notification.
func (e *Engine) materialize(ctx context.Context, cfg Config, id string, n Notification, now time.Time) (bool, error) {
	maxAttempts := 1 + cfg.DispatchRetryMax
	var (
		claimed bool
		err     error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		claimed, err = e.deps.Requests.MarkSent(ctx, id, n, now)
		if err == nil {
			return claimed, nil
		}
		if attempt >= maxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		e.log.Debug("materialize retry scheduled",
			logx.String("request", id),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return false, ctx.Err()
		case <-tmr.C:
		}
	}
	return false, err
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	d := cfg.DispatchRetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.DispatchRetryMaxDelay {
			return cfg.DispatchRetryMaxDelay
		}
	}
	if d > cfg.DispatchRetryMaxDelay {
		d = cfg.DispatchRetryMaxDelay
	}
	return d
}
