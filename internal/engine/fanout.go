package engine

import (
	"context"
	"errors"
	"time"

	logx "remindd/pkg/logx"
)

// fanout delivers a materialized notification to every active push endpoint
// of its recipient. Endpoints succeed or fail independently; the call never
// returns an error to its caller, only aggregate counts.
func (e *Engine) fanout(ctx context.Context, cfg Config, now time.Time, n Notification, sum *Summary) FanoutResult {
	var res FanoutResult
	defer func() {
		sum.PushAttempted += res.Attempted
		sum.PushSucceeded += res.Succeeded
		sum.PushFailed += res.Failed
	}()

	if e.deps.Endpoints == nil || e.deps.Sender == nil {
		return res
	}

	eps, err := e.deps.Endpoints.ActiveEndpoints(ctx, n.RecipientID)
	if err != nil {
		e.log.Warn("endpoint load failed",
			logx.String("recipient", n.RecipientID), logx.Err(err))
		return res
	}
	// No registrations is a normal zero-delivery outcome.
	if len(eps) == 0 {
		return res
	}

	msg := PushMessage{
		Title:   n.Title,
		Body:    n.Body,
		Topic:   dedupTopic(n.ID),
		Payload: n.Payload,
	}

	_, lim := e.snapshot()
	for _, ep := range eps {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return res
			}
		}

		res.Attempted++
		err := e.deps.Sender.Send(ctx, ep, msg)
		if err == nil {
			res.Succeeded++
			if uerr := e.deps.Endpoints.RecordDelivery(ctx, ep.RecipientID, ep.Endpoint, now); uerr != nil {
				e.log.Warn("endpoint delivery record failed",
					logx.String("endpoint", ep.Endpoint), logx.Err(uerr))
			}
			continue
		}

		res.Failed++
		if errors.Is(err, ErrEndpointGone) {
			if uerr := e.deps.Endpoints.Deactivate(ctx, ep.RecipientID, ep.Endpoint); uerr != nil {
				e.log.Warn("endpoint deactivation failed",
					logx.String("endpoint", ep.Endpoint), logx.Err(uerr))
			} else {
				e.log.Info("push endpoint gone, deactivated",
					logx.String("recipient", ep.RecipientID),
					logx.String("endpoint", ep.Endpoint))
			}
			continue
		}

		deactivated, uerr := e.deps.Endpoints.RecordFailure(ctx, ep.RecipientID, ep.Endpoint, cfg.PushFailThreshold)
		if uerr != nil {
			e.log.Warn("endpoint failure record failed",
				logx.String("endpoint", ep.Endpoint), logx.Err(uerr))
		}
		if deactivated {
			e.log.Info("push endpoint deactivated after repeated failures",
				logx.String("recipient", ep.RecipientID),
				logx.String("endpoint", ep.Endpoint),
				logx.Int("threshold", cfg.PushFailThreshold))
		} else {
			e.log.Debug("push delivery failed",
				logx.String("recipient", ep.RecipientID),
				logx.String("endpoint", ep.Endpoint),
				logx.Err(err))
		}
	}
	return res
}

// dedupTopic derives the transport de-duplication tag from the notification
// id so repeated delivery attempts collapse on the receiving device.
func dedupTopic(notificationID string) string {
	return "ntf-" + notificationID
}
