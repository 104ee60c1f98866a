package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	logx "remindd/pkg/logx"
)

// deriveReminders scans upcoming confirmed bookings and materializes every
// (booking, offset) pair that is currently due and not yet claimed.
func (e *Engine) deriveReminders(ctx context.Context, now time.Time, sum *Summary) {
	if e.deps.Bookings == nil || e.deps.Prefs == nil || e.deps.Ledger == nil || e.deps.Inbox == nil {
		return
	}
	cfg, _ := e.snapshot()

	bookings, err := e.deps.Bookings.UpcomingConfirmed(ctx, now, now.Add(cfg.Horizon))
	if err != nil {
		e.log.Warn("booking scan failed", logx.Err(err))
		return
	}

	w := Window{Horizon: cfg.Horizon, Tolerance: cfg.Tolerance}
	for _, b := range bookings {
		if ctx.Err() != nil {
			return
		}
		sum.BookingsScanned++
		e.remindOne(ctx, cfg, w, now, b, sum)
	}
}

// remindOne handles one booking. Failures here are logged and swallowed so a
// single bad booking or recipient never aborts the rest of the batch.
func (e *Engine) remindOne(ctx context.Context, cfg Config, w Window, now time.Time, b Booking, sum *Summary) {
	if !b.StartsAt.After(now) {
		// already started or past
		return
	}

	prefs, ok, err := e.deps.Prefs.ReminderPrefs(ctx, b.RecipientID)
	if err != nil {
		e.log.Warn("preference load failed",
			logx.String("booking", b.ID),
			logx.String("recipient", b.RecipientID),
			logx.Err(err))
		return
	}
	// No preferences configured means reminders disabled, not an error.
	if !ok || !prefs.Enabled {
		return
	}

	offsets := prefs.HourOffsets
	if len(offsets) == 0 {
		offsets = cfg.DefaultOffsets
	}

	// Each offset is an independent idempotent unit, not part of a
	// multi-offset transaction.
	for _, h := range offsets {
		if !w.OffsetDue(now, b.StartsAt, h) {
			continue
		}

		res, err := e.deps.Ledger.Claim(ctx, b.ID, h)
		if err != nil {
			e.log.Warn("ledger claim failed",
				logx.String("booking", b.ID),
				logx.Int("offset_h", h),
				logx.Err(err))
			continue
		}
		if res == AlreadyClaimed {
			// A prior or concurrent cycle got there first.
			sum.RemindersSkipped++
			continue
		}

		// The claim is durable before the notification becomes visible, so a
		// crash between the two writes can only lose a reminder, never
		// duplicate one.
		n := reminderNotification(b, h, now)
		if err := e.deps.Inbox.Append(ctx, n); err != nil {
			e.log.Error("reminder claimed but inbox append failed",
				logx.String("booking", b.ID),
				logx.Int("offset_h", h),
				logx.Err(err))
			continue
		}
		if err := e.deps.Ledger.AttachNotification(ctx, b.ID, h, n.ID); err != nil {
			e.log.Warn("ledger notification writeback failed",
				logx.String("booking", b.ID),
				logx.Int("offset_h", h),
				logx.Err(err))
		}

		sum.RemindersCreated++
		e.log.Debug("reminder created",
			logx.String("booking", b.ID),
			logx.String("recipient", b.RecipientID),
			logx.Int("offset_h", h),
			logx.String("notification", n.ID))
	}
}

func reminderNotification(b Booking, hourOffset int, now time.Time) Notification {
	return Notification{
		ID:          uuid.NewString(),
		RecipientID: b.RecipientID,
		Category:    CategoryBookingReminder,
		Title:       "Upcoming appointment",
		Body:        fmt.Sprintf("Your appointment starts %s.", b.StartsAt.Format("Mon, 2 Jan at 15:04")),
		Payload: map[string]string{
			"booking_id":   b.ID,
			"starts_at":    b.StartsAt.UTC().Format(time.RFC3339),
			"offset_hours": strconv.Itoa(hourOffset),
		},
		CreatedAt: now,
	}
}
