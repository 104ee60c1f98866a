package engine

import (
	"context"
	"time"
)

// BookingStore reads confirmed future appointments. Owned by the booking
// platform; the engine never writes to it.
type BookingStore interface {
	// UpcomingConfirmed returns confirmed bookings with from < StartsAt <= until,
	// ordered by StartsAt ascending (closest first). The ordering is not required
	// for correctness but bounds work when a cycle is time-limited.
	UpcomingConfirmed(ctx context.Context, from, until time.Time) ([]Booking, error)
}

// PreferenceStore reads per-recipient reminder settings.
type PreferenceStore interface {
	// ReminderPrefs returns (prefs, true) when the recipient has settings
	// configured and (zero, false) when none exist. Absence is not an error;
	// the engine treats it as reminders disabled.
	ReminderPrefs(ctx context.Context, recipientID string) (Preferences, bool, error)
}

// Ledger is the idempotency record for derived reminders. The engine owns it
// exclusively; its uniqueness constraint on (bookingID, hourOffset) is the
// sole mechanism preventing duplicate reminders across overlapping cycles.
type Ledger interface {
	// Claim atomically inserts the (bookingID, hourOffset) pair. Exactly one
	// caller wins a race: the winner sees Claimed, everyone else sees
	// AlreadyClaimed with a nil error.
	Claim(ctx context.Context, bookingID string, hourOffset int) (ClaimResult, error)

	// AttachNotification records the inbox record created for a claimed pair.
	AttachNotification(ctx context.Context, bookingID string, hourOffset int, notificationID string) error
}

// InboxStore appends delivered notifications. Append-only from the engine.
type InboxStore interface {
	Append(ctx context.Context, n Notification) error
}

// RequestStore holds the scheduled notification request queue.
type RequestStore interface {
	Enqueue(ctx context.Context, req ScheduledRequest) error

	// DuePending returns pending requests with from <= ScheduledFor <= until,
	// ordered by ScheduledFor ascending.
	DuePending(ctx context.Context, from, until time.Time) ([]ScheduledRequest, error)

	// MarkSent transitions the request pending->sent and appends the inbox
	// record in one durable step, so a request can never be observed sent
	// without its notification (or vice versa). Returns false when the
	// request is no longer pending, i.e. an overlapping cycle won the race.
	MarkSent(ctx context.Context, id string, n Notification, at time.Time) (bool, error)

	// MarkFailed transitions pending->failed recording the error detail.
	// Returns false when the request is no longer pending.
	MarkFailed(ctx context.Context, id, detail string, at time.Time) (bool, error)

	// Cancel transitions pending->cancelled. Returns ErrNotFound for an
	// unknown id and ErrNotPending once the request is terminal.
	Cancel(ctx context.Context, id string) error

	// Delete hard-deletes the request record regardless of state. This is an
	// administrative operation, not a lifecycle transition.
	Delete(ctx context.Context, id string) error
}

// EndpointStore reads push registrations and tracks their delivery health.
type EndpointStore interface {
	ActiveEndpoints(ctx context.Context, recipientID string) ([]PushEndpoint, error)

	// RecordDelivery resets the failure counter and stamps last_used_at.
	RecordDelivery(ctx context.Context, recipientID, endpoint string, at time.Time) error

	// RecordFailure increments the failure counter and deactivates the
	// endpoint once the counter reaches threshold. Reports whether this call
	// deactivated it.
	RecordFailure(ctx context.Context, recipientID, endpoint string, threshold int) (deactivated bool, err error)

	// Deactivate immediately marks the endpoint inactive (gone registrations).
	Deactivate(ctx context.Context, recipientID, endpoint string) error
}

// PushSender performs one transport-level delivery attempt. Implementations
// must bound their own runtime so an unresponsive endpoint cannot stall the
// fan-out; ErrEndpointGone signals a permanently dead registration.
type PushSender interface {
	Send(ctx context.Context, ep PushEndpoint, msg PushMessage) error
}
