package engine

import (
	"time"
)

// RequestState is the lifecycle state of a ScheduledRequest.
//
// pending is the only non-terminal state:
//
//	pending --(materialize success)--> sent
//	pending --(materialize failure)--> failed
//	pending --(caller cancel)--------> cancelled
type RequestState string

const (
	StatePending   RequestState = "pending"
	StateSent      RequestState = "sent"
	StateFailed    RequestState = "failed"
	StateCancelled RequestState = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s RequestState) Terminal() bool { return s != StatePending }

type Category string

const (
	CategoryBookingReminder Category = "booking_reminder"
	CategoryCustom          Category = "custom"
	CategorySystem          Category = "system"
)

// Booking is the read model of a confirmed future appointment.
// Bookings are owned by the booking platform; the engine only reads them.
type Booking struct {
	ID          string
	RecipientID string
	StartsAt    time.Time
	Status      string
}

// Preferences is the per-recipient reminder configuration.
// An empty HourOffsets list means "use the engine defaults".
type Preferences struct {
	Enabled     bool
	HourOffsets []int
}

// ScheduledRequest is a future-dated intent to notify one recipient.
type ScheduledRequest struct {
	ID           string
	RecipientID  string
	Category     Category
	Title        string
	Body         string
	Payload      map[string]string
	ScheduledFor time.Time
	State        RequestState

	// NotificationID references the inbox record created on materialization.
	NotificationID string
	// Error holds the terminal failure detail when State is failed.
	Error string

	CreatedAt time.Time
	UpdatedAt time.Time
	SentAt    time.Time
}

// Notification is the inbox record a recipient actually sees in-app.
// The engine appends these; the read flag is mutated by the recipient UI.
type Notification struct {
	ID          string
	RecipientID string
	Category    Category
	Title       string
	Body        string
	Payload     map[string]string
	Read        bool
	CreatedAt   time.Time
}

// PushEndpoint is a registered delivery target for a recipient.
// Registration is client-driven; the engine only flips health fields.
type PushEndpoint struct {
	RecipientID string
	Endpoint    string
	P256dh      string
	Auth        string
	Active      bool
	FailCount   int
	LastUsedAt  time.Time
}

// ClaimResult is the outcome of a ledger claim for a (booking, offset) pair.
// AlreadyClaimed is an expected concurrency outcome, not an error.
type ClaimResult int

const (
	Claimed ClaimResult = iota
	AlreadyClaimed
)

func (c ClaimResult) String() string {
	if c == AlreadyClaimed {
		return "already_claimed"
	}
	return "claimed"
}

// PushMessage is the transport-level payload handed to the push sender.
// Topic is a de-duplication tag derived from the notification id so repeated
// transport attempts collapse on the receiving device.
type PushMessage struct {
	Title   string
	Body    string
	Topic   string
	Payload map[string]string
}

// FanoutResult aggregates per-endpoint outcomes of one fan-out call.
type FanoutResult struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Summary is the aggregate result of one engine cycle.
type Summary struct {
	BookingsScanned  int
	RemindersCreated int
	RemindersSkipped int
	RequestsSent     int
	RequestsFailed   int
	PushAttempted    int
	PushSucceeded    int
	PushFailed       int
}
