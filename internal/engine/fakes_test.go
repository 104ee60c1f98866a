package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// In-memory fakes for the store interfaces. They mimic the real store's
// contracts closely enough for the window/idempotency properties to be
// exercised without a database.

type fakeBookings struct {
	bookings []Booking
	err      error
}

func (f *fakeBookings) UpcomingConfirmed(_ context.Context, from, until time.Time) ([]Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []Booking
	for _, b := range f.bookings {
		if b.Status != "confirmed" {
			continue
		}
		if b.StartsAt.After(from) && !b.StartsAt.After(until) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

type fakePrefs struct {
	prefs  map[string]Preferences
	errFor map[string]error
}

func (f *fakePrefs) ReminderPrefs(_ context.Context, recipientID string) (Preferences, bool, error) {
	if err := f.errFor[recipientID]; err != nil {
		return Preferences{}, false, err
	}
	p, ok := f.prefs[recipientID]
	return p, ok, nil
}

type fakeLedger struct {
	mu     sync.Mutex
	claims map[string]string // (booking, offset) -> notification id
}

func newFakeLedger() *fakeLedger { return &fakeLedger{claims: map[string]string{}} }

func ledgerKey(bookingID string, hourOffset int) string {
	return fmt.Sprintf("%s/%d", bookingID, hourOffset)
}

func (f *fakeLedger) Claim(_ context.Context, bookingID string, hourOffset int) (ClaimResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := ledgerKey(bookingID, hourOffset)
	if _, ok := f.claims[k]; ok {
		return AlreadyClaimed, nil
	}
	f.claims[k] = ""
	return Claimed, nil
}

func (f *fakeLedger) AttachNotification(_ context.Context, bookingID string, hourOffset int, notificationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims[ledgerKey(bookingID, hourOffset)] = notificationID
	return nil
}

func (f *fakeLedger) has(bookingID string, hourOffset int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.claims[ledgerKey(bookingID, hourOffset)]
	return ok
}

type fakeInbox struct {
	mu    sync.Mutex
	notes []Notification
	err   error
}

func (f *fakeInbox) Append(_ context.Context, n Notification) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
	return nil
}

func (f *fakeInbox) all() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, len(f.notes))
	copy(out, f.notes)
	return out
}

type fakeRequests struct {
	mu   sync.Mutex
	reqs map[string]*ScheduledRequest

	// materialized collects the notifications MarkSent committed, standing in
	// for the transactional inbox insert of the real store.
	materialized []Notification

	// markSentFailures makes the next N MarkSent calls error out.
	markSentFailures int
	markSentErr      error

	// forceNotClaimed simulates an overlapping cycle winning every race.
	forceNotClaimed bool
}

func newFakeRequests(reqs ...ScheduledRequest) *fakeRequests {
	f := &fakeRequests{reqs: map[string]*ScheduledRequest{}}
	for _, r := range reqs {
		cp := r
		f.reqs[r.ID] = &cp
	}
	return f
}

func (f *fakeRequests) Enqueue(_ context.Context, req ScheduledRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := req
	f.reqs[req.ID] = &cp
	return nil
}

func (f *fakeRequests) DuePending(_ context.Context, from, until time.Time) ([]ScheduledRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ScheduledRequest
	for _, r := range f.reqs {
		if r.State != StatePending {
			continue
		}
		if r.ScheduledFor.Before(from) || r.ScheduledFor.After(until) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (f *fakeRequests) MarkSent(_ context.Context, id string, n Notification, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markSentFailures > 0 {
		f.markSentFailures--
		return false, f.markSentErr
	}
	if f.forceNotClaimed {
		return false, nil
	}
	r, ok := f.reqs[id]
	if !ok || r.State != StatePending {
		return false, nil
	}
	r.State = StateSent
	r.NotificationID = n.ID
	r.SentAt = at
	r.UpdatedAt = at
	f.materialized = append(f.materialized, n)
	return true, nil
}

func (f *fakeRequests) MarkFailed(_ context.Context, id, detail string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reqs[id]
	if !ok || r.State != StatePending {
		return false, nil
	}
	r.State = StateFailed
	r.Error = detail
	r.UpdatedAt = at
	return true, nil
}

func (f *fakeRequests) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reqs[id]
	if !ok {
		return ErrNotFound
	}
	if r.State != StatePending {
		return ErrNotPending
	}
	r.State = StateCancelled
	return nil
}

func (f *fakeRequests) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reqs[id]; !ok {
		return ErrNotFound
	}
	delete(f.reqs, id)
	return nil
}

func (f *fakeRequests) get(id string) ScheduledRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reqs[id]; ok {
		return *r
	}
	return ScheduledRequest{}
}

type fakeEndpoints struct {
	mu  sync.Mutex
	eps map[string]*PushEndpoint // keyed by endpoint URI
}

func newFakeEndpoints(eps ...PushEndpoint) *fakeEndpoints {
	f := &fakeEndpoints{eps: map[string]*PushEndpoint{}}
	for _, ep := range eps {
		cp := ep
		f.eps[ep.Endpoint] = &cp
	}
	return f
}

func (f *fakeEndpoints) ActiveEndpoints(_ context.Context, recipientID string) ([]PushEndpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PushEndpoint
	for _, ep := range f.eps {
		if ep.RecipientID == recipientID && ep.Active {
			out = append(out, *ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (f *fakeEndpoints) RecordDelivery(_ context.Context, _, endpoint string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ep, ok := f.eps[endpoint]; ok {
		ep.FailCount = 0
		ep.LastUsedAt = at
	}
	return nil
}

func (f *fakeEndpoints) RecordFailure(_ context.Context, _, endpoint string, threshold int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.eps[endpoint]
	if !ok {
		return false, nil
	}
	ep.FailCount++
	if ep.Active && threshold > 0 && ep.FailCount >= threshold {
		ep.Active = false
		return true, nil
	}
	return false, nil
}

func (f *fakeEndpoints) Deactivate(_ context.Context, _, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ep, ok := f.eps[endpoint]; ok {
		ep.Active = false
	}
	return nil
}

func (f *fakeEndpoints) get(endpoint string) PushEndpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ep, ok := f.eps[endpoint]; ok {
		return *ep
	}
	return PushEndpoint{}
}

type sentMsg struct {
	endpoint string
	msg      PushMessage
}

type fakeSender struct {
	mu      sync.Mutex
	failFor map[string]error // endpoint URI -> error
	sends   []sentMsg
}

func newFakeSender() *fakeSender { return &fakeSender{failFor: map[string]error{}} }

func (f *fakeSender) Send(_ context.Context, ep PushEndpoint, msg PushMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[ep.Endpoint]; err != nil {
		return err
	}
	f.sends = append(f.sends, sentMsg{endpoint: ep.Endpoint, msg: msg})
	return nil
}

func (f *fakeSender) sent() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMsg, len(f.sends))
	copy(out, f.sends)
	return out
}
