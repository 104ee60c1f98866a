package engine

import "time"

// Window holds the temporal policy for reminder derivation.
//
// An offset of h hours is "due" when the remaining time to the appointment is
// within Tolerance of h hours. The tolerance exists because cycles are
// periodic, not continuous: without slack, a cycle landing exactly on the
// offset boundary could miss it entirely.
type Window struct {
	Horizon   time.Duration
	Tolerance time.Duration
}

// OffsetDue reports whether the reminder for hourOffset should fire now for
// an appointment starting at startsAt. Appointments that already started (or
// are in the past) are never due.
func (w Window) OffsetDue(now, startsAt time.Time, hourOffset int) bool {
	until := startsAt.Sub(now)
	if until <= 0 {
		return false
	}
	delta := until - time.Duration(hourOffset)*time.Hour
	if delta < 0 {
		delta = -delta
	}
	return delta <= w.Tolerance
}

// BeyondHorizon reports whether the appointment is too far out for any offset
// to possibly be due. Used to bound the booking scan.
func (w Window) BeyondHorizon(now, startsAt time.Time) bool {
	return startsAt.Sub(now) > w.Horizon
}
