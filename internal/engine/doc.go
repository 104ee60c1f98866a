// Package engine implements the scheduled notification and reminder
// delivery core.
//
// One cycle (RunCycle) performs two independent batch phases:
//
//   - reminder derivation: scans upcoming confirmed bookings, decides which
//     per-recipient hour offsets are currently due, and materializes each
//     due (booking, offset) pair into exactly one inbox notification. The
//     reminder ledger's uniqueness constraint is the only concurrency
//     control; overlapping cycles race on the claim and the loser skips.
//
//   - scheduled dispatch: materializes pending future-dated requests whose
//     scheduled_for instant falls inside a tolerance window around now, then
//     fans the delivered notification out to the recipient's active push
//     endpoints.
//
// Cycles are driven by an external trigger and are safe to overlap. Failures
// are isolated per booking, per request, and per endpoint; a cycle always
// runs to the end of its batch and reports aggregate counts in Summary.
package engine
