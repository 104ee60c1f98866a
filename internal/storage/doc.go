// Package storage persists the engine's state in SQLite.
//
// A single Store implements every store interface the engine consumes: the
// reminder ledger, the scheduled request queue, the inbox, push endpoint
// health, and the booking/preference read models shared with the rest of the
// platform. The ledger's primary key and the conditional pending-state
// updates are what make overlapping engine cycles safe.
package storage
