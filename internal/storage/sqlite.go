package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindd/internal/engine"
	logx "remindd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store is the SQLite persistence layer. It implements every engine store
// interface (BookingStore, PreferenceStore, Ledger, InboxStore, RequestStore,
// EndpointStore).
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &Store{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- BookingStore ----

func (s *Store) UpcomingConfirmed(ctx context.Context, from, until time.Time) ([]engine.Booking, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recipient_id, starts_at FROM bookings
		 WHERE status = 'confirmed' AND starts_at > ? AND starts_at <= ?
		 ORDER BY starts_at ASC`,
		from.UnixMilli(), until.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Booking
	for rows.Next() {
		var (
			b  engine.Booking
			ms int64
		)
		if err := rows.Scan(&b.ID, &b.RecipientID, &ms); err != nil {
			return nil, err
		}
		b.StartsAt = time.UnixMilli(ms)
		b.Status = "confirmed"
		out = append(out, b)
	}
	return out, rows.Err()
}

// ---- PreferenceStore ----

func (s *Store) ReminderPrefs(ctx context.Context, recipientID string) (engine.Preferences, bool, error) {
	var (
		enabled int
		offsets sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, offsets FROM reminder_prefs WHERE recipient_id = ?`,
		recipientID,
	).Scan(&enabled, &offsets)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Preferences{}, false, nil
	}
	if err != nil {
		return engine.Preferences{}, false, err
	}

	p := engine.Preferences{Enabled: enabled != 0}
	if offsets.Valid && strings.TrimSpace(offsets.String) != "" {
		if err := json.Unmarshal([]byte(offsets.String), &p.HourOffsets); err != nil {
			return engine.Preferences{}, false, fmt.Errorf("reminder_prefs offsets for %s: %w", recipientID, err)
		}
	}
	return p, true, nil
}

// ---- Ledger ----

func (s *Store) Claim(ctx context.Context, bookingID string, hourOffset int) (engine.ClaimResult, error) {
	// ON CONFLICT DO NOTHING makes the insert a race with exactly one winner;
	// the loser sees zero affected rows, never an error.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_ledger(booking_id, hour_offset, created_at) VALUES(?,?,?)
		 ON CONFLICT(booking_id, hour_offset) DO NOTHING`,
		bookingID, hourOffset, time.Now().UnixMilli(),
	)
	if err != nil {
		return engine.AlreadyClaimed, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return engine.AlreadyClaimed, err
	}
	if n == 0 {
		return engine.AlreadyClaimed, nil
	}
	return engine.Claimed, nil
}

func (s *Store) AttachNotification(ctx context.Context, bookingID string, hourOffset int, notificationID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminder_ledger SET notification_id = ? WHERE booking_id = ? AND hour_offset = ?`,
		notificationID, bookingID, hourOffset,
	)
	return err
}

// ---- InboxStore ----

func (s *Store) Append(ctx context.Context, n engine.Notification) error {
	payload, err := marshalPayload(n.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications(id, recipient_id, category, title, body, payload, read, created_at)
		 VALUES(?,?,?,?,?,?,0,?)`,
		n.ID, n.RecipientID, string(n.Category), n.Title, n.Body, payload, n.CreatedAt.UnixMilli(),
	)
	return err
}

// NotificationsFor returns the newest inbox records for a recipient.
func (s *Store) NotificationsFor(ctx context.Context, recipientID string, limit int) ([]engine.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recipient_id, category, title, body, payload, read, created_at
		 FROM notifications WHERE recipient_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		recipientID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(rows *sql.Rows) (engine.Notification, error) {
	var (
		n        engine.Notification
		category string
		payload  sql.NullString
		read     int
		ms       int64
	)
	if err := rows.Scan(&n.ID, &n.RecipientID, &category, &n.Title, &n.Body, &payload, &read, &ms); err != nil {
		return n, err
	}
	n.Category = engine.Category(category)
	n.Read = read != 0
	n.CreatedAt = time.UnixMilli(ms)
	if p, err := unmarshalPayload(payload); err == nil {
		n.Payload = p
	} else {
		return n, err
	}
	return n, nil
}

// ---- RequestStore ----

func (s *Store) Enqueue(ctx context.Context, req engine.ScheduledRequest) error {
	payload, err := marshalPayload(req.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_requests(id, recipient_id, category, title, body, payload, scheduled_for, state, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.RecipientID, string(req.Category), req.Title, req.Body, payload,
		req.ScheduledFor.UnixMilli(), string(engine.StatePending),
		req.CreatedAt.UnixMilli(), req.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *Store) DuePending(ctx context.Context, from, until time.Time) ([]engine.ScheduledRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recipient_id, category, title, body, payload, scheduled_for, state, notification_id, error, created_at, updated_at, sent_at
		 FROM scheduled_requests
		 WHERE state = ? AND scheduled_for >= ? AND scheduled_for <= ?
		 ORDER BY scheduled_for ASC`,
		string(engine.StatePending), from.UnixMilli(), until.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.ScheduledRequest
	for rows.Next() {
		req, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Request loads a single request by id. Returns engine.ErrNotFound when the
// id does not exist.
func (s *Store) Request(ctx context.Context, id string) (engine.ScheduledRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, recipient_id, category, title, body, payload, scheduled_for, state, notification_id, error, created_at, updated_at, sent_at
		 FROM scheduled_requests WHERE id = ?`, id)
	req, err := scanRequest(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.ScheduledRequest{}, engine.ErrNotFound
	}
	return req, err
}

func scanRequest(scan func(dest ...any) error) (engine.ScheduledRequest, error) {
	var (
		req            engine.ScheduledRequest
		category       string
		payload        sql.NullString
		state          string
		notificationID sql.NullString
		errDetail      sql.NullString
		scheduledMS    int64
		createdMS      int64
		updatedMS      int64
		sentMS         sql.NullInt64
	)
	if err := scan(&req.ID, &req.RecipientID, &category, &req.Title, &req.Body, &payload,
		&scheduledMS, &state, &notificationID, &errDetail, &createdMS, &updatedMS, &sentMS); err != nil {
		return req, err
	}
	req.Category = engine.Category(category)
	req.State = engine.RequestState(state)
	req.NotificationID = notificationID.String
	req.Error = errDetail.String
	req.ScheduledFor = time.UnixMilli(scheduledMS)
	req.CreatedAt = time.UnixMilli(createdMS)
	req.UpdatedAt = time.UnixMilli(updatedMS)
	if sentMS.Valid {
		req.SentAt = time.UnixMilli(sentMS.Int64)
	}
	p, err := unmarshalPayload(payload)
	if err != nil {
		return req, err
	}
	req.Payload = p
	return req, nil
}

func (s *Store) MarkSent(ctx context.Context, id string, n engine.Notification, at time.Time) (bool, error) {
	// One transaction for the state transition and the inbox record: a
	// request can never be observed sent without its visible notification.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE scheduled_requests
		 SET state = ?, notification_id = ?, sent_at = ?, updated_at = ?
		 WHERE id = ? AND state = ?`,
		string(engine.StateSent), n.ID, at.UnixMilli(), at.UnixMilli(),
		id, string(engine.StatePending),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		// Not pending anymore; an overlapping cycle (or a cancel) got here first.
		return false, nil
	}

	payload, err := marshalPayload(n.Payload)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notifications(id, recipient_id, category, title, body, payload, read, created_at)
		 VALUES(?,?,?,?,?,?,0,?)`,
		n.ID, n.RecipientID, string(n.Category), n.Title, n.Body, payload, n.CreatedAt.UnixMilli(),
	); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func (s *Store) MarkFailed(ctx context.Context, id, detail string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_requests SET state = ?, error = ?, updated_at = ?
		 WHERE id = ? AND state = ?`,
		string(engine.StateFailed), detail, at.UnixMilli(), id, string(engine.StatePending),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_requests SET state = ?, updated_at = ?
		 WHERE id = ? AND state = ?`,
		string(engine.StateCancelled), time.Now().UnixMilli(), id, string(engine.StatePending),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	// Distinguish "unknown id" from "already terminal".
	var state string
	err = s.db.QueryRowContext(ctx, `SELECT state FROM scheduled_requests WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w (state %s)", engine.ErrNotPending, state)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_requests WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return engine.ErrNotFound
	}
	return nil
}

// ---- EndpointStore ----

func (s *Store) ActiveEndpoints(ctx context.Context, recipientID string) ([]engine.PushEndpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id, endpoint, p256dh, auth, fail_count, last_used_at
		 FROM push_endpoints WHERE recipient_id = ? AND active = 1`,
		recipientID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.PushEndpoint
	for rows.Next() {
		var (
			ep       engine.PushEndpoint
			p256dh   sql.NullString
			auth     sql.NullString
			lastUsed sql.NullInt64
		)
		if err := rows.Scan(&ep.RecipientID, &ep.Endpoint, &p256dh, &auth, &ep.FailCount, &lastUsed); err != nil {
			return nil, err
		}
		ep.P256dh = p256dh.String
		ep.Auth = auth.String
		ep.Active = true
		if lastUsed.Valid {
			ep.LastUsedAt = time.UnixMilli(lastUsed.Int64)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (s *Store) RecordDelivery(ctx context.Context, recipientID, endpoint string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE push_endpoints SET fail_count = 0, last_used_at = ?
		 WHERE recipient_id = ? AND endpoint = ?`,
		at.UnixMilli(), recipientID, endpoint,
	)
	return err
}

func (s *Store) RecordFailure(ctx context.Context, recipientID, endpoint string, threshold int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE push_endpoints SET fail_count = fail_count + 1
		 WHERE recipient_id = ? AND endpoint = ?`,
		recipientID, endpoint,
	); err != nil {
		return false, err
	}

	var (
		failCount int
		active    int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT fail_count, active FROM push_endpoints WHERE recipient_id = ? AND endpoint = ?`,
		recipientID, endpoint,
	).Scan(&failCount, &active)
	if errors.Is(err, sql.ErrNoRows) {
		// Registration vanished mid-flight; nothing to track.
		return false, tx.Commit()
	}
	if err != nil {
		return false, err
	}

	deactivated := false
	if active != 0 && threshold > 0 && failCount >= threshold {
		if _, err := tx.ExecContext(ctx,
			`UPDATE push_endpoints SET active = 0 WHERE recipient_id = ? AND endpoint = ?`,
			recipientID, endpoint,
		); err != nil {
			return false, err
		}
		deactivated = true
	}
	return deactivated, tx.Commit()
}

func (s *Store) Deactivate(ctx context.Context, recipientID, endpoint string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE push_endpoints SET active = 0 WHERE recipient_id = ? AND endpoint = ?`,
		recipientID, endpoint,
	)
	return err
}

// ---- helpers ----

func marshalPayload(p map[string]string) (any, error) {
	if len(p) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalPayload(v sql.NullString) (map[string]string, error) {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil, nil
	}
	var p map[string]string
	if err := json.Unmarshal([]byte(v.String), &p); err != nil {
		return nil, err
	}
	return p, nil
}
