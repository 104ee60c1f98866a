package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	logx "remindd/pkg/logx"
)

// Config holds the engine's temporal and retry policy. Zero fields fall back
// to the reference defaults via withDefaults().
type Config struct {
	// Horizon bounds the booking scan; beyond it no offset can be due.
	Horizon time.Duration
	// Tolerance is the symmetric slack around each offset's nominal instant.
	Tolerance time.Duration
	// DefaultOffsets apply when a recipient has reminders enabled but no
	// offsets configured.
	DefaultOffsets []int

	// DispatchLookback/-ahead form the window around "now" in which pending
	// requests are materialized.
	DispatchLookback  time.Duration
	DispatchLookahead time.Duration

	// DispatchRetryMax bounds retries of a failing materialization before the
	// request is marked failed. 0 disables retries.
	DispatchRetryMax      int
	DispatchRetryBase     time.Duration
	DispatchRetryMaxDelay time.Duration

	// PushRatePerSec throttles fan-out deliveries across the whole cycle.
	PushRatePerSec int
	// PushFailThreshold deactivates an endpoint after this many consecutive
	// delivery failures.
	PushFailThreshold int
}

func (c Config) withDefaults() Config {
	if c.Horizon <= 0 {
		c.Horizon = 48 * time.Hour
	}
	if c.Tolerance <= 0 {
		c.Tolerance = time.Hour
	}
	if len(c.DefaultOffsets) == 0 {
		c.DefaultOffsets = []int{24, 2}
	}
	if c.DispatchLookback <= 0 {
		c.DispatchLookback = 5 * time.Minute
	}
	if c.DispatchLookahead <= 0 {
		c.DispatchLookahead = 5 * time.Minute
	}
	if c.DispatchRetryBase <= 0 {
		c.DispatchRetryBase = 500 * time.Millisecond
	}
	if c.DispatchRetryMaxDelay <= 0 {
		c.DispatchRetryMaxDelay = 5 * time.Second
	}
	if c.PushRatePerSec <= 0 {
		c.PushRatePerSec = 10
	}
	if c.PushFailThreshold <= 0 {
		c.PushFailThreshold = 5
	}
	return c
}

// Deps are the collaborator stores the engine works against. Bookings, Prefs,
// Endpoints and Sender may be nil in reduced deployments; the corresponding
// phase then no-ops.
type Deps struct {
	Bookings  BookingStore
	Prefs     PreferenceStore
	Ledger    Ledger
	Inbox     InboxStore
	Requests  RequestStore
	Endpoints EndpointStore
	Sender    PushSender
}

type Engine struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	deps Deps
	log  logx.Logger
}

func New(cfg Config, deps Deps, log logx.Logger) *Engine {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.PushRatePerSec), cfg.PushRatePerSec),
		deps:    deps,
		log:     log,
	}
}

// Apply swaps the policy config at runtime. Safe to call concurrently with a
// running cycle; the cycle keeps the snapshot it started with.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	e.cfg = cfg
	e.limiter = rate.NewLimiter(rate.Limit(cfg.PushRatePerSec), cfg.PushRatePerSec)
	e.mu.Unlock()
}

func (e *Engine) snapshot() (Config, *rate.Limiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.limiter
}

// RunCycle executes one full engine cycle at the given instant and returns
// the aggregate summary. It never returns an error: failures are isolated to
// their unit of work and surface only in logs and Summary counts. Cycles may
// overlap; the ledger claim and the pending->sent transition guarantee at
// most one user-visible notification per logical unit.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) Summary {
	start := time.Now()
	var sum Summary

	e.deriveReminders(ctx, now, &sum)
	e.dispatchDue(ctx, now, &sum)

	e.log.Info("cycle finished",
		logx.Int("bookings", sum.BookingsScanned),
		logx.Int("reminders_created", sum.RemindersCreated),
		logx.Int("reminders_skipped", sum.RemindersSkipped),
		logx.Int("requests_sent", sum.RequestsSent),
		logx.Int("requests_failed", sum.RequestsFailed),
		logx.Int("push_attempted", sum.PushAttempted),
		logx.Int("push_failed", sum.PushFailed),
		logx.Duration("dur", time.Since(start)))
	return sum
}

// Schedule enqueues a future-dated notification request in the pending state.
// The caller provides recipient, content and the scheduled instant; id,
// state and timestamps are filled in here.
func (e *Engine) Schedule(ctx context.Context, req ScheduledRequest) (ScheduledRequest, error) {
	if e.deps.Requests == nil {
		return req, errors.New("request store not configured")
	}
	if req.RecipientID == "" {
		return req, errors.New("recipient id is required")
	}
	if req.ScheduledFor.IsZero() {
		return req, errors.New("scheduled_for is required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Category == "" {
		req.Category = CategoryCustom
	}
	now := time.Now()
	req.State = StatePending
	req.CreatedAt = now
	req.UpdatedAt = now
	if err := e.deps.Requests.Enqueue(ctx, req); err != nil {
		return req, err
	}
	e.log.Debug("request scheduled",
		logx.String("request", req.ID),
		logx.String("recipient", req.RecipientID),
		logx.Time("scheduled_for", req.ScheduledFor))
	return req, nil
}

// Cancel transitions a pending request to cancelled. Terminal requests are
// rejected with ErrNotPending.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	if e.deps.Requests == nil {
		return errors.New("request store not configured")
	}
	return e.deps.Requests.Cancel(ctx, id)
}

// Delete hard-deletes a request record regardless of lifecycle state.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if e.deps.Requests == nil {
		return errors.New("request store not configured")
	}
	return e.deps.Requests.Delete(ctx, id)
}
