// Package trigger runs engine cycles on a fixed cadence.
//
// The cron entry fires in its own goroutine, so a slow cycle can overlap the
// next one; the engine is designed for that (the ledger and the pending-state
// CAS keep user-visible notifications unique). Each cycle is bounded by its
// own timeout so a stalled collaborator cannot pin the process.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindd/internal/engine"
	logx "remindd/pkg/logx"
)

// CycleRunner is the engine surface the trigger needs.
type CycleRunner interface {
	RunCycle(ctx context.Context, now time.Time) engine.Summary
}

type Config struct {
	Enabled      bool
	Every        time.Duration
	CycleTimeout time.Duration
	HistorySize  int
}

func (c Config) withDefaults() Config {
	if c.Every <= 0 {
		c.Every = 2 * time.Minute
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 90 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 50
	}
	return c
}

// HistoryItem records one finished cycle for observability.
type HistoryItem struct {
	Started  time.Time
	Duration time.Duration
	Summary  engine.Summary
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	runner CycleRunner
	log    logx.Logger

	c       *cron.Cron
	baseCtx context.Context

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, runner CycleRunner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), runner: runner, log: log}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		s.log.Info("trigger disabled; cycles must be invoked externally")
		return nil
	}
	if s.c != nil {
		return nil
	}
	s.baseCtx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.cfg.Every)
	if _, err := c.AddFunc(spec, func() { s.runCycle() }); err != nil {
		return fmt.Errorf("trigger schedule %q: %w", spec, err)
	}
	s.c = c
	c.Start()
	s.log.Info("trigger started",
		logx.Duration("every", s.cfg.Every),
		logx.Duration("cycle_timeout", s.cfg.CycleTimeout))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	// Wait for in-flight cycles, but respect the caller's deadline.
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger stopped")
}

// Apply swaps the cadence at runtime. A change to Every (or Enabled)
// restarts the cron entry; in-flight cycles finish undisturbed.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()

	restart := cfg.Every != s.cfg.Every || cfg.Enabled != s.cfg.Enabled
	s.cfg = cfg
	if !restart || s.baseCtx == nil {
		return
	}

	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	if !cfg.Enabled {
		s.log.Info("trigger disabled via config reload")
		return
	}
	if err := s.startLocked(); err != nil {
		s.log.Warn("trigger restart failed", logx.Err(err))
	}
}

// RunNow executes one cycle synchronously outside the cadence (operator or
// external scheduler entry point).
func (s *Service) RunNow(ctx context.Context) engine.Summary {
	return s.execCycle(ctx)
}

func (s *Service) runCycle() {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.execCycle(ctx)
}

func (s *Service) execCycle(ctx context.Context) engine.Summary {
	s.mu.Lock()
	timeout := s.cfg.CycleTimeout
	historySize := s.cfg.HistorySize
	s.mu.Unlock()

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sum := s.runner.RunCycle(runCtx, start)

	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{Started: start, Duration: time.Since(start), Summary: sum})
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
	return sum
}

// History returns a copy of the recent cycle records, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}
