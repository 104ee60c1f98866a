package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"remindd/internal/config"
	"remindd/internal/engine"
	"remindd/internal/push"
	"remindd/internal/storage"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

// Resolution of raw config (duration strings, defaults) into typed component
// configs happens here, at the wiring layer, so the config package stays a
// plain schema and components receive only time.Duration values.

func loggingSettings(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func storageSettings(cfg *config.Config) (storage.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver != "" && driver != "sqlite" && driver != "sqlite3" {
		return storage.Config{}, errors.New("unknown storage driver: " + cfg.Storage.Driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./remindd.db"
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func engineSettings(cfg *config.Config) (engine.Config, error) {
	horizon, err := config.ParseDurationOrDefault("reminders.horizon", cfg.Reminders.Horizon, 48*time.Hour)
	if err != nil {
		return engine.Config{}, err
	}
	tolerance, err := config.ParseDurationOrDefault("reminders.tolerance", cfg.Reminders.Tolerance, time.Hour)
	if err != nil {
		return engine.Config{}, err
	}
	lookback, err := config.ParseDurationOrDefault("dispatch.lookback", cfg.Dispatch.Lookback, 5*time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	lookahead, err := config.ParseDurationOrDefault("dispatch.lookahead", cfg.Dispatch.Lookahead, 5*time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	retryBase, err := config.ParseDurationOrDefault("dispatch.retry_base", cfg.Dispatch.RetryBase, 500*time.Millisecond)
	if err != nil {
		return engine.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("dispatch.retry_max_delay", cfg.Dispatch.RetryMaxDelay, 5*time.Second)
	if err != nil {
		return engine.Config{}, err
	}

	retryMax := 2
	if cfg.Dispatch.RetryMax != nil {
		retryMax = *cfg.Dispatch.RetryMax
		if retryMax < 0 {
			return engine.Config{}, fmt.Errorf("dispatch.retry_max: must be >= 0")
		}
	}

	for _, h := range cfg.Reminders.DefaultOffsets {
		if h <= 0 {
			return engine.Config{}, fmt.Errorf("reminders.default_offsets: offset %d must be > 0", h)
		}
	}

	return engine.Config{
		Horizon:               horizon,
		Tolerance:             tolerance,
		DefaultOffsets:        cfg.Reminders.DefaultOffsets,
		DispatchLookback:      lookback,
		DispatchLookahead:     lookahead,
		DispatchRetryMax:      retryMax,
		DispatchRetryBase:     retryBase,
		DispatchRetryMaxDelay: retryMaxDelay,
		PushRatePerSec:        cfg.Push.RatePerSec,
		PushFailThreshold:     cfg.Push.FailThreshold,
	}, nil
}

func pushSettings(cfg *config.Config) (push.Config, error) {
	timeout, err := config.ParseDurationOrDefault("push.timeout", cfg.Push.Timeout, 10*time.Second)
	if err != nil {
		return push.Config{}, err
	}
	ttl, err := config.ParseDurationOrDefault("push.ttl", cfg.Push.TTL, time.Hour)
	if err != nil {
		return push.Config{}, err
	}
	return push.Config{Timeout: timeout, TTL: ttl, Token: cfg.Push.Token}, nil
}

func triggerSettings(cfg *config.Config) (trigger.Config, error) {
	every, err := config.ParseDurationOrDefault("trigger.every", cfg.Trigger.Every, 2*time.Minute)
	if err != nil {
		return trigger.Config{}, err
	}
	cycleTimeout, err := config.ParseDurationOrDefault("trigger.cycle_timeout", cfg.Trigger.CycleTimeout, 90*time.Second)
	if err != nil {
		return trigger.Config{}, err
	}
	return trigger.Config{
		Enabled:      cfg.Trigger.Enabled,
		Every:        every,
		CycleTimeout: cycleTimeout,
		HistorySize:  cfg.Trigger.HistorySize,
	}, nil
}
