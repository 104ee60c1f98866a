package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage is the engine-owned database (ledger, request queue, inbox,
	// endpoint health) plus the read models shared with the booking platform.
	Storage StorageConfig `json:"storage"`

	// Trigger controls the periodic cycle runner. Set enabled=false when an
	// external scheduler (systemd timer, k8s CronJob) invokes cycles instead.
	Trigger TriggerConfig `json:"trigger"`

	Reminders RemindersConfig `json:"reminders"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Push      PushConfig      `json:"push"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// TriggerConfig controls the periodic trigger.
//
// All durations are Go duration strings (e.g. "30s", "2m").
//
// Defaults (when fields are omitted/zero):
//   - every: "2m"
//   - cycle_timeout: "90s"
//   - history_size: 50
type TriggerConfig struct {
	Enabled      bool   `json:"enabled"`
	Every        string `json:"every,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	HistorySize  int    `json:"history_size,omitempty"`
}

// RemindersConfig controls booking reminder derivation.
//
// Defaults:
//   - horizon: "48h"
//   - tolerance: "1h"
//   - default_offsets: [24, 2] (hours before the appointment)
type RemindersConfig struct {
	Horizon        string `json:"horizon,omitempty"`
	Tolerance      string `json:"tolerance,omitempty"`
	DefaultOffsets []int  `json:"default_offsets,omitempty"`
}

// DispatchConfig controls materialization of scheduled notification requests.
//
// Defaults:
//   - lookback: "5m" (covers late/skipped cycles)
//   - lookahead: "5m" (covers cycles that fire slightly early)
//   - retry_max: 2
//   - retry_base: "500ms"
//   - retry_max_delay: "5s"
type DispatchConfig struct {
	Lookback      string `json:"lookback,omitempty"`
	Lookahead     string `json:"lookahead,omitempty"`
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// PushConfig controls fan-out to registered push endpoints.
//
// Defaults:
//   - timeout: "10s" (per-endpoint delivery bound)
//   - rate_per_sec: 10
//   - fail_threshold: 5 (consecutive failures before an endpoint is deactivated)
//   - ttl: "1h"
type PushConfig struct {
	Timeout       string `json:"timeout,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	FailThreshold int    `json:"fail_threshold,omitempty"`
	TTL           string `json:"ttl,omitempty"`
	// Token is an optional bearer token for the push gateway (do not log).
	Token string `json:"token,omitempty"`
}
