package gateway

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls the session ceiling, pairing-code expiry, sweep intervals,
// and the bounded timeouts applied to every blocking connection operation.
type Config struct {
	// MaxSessions is the global ceiling on simultaneously live sessions.
	MaxSessions int

	// PairingMaxAge is how long a pairing code may sit unscanned before the
	// sweeper purges it. The platform invalidates codes after roughly half
	// this window; the slack tolerates clock and event jitter.
	PairingMaxAge time.Duration

	// PairingSweepInterval is how often expired pairing codes are purged.
	PairingSweepInterval time.Duration

	// SessionSweepInterval is how often dead sessions are destroyed.
	SessionSweepInterval time.Duration

	// ConnectTimeout bounds connection initiation during Create.
	ConnectTimeout time.Duration

	// StateQueryTimeout bounds live-state reconciliation queries.
	StateQueryTimeout time.Duration

	// SendTimeout bounds a single outbound send.
	SendTimeout time.Duration

	// NotifyTimeout bounds one webhook delivery attempt.
	NotifyTimeout time.Duration

	// MediaMaxBytes caps the size of a fetched media payload.
	MediaMaxBytes int64

	// WebhookURL is the control-plane endpoint for status notifications.
	// Empty disables notification entirely.
	WebhookURL string

	// APIKey is the shared secret sent with webhook deliveries.
	APIKey string
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		MaxSessions:          50,
		PairingMaxAge:        120 * time.Second,
		PairingSweepInterval: 60 * time.Second,
		SessionSweepInterval: 30 * time.Minute,
		ConnectTimeout:       60 * time.Second,
		StateQueryTimeout:    5 * time.Second,
		SendTimeout:          30 * time.Second,
		NotifyTimeout:        5 * time.Second,
		MediaMaxBytes:        32 << 20,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - WAGATE_MAX_SESSIONS
//   - WAGATE_PAIRING_MAX_AGE
//   - WAGATE_PAIRING_SWEEP_INTERVAL
//   - WAGATE_SESSION_SWEEP_INTERVAL
//   - WAGATE_CONNECT_TIMEOUT
//   - WAGATE_STATE_QUERY_TIMEOUT
//   - WAGATE_SEND_TIMEOUT
//   - WAGATE_NOTIFY_TIMEOUT
//   - WAGATE_MEDIA_MAX_BYTES
//   - WAGATE_WEBHOOK_URL
//   - WAGATE_API_KEY
//
// Returns ErrConfig if a provided value is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("WAGATE_MAX_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MaxSessions = n
	}

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"WAGATE_PAIRING_MAX_AGE", &cfg.PairingMaxAge},
		{"WAGATE_PAIRING_SWEEP_INTERVAL", &cfg.PairingSweepInterval},
		{"WAGATE_SESSION_SWEEP_INTERVAL", &cfg.SessionSweepInterval},
		{"WAGATE_CONNECT_TIMEOUT", &cfg.ConnectTimeout},
		{"WAGATE_STATE_QUERY_TIMEOUT", &cfg.StateQueryTimeout},
		{"WAGATE_SEND_TIMEOUT", &cfg.SendTimeout},
		{"WAGATE_NOTIFY_TIMEOUT", &cfg.NotifyTimeout},
	} {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil || parsed <= 0 {
				return Config{}, ErrConfig
			}
			*d.dst = parsed
		}
	}

	if v := os.Getenv("WAGATE_MEDIA_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, ErrConfig
		}
		cfg.MediaMaxBytes = n
	}

	cfg.WebhookURL = os.Getenv("WAGATE_WEBHOOK_URL")
	cfg.APIKey = os.Getenv("WAGATE_API_KEY")

	// Invariant: the sweep window must exceed the platform's own validity,
	// otherwise codes are purged while still scannable.
	if cfg.PairingMaxAge < cfg.PairingSweepInterval {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
