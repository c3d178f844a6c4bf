package app

import "time"

// Config contains the process-level runtime configuration loaded from
// environment variables. Session-subsystem knobs live in gateway.Config.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// BridgeURL is the websocket endpoint of the automation sidecar
	// (e.g. ws://localhost:3001).
	BridgeURL string

	// DirectoryURL is the control plane's base URL for the restoration
	// directory. Ignored when DatabaseURL is set.
	DirectoryURL     string
	DirectoryTimeout time.Duration

	// DatabaseURL switches restoration to reading the control plane's
	// session table directly. Empty disables the Postgres directory.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("WAGATE_HTTP_ADDR", "0.0.0.0:3000"),
		LogLevel: EnvString("WAGATE_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("WAGATE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("WAGATE_HTTP_READ_TIMEOUT", 15*time.Second),
		// The session-init route holds its response while waiting for a
		// pairing code, so the write timeout must exceed that wait.
		WriteTimeout: EnvDuration("WAGATE_HTTP_WRITE_TIMEOUT", 45*time.Second),
		IdleTimeout:  EnvDuration("WAGATE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("WAGATE_HTTP_MAX_HEADER_BYTES", 1<<20),

		BridgeURL: EnvString("WAGATE_BRIDGE_URL", "ws://localhost:3001"),

		DirectoryURL:     EnvString("WAGATE_DIRECTORY_URL", ""),
		DirectoryTimeout: EnvDuration("WAGATE_DIRECTORY_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("WAGATE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("WAGATE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("WAGATE_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("WAGATE_READINESS_REQUIRE_DB", false),
	}
}
