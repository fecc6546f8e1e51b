package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Pairing timing. PairingWindow bounds how long a QR payload or phone
// pairing code stays scannable; InitiationTimeout bounds how long a start
// call may block waiting for the initial connection to produce a QR or
// come up on existing credentials.
const (
	PairingWindow     = 60 * time.Second
	InitiationTimeout = 45 * time.Second
)

// Requesting a pairing code before the socket has registered itself fails,
// so wait PairingCodeGrace after connect and retry once more.
const (
	PairingCodeGrace   = 3 * time.Second
	PairingCodeRetries = 1
)

// Reconnect backoff: min(ReconnectBaseDelay * retryCount, ReconnectCapDelay),
// linear and capped rather than exponential.
const (
	ReconnectBaseDelay = 5 * time.Second
	ReconnectCapDelay  = 30 * time.Second
)

// Background credential snapshot sweep
const CredentialSnapshotInterval = 10 * time.Minute

// Upper bound on restoring persisted sessions at boot
const StartupRestoreTimeout = 2 * time.Minute

// Rate limit window for pairing starts
const PairingRateLimitWindow = 60 * time.Second
