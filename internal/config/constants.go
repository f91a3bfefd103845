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

// Background job intervals
const CleanupJobInterval = time.Minute

// Expired sessions stay readable this long so callers can tell
// "expired" apart from "not found".
const SessionRetention = 10 * time.Minute

// Notifications are fire-and-forget with their own deadline.
const NotifyTimeout = 5 * time.Second

// Presentation transaction ids accepted by the verifier are capped.
const MaxPresentationTransactionIDLen = 50
