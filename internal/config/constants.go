package config

import "time"

// Store backend names
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

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

// Store operation bound; exceeding it surfaces STORE_TIMEOUT rather
// than hanging the caller.
const StoreOpTimeout = 3 * time.Second

// A merge that loses the commit race rereads fresh state and retries
// this many times before surfacing CONCURRENT_UPDATE_CONFLICT.
const CommitRetries = 3

// Request body caps. Patches are JSON; voice note uploads carry raw
// audio and need more room.
const (
	MaxPatchBodyBytes = 1 << 20
	MaxAudioBodyBytes = 10 << 20
)

// Pagination
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Background maintenance interval
const MaintenanceJobInterval = 5 * time.Minute

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second
