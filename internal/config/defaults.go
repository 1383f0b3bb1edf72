package config

// DefaultAddr is the default listen address for the companion save server.
const DefaultAddr = "127.0.0.1:3001"

// DefaultMirrorEndpoint is where the network mirror posts images.
const DefaultMirrorEndpoint = "http://localhost:3001"

// DefaultMaxSessions is the session-count ceiling enforced after every insert.
const DefaultMaxSessions = 50

// DefaultCapacityBytes is the assumed primary store capacity (5 MiB).
const DefaultCapacityBytes int64 = 5 * 1024 * 1024

// DefaultQuotaPolicy halves the session list when a write hits the capacity ceiling.
const DefaultQuotaPolicy = "halve-sessions"

// DefaultLogLevel is used when log_level is unset.
const DefaultLogLevel = "info"

const (
	DefaultMirrorWorkers   = 2
	DefaultMirrorQueue     = 64
	DefaultMirrorRate      = 20.0
	DefaultMirrorTimeoutMs = 5000
)

// QuotaPolicies lists the accepted quota_policy values.
var QuotaPolicies = []string{"halve-sessions", "drop-oldest-session"}
