package constants

import "time"

// Monitor env keys
const ENV_NEGOTIATION_TIMEOUT = "NEGOTIATION_TIMEOUT"
const ENV_RECONNECT_GRACE = "RECONNECT_GRACE"
const ENV_HEARTBEAT_TIMEOUT = "HEARTBEAT_TIMEOUT"
const ENV_FRAME_BUFFER_CAPACITY = "FRAME_BUFFER_CAPACITY"
const ENV_DISPATCH_TIMEOUT = "DISPATCH_TIMEOUT"
const ENV_WORKER_RESPONSE_TIMEOUT = "WORKER_RESPONSE_TIMEOUT"
const ENV_WORKER_CAPACITY = "WORKER_CAPACITY"
const ENV_DRAIN_TIMEOUT = "DRAIN_TIMEOUT"
const ENV_ALERT_BUFFER_CAPACITY = "ALERT_BUFFER_CAPACITY"
const ENV_ALERT_DEDUP_WINDOW = "ALERT_DEDUP_WINDOW"
const ENV_DETECTION_WINDOW = "DETECTION_WINDOW"
const ENV_SWEEP_SCHEDULE = "SWEEP_SCHEDULE"
const ENV_INFERENCE_ENDPOINTS = "INFERENCE_ENDPOINTS"

// Store
const ENV_SESSION_STORE = "SESSION_STORE"
const ENV_REDIS_ADDR = "REDIS_ADDR"
const ENV_REDIS_PASSWORD = "REDIS_PASSWORD"
const ENV_REDIS_DB = "REDIS_DB"
const ENV_JOURNAL_DSN = "JOURNAL_DSN"

// Defaults
const (
	DefaultNegotiationTimeout    = 10 * time.Second
	DefaultReconnectGrace        = 15 * time.Second
	DefaultHeartbeatTimeout      = 5 * time.Second
	DefaultFrameBufferCapacity   = 8
	DefaultDispatchTimeout       = 200 * time.Millisecond
	DefaultWorkerResponseTimeout = 2 * time.Second
	DefaultWorkerCapacity        = 4
	DefaultDrainTimeout          = 5 * time.Second
	DefaultAlertBufferCapacity   = 32
	DefaultAlertDedupWindow      = 30 * time.Second
	DefaultDetectionWindow       = time.Second
	DefaultSweepSchedule         = "@every 1s"
	DefaultClosedSessionMemory   = 1024
)

// Housekeeping schedules
const (
	WorkerProbeSchedule     = "@every 5s"
	StatsLogSchedule        = "@every 1m"
	JournalPruneSchedule    = "@hourly"
	DefaultJournalRetention = 7 * 24 * time.Hour
)

const (
	SessionKeyPrefix = "lingguard:session:"
	WorkerIDPrefix   = "wrk"
)
