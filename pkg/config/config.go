package config

import (
	"fmt"
	"log"
	"time"

	"github.com/LingByte/LingGuard/pkg/constants"
	"github.com/LingByte/LingGuard/pkg/logger"
	"github.com/LingByte/LingGuard/pkg/utils"
)

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// MonitorConfig carries every timeout and capacity of the monitoring core.
type MonitorConfig struct {
	NegotiationTimeout    time.Duration `json:"negotiation_timeout"`
	ReconnectGrace        time.Duration `json:"reconnect_grace"`
	HeartbeatTimeout      time.Duration `json:"heartbeat_timeout"`
	FrameBufferCapacity   int           `json:"frame_buffer_capacity"`
	DispatchTimeout       time.Duration `json:"dispatch_timeout"`
	WorkerResponseTimeout time.Duration `json:"worker_response_timeout"`
	WorkerCapacity        int           `json:"worker_capacity"`
	DrainTimeout          time.Duration `json:"drain_timeout"`
	AlertBufferCapacity   int           `json:"alert_buffer_capacity"`
	AlertDedupWindow      time.Duration `json:"alert_dedup_window"`
	DetectionWindow       time.Duration `json:"detection_window"`
	SweepSchedule         string        `json:"sweep_schedule"`
	InferenceEndpoints    []string      `json:"inference_endpoints"`
}

// StoreConfig selects where session snapshots and alert history live.
type StoreConfig struct {
	SessionStore  string `json:"session_store"` // memory | redis
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"-"`
	RedisDB       int    `json:"redis_db"`
	JournalDSN    string `json:"journal_dsn"` // empty disables the alert journal
}

var GlobalConfig *Config

// Config System  common config
type Config struct {
	Server      ServerConfig     // Server configuration
	Log         logger.LogConfig // Log configuration
	Monitor     MonitorConfig
	Store       StoreConfig
	MachineID   int64  `env:"MACHINE_ID"`
	Addr        string `env:"ADDR"`
	Mode        string `env:"MODE"`
	ServerName  string `env:"SERVER_NAME"`
	SSLEnabled  bool   `env:"SSL_ENABLED"`
	SSLCertFile string `env:"SSL_CERT_FILE"`
	SSLKeyFile  string `env:"SSL_KEY_FILE"`
}

// DefaultMonitorConfig returns the monitor settings used when nothing is configured.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		NegotiationTimeout:    constants.DefaultNegotiationTimeout,
		ReconnectGrace:        constants.DefaultReconnectGrace,
		HeartbeatTimeout:      constants.DefaultHeartbeatTimeout,
		FrameBufferCapacity:   constants.DefaultFrameBufferCapacity,
		DispatchTimeout:       constants.DefaultDispatchTimeout,
		WorkerResponseTimeout: constants.DefaultWorkerResponseTimeout,
		WorkerCapacity:        constants.DefaultWorkerCapacity,
		DrainTimeout:          constants.DefaultDrainTimeout,
		AlertBufferCapacity:   constants.DefaultAlertBufferCapacity,
		AlertDedupWindow:      constants.DefaultAlertDedupWindow,
		DetectionWindow:       constants.DefaultDetectionWindow,
		SweepSchedule:         constants.DefaultSweepSchedule,
	}
}

// Validate rejects non-positive timeouts and capacities.
func (c MonitorConfig) Validate() error {
	durations := map[string]time.Duration{
		constants.ENV_NEGOTIATION_TIMEOUT:     c.NegotiationTimeout,
		constants.ENV_RECONNECT_GRACE:         c.ReconnectGrace,
		constants.ENV_HEARTBEAT_TIMEOUT:       c.HeartbeatTimeout,
		constants.ENV_DISPATCH_TIMEOUT:        c.DispatchTimeout,
		constants.ENV_WORKER_RESPONSE_TIMEOUT: c.WorkerResponseTimeout,
		constants.ENV_DRAIN_TIMEOUT:           c.DrainTimeout,
		constants.ENV_ALERT_DEDUP_WINDOW:      c.AlertDedupWindow,
		constants.ENV_DETECTION_WINDOW:        c.DetectionWindow,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	capacities := map[string]int{
		constants.ENV_FRAME_BUFFER_CAPACITY: c.FrameBufferCapacity,
		constants.ENV_WORKER_CAPACITY:       c.WorkerCapacity,
		constants.ENV_ALERT_BUFFER_CAPACITY: c.AlertBufferCapacity,
	}
	for name, n := range capacities {
		if n <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, n)
		}
	}
	return nil
}

// LoadMonitorConfig reads the monitor section from the environment.
func LoadMonitorConfig() MonitorConfig {
	d := DefaultMonitorConfig()
	return MonitorConfig{
		NegotiationTimeout:    utils.GetDurationOrDefault(constants.ENV_NEGOTIATION_TIMEOUT, d.NegotiationTimeout),
		ReconnectGrace:        utils.GetDurationOrDefault(constants.ENV_RECONNECT_GRACE, d.ReconnectGrace),
		HeartbeatTimeout:      utils.GetDurationOrDefault(constants.ENV_HEARTBEAT_TIMEOUT, d.HeartbeatTimeout),
		FrameBufferCapacity:   utils.GetIntOrDefault(constants.ENV_FRAME_BUFFER_CAPACITY, d.FrameBufferCapacity),
		DispatchTimeout:       utils.GetDurationOrDefault(constants.ENV_DISPATCH_TIMEOUT, d.DispatchTimeout),
		WorkerResponseTimeout: utils.GetDurationOrDefault(constants.ENV_WORKER_RESPONSE_TIMEOUT, d.WorkerResponseTimeout),
		WorkerCapacity:        utils.GetIntOrDefault(constants.ENV_WORKER_CAPACITY, d.WorkerCapacity),
		DrainTimeout:          utils.GetDurationOrDefault(constants.ENV_DRAIN_TIMEOUT, d.DrainTimeout),
		AlertBufferCapacity:   utils.GetIntOrDefault(constants.ENV_ALERT_BUFFER_CAPACITY, d.AlertBufferCapacity),
		AlertDedupWindow:      utils.GetDurationOrDefault(constants.ENV_ALERT_DEDUP_WINDOW, d.AlertDedupWindow),
		DetectionWindow:       utils.GetDurationOrDefault(constants.ENV_DETECTION_WINDOW, d.DetectionWindow),
		SweepSchedule:         utils.GetStringOrDefault(constants.ENV_SWEEP_SCHEDULE, d.SweepSchedule),
		InferenceEndpoints:    utils.GetStringSliceOrDefault(constants.ENV_INFERENCE_ENDPOINTS, nil),
	}
}

func Load() error {
	// 1. 根据环境加载 .env 文件（如果不存在也不报错，使用默认值）
	mode := utils.GetStringOrDefault("MODE", "development")
	err := utils.LoadEnv(mode)
	if err != nil {
		// .env文件不存在时只记录日志，不影响启动
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}
	// 2. 加载全局配置（所有配置都有默认值，确保无.env文件也能启动）
	GlobalConfig = &Config{
		Server: ServerConfig{
			Port:         int(utils.GetIntEnv("PORT")),
			Host:         utils.GetEnv("HOST"),
			ReadTimeout:  utils.GetDurationOrDefault("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: utils.GetDurationOrDefault("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  utils.GetDurationOrDefault("IDLE_TIMEOUT", 120*time.Second),
		},
		Log: logger.LogConfig{
			Level:      utils.GetStringOrDefault("LOG_LEVEL", "info"),
			Filename:   utils.GetStringOrDefault("LOG_FILENAME", "./logs/lingguard.log"),
			MaxSize:    utils.GetIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     utils.GetIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: utils.GetIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      utils.GetBoolOrDefault("LOG_DAILY", true),
		},
		Monitor: LoadMonitorConfig(),
		Store: StoreConfig{
			SessionStore:  utils.GetStringOrDefault(constants.ENV_SESSION_STORE, "memory"),
			RedisAddr:     utils.GetStringOrDefault(constants.ENV_REDIS_ADDR, "127.0.0.1:6379"),
			RedisPassword: utils.GetEnv(constants.ENV_REDIS_PASSWORD),
			RedisDB:       utils.GetIntOrDefault(constants.ENV_REDIS_DB, 0),
			JournalDSN:    utils.GetStringOrDefault(constants.ENV_JOURNAL_DSN, "./lingguard.db"),
		},
		Mode:        mode,
		MachineID:   utils.GetIntEnv("MACHINE_ID"),
		Addr:        utils.GetStringOrDefault("ADDR", ":7072"),
		ServerName:  utils.GetStringOrDefault("SERVER_NAME", "LingGuard"),
		SSLEnabled:  utils.GetBoolOrDefault("SSL_ENABLED", false),
		SSLCertFile: utils.GetStringOrDefault("SSL_CERT_FILE", ""),
		SSLKeyFile:  utils.GetStringOrDefault("SSL_KEY_FILE", ""),
	}
	// 3. 校验监控参数
	return GlobalConfig.Monitor.Validate()
}
