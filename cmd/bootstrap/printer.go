package bootstrap

import (
	"fmt"
	"os"
	"strings"

	"github.com/LingByte/LingGuard/pkg/config"
	"github.com/LingByte/LingGuard/pkg/logger"
	"go.uber.org/zap"
)

// LogConfigInfo Print global configuration information
func LogConfigInfo() {
	logger.Info("system config load finished")

	cfg := config.GlobalConfig
	logger.Info("base config",
		zap.String("addr", cfg.Addr),
		zap.String("mode", cfg.Mode),
		zap.Int64("machine_id", cfg.MachineID),
	)

	logger.Info("log config",
		zap.String("log_level", cfg.Log.Level),
		zap.String("log_filename", cfg.Log.Filename),
		zap.Int("log_max_size", cfg.Log.MaxSize),
		zap.Int("log_max_age", cfg.Log.MaxAge),
		zap.Int("log_max_backups", cfg.Log.MaxBackups),
	)

	m := cfg.Monitor
	logger.Info("monitor config",
		zap.Duration("negotiation_timeout", m.NegotiationTimeout),
		zap.Duration("reconnect_grace", m.ReconnectGrace),
		zap.Duration("heartbeat_timeout", m.HeartbeatTimeout),
		zap.Int("frame_buffer_capacity", m.FrameBufferCapacity),
		zap.Duration("dispatch_timeout", m.DispatchTimeout),
		zap.Duration("worker_response_timeout", m.WorkerResponseTimeout),
		zap.Int("worker_capacity", m.WorkerCapacity),
		zap.Duration("drain_timeout", m.DrainTimeout),
		zap.Int("alert_buffer_capacity", m.AlertBufferCapacity),
		zap.Duration("alert_dedup_window", m.AlertDedupWindow),
		zap.String("sweep_schedule", m.SweepSchedule),
		zap.Strings("inference_endpoints", m.InferenceEndpoints),
	)

	logger.Info("store config",
		zap.String("session_store", cfg.Store.SessionStore),
		zap.String("redis_addr", cfg.Store.RedisAddr),
		zap.Int("redis_db", cfg.Store.RedisDB),
		zap.String("journal_dsn", cfg.Store.JournalDSN),
	)
}

// EnsureBannerFile writes defaultText to filename when the file is missing
func EnsureBannerFile(filename string, defaultText string) error {
	if _, err := os.Stat(filename); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(filename, []byte(defaultText+"\n"), 0o644)
}

// PrintBannerFromFile Read file and print, auto-generate if file doesn't exist
func PrintBannerFromFile(filename string, defaultText string) error {
	if err := EnsureBannerFile(filename, defaultText); err != nil {
		return fmt.Errorf("failed to ensure banner file: %w", err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")

	colors := []string{
		"\x1b[38;5;39m",
		"\x1b[38;5;45m",
		"\x1b[38;5;51m",
		"\x1b[38;5;87m",
		"\x1b[38;5;123m",
		"\x1b[38;5;159m",
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		color := colors[i%len(colors)]
		fmt.Println(color + line + "\x1b[0m")
	}
	return nil
}
