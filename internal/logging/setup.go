package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/kirogateway/kirogateway/internal/config"
)

var (
	logMux        sync.Mutex
	logFileHandle *os.File
)

// instanceHook stamps every log entry with the id of the process that
// emitted it, so log lines from several kirogateway instances sharing one
// aggregation pipe (e.g. behind a load balancer) can be told apart without
// relying on the source IP a downstream proxy may have rewritten.
type instanceHook struct {
	instanceID string
}

func (h instanceHook) Levels() []log.Level { return log.AllLevels }

func (h instanceHook) Fire(entry *log.Entry) error {
	entry.Data["instance_id"] = h.instanceID
	return nil
}

// Setup configures the global logrus logger using runtime configuration.
// It is idempotent and can be called multiple times; the most recent call
// wins.
func Setup(cfg *config.Config) error {
	logMux.Lock()
	defer logMux.Unlock()

	var formatter log.Formatter = &log.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	if cfg != nil && cfg.Debug {
		formatter = &log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano}
	}
	log.SetFormatter(formatter)

	level := log.InfoLevel
	if cfg != nil && cfg.Debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)

	writers := []io.Writer{os.Stdout}

	if logFileHandle != nil {
		_ = logFileHandle.Close()
		logFileHandle = nil
	}

	if cfg != nil && cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logFileHandle = file
		writers = append(writers, file)
	}

	log.SetOutput(io.MultiWriter(writers...))

	log.ReplaceHooks(make(log.LevelHooks))
	log.AddHook(instanceHook{instanceID: uuid.NewString()})

	return nil
}
