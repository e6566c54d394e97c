// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	QueueDir     string
	ErrorDir     string
	NoReplyDir   string
	LogLevel     string
	PollInterval time.Duration
	CleanupDays  int
	MetricsAddr  string
	AgentURL     string

	// Operator alerting; alerts fall back to the log when unset.
	TelegramBotToken string
	AlertChatID      int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/notifications.db"
	}

	queueDir := os.Getenv("QUEUE_DIR")
	if queueDir == "" {
		queueDir = "./data/queue"
	}
	errorDir := os.Getenv("QUEUE_ERROR_DIR")
	if errorDir == "" {
		errorDir = filepath.Join(queueDir, "errors")
	}
	noReplyDir := os.Getenv("QUEUE_NO_REPLY_DIR")
	if noReplyDir == "" {
		noReplyDir = filepath.Join(queueDir, "no_reply")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	pollInterval := 1 * time.Minute
	if raw := os.Getenv("POLL_INTERVAL_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL_SECONDS %q", raw)
		}
		pollInterval = time.Duration(secs) * time.Second
	}

	cleanupDays := 7
	if raw := os.Getenv("CLEANUP_DAYS"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("invalid CLEANUP_DAYS %q", raw)
		}
		cleanupDays = days
	}

	var chatID int64
	if raw := os.Getenv("ALERT_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ALERT_CHAT_ID %q: %w", raw, err)
		}
		chatID = id
	}

	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token != "" && chatID == 0 {
		return nil, fmt.Errorf("ALERT_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	return &Config{
		DatabasePath:     dbPath,
		QueueDir:         queueDir,
		ErrorDir:         errorDir,
		NoReplyDir:       noReplyDir,
		LogLevel:         logLevel,
		PollInterval:     pollInterval,
		CleanupDays:      cleanupDays,
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
		AgentURL:         os.Getenv("AGENT_URL"),
		TelegramBotToken: token,
		AlertChatID:      chatID,
	}, nil
}
