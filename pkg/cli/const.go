package cli

import "time"

const (
	agentName = "pacs-agent"

	defaultLogLevel     = "info"
	defaultLogsDir      = "logs"
	defaultScanInterval = 5 * time.Second

	// short timeout covers token, find and label calls; the long one
	// covers a single instance upload end to end
	defaultCommandTimeout = 15 * time.Second
	defaultUploadTimeout  = 35 * time.Minute

	maxRetries = 3
	retryDelay = 5 * time.Second
)

var logLevels = []string{"error", "warn", "info", "debug", "trace"}
