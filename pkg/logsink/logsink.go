package logsink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/config"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
	"github.com/sirupsen/logrus"
)

const (
	queueDepth     = 256
	postTimeout    = 500 * time.Millisecond
	serviceLogName = "service.log"
)

// UILogInterface is the one way, fire and forget message sink. Transport
// or server failures are swallowed; messages may be dropped when the
// control plane is down or the queue is full. It never blocks the caller.
type UILogInterface interface {
	Log(message string, source string)
	LogColor(message string, source string, color string)
	Close()
}

type uiLogMessage struct {
	Message string `json:"message"`
	Source  string `json:"source"`
	Color   string `json:"color,omitempty"`
}

type UILog struct {
	Logger clog.PluggableLoggerInterface
	Config config.AccessorInterface

	client *http.Client
	queue  chan uiLogMessage
	done   chan struct{}
	file   *logrus.Logger
}

func New(log clog.PluggableLoggerInterface, cfg config.AccessorInterface, logsDir string) *UILog {
	u := &UILog{
		Logger: log,
		Config: cfg,
		client: &http.Client{Timeout: postTimeout},
		queue:  make(chan uiLogMessage, queueDepth),
		done:   make(chan struct{}),
	}
	u.file = logrus.New()
	logPath := filepath.Join(logsDir, serviceLogName)
	handle, err := os.OpenFile(filepath.Clean(logPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn("failed to create local service log, using stderr: %v", err)
	} else {
		u.file.SetOutput(handle)
	}
	u.file.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	go u.drain()
	return u
}

func (o *UILog) Log(message string, source string) {
	o.LogColor(message, source, "")
}

func (o *UILog) LogColor(message string, source string, color string) {
	o.file.WithField("source", source).Info(message)
	select {
	case o.queue <- uiLogMessage{Message: message, Source: source, Color: color}:
	default:
		// queue full, drop the message
	}
}

func (o *UILog) Close() {
	close(o.queue)
	<-o.done
}

func (o *UILog) drain() {
	defer close(o.done)
	for msg := range o.queue {
		o.post(msg)
	}
}

func (o *UILog) post(msg uiLogMessage) {
	cfg := o.Config.Get()
	if cfg.APIHost == "" || cfg.APIPort == 0 {
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return
	}
	url := fmt.Sprintf("http://%s:%d/api/ui-log", cfg.APIHost, cfg.APIPort)
	// nolint: noctx
	resp, err := o.client.Post(url, "application/json; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		return
	}
	resp.Body.Close()
}
