package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/common"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
)

func validOptions() *common.AgentOptions {
	return &common.AgentOptions{
		ConfigPath:     "/etc/pacs-agent/service.yaml",
		LogLevel:       "info",
		ScanInterval:   defaultScanInterval,
		CommandTimeout: defaultCommandTimeout,
		UploadTimeout:  defaultUploadTimeout,
	}
}

func TestCheckArgs(t *testing.T) {
	v := Validate{Log: clog.New("error"), Options: validOptions()}
	assert.NoError(t, v.CheckArgs(nil))
}

func TestCheckArgsMissingConfig(t *testing.T) {
	opts := validOptions()
	opts.ConfigPath = ""
	v := Validate{Log: clog.New("error"), Options: opts}
	assert.Error(t, v.CheckArgs(nil))
}

func TestCheckArgsRejectsPositional(t *testing.T) {
	v := Validate{Log: clog.New("error"), Options: validOptions()}
	assert.Error(t, v.CheckArgs([]string{"extra"}))
}

func TestCheckArgsBadLogLevel(t *testing.T) {
	opts := validOptions()
	opts.LogLevel = "verbose"
	v := Validate{Log: clog.New("error"), Options: opts}
	assert.Error(t, v.CheckArgs(nil))
}

func TestCheckArgsBadInterval(t *testing.T) {
	opts := validOptions()
	opts.ScanInterval = 0
	v := Validate{Log: clog.New("error"), Options: opts}
	assert.Error(t, v.CheckArgs(nil))

	opts = validOptions()
	opts.CommandTimeout = -time.Second
	v = Validate{Log: clog.New("error"), Options: opts}
	assert.Error(t, v.CheckArgs(nil))
}
