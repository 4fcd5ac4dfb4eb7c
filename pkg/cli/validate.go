package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/common"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
)

type ValidateInterface interface {
	CheckArgs(args []string) error
}

type Validate struct {
	Log     clog.PluggableLoggerInterface
	Options *common.AgentOptions
}

func (o Validate) CheckArgs(args []string) error {

	if len(o.Options.ConfigPath) == 0 {
		return fmt.Errorf("use the --config flag it is mandatory")
	}
	if len(args) > 0 {
		return fmt.Errorf("unexpected positional argument '%s'", args[0])
	}
	if !slices.Contains(logLevels, strings.ToLower(o.Options.LogLevel)) {
		return fmt.Errorf("log-level must be one of %v", logLevels)
	}
	if o.Options.ScanInterval <= 0 {
		return fmt.Errorf("scan-interval must be positive")
	}
	if o.Options.CommandTimeout <= 0 || o.Options.UploadTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if o.Options.Once && o.Options.ScanInterval != defaultScanInterval {
		o.Log.Warn("scan-interval is ignored when --once is set")
	}
	return nil
}
