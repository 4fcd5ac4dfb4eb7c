package common

import (
	"time"

	"github.com/containers/common/pkg/retry"
)

// AgentOptions - process wide runtime options, set once on the command
// line and shared by every controller. Hot reloadable values (paths,
// credentials, throughput caps) live in config.Accessor instead.
type AgentOptions struct {
	ConfigPath     string
	LogLevel       string
	LogsDir        string
	ScanInterval   time.Duration
	CommandTimeout time.Duration // short timeout: token, find, label
	UploadTimeout  time.Duration // long timeout: instance upload
	Once           bool          // run a single sweep and exit
	RecoverNow     bool          // force the yesterday recovery pass on the first tick
	Terminal       bool
	Source         string // source tag reported to the ui-log sink
	RetryOpts      *retry.Options
}

func (o AgentOptions) IsTerminal() bool {
	return o.Terminal
}
