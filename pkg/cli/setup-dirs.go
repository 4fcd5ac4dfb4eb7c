package cli

import (
	"fmt"
	"os"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/common"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/config"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
)

type SetupInteface interface {
	CreateDirectories(cfg config.ServiceConfig) error
}

type Setup struct {
	Log     clog.PluggableLoggerInterface
	Options *common.AgentOptions
}

// CreateDirectories prepares the fixed directories the agent writes to.
// The per day monitor and staging folders are created lazily by the
// planner on every sweep.
func (o Setup) CreateDirectories(cfg config.ServiceConfig) error {
	o.Log.Trace("creating logs directory %s ", o.Options.LogsDir)
	err := os.MkdirAll(o.Options.LogsDir, 0755)
	if err != nil {
		return fmt.Errorf("setup logs dir (%s) %v ", o.Options.LogsDir, err)
	}

	o.Log.Trace("creating monitor root %s ", cfg.RootPath)
	err = os.MkdirAll(cfg.RootPath, 0755)
	if err != nil {
		return fmt.Errorf("setup monitor root (%s) %v ", cfg.RootPath, err)
	}

	o.Log.Trace("creating staging root %s ", cfg.StagingPath)
	err = os.MkdirAll(cfg.StagingPath, 0755)
	if err != nil {
		return fmt.Errorf("setup staging root (%s) %v ", cfg.StagingPath, err)
	}
	return nil
}
