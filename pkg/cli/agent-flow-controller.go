package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/classifier"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/common"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/config"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/dcm"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/emoji"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/logsink"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/pacs"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/paths"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/scan"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/stager"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/uploader"
)

type AgentFlowControllerInterface interface {
	AgentProcess(args []string) error
}

type AgentFlowController struct {
	Log     clog.PluggableLoggerInterface
	Options *common.AgentOptions
	Context context.Context
}

func NewAgentFlowController(ctx context.Context, log clog.PluggableLoggerInterface, opts *common.AgentOptions) AgentFlowControllerInterface {
	return AgentFlowController{
		Context: ctx,
		Log:     log,
		Options: opts,
	}
}

func (o AgentFlowController) AgentProcess(args []string) error {
	validate := Validate{Log: o.Log, Options: o.Options}
	err := validate.CheckArgs(args)
	if err != nil {
		return fmt.Errorf("validation failed %s", err.Error())
	}

	o.Log.Info(emoji.WavingHandSign + " Hello, welcome to pacs-agent")
	o.Log.Info(emoji.Gear + "  setting up the environment for you...")

	accessor, err := config.NewAccessor(o.Options.ConfigPath)
	if err != nil {
		return fmt.Errorf("reading configuration %s", err.Error())
	}

	setup := Setup{Log: o.Log, Options: o.Options}
	err = setup.CreateDirectories(accessor.Get())
	if err != nil {
		return fmt.Errorf("setting up directories %s", err.Error())
	}

	sink := logsink.New(o.Log, accessor, o.Options.LogsDir)
	defer sink.Close()

	client, err := pacs.New(o.Log, accessor, sink, *o.Options)
	if err != nil {
		return fmt.Errorf("pacs client %s", err.Error())
	}

	transformer := dcm.New(o.Log, accessor)
	cls := classifier.New(o.Log)
	stg := stager.New(o.Log, transformer)
	planner := paths.New(o.Log, accessor)
	upl := uploader.New(o.Log, accessor, client, sink, *o.Options)
	scanner := scan.New(o.Log, planner, cls, stg, upl, client, sink)

	if !accessor.Get().AutoStart && !o.Options.Once {
		o.Log.Warn("autoStart is disabled in the configuration, monitoring anyway")
	}

	if o.Options.Once {
		if o.Options.RecoverNow {
			if err := scanner.YesterdayScan(o.Context); err != nil {
				o.Log.Error("recovery sweep: %v", err)
			}
		}
		if err := scanner.TodayScan(o.Context); err != nil {
			o.Log.Error("sweep: %v", err)
		}
		upl.Wait()
		o.Log.Info(emoji.WavingHandSign + " Goodbye, thank you for using pacs-agent")
		return nil
	}

	o.Log.Info(emoji.Eyes+" watching for cases every %v", o.Options.ScanInterval)
	o.runLoop(scanner, upl)
	o.Log.Info(emoji.WavingHandSign + " Goodbye, thank you for using pacs-agent")
	return nil
}

// runLoop drives the periodic sweeps until the context is cancelled.
// The yesterday recovery pass runs on the first tick after midnight and,
// when requested, on the very first tick.
func (o AgentFlowController) runLoop(scanner scan.Scanner, upl *uploader.Uploader) {
	ticker := time.NewTicker(o.Options.ScanInterval)
	defer ticker.Stop()

	day := time.Now().Format(paths.DateKeyFormat)
	pendingRecovery := o.Options.RecoverNow

	for {
		select {
		case <-o.Context.Done():
			o.Log.Info(emoji.Pushpin + " shutdown requested, draining uploads")
			upl.Wait()
			return
		case <-ticker.C:
			if cur := time.Now().Format(paths.DateKeyFormat); cur != day {
				day = cur
				pendingRecovery = true
			}
			if pendingRecovery {
				if err := scanner.YesterdayScan(o.Context); err != nil {
					o.Log.Error("recovery sweep: %v", err)
				} else {
					pendingRecovery = false
				}
			}
			if err := scanner.TodayScan(o.Context); err != nil {
				if o.Context.Err() != nil {
					continue
				}
				o.Log.Error("sweep: %v", err)
			}
		}
	}
}
