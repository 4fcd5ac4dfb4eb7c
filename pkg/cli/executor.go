package cli

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/containers/common/pkg/retry"
	"golang.org/x/term"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/common"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
)

func Execute() error {

	retryOpts := &retry.Options{
		MaxRetry: maxRetries,
		Delay:    retryDelay,
	}

	options := common.AgentOptions{
		Terminal:  term.IsTerminal(int(os.Stdout.Fd())),
		Source:    agentName,
		RetryOpts: retryOpts,
	}

	mainCmd := flag.NewFlagSet(agentName, flag.ExitOnError)
	mainCmd.StringVar(&options.ConfigPath, "config", "", "Path to the service configuration file (yaml or json)")
	mainCmd.StringVar(&options.LogLevel, "log-level", defaultLogLevel, "Log level one of (info, debug, trace, error)")
	mainCmd.StringVar(&options.LogsDir, "logs-dir", defaultLogsDir, "Directory for the local service log")
	mainCmd.DurationVar(&options.ScanInterval, "scan-interval", defaultScanInterval, "Interval between monitor folder sweeps")
	mainCmd.DurationVar(&options.CommandTimeout, "command-timeout", defaultCommandTimeout, "Timeout for short PACS calls (token, find, label)")
	mainCmd.DurationVar(&options.UploadTimeout, "upload-timeout", defaultUploadTimeout, "Timeout for a single instance upload")
	mainCmd.BoolVar(&options.Once, "once", false, "Run a single sweep and exit")
	mainCmd.BoolVar(&options.RecoverNow, "recover-now", false, "Run the yesterday recovery pass on the first tick")

	// parse command line args
	mainCmd.Parse(os.Args[1:])
	log := clog.New(options.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startTime := time.Now()
	controller := NewAgentFlowController(ctx, log, &options)
	err := controller.AgentProcess(mainCmd.Args())
	if err != nil {
		return err
	}
	execTime := time.Since(startTime)
	log.Info("agent time      : %v", execTime)
	return nil
}
