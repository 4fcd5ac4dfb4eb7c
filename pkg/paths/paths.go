package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/config"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
)

const (
	// DateKey layout for the per day leaf folders (dd-mm-yyyy)
	DateKeyFormat = "02-01-2006"

	yearFormat      = "2006"
	monthYearFormat = "01-2006"
	stagingDir      = "Staging"
)

// PlannerInterface derives the discovery and staging roots for a date.
// All calls are idempotent: directories are created with missing parents
// on every invocation.
type PlannerInterface interface {
	TodayRoot() (string, error)
	TodayStaging() (string, error)
	YesterdayRoot() (string, error)
	YesterdayStaging() (string, error)
}

type Planner struct {
	Log    clog.PluggableLoggerInterface
	Config config.AccessorInterface
	Now    func() time.Time
}

func New(log clog.PluggableLoggerInterface, cfg config.AccessorInterface) Planner {
	return Planner{Log: log, Config: cfg, Now: time.Now}
}

func (o Planner) TodayRoot() (string, error) {
	return o.root(o.Now())
}

func (o Planner) YesterdayRoot() (string, error) {
	return o.root(o.Now().Add(-24 * time.Hour))
}

func (o Planner) TodayStaging() (string, error) {
	return o.staging(o.Now())
}

func (o Planner) YesterdayStaging() (string, error) {
	return o.staging(o.Now().Add(-24 * time.Hour))
}

func (o Planner) root(t time.Time) (string, error) {
	cfg := o.Config.Get()
	if cfg.RootPath == "" {
		return "", fmt.Errorf("rootPath is not configured")
	}
	dir := filepath.Join(cfg.RootPath, t.Format(DateKeyFormat))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("setup monitor folder (%s) %v ", dir, err)
	}
	o.Log.Trace("monitor folder ready: %s", dir)
	return dir, nil
}

func (o Planner) staging(t time.Time) (string, error) {
	cfg := o.Config.Get()
	if cfg.StagingPath == "" {
		return "", fmt.Errorf("stagingPath is not configured")
	}
	dir := filepath.Join(
		cfg.StagingPath,
		stagingDir,
		t.Format(yearFormat),
		t.Format(monthYearFormat),
		t.Format(DateKeyFormat),
	)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("setup staging folder (%s) %v ", dir, err)
	}
	return dir, nil
}
