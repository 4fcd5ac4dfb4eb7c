package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/classifier"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/dcm"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/emoji"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/pacs"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/paths"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/stager"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/uploader"
)

const (
	scanPrefix = "[Scanner] "
	sinkSource = "FolderMonitor"

	// label attached to studies pushed by the recovery pass
	LabelYesterdayRecovery = "Yesterday-Recovery"
)

// ScannerInterface drives one sweep of a monitor folder: discover case
// folders, classify, stage, and hand the staged output to the uploader.
type ScannerInterface interface {
	TodayScan(ctx context.Context) error
	YesterdayScan(ctx context.Context) error
}

type Scanner struct {
	Log        clog.PluggableLoggerInterface
	Paths      paths.PlannerInterface
	Classifier classifier.ClassifierInterface
	Stager     stager.StagerInterface
	Uploader   uploader.UploaderInterface
	Client     pacs.ClientInterface
	Sink       pacs.Sink
}

func New(
	log clog.PluggableLoggerInterface,
	planner paths.PlannerInterface,
	cls classifier.ClassifierInterface,
	stg stager.StagerInterface,
	upl uploader.UploaderInterface,
	client pacs.ClientInterface,
	sink pacs.Sink,
) Scanner {
	return Scanner{
		Log:        log,
		Paths:      planner,
		Classifier: cls,
		Stager:     stg,
		Uploader:   upl,
		Client:     client,
		Sink:       sink,
	}
}

// TodayScan sweeps the current day's monitor folder. A failing case is
// logged and skipped, never aborts the sweep; only context cancellation
// stops it early.
func (o Scanner) TodayScan(ctx context.Context) error {
	root, err := o.Paths.TodayRoot()
	if err != nil {
		return err
	}
	staging, err := o.Paths.TodayStaging()
	if err != nil {
		return err
	}
	return o.sweep(ctx, root, staging, nil)
}

// YesterdayScan recovers the previous day's folder. Cases whose staged
// output was already fully uploaded are skipped; cases with a populated
// Orthanc folder get an upload only pass; anything else gets the full
// classify and stage treatment. Everything pushed here carries the
// recovery label.
func (o Scanner) YesterdayScan(ctx context.Context) error {
	root, err := o.Paths.YesterdayRoot()
	if err != nil {
		return err
	}
	staging, err := o.Paths.YesterdayStaging()
	if err != nil {
		return err
	}
	o.Log.Info("%s recovery sweep of %s", emoji.SpinningArrows, root)
	return o.sweep(ctx, root, staging, o.recoverCase)
}

type caseHandler func(ctx context.Context, casePath, stagingRoot string) (bool, error)

func (o Scanner) sweep(ctx context.Context, root, stagingRoot string, handler caseHandler) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read monitor folder %s: %w", root, err)
	}
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !entry.IsDir() {
			continue
		}
		casePath := filepath.Join(root, entry.Name())
		if !o.Classifier.IsCase(casePath) {
			o.Log.Trace(scanPrefix+"not a case: %s", entry.Name())
			continue
		}
		if handler != nil {
			handled, err := handler(ctx, casePath, stagingRoot)
			if err != nil {
				o.Log.Error(scanPrefix+"recover case %s: %v", entry.Name(), err)
				continue
			}
			if handled {
				continue
			}
		}
		if err := o.processCase(ctx, casePath, stagingRoot, nil); err != nil {
			o.Log.Error(scanPrefix+"case %s: %v", entry.Name(), err)
		}
	}
	return nil
}

// processCase runs classify, stage, upload for one case folder.
func (o Scanner) processCase(ctx context.Context, casePath, stagingRoot string, extraLabels []string) error {
	caseName := filepath.Base(casePath)
	dirs, err := o.Stager.CaseDirs(stagingRoot, caseName)
	if err != nil {
		return err
	}
	contents := o.Classifier.Classify(casePath, dirs.Dicoms)
	if contents.IsEmpty() {
		o.Log.Debug(scanPrefix+"empty case %s", caseName)
		return nil
	}

	labels := append(o.Stager.Stage(contents, dirs), extraLabels...)
	if !hasInstances(dirs.Orthanc) {
		o.Log.Debug(scanPrefix+"nothing staged for %s", caseName)
		return nil
	}

	res := o.Uploader.UploadFolderAsync(ctx, dirs.Orthanc, labels)
	if !res.Started {
		o.Log.Debug(scanPrefix+"upload of %s not started: %s", caseName, res.Reason)
		return nil
	}
	o.Log.Info("%s %s dispatched %s for upload", emoji.Package, scanPrefix, caseName)
	return nil
}

// recoverCase is the yesterday specific fast path. Returns handled=true
// when the case needs no further processing this sweep.
func (o Scanner) recoverCase(ctx context.Context, casePath, stagingRoot string) (bool, error) {
	caseName := filepath.Base(casePath)
	orthanc := filepath.Join(stagingRoot, caseName, stager.OrthancDir)

	if !hasInstances(orthanc) {
		// never staged, fall through to the full pass with the label
		err := o.processCase(ctx, casePath, stagingRoot, []string{LabelYesterdayRecovery})
		return true, err
	}
	if o.firstInstanceArchived(ctx, orthanc) {
		o.Log.Debug(scanPrefix+"recovery: %s present in PACS, skipping", caseName)
		return true, nil
	}

	res := o.Uploader.UploadFolderAsync(ctx, orthanc, []string{LabelYesterdayRecovery})
	if res.Started {
		o.Sink.Log(fmt.Sprintf("Recovery upload started for %s", caseName), sinkSource)
	} else {
		o.Log.Debug(scanPrefix+"recovery upload of %s not started: %s", caseName, res.Reason)
	}
	return true, nil
}

// firstInstanceArchived probes the archive with the first staged
// instance, a cheap proxy for "this folder already went up".
func (o Scanner) firstInstanceArchived(ctx context.Context, orthanc string) bool {
	entries, err := os.ReadDir(orthanc)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".pacs") {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), ".dcm") {
			continue
		}
		ds, err := dcm.ParseHeader(filepath.Join(orthanc, entry.Name()))
		if err != nil {
			return false
		}
		sop, _ := dcm.String(ds, tag.SOPInstanceUID)
		series, _ := dcm.String(ds, tag.SeriesInstanceUID)
		return sop != "" && o.Client.Exists(ctx, sop, series)
	}
	return false
}

func hasInstances(orthanc string) bool {
	entries, err := os.ReadDir(orthanc)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".pacs") {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".dcm") {
			return true
		}
	}
	return false
}
