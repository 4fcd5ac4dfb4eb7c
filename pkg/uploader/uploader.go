package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	cp "github.com/otiai10/copy"
	"github.com/suyashkumar/dicom/pkg/tag"
	"github.com/vbauerster/mpb/v8"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/common"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/config"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/dcm"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/pacs"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/spinners"
)

const (
	uploaderPrefix = "[Uploader] "
	sinkSource     = "PacsUploader"

	sentinelUploading = ".pacs_uploading"
	sentinelProgress  = ".pacs_progress"
	tempDirName       = "temp"

	sentinelTimeFormat = "2006-01-02 15:04:05"
)

// StartResult reports whether an async upload was accepted. A rejection
// carries the reason (already in flight, configuration incomplete).
type StartResult struct {
	Started bool
	Reason  string
}

type uploadRecord struct {
	Uploaded int      `json:"uploaded"`
	Failed   int      `json:"failed"`
	Failures []string `json:"failures"`
}

// UploaderInterface dispatches background uploads of staged Orthanc
// folders. At most one upload runs per folder at any time, enforced
// in process and across restarts via the on disk sentinels.
type UploaderInterface interface {
	UploadFolderAsync(ctx context.Context, folder string, labels []string) StartResult
	Wait()
}

type Uploader struct {
	Log     clog.PluggableLoggerInterface
	Config  config.AccessorInterface
	Client  pacs.ClientInterface
	Sink    pacs.Sink
	Options common.AgentOptions

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

func New(log clog.PluggableLoggerInterface, cfg config.AccessorInterface, client pacs.ClientInterface, sink pacs.Sink, opts common.AgentOptions) *Uploader {
	return &Uploader{
		Log:      log,
		Config:   cfg,
		Client:   client,
		Sink:     sink,
		Options:  opts,
		inFlight: map[string]struct{}{},
	}
}

// UploadFolderAsync starts the upload of one Orthanc folder in a
// goroutine and returns immediately. A folder already in flight is
// refused; a sentinel left behind by a crashed run is reported and
// cleaned before the new attempt starts.
func (o *Uploader) UploadFolderAsync(ctx context.Context, folder string, labels []string) StartResult {
	if o.Config.Get().PacsBaseURL == "" {
		return StartResult{Started: false, Reason: "pacs base url is not configured"}
	}

	key, err := canonicalKey(folder)
	if err != nil {
		return StartResult{Started: false, Reason: fmt.Sprintf("resolve folder: %v", err)}
	}

	o.mu.Lock()
	if _, busy := o.inFlight[key]; busy {
		o.mu.Unlock()
		return StartResult{Started: false, Reason: "upload already in progress"}
	}
	o.inFlight[key] = struct{}{}
	o.mu.Unlock()

	if _, err := os.Stat(filepath.Join(folder, sentinelUploading)); err == nil {
		pct := readProgress(folder)
		o.Log.Warn(uploaderPrefix+"stale upload sentinel in %s, last progress %d%%, recovering", folder, pct)
		o.Sink.Log(fmt.Sprintf("Recovering interrupted upload of %s (was at %d%%)", filepath.Base(folder), pct), sinkSource)
		o.cleanupArtifacts(folder)
	}

	if err := o.writeSentinels(folder); err != nil {
		o.release(key)
		return StartResult{Started: false, Reason: fmt.Sprintf("write sentinels: %v", err)}
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.release(key)
		defer o.cleanupArtifacts(folder)
		o.run(ctx, folder, labels)
	}()
	return StartResult{Started: true}
}

// Wait blocks until every in flight upload has finished.
func (o *Uploader) Wait() {
	o.wg.Wait()
}

func (o *Uploader) run(ctx context.Context, folder string, labels []string) {
	caseName := filepath.Base(filepath.Dir(folder))
	tempDir := filepath.Join(folder, tempDirName)
	if err := os.RemoveAll(tempDir); err != nil {
		o.Log.Warn(uploaderPrefix+"reset temp dir %s: %v", tempDir, err)
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		o.Sink.LogColor(fmt.Sprintf("Upload of %s failed: %v", caseName, err), sinkSource, "red")
		return
	}

	files, totalBytes, err := enumerate(folder)
	if err != nil {
		o.Sink.LogColor(fmt.Sprintf("Upload of %s failed: %v", caseName, err), sinkSource, "red")
		return
	}
	if len(files) == 0 {
		o.Log.Debug(uploaderPrefix+"nothing to upload in %s", folder)
		return
	}
	o.Sink.Log(fmt.Sprintf("Uploading %d file(s) for %s", len(files), caseName), sinkSource)

	var progress *mpb.Progress
	if o.Options.IsTerminal() {
		progress = spinners.Container(nil)
	}

	record := uploadRecord{Failures: []string{}}
	studyUID := ""
	var doneBytes int64

	for _, file := range files {
		select {
		case <-ctx.Done():
			record.Failed++
			record.Failures = append(record.Failures, filepath.Base(file.path)+": cancelled")
			o.finish(folder, caseName, labels, studyUID, record, progress)
			return
		default:
		}

		sop, series, study := instanceUIDs(file.path)
		if studyUID == "" {
			studyUID = study
		}

		if sop != "" && o.Client.Exists(ctx, sop, series) {
			o.Log.Debug(uploaderPrefix+"skipping %s, already archived", filepath.Base(file.path))
			record.Uploaded++
			doneBytes += file.size
			o.writeProgress(folder, doneBytes, totalBytes)
			continue
		}

		tempPath, err := stageTemp(file.path, tempDir)
		if err != nil {
			record.Failed++
			record.Failures = append(record.Failures, fmt.Sprintf("%s: %v", filepath.Base(file.path), err))
			continue
		}

		var bar *mpb.Bar
		if progress != nil {
			bar = spinners.UploadBar(progress, filepath.Base(file.path), file.size)
		}
		cb := func(sent, total int64) {
			if bar != nil {
				bar.SetCurrent(sent)
			}
			o.writeProgress(folder, doneBytes+sent, totalBytes)
		}

		if err := o.Client.Upload(ctx, tempPath, cb); err != nil {
			if bar != nil {
				bar.Abort(true)
			}
			record.Failed++
			record.Failures = append(record.Failures, fmt.Sprintf("%s: %v", filepath.Base(file.path), err))
			continue
		}
		if bar != nil {
			bar.SetCurrent(file.size)
		}

		if sop != "" && !o.Client.ConfirmUploaded(ctx, sop, series) {
			record.Failed++
			record.Failures = append(record.Failures, filepath.Base(file.path)+": upload-not-confirmed")
			continue
		}
		record.Uploaded++
		doneBytes += file.size
		o.writeProgress(folder, doneBytes, totalBytes)
	}

	o.finish(folder, caseName, labels, studyUID, record, progress)
}

// finish publishes the result record and, on a clean run, marks the
// folder complete and applies the PACS labels.
func (o *Uploader) finish(folder, caseName string, labels []string, studyUID string, record uploadRecord, progress *mpb.Progress) {
	if progress != nil {
		progress.Wait()
	}

	body, _ := json.Marshal(record)
	if record.Failed > 0 {
		o.Sink.LogColor(fmt.Sprintf("Upload result for %s: %s", caseName, string(body)), sinkSource, "red")
		return
	}
	if err := os.WriteFile(filepath.Join(folder, sentinelProgress), []byte("100"), 0644); err != nil {
		o.Log.Warn(uploaderPrefix+"write progress %s: %v", folder, err)
	}
	o.Sink.LogColor(fmt.Sprintf("Upload result for %s: %s", caseName, string(body)), sinkSource, "green")

	if studyUID == "" {
		o.Log.Warn(uploaderPrefix+"no study uid found in %s, skipping labels", folder)
		return
	}
	for _, label := range labels {
		o.Client.AddLabel(context.Background(), studyUID, label)
	}
}

func (o *Uploader) release(key string) {
	o.mu.Lock()
	delete(o.inFlight, key)
	o.mu.Unlock()
}

func (o *Uploader) writeSentinels(folder string) error {
	stamp := time.Now().Format(sentinelTimeFormat)
	if err := os.WriteFile(filepath.Join(folder, sentinelUploading), []byte(stamp), 0644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(folder, sentinelProgress), []byte("0"), 0644)
}

func (o *Uploader) writeProgress(folder string, done, total int64) {
	if total <= 0 {
		return
	}
	pct := int(done * 100 / total)
	if pct > 100 {
		pct = 100
	}
	err := os.WriteFile(filepath.Join(folder, sentinelProgress), []byte(strconv.Itoa(pct)), 0644)
	if err != nil {
		o.Log.Trace(uploaderPrefix+"write progress %s: %v", folder, err)
	}
}

// cleanupArtifacts removes both sentinels and the scratch dir, on
// every exit path. Whether a folder is fully uploaded is answered by
// the archive, not by leftover state on disk.
func (o *Uploader) cleanupArtifacts(folder string) {
	os.Remove(filepath.Join(folder, sentinelUploading))
	os.Remove(filepath.Join(folder, sentinelProgress))
	if err := os.RemoveAll(filepath.Join(folder, tempDirName)); err != nil {
		o.Log.Warn(uploaderPrefix+"cleanup temp %s: %v", folder, err)
	}
}

type uploadFile struct {
	path string
	size int64
}

// enumerate lists the .dcm instances of the folder in name order,
// skipping the sentinels and the temp scratch dir.
func enumerate(folder string) ([]uploadFile, int64, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, 0, err
	}
	files := []uploadFile{}
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".pacs") {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), ".dcm") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, uploadFile{path: filepath.Join(folder, name), size: info.Size()})
		total += info.Size()
	}
	return files, total, nil
}

// instanceUIDs reads the identifying UIDs from the instance header.
// Unreadable files yield empty strings and are uploaded blind.
func instanceUIDs(path string) (sop, series, study string) {
	ds, err := dcm.ParseHeader(path)
	if err != nil {
		return "", "", ""
	}
	sop, _ = dcm.String(ds, tag.SOPInstanceUID)
	series, _ = dcm.String(ds, tag.SeriesInstanceUID)
	study, _ = dcm.String(ds, tag.StudyInstanceUID)
	return sop, series, study
}

// stageTemp copies the instance into the scratch dir, suffixing the
// name with an epoch stamp when the destination is already taken.
func stageTemp(src, tempDir string) (string, error) {
	dest := filepath.Join(tempDir, filepath.Base(src))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(src)
		base := strings.TrimSuffix(filepath.Base(src), ext)
		dest = filepath.Join(tempDir, fmt.Sprintf("%s_%d%s", base, time.Now().UnixMilli(), ext))
	}
	if err := cp.Copy(src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func canonicalKey(folder string) (string, error) {
	abs, err := filepath.Abs(folder)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

func readProgress(folder string) int {
	data, err := os.ReadFile(filepath.Join(folder, sentinelProgress))
	if err != nil {
		return 0
	}
	pct, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pct
}
