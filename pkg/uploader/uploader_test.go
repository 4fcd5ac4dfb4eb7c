package uploader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/common"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/config"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/dcm"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
)

type fakeClient struct {
	mu         sync.Mutex
	existing   map[string]bool
	uploads    []string
	labels     []string
	confirmOK  bool
	failUpload bool
	block      chan struct{}
}

func (f *fakeClient) Exists(ctx context.Context, sopUID, seriesUID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[sopUID]
}

func (f *fakeClient) ConfirmUploaded(ctx context.Context, sopUID, seriesUID string) bool {
	return f.confirmOK
}

func (f *fakeClient) Upload(ctx context.Context, path string, progress func(sent, total int64)) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpload {
		return os.ErrInvalid
	}
	f.uploads = append(f.uploads, path)
	if progress != nil {
		if info, err := os.Stat(path); err == nil {
			progress(info.Size(), info.Size())
		}
	}
	return nil
}

func (f *fakeClient) AddLabel(ctx context.Context, studyUID, label string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, label)
	return true
}

type fakeSink struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeSink) Log(message, source string) { f.LogColor(message, source, "") }
func (f *fakeSink) LogColor(message, source, color string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeSink) contains(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func testConfig() config.Static {
	return config.Static{Cfg: config.ServiceConfig{PacsBaseURL: "https://pacs.example.com"}}
}

// writeInstance drops a real DICOM into the Orthanc folder and returns
// its SOPInstanceUID.
func writeInstance(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	pdf := filepath.Join(t.TempDir(), "seed.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4 seed"), 0644))

	tr := dcm.New(clog.New("error"), config.Static{})
	tr.Now = func() time.Time { return time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC) }
	dest := filepath.Join(dir, name)
	require.NoError(t, tr.EncapsulatePDF(pdf, dest, "John Smith", nil))

	ds, err := dcm.ParseHeader(dest)
	require.NoError(t, err)
	sop, _ := dcm.String(ds, tag.SOPInstanceUID)
	return sop
}

func newTestUploader(client *fakeClient, sink *fakeSink) *Uploader {
	return New(clog.New("error"), testConfig(), client, sink, common.AgentOptions{})
}

func TestUploadFolder(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "John Smith", "Orthanc")
	writeInstance(t, folder, "report PDF.dcm")
	writeInstance(t, folder, "scan DCM .dcm")

	client := &fakeClient{confirmOK: true, existing: map[string]bool{}}
	sink := &fakeSink{}
	upl := newTestUploader(client, sink)

	res := upl.UploadFolderAsync(context.Background(), folder, []string{"PDF", "2D-DICOM"})
	require.True(t, res.Started)
	upl.Wait()

	client.mu.Lock()
	assert.Len(t, client.uploads, 2)
	assert.Equal(t, []string{"PDF", "2D-DICOM"}, client.labels)
	client.mu.Unlock()

	// uploads always go through the scratch copy
	for _, p := range client.uploads {
		assert.Contains(t, p, string(filepath.Separator)+"temp"+string(filepath.Separator))
	}

	// every artifact is gone after a clean run
	for _, name := range []string{".pacs_uploading", ".pacs_progress", "temp"} {
		_, err := os.Stat(filepath.Join(folder, name))
		assert.True(t, os.IsNotExist(err), name)
	}
	assert.True(t, sink.contains(`"uploaded":2`))
}

func TestRefusesConcurrentUpload(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "John Smith", "Orthanc")
	writeInstance(t, folder, "report PDF.dcm")

	client := &fakeClient{confirmOK: true, existing: map[string]bool{}, block: make(chan struct{})}
	upl := newTestUploader(client, &fakeSink{})

	first := upl.UploadFolderAsync(context.Background(), folder, nil)
	require.True(t, first.Started)

	second := upl.UploadFolderAsync(context.Background(), folder, nil)
	assert.False(t, second.Started)
	assert.Equal(t, "upload already in progress", second.Reason)

	close(client.block)
	upl.Wait()
}

func TestRefusesWithoutBaseURL(t *testing.T) {
	upl := New(clog.New("error"), config.Static{}, &fakeClient{}, &fakeSink{}, common.AgentOptions{})
	res := upl.UploadFolderAsync(context.Background(), t.TempDir(), nil)
	assert.False(t, res.Started)
	assert.Contains(t, res.Reason, "not configured")
}

func TestSkipsArchivedInstances(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "John Smith", "Orthanc")
	sop := writeInstance(t, folder, "report PDF.dcm")

	client := &fakeClient{confirmOK: true, existing: map[string]bool{sop: true}}
	sink := &fakeSink{}
	upl := newTestUploader(client, sink)

	res := upl.UploadFolderAsync(context.Background(), folder, []string{"PDF"})
	require.True(t, res.Started)
	upl.Wait()

	client.mu.Lock()
	assert.Empty(t, client.uploads)
	// labels still apply, the study is complete in the archive
	assert.Equal(t, []string{"PDF"}, client.labels)
	client.mu.Unlock()
	assert.True(t, sink.contains(`"uploaded":1`))
}

func TestStaleSentinelRecovery(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "John Smith", "Orthanc")
	writeInstance(t, folder, "report PDF.dcm")
	require.NoError(t, os.WriteFile(filepath.Join(folder, ".pacs_uploading"), []byte("2025-06-14 23:59:01"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, ".pacs_progress"), []byte("42"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(folder, "temp"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "temp", "leftover.dcm"), []byte("junk"), 0644))

	client := &fakeClient{confirmOK: true, existing: map[string]bool{}}
	sink := &fakeSink{}
	upl := newTestUploader(client, sink)

	res := upl.UploadFolderAsync(context.Background(), folder, nil)
	require.True(t, res.Started)
	upl.Wait()

	assert.True(t, sink.contains("was at 42%"))
	client.mu.Lock()
	assert.Len(t, client.uploads, 1)
	client.mu.Unlock()
	for _, name := range []string{".pacs_uploading", ".pacs_progress", "temp"} {
		_, err := os.Stat(filepath.Join(folder, name))
		assert.True(t, os.IsNotExist(err), name)
	}
}

func TestFailedUploadLeavesNoCompletionMarker(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "John Smith", "Orthanc")
	writeInstance(t, folder, "report PDF.dcm")

	client := &fakeClient{failUpload: true, existing: map[string]bool{}}
	sink := &fakeSink{}
	upl := newTestUploader(client, sink)

	res := upl.UploadFolderAsync(context.Background(), folder, nil)
	require.True(t, res.Started)
	upl.Wait()

	assert.True(t, sink.contains(`"failed":1`))
	client.mu.Lock()
	assert.Empty(t, client.labels)
	client.mu.Unlock()
}

func TestUnconfirmedUploadCountsAsFailure(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "John Smith", "Orthanc")
	writeInstance(t, folder, "report PDF.dcm")

	client := &fakeClient{confirmOK: false, existing: map[string]bool{}}
	sink := &fakeSink{}
	upl := newTestUploader(client, sink)

	res := upl.UploadFolderAsync(context.Background(), folder, nil)
	require.True(t, res.Started)
	upl.Wait()

	client.mu.Lock()
	assert.Empty(t, client.labels)
	client.mu.Unlock()
	assert.True(t, sink.contains("upload-not-confirmed"))
}
