package classifier

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/config"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/dcm"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
)

const ctImageStorage = "1.2.840.10008.5.1.4.1.1.2"

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("placeholder"), 0644))
}

// writeTestDicom emits a real frameless instance into the case folder.
func writeTestDicom(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	pdf := filepath.Join(t.TempDir(), "seed.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4 seed"), 0644))

	tr := dcm.New(clog.New("error"), config.Static{})
	tr.Now = func() time.Time { return time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC) }
	dest := filepath.Join(dir, name)
	require.NoError(t, tr.EncapsulatePDF(pdf, dest, "John Smith", nil))
	return dest
}

// writeCTInstance builds a CT instance with direct control over the
// frame count, the series and the authoring implementation.
func writeCTInstance(t *testing.T, dir, name, impl, seriesUID string, frames int) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	sop := dcm.NewUID()
	el := func(tg tag.Tag, value interface{}) *dicom.Element {
		e, err := dicom.NewElement(tg, value)
		require.NoError(t, err)
		return e
	}
	elems := []*dicom.Element{
		el(tag.FileMetaInformationVersion, []byte{0x00, 0x01}),
		el(tag.MediaStorageSOPClassUID, []string{ctImageStorage}),
		el(tag.MediaStorageSOPInstanceUID, []string{sop}),
		el(tag.TransferSyntaxUID, []string{dcm.ExplicitVRLittleEndian}),
		el(tag.ImplementationVersionName, []string{impl}),
		el(tag.SOPClassUID, []string{ctImageStorage}),
		el(tag.SOPInstanceUID, []string{sop}),
		el(tag.Modality, []string{"CT"}),
		el(tag.StudyInstanceUID, []string{"1.2.3.100"}),
		el(tag.SeriesInstanceUID, []string{seriesUID}),
	}
	if frames > 0 {
		elems = append(elems, el(tag.NumberOfFrames, []string{strconv.Itoa(frames)}))
	}
	dest := filepath.Join(dir, name)
	f, err := os.Create(dest)
	require.NoError(t, err)
	require.NoError(t, dicom.Write(f, dicom.Dataset{Elements: elems}))
	require.NoError(t, f.Close())
	return dest
}

func TestIsCase(t *testing.T) {
	base := t.TempDir()

	eligible := filepath.Join(base, "John Smith")
	touch(t, filepath.Join(eligible, "scan.dcm"))
	assert.True(t, New(clog.New("error")).IsCase(eligible))

	noSpace := filepath.Join(base, "JohnSmith")
	touch(t, filepath.Join(noSpace, "scan.dcm"))
	assert.False(t, New(clog.New("error")).IsCase(noSpace))

	excluded := filepath.Join(base, "New Folder")
	touch(t, filepath.Join(excluded, "scan.dcm"))
	assert.False(t, New(clog.New("error")).IsCase(excluded))

	empty := filepath.Join(base, "Jane Doe")
	require.NoError(t, os.MkdirAll(empty, 0755))
	assert.False(t, New(clog.New("error")).IsCase(empty))

	assert.False(t, New(clog.New("error")).IsCase(filepath.Join(base, "No Such")))
}

func TestClassifyAttachments(t *testing.T) {
	base := t.TempDir()
	casePath := filepath.Join(base, "John Smith")
	touch(t, filepath.Join(casePath, "report.pdf"))
	touch(t, filepath.Join(casePath, "photo.JPG"))
	touch(t, filepath.Join(casePath, "xray.tiff"))
	touch(t, filepath.Join(casePath, "notes.txt"))
	// vendor subtrees are not attachment territory
	touch(t, filepath.Join(casePath, "OnDemand 3D", "export.pdf"))
	touch(t, filepath.Join(casePath, "Planmeca Romexis", "shot.png"))

	contents := New(clog.New("error")).Classify(casePath, "")
	assert.Len(t, contents.PDFFiles, 1)
	assert.Len(t, contents.ImageFiles, 2)
	assert.Equal(t, "John Smith", contents.CaseName)
}

func TestClassifyDicomsAndDedup(t *testing.T) {
	base := t.TempDir()
	casePath := filepath.Join(base, "John Smith")
	first := writeTestDicom(t, casePath, "scan.dcm")

	// same instance again under another name, must be deduplicated
	raw, err := os.ReadFile(first)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(casePath, "scan copy.dcm"), raw, 0644))

	mirror := filepath.Join(base, "mirror")
	contents := New(clog.New("error")).Classify(casePath, mirror)

	// frameless, non CT instances land in the 2D bucket
	assert.Len(t, contents.TwoDDicomFiles, 1)
	assert.Empty(t, contents.SingleDicomFiles)
	assert.Empty(t, contents.ProjectFiles)
	assert.Empty(t, contents.MultiSeries)

	require.NotNil(t, contents.StudyInfo)
	assert.Equal(t, "John Smith", contents.StudyInfo.PatientName)
	assert.False(t, contents.Romexis)

	// the mirror receives the instance that was bucketed
	entries, err := os.ReadDir(mirror)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestClassifyOnDemandVolumesAndProjects(t *testing.T) {
	base := t.TempDir()
	casePath := filepath.Join(base, "John Smith")
	od := filepath.Join(casePath, "OnDemand 3D")
	volume := writeCTInstance(t, od, "volume.dcm", "OD3D_5", dcm.NewUID(), 120)
	project := writeCTInstance(t, od, "project.dcm", "OD3D_5", dcm.NewUID(), 1)

	contents := New(clog.New("error")).Classify(casePath, "")
	assert.Equal(t, []string{volume}, contents.SingleDicomFiles)
	assert.Equal(t, []string{project}, contents.ProjectFiles)
	assert.Empty(t, contents.MultiSeries)
	assert.Empty(t, contents.TwoDDicomFiles)
	assert.True(t, contents.HasDicoms())
}

func TestClassifyFramelessCTGroupsBySeries(t *testing.T) {
	base := t.TempDir()
	casePath := filepath.Join(base, "John Smith")
	series := "1.2.3.200"
	first := writeCTInstance(t, casePath, "slice1.dcm", "GENERIC_1", series, 0)
	second := writeCTInstance(t, casePath, "slice2.dcm", "GENERIC_1", series, 0)

	contents := New(clog.New("error")).Classify(casePath, "")
	require.Len(t, contents.MultiSeries, 1)
	assert.ElementsMatch(t, []string{first, second}, contents.MultiSeries[series])
	assert.Empty(t, contents.SingleDicomFiles)
	assert.Empty(t, contents.ProjectFiles)
	assert.Empty(t, contents.TwoDDicomFiles)
	assert.False(t, contents.Romexis)
}

func TestClassifyDetectsRomexis(t *testing.T) {
	base := t.TempDir()
	casePath := filepath.Join(base, "John Smith")
	writeCTInstance(t, casePath, "slice.dcm", "ROMEXIS_10", "1.2.3.300", 0)

	contents := New(clog.New("error")).Classify(casePath, "")
	assert.True(t, contents.Romexis)
}

func TestClassifyFramedOutsideOnDemand(t *testing.T) {
	base := t.TempDir()
	casePath := filepath.Join(base, "John Smith")
	// framed CT at the case root matches none of the 3D gates
	writeCTInstance(t, casePath, "cine.dcm", "GENERIC_1", "1.2.3.400", 16)

	contents := New(clog.New("error")).Classify(casePath, "")
	assert.False(t, contents.HasDicoms())
	assert.Empty(t, contents.SingleDicomFiles)
	assert.Empty(t, contents.ProjectFiles)
	assert.Empty(t, contents.MultiSeries)
	assert.Empty(t, contents.TwoDDicomFiles)
}

func TestClassifyIneligibleFolder(t *testing.T) {
	base := t.TempDir()
	noSpace := filepath.Join(base, "JohnSmith")
	touch(t, filepath.Join(noSpace, "report.pdf"))

	contents := New(clog.New("error")).Classify(noSpace, "")
	assert.True(t, contents.IsEmpty())
	assert.False(t, contents.HasDicoms())
}
