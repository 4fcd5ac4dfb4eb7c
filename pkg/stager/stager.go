package stager

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	cp "github.com/otiai10/copy"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/classifier"
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/dcm"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
)

const (
	stagerPrefix = "[Stager] "

	AttachmentsDir = "Attachments"
	DicomsDir      = "Dicoms"
	OrthancDir     = "Orthanc"

	Label3D    = "3D-DICOM"
	LabelOD3D  = "OD3D"
	Label2D    = "2D-DICOM"
	LabelPDF   = "PDF"
	LabelImage = "Image"
)

// StagerInterface materializes the per case output tree. Stage returns
// the PACS labels accumulated for the eventual labeling step.
type StagerInterface interface {
	CaseDirs(stagingRoot, caseName string) (CaseDirs, error)
	Stage(contents classifier.CaseContents, dirs CaseDirs) []string
}

type CaseDirs struct {
	Attachments string
	Dicoms      string
	Orthanc     string
}

type Stager struct {
	Log         clog.PluggableLoggerInterface
	Transformer dcm.TransformerInterface
}

func New(log clog.PluggableLoggerInterface, transformer dcm.TransformerInterface) Stager {
	return Stager{Log: log, Transformer: transformer}
}

// CaseDirs creates (idempotently) the Attachments/Dicoms/Orthanc tree
// for one case under the day's staging root.
func (o Stager) CaseDirs(stagingRoot, caseName string) (CaseDirs, error) {
	base := filepath.Join(stagingRoot, caseName)
	dirs := CaseDirs{
		Attachments: filepath.Join(base, AttachmentsDir),
		Dicoms:      filepath.Join(base, DicomsDir),
		Orthanc:     filepath.Join(base, OrthancDir),
	}
	for _, dir := range []string{dirs.Attachments, dirs.Dicoms, dirs.Orthanc} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return CaseDirs{}, fmt.Errorf("setup case dir (%s) %v ", dir, err)
		}
	}
	return dirs, nil
}

// Stage fills Attachments/ with verbatim copies and Orthanc/ with the
// normalized instances the uploader reads. Existing Orthanc outputs are
// never rewritten; attachment copies use a size equality fast path.
// Per file failures are logged and staging continues.
func (o Stager) Stage(contents classifier.CaseContents, dirs CaseDirs) []string {
	labels := []string{}

	for _, src := range append(append([]string{}, contents.PDFFiles...), contents.ImageFiles...) {
		dest := filepath.Join(dirs.Attachments, filepath.Base(src))
		if err := copyAttachment(src, dest); err != nil {
			o.Log.Warn(stagerPrefix+"attachment %s: %v", src, err)
		}
	}

	switch {
	case len(contents.SingleDicomFiles) > 0 && contents.Romexis:
		for _, src := range contents.SingleDicomFiles {
			o.emitCopy(src, dirs.Orthanc, false)
		}
		labels = append(labels, Label3D)
	case len(contents.SingleDicomFiles) > 0:
		for _, src := range contents.SingleDicomFiles {
			o.emitCopy(src, dirs.Orthanc, true)
		}
		labels = append(labels, Label3D)
	case len(contents.MultiSeries) > 0:
		if o.emitFused(contents, dirs.Orthanc) {
			labels = append(labels, Label3D)
		}
	}

	if len(contents.ProjectFiles) > 0 {
		for _, src := range contents.ProjectFiles {
			o.emitCopy(src, dirs.Orthanc, false)
		}
		labels = append(labels, LabelOD3D)
	}
	if len(contents.TwoDDicomFiles) > 0 {
		for _, src := range contents.TwoDDicomFiles {
			o.emitCopy(src, dirs.Orthanc, false)
		}
		labels = append(labels, Label2D)
	}

	if len(contents.PDFFiles) > 0 {
		for _, src := range contents.PDFFiles {
			dest := filepath.Join(dirs.Orthanc, stem(src)+" PDF.dcm")
			if exists(dest) {
				continue
			}
			if err := o.Transformer.EncapsulatePDF(src, dest, contents.CaseName, contents.StudyInfo); err != nil {
				o.Log.Warn(stagerPrefix+"encapsulate %s: %v", src, err)
			}
		}
		labels = append(labels, LabelPDF)
	}
	if len(contents.ImageFiles) > 0 {
		for _, src := range contents.ImageFiles {
			dest := filepath.Join(dirs.Orthanc, stem(src)+" IMG.dcm")
			if exists(dest) {
				continue
			}
			if err := o.Transformer.SecondaryCapture(src, dest, contents.CaseName, contents.StudyInfo); err != nil {
				o.Log.Warn(stagerPrefix+"secondary capture %s: %v", src, err)
			}
		}
		labels = append(labels, LabelImage)
	}

	return labels
}

func (o Stager) emitCopy(src, orthancDir string, spoofRomexis bool) {
	dest := filepath.Join(orthancDir, fmt.Sprintf("%s DCM %s", stem(src), filepath.Ext(src)))
	if exists(dest) {
		return
	}
	if err := o.Transformer.CopyWithTagRewrite(src, dest, spoofRomexis); err != nil {
		o.Log.Warn(stagerPrefix+"copy rewrite %s: %v", src, err)
	}
}

// emitFused picks the series with the most files and fuses it into a
// single multi frame instance named after the case.
func (o Stager) emitFused(contents classifier.CaseContents, orthancDir string) bool {
	keys := make([]string, 0, len(contents.MultiSeries))
	for k := range contents.MultiSeries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best := ""
	for _, k := range keys {
		if best == "" || len(contents.MultiSeries[k]) > len(contents.MultiSeries[best]) {
			best = k
		}
	}
	if best == "" {
		return false
	}
	dest := filepath.Join(orthancDir, contents.CaseName+" DCM.dcm")
	if exists(dest) {
		return true
	}
	if err := o.Transformer.FuseSeries(contents.MultiSeries[best], dest); err != nil {
		o.Log.Warn(stagerPrefix+"fuse series %s: %v", best, err)
		return false
	}
	return true
}

func copyAttachment(src, dest string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if destInfo, err := os.Stat(dest); err == nil && destInfo.Size() == srcInfo.Size() {
		return nil
	}
	return cp.Copy(src, dest)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
