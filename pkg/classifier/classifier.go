package classifier

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	cp "github.com/otiai10/copy"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/dcm"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
)

const (
	classifierPrefix = "[Classifier] "
	onDemandDirName  = "ondemand 3d"
	romexisDirName   = "planmeca romexis"
	romexisMarker    = "ROMEXIS"
)

var (
	excludedNames = map[string]struct{}{
		"cbct":       {},
		"new folder": {},
	}
	imageExtensions = map[string]struct{}{
		".jpg":  {},
		".jpeg": {},
		".png":  {},
		".tif":  {},
		".tiff": {},
	}
)

type ClassifierInterface interface {
	IsCase(casePath string) bool
	Classify(casePath string, dicomsMirrorDir string) CaseContents
}

type Classifier struct {
	Log clog.PluggableLoggerInterface
}

func New(log clog.PluggableLoggerInterface) Classifier {
	return Classifier{Log: log}
}

// IsCase applies the eligibility gate: the folder name must contain a
// space, must not be in the exclusion set, and the folder must not be
// empty.
func (o Classifier) IsCase(casePath string) bool {
	name := strings.ToLower(filepath.Base(casePath))
	if _, excluded := excludedNames[name]; excluded {
		return false
	}
	if !strings.Contains(name, " ") {
		return false
	}
	entries, err := os.ReadDir(casePath)
	if err != nil || len(entries) == 0 {
		return false
	}
	return true
}

// Classify walks a case folder twice: once for attachments (PDFs and
// raster images, not descending into the vendor subtrees) and once for
// DICOM instances (descending everywhere). Ineligible folders yield an
// empty result. Per file failures are logged and the walk continues.
func (o Classifier) Classify(casePath string, dicomsMirrorDir string) CaseContents {
	contents := CaseContents{
		CaseName:    filepath.Base(casePath),
		MultiSeries: map[string][]string{},
		SopSeen:     map[string]struct{}{},
	}
	if !o.IsCase(casePath) {
		return contents
	}

	o.walkAttachments(casePath, &contents)
	o.walkDicoms(casePath, dicomsMirrorDir, &contents)
	return contents
}

func (o Classifier) walkAttachments(casePath string, contents *CaseContents) {
	err := filepath.WalkDir(casePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			o.Log.Warn(classifierPrefix+"attachment walk %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			name := strings.ToLower(d.Name())
			if path != casePath && (name == onDemandDirName || name == romexisDirName) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		switch ext := strings.ToLower(filepath.Ext(path)); {
		case ext == ".pdf":
			contents.PDFFiles = append(contents.PDFFiles, path)
		default:
			if _, ok := imageExtensions[ext]; ok {
				contents.ImageFiles = append(contents.ImageFiles, path)
			}
		}
		return nil
	})
	if err != nil {
		o.Log.Warn(classifierPrefix+"attachment walk %s: %v", casePath, err)
	}
}

func (o Classifier) walkDicoms(casePath string, dicomsMirrorDir string, contents *CaseContents) {
	err := filepath.WalkDir(casePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			o.Log.Warn(classifierPrefix+"dicom walk %s: %v", path, err)
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !dcm.IsDICOM(path) {
			return nil
		}

		ds, err := dcm.ParseHeader(path)
		if err != nil {
			o.Log.Warn(classifierPrefix+"unreadable dicom %s: %v", path, err)
			return nil
		}

		if sop, ok := dcm.String(ds, tag.SOPInstanceUID); ok && sop != "" {
			if _, seen := contents.SopSeen[sop]; seen {
				o.Log.Trace(classifierPrefix+"duplicate SOPInstanceUID %s at %s", sop, path)
				return nil
			}
			contents.SopSeen[sop] = struct{}{}
		}

		if contents.StudyInfo == nil {
			info := dcm.ReadStudyInfo(ds)
			contents.StudyInfo = &info
		}
		if !contents.Romexis {
			if impl, ok := dcm.String(ds, tag.ImplementationVersionName); ok {
				if strings.Contains(strings.ToUpper(impl), romexisMarker) {
					contents.Romexis = true
				}
			}
		}

		o.bucket(path, ds, contents)

		if dicomsMirrorDir != "" {
			if err := mirrorCopy(path, filepath.Join(dicomsMirrorDir, filepath.Base(path))); err != nil {
				o.Log.Warn(classifierPrefix+"mirror copy %s: %v", path, err)
			}
		}
		return nil
	})
	if err != nil {
		o.Log.Warn(classifierPrefix+"dicom walk %s: %v", casePath, err)
	}
}

func (o Classifier) bucket(path string, ds dicom.Dataset, contents *CaseContents) {
	frames, framesPresent := dcm.Int(ds, tag.NumberOfFrames)
	modality, _ := dcm.String(ds, tag.Modality)
	isCT := strings.EqualFold(modality, "CT")
	fromOnDemand := strings.Contains(strings.ToLower(path), onDemandDirName)

	switch {
	case framesPresent && frames > 1 && isCT && fromOnDemand:
		contents.SingleDicomFiles = append(contents.SingleDicomFiles, path)
	case framesPresent && frames == 1 && isCT && fromOnDemand:
		contents.ProjectFiles = append(contents.ProjectFiles, path)
	case framesPresent:
		// framed but outside the ondemand 3d gates: no bucket
	case !isCT:
		// absent Modality counts as "not CT"
		contents.TwoDDicomFiles = append(contents.TwoDDicomFiles, path)
	default:
		series, ok := dcm.String(ds, tag.SeriesInstanceUID)
		if !ok || series == "" {
			series = "unknown-" + contents.CaseName
		}
		contents.MultiSeries[series] = append(contents.MultiSeries[series], path)
	}
}

// mirrorCopy copies src to dest unless a file of the same size is
// already there.
func mirrorCopy(src, dest string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if destInfo, err := os.Stat(dest); err == nil && destInfo.Size() == srcInfo.Size() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return cp.Copy(src, dest)
}
