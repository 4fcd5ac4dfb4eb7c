package classifier

import (
	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/dcm"
)

// CaseContents is the partition of one case folder into semantic
// buckets. A DICOM file lands in at most one bucket and a SOP UID
// appears at most once across all of them.
type CaseContents struct {
	CaseName         string
	PDFFiles         []string
	ImageFiles       []string
	SingleDicomFiles []string            // multi frame CT under ondemand 3d
	ProjectFiles     []string            // single frame CT under ondemand 3d
	TwoDDicomFiles   []string            // frameless, non CT
	MultiSeries      map[string][]string // frameless CT by SeriesInstanceUID
	SopSeen          map[string]struct{}
	StudyInfo        *dcm.StudyInfo
	Romexis          bool
}

func (c CaseContents) IsEmpty() bool {
	return len(c.PDFFiles) == 0 &&
		len(c.ImageFiles) == 0 &&
		len(c.SingleDicomFiles) == 0 &&
		len(c.ProjectFiles) == 0 &&
		len(c.TwoDDicomFiles) == 0 &&
		len(c.MultiSeries) == 0
}

// HasDicoms reports whether any DICOM bucket is populated.
func (c CaseContents) HasDicoms() bool {
	return len(c.SingleDicomFiles) > 0 ||
		len(c.ProjectFiles) > 0 ||
		len(c.TwoDDicomFiles) > 0 ||
		len(c.MultiSeries) > 0
}
