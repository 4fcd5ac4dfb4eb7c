package dcm

import (
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// StudyInfo holds the study identifying tags of the first DICOM found
// in a case. Absent tags stay empty, never an error.
type StudyInfo struct {
	StudyInstanceUID       string
	StudyDate              string
	StudyTime              string
	StudyID                string
	AccessionNumber        string
	ReferringPhysicianName string
	PatientName            string
	PatientID              string
	PatientBirthDate       string
	PatientSex             string
}

// IsDICOM probes the file magic: a 128 byte preamble followed by "DICM".
// Cheap enough to run on every file in the walk.
func IsDICOM(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	header := make([]byte, 132)
	if _, err := f.ReadAt(header, 0); err != nil {
		return false
	}
	return string(header[128:132]) == "DICM"
}

// ParseHeader reads only the non pixel metadata of a DICOM file.
func ParseHeader(path string) (dicom.Dataset, error) {
	return dicom.ParseFile(path, nil, dicom.SkipPixelData())
}

// ParseFull reads the whole dataset but leaves the pixel payload as raw
// bytes so it round trips byte exact through a write.
func ParseFull(path string) (dicom.Dataset, error) {
	return dicom.ParseFile(path, nil, dicom.SkipProcessingPixelDataValue())
}

// String returns the first string value of a tag, trimmed of the padding
// DICOM string values carry.
func String(ds dicom.Dataset, t tag.Tag) (string, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil {
		return "", false
	}
	vals, ok := el.Value.GetValue().([]string)
	if !ok || len(vals) == 0 {
		return "", false
	}
	return strings.TrimSpace(vals[0]), true
}

// Int returns the first integer value of a tag, accepting both binary
// (US/UL) and string (IS) representations.
func Int(ds dicom.Dataset, t tag.Tag) (int, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil {
		return 0, false
	}
	switch vals := el.Value.GetValue().(type) {
	case []int:
		if len(vals) > 0 {
			return vals[0], true
		}
	case []string:
		if len(vals) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(vals[0]))
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// ReadStudyInfo extracts the study identifying tags from a dataset.
func ReadStudyInfo(ds dicom.Dataset) StudyInfo {
	info := StudyInfo{}
	info.StudyInstanceUID, _ = String(ds, tag.StudyInstanceUID)
	info.StudyDate, _ = String(ds, tag.StudyDate)
	info.StudyTime, _ = String(ds, tag.StudyTime)
	info.StudyID, _ = String(ds, tag.StudyID)
	info.AccessionNumber, _ = String(ds, tag.AccessionNumber)
	info.ReferringPhysicianName, _ = String(ds, tag.ReferringPhysicianName)
	info.PatientName, _ = String(ds, tag.PatientName)
	info.PatientID, _ = String(ds, tag.PatientID)
	info.PatientBirthDate, _ = String(ds, tag.PatientBirthDate)
	info.PatientSex, _ = String(ds, tag.PatientSex)
	return info
}
