package dcm

import (
	"fmt"
	"image"
	"os"
	"sort"
	"strconv"
	"time"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"

	"github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/config"
	clog "github.com/lmzuccarelli/golang-dental-pacs-agent/pkg/log"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// TransformerInterface - the DICOM producing operations of the pipeline.
// Every operation emits a single file in Explicit VR Little Endian with
// a fresh SOPInstanceUID (unless the input provides one) and the
// configured InstitutionName.
type TransformerInterface interface {
	EncapsulatePDF(pdfPath, destPath, caseName string, info *StudyInfo) error
	SecondaryCapture(imagePath, destPath, caseName string, info *StudyInfo) error
	FuseSeries(paths []string, destPath string) error
	CopyWithTagRewrite(srcPath, destPath string, spoofRomexis bool) error
}

type Transformer struct {
	Log    clog.PluggableLoggerInterface
	Config config.AccessorInterface
	Now    func() time.Time
}

func New(log clog.PluggableLoggerInterface, cfg config.AccessorInterface) Transformer {
	return Transformer{Log: log, Config: cfg, Now: time.Now}
}

// EncapsulatePDF wraps a PDF document in an EncapsulatedPDFStorage
// instance carrying the study identifying tags of the case.
func (o Transformer) EncapsulatePDF(pdfPath, destPath, caseName string, info *StudyInfo) error {
	raw, err := os.ReadFile(pdfPath)
	if err != nil {
		return fmt.Errorf("read pdf %s: %w", pdfPath, err)
	}
	payload := padEven(raw)

	now := o.Now()
	sopUID := NewUID()
	b := newBuilder()
	b.add(tag.FileMetaInformationVersion, []byte{0x00, 0x01})
	b.add(tag.MediaStorageSOPClassUID, []string{EncapsulatedPDFStorage})
	b.add(tag.MediaStorageSOPInstanceUID, []string{sopUID})
	b.add(tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian})
	b.add(tag.ImplementationClassUID, []string{implementationClassUID})
	b.add(tag.ImplementationVersionName, []string{implementationVersion})

	b.add(tag.SOPClassUID, []string{EncapsulatedPDFStorage})
	b.add(tag.SOPInstanceUID, []string{sopUID})
	b.add(tag.ContentDate, []string{now.Format(dateFormat)})
	b.add(tag.ContentTime, []string{now.Format(timeFormat)})
	b.add(tag.Modality, []string{"DOC"})
	o.addInstitution(b)
	b.addStudy(info, caseName, now)
	b.add(tag.SeriesInstanceUID, []string{NewUID()})
	b.add(tag.SeriesNumber, []string{"1"})
	b.add(tag.InstanceNumber, []string{"1"})
	b.add(tag.MIMETypeOfEncapsulatedDocument, []string{"application/pdf"})
	// EncapsulatedDocumentLength records the unpadded byte count
	b.addUL(tag.Tag{Group: 0x0042, Element: 0x0015}, len(raw))
	b.add(tag.EncapsulatedDocument, payload)

	ds, err := b.dataset()
	if err != nil {
		return err
	}
	return writeFile(destPath, ds)
}

// SecondaryCapture converts a raster image into a 24 bit RGB
// SecondaryCaptureImageStorage instance.
func (o Transformer) SecondaryCapture(imagePath, destPath, caseName string, info *StudyInfo) error {
	rows, cols, rgb, err := decodeRGB(imagePath)
	if err != nil {
		return fmt.Errorf("decode image %s: %w", imagePath, err)
	}

	now := o.Now()
	sopUID := NewUID()
	b := newBuilder()
	b.add(tag.FileMetaInformationVersion, []byte{0x00, 0x01})
	b.add(tag.MediaStorageSOPClassUID, []string{SecondaryCaptureImageStorage})
	b.add(tag.MediaStorageSOPInstanceUID, []string{sopUID})
	b.add(tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian})
	b.add(tag.ImplementationClassUID, []string{implementationClassUID})
	b.add(tag.ImplementationVersionName, []string{implementationVersion})

	b.add(tag.SOPClassUID, []string{SecondaryCaptureImageStorage})
	b.add(tag.SOPInstanceUID, []string{sopUID})
	b.add(tag.ContentDate, []string{now.Format(dateFormat)})
	b.add(tag.ContentTime, []string{now.Format(timeFormat)})
	b.add(tag.Modality, []string{"SC"})
	b.add(tag.ConversionType, []string{"WSD"})
	o.addInstitution(b)
	b.addStudy(info, caseName, now)
	b.add(tag.SeriesInstanceUID, []string{NewUID()})
	b.add(tag.SeriesNumber, []string{"1"})
	b.add(tag.InstanceNumber, []string{"1"})
	b.add(tag.SamplesPerPixel, []int{3})
	b.add(tag.PhotometricInterpretation, []string{"RGB"})
	b.add(tag.PlanarConfiguration, []int{0})
	b.add(tag.Rows, []int{rows})
	b.add(tag.Columns, []int{cols})
	b.add(tag.BitsAllocated, []int{8})
	b.add(tag.BitsStored, []int{8})
	b.add(tag.HighBit, []int{7})
	b.add(tag.PixelRepresentation, []int{0})
	b.add(tag.PixelData, dicom.PixelDataInfo{
		IntentionallyUnprocessed: true,
		UnprocessedValueData:     padEven(rgb),
	})

	ds, err := b.dataset()
	if err != nil {
		return err
	}
	return writeFile(destPath, ds)
}

// FuseSeries stacks the single frame instances of one series into a
// single multi frame file. Frames are ordered by InstanceNumber
// ascending, absent numbers sorting first.
func (o Transformer) FuseSeries(paths []string, destPath string) error {
	if len(paths) == 0 {
		return fmt.Errorf("fuse series: no input files")
	}

	type part struct {
		ds     dicom.Dataset
		number int
		pixels []byte
	}
	parts := make([]part, 0, len(paths))
	for _, p := range paths {
		ds, err := ParseFull(p)
		if err != nil {
			return fmt.Errorf("read series file %s: %w", p, err)
		}
		el, err := ds.FindElementByTag(tag.PixelData)
		if err != nil {
			return fmt.Errorf("series file %s has no pixel data", p)
		}
		info := dicom.MustGetPixelDataInfo(el.Value)
		if len(info.UnprocessedValueData) == 0 {
			return fmt.Errorf("series file %s: unsupported pixel encoding", p)
		}
		number, _ := Int(ds, tag.InstanceNumber)
		parts = append(parts, part{ds: ds, number: number, pixels: info.UnprocessedValueData})
	}

	sort.SliceStable(parts, func(i, j int) bool { return parts[i].number < parts[j].number })

	var stacked []byte
	for _, p := range parts {
		stacked = append(stacked, p.pixels...)
	}

	ds := parts[0].ds
	sopUID := NewUID()
	if err := firstError(
		upsertString(&ds, tag.SOPInstanceUID, sopUID),
		upsertString(&ds, tag.MediaStorageSOPInstanceUID, sopUID),
		upsertString(&ds, tag.NumberOfFrames, strconv.Itoa(len(parts))),
	); err != nil {
		return err
	}
	removeElement(&ds, tag.InstanceNumber)
	removeElement(&ds, tag.PerFrameFunctionalGroupsSequence)
	if name := o.Config.Get().InstitutionName; name != "" {
		if err := upsertString(&ds, tag.InstitutionName, name); err != nil {
			return err
		}
	}
	pixelEl, err := dicom.NewElement(tag.PixelData, dicom.PixelDataInfo{
		IntentionallyUnprocessed: true,
		UnprocessedValueData:     padEven(stacked),
	})
	if err != nil {
		return fmt.Errorf("fused pixel element: %w", err)
	}
	upsertElement(&ds, pixelEl)

	return writeFile(destPath, ds)
}

// CopyWithTagRewrite re-emits a DICOM file with InstitutionName set from
// config, preserving the pixel payload byte exact. With spoofRomexis the
// file meta ImplementationVersionName is rewritten so the downstream
// PACS accepts the instance as Romexis authored.
func (o Transformer) CopyWithTagRewrite(srcPath, destPath string, spoofRomexis bool) error {
	ds, err := ParseFull(srcPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", srcPath, err)
	}
	if name := o.Config.Get().InstitutionName; name != "" {
		if err := upsertString(&ds, tag.InstitutionName, name); err != nil {
			return err
		}
	}
	if spoofRomexis {
		if err := upsertString(&ds, tag.ImplementationVersionName, RomexisImplementationVersion); err != nil {
			return err
		}
	}
	return writeFile(destPath, ds)
}

func (o Transformer) addInstitution(b *datasetBuilder) {
	if name := o.Config.Get().InstitutionName; name != "" {
		b.add(tag.InstitutionName, []string{name})
	}
}

// datasetBuilder accumulates elements and the first construction error.
type datasetBuilder struct {
	elems []*dicom.Element
	err   error
}

func newBuilder() *datasetBuilder {
	return &datasetBuilder{}
}

func (b *datasetBuilder) add(t tag.Tag, value interface{}) {
	if b.err != nil {
		return
	}
	el, err := dicom.NewElement(t, value)
	if err != nil {
		b.err = fmt.Errorf("build element %v: %w", t, err)
		return
	}
	b.elems = append(b.elems, el)
}

// addUL builds an unsigned long element by hand for tags outside the
// library's dictionary, where NewElement cannot resolve a VR.
func (b *datasetBuilder) addUL(t tag.Tag, value int) {
	if b.err != nil {
		return
	}
	val, err := dicom.NewValue([]int{value})
	if err != nil {
		b.err = fmt.Errorf("build element %v: %w", t, err)
		return
	}
	b.elems = append(b.elems, &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.VRUInt32List,
		RawValueRepresentation: "UL",
		Value:                  val,
	})
}

func (b *datasetBuilder) addStudy(info *StudyInfo, caseName string, now time.Time) {
	if info == nil {
		info = &StudyInfo{}
	}
	studyUID := info.StudyInstanceUID
	if studyUID == "" {
		studyUID = NewUID()
	}
	patientName := info.PatientName
	if patientName == "" {
		patientName = caseName
	}
	studyDate := info.StudyDate
	if studyDate == "" {
		studyDate = now.Format(dateFormat)
	}
	studyTime := info.StudyTime
	if studyTime == "" {
		studyTime = now.Format(timeFormat)
	}
	b.add(tag.StudyDate, []string{studyDate})
	b.add(tag.StudyTime, []string{studyTime})
	b.add(tag.AccessionNumber, []string{info.AccessionNumber})
	b.add(tag.ReferringPhysicianName, []string{info.ReferringPhysicianName})
	b.add(tag.PatientName, []string{patientName})
	b.add(tag.PatientID, []string{info.PatientID})
	b.add(tag.PatientBirthDate, []string{info.PatientBirthDate})
	b.add(tag.PatientSex, []string{info.PatientSex})
	b.add(tag.StudyInstanceUID, []string{studyUID})
	b.add(tag.StudyID, []string{info.StudyID})
}

func (b *datasetBuilder) dataset() (dicom.Dataset, error) {
	if b.err != nil {
		return dicom.Dataset{}, b.err
	}
	ds := dicom.Dataset{Elements: b.elems}
	sortElements(&ds)
	return ds, nil
}

func upsertString(ds *dicom.Dataset, t tag.Tag, value string) error {
	el, err := dicom.NewElement(t, []string{value})
	if err != nil {
		return fmt.Errorf("build element %v: %w", t, err)
	}
	upsertElement(ds, el)
	return nil
}

func upsertElement(ds *dicom.Dataset, el *dicom.Element) {
	for i, e := range ds.Elements {
		if e.Tag == el.Tag {
			ds.Elements[i] = el
			return
		}
	}
	ds.Elements = append(ds.Elements, el)
	sortElements(ds)
}

func removeElement(ds *dicom.Dataset, t tag.Tag) {
	kept := ds.Elements[:0]
	for _, e := range ds.Elements {
		if e.Tag != t {
			kept = append(kept, e)
		}
	}
	ds.Elements = kept
}

// sortElements keeps the dataset in ascending tag order; the file meta
// group 0002 naturally sorts first.
func sortElements(ds *dicom.Dataset) {
	sort.SliceStable(ds.Elements, func(i, j int) bool {
		a, b := ds.Elements[i].Tag, ds.Elements[j].Tag
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})
}

func writeFile(destPath string, ds dicom.Dataset) error {
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	if err := dicom.Write(f, ds); err != nil {
		f.Close()
		os.Remove(destPath)
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	return f.Close()
}

func decodeRGB(path string) (rows, cols int, rgb []byte, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, nil, err
	}
	defer f.Close()
	m, _, err := image.Decode(f)
	if err != nil {
		return 0, 0, nil, err
	}
	bounds := m.Bounds()
	rows = bounds.Dy()
	cols = bounds.Dx()
	rgb = make([]byte, 0, rows*cols*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := m.At(x, y).RGBA()
			rgb = append(rgb, byte(r>>8), byte(g>>8), byte(b>>8))
		}
	}
	return rows, cols, rgb, nil
}

func padEven(b []byte) []byte {
	if len(b)%2 == 1 {
		return append(b, 0x00)
	}
	return b
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
