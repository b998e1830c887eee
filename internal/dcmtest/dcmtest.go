// Package dcmtest writes small synthetic DICOM files for tests.
package dcmtest

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const explicitVRLittleEndian = "1.2.840.10008.1.2.1"

// SOP classes used by the fixtures.
const (
	CTImageStorage      = "1.2.840.10008.5.1.4.1.1.2"
	RTStructureSetClass = "1.2.840.10008.5.1.4.1.1.481.3"
	RTPlanClass         = "1.2.840.10008.5.1.4.1.1.481.5"
	RTDoseClass         = "1.2.840.10008.5.1.4.1.1.481.2"
)

// ROI is a structure set entry.
type ROI struct {
	Number int
	Name   string
	Type   string
}

// File describes one synthetic object. Empty fields are omitted.
type File struct {
	PatientID   string
	PatientName string
	Modality    string
	SOPClassUID string
	SOPUID      string
	StudyUID    string
	SeriesUID   string
	FrameUID    string
	Label       string
	Description string
	DoseSum     string

	// ReferencedFrames go into ReferencedFrameOfReferenceSequence. The
	// referenced series and contour images are nested under the first one.
	ReferencedFrames []string
	ReferencedSeries []string
	ContourImages    []string

	Plans         []string
	StructureSets []string
	Doses         []string

	ROIs []ROI
}

// Image returns a CT slice.
func Image(patient, sop, series, frame string) File {
	return File{
		PatientID:   patient,
		PatientName: "DOE^" + patient,
		Modality:    "CT",
		SOPClassUID: CTImageStorage,
		SOPUID:      sop,
		StudyUID:    "1.2.3.study." + patient,
		SeriesUID:   series,
		FrameUID:    frame,
	}
}

// StructureSet returns an RTSTRUCT with no declared frame of reference.
func StructureSet(patient, sop string) File {
	return File{
		PatientID:   patient,
		Modality:    "RTSTRUCT",
		SOPClassUID: RTStructureSetClass,
		SOPUID:      sop,
		SeriesUID:   sop + ".series",
	}
}

// Plan returns an RTPLAN referencing the given structure sets.
func Plan(patient, sop string, structs ...string) File {
	return File{
		PatientID:     patient,
		Modality:      "RTPLAN",
		SOPClassUID:   RTPlanClass,
		SOPUID:        sop,
		SeriesUID:     sop + ".series",
		StructureSets: structs,
	}
}

// Dose returns an RTDOSE referencing the given plans.
func Dose(patient, sop, summation string, plans ...string) File {
	return File{
		PatientID:   patient,
		Modality:    "RTDOSE",
		SOPClassUID: RTDoseClass,
		SOPUID:      sop,
		SeriesUID:   sop + ".series",
		DoseSum:     summation,
		Plans:       plans,
	}
}

// Write encodes f under dir/name and returns the path.
func Write(tb testing.TB, dir, name string, f File) string {
	tb.Helper()

	ds := dicom.Dataset{Elements: Elements(tb, f)}
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		tb.Fatalf("mkdir: %v", err)
	}
	out, err := os.Create(path)
	if err != nil {
		tb.Fatalf("create %s: %v", path, err)
	}
	defer out.Close()
	if err := dicom.Write(out, ds); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Elements builds the top-level elements of f, sorted by tag.
func Elements(tb testing.TB, f File) []*dicom.Element {
	tb.Helper()

	el := func(t tag.Tag, data any) *dicom.Element {
		e, err := dicom.NewElement(t, data)
		if err != nil {
			tb.Fatalf("element %v: %v", t, err)
		}
		return e
	}
	str := func(out []*dicom.Element, t tag.Tag, v string) []*dicom.Element {
		if v == "" {
			return out
		}
		return append(out, el(t, []string{v}))
	}
	refSeq := func(t tag.Tag, classUID string, uids []string) *dicom.Element {
		items := make([][]*dicom.Element, 0, len(uids))
		for _, uid := range uids {
			items = append(items, []*dicom.Element{
				el(tag.ReferencedSOPClassUID, []string{classUID}),
				el(tag.ReferencedSOPInstanceUID, []string{uid}),
			})
		}
		return el(t, items)
	}

	out := []*dicom.Element{el(tag.TransferSyntaxUID, []string{explicitVRLittleEndian})}
	out = str(out, tag.MediaStorageSOPClassUID, f.SOPClassUID)
	out = str(out, tag.MediaStorageSOPInstanceUID, f.SOPUID)
	out = str(out, tag.SOPClassUID, f.SOPClassUID)
	out = str(out, tag.SOPInstanceUID, f.SOPUID)
	out = str(out, tag.Modality, f.Modality)
	out = str(out, tag.PatientName, f.PatientName)
	out = str(out, tag.PatientID, f.PatientID)
	out = str(out, tag.StudyInstanceUID, f.StudyUID)
	out = str(out, tag.SeriesInstanceUID, f.SeriesUID)
	out = str(out, tag.FrameOfReferenceUID, f.FrameUID)
	out = str(out, tag.SeriesDescription, f.Description)

	switch f.Modality {
	case "RTPLAN":
		out = str(out, tag.Tag{Group: 0x300A, Element: 0x0002}, f.Label)
	case "RTSTRUCT":
		out = str(out, tag.Tag{Group: 0x3006, Element: 0x0002}, f.Label)
	}
	out = str(out, tag.Tag{Group: 0x3004, Element: 0x000A}, f.DoseSum)

	if len(f.ReferencedFrames) > 0 {
		var frames [][]*dicom.Element
		for i, uid := range f.ReferencedFrames {
			item := []*dicom.Element{el(tag.FrameOfReferenceUID, []string{uid})}
			if i == 0 && (len(f.ReferencedSeries) > 0 || len(f.ContourImages) > 0) {
				item = append(item, studyItem(el, f))
			}
			frames = append(frames, item)
		}
		out = append(out, el(tag.Tag{Group: 0x3006, Element: 0x0010}, frames))
	}
	if len(f.ROIs) > 0 {
		var rois [][]*dicom.Element
		for _, roi := range f.ROIs {
			rois = append(rois, []*dicom.Element{
				el(tag.Tag{Group: 0x3006, Element: 0x0022}, []string{strconv.Itoa(roi.Number)}),
				el(tag.Tag{Group: 0x3006, Element: 0x0026}, []string{roi.Name}),
			})
		}
		out = append(out, el(tag.Tag{Group: 0x3006, Element: 0x0020}, rois))
		var observations [][]*dicom.Element
		for _, roi := range f.ROIs {
			if roi.Type == "" {
				continue
			}
			observations = append(observations, []*dicom.Element{
				el(tag.Tag{Group: 0x3006, Element: 0x0084}, []string{strconv.Itoa(roi.Number)}),
				el(tag.Tag{Group: 0x3006, Element: 0x00A4}, []string{roi.Type}),
			})
		}
		if len(observations) > 0 {
			out = append(out, el(tag.Tag{Group: 0x3006, Element: 0x0080}, observations))
		}
	}
	if len(f.Plans) > 0 {
		out = append(out, refSeq(tag.Tag{Group: 0x300C, Element: 0x0002}, RTPlanClass, f.Plans))
	}
	if len(f.StructureSets) > 0 {
		out = append(out, refSeq(tag.Tag{Group: 0x300C, Element: 0x0060}, RTStructureSetClass, f.StructureSets))
	}
	if len(f.Doses) > 0 {
		out = append(out, refSeq(tag.Tag{Group: 0x300C, Element: 0x0080}, RTDoseClass, f.Doses))
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Tag, out[j].Tag
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Element < b.Element
	})
	return out
}

// studyItem nests the referenced series under RTReferencedStudySequence.
func studyItem(el func(tag.Tag, any) *dicom.Element, f File) *dicom.Element {
	var series [][]*dicom.Element
	for _, uid := range f.ReferencedSeries {
		item := []*dicom.Element{el(tag.SeriesInstanceUID, []string{uid})}
		if len(f.ContourImages) > 0 {
			var images [][]*dicom.Element
			for _, img := range f.ContourImages {
				images = append(images, []*dicom.Element{
					el(tag.ReferencedSOPClassUID, []string{CTImageStorage}),
					el(tag.ReferencedSOPInstanceUID, []string{img}),
				})
			}
			item = append(item, el(tag.Tag{Group: 0x3006, Element: 0x0016}, images))
		}
		series = append(series, item)
	}
	study := []*dicom.Element{
		el(tag.ReferencedSOPClassUID, []string{"1.2.840.10008.3.1.2.3.1"}),
		el(tag.ReferencedSOPInstanceUID, []string{"1.2.826.0.1.3680043.2.1125.1"}),
		el(tag.Tag{Group: 0x3006, Element: 0x0014}, series),
	}
	return el(tag.Tag{Group: 0x3006, Element: 0x0012}, [][]*dicom.Element{study})
}
