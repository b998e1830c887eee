package scan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/GrigoryEvko/rtlink/internal/errs"
)

const preambleLen = 128

var part10Magic = []byte("DICM")

// hasPart10Header checks for the 128 byte preamble followed by "DICM".
func hasPart10Header(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, preambleLen+len(part10Magic))
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(buf[preambleLen:], part10Magic), nil
}

// header is the decoded, pixel-free view of one file.
type header struct {
	path string
	top  map[tag.Tag]string
	refs References
	rois []ROI
	// interpreted ROI types by ROI number
	roiTypes map[int]string
}

// readHeader parses the file and walks its element tree once.
func readHeader(path string) (h *header, err error) {
	ok, err := hasPart10Header(path)
	if err != nil {
		return nil, errs.NewUnreadableFile(path, "cannot read preamble", err)
	}
	if !ok {
		return nil, errs.NewUnreadableFile(path, "missing DICM preamble", nil)
	}

	defer func() {
		if r := recover(); r != nil {
			h, err = nil, errs.NewUnreadableFile(path, "parser panic", fmt.Errorf("%v", r))
		}
	}()

	dataset, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, errs.NewUnreadableFile(path, "cannot parse header", err)
	}

	h = &header{path: path, top: make(map[tag.Tag]string)}
	h.walk(dataset.Elements, tag.Tag{}, 0)
	for i := range h.rois {
		h.rois[i].Type = h.roiTypes[h.rois[i].Number]
	}
	h.refs = References{
		Instances:         sortedUnique(h.refs.Instances),
		Series:            sortedUnique(h.refs.Series),
		FramesOfReference: sortedUnique(h.refs.FramesOfReference),
		Plans:             sortedUnique(h.refs.Plans),
		StructureSets:     sortedUnique(h.refs.StructureSets),
		Doses:             sortedUnique(h.refs.Doses),
		SOPClasses:        sortedUnique(h.refs.SOPClasses),
	}
	return h, nil
}

func (h *header) walk(elements []*dicom.Element, enclosing tag.Tag, depth int) {
	for _, el := range elements {
		if el == nil || el.Value == nil {
			continue
		}
		switch el.Value.ValueType() {
		case dicom.Sequences:
			items, _ := el.Value.GetValue().([]*dicom.SequenceItemValue)
			if depth == 0 && el.Tag == seqStructureSetROI {
				h.readROIs(items)
				continue
			}
			if depth == 0 && el.Tag == seqRTROIObservations {
				h.readObservations(items)
				continue
			}
			for _, item := range items {
				children, _ := item.GetValue().([]*dicom.Element)
				h.walk(children, el.Tag, depth+1)
			}
		case dicom.Strings:
			values, _ := el.Value.GetValue().([]string)
			if depth == 0 {
				if _, seen := h.top[el.Tag]; !seen {
					h.top[el.Tag] = firstValue(values)
				}
			}
			h.reference(el.Tag, enclosing, values)
		}
	}
}

func (h *header) reference(t, enclosing tag.Tag, values []string) {
	for _, raw := range values {
		uid := clean(raw)
		if uid == "" {
			continue
		}
		switch t {
		case tagReferencedSOPInstanceUID.Tag:
			switch enclosing {
			case seqReferencedRTPlan:
				h.refs.Plans = append(h.refs.Plans, uid)
			case seqReferencedStructureSet:
				h.refs.StructureSets = append(h.refs.StructureSets, uid)
			case seqReferencedDose:
				h.refs.Doses = append(h.refs.Doses, uid)
			case seqRTReferencedStudy, seqReferencedStudy, seqReferencedPatient:
				// study and patient level, not a record
			default:
				h.refs.Instances = append(h.refs.Instances, uid)
			}
		case tagFrameOfReferenceUID.Tag:
			if enclosing == seqReferencedFrameOfRef {
				h.refs.FramesOfReference = append(h.refs.FramesOfReference, uid)
			}
		case tagSeriesInstanceUID.Tag:
			if enclosing == seqRTReferencedSeries {
				h.refs.Series = append(h.refs.Series, uid)
			}
		case tagReferencedSOPClassUID.Tag:
			h.refs.SOPClasses = append(h.refs.SOPClasses, uid)
		}
	}
}

func (h *header) readROIs(items []*dicom.SequenceItemValue) {
	for _, item := range items {
		children, _ := item.GetValue().([]*dicom.Element)
		var roi ROI
		for _, el := range children {
			if el == nil || el.Value == nil {
				continue
			}
			switch el.Tag {
			case tagROINumber.Tag:
				roi.Number = intValue(el.Value)
			case tagROIName.Tag:
				if values, ok := el.Value.GetValue().([]string); ok {
					roi.Name = firstValue(values)
				}
			}
		}
		h.rois = append(h.rois, roi)
	}
}

func (h *header) readObservations(items []*dicom.SequenceItemValue) {
	for _, item := range items {
		children, _ := item.GetValue().([]*dicom.Element)
		number, kind := 0, ""
		for _, el := range children {
			if el == nil || el.Value == nil {
				continue
			}
			switch el.Tag {
			case tagReferencedROINumber.Tag:
				number = intValue(el.Value)
			case tagRTROIInterpretedType.Tag:
				if values, ok := el.Value.GetValue().([]string); ok {
					kind = strings.ToUpper(firstValue(values))
				}
			}
		}
		if kind == "" {
			continue
		}
		if h.roiTypes == nil {
			h.roiTypes = make(map[int]string)
		}
		h.roiTypes[number] = kind
	}
}

// get returns the top-level value of a tag, or "".
func (h *header) get(d TagDef) string {
	return h.top[d.Tag]
}

// first returns the first non-empty top-level value among defs.
func (h *header) first(defs []TagDef) string {
	for _, d := range defs {
		if v := h.get(d); v != "" {
			return v
		}
	}
	return ""
}

func (h *header) require(modality string, defs []TagDef) error {
	for _, d := range defs {
		if h.get(d) == "" {
			return errs.NewMissingTag(h.path, modality, d.Name)
		}
	}
	return nil
}

// record validates required tags and builds the FileRecord.
func (h *header) record(imageModalities map[string]bool) (*FileRecord, error) {
	if err := h.require("", baseRequired); err != nil {
		return nil, err
	}
	modality := strings.ToUpper(h.get(tagModality))
	if imageModalities[modality] {
		if err := h.require(modality, imageRequired); err != nil {
			return nil, err
		}
	}

	return &FileRecord{
		Path:                h.path,
		PatientID:           h.get(tagPatientID),
		PatientName:         formatPatientName(h.get(tagPatientName)),
		Modality:            modality,
		SOPClassUID:         h.get(tagSOPClassUID),
		SOPInstanceUID:      h.get(tagSOPInstanceUID),
		StudyUID:            h.get(tagStudyInstanceUID),
		SeriesUID:           h.get(tagSeriesInstanceUID),
		FrameOfReferenceUID: h.get(tagFrameOfReferenceUID),
		DoseSummationType:   strings.ToUpper(h.get(tagDoseSummationType)),
		Label:               h.first(labelTags),
		Name:                h.first(nameTags),
		Description:         h.first(descriptionTags),
		Date:                h.first(dateTags),
		Time:                h.first(timeTags),
		Refs:                h.refs,
		ROIs:                h.rois,
	}, nil
}

// formatPatientName turns "DOE^JOHN" into "DOE_JOHN".
func formatPatientName(name string) string {
	return strings.NewReplacer("^", "_", " ", "_").Replace(name)
}

func firstValue(values []string) string {
	for _, v := range values {
		if c := clean(v); c != "" {
			return c
		}
	}
	return ""
}

func clean(v string) string {
	return strings.Trim(v, " \x00")
}

func intValue(v dicom.Value) int {
	switch vals := v.GetValue().(type) {
	case []int:
		if len(vals) > 0 {
			return vals[0]
		}
	case []string:
		n, _ := strconv.Atoi(firstValue(vals))
		return n
	}
	return 0
}
