package scan

import "github.com/suyashkumar/dicom/pkg/tag"

// TagDef names a header tag for error messages.
type TagDef struct {
	Tag  tag.Tag
	Name string
}

func def(group, element uint16, name string) TagDef {
	return TagDef{Tag: tag.Tag{Group: group, Element: element}, Name: name}
}

var (
	tagPatientID           = def(0x0010, 0x0020, "PatientID")
	tagPatientName         = def(0x0010, 0x0010, "PatientName")
	tagModality            = def(0x0008, 0x0060, "Modality")
	tagSOPClassUID         = def(0x0008, 0x0016, "SOPClassUID")
	tagSOPInstanceUID      = def(0x0008, 0x0018, "SOPInstanceUID")
	tagStudyInstanceUID    = def(0x0020, 0x000D, "StudyInstanceUID")
	tagSeriesInstanceUID   = def(0x0020, 0x000E, "SeriesInstanceUID")
	tagFrameOfReferenceUID = def(0x0020, 0x0052, "FrameOfReferenceUID")
	tagDoseSummationType   = def(0x3004, 0x000A, "DoseSummationType")

	tagReferencedSOPClassUID    = def(0x0008, 0x1150, "ReferencedSOPClassUID")
	tagReferencedSOPInstanceUID = def(0x0008, 0x1155, "ReferencedSOPInstanceUID")

	tagStructureSetROISequence = def(0x3006, 0x0020, "StructureSetROISequence")
	tagROINumber               = def(0x3006, 0x0022, "ROINumber")
	tagROIName                 = def(0x3006, 0x0026, "ROIName")

	tagRTROIObservationsSequence = def(0x3006, 0x0080, "RTROIObservationsSequence")
	tagReferencedROINumber       = def(0x3006, 0x0084, "ReferencedROINumber")
	tagRTROIInterpretedType      = def(0x3006, 0x00A4, "RTROIInterpretedType")
)

// Reference sequences. A ReferencedSOPInstanceUID is classified by the
// innermost sequence that encloses it.
var (
	seqReferencedRTPlan       = tag.Tag{Group: 0x300C, Element: 0x0002}
	seqReferencedStructureSet = tag.Tag{Group: 0x300C, Element: 0x0060}
	seqReferencedDose         = tag.Tag{Group: 0x300C, Element: 0x0080}
	seqReferencedFrameOfRef   = tag.Tag{Group: 0x3006, Element: 0x0010}
	seqRTReferencedStudy      = tag.Tag{Group: 0x3006, Element: 0x0012}
	seqRTReferencedSeries     = tag.Tag{Group: 0x3006, Element: 0x0014}
	seqReferencedStudy        = tag.Tag{Group: 0x0008, Element: 0x1110}
	seqReferencedPatient      = tag.Tag{Group: 0x0008, Element: 0x1120}
	seqStructureSetROI        = tagStructureSetROISequence.Tag
	seqRTROIObservations      = tagRTROIObservationsSequence.Tag
)

// Display fields are read from the first tag present in each list.
var (
	labelTags = []TagDef{
		def(0x300A, 0x0002, "RTPlanLabel"),
		def(0x3006, 0x0002, "StructureSetLabel"),
		def(0x3002, 0x0002, "RTImageLabel"),
	}
	nameTags = []TagDef{
		def(0x300A, 0x0003, "RTPlanName"),
		def(0x3006, 0x0004, "StructureSetName"),
		def(0x3002, 0x0003, "RTImageName"),
	}
	descriptionTags = []TagDef{
		def(0x3004, 0x0006, "DoseComment"),
		def(0x0020, 0x4000, "ImageComments"),
		def(0x300A, 0x0004, "RTPlanDescription"),
		def(0x3006, 0x0006, "StructureSetDescription"),
		def(0x0008, 0x103E, "SeriesDescription"),
		def(0x3002, 0x0004, "RTImageDescription"),
		def(0x0008, 0x1030, "StudyDescription"),
	}
	dateTags = []TagDef{
		def(0x300A, 0x0006, "RTPlanDate"),
		def(0x3006, 0x0008, "StructureSetDate"),
		def(0x0008, 0x0023, "ContentDate"),
		def(0x0008, 0x0021, "SeriesDate"),
		def(0x0008, 0x0020, "StudyDate"),
	}
	timeTags = []TagDef{
		def(0x300A, 0x0007, "RTPlanTime"),
		def(0x3006, 0x0009, "StructureSetTime"),
		def(0x0008, 0x0033, "ContentTime"),
		def(0x0008, 0x0031, "SeriesTime"),
		def(0x0008, 0x0030, "StudyTime"),
	}
)

// baseRequired must be present in every accepted file. Image modalities also
// need a series to be grouped under.
var (
	baseRequired  = []TagDef{tagSOPInstanceUID, tagModality}
	imageRequired = []TagDef{tagSeriesInstanceUID}
)
