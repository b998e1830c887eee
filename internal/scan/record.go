package scan

import (
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// References holds the UIDs a file points at, grouped by the sequence they
// were found in. Every list is sorted and deduplicated.
type References struct {
	Instances         []string `json:"instances,omitempty"`
	Series            []string `json:"series,omitempty"`
	FramesOfReference []string `json:"frames_of_reference,omitempty"`
	Plans             []string `json:"plans,omitempty"`
	StructureSets     []string `json:"structure_sets,omitempty"`
	Doses             []string `json:"doses,omitempty"`
	SOPClasses        []string `json:"sop_classes,omitempty"`
}

// Empty reports whether no record-to-record reference was found.
func (r References) Empty() bool {
	return len(r.Instances) == 0 && len(r.Series) == 0 && len(r.Plans) == 0 &&
		len(r.StructureSets) == 0 && len(r.Doses) == 0
}

// ROI is one entry of a structure set's StructureSetROISequence.
type ROI struct {
	Number int    `json:"number"`
	Name   string `json:"name"`
	// Type is the RTROIInterpretedType, upper case, e.g. "EXTERNAL".
	Type string `json:"type,omitempty"`
}

// Timestamps are the filesystem times of a scanned file. Created falls back
// to the change time, then the modification time, where birth time is not
// available.
type Timestamps struct {
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Accessed time.Time `json:"accessed"`
}

// FileRecord is the immutable header summary of one accepted DICOM file.
type FileRecord struct {
	Path string `json:"path"`
	Size int64  `json:"size"`

	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name,omitempty"`

	Modality            string `json:"modality"`
	SOPClassUID         string `json:"sop_class_uid,omitempty"`
	SOPInstanceUID      string `json:"sop_instance_uid"`
	StudyUID            string `json:"study_uid,omitempty"`
	SeriesUID           string `json:"series_uid,omitempty"`
	FrameOfReferenceUID string `json:"frame_of_reference_uid,omitempty"`
	DoseSummationType   string `json:"dose_summation_type,omitempty"`

	Label       string `json:"label,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date,omitempty"`
	Time        string `json:"time,omitempty"`

	Refs  References `json:"refs"`
	ROIs  []ROI      `json:"rois,omitempty"`
	Times Timestamps `json:"times"`
}

// Dir is the directory holding the file.
func (r *FileRecord) Dir() string {
	return filepath.Dir(r.Path)
}

// ReferencedUIDs returns every record-level UID the file points at, sorted.
func (r *FileRecord) ReferencedUIDs() []string {
	var all []string
	all = append(all, r.Refs.Instances...)
	all = append(all, r.Refs.Plans...)
	all = append(all, r.Refs.StructureSets...)
	all = append(all, r.Refs.Doses...)
	return sortedUnique(all)
}

// SortRecords orders records by path, which is the canonical input order.
func SortRecords(records []*FileRecord) {
	slices.SortFunc(records, func(a, b *FileRecord) int {
		return strings.Compare(a.Path, b.Path)
	})
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
