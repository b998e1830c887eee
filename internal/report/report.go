// Package report collects the per-scan summary and the structured issues that
// every pipeline stage emits.
package report

import (
	"errors"
	"sort"
	"time"

	"github.com/GrigoryEvko/rtlink/internal/errs"
)

// Kind classifies an issue.
type Kind string

const (
	KindUnreadableFile           Kind = "UnreadableFile"
	KindMissingTag               Kind = "MissingTag"
	KindDirectoryInaccessible    Kind = "DirectoryInaccessible"
	KindDuplicateInstance        Kind = "DuplicateInstance"
	KindCrossPatientReference    Kind = "CrossPatientReferenceIgnored"
	KindMultipleReferencedFrames Kind = "MultipleReferencedFrames"
	KindUnresolvedReference      Kind = "UnresolvedReference"
	KindUnresolvedCycle          Kind = "UnresolvedReferenceCycle"
	KindHopCapExceeded           Kind = "HopCapExceeded"
	KindDanglingReference        Kind = "DanglingReference"
	KindConfigTableMalformed     Kind = "ConfigTableMalformed"
	KindIndexUnavailable         Kind = "HeaderIndexUnavailable"
	KindOther                    Kind = "Other"
)

// Issue is one structured warning attached to a scan.
type Issue struct {
	Kind      Kind   `json:"kind"`
	Path      string `json:"path,omitempty"`
	UID       string `json:"uid,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
	Detail    string `json:"detail"`
	Err       error  `json:"-"`
}

// FromError maps a typed error onto an Issue.
func FromError(err error) Issue {
	issue := Issue{Kind: KindOther, Detail: err.Error(), Err: err}

	var (
		unreadable *errs.UnreadableFileError
		missing    *errs.MissingTagError
		cross      *errs.CrossPatientReferenceError
		dup        *errs.DuplicateInstanceError
		unresolved *errs.UnresolvedReferenceError
		dangling   *errs.DanglingReferenceError
		malformed  *errs.ConfigTableMalformedError
		dir        *errs.DirectoryInaccessibleError
	)
	switch {
	case errors.As(err, &unreadable):
		issue.Kind, issue.Path = KindUnreadableFile, unreadable.Path
	case errors.As(err, &missing):
		issue.Kind, issue.Path = KindMissingTag, missing.Path
	case errors.As(err, &cross):
		issue.Kind, issue.UID, issue.PatientID = KindCrossPatientReference, cross.SourceUID, cross.SourcePatient
	case errors.As(err, &dup):
		issue.Kind, issue.UID, issue.Path = KindDuplicateInstance, dup.UID, dup.Path
	case errors.As(err, &unresolved):
		issue.Kind, issue.UID, issue.Path = unresolvedKind(unresolved.Reason), unresolved.UID, unresolved.Path
	case errors.As(err, &dangling):
		issue.Kind, issue.UID, issue.Path = KindDanglingReference, dangling.UID, dangling.Path
	case errors.As(err, &malformed):
		issue.Kind, issue.Path = KindConfigTableMalformed, malformed.Path
	case errors.As(err, &dir):
		issue.Kind, issue.Path = KindDirectoryInaccessible, dir.Path
	}
	return issue
}

func unresolvedKind(reason errs.UnresolvedReason) Kind {
	switch reason {
	case errs.ReasonCycle:
		return KindUnresolvedCycle
	case errs.ReasonHopCap:
		return KindHopCapExceeded
	case errs.ReasonDangling:
		return KindDanglingReference
	}
	return KindUnresolvedReference
}

// ScanReport summarizes one pipeline run.
type ScanReport struct {
	ID         string    `json:"id"`
	Root       string    `json:"root"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	FilesDiscovered int `json:"files_discovered"`
	FilesScanned    int `json:"files_scanned"`
	FilesAccepted   int `json:"files_accepted"`
	FilesUnreadable int `json:"files_unreadable"`
	FilesRejected   int `json:"files_rejected"`
	FilesFromIndex  int `json:"files_from_index"`

	Patients    int `json:"patients"`
	FrameGroups int `json:"frame_groups"`
	Edges       int `json:"edges"`
	Linked      int `json:"linked"`
	Unresolved  int `json:"unresolved"`

	Issues []Issue `json:"issues"`
}

// Add appends issues to the report.
func (r *ScanReport) Add(issues ...Issue) {
	r.Issues = append(r.Issues, issues...)
}

// Count returns the number of issues of the given kind.
func (r *ScanReport) Count(kind Kind) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Kind == kind {
			n++
		}
	}
	return n
}

// Duration is the wall time of the run.
func (r *ScanReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Sort orders issues so that reports from identical inputs compare equal.
func (r *ScanReport) Sort() {
	SortIssues(r.Issues)
}

// SortIssues orders issues by kind, path, uid, then detail.
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.UID != b.UID {
			return a.UID < b.UID
		}
		return a.Detail < b.Detail
	})
}
