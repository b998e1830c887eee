// Package errs holds the error taxonomy shared by the scanner, graph builder,
// linker and goal matcher.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every typed error below matches its sentinel with errors.Is.
var (
	ErrUnreadableFile          = errors.New("unreadable file")
	ErrMissingTag              = errors.New("missing required tag")
	ErrDirectoryInaccessible   = errors.New("directory inaccessible")
	ErrCrossPatientReference   = errors.New("cross-patient reference ignored")
	ErrUnresolvedReference     = errors.New("unresolved reference")
	ErrDanglingReference       = errors.New("dangling reference")
	ErrConfigTableMalformed    = errors.New("config table malformed")
	ErrDuplicateInstance       = errors.New("duplicate SOP instance")
	ErrUnsupportedExportFormat = errors.New("unsupported export format")
)

// UnreadableFileError is reported for files that are not DICOM Part 10 or
// whose header cannot be parsed. The scan continues.
type UnreadableFileError struct {
	Path   string
	Reason string
	Err    error
}

// NewUnreadableFile creates a new UnreadableFileError.
func NewUnreadableFile(path, reason string, err error) *UnreadableFileError {
	return &UnreadableFileError{Path: path, Reason: reason, Err: err}
}

func (e *UnreadableFileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unreadable file %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("unreadable file %s: %s", e.Path, e.Reason)
}

func (e *UnreadableFileError) Unwrap() error { return e.Err }

func (e *UnreadableFileError) Is(target error) bool { return target == ErrUnreadableFile }

// MissingTagError is reported when a required header field is absent for the
// file's modality. The file is rejected.
type MissingTagError struct {
	Path     string
	Modality string
	Tag      string
}

// NewMissingTag creates a new MissingTagError.
func NewMissingTag(path, modality, tag string) *MissingTagError {
	return &MissingTagError{Path: path, Modality: modality, Tag: tag}
}

func (e *MissingTagError) Error() string {
	if e.Modality == "" {
		return fmt.Sprintf("%s: missing required tag %s", e.Path, e.Tag)
	}
	return fmt.Sprintf("%s: missing required tag %s for modality %s", e.Path, e.Tag, e.Modality)
}

func (e *MissingTagError) Is(target error) bool { return target == ErrMissingTag }

// DirectoryInaccessibleError aborts a scan when its root cannot be read.
type DirectoryInaccessibleError struct {
	Path string
	Err  error
}

// NewDirectoryInaccessible creates a new DirectoryInaccessibleError.
func NewDirectoryInaccessible(path string, err error) *DirectoryInaccessibleError {
	return &DirectoryInaccessibleError{Path: path, Err: err}
}

func (e *DirectoryInaccessibleError) Error() string {
	return fmt.Sprintf("directory inaccessible %s: %v", e.Path, e.Err)
}

func (e *DirectoryInaccessibleError) Unwrap() error { return e.Err }

func (e *DirectoryInaccessibleError) Is(target error) bool { return target == ErrDirectoryInaccessible }

// CrossPatientReferenceError describes a reference whose target only exists
// under a different patient. The edge is dropped.
type CrossPatientReferenceError struct {
	SourceUID     string
	SourcePatient string
	TargetUID     string
	TargetPatient string
}

// NewCrossPatientReference creates a new CrossPatientReferenceError.
func NewCrossPatientReference(srcUID, srcPatient, dstUID, dstPatient string) *CrossPatientReferenceError {
	return &CrossPatientReferenceError{
		SourceUID:     srcUID,
		SourcePatient: srcPatient,
		TargetUID:     dstUID,
		TargetPatient: dstPatient,
	}
}

func (e *CrossPatientReferenceError) Error() string {
	return fmt.Sprintf("%s (patient %s) references %s owned by patient %s",
		e.SourceUID, e.SourcePatient, e.TargetUID, e.TargetPatient)
}

func (e *CrossPatientReferenceError) Is(target error) bool { return target == ErrCrossPatientReference }

// DuplicateInstanceError is reported when two files carry the same SOP
// Instance UID within one patient.
type DuplicateInstanceError struct {
	UID  string
	Kept string
	Path string
}

func (e *DuplicateInstanceError) Error() string {
	return fmt.Sprintf("duplicate SOP instance %s in %s (kept %s)", e.UID, e.Path, e.Kept)
}

func (e *DuplicateInstanceError) Is(target error) bool { return target == ErrDuplicateInstance }

// UnresolvedReason explains why a record could not be linked to a frame of
// reference.
type UnresolvedReason int

const (
	ReasonNoReferences UnresolvedReason = iota
	ReasonDangling
	ReasonCycle
	ReasonHopCap
	ReasonNoAnchor
)

var reasonNames = map[UnresolvedReason]string{
	ReasonNoReferences: "NoReferences",
	ReasonDangling:     "DanglingReference",
	ReasonCycle:        "ReferenceCycle",
	ReasonHopCap:       "HopCapExceeded",
	ReasonNoAnchor:     "NoAnchor",
}

func (r UnresolvedReason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("UnresolvedReason(%d)", int(r))
}

// MarshalText lets reasons appear by name in JSON exports.
func (r UnresolvedReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnresolvedReferenceError is attached to every record the linker leaves
// without a frame of reference.
type UnresolvedReferenceError struct {
	UID     string
	Path    string
	Reason  UnresolvedReason
	Hops    int
	Missing []string
}

// NewUnresolvedReference creates a new UnresolvedReferenceError.
func NewUnresolvedReference(uid, path string, reason UnresolvedReason, hops int, missing []string) *UnresolvedReferenceError {
	return &UnresolvedReferenceError{UID: uid, Path: path, Reason: reason, Hops: hops, Missing: missing}
}

func (e *UnresolvedReferenceError) Error() string {
	msg := fmt.Sprintf("unresolved reference for %s (%s): %s after %d hops", e.UID, e.Path, e.Reason, e.Hops)
	if len(e.Missing) > 0 {
		msg += ", missing " + strings.Join(e.Missing, ",")
	}
	return msg
}

func (e *UnresolvedReferenceError) Is(target error) bool { return target == ErrUnresolvedReference }

// DanglingReferenceError is reported for a linked record that also
// references UIDs absent from the scan.
type DanglingReferenceError struct {
	UID     string
	Path    string
	Missing []string
}

// NewDanglingReference creates a new DanglingReferenceError.
func NewDanglingReference(uid, path string, missing []string) *DanglingReferenceError {
	return &DanglingReferenceError{UID: uid, Path: path, Missing: missing}
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("%s (%s) references missing %s", e.UID, e.Path, strings.Join(e.Missing, ","))
}

func (e *DanglingReferenceError) Is(target error) bool { return target == ErrDanglingReference }

// ConfigTableMalformedError is reported for goal or alias table entries that
// cannot be decoded. Entry is empty when the whole document is invalid.
type ConfigTableMalformedError struct {
	Path  string
	Entry string
	Err   error
}

// NewConfigTableMalformed creates a new ConfigTableMalformedError.
func NewConfigTableMalformed(path, entry string, err error) *ConfigTableMalformedError {
	return &ConfigTableMalformedError{Path: path, Entry: entry, Err: err}
}

func (e *ConfigTableMalformedError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("malformed table %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("malformed table %s entry %q: %v", e.Path, e.Entry, e.Err)
}

func (e *ConfigTableMalformedError) Unwrap() error { return e.Err }

func (e *ConfigTableMalformedError) Is(target error) bool { return target == ErrConfigTableMalformed }
