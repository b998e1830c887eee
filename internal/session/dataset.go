package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/GrigoryEvko/rtlink/internal/goals"
	"github.com/GrigoryEvko/rtlink/internal/graph"
	"github.com/GrigoryEvko/rtlink/internal/link"
	"github.com/GrigoryEvko/rtlink/internal/report"
	"github.com/GrigoryEvko/rtlink/internal/scan"
)

// ErrNoMatcher is returned by Dataset.Goals when the session has no goal
// matcher.
var ErrNoMatcher = errors.New("no goal matcher configured")

// Dataset is the read-only result of one Rescan. It stays valid after later
// rescans of the same directory.
type Dataset struct {
	ID   string
	Root string

	resolution *link.Resolution
	report     *report.ScanReport
	matcher    *goals.Matcher
}

// PatientFilter selects patients by case-insensitive ID and name substrings.
// PageSize splits the matches into pages; zero returns every match.
type PatientFilter struct {
	ID       string
	Name     string
	PageSize int
	Page     int
}

// Patient returns the hierarchy of one patient.
func (d *Dataset) Patient(id string) (*link.PatientTree, bool) {
	return d.resolution.Patient(id)
}

// Patients returns the patients matching f sorted by ID.
func (d *Dataset) Patients(f PatientFilter) []*link.PatientTree {
	id := strings.ToLower(f.ID)
	name := strings.ToLower(f.Name)
	var out []*link.PatientTree
	for _, t := range d.resolution.Patients() {
		if id != "" && !strings.Contains(strings.ToLower(t.ID), id) {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(t.Name), name) {
			continue
		}
		out = append(out, t)
	}
	if f.PageSize <= 0 {
		return out
	}
	start := f.Page * f.PageSize
	if f.Page < 0 || start >= len(out) {
		return nil
	}
	return out[start:min(start+f.PageSize, len(out))]
}

// FrameOfReference returns one (patient, frame) group.
func (d *Dataset) FrameOfReference(patientID, frameUID string) (*link.FrameGroup, bool) {
	return d.resolution.FrameGroup(patientID, frameUID)
}

// ByModality returns every record of the modality sorted by path.
func (d *Dataset) ByModality(modality string) []*scan.FileRecord {
	return d.resolution.ByModality(modality)
}

// Assignment returns how a record was placed.
func (d *Dataset) Assignment(patientID, uid string) (*link.Assignment, bool) {
	return d.resolution.Assignment(patientID, uid)
}

// Unresolved returns the records the linker could not place.
func (d *Dataset) Unresolved() []link.Unresolved {
	return append([]link.Unresolved(nil), d.resolution.Unresolved...)
}

// Report is the summary of the run that produced the dataset.
func (d *Dataset) Report() *report.ScanReport {
	return d.report
}

// Records returns every linked or unresolved record sorted by path.
func (d *Dataset) Records() []*scan.FileRecord {
	return d.resolution.Graph.Records()
}

// Resolution exposes the linker output.
func (d *Dataset) Resolution() *link.Resolution {
	return d.resolution
}

// Goals matches the structures of one structure set against the goal
// tables. The labels of every plan referencing the structure set select the
// plan tables, in plan UID order.
func (d *Dataset) Goals(patientID, structureSetUID string) ([]goals.StructureMatch, error) {
	if d.matcher == nil {
		return nil, ErrNoMatcher
	}
	p, ok := d.resolution.Graph.Patient(patientID)
	if !ok {
		return nil, fmt.Errorf("unknown patient %q", patientID)
	}
	n, ok := p.Node(structureSetUID)
	if !ok || n.Kind != graph.KindStructureSet {
		return nil, fmt.Errorf("no structure set %q for patient %q", structureSetUID, patientID)
	}

	var labels []string
	seen := make(map[string]bool)
	for _, e := range p.In[structureSetUID] {
		if e.FromKind != graph.KindPlan || seen[e.From] {
			continue
		}
		seen[e.From] = true
		if label := p.Nodes[e.From].Record.Label; label != "" {
			labels = append(labels, label)
		}
	}
	return d.matcher.Match(p.ID, n.Record, labels)
}
