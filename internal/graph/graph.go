// Package graph groups scanned records by patient and turns their UID
// references into directed edges between records.
package graph

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/GrigoryEvko/rtlink/internal/errs"
	"github.com/GrigoryEvko/rtlink/internal/report"
	"github.com/GrigoryEvko/rtlink/internal/scan"
)

// UnknownPatient is the partition key for records without a Patient ID.
const UnknownPatient = "UNKNOWN_PATIENT"

// Field names the header field an edge was derived from.
type Field string

const (
	FieldInstance     Field = "ReferencedSOPInstanceUID"
	FieldSeries       Field = "ReferencedSeriesInstanceUID"
	FieldPlan         Field = "ReferencedRTPlanSequence"
	FieldStructureSet Field = "ReferencedStructureSetSequence"
	FieldDose         Field = "ReferencedDoseSequence"
)

// Edge points from the referencing record to the referenced one.
// Fallback edges are only followed when the primary edges of the source
// do not reach a frame of reference.
type Edge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	FromKind Kind   `json:"from_kind"`
	ToKind   Kind   `json:"to_kind"`
	Field    Field  `json:"field"`
	Fallback bool   `json:"fallback,omitempty"`
}

func (e Edge) String() string {
	return fmt.Sprintf("%s(%s) -> %s(%s) via %s", e.From, e.FromKind, e.To, e.ToKind, e.Field)
}

// Node is one record inside a patient partition.
type Node struct {
	Record *scan.FileRecord
	Kind   Kind

	// Dangling lists referenced UIDs absent from the scanned set.
	Dangling []string
	// CrossPatient lists referenced UIDs that only exist under another patient.
	CrossPatient []string
	// ReferencedFrames are the referenced frames of reference the record may
	// anchor to: declared in its own patient or by no scanned record.
	ReferencedFrames []string
	// SelfReference is set when the record references its own UID.
	SelfReference bool
}

// UID is the SOP Instance UID of the node.
func (n *Node) UID() string { return n.Record.SOPInstanceUID }

// Patient is the reference graph of one patient.
type Patient struct {
	ID   string
	Name string

	Nodes map[string]*Node
	// UIDs lists node UIDs in sorted order.
	UIDs []string
	// Series maps a series UID to its member UIDs, sorted.
	Series map[string][]string
	// Frames maps a declared frame of reference UID to the UIDs declaring it.
	Frames map[string][]string

	Edges []Edge
	Out   map[string][]Edge
	In    map[string][]Edge
}

// Node returns the node with the given UID.
func (p *Patient) Node(uid string) (*Node, bool) {
	n, ok := p.Nodes[uid]
	return n, ok
}

// Graph is the per-patient reference graph of a scan.
type Graph struct {
	Patients   map[string]*Patient
	PatientIDs []string
	Issues     []report.Issue
	Classifier Classifier
}

// Patient returns one partition.
func (g *Graph) Patient(id string) (*Patient, bool) {
	p, ok := g.Patients[id]
	return p, ok
}

// Records returns the canonical records of the graph sorted by path.
// Building a graph from them yields an identical graph.
func (g *Graph) Records() []*scan.FileRecord {
	var out []*scan.FileRecord
	for _, id := range g.PatientIDs {
		p := g.Patients[id]
		for _, uid := range p.UIDs {
			out = append(out, p.Nodes[uid].Record)
		}
	}
	scan.SortRecords(out)
	return out
}

// EdgeCount is the number of edges across all patients.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, p := range g.Patients {
		n += len(p.Edges)
	}
	return n
}

// Option configures Build.
type Option func(*builder)

// WithClassifier sets the modality classifier.
func WithClassifier(c Classifier) Option {
	return func(b *builder) { b.classifier = c }
}

// WithLogger sets the logger used for warnings.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(b *builder) { b.logger = logger }
}

type builder struct {
	classifier Classifier
	logger     *zap.SugaredLogger

	// owners map instance, series and declared frame UIDs to the first
	// patient holding them
	instanceOwner map[string]string
	seriesOwner   map[string]string
	frameOwner    map[string]string
}

// PatientKey returns the partition key of a record.
func PatientKey(rec *scan.FileRecord) string {
	if id := strings.TrimSpace(rec.PatientID); id != "" {
		return id
	}
	return UnknownPatient
}

// Build partitions records by patient and derives edges. The result does not
// depend on the order of records.
func Build(records []*scan.FileRecord, opts ...Option) *Graph {
	b := &builder{
		classifier:    DefaultClassifier(),
		logger:        zap.NewNop().Sugar(),
		instanceOwner: make(map[string]string),
		seriesOwner:   make(map[string]string),
		frameOwner:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}

	sorted := slices.DeleteFunc(slices.Clone(records), func(r *scan.FileRecord) bool { return r == nil })
	sort.SliceStable(sorted, func(i, j int) bool {
		a, c := sorted[i], sorted[j]
		if ka, kc := PatientKey(a), PatientKey(c); ka != kc {
			return ka < kc
		}
		if a.SOPInstanceUID != c.SOPInstanceUID {
			return a.SOPInstanceUID < c.SOPInstanceUID
		}
		return a.Path < c.Path
	})

	g := &Graph{Patients: make(map[string]*Patient), Classifier: b.classifier}
	for _, rec := range sorted {
		if rec.SOPInstanceUID == "" {
			g.Issues = append(g.Issues, report.FromError(errs.NewMissingTag(rec.Path, rec.Modality, "SOPInstanceUID")))
			continue
		}
		key := PatientKey(rec)
		p, ok := g.Patients[key]
		if !ok {
			p = newPatient(key)
			g.Patients[key] = p
			g.PatientIDs = append(g.PatientIDs, key)
		}
		if kept, dup := p.Nodes[rec.SOPInstanceUID]; dup {
			err := &errs.DuplicateInstanceError{UID: rec.SOPInstanceUID, Kept: kept.Record.Path, Path: rec.Path}
			b.logger.Warnf("Ignoring %v", err)
			issue := report.FromError(err)
			issue.PatientID = key
			g.Issues = append(g.Issues, issue)
			continue
		}
		p.add(&Node{Record: rec, Kind: b.classifier.Kind(rec.Modality)})
	}
	sort.Strings(g.PatientIDs)

	for _, id := range g.PatientIDs {
		p := g.Patients[id]
		p.finishIndex()
		for _, uid := range p.UIDs {
			if _, seen := b.instanceOwner[uid]; !seen {
				b.instanceOwner[uid] = id
			}
		}
		for series := range p.Series {
			if _, seen := b.seriesOwner[series]; !seen {
				b.seriesOwner[series] = id
			}
		}
		for frame := range p.Frames {
			if _, seen := b.frameOwner[frame]; !seen {
				b.frameOwner[frame] = id
			}
		}
	}
	for _, id := range g.PatientIDs {
		g.Issues = append(g.Issues, b.link(g.Patients[id])...)
	}
	report.SortIssues(g.Issues)
	return g
}

func newPatient(id string) *Patient {
	return &Patient{
		ID:     id,
		Nodes:  make(map[string]*Node),
		Series: make(map[string][]string),
		Frames: make(map[string][]string),
		Out:    make(map[string][]Edge),
		In:     make(map[string][]Edge),
	}
}

func (p *Patient) add(n *Node) {
	uid := n.UID()
	p.Nodes[uid] = n
	p.UIDs = append(p.UIDs, uid)
	if n.Record.SeriesUID != "" {
		p.Series[n.Record.SeriesUID] = append(p.Series[n.Record.SeriesUID], uid)
	}
	if n.Record.FrameOfReferenceUID != "" {
		p.Frames[n.Record.FrameOfReferenceUID] = append(p.Frames[n.Record.FrameOfReferenceUID], uid)
	}
}

func (p *Patient) finishIndex() {
	sort.Strings(p.UIDs)
	for _, members := range p.Series {
		sort.Strings(members)
	}
	for _, members := range p.Frames {
		sort.Strings(members)
	}
	// prefer the name that sorts first so the choice is order independent
	for _, uid := range p.UIDs {
		if name := p.Nodes[uid].Record.PatientName; name != "" && (p.Name == "" || name < p.Name) {
			p.Name = name
		}
	}
}

// link derives the edges of one patient.
func (b *builder) link(p *Patient) []report.Issue {
	var issues []report.Issue

	for _, uid := range p.UIDs {
		n := p.Nodes[uid]
		refs := n.Record.Refs
		targets := make(map[string]int)
		var out []Edge

		addEdge := func(to string, field Field, fallback bool) {
			target := p.Nodes[to]
			e := Edge{From: uid, To: to, FromKind: n.Kind, ToKind: target.Kind, Field: field, Fallback: fallback}
			if i, seen := targets[to]; seen {
				if out[i].Fallback && !fallback {
					out[i] = e
				}
				return
			}
			targets[to] = len(out)
			out = append(out, e)
		}
		missing := func(ref, owner string) {
			if owner != "" && owner != p.ID {
				n.CrossPatient = append(n.CrossPatient, ref)
				err := errs.NewCrossPatientReference(uid, p.ID, ref, owner)
				b.logger.Warnf("Ignoring reference: %v", err)
				issue := report.FromError(err)
				issue.Path = n.Record.Path
				issues = append(issues, issue)
				return
			}
			n.Dangling = append(n.Dangling, ref)
		}
		direct := func(uids []string, field Field, fallback bool) {
			for _, ref := range uids {
				switch {
				case ref == uid:
					n.SelfReference = true
				case p.Nodes[ref] != nil:
					addEdge(ref, field, fallback)
				default:
					missing(ref, b.instanceOwner[ref])
				}
			}
		}

		direct(refs.Plans, FieldPlan, false)
		direct(refs.StructureSets, FieldStructureSet, n.Kind == KindDose)
		direct(refs.Doses, FieldDose, false)
		for _, series := range refs.Series {
			members, ok := p.Series[series]
			if !ok {
				missing(series, b.seriesOwner[series])
				continue
			}
			for _, member := range members {
				if member != uid {
					addEdge(member, FieldSeries, false)
				}
			}
		}
		direct(refs.Instances, FieldInstance, false)
		for _, frame := range refs.FramesOfReference {
			_, local := p.Frames[frame]
			if owner := b.frameOwner[frame]; !local && owner != "" {
				missing(frame, owner)
				continue
			}
			n.ReferencedFrames = append(n.ReferencedFrames, frame)
		}

		n.Dangling = sortedUnique(n.Dangling)
		n.CrossPatient = sortedUnique(n.CrossPatient)
		p.Edges = append(p.Edges, out...)
	}

	sort.Slice(p.Edges, func(i, j int) bool {
		if p.Edges[i].From != p.Edges[j].From {
			return p.Edges[i].From < p.Edges[j].From
		}
		return p.Edges[i].To < p.Edges[j].To
	})
	for _, e := range p.Edges {
		p.Out[e.From] = append(p.Out[e.From], e)
		p.In[e.To] = append(p.In[e.To], e)
	}
	return issues
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	slices.Sort(in)
	return slices.Compact(in)
}
