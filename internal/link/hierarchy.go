package link

import (
	"sort"
	"strings"

	"github.com/GrigoryEvko/rtlink/internal/graph"
	"github.com/GrigoryEvko/rtlink/internal/scan"
)

// Series is an image series inside a frame group.
type Series struct {
	UID       string             `json:"uid"`
	Modality  string             `json:"modality"`
	Instances []*scan.FileRecord `json:"instances"`
}

// StructureSet is an RTSTRUCT with its derived references. A structure set
// no plan references is kept with an empty Plans list.
type StructureSet struct {
	Record *scan.FileRecord `json:"record"`
	Series []string         `json:"series,omitempty"`
	Plans  []string         `json:"plans,omitempty"`
}

// Plan is an RTPLAN with its derived references.
type Plan struct {
	Record        *scan.FileRecord `json:"record"`
	StructureSets []string         `json:"structure_sets,omitempty"`
	Series        []string         `json:"series,omitempty"`
	Doses         []string         `json:"doses,omitempty"`
}

// Dose is an RTDOSE. Beam doses carry DoseSummationType BEAM.
type Dose struct {
	Record        *scan.FileRecord `json:"record"`
	Beam          bool             `json:"beam,omitempty"`
	Plans         []string         `json:"plans,omitempty"`
	StructureSets []string         `json:"structure_sets,omitempty"`
	Series        []string         `json:"series,omitempty"`
}

// FrameGroup holds every record assigned to one frame of reference. A record
// assigned to several frames appears in each of them.
type FrameGroup struct {
	UID           string             `json:"uid"`
	Series        []*Series          `json:"series,omitempty"`
	StructureSets []*StructureSet    `json:"structure_sets,omitempty"`
	Plans         []*Plan            `json:"plans,omitempty"`
	PlanDoses     []*Dose            `json:"plan_doses,omitempty"`
	BeamDoses     map[string][]*Dose `json:"beam_doses,omitempty"`
	Others        []*scan.FileRecord `json:"others,omitempty"`
}

// PatientTree is the RT hierarchy of one patient.
type PatientTree struct {
	ID         string        `json:"id"`
	Name       string        `json:"name,omitempty"`
	Frames     []*FrameGroup `json:"frames"`
	Unresolved []string      `json:"unresolved,omitempty"`

	frames map[string]*FrameGroup
}

// Frame returns the group of a frame of reference.
func (t *PatientTree) Frame(uid string) (*FrameGroup, bool) {
	fg, ok := t.frames[uid]
	return fg, ok
}

// Patient returns the hierarchy of one patient.
func (r *Resolution) Patient(id string) (*PatientTree, bool) {
	t, ok := r.trees[id]
	return t, ok
}

// Patients returns every patient hierarchy sorted by ID.
func (r *Resolution) Patients() []*PatientTree {
	out := make([]*PatientTree, 0, len(r.PatientIDs))
	for _, id := range r.PatientIDs {
		out = append(out, r.trees[id])
	}
	return out
}

// FrameGroup looks up one (patient, frame) group.
func (r *Resolution) FrameGroup(patientID, frameUID string) (*FrameGroup, bool) {
	t, ok := r.trees[patientID]
	if !ok {
		return nil, false
	}
	return t.Frame(frameUID)
}

// ByModality returns every record of the given modality sorted by path.
func (r *Resolution) ByModality(modality string) []*scan.FileRecord {
	modality = strings.ToUpper(modality)
	var out []*scan.FileRecord
	for _, rec := range r.Graph.Records() {
		if rec.Modality == modality {
			out = append(out, rec)
		}
	}
	return out
}

// buildTree groups the assigned records of p by frame and derives the
// plan, structure set and series relations from the edges.
func buildTree(p *graph.Patient, assigned map[string]*Assignment) *PatientTree {
	t := &PatientTree{ID: p.ID, Name: p.Name, frames: make(map[string]*FrameGroup)}
	group := func(frame string) *FrameGroup {
		fg, ok := t.frames[frame]
		if !ok {
			fg = &FrameGroup{UID: frame, BeamDoses: make(map[string][]*Dose)}
			t.frames[frame] = fg
		}
		return fg
	}

	d := deriver{p: p}
	for _, uid := range p.UIDs {
		a, ok := assigned[uid]
		if !ok {
			t.Unresolved = append(t.Unresolved, uid)
			continue
		}
		n := p.Nodes[uid]
		for _, frame := range a.Frames {
			fg := group(frame)
			switch n.Kind {
			case graph.KindImage:
				fg.addImage(n.Record)
			case graph.KindStructureSet:
				fg.StructureSets = append(fg.StructureSets, &StructureSet{
					Record: n.Record,
					Series: d.seriesOf(uid),
					Plans:  d.sources(uid, graph.KindPlan),
				})
			case graph.KindPlan:
				structs := d.targets(uid, graph.KindStructureSet)
				fg.Plans = append(fg.Plans, &Plan{
					Record:        n.Record,
					StructureSets: structs,
					Series:        d.seriesOfAll(structs),
					Doses:         d.sources(uid, graph.KindDose),
				})
			case graph.KindDose:
				plans := d.targets(uid, graph.KindPlan)
				structs := d.targets(uid, graph.KindStructureSet)
				for _, plan := range plans {
					structs = append(structs, d.targets(plan, graph.KindStructureSet)...)
				}
				structs = uniqueSorted(structs)
				dose := &Dose{
					Record:        n.Record,
					Beam:          strings.EqualFold(n.Record.DoseSummationType, "BEAM"),
					Plans:         plans,
					StructureSets: structs,
					Series:        d.seriesOfAll(structs),
				}
				if dose.Beam && len(plans) > 0 {
					for _, plan := range plans {
						fg.BeamDoses[plan] = append(fg.BeamDoses[plan], dose)
					}
				} else {
					fg.PlanDoses = append(fg.PlanDoses, dose)
				}
			default:
				fg.Others = append(fg.Others, n.Record)
			}
		}
	}

	frames := make([]string, 0, len(t.frames))
	for uid := range t.frames {
		frames = append(frames, uid)
	}
	sort.Strings(frames)
	for _, uid := range frames {
		fg := t.frames[uid]
		sort.Slice(fg.Series, func(i, j int) bool { return fg.Series[i].UID < fg.Series[j].UID })
		for _, s := range fg.Series {
			scan.SortRecords(s.Instances)
		}
		t.Frames = append(t.Frames, fg)
	}
	return t
}

func (fg *FrameGroup) addImage(rec *scan.FileRecord) {
	for _, s := range fg.Series {
		if s.UID == rec.SeriesUID {
			s.Instances = append(s.Instances, rec)
			return
		}
	}
	fg.Series = append(fg.Series, &Series{UID: rec.SeriesUID, Modality: rec.Modality, Instances: []*scan.FileRecord{rec}})
}

// deriver answers relation queries over one patient's edges.
type deriver struct {
	p *graph.Patient
}

// targets lists the UIDs of the given kind that uid references.
func (d deriver) targets(uid string, kind graph.Kind) []string {
	var out []string
	for _, e := range d.p.Out[uid] {
		if e.ToKind == kind {
			out = append(out, e.To)
		}
	}
	return uniqueSorted(out)
}

// sources lists the UIDs of the given kind that reference uid.
func (d deriver) sources(uid string, kind graph.Kind) []string {
	var out []string
	for _, e := range d.p.In[uid] {
		if e.FromKind == kind {
			out = append(out, e.From)
		}
	}
	return uniqueSorted(out)
}

// seriesOf lists the image series a structure set references.
func (d deriver) seriesOf(uid string) []string {
	var out []string
	for _, e := range d.p.Out[uid] {
		if e.ToKind == graph.KindImage {
			if s := d.p.Nodes[e.To].Record.SeriesUID; s != "" {
				out = append(out, s)
			}
		}
	}
	return uniqueSorted(out)
}

func (d deriver) seriesOfAll(structs []string) []string {
	var out []string
	for _, uid := range structs {
		out = append(out, d.seriesOf(uid)...)
	}
	return uniqueSorted(out)
}
