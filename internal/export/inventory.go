// Package export writes the linked hierarchy of a dataset as an inventory
// table (CSV, TSV, XLSX) or as a JSON document.
package export

import (
	"strconv"
	"strings"

	"github.com/GrigoryEvko/rtlink/internal/graph"
	"github.com/GrigoryEvko/rtlink/internal/link"
	"github.com/GrigoryEvko/rtlink/internal/report"
	"github.com/GrigoryEvko/rtlink/internal/scan"
	"github.com/GrigoryEvko/rtlink/internal/session"
)

// Row statuses.
const (
	StatusLinked     = "linked"
	StatusUnresolved = "unresolved"
)

// Row is one record placed in one frame group. A record in several groups
// has one row per group; an unresolved record has a single row without a
// frame.
type Row struct {
	PatientID        string `json:"patient_id"`
	PatientName      string `json:"patient_name,omitempty"`
	FrameOfReference string `json:"frame_of_reference,omitempty"`
	Kind             string `json:"kind"`
	Modality         string `json:"modality"`
	SOPInstanceUID   string `json:"sop_instance_uid"`
	SeriesUID        string `json:"series_uid,omitempty"`
	Label            string `json:"label,omitempty"`
	Status           string `json:"status"`
	Via              string `json:"via,omitempty"`
	Hops             int    `json:"hops"`
	Fallback         bool   `json:"fallback,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Path             string `json:"path"`
}

var header = []string{
	"PatientID", "PatientName", "FrameOfReferenceUID", "Kind", "Modality",
	"SOPInstanceUID", "SeriesInstanceUID", "Label", "Status", "Via", "Hops",
	"Fallback", "Reason", "Path",
}

func (r Row) values() []string {
	return []string{
		r.PatientID, r.PatientName, r.FrameOfReference, r.Kind, r.Modality,
		r.SOPInstanceUID, r.SeriesUID, r.Label, r.Status, r.Via, strconv.Itoa(r.Hops),
		strconv.FormatBool(r.Fallback), r.Reason, r.Path,
	}
}

// Filter narrows an inventory. Empty fields match everything.
type Filter struct {
	PatientID string
	Modality  string
}

// Inventory is everything an encoder may write.
type Inventory struct {
	Report     *report.ScanReport  `json:"report"`
	Patients   []*link.PatientTree `json:"patients"`
	Unresolved []link.Unresolved   `json:"unresolved,omitempty"`
	Rows       []Row               `json:"-"`
}

// Build collects the inventory of ds.
func Build(ds *session.Dataset, f Filter) *Inventory {
	inv := &Inventory{Report: ds.Report()}
	modality := strings.ToUpper(strings.TrimSpace(f.Modality))
	keep := func(rec *scan.FileRecord) bool {
		return modality == "" || rec.Modality == modality
	}
	g := ds.Resolution().Graph

	for _, tree := range ds.Patients(session.PatientFilter{}) {
		if f.PatientID != "" && tree.ID != f.PatientID {
			continue
		}
		inv.Patients = append(inv.Patients, tree)
		p, _ := g.Patient(tree.ID)

		row := func(frame string, rec *scan.FileRecord) {
			if !keep(rec) {
				return
			}
			r := Row{
				PatientID:        tree.ID,
				PatientName:      tree.Name,
				FrameOfReference: frame,
				Modality:         rec.Modality,
				SOPInstanceUID:   rec.SOPInstanceUID,
				SeriesUID:        rec.SeriesUID,
				Label:            rec.Label,
				Status:           StatusLinked,
				Path:             rec.Path,
			}
			r.Kind = kindOf(p, rec.SOPInstanceUID)
			if a, ok := ds.Assignment(tree.ID, rec.SOPInstanceUID); ok {
				r.Via = string(a.Via)
				r.Hops = a.Hops
				r.Fallback = a.Fallback
			}
			inv.Rows = append(inv.Rows, r)
		}

		for _, fg := range tree.Frames {
			for _, s := range fg.Series {
				for _, rec := range s.Instances {
					row(fg.UID, rec)
				}
			}
			for _, ss := range fg.StructureSets {
				row(fg.UID, ss.Record)
			}
			for _, plan := range fg.Plans {
				row(fg.UID, plan.Record)
			}
			for _, d := range fg.PlanDoses {
				row(fg.UID, d.Record)
			}
			seen := make(map[string]bool)
			for _, plan := range fg.Plans {
				for _, d := range fg.BeamDoses[plan.Record.SOPInstanceUID] {
					if !seen[d.Record.SOPInstanceUID] {
						seen[d.Record.SOPInstanceUID] = true
						row(fg.UID, d.Record)
					}
				}
			}
			for _, rec := range fg.Others {
				row(fg.UID, rec)
			}
		}
	}

	for _, u := range ds.Unresolved() {
		if f.PatientID != "" && u.PatientID != f.PatientID {
			continue
		}
		p, _ := g.Patient(u.PatientID)
		rec := p.Nodes[u.UID].Record
		if !keep(rec) {
			continue
		}
		inv.Unresolved = append(inv.Unresolved, u)
		inv.Rows = append(inv.Rows, Row{
			PatientID:      u.PatientID,
			PatientName:    p.Name,
			Kind:           u.Kind.String(),
			Modality:       rec.Modality,
			SOPInstanceUID: u.UID,
			SeriesUID:      rec.SeriesUID,
			Label:          rec.Label,
			Status:         StatusUnresolved,
			Hops:           u.Hops,
			Reason:         u.Reason.String(),
			Path:           u.Path,
		})
	}
	return inv
}

func kindOf(p *graph.Patient, uid string) string {
	if p == nil {
		return graph.KindOther.String()
	}
	if n, ok := p.Node(uid); ok {
		return n.Kind.String()
	}
	return graph.KindOther.String()
}
