// Package link assigns every record of a reference graph to one or more
// frame-of-reference groups and assembles the per-patient RT hierarchy.
package link

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/GrigoryEvko/rtlink/internal/errs"
	"github.com/GrigoryEvko/rtlink/internal/graph"
	"github.com/GrigoryEvko/rtlink/internal/report"
)

// DefaultMaxHops bounds the reference walk from a record to its frame.
const DefaultMaxHops = 8

// Options configure Resolve.
type Options struct {
	MaxHops int
	Logger  *zap.SugaredLogger
}

// Via tells how a record obtained its frame of reference.
type Via string

const (
	// ViaDeclared records carry FrameOfReferenceUID themselves.
	ViaDeclared Via = "declared"
	// ViaReferencedFrame records name a frame in ReferencedFrameOfReferenceSequence.
	ViaReferencedFrame Via = "referenced-frame"
	// ViaReference records inherit the frame of the nearest record they reference.
	ViaReference Via = "reference"
)

// Assignment is the frame-of-reference membership of one record. Frames
// holds more than one UID when anchors in different groups are equally near.
type Assignment struct {
	UID      string   `json:"uid"`
	Frames   []string `json:"frames"`
	Hops     int      `json:"hops"`
	Via      Via      `json:"via"`
	Anchors  []string `json:"anchors,omitempty"`
	Fallback bool     `json:"fallback,omitempty"`
}

// Unresolved is a record the linker could not place.
type Unresolved struct {
	PatientID string                `json:"patient_id"`
	UID       string                `json:"uid"`
	Path      string                `json:"path"`
	Kind      graph.Kind            `json:"kind"`
	Reason    errs.UnresolvedReason `json:"reason"`
	Hops      int                   `json:"hops"`
	Missing   []string              `json:"missing,omitempty"`
}

// Err converts u into its typed error.
func (u Unresolved) Err() error {
	return errs.NewUnresolvedReference(u.UID, u.Path, u.Reason, u.Hops, u.Missing)
}

// Resolution is the linker output. It is never mutated after Resolve
// returns.
type Resolution struct {
	Graph      *graph.Graph
	MaxHops    int
	PatientIDs []string
	Unresolved []Unresolved
	Issues     []report.Issue

	assignments map[string]map[string]*Assignment
	trees       map[string]*PatientTree
}

// Assignment returns the frame assignment of a record.
func (r *Resolution) Assignment(patientID, uid string) (*Assignment, bool) {
	a, ok := r.assignments[patientID][uid]
	return a, ok
}

// Assignments returns the assignments of one patient sorted by UID.
func (r *Resolution) Assignments(patientID string) []*Assignment {
	byUID := r.assignments[patientID]
	out := make([]*Assignment, 0, len(byUID))
	for _, a := range byUID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// Linked is the number of records with at least one frame.
func (r *Resolution) Linked() int {
	n := 0
	for _, byUID := range r.assignments {
		n += len(byUID)
	}
	return n
}

// FrameGroups is the number of distinct (patient, frame) groups.
func (r *Resolution) FrameGroups() int {
	n := 0
	for _, t := range r.trees {
		n += len(t.Frames)
	}
	return n
}

type anchor struct {
	frame string
	via   Via
}

type linker struct {
	maxHops int
	logger  *zap.SugaredLogger
	res     *Resolution
}

// Resolve links every record of g. Records that declare or reference a frame
// are anchors at hop 0. Every other record follows each of its references to
// the nearest anchors within MaxHops and joins all frames found that way.
// Resolve is a pure function of g: resolving the same graph twice gives
// equal results.
func Resolve(g *graph.Graph, opts Options) *Resolution {
	if opts.MaxHops <= 0 {
		opts.MaxHops = DefaultMaxHops
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	l := &linker{
		maxHops: opts.MaxHops,
		logger:  opts.Logger,
		res: &Resolution{
			Graph:       g,
			MaxHops:     opts.MaxHops,
			PatientIDs:  append([]string(nil), g.PatientIDs...),
			assignments: make(map[string]map[string]*Assignment),
			trees:       make(map[string]*PatientTree),
		},
	}
	for _, id := range g.PatientIDs {
		l.resolvePatient(g.Patients[id])
	}
	report.SortIssues(l.res.Issues)
	return l.res
}

func (l *linker) resolvePatient(p *graph.Patient) {
	assigned := make(map[string]*Assignment)
	anchors := make(map[string]anchor)

	for _, uid := range p.UIDs {
		n := p.Nodes[uid]
		if f := n.Record.FrameOfReferenceUID; f != "" {
			anchors[uid] = anchor{frame: f, via: ViaDeclared}
			continue
		}
		refs := n.ReferencedFrames
		if len(refs) == 0 {
			continue
		}
		anchors[uid] = anchor{frame: refs[0], via: ViaReferencedFrame}
		if len(refs) > 1 {
			l.logger.Warnf("%s references %d frames of reference, using %s", n.Record.Path, len(refs), refs[0])
			l.res.Issues = append(l.res.Issues, report.Issue{
				Kind:      report.KindMultipleReferencedFrames,
				Path:      n.Record.Path,
				UID:       uid,
				PatientID: p.ID,
				Detail:    fmt.Sprintf("references frames %v, using %s", refs, refs[0]),
			})
		}
	}
	for uid, a := range anchors {
		assigned[uid] = &Assignment{UID: uid, Frames: []string{a.frame}, Via: a.via}
	}

	var cyclic map[string]bool
	for _, uid := range p.UIDs {
		if _, ok := anchors[uid]; ok {
			continue
		}
		w := l.walk(p, anchors, uid, false)
		if w.frames == nil && hasFallback(p, w.visited) {
			w = l.walk(p, anchors, uid, true)
		}
		if w.frames != nil {
			assigned[uid] = &Assignment{
				UID:      uid,
				Frames:   w.frames,
				Hops:     w.hops,
				Via:      ViaReference,
				Anchors:  w.anchors,
				Fallback: w.fallback,
			}
			continue
		}

		if cyclic == nil {
			cyclic = cyclicNodes(p)
		}
		u := l.classify(p, uid, w, cyclic)
		l.res.Unresolved = append(l.res.Unresolved, u)
		err := u.Err()
		l.logger.Warnf("Unresolved: %v", err)
		issue := report.FromError(err)
		issue.PatientID = p.ID
		l.res.Issues = append(l.res.Issues, issue)
	}

	for _, uid := range p.UIDs {
		n := p.Nodes[uid]
		if _, ok := assigned[uid]; !ok || len(n.Dangling) == 0 {
			continue
		}
		err := errs.NewDanglingReference(uid, n.Record.Path, n.Dangling)
		l.logger.Warnf("Linked with missing references: %v", err)
		issue := report.FromError(err)
		issue.PatientID = p.ID
		l.res.Issues = append(l.res.Issues, issue)
	}

	l.res.assignments[p.ID] = assigned
	l.res.trees[p.ID] = buildTree(p, assigned)
}

type walkResult struct {
	frames   []string
	anchors  []string
	hops     int
	capped   bool
	fallback bool
	visited  []string
}

// walk resolves start one reference at a time. Each out-edge opens a branch
// that is searched breadth-first for its nearest anchors; the frames of all
// successful branches are merged, so a dose that references two plans joins
// the groups of both. Fallback edges are only taken when fallback is set.
func (l *linker) walk(p *graph.Patient, anchors map[string]anchor, start string, fallback bool) walkResult {
	out := walkResult{visited: []string{start}}
	seen := map[string]bool{start: true}
	var frames, found []string
	best := 0

	for _, e := range p.Out[start] {
		if e.Fallback && !fallback {
			continue
		}
		b := l.branch(p, anchors, start, e.To, fallback)
		for _, v := range b.visited {
			if !seen[v] {
				seen[v] = true
				out.visited = append(out.visited, v)
			}
		}
		if b.frames == nil {
			out.capped = out.capped || b.capped
			out.hops = max(out.hops, b.hops)
			continue
		}
		frames = append(frames, b.frames...)
		found = append(found, b.anchors...)
		if best == 0 || b.hops < best {
			best = b.hops
		}
	}

	if frames != nil {
		return walkResult{
			frames:   uniqueSorted(frames),
			anchors:  uniqueSorted(found),
			hops:     best,
			fallback: fallback,
			visited:  out.visited,
		}
	}
	return out
}

// branch searches from target, one hop away from start, and stops at the
// first hop that reaches any anchor. The visited set bounds it on cycles.
func (l *linker) branch(p *graph.Patient, anchors map[string]anchor, start, target string, fallback bool) walkResult {
	if a, ok := anchors[target]; ok {
		return walkResult{frames: []string{a.frame}, anchors: []string{target}, hops: 1, visited: []string{target}}
	}

	visited := map[string]bool{start: true, target: true}
	order := []string{target}
	frontier := []string{target}
	depth := 1

	for hop := 2; hop <= l.maxHops && len(frontier) > 0; hop++ {
		var next, found []string
		for _, uid := range frontier {
			for _, e := range p.Out[uid] {
				if (e.Fallback && !fallback) || visited[e.To] {
					continue
				}
				visited[e.To] = true
				order = append(order, e.To)
				if _, ok := anchors[e.To]; ok {
					found = append(found, e.To)
				} else {
					next = append(next, e.To)
				}
			}
		}
		if len(found) > 0 {
			sort.Strings(found)
			frames := make([]string, 0, len(found))
			for _, uid := range found {
				frames = append(frames, anchors[uid].frame)
			}
			return walkResult{frames: uniqueSorted(frames), anchors: found, hops: hop, visited: order}
		}
		if len(next) > 0 {
			depth = hop
		}
		frontier = next
	}

	capped := false
	for _, uid := range frontier {
		for _, e := range p.Out[uid] {
			if (!e.Fallback || fallback) && !visited[e.To] {
				capped = true
			}
		}
	}
	if capped {
		depth = l.maxHops
	}
	return walkResult{capped: capped, hops: depth, visited: order}
}

func hasFallback(p *graph.Patient, visited []string) bool {
	for _, uid := range visited {
		for _, e := range p.Out[uid] {
			if e.Fallback {
				return true
			}
		}
	}
	return false
}

// classify picks the reason a walk failed. The hop cap is checked first, as
// a capped walk has not seen the whole reachable set.
func (l *linker) classify(p *graph.Patient, uid string, w walkResult, cyclic map[string]bool) Unresolved {
	n := p.Nodes[uid]
	u := Unresolved{
		PatientID: p.ID,
		UID:       uid,
		Path:      n.Record.Path,
		Kind:      n.Kind,
	}

	var missing []string
	onCycle := false
	for _, v := range w.visited {
		vn := p.Nodes[v]
		missing = append(missing, vn.Dangling...)
		missing = append(missing, vn.CrossPatient...)
		onCycle = onCycle || cyclic[v]
	}
	u.Missing = uniqueSorted(missing)

	u.Hops = w.hops
	switch {
	case w.capped:
		u.Reason = errs.ReasonHopCap
	case onCycle:
		u.Reason = errs.ReasonCycle
	case len(u.Missing) > 0:
		u.Reason = errs.ReasonDangling
	case len(p.Out[uid]) == 0:
		u.Reason = errs.ReasonNoReferences
	default:
		u.Reason = errs.ReasonNoAnchor
	}
	return u
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
