package link

import "slices"

// pathSet accumulates paths in first-seen order without duplicates.
type pathSet struct {
	seen  map[string]bool
	paths []string
}

func (s *pathSet) add(paths ...string) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	for _, p := range paths {
		if p == "" || s.seen[p] {
			continue
		}
		s.seen[p] = true
		s.paths = append(s.paths, p)
	}
}

// ImagePaths returns the files of every image series in the group.
func (fg *FrameGroup) ImagePaths() []string {
	var s pathSet
	for _, series := range fg.Series {
		for _, rec := range series.Instances {
			s.add(rec.Path)
		}
	}
	return s.paths
}

// StructureSetPaths returns the files of every structure set in the group.
func (fg *FrameGroup) StructureSetPaths() []string {
	var s pathSet
	for _, ss := range fg.StructureSets {
		s.add(ss.Record.Path)
	}
	return s.paths
}

// PlanPaths returns the files of every plan in the group.
func (fg *FrameGroup) PlanPaths() []string {
	var s pathSet
	for _, plan := range fg.Plans {
		s.add(plan.Record.Path)
	}
	return s.paths
}

// DosePaths returns plan doses followed by beam doses, grouped by plan in
// plan order.
func (fg *FrameGroup) DosePaths() []string {
	var s pathSet
	for _, d := range fg.PlanDoses {
		s.add(d.Record.Path)
	}
	for _, plan := range fg.beamPlanUIDs() {
		for _, d := range fg.BeamDoses[plan] {
			s.add(d.Record.Path)
		}
	}
	return s.paths
}

// Paths returns every file of the group: images, structure sets, plans,
// then doses.
func (fg *FrameGroup) Paths() []string {
	var s pathSet
	s.add(fg.ImagePaths()...)
	s.add(fg.StructureSetPaths()...)
	s.add(fg.PlanPaths()...)
	s.add(fg.DosePaths()...)
	for _, rec := range fg.Others {
		s.add(rec.Path)
	}
	return s.paths
}

// PlanBundlePaths returns the files needed to review one plan: the images
// behind its structure sets, the structure sets, the plan and its doses.
func (fg *FrameGroup) PlanBundlePaths(planUID string) []string {
	var plan *Plan
	for _, p := range fg.Plans {
		if p.Record.SOPInstanceUID == planUID {
			plan = p
			break
		}
	}
	if plan == nil {
		return nil
	}

	var s pathSet
	want := make(map[string]bool, len(plan.Series))
	for _, uid := range plan.Series {
		want[uid] = true
	}
	for _, series := range fg.Series {
		if want[series.UID] {
			for _, rec := range series.Instances {
				s.add(rec.Path)
			}
		}
	}
	structs := make(map[string]bool, len(plan.StructureSets))
	for _, uid := range plan.StructureSets {
		structs[uid] = true
	}
	for _, ss := range fg.StructureSets {
		if structs[ss.Record.SOPInstanceUID] {
			s.add(ss.Record.Path)
		}
	}
	s.add(plan.Record.Path)
	for _, d := range fg.PlanDoses {
		if slices.Contains(d.Plans, planUID) {
			s.add(d.Record.Path)
		}
	}
	for _, d := range fg.BeamDoses[planUID] {
		s.add(d.Record.Path)
	}
	return s.paths
}

func (fg *FrameGroup) beamPlanUIDs() []string {
	var plans []string
	for _, p := range fg.Plans {
		if len(fg.BeamDoses[p.Record.SOPInstanceUID]) > 0 {
			plans = append(plans, p.Record.SOPInstanceUID)
		}
	}
	// beam doses whose plan landed in another group
	seen := make(map[string]bool, len(plans))
	for _, p := range plans {
		seen[p] = true
	}
	var rest []string
	for uid := range fg.BeamDoses {
		if !seen[uid] {
			rest = append(rest, uid)
		}
	}
	return append(plans, uniqueSorted(rest)...)
}
