package goals

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"go.uber.org/zap"

	"github.com/GrigoryEvko/rtlink/internal/report"
	"github.com/GrigoryEvko/rtlink/internal/scan"
)

const (
	// DefaultThreshold is the minimum similarity a fuzzy match needs.
	DefaultThreshold = 0.85
	// DefaultMetric is the similarity metric used when none is configured.
	DefaultMetric = "levenshtein"
	// DefaultUnmatchedName labels structures no table entry matches.
	DefaultUnmatchedName = "MISSING"
)

// Method tells how a structure was matched.
type Method string

const (
	MethodNone   Method = "none"
	MethodExact  Method = "exact"
	MethodManual Method = "manual"
	MethodRule   Method = "rule"
	MethodAlias  Method = "alias"
	MethodFuzzy  Method = "fuzzy"
)

// Source is the table a match came from.
type Source string

const (
	SourcePlan         Source = "plan"
	SourceStructureSet Source = "structure-set"
	SourceAliases      Source = "aliases"
)

func (s Source) rank() int {
	switch s {
	case SourcePlan:
		return 0
	case SourceStructureSet:
		return 1
	default:
		return 2
	}
}

// StructureMatch binds one ROI of a structure set to a canonical name.
type StructureMatch struct {
	ROINumber int     `json:"roi_number"`
	ROIName   string  `json:"roi_name"`
	Matched   bool    `json:"matched"`
	Canonical string  `json:"canonical"`
	Method    Method  `json:"method"`
	Score     float64 `json:"score"`
	Source    Source  `json:"source,omitempty"`
	Goals     []Goal  `json:"goals,omitempty"`
}

// Options configure a Matcher.
type Options struct {
	Threshold     float64
	Metric        string
	UnmatchedName string
	Logger        *zap.SugaredLogger
}

// Matcher matches structure names against a goal table and an alias table.
// It never modifies the records it is given.
type Matcher struct {
	table         string
	tables        *TableCache
	aliases       *Aliases
	metric        strutil.StringMetric
	threshold     float64
	unmatchedName string
	logger        *zap.SugaredLogger

	mu       sync.Mutex
	reported *Document
}

// NewMetric returns the similarity metric of the given name.
func NewMetric(name string) (strutil.StringMetric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "levenshtein":
		return metrics.NewLevenshtein(), nil
	case "jaro":
		return metrics.NewJaro(), nil
	case "jaro-winkler", "jarowinkler":
		return metrics.NewJaroWinkler(), nil
	case "sorensen-dice", "dice":
		return metrics.NewSorensenDice(), nil
	case "jaccard":
		return metrics.NewJaccard(), nil
	case "smith-waterman-gotoh", "swg":
		return metrics.NewSmithWatermanGotoh(), nil
	default:
		return nil, fmt.Errorf("unknown similarity metric %q", name)
	}
}

// NewMatcher creates a matcher. table is the goal table path and may be
// empty; tables caches its decoded contents and may be nil when table is
// empty. aliases may be nil.
func NewMatcher(table string, tables *TableCache, aliases *Aliases, opts Options) (*Matcher, error) {
	metric, err := NewMetric(opts.Metric)
	if err != nil {
		return nil, err
	}
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = DefaultThreshold
	}
	if opts.UnmatchedName == "" {
		opts.UnmatchedName = DefaultUnmatchedName
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if tables == nil {
		tables = NewTableCache(0)
	}
	if aliases == nil {
		aliases = NewAliases(nil)
	}
	return &Matcher{
		table:         table,
		tables:        tables,
		aliases:       aliases,
		metric:        metric,
		threshold:     opts.Threshold,
		unmatchedName: opts.UnmatchedName,
		logger:        opts.Logger,
	}, nil
}

// Aliases is the alias table the matcher consults.
func (m *Matcher) Aliases() *Aliases {
	return m.aliases
}

// Table returns the current goal table, or nil when none is configured.
// The dropped entries of a table are logged once per decoded version.
func (m *Matcher) Table() (*Document, error) {
	if m.table == "" {
		return nil, nil
	}
	doc, err := m.tables.Load(m.table)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.reported != doc {
		m.reported = doc
		for _, issue := range doc.Issues {
			m.logger.Warnf("Goal table entry dropped: %s", issue.Detail)
		}
	}
	m.mu.Unlock()
	return doc, nil
}

// Issues returns the entries the current goal table dropped.
func (m *Matcher) Issues() ([]report.Issue, error) {
	doc, err := m.Table()
	if err != nil || doc == nil {
		return nil, err
	}
	return append([]report.Issue(nil), doc.Issues...), nil
}

// Normalize lowercases name, trims it and collapses internal whitespace.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Match binds every ROI of structureSet. Objectives come from the patient's
// table for the structure set label, overridden by the tables of planLabels
// in order. Results are in ROI number order.
func (m *Matcher) Match(patientID string, structureSet *scan.FileRecord, planLabels []string) ([]StructureMatch, error) {
	doc, err := m.Table()
	if err != nil {
		return nil, err
	}
	pt, _ := doc.Patient(patientID)
	objectives, sources := pt.Merge(structureSet.Label, planLabels)

	rois := append([]scan.ROI(nil), structureSet.ROIs...)
	sort.SliceStable(rois, func(i, j int) bool { return rois[i].Number < rois[j].Number })

	out := make([]StructureMatch, 0, len(rois))
	for _, roi := range rois {
		sm := m.matchOne(roi, objectives, sources)
		if sm.Matched {
			m.logger.Debugf("ROI %q in %s matched %s (%s, %.2f)", roi.Name, structureSet.SOPInstanceUID, sm.Canonical, sm.Method, sm.Score)
		}
		out = append(out, sm)
	}
	return out, nil
}

type candidate struct {
	canonical string
	source    Source
}

func (m *Matcher) matchOne(roi scan.ROI, objectives Objectives, sources map[string]Source) StructureMatch {
	sm := StructureMatch{ROINumber: roi.Number, ROIName: roi.Name}
	name := Normalize(roi.Name)
	if name == "" {
		return m.unmatched(sm)
	}
	names := objectives.Names()

	bind := func(c candidate, method Method, score float64) StructureMatch {
		sm.Matched = true
		sm.Canonical = c.canonical
		sm.Method = method
		sm.Score = score
		sm.Source = c.source
		if obj, ok := objectives[c.canonical]; ok {
			sm.Goals = obj.Goals
			if c.source == SourceAliases {
				sm.Source = sources[c.canonical]
			}
		}
		return sm
	}

	formatted := RuleName(roi.Name)
	same := func(n string) bool {
		return Normalize(n) == name || (formatted != "" && RuleName(n) == formatted)
	}

	var exact, manual []candidate
	for _, canonical := range names {
		c := candidate{canonical: canonical, source: sources[canonical]}
		if same(canonical) {
			exact = append(exact, c)
		}
		for _, n := range objectives[canonical].ManualNames {
			if same(n) {
				manual = append(manual, c)
				break
			}
		}
	}
	// outline and scratch rules go before the table
	if canonical, ok := External(roi.Type, formatted); ok {
		return bind(candidate{canonical: canonical, source: sources[canonical]}, MethodRule, 1)
	}
	if IsScratch(formatted) {
		return m.unmatched(sm)
	}

	if c, ok := first(exact); ok {
		return bind(c, MethodExact, 1)
	}
	if c, ok := first(manual); ok {
		return bind(c, MethodManual, 1)
	}

	if canonical, ok := Target(formatted); ok {
		return bind(candidate{canonical: canonical, source: sources[canonical]}, MethodRule, 1)
	}
	if canonical, ok := Support(formatted); ok {
		return bind(candidate{canonical: canonical, source: sources[canonical]}, MethodRule, 1)
	}

	hits := m.aliases.Lookup(formatted)
	if len(hits) == 0 && formatted != FormatName(roi.Name) {
		hits = m.aliases.Lookup(roi.Name)
	}
	if len(hits) > 0 {
		// prefer a canonical name the table has goals for
		pick := hits[0]
		for _, h := range hits {
			if _, ok := objectives[h]; ok {
				pick = h
				break
			}
		}
		return bind(candidate{canonical: pick, source: SourceAliases}, MethodAlias, 1)
	}

	best, score := m.fuzzy(name, names, objectives, sources)
	if score >= m.threshold {
		return bind(best, MethodFuzzy, score)
	}
	sm.Score = score
	return m.unmatched(sm)
}

// fuzzy scores every table and alias name against name and returns the best
// candidate. Ties go to the higher priority source, then the smaller
// canonical name.
func (m *Matcher) fuzzy(name string, names []string, objectives Objectives, sources map[string]Source) (candidate, float64) {
	var best candidate
	bestScore := -1.0
	consider := func(c candidate, s float64) {
		switch {
		case s > bestScore:
		case s == bestScore && c.source.rank() < best.source.rank():
		case s == bestScore && c.source == best.source && c.canonical < best.canonical:
		default:
			return
		}
		best, bestScore = c, s
	}

	for _, canonical := range names {
		c := candidate{canonical: canonical, source: sources[canonical]}
		consider(c, strutil.Similarity(name, Normalize(canonical), m.metric))
		for _, n := range objectives[canonical].ManualNames {
			consider(c, strutil.Similarity(name, Normalize(n), m.metric))
		}
	}

	formatted := FormatName(name)
	for _, canonical := range m.aliases.Canonicals() {
		c := candidate{canonical: canonical, source: SourceAliases}
		consider(c, strutil.Similarity(formatted, FormatName(canonical), m.metric))
		for _, n := range m.aliases.Names(canonical) {
			consider(c, strutil.Similarity(formatted, n, m.metric))
		}
	}
	if bestScore < 0 {
		return candidate{}, 0
	}
	return best, bestScore
}

func (m *Matcher) unmatched(sm StructureMatch) StructureMatch {
	sm.Matched = false
	sm.Canonical = m.unmatchedName
	sm.Method = MethodNone
	return sm
}

// first returns the highest priority candidate.
func first(cs []candidate) (candidate, bool) {
	if len(cs) == 0 {
		return candidate{}, false
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].source.rank() != cs[j].source.rank() {
			return cs[i].source.rank() < cs[j].source.rank()
		}
		return cs[i].canonical < cs[j].canonical
	})
	return cs[0], true
}
