// Package goals attaches clinical goals to the structures of an RT structure
// set. Goals come from a per-patient table keyed by plan and structure set
// label; structure names are matched against the table and a global alias
// table, exactly first and by string similarity second.
package goals

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/GrigoryEvko/rtlink/internal/errs"
	"github.com/GrigoryEvko/rtlink/internal/report"
)

// Document keys of the per-patient table.
const (
	keyPlan         = "PlanId"
	keyStructureSet = "StructureSetId"
)

var (
	metricPattern     = regexp.MustCompile(`^(V|D|DC|CV|CI)_(\d+(?:\.\d+)?)_(cGy|Gy|%|cc)$|^(MAX|MEAN|MIN)$`)
	constraintPattern = regexp.MustCompile(`^(>=|<=|>|<|=)_(\d+(?:\.\d+)?)_(cGy|Gy|%|cc)$`)
)

// unitRule lists the units a metric key may end in and the units its
// constraints may use. CI constraints are bare numbers.
type unitRule struct {
	key   []string
	value []string
}

var unitRules = map[string]unitRule{
	"V":    {key: []string{"cGy", "%"}, value: []string{"%", "cc"}},
	"D":    {key: []string{"cc", "%"}, value: []string{"cGy", "%"}},
	"DC":   {key: []string{"cc", "%"}, value: []string{"cGy", "%"}},
	"CV":   {key: []string{"cGy"}, value: []string{"cc", "%"}},
	"CI":   {key: []string{"cGy"}},
	"MAX":  {value: []string{"cGy", "%"}},
	"MEAN": {value: []string{"cGy", "%"}},
	"MIN":  {value: []string{"cGy", "%"}},
}

// Goal is one parsed constraint such as "V_7000_cGy" with "<_20_%".
type Goal struct {
	Metric     string  `json:"metric"`
	Comparator string  `json:"comparator,omitempty"`
	Threshold  float64 `json:"threshold"`
	Unit       string  `json:"unit,omitempty"`
	Raw        string  `json:"raw"`
}

func (g Goal) String() string {
	return g.Metric + " " + g.Raw
}

// ParseGoal parses one constraint string for metric. Conformity index goals
// carry a bare threshold.
func ParseGoal(metric, raw string) (Goal, error) {
	metric = strings.TrimSpace(metric)
	raw = strings.TrimSpace(raw)
	m := metricPattern.FindStringSubmatch(metric)
	if m == nil {
		return Goal{}, fmt.Errorf("invalid metric %q", metric)
	}
	name, keyUnit := m[1], m[3]
	if name == "" {
		name = m[4]
	}
	rule := unitRules[name]
	if len(rule.key) > 0 && !slices.Contains(rule.key, keyUnit) {
		return Goal{}, fmt.Errorf("%s must end in one of %s, got %q", metric, strings.Join(rule.key, ", "), keyUnit)
	}
	g := Goal{Metric: metric, Raw: raw}
	if name == "CI" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Goal{}, fmt.Errorf("invalid conformity index %q for %s", raw, metric)
		}
		g.Threshold = v
		return g, nil
	}
	c := constraintPattern.FindStringSubmatch(raw)
	if c == nil {
		return Goal{}, fmt.Errorf("invalid constraint %q for %s", raw, metric)
	}
	if !slices.Contains(rule.value, c[3]) {
		return Goal{}, fmt.Errorf("%s constraints must end in one of %s, got %q", metric, strings.Join(rule.value, ", "), c[3])
	}
	g.Comparator = c[1]
	g.Threshold, _ = strconv.ParseFloat(c[2], 64)
	g.Unit = c[3]
	return g, nil
}

// Objective is the table entry of one canonical structure.
type Objective struct {
	Canonical   string   `json:"canonical"`
	ManualNames []string `json:"manual_names,omitempty"`
	Goals       []Goal   `json:"goals,omitempty"`
}

// Objectives maps a canonical structure name to its entry.
type Objectives map[string]*Objective

// Names returns the canonical names in sorted order.
func (o Objectives) Names() []string {
	names := make([]string, 0, len(o))
	for n := range o {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PatientTable holds the objectives of one patient keyed by label.
type PatientTable struct {
	Plans         map[string]Objectives `json:"plans,omitempty"`
	StructureSets map[string]Objectives `json:"structure_sets,omitempty"`
}

// Document is a decoded goal table.
type Document struct {
	Path     string
	Patients map[string]*PatientTable
	Issues   []report.Issue
}

// Patient returns the table of one patient.
func (d *Document) Patient(id string) (*PatientTable, bool) {
	if d == nil {
		return nil, false
	}
	t, ok := d.Patients[id]
	return t, ok
}

type rawObjective struct {
	ManualStructNames []string            `json:"ManualStructNames"`
	Goals             map[string][]string `json:"Goals"`
}

// LoadDocument reads and decodes a goal table file.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read goal table: %w", err)
	}
	return ParseDocument(path, data)
}

// ParseDocument decodes a goal table. A document that is not a JSON object
// is an error. Entries that do not decode are dropped and reported as issues.
func ParseDocument(path string, data []byte) (*Document, error) {
	var top map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, errs.NewConfigTableMalformed(path, "", err)
	}

	doc := &Document{Path: path, Patients: make(map[string]*PatientTable, len(top))}
	patients := make([]string, 0, len(top))
	for id := range top {
		patients = append(patients, id)
	}
	sort.Strings(patients)

	for _, id := range patients {
		t := &PatientTable{
			Plans:         make(map[string]Objectives),
			StructureSets: make(map[string]Objectives),
		}
		keys := make([]string, 0, len(top[id]))
		for k := range top[id] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			var dst map[string]Objectives
			switch key {
			case keyPlan:
				dst = t.Plans
			case keyStructureSet:
				dst = t.StructureSets
			default:
				doc.malformed(id+"/"+key, errors.New("unknown section"))
				continue
			}
			var labels map[string]map[string]json.RawMessage
			if err := json.Unmarshal(top[id][key], &labels); err != nil {
				doc.malformed(id+"/"+key, err)
				continue
			}
			for label, entries := range labels {
				dst[label] = doc.objectives(id+"/"+key+"/"+label, entries)
			}
		}
		doc.Patients[id] = t
	}
	report.SortIssues(doc.Issues)
	return doc, nil
}

func (d *Document) objectives(prefix string, entries map[string]json.RawMessage) Objectives {
	out := make(Objectives, len(entries))
	for canonical, raw := range entries {
		entry := prefix + "/" + canonical
		var ro rawObjective
		if err := json.Unmarshal(raw, &ro); err != nil {
			d.malformed(entry, err)
			continue
		}
		obj := &Objective{Canonical: canonical}
		for _, n := range ro.ManualStructNames {
			if n = strings.TrimSpace(n); n != "" {
				obj.ManualNames = append(obj.ManualNames, n)
			}
		}
		metrics := make([]string, 0, len(ro.Goals))
		for m := range ro.Goals {
			metrics = append(metrics, m)
		}
		sort.Strings(metrics)
		for _, m := range metrics {
			for _, raw := range ro.Goals[m] {
				g, err := ParseGoal(m, raw)
				if err != nil {
					d.malformed(entry, err)
					continue
				}
				obj.Goals = append(obj.Goals, g)
			}
		}
		out[canonical] = obj
	}
	return out
}

func (d *Document) malformed(entry string, err error) {
	d.Issues = append(d.Issues, report.FromError(errs.NewConfigTableMalformed(d.Path, entry, err)))
}

// Merge returns the objectives that apply to a structure set: its own
// label's table first, then each plan label's table in order, later tables
// replacing earlier entries of the same canonical name.
func (t *PatientTable) Merge(structureSetLabel string, planLabels []string) (Objectives, map[string]Source) {
	merged := make(Objectives)
	source := make(map[string]Source)
	if t == nil {
		return merged, source
	}
	for name, obj := range t.StructureSets[structureSetLabel] {
		merged[name] = obj
		source[name] = SourceStructureSet
	}
	for _, label := range planLabels {
		for name, obj := range t.Plans[label] {
			merged[name] = obj
			source[name] = SourcePlan
		}
	}
	return merged, source
}
