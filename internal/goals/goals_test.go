package goals

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GrigoryEvko/rtlink/internal/errs"
	"github.com/GrigoryEvko/rtlink/internal/report"
	"github.com/GrigoryEvko/rtlink/internal/scan"
)

const table = `{
  "P1": {
    "StructureSetId": {
      "RS1": {
        "Heart": {"ManualStructNames": ["Coeur"], "Goals": {"MEAN": ["<_2600_cGy"]}},
        "SpinalCord": {"ManualStructNames": ["Cord"], "Goals": {"MAX": ["<_4500_cGy"]}}
      }
    },
    "PlanId": {
      "Plan1": {
        "Heart": {"ManualStructNames": [], "Goals": {"MEAN": ["<_2000_cGy"], "V_3000_cGy": ["<_46_%"]}},
        "Parotid_L": {"ManualStructNames": ["Lt Parotid"], "Goals": {"MEAN": ["<_2600_cGy"]}},
        "PTV": {"ManualStructNames": [], "Goals": {"D_95_%": [">_6000_cGy"], "CI_5000_cGy": ["1.2"]}}
      }
    }
  }
}`

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path
}

func structureSet(label string, names ...string) *scan.FileRecord {
	rec := &scan.FileRecord{Path: "/d/rs.dcm", Modality: "RTSTRUCT", SOPInstanceUID: "rs1", Label: label}
	for i, n := range names {
		rec.ROIs = append(rec.ROIs, scan.ROI{Number: i + 1, Name: n})
	}
	return rec
}

func newMatcher(t *testing.T, aliases *Aliases, opts Options) *Matcher {
	t.Helper()
	path := writeFile(t, t.TempDir(), "goals.json", table)
	m, err := NewMatcher(path, NewTableCache(time.Minute), aliases, opts)
	require.NoError(t, err)
	return m
}

func byName(matches []StructureMatch) map[string]StructureMatch {
	out := make(map[string]StructureMatch, len(matches))
	for _, sm := range matches {
		out[sm.ROIName] = sm
	}
	return out
}

func TestParseGoal(t *testing.T) {
	g, err := ParseGoal("V_7000_cGy", ">_95_%")
	require.NoError(t, err)
	assert.Equal(t, Goal{Metric: "V_7000_cGy", Comparator: ">", Threshold: 95, Unit: "%", Raw: ">_95_%"}, g)

	g, err = ParseGoal("MAX", "<=_74.2_cGy")
	require.NoError(t, err)
	assert.Equal(t, "<=", g.Comparator)
	assert.InDelta(t, 74.2, g.Threshold, 1e-9)

	for _, tc := range [][2]string{
		{"D_2_cc", "<_7000_cGy"},
		{"DC_95_%", ">_98_%"},
		{"V_95_%", ">_99_%"},
		{"V_2000_cGy", "<_15_cc"},
		{"CV_1000_cGy", ">_700_cc"},
		{"MEAN", "<_50_%"},
	} {
		_, err := ParseGoal(tc[0], tc[1])
		assert.NoError(t, err, "%s %s", tc[0], tc[1])
	}

	g, err = ParseGoal("CI_5000_cGy", "1.25")
	require.NoError(t, err)
	assert.Empty(t, g.Comparator)
	assert.InDelta(t, 1.25, g.Threshold, 1e-9)

	for _, tc := range [][2]string{
		{"MAXIMUM", "<_1_Gy"},
		{"MAX", "<1Gy"},
		{"V_10_mm", "<_1_%"},
		{"MEAN", "~_1_Gy"},
		{"CI_5000_cGy", "high"},
		{"CI_50_%", "1.2"},
		{"D_5_cGy", "<_10_Gy"},
		{"D_95_%", ">_95_cc"},
		{"DC_2_Gy", "<_10_cGy"},
		{"V_20_cc", "<_30_%"},
		{"V_2000_cGy", "<_30_cGy"},
		{"CV_1000_%", "<_5_cc"},
		{"CV_1000_cGy", "<_5_cGy"},
		{"MAX", "<_74_Gy"},
		{"MEAN", "<_10_cc"},
		{"MIN", ">_-5_cGy"},
	} {
		_, err := ParseGoal(tc[0], tc[1])
		assert.Error(t, err, "%s %s", tc[0], tc[1])
	}
}

func TestParseDocumentMalformed(t *testing.T) {
	_, err := ParseDocument("goals.json", []byte(`["not", "an", "object"]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrConfigTableMalformed)

	doc, err := ParseDocument("goals.json", []byte(`{
	  "P1": {
	    "StructureSetId": {"RS1": {
	      "Heart": {"Goals": {"MEAN": ["<_2600_cGy", "bogus"]}},
	      "Lung": "not an object"
	    }},
	    "Extra": {}
	  }
	}`))
	require.NoError(t, err)
	pt, ok := doc.Patient("P1")
	require.True(t, ok)
	require.Contains(t, pt.StructureSets["RS1"], "Heart")
	assert.NotContains(t, pt.StructureSets["RS1"], "Lung")
	assert.Len(t, pt.StructureSets["RS1"]["Heart"].Goals, 1)

	require.Len(t, doc.Issues, 3)
	for _, issue := range doc.Issues {
		assert.Equal(t, report.KindConfigTableMalformed, issue.Kind)
		assert.Equal(t, "goals.json", issue.Path)
	}
}

func TestMergePlanOverridesStructureSet(t *testing.T) {
	doc, err := ParseDocument("goals.json", []byte(table))
	require.NoError(t, err)
	pt, _ := doc.Patient("P1")

	merged, sources := pt.Merge("RS1", []string{"Plan1"})
	assert.ElementsMatch(t, []string{"Heart", "PTV", "Parotid_L", "SpinalCord"}, merged.Names())
	assert.Equal(t, SourcePlan, sources["Heart"])
	assert.Equal(t, SourceStructureSet, sources["SpinalCord"])
	assert.Len(t, merged["Heart"].Goals, 2)

	merged, _ = pt.Merge("RS1", nil)
	assert.Equal(t, []string{"Heart", "SpinalCord"}, merged.Names())
	assert.Equal(t, "<_2600_cGy", merged["Heart"].Goals[0].Raw)

	var missing *PatientTable
	merged, _ = missing.Merge("RS1", []string{"Plan1"})
	assert.Empty(t, merged)
}

func TestMatchExactAndManual(t *testing.T) {
	m := newMatcher(t, nil, Options{})
	matches, err := m.Match("P1", structureSet("RS1", "  heart ", "Cord", "Lt  Parotid", "PTV"), []string{"Plan1"})
	require.NoError(t, err)
	require.Len(t, matches, 4)

	got := byName(matches)
	heart := got["  heart "]
	assert.True(t, heart.Matched)
	assert.Equal(t, "Heart", heart.Canonical)
	assert.Equal(t, MethodExact, heart.Method)
	assert.Equal(t, SourcePlan, heart.Source)
	assert.Len(t, heart.Goals, 2)

	cord := got["Cord"]
	assert.Equal(t, "SpinalCord", cord.Canonical)
	assert.Equal(t, MethodManual, cord.Method)
	assert.Equal(t, SourceStructureSet, cord.Source)

	parotid := got["Lt  Parotid"]
	assert.Equal(t, "Parotid_L", parotid.Canonical)
	assert.Equal(t, MethodManual, parotid.Method)

	assert.Equal(t, 1, matches[0].ROINumber)
	assert.Equal(t, 4, matches[3].ROINumber)
}

func TestExactAliasBeatsFuzzy(t *testing.T) {
	// "Cord" is a manual name of SpinalCord and close to the alias "cords"
	// of another structure.
	aliases := NewAliases(map[string][]string{
		"Cauda": {"cords"},
	})
	m := newMatcher(t, aliases, Options{})
	matches, err := m.Match("P1", structureSet("RS1", "Cord"), nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "SpinalCord", matches[0].Canonical)
	assert.Equal(t, MethodManual, matches[0].Method)

	aliases = NewAliases(map[string][]string{
		"Esophagus":  {"oesophagus"},
		"Esophagus2": {},
	})
	m = newMatcher(t, aliases, Options{})
	matches, err = m.Match("P9", structureSet("RS9", "Oesophagus"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Esophagus", matches[0].Canonical)
	assert.Equal(t, MethodAlias, matches[0].Method)
	assert.Equal(t, SourceAliases, matches[0].Source)
	assert.Empty(t, matches[0].Goals)
}

func TestFuzzyMatch(t *testing.T) {
	m := newMatcher(t, nil, Options{})
	matches, err := m.Match("P1", structureSet("RS1", "SpinalCordd", "Bladder", "DNU_SpinalCord"), nil)
	require.NoError(t, err)
	got := byName(matches)

	cord := got["SpinalCordd"]
	assert.True(t, cord.Matched)
	assert.Equal(t, "SpinalCord", cord.Canonical)
	assert.Equal(t, MethodFuzzy, cord.Method)
	assert.Equal(t, SourceStructureSet, cord.Source)
	assert.GreaterOrEqual(t, cord.Score, DefaultThreshold)
	assert.Len(t, cord.Goals, 1)

	bladder := got["Bladder"]
	assert.False(t, bladder.Matched)
	assert.Equal(t, DefaultUnmatchedName, bladder.Canonical)
	assert.Equal(t, MethodNone, bladder.Method)
	assert.Empty(t, bladder.Goals)

	assert.False(t, got["DNU_SpinalCord"].Matched)
}

func TestNamingRules(t *testing.T) {
	cases := []struct {
		name      string
		kind      string
		matched   bool
		canonical string
	}{
		{name: "Skin", kind: "EXTERNAL", matched: true, canonical: ExternalName},
		{name: "External", matched: true, canonical: BodyName},
		{name: "External_new", matched: true, canonical: BodyName},
		{name: "Test Heart"},
		{name: "Heart_test"},
		{name: "old_ptv"},
		{name: "Testis_L", matched: true, canonical: "Testis_L"},
		{name: "PTV 7000", matched: true, canonical: "PTV"},
		{name: "PTV_eval"},
		{name: "PTV_5mm"},
		{name: "PTVall"},
		{name: "zPTV"},
		{name: "CTV_High", matched: true, canonical: "CTV"},
		{name: "CTV_temp"},
		{name: "ITV", matched: true, canonical: "ITV"},
		{name: "GTVp", matched: true, canonical: "GTV"},
		{name: "Couch Z4-Couch Support", matched: true, canonical: "Z4-Couch Support"},
		{name: "z8 mattress", matched: true, canonical: "Z8-Mattress"},
	}
	aliases := NewAliases(map[string][]string{"Testis_L": {"testisl"}})
	m, err := NewMatcher("", nil, aliases, Options{})
	require.NoError(t, err)

	rs := &scan.FileRecord{Modality: "RTSTRUCT", SOPInstanceUID: "rs1"}
	for i, c := range cases {
		rs.ROIs = append(rs.ROIs, scan.ROI{Number: i + 1, Name: c.name, Type: c.kind})
	}
	matches, err := m.Match("P1", rs, nil)
	require.NoError(t, err)
	require.Len(t, matches, len(cases))
	for i, c := range cases {
		sm := matches[i]
		assert.Equal(t, c.matched, sm.Matched, c.name)
		if c.matched {
			assert.Equal(t, c.canonical, sm.Canonical, c.name)
		} else {
			assert.Equal(t, DefaultUnmatchedName, sm.Canonical, c.name)
		}
	}
}

func TestTableNameBeatsTargetRule(t *testing.T) {
	m := newMatcher(t, nil, Options{})
	matches, err := m.Match("P1", structureSet("RS1", "PTV", "PTV_High", "new Heart"), []string{"Plan1"})
	require.NoError(t, err)
	got := byName(matches)

	assert.Equal(t, MethodExact, got["PTV"].Method)
	target := got["PTV_High"]
	assert.Equal(t, "PTV", target.Canonical)
	assert.Equal(t, MethodRule, target.Method)
	assert.Equal(t, SourcePlan, target.Source)
	assert.Len(t, target.Goals, 2)

	heart := got["new Heart"]
	assert.True(t, heart.Matched)
	assert.Equal(t, "Heart", heart.Canonical)
	assert.Equal(t, MethodExact, heart.Method)
}

func TestFuzzyThresholdAndMetric(t *testing.T) {
	m := newMatcher(t, nil, Options{Threshold: 0.99, UnmatchedName: "UNMATCHED"})
	matches, err := m.Match("P1", structureSet("RS1", "SpinalCordd"), nil)
	require.NoError(t, err)
	assert.False(t, matches[0].Matched)
	assert.Equal(t, "UNMATCHED", matches[0].Canonical)
	assert.Greater(t, matches[0].Score, 0.0)

	m = newMatcher(t, nil, Options{Metric: "jaro-winkler"})
	matches, err = m.Match("P1", structureSet("RS1", "SpinalCordd"), nil)
	require.NoError(t, err)
	assert.Equal(t, "SpinalCord", matches[0].Canonical)

	_, err = NewMatcher("", nil, nil, Options{Metric: "soundex"})
	assert.Error(t, err)
}

func TestMatchDoesNotMutate(t *testing.T) {
	m := newMatcher(t, nil, Options{})
	rs := structureSet("RS1", "PTV", "Heart")
	rs.ROIs[0].Number, rs.ROIs[1].Number = 9, 2
	before := append([]scan.ROI(nil), rs.ROIs...)

	matches, err := m.Match("P1", rs, []string{"Plan1"})
	require.NoError(t, err)
	assert.Equal(t, before, rs.ROIs)
	assert.Equal(t, 2, matches[0].ROINumber)
	assert.Equal(t, 9, matches[1].ROINumber)
}

func TestMatchWithoutTable(t *testing.T) {
	m, err := NewMatcher("", nil, NewAliases(map[string][]string{"Heart": {"coeur"}}), Options{})
	require.NoError(t, err)
	matches, err := m.Match("P1", structureSet("RS1", "Coeur", "Lung"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Heart", matches[0].Canonical)
	assert.False(t, matches[1].Matched)

	m, err = NewMatcher(filepath.Join(t.TempDir(), "missing.json"), nil, nil, Options{})
	require.NoError(t, err)
	_, err = m.Match("P1", structureSet("RS1", "Heart"), nil)
	assert.Error(t, err)
}

func TestAliasesEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "aliases.json")
	a, err := LoadAliases(path)
	require.NoError(t, err)
	assert.Empty(t, a.Canonicals())

	require.NoError(t, a.AddAlias("Parotid_L", "Lt Parotid"))
	require.NoError(t, a.AddAlias("Parotid_L", "PAROTID-LT"))
	require.NoError(t, a.AddAlias("Parotid_L", "lt_parotid"))
	assert.Equal(t, []string{"ltparotid", "parotidlt"}, a.Names("Parotid_L"))
	assert.Equal(t, []string{"Parotid_L"}, a.Lookup("LT PAROTID"))
	assert.Equal(t, []string{"Parotid_L"}, a.Lookup("parotid l"))

	reloaded, err := LoadAliases(path)
	require.NoError(t, err)
	assert.Equal(t, a.Names("Parotid_L"), reloaded.Names("Parotid_L"))

	require.NoError(t, reloaded.RemoveAlias("Parotid_L", "Lt-Parotid"))
	require.NoError(t, reloaded.RemoveAlias("Parotid_L", "not there"))
	assert.Error(t, reloaded.RemoveAlias("Heart", "coeur"))
	assert.Error(t, reloaded.AddAlias("Heart", "  -- "))

	again, err := LoadAliases(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"parotidlt"}, again.Names("Parotid_L"))
}

func TestLoadAliasesMalformed(t *testing.T) {
	path := writeFile(t, t.TempDir(), "aliases.json", `{"Heart": "coeur"}`)
	_, err := LoadAliases(path)
	assert.ErrorIs(t, err, errs.ErrConfigTableMalformed)
}

func TestLoadAliasCSV(t *testing.T) {
	path := writeFile(t, t.TempDir(), "aliases.csv",
		"canonical, alias, comment\nHeart,Coeur,fr\nHeart,Herz,de\nLung_L,,\n,orphan,\n")
	a, err := LoadAliasCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Heart", "Lung_L"}, a.Canonicals())
	assert.Equal(t, []string{"coeur", "herz"}, a.Names("Heart"))
	assert.Empty(t, a.Names("Lung_L"))
}

func TestTableCacheReloadsEditedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "goals.json", table)
	c := NewTableCache(time.Minute)

	first, err := c.Load(path)
	require.NoError(t, err)
	second, err := c.Load(path)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, c.Len())

	writeFile(t, dir, "goals.json", `{"P2": {}}`)
	third, err := c.Load(path)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	_, ok := third.Patient("P2")
	assert.True(t, ok)

	c.Flush()
	assert.Equal(t, 0, c.Len())
}

func TestMalformedTableEntriesAreReported(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	path := writeFile(t, t.TempDir(), "goals.json", `{
	  "P1": {"StructureSetId": {"RS1": {
	    "Heart": {"ManualStructNames": [], "Goals": {"MEAN": ["<2600cGy", "<_2600_cGy"]}}
	  }}}
	}`)
	m, err := NewMatcher(path, NewTableCache(time.Minute), nil, Options{Logger: zap.New(core).Sugar()})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		matches, err := m.Match("P1", structureSet("RS1", "Heart"), nil)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Len(t, matches[0].Goals, 1)
	}
	dropped := logs.FilterMessageSnippet("Goal table entry dropped")
	require.Equal(t, 1, dropped.Len())
	assert.Contains(t, dropped.All()[0].Message, "P1/StructureSetId/RS1/Heart")

	issues, err := m.Issues()
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, report.KindConfigTableMalformed, issues[0].Kind)
	assert.ErrorIs(t, issues[0].Err, errs.ErrConfigTableMalformed)

	none, err := NewMatcher("", nil, nil, Options{})
	require.NoError(t, err)
	issues, err = none.Issues()
	require.NoError(t, err)
	assert.Empty(t, issues)
}
