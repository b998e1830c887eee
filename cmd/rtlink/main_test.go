package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GrigoryEvko/rtlink/internal/config"
	"github.com/GrigoryEvko/rtlink/internal/dcmtest"
	"github.com/GrigoryEvko/rtlink/internal/export"
	"github.com/GrigoryEvko/rtlink/internal/goals"
	"github.com/GrigoryEvko/rtlink/internal/report"
	"github.com/GrigoryEvko/rtlink/internal/scan"
	"github.com/GrigoryEvko/rtlink/internal/session"
)

func TestInitOptionsApply(t *testing.T) {
	opts, err := InitOptions([]string{"-i", "/data", "--workers", "3", "--max-hops", "4",
		"--threshold", "0.9", "--metric", "Jaro", "--policy", "WAIT", "--format", "xlsx"})
	require.NoError(t, err)
	assert.Equal(t, "/data", opts.Input)
	assert.Equal(t, "xlsx", opts.Format)

	cfg := config.Default()
	require.NoError(t, opts.Apply(cfg))
	assert.Equal(t, 3, cfg.Scan.Workers)
	assert.Equal(t, 4, cfg.Link.MaxHops)
	assert.Equal(t, 0.9, cfg.Goals.FuzzyThreshold)
	assert.Equal(t, "jaro", cfg.Goals.FuzzyMetric)
	assert.Equal(t, config.PolicyWait, cfg.Session.Policy)
	assert.Equal(t, 5*time.Minute, cfg.Goals.CacheTTL)
}

func TestApplyKeepsUnsetFlags(t *testing.T) {
	opts, err := InitOptions([]string{"-i", "/data"})
	require.NoError(t, err)
	cfg := config.Default()
	workers := cfg.Scan.Workers
	require.NoError(t, opts.Apply(cfg))
	assert.Equal(t, workers, cfg.Scan.Workers)
	assert.Equal(t, 8, cfg.Link.MaxHops)
}

func TestApplyRejectsInvalid(t *testing.T) {
	opts, err := InitOptions([]string{"-i", "/data", "--threshold", "1.5"})
	require.NoError(t, err)
	assert.Error(t, opts.Apply(config.Default()))
}

func TestInitOptionsRequiresInput(t *testing.T) {
	_, err := InitOptions([]string{"--debug"})
	assert.Error(t, err)

	opts, err := InitOptions([]string{"--version"})
	require.NoError(t, err)
	assert.True(t, opts.Version)

	opts, err = InitOptions([]string{"--aliases", "a.json", "--add-alias", "Heart=coeur"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Heart=coeur"}, opts.AddAlias)
}

func TestEditAliases(t *testing.T) {
	logger = zap.NewNop().Sugar()
	path := filepath.Join(t.TempDir(), "aliases.json")
	aliases, err := loadAliases(path)
	require.NoError(t, err)

	opts := &Options{AddAlias: []string{"SpinalCord=cord", "Heart = coeur"}, RemoveAlias: []string{"SpinalCord=cord"}}
	require.NoError(t, editAliases(aliases, opts))

	reloaded, err := goals.LoadAliases(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Heart"}, reloaded.Lookup("COEUR"))
	assert.Empty(t, reloaded.Lookup("cord"))

	assert.Error(t, editAliases(goals.NewAliases(nil), &Options{AddAlias: []string{"a=b"}}))
	assert.Error(t, editAliases(aliases, &Options{AddAlias: []string{"missing-separator"}}))
}

func TestBarProgress(t *testing.T) {
	var buf bytes.Buffer
	p := newBarProgress(&buf, false, zap.NewNop().Sugar())
	p.Discovered(4)
	p.Advance(scan.Stats{Discovered: 4, Scanned: 2})
	p.Finish(scan.Stats{Discovered: 4, Scanned: 4})
	assert.Contains(t, buf.String(), "Scanning")
	assert.Nil(t, p.bar)

	buf.Reset()
	p = newBarProgress(&buf, true, zap.NewNop().Sugar())
	p.Discovered(4)
	p.Advance(scan.Stats{Scanned: 1})
	p.Finish(scan.Stats{})
	assert.Empty(t, buf.String())
}

func TestWriteGoalsReportsDroppedEntries(t *testing.T) {
	logger = zap.NewNop().Sugar()
	dir := t.TempDir()
	dcmtest.Write(t, dir, "ct/1.dcm", dcmtest.Image("P1", "ct1", "s1", "F1"))
	rs := dcmtest.StructureSet("P1", "rs1")
	rs.Label = "RS1"
	rs.ReferencedFrames = []string{"F1"}
	rs.ROIs = []dcmtest.ROI{{Number: 1, Name: "Heart"}}
	dcmtest.Write(t, dir, "rt/rs.dcm", rs)

	out := t.TempDir()
	table := filepath.Join(out, "goals.json")
	require.NoError(t, os.WriteFile(table, []byte(`{"P1": {"StructureSetId": {"RS1": {
	  "Heart": {"ManualStructNames": [], "Goals": {"MEAN": ["<2600cGy", "<_2600_cGy"]}}
	}}}}`), 0644))
	matcher, err := goals.NewMatcher(table, goals.NewTableCache(time.Minute), nil, goals.Options{})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Scan.Workers = 2
	s, err := session.New(session.Options{Config: cfg, Matcher: matcher})
	require.NoError(t, err)
	ds, err := s.Rescan(context.Background(), dir)
	require.NoError(t, err)

	path := filepath.Join(out, goalsName)
	rep, err := writeGoals(ds, export.Build(ds, export.Filter{}), matcher, path)
	require.NoError(t, err)
	assert.Len(t, rep.Issues, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded struct {
		Table  string `json:"table"`
		Issues []struct {
			Kind string `json:"kind"`
		} `json:"issues"`
		StructureSets []StructureSetGoals `json:"structure_sets"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, table, decoded.Table)
	require.Len(t, decoded.Issues, 1)
	assert.Equal(t, string(report.KindConfigTableMalformed), decoded.Issues[0].Kind)
	require.Len(t, decoded.StructureSets, 1)
	require.Len(t, decoded.StructureSets[0].Structures, 1)
	heart := decoded.StructureSets[0].Structures[0]
	assert.Equal(t, "Heart", heart.Canonical)
	assert.Len(t, heart.Goals, 1)
}
