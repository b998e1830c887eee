package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, runtime.NumCPU(), cfg.Scan.Workers)
	assert.Equal(t, 8, cfg.Link.MaxHops)
	assert.Equal(t, 0.85, cfg.Goals.FuzzyThreshold)
	assert.Equal(t, "levenshtein", cfg.Goals.FuzzyMetric)
	assert.Equal(t, 5*time.Minute, cfg.Goals.CacheTTL)
	assert.Equal(t, "MISSING", cfg.Goals.UnmatchedName)
	assert.Equal(t, []string{"RTPLAN", "RTIONPLAN"}, cfg.Modalities.Plan)
	assert.Equal(t, PolicyCancel, cfg.Session.Policy)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtlink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scan:
  workers: 3
  follow_symlinks: true
link:
  max_hops: 4
goals:
  table: /etc/rtlink/goals.json
  fuzzy_metric: Jaro-Winkler
  cache_ttl: 30s
modalities:
  dose: [rtdose, " RTDOSE_EXT "]
session:
  policy: WAIT
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scan.Workers)
	assert.True(t, cfg.Scan.FollowSymlinks)
	assert.Equal(t, 4, cfg.Link.MaxHops)
	assert.Equal(t, "/etc/rtlink/goals.json", cfg.Goals.Table)
	assert.Equal(t, "jaro-winkler", cfg.Goals.FuzzyMetric)
	assert.Equal(t, 30*time.Second, cfg.Goals.CacheTTL)
	assert.Equal(t, []string{"RTDOSE", "RTDOSE_EXT"}, cfg.Modalities.Dose)
	assert.Equal(t, []string{"RTSTRUCT"}, cfg.Modalities.Structure)
	assert.Equal(t, PolicyWait, cfg.Session.Policy)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RTLINK_LINK_MAX_HOPS", "3")
	t.Setenv("RTLINK_GOALS_FUZZY_THRESHOLD", "0.9")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Link.MaxHops)
	assert.Equal(t, 0.9, cfg.Goals.FuzzyThreshold)
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"policy":    "session:\n  policy: queue\n",
		"threshold": "goals:\n  fuzzy_threshold: 1.5\n",
		"metric":    "goals:\n  fuzzy_metric: soundex\n",
		"hops":      "link:\n  max_hops: 0\n",
		"workers":   "scan:\n  workers: -1\n",
		"modality":  "modalities:\n  plan: []\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
