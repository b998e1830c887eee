package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrigoryEvko/rtlink/internal/report"
)

func sampleReport() *report.ScanReport {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &report.ScanReport{
		ID:              "run-1",
		StartedAt:       start,
		FinishedAt:      start.Add(2 * time.Second),
		FilesDiscovered: 7,
		FilesAccepted:   5,
		FilesUnreadable: 1,
		FilesRejected:   1,
		Patients:        2,
		FrameGroups:     3,
		Linked:          4,
		Unresolved:      1,
		Issues: []report.Issue{
			{Kind: report.KindUnreadableFile, Path: "/d/notes.txt"},
			{Kind: report.KindMissingTag, Path: "/d/bad.dcm"},
			{Kind: report.KindDanglingReference, UID: "plan9"},
		},
	}
}

func TestObserve(t *testing.T) {
	m := New()
	m.Observe(sampleReport())

	assert.Equal(t, 7.0, testutil.ToFloat64(m.FilesDiscovered))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.FilesScanned.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FilesScanned.WithLabelValues("unreadable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Issues.WithLabelValues(string(report.KindDanglingReference))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Unresolved))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FrameGroups))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ScanDuration))

	// gauges describe the last run, counters accumulate
	r := sampleReport()
	r.Unresolved = 0
	m.Observe(r)
	assert.Equal(t, 14.0, testutil.ToFloat64(m.FilesDiscovered))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Unresolved))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScansTotal.WithLabelValues("ok")))

	m.Failed("canceled")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal.WithLabelValues("canceled")))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Observe(sampleReport())
	assert.Equal(t, 0.0, testutil.ToFloat64(b.FilesDiscovered))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Observe(sampleReport())
	path := filepath.Join(t.TempDir(), "rtlink.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "rtlink_scan_files_discovered_total 7")
	assert.Contains(t, text, `rtlink_link_issues_total{kind="MissingTag"} 1`)
	assert.True(t, strings.Contains(text, "rtlink_scan_duration_seconds_bucket"))
}
