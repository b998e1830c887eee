package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GrigoryEvko/rtlink/internal/errs"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		path string
		uid  string
	}{
		{"unreadable", errs.NewUnreadableFile("/d/a", "not DICOM", nil), KindUnreadableFile, "/d/a", ""},
		{"missing tag", errs.NewMissingTag("/d/b", "CT", "SeriesInstanceUID"), KindMissingTag, "/d/b", ""},
		{"cross patient", errs.NewCrossPatientReference("rs1", "P1", "ct1", "P2"), KindCrossPatientReference, "", "rs1"},
		{"cycle", errs.NewUnresolvedReference("a", "/d/a", errs.ReasonCycle, 2, nil), KindUnresolvedCycle, "/d/a", "a"},
		{"hop cap", errs.NewUnresolvedReference("a", "/d/a", errs.ReasonHopCap, 8, nil), KindHopCapExceeded, "/d/a", "a"},
		{"dangling", errs.NewUnresolvedReference("a", "/d/a", errs.ReasonDangling, 1, []string{"x"}), KindDanglingReference, "/d/a", "a"},
		{"no references", errs.NewUnresolvedReference("a", "/d/a", errs.ReasonNoReferences, 0, nil), KindUnresolvedReference, "/d/a", "a"},
		{"malformed", errs.NewConfigTableMalformed("/c/goals.json", "", errors.New("bad")), KindConfigTableMalformed, "/c/goals.json", ""},
		{"directory", errs.NewDirectoryInaccessible("/nope", os.ErrNotExist), KindDirectoryInaccessible, "/nope", ""},
		{"wrapped", errors.Join(errors.New("context"), errs.NewMissingTag("/d/c", "RTDOSE", "Modality")), KindMissingTag, "/d/c", ""},
		{"other", errors.New("boom"), KindOther, "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			issue := FromError(tc.err)
			assert.Equal(t, tc.kind, issue.Kind)
			assert.Equal(t, tc.path, issue.Path)
			assert.Equal(t, tc.uid, issue.UID)
			assert.Equal(t, tc.err.Error(), issue.Detail)
			assert.Same(t, tc.err, issue.Err)
		})
	}
}

func TestReportSortAndCount(t *testing.T) {
	r := &ScanReport{}
	r.Add(
		Issue{Kind: KindUnreadableFile, Path: "/b"},
		Issue{Kind: KindDanglingReference, UID: "z"},
		Issue{Kind: KindUnreadableFile, Path: "/a"},
	)
	r.Sort()
	assert.Equal(t, KindDanglingReference, r.Issues[0].Kind)
	assert.Equal(t, "/a", r.Issues[1].Path)
	assert.Equal(t, 2, r.Count(KindUnreadableFile))
	assert.Equal(t, 0, r.Count(KindMissingTag))

	assert.Zero(t, r.Duration())
	r.StartedAt = time.Now()
	r.FinishedAt = r.StartedAt.Add(time.Second)
	assert.Equal(t, time.Second, r.Duration())
}

func TestJournalRecord(t *testing.T) {
	var buf bytes.Buffer
	j := NewJournal(&buf)
	j.Record(&ScanReport{
		ID:            "run-1",
		Root:          "/data",
		FilesAccepted: 3,
		Issues: []Issue{
			{Kind: KindUnreadableFile, Path: "/data/x", Detail: "not DICOM"},
			{Kind: KindDanglingReference, UID: "dose1", PatientID: "P1", Detail: "dangling"},
		},
	})
	require.NoError(t, j.Close())

	var lines []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "/data/x", lines[0]["path"])
	assert.Equal(t, "P1", lines[1]["patient"])
	assert.NotContains(t, lines[1], "path")
	assert.Equal(t, "scan complete", lines[2]["message"])
	assert.Equal(t, float64(3), lines[2]["accepted"])
}

func TestJournalRecordIssues(t *testing.T) {
	var buf bytes.Buffer
	j := NewJournal(&buf)
	j.RecordIssues("goals.json", []Issue{
		{Kind: KindConfigTableMalformed, Path: "goals.json", Detail: "bad goal"},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "goals.json", line["source"])
	assert.Equal(t, string(KindConfigTableMalformed), line["kind"])
	assert.Equal(t, "bad goal", line["message"])
}

func TestOpenJournalAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "scan-issues.jsonl")
	for i := 0; i < 2; i++ {
		j, err := OpenJournal(path)
		require.NoError(t, err)
		j.Record(&ScanReport{ID: "run"})
		require.NoError(t, j.Close())
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
}
