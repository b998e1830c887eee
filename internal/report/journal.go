package report

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Journal appends scan issues as JSON lines, one event per issue followed by
// a summary event.
type Journal struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
}

// NewJournal writes events to w.
func NewJournal(w io.Writer) *Journal {
	return &Journal{logger: zerolog.New(w).With().Timestamp().Logger()}
}

// OpenJournal opens (or creates) an append-only journal file.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	j := NewJournal(f)
	j.closer = f
	return j, nil
}

// Record writes every issue of r and a closing summary line.
func (j *Journal) Record(r *ScanReport) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, issue := range r.Issues {
		j.issue("scan", r.ID, issue)
	}

	j.logger.Info().
		Str("scan", r.ID).
		Str("root", r.Root).
		Int("scanned", r.FilesScanned).
		Int("accepted", r.FilesAccepted).
		Int("unreadable", r.FilesUnreadable).
		Int("rejected", r.FilesRejected).
		Int("patients", r.Patients).
		Int("linked", r.Linked).
		Int("unresolved", r.Unresolved).
		Dur("duration", r.Duration()).
		Msg("scan complete")
}

// RecordIssues writes issues found outside a scan, such as dropped goal
// table entries. source names where they came from.
func (j *Journal) RecordIssues(source string, issues []Issue) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, issue := range issues {
		j.issue("source", source, issue)
	}
}

func (j *Journal) issue(key, value string, issue Issue) {
	ev := j.logger.Warn().
		Str(key, value).
		Str("kind", string(issue.Kind))
	if issue.Path != "" {
		ev = ev.Str("path", issue.Path)
	}
	if issue.UID != "" {
		ev = ev.Str("uid", issue.UID)
	}
	if issue.PatientID != "" {
		ev = ev.Str("patient", issue.PatientID)
	}
	ev.Msg(issue.Detail)
}

// Close releases the underlying file, if any.
func (j *Journal) Close() error {
	if j.closer == nil {
		return nil
	}
	return j.closer.Close()
}
