package scan

import "time"

// Stats tracks scan counters. Scanned counts every file that was examined,
// whether it was accepted, unreadable or rejected.
type Stats struct {
	Discovered int
	Scanned    int
	Accepted   int
	Unreadable int
	Rejected   int
	FromIndex  int
	StartTime  time.Time
	Elapsed    time.Duration
}

// ProgressSink receives scan progress. Calls come from a single goroutine.
type ProgressSink interface {
	// Discovered is called once with the number of candidate files.
	Discovered(total int)
	// Advance is called after each examined file.
	Advance(stats Stats)
	// Finish is called when the scan ends, cancelled or not.
	Finish(stats Stats)
}

type nopProgress struct{}

func (nopProgress) Discovered(int) {}
func (nopProgress) Advance(Stats)  {}
func (nopProgress) Finish(Stats)   {}
