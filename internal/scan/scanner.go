// Package scan walks a directory tree and extracts a FileRecord from every
// DICOM Part 10 file it finds, without decoding pixel data.
package scan

import (
	"context"
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/djherbis/times"
	"go.uber.org/zap"

	"github.com/GrigoryEvko/rtlink/internal/errs"
	"github.com/GrigoryEvko/rtlink/internal/report"
)

// DefaultImageModalities are the modalities treated as image series.
var DefaultImageModalities = []string{"CT", "MR", "PT", "NM", "US", "CR", "DX", "MG", "XA", "RF", "OT", "RTIMAGE"}

// Options configure a Scanner.
type Options struct {
	// Workers bounds concurrent header parsing. Zero means one per CPU.
	Workers         int
	FollowSymlinks  bool
	ImageModalities []string
	Index           *Index
	Progress        ProgressSink
	Logger          *zap.SugaredLogger
}

// Scanner discovers and parses files. It is safe for concurrent use; each
// call to Scan or Records is independent.
type Scanner struct {
	opts   Options
	images map[string]bool
	logger *zap.SugaredLogger
}

// Result is the outcome of a completed scan. Records are sorted by path.
type Result struct {
	Root    string
	Records []*FileRecord
	Issues  []report.Issue
	Stats   Stats
}

// New creates a Scanner.
func New(opts Options) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if len(opts.ImageModalities) == 0 {
		opts.ImageModalities = DefaultImageModalities
	}
	if opts.Progress == nil {
		opts.Progress = nopProgress{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	images := make(map[string]bool, len(opts.ImageModalities))
	for _, m := range opts.ImageModalities {
		images[strings.ToUpper(m)] = true
	}
	return &Scanner{opts: opts, images: images, logger: logger}
}

// Fatal reports whether err, as yielded by Records, ends the scan. Per-file
// errors are not fatal.
func Fatal(err error) bool {
	return errors.Is(err, errs.ErrDirectoryInaccessible) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Scan runs a full scan of root. A cancelled scan returns ctx.Err() and no
// partial result.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	res := &Result{Root: root}
	var fatal error
	res.Stats = s.run(ctx, root, func(rec *FileRecord, err error) bool {
		if err != nil {
			if Fatal(err) {
				fatal = err
				return false
			}
			res.Issues = append(res.Issues, report.FromError(err))
			return true
		}
		res.Records = append(res.Records, rec)
		return true
	})
	if fatal != nil {
		return nil, fatal
	}
	SortRecords(res.Records)
	report.SortIssues(res.Issues)
	return res, nil
}

// Records lazily yields accepted records as workers finish them, in
// completion order. Per-file failures are yielded as (nil, err) and the
// sequence continues; a fatal error (see Fatal) is the last value yielded.
func (s *Scanner) Records(ctx context.Context, root string) iter.Seq2[*FileRecord, error] {
	return func(yield func(*FileRecord, error) bool) {
		s.run(ctx, root, yield)
	}
}

type fileResult struct {
	rec       *FileRecord
	err       error
	fromIndex bool
}

func (s *Scanner) run(parent context.Context, root string, yield func(*FileRecord, error) bool) Stats {
	stats := Stats{StartTime: time.Now()}
	defer func() {
		stats.Elapsed = time.Since(stats.StartTime)
		s.opts.Progress.Finish(stats)
	}()

	entries, err := readRoot(root)
	if err != nil {
		yield(nil, errs.NewDirectoryInaccessible(root, err))
		return stats
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	paths, walkErrs := s.discover(ctx, root, entries)
	if err := parent.Err(); err != nil {
		yield(nil, err)
		return stats
	}
	for _, e := range walkErrs {
		if !yield(nil, e) {
			return stats
		}
	}
	stats.Discovered = len(paths)
	s.opts.Progress.Discovered(len(paths))
	s.logger.Debugf("Discovered %d candidate files under %s", len(paths), root)

	jobs := make(chan string)
	results := make(chan fileResult, s.opts.Workers)
	var wg sync.WaitGroup

	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for path := range jobs {
				r := s.scanFile(path)
				select {
				case results <- r:
				case <-ctx.Done():
					return
				}
			}
			s.logger.Debugf("Scan worker %d done", workerID)
		}(i)
	}

	go func() {
		defer close(jobs)
		for _, p := range paths {
			select {
			case jobs <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	stopped := false
	for r := range results {
		if stopped {
			continue
		}
		stats.Scanned++
		switch {
		case r.err == nil:
			stats.Accepted++
			if r.fromIndex {
				stats.FromIndex++
			}
		case errors.Is(r.err, errs.ErrMissingTag):
			stats.Rejected++
			s.logger.Debugf("Rejected %v", r.err)
		default:
			stats.Unreadable++
			s.logger.Debugf("Skipped %v", r.err)
		}
		s.opts.Progress.Advance(stats)
		if !yield(r.rec, r.err) {
			stopped = true
			cancel()
		}
	}

	if !stopped {
		if err := parent.Err(); err != nil {
			yield(nil, err)
		}
	}
	return stats
}

func readRoot(root string) ([]fs.DirEntry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "scan", Path: root, Err: errors.New("not a directory")}
	}
	return os.ReadDir(root)
}

// discover lists candidate files. Every subdirectory of root is walked by its
// own goroutine, bounded by the worker count. The result is sorted.
func (s *Scanner) discover(ctx context.Context, root string, entries []fs.DirEntry) ([]string, []error) {
	var (
		mu       sync.Mutex
		paths    []string
		walkErrs []error
		wg       sync.WaitGroup
	)
	add := func(p string) {
		mu.Lock()
		paths = append(paths, p)
		mu.Unlock()
	}
	fail := func(err error) {
		mu.Lock()
		walkErrs = append(walkErrs, err)
		mu.Unlock()
	}

	sem := make(chan struct{}, s.opts.Workers)
	for _, entry := range entries {
		full := filepath.Join(root, entry.Name())
		if !entry.IsDir() {
			if s.candidate(full, entry) {
				add(full)
			}
			continue
		}
		wg.Add(1)
		go func(dir string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if err != nil {
					fail(errs.NewUnreadableFile(path, "cannot read directory", err))
					if d != nil && d.IsDir() {
						return fs.SkipDir
					}
					return nil
				}
				if !d.IsDir() && s.candidate(path, d) {
					add(path)
				}
				return nil
			})
		}(full)
	}
	wg.Wait()

	sort.Strings(paths)
	sort.Slice(walkErrs, func(i, j int) bool { return walkErrs[i].Error() < walkErrs[j].Error() })
	return paths, walkErrs
}

func (s *Scanner) candidate(path string, d fs.DirEntry) bool {
	if s.opts.Index != nil && path == s.opts.Index.Path() {
		return false
	}
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink != 0 && s.opts.FollowSymlinks {
		info, err := os.Stat(path)
		return err == nil && info.Mode().IsRegular()
	}
	return false
}

// scanFile stats and parses one file, consulting the index first.
func (s *Scanner) scanFile(path string) fileResult {
	info, err := os.Stat(path)
	if err != nil {
		return fileResult{err: errs.NewUnreadableFile(path, "cannot stat", err)}
	}
	stamps := timestamps(info)
	modTime := info.ModTime().UnixNano()

	if s.opts.Index != nil {
		if rec, ok := s.opts.Index.Lookup(path, info.Size(), modTime); ok {
			rec.Times = stamps
			return fileResult{rec: rec, fromIndex: true}
		}
	}

	h, err := readHeader(path)
	if err != nil {
		return fileResult{err: err}
	}
	rec, err := h.record(s.images)
	if err != nil {
		return fileResult{err: err}
	}
	rec.Size = info.Size()
	rec.Times = stamps

	if s.opts.Index != nil {
		if err := s.opts.Index.Add(rec, modTime); err != nil {
			s.logger.Warnf("Could not update header index for %s: %v", path, err)
		}
	}
	return fileResult{rec: rec}
}

func timestamps(info os.FileInfo) Timestamps {
	t := times.Get(info)
	ts := Timestamps{Modified: t.ModTime(), Accessed: t.AccessTime()}
	switch {
	case t.HasBirthTime():
		ts.Created = t.BirthTime()
	case t.HasChangeTime():
		ts.Created = t.ChangeTime()
	default:
		ts.Created = t.ModTime()
	}
	return ts
}
