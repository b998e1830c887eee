// Package session runs the scan, build and link pipeline for a directory and
// hands out immutable datasets. A Session allows one pipeline per directory
// at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GrigoryEvko/rtlink/internal/config"
	"github.com/GrigoryEvko/rtlink/internal/goals"
	"github.com/GrigoryEvko/rtlink/internal/graph"
	"github.com/GrigoryEvko/rtlink/internal/link"
	"github.com/GrigoryEvko/rtlink/internal/metrics"
	"github.com/GrigoryEvko/rtlink/internal/report"
	"github.com/GrigoryEvko/rtlink/internal/scan"
)

// ErrSuperseded is returned by Rescan when a newer request for the same
// directory cancelled it.
var ErrSuperseded = errors.New("rescan superseded by a newer request")

// Options configure a Session. Only Config is required.
type Options struct {
	Config   *config.Config
	Logger   *zap.SugaredLogger
	Metrics  *metrics.Metrics
	Progress scan.ProgressSink
	Journal  *report.Journal
	Matcher  *goals.Matcher
}

// Session owns the pipeline runs of one process.
type Session struct {
	ID string

	cfg        *config.Config
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	progress   scan.ProgressSink
	journal    *report.Journal
	matcher    *goals.Matcher
	classifier graph.Classifier

	mu    sync.Mutex
	slots map[string]*slot
}

// slot serializes the runs of one directory. users counts the Rescan calls
// holding or waiting for it; the slot is dropped when it reaches zero.
type slot struct {
	sem   chan struct{}
	users int

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// New creates a Session.
func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("session: config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	m := opts.Config.Modalities
	return &Session{
		ID:         uuid.NewString(),
		cfg:        opts.Config,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		progress:   opts.Progress,
		journal:    opts.Journal,
		matcher:    opts.Matcher,
		classifier: graph.NewClassifier(m.Image, m.Structure, m.Plan, m.Dose),
		slots:      make(map[string]*slot),
	}, nil
}

// Metrics is the registry the session reports to.
func (s *Session) Metrics() *metrics.Metrics {
	return s.metrics
}

// Matcher is the goal matcher handed to every dataset, possibly nil.
func (s *Session) Matcher() *goals.Matcher {
	return s.matcher
}

func (s *Session) acquire(dir string) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[dir]
	if !ok {
		sl = &slot{sem: make(chan struct{}, 1)}
		s.slots[dir] = sl
	}
	sl.users++
	return sl
}

func (s *Session) release(dir string, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.users--
	if sl.users == 0 {
		delete(s.slots, dir)
	}
}

// Rescan scans dir and links the result into a new Dataset. Every call
// starts from scratch. With the cancel policy a call cancels the run in
// progress for the same directory and waits for it to stop; with the wait
// policy it queues behind it. A cancelled run returns ctx.Err(), or
// ErrSuperseded when a newer request cancelled it, and no dataset.
func (s *Session) Rescan(ctx context.Context, dir string) (*Dataset, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	sl := s.acquire(root)
	defer s.release(root, sl)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var gen uint64
	if s.cfg.Session.Policy == config.PolicyCancel {
		sl.mu.Lock()
		if sl.cancel != nil {
			s.logger.Infof("Cancelling the running scan of %s", root)
			sl.cancel()
		}
		sl.gen++
		gen = sl.gen
		sl.cancel = cancel
		sl.mu.Unlock()
		defer func() {
			sl.mu.Lock()
			if sl.gen == gen {
				sl.cancel = nil
			}
			sl.mu.Unlock()
		}()
	}

	select {
	case sl.sem <- struct{}{}:
	case <-runCtx.Done():
		return nil, s.stopped(ctx, "queued")
	}
	defer func() { <-sl.sem }()

	ds, err := s.run(runCtx, root)
	if err != nil {
		if runCtx.Err() != nil {
			return nil, s.stopped(ctx, "canceled")
		}
		s.metrics.Failed("failed")
		return nil, err
	}
	return ds, nil
}

func (s *Session) stopped(ctx context.Context, status string) error {
	s.metrics.Failed(status)
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrSuperseded
}

func (s *Session) run(ctx context.Context, root string) (*Dataset, error) {
	rep := &report.ScanReport{
		ID:        uuid.NewString(),
		Root:      root,
		StartedAt: time.Now(),
	}
	s.logger.Infof("Scanning %s (scan %s)", root, rep.ID)

	var index *scan.Index
	if name := s.cfg.Scan.IndexFile; name != "" {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		idx, err := scan.OpenIndex(path)
		if err != nil {
			s.logger.Warnf("Header index %s unavailable: %v", path, err)
			rep.Add(report.Issue{Kind: report.KindIndexUnavailable, Path: path, Detail: err.Error(), Err: err})
		} else {
			index = idx
		}
	}

	scanner := scan.New(scan.Options{
		Workers:         s.cfg.Scan.Workers,
		FollowSymlinks:  s.cfg.Scan.FollowSymlinks,
		ImageModalities: s.cfg.Modalities.Image,
		Index:           index,
		Progress:        s.progress,
		Logger:          s.logger,
	})
	res, err := scanner.Scan(ctx, root)
	if err != nil {
		return nil, err
	}

	if index != nil {
		keep := make(map[string]bool, len(res.Records))
		for _, rec := range res.Records {
			keep[rec.Path] = true
		}
		if err := index.Compact(keep); err != nil {
			s.logger.Warnf("Failed to compact header index %s: %v", index.Path(), err)
			rep.Add(report.Issue{Kind: report.KindIndexUnavailable, Path: index.Path(), Detail: err.Error(), Err: err})
		}
	}

	g := graph.Build(res.Records, graph.WithClassifier(s.classifier), graph.WithLogger(s.logger))
	resolution := link.Resolve(g, link.Options{MaxHops: s.cfg.Link.MaxHops, Logger: s.logger})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := res.Stats
	rep.FilesDiscovered = st.Discovered
	rep.FilesScanned = st.Scanned
	rep.FilesAccepted = st.Accepted
	rep.FilesUnreadable = st.Unreadable
	rep.FilesRejected = st.Rejected
	rep.FilesFromIndex = st.FromIndex
	rep.Patients = len(g.PatientIDs)
	rep.FrameGroups = resolution.FrameGroups()
	rep.Edges = g.EdgeCount()
	rep.Linked = resolution.Linked()
	rep.Unresolved = len(resolution.Unresolved)
	rep.Add(res.Issues...)
	rep.Add(g.Issues...)
	rep.Add(resolution.Issues...)
	rep.Sort()
	rep.FinishedAt = time.Now()

	s.metrics.Observe(rep)
	if s.journal != nil {
		s.journal.Record(rep)
	}
	s.logger.Infof("Scan %s done: %d files accepted, %d patients, %d frame groups, %d unresolved in %v",
		rep.ID, rep.FilesAccepted, rep.Patients, rep.FrameGroups, rep.Unresolved, rep.Duration().Round(time.Millisecond))

	return &Dataset{
		ID:         rep.ID,
		Root:       root,
		resolution: resolution,
		report:     rep,
		matcher:    s.matcher,
	}, nil
}
