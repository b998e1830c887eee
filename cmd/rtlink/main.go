package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GrigoryEvko/rtlink/internal/config"
	"github.com/GrigoryEvko/rtlink/internal/export"
	"github.com/GrigoryEvko/rtlink/internal/goals"
	"github.com/GrigoryEvko/rtlink/internal/logging"
	"github.com/GrigoryEvko/rtlink/internal/metrics"
	"github.com/GrigoryEvko/rtlink/internal/report"
	"github.com/GrigoryEvko/rtlink/internal/session"
)

var (
	// version and build info
	buildStamp string
	gitHash    string
	goVersion  string
	version    string
	logger     *zap.SugaredLogger
)

const (
	inventoryName = "inventory"
	journalName   = "scan-issues.jsonl"
	goalsName     = "structure-goals.json"
	logName       = "rtlink.log"
)

// GoalsReport is the structure goals file written by --match-goals.
type GoalsReport struct {
	Table         string              `json:"table,omitempty"`
	Issues        []report.Issue      `json:"issues,omitempty"`
	StructureSets []StructureSetGoals `json:"structure_sets"`
}

// StructureSetGoals is one structure set in the goals report.
type StructureSetGoals struct {
	PatientID        string                 `json:"patient_id"`
	FrameOfReference string                 `json:"frame_of_reference"`
	SOPInstanceUID   string                 `json:"sop_instance_uid"`
	Label            string                 `json:"label,omitempty"`
	Structures       []goals.StructureMatch `json:"structures"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	options, err := InitOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		if options != nil {
			fmt.Fprint(os.Stderr, options.HelpText())
		}
		os.Exit(1)
	}
	if options.Help {
		fmt.Fprint(os.Stderr, options.HelpText())
		os.Exit(1)
	}

	logFile := ""
	if options.Debug || options.SaveLog {
		logFile = filepath.Join(options.Output, logName)
	}
	logger, err = logging.Setup(options.Debug, logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if options.Version {
		logger.Infof("Current version: %s", version)
		logger.Infof("Git Commit Hash: %s", gitHash)
		logger.Infof("UTC Build Time : %s", buildStamp)
		logger.Infof("Golang Version : %s", goVersion)
		return
	}

	if err := run(ctx, options); err != nil {
		if ctx.Err() != nil {
			fmt.Println("\r- Ctrl+C pressed in Terminal")
		}
		logger.Fatal(err)
	}
}

func run(ctx context.Context, options *Options) error {
	cfg, err := config.Load(options.ConfigFile)
	if err != nil {
		return err
	}
	if err := options.Apply(cfg); err != nil {
		return err
	}

	aliases, err := loadAliases(cfg.Goals.Aliases)
	if err != nil {
		return err
	}
	if err := editAliases(aliases, options); err != nil {
		return err
	}
	if options.Input == "" {
		return nil
	}

	if err := os.MkdirAll(options.Output, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	enc, err := export.NewEncoder(options.Format)
	if err != nil {
		return err
	}

	var matcher *goals.Matcher
	if options.MatchGoals || cfg.Goals.Table != "" {
		matcher, err = goals.NewMatcher(cfg.Goals.Table, goals.NewTableCache(cfg.Goals.CacheTTL), aliases, goals.Options{
			Threshold:     cfg.Goals.FuzzyThreshold,
			Metric:        cfg.Goals.FuzzyMetric,
			UnmatchedName: cfg.Goals.UnmatchedName,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
	}

	journal, err := report.OpenJournal(filepath.Join(options.Output, journalName))
	if err != nil {
		return err
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Warnf("Failed to close issue journal: %v", err)
		}
	}()

	m := metrics.New()
	s, err := session.New(session.Options{
		Config:   cfg,
		Logger:   logger,
		Metrics:  m,
		Progress: newBarProgress(nil, options.Debug, logger),
		Journal:  journal,
		Matcher:  matcher,
	})
	if err != nil {
		return err
	}

	logger.Debugf("Session %s scanning %s with %d workers", s.ID, options.Input, cfg.Scan.Workers)
	ds, scanErr := s.Rescan(ctx, options.Input)
	if options.MetricsFile != "" {
		if err := m.WriteTextfile(options.MetricsFile); err != nil {
			logger.Warnf("Failed to write metrics to %s: %v", options.MetricsFile, err)
		}
	}
	if scanErr != nil {
		return scanErr
	}

	inv := export.Build(ds, export.Filter{PatientID: options.Patient, Modality: options.Modality})
	out := filepath.Join(options.Output, inventoryName+enc.Extension())
	if err := export.WriteFile(out, enc, inv); err != nil {
		return fmt.Errorf("failed to write inventory: %w", err)
	}
	logger.Infof("Inventory of %d records written to %s", len(inv.Rows), out)

	if matcher != nil {
		path := filepath.Join(options.Output, goalsName)
		rep, err := writeGoals(ds, inv, matcher, path)
		if err != nil {
			return err
		}
		if len(rep.Issues) > 0 {
			journal.RecordIssues(rep.Table, rep.Issues)
			logger.Warnf("%d goal table entries were dropped. See %s for details.", len(rep.Issues), journalName)
		}
		logger.Infof("Structure goals for %d structure sets written to %s", len(rep.StructureSets), path)
	}

	printSummary(ds.Report())
	return nil
}

func loadAliases(path string) (*goals.Aliases, error) {
	if path == "" {
		return goals.NewAliases(nil), nil
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return goals.LoadAliasCSV(path)
	}
	return goals.LoadAliases(path)
}

func editAliases(aliases *goals.Aliases, options *Options) error {
	if len(options.AddAlias)+len(options.RemoveAlias) == 0 {
		return nil
	}
	if aliases.Path() == "" {
		return fmt.Errorf("alias edits need a json alias table (--aliases)")
	}
	for _, s := range options.AddAlias {
		canonical, alias, err := aliasEdit(s)
		if err != nil {
			return err
		}
		if err := aliases.AddAlias(canonical, alias); err != nil {
			return err
		}
		logger.Infof("Added alias %q for %s", alias, canonical)
	}
	for _, s := range options.RemoveAlias {
		canonical, alias, err := aliasEdit(s)
		if err != nil {
			return err
		}
		if err := aliases.RemoveAlias(canonical, alias); err != nil {
			return err
		}
		logger.Infof("Removed alias %q from %s", alias, canonical)
	}
	return nil
}

// writeGoals matches every structure set of the inventory and writes the
// result as JSON together with the entries the goal table dropped. A
// structure set that fails to match is logged and skipped.
func writeGoals(ds *session.Dataset, inv *export.Inventory, matcher *goals.Matcher, path string) (*GoalsReport, error) {
	rep := &GoalsReport{StructureSets: []StructureSetGoals{}}
	issues, err := matcher.Issues()
	if err != nil {
		return nil, err
	}
	rep.Issues = issues
	if doc, _ := matcher.Table(); doc != nil {
		rep.Table = doc.Path
	}
	for _, tree := range inv.Patients {
		for _, fg := range tree.Frames {
			for _, ss := range fg.StructureSets {
				uid := ss.Record.SOPInstanceUID
				matches, err := ds.Goals(tree.ID, uid)
				if err != nil {
					logger.Warnf("Match structures of %s failed - %v", uid, err)
					continue
				}
				rep.StructureSets = append(rep.StructureSets, StructureSetGoals{
					PatientID:        tree.ID,
					FrameOfReference: fg.UID,
					SOPInstanceUID:   uid,
					Label:            ss.Record.Label,
					Structures:       matches,
				})
			}
		}
	}

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write structure goals: %w", err)
	}
	return rep, nil
}

func printSummary(r *report.ScanReport) {
	fmt.Println("\n=== Scan Summary ===")
	fmt.Printf("Files discovered: %d\n", r.FilesDiscovered)
	fmt.Printf("Accepted: %d (from index: %d)\n", r.FilesAccepted, r.FilesFromIndex)
	fmt.Printf("Unreadable: %d\n", r.FilesUnreadable)
	fmt.Printf("Rejected: %d\n", r.FilesRejected)
	fmt.Printf("Patients: %d\n", r.Patients)
	fmt.Printf("Frame groups: %d\n", r.FrameGroups)
	fmt.Printf("Linked: %d\n", r.Linked)
	fmt.Printf("Unresolved: %d\n", r.Unresolved)
	fmt.Printf("Total time: %s\n", r.Duration().Round(time.Millisecond))

	if r.Unresolved > 0 || len(r.Issues) > 0 {
		logger.Warnf("%d issues recorded. See %s for details.", len(r.Issues), journalName)
	}
}
