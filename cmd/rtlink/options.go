package main

import (
	"fmt"
	"strings"

	"github.com/DavidGamba/go-getoptions"

	"github.com/GrigoryEvko/rtlink/internal/config"
)

// Options command line parameters
type Options struct {
	Input       string
	Output      string
	ConfigFile  string
	GoalTable   string
	AliasTable  string
	Workers     int
	MaxHops     int
	Threshold   float64
	Metric      string
	Policy      string
	Patient     string
	Modality    string
	Format      string
	IndexFile   string
	MetricsFile string
	MatchGoals  bool
	AddAlias    []string
	RemoveAlias []string
	Debug       bool
	SaveLog     bool
	Version     bool
	Help        bool

	opt *getoptions.GetOpt
}

// InitOptions parses args. The returned error is nil when only help or the
// version was requested; the caller checks the flags.
func InitOptions(args []string) (*Options, error) {
	opt := &Options{opt: getoptions.New()}

	opt.opt.BoolVar(&opt.Help, "help", false, opt.opt.Alias("h"),
		opt.opt.Description("show help information"))
	opt.opt.BoolVar(&opt.Debug, "debug", false,
		opt.opt.Description("show more info"))
	opt.opt.BoolVar(&opt.SaveLog, "save-log", false,
		opt.opt.Description("save debug log info to file"))
	opt.opt.BoolVar(&opt.Version, "version", false, opt.opt.Alias("v"),
		opt.opt.Description("show version information"))
	opt.opt.StringVar(&opt.Input, "input", "", opt.opt.Alias("i"),
		opt.opt.Description("directory to scan for DICOM files"))
	opt.opt.StringVar(&opt.Output, "output", "./", opt.opt.Alias("o"),
		opt.opt.Description("output directory for the inventory and reports"))
	opt.opt.StringVar(&opt.ConfigFile, "config", "", opt.opt.Alias("c"),
		opt.opt.Description("settings file (yaml, json or toml)"))
	opt.opt.StringVar(&opt.GoalTable, "goals", "",
		opt.opt.Description("per patient goal table (json)"))
	opt.opt.StringVar(&opt.AliasTable, "aliases", "",
		opt.opt.Description("structure alias table (json, or csv read only)"))
	opt.opt.IntVar(&opt.Workers, "workers", 0, opt.opt.Alias("p"),
		opt.opt.Description("number of parallel header readers"))
	opt.opt.IntVar(&opt.MaxHops, "max-hops", 0,
		opt.opt.Description("maximum reference hops when looking for a frame of reference"))
	opt.opt.Float64Var(&opt.Threshold, "threshold", 0,
		opt.opt.Description("minimum similarity of a fuzzy structure match (0-1]"))
	opt.opt.StringVar(&opt.Metric, "metric", "",
		opt.opt.Description("similarity metric [levenshtein, jaro, jaro-winkler, sorensen-dice, jaccard, smith-waterman-gotoh]"))
	opt.opt.StringVar(&opt.Policy, "policy", "",
		opt.opt.Description("what a rescan of a busy directory does [cancel, wait]"))
	opt.opt.StringVar(&opt.Patient, "patient", "",
		opt.opt.Description("only export this patient ID"))
	opt.opt.StringVar(&opt.Modality, "modality", "",
		opt.opt.Description("only export records of this modality"))
	opt.opt.StringVar(&opt.Format, "format", "csv", opt.opt.Alias("f"),
		opt.opt.Description("inventory format [csv, tsv, json, xlsx]"))
	opt.opt.StringVar(&opt.IndexFile, "index", "",
		opt.opt.Description("header index file, relative paths live under the input directory"))
	opt.opt.StringVar(&opt.MetricsFile, "metrics-file", "",
		opt.opt.Description("write prometheus metrics to this file after the scan"))
	opt.opt.BoolVar(&opt.MatchGoals, "match-goals", false, opt.opt.Alias("m"),
		opt.opt.Description("match structure names against the goal and alias tables"))
	opt.opt.StringSliceVar(&opt.AddAlias, "add-alias", 1, 99,
		opt.opt.Description("add CANONICAL=ALIAS to the alias table"))
	opt.opt.StringSliceVar(&opt.RemoveAlias, "remove-alias", 1, 99,
		opt.opt.Description("remove CANONICAL=ALIAS from the alias table"))

	if _, err := opt.opt.Parse(args); err != nil {
		return nil, err
	}
	if opt.Help || opt.Version {
		return opt, nil
	}
	if opt.Input == "" && len(opt.AddAlias) == 0 && len(opt.RemoveAlias) == 0 {
		return nil, fmt.Errorf("--input is required")
	}
	return opt, nil
}

// HelpText is the generated usage.
func (o *Options) HelpText() string {
	return o.opt.Help()
}

// Apply copies the flags that were given onto cfg.
func (o *Options) Apply(cfg *config.Config) error {
	if o.opt.Called("workers") {
		cfg.Scan.Workers = o.Workers
	}
	if o.opt.Called("index") {
		cfg.Scan.IndexFile = o.IndexFile
	}
	if o.opt.Called("max-hops") {
		cfg.Link.MaxHops = o.MaxHops
	}
	if o.opt.Called("threshold") {
		cfg.Goals.FuzzyThreshold = o.Threshold
	}
	if o.opt.Called("metric") {
		cfg.Goals.FuzzyMetric = strings.ToLower(o.Metric)
	}
	if o.opt.Called("goals") {
		cfg.Goals.Table = o.GoalTable
	}
	if o.opt.Called("aliases") {
		cfg.Goals.Aliases = o.AliasTable
	}
	if o.opt.Called("policy") {
		cfg.Session.Policy = strings.ToLower(o.Policy)
	}
	return cfg.Validate()
}

// aliasEdit splits CANONICAL=ALIAS.
func aliasEdit(s string) (canonical, alias string, err error) {
	canonical, alias, ok := strings.Cut(s, "=")
	canonical, alias = strings.TrimSpace(canonical), strings.TrimSpace(alias)
	if !ok || canonical == "" || alias == "" {
		return "", "", fmt.Errorf("alias edit %q is not CANONICAL=ALIAS", s)
	}
	return canonical, alias, nil
}
