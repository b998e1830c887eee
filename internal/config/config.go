// Package config loads rtlink settings from an optional file and RTLINK_*
// environment variables.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. RTLINK_LINK_MAX_HOPS.
const EnvPrefix = "RTLINK"

// Session policies for a rescan of a directory that is already being scanned.
const (
	PolicyCancel = "cancel"
	PolicyWait   = "wait"
)

type Config struct {
	Scan       ScanConfig       `mapstructure:"scan"`
	Link       LinkConfig       `mapstructure:"link"`
	Goals      GoalsConfig      `mapstructure:"goals"`
	Modalities ModalitiesConfig `mapstructure:"modalities"`
	Session    SessionConfig    `mapstructure:"session"`
}

type ScanConfig struct {
	Workers        int    `mapstructure:"workers" validate:"gte=1,lte=1024"`
	FollowSymlinks bool   `mapstructure:"follow_symlinks"`
	IndexFile      string `mapstructure:"index_file"`
}

type LinkConfig struct {
	MaxHops int `mapstructure:"max_hops" validate:"gte=1,lte=256"`
}

type GoalsConfig struct {
	Table          string        `mapstructure:"table"`
	Aliases        string        `mapstructure:"aliases"`
	FuzzyThreshold float64       `mapstructure:"fuzzy_threshold" validate:"gt=0,lte=1"`
	FuzzyMetric    string        `mapstructure:"fuzzy_metric" validate:"oneof=levenshtein jaro jaro-winkler sorensen-dice jaccard smith-waterman-gotoh"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	UnmatchedName  string        `mapstructure:"unmatched_name" validate:"required"`
}

// ModalitiesConfig lists the DICOM modalities of each record kind.
type ModalitiesConfig struct {
	Image     []string `mapstructure:"image" validate:"min=1,dive,required"`
	Structure []string `mapstructure:"structure" validate:"min=1,dive,required"`
	Plan      []string `mapstructure:"plan" validate:"min=1,dive,required"`
	Dose      []string `mapstructure:"dose" validate:"min=1,dive,required"`
}

type SessionConfig struct {
	Policy string `mapstructure:"policy" validate:"oneof=cancel wait"`
}

var validate = validator.New()

func setDefaults(v *viper.Viper) {
	v.SetDefault("scan.workers", runtime.NumCPU())
	v.SetDefault("scan.follow_symlinks", false)
	v.SetDefault("scan.index_file", "")
	v.SetDefault("link.max_hops", 8)
	v.SetDefault("goals.table", "")
	v.SetDefault("goals.aliases", "")
	v.SetDefault("goals.fuzzy_threshold", 0.85)
	v.SetDefault("goals.fuzzy_metric", "levenshtein")
	v.SetDefault("goals.cache_ttl", 5*time.Minute)
	v.SetDefault("goals.unmatched_name", "MISSING")
	v.SetDefault("modalities.image", []string{"CT", "MR", "PT", "NM", "US", "CR", "DX", "MG", "XA", "RF", "OT", "RTIMAGE"})
	v.SetDefault("modalities.structure", []string{"RTSTRUCT"})
	v.SetDefault("modalities.plan", []string{"RTPLAN", "RTIONPLAN"})
	v.SetDefault("modalities.dose", []string{"RTDOSE"})
	v.SetDefault("session.policy", PolicyCancel)
}

// Default returns the built-in settings without environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads path (YAML, JSON or TOML by extension) when it is not empty,
// applies RTLINK_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, e := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s=%s)", e.Namespace(), e.Tag(), e.Param()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Session.Policy = strings.ToLower(strings.TrimSpace(c.Session.Policy))
	c.Goals.FuzzyMetric = strings.ToLower(strings.TrimSpace(c.Goals.FuzzyMetric))
	for _, list := range []*[]string{&c.Modalities.Image, &c.Modalities.Structure, &c.Modalities.Plan, &c.Modalities.Dose} {
		for i, m := range *list {
			(*list)[i] = strings.ToUpper(strings.TrimSpace(m))
		}
	}
}
