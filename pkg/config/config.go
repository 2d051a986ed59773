// Package config loads analysis configuration files.
//
// A config file is TOML or YAML, chosen by extension, and mirrors the
// command-line flags of the analysis commands: flags given on the command
// line override file values. [Default] returns the values used when neither
// is set.
//
//	[store]
//	db = "/data/enwiki.badger"
//
//	[analysis]
//	n = "1-5"
//	max_depth = 0
//	concurrency = 4
//
//	[output]
//	dir = "out"
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	nlerrors "github.com/matzehuels/nlink/pkg/errors"
)

// Defaults.
const (
	DefaultN           = "1-5"
	DefaultTopK        = 10
	DefaultConcurrency = 4
	DefaultOutputDir   = "nlink-out"
	DefaultDatabase    = "nlink"
	DefaultCache       = "file"
)

var validate = validator.New()

// Config is the root of a config file.
type Config struct {
	Store    StoreConfig    `toml:"store" yaml:"store"`
	Analysis AnalysisConfig `toml:"analysis" yaml:"analysis"`
	Output   OutputConfig   `toml:"output" yaml:"output"`
	Cache    CacheConfig    `toml:"cache" yaml:"cache"`
}

// StoreConfig selects the link store. Exactly one of Links, DB and
// Postgres must be set once flags are applied.
type StoreConfig struct {
	Links      string `toml:"links" yaml:"links"`
	Pages      string `toml:"pages" yaml:"pages"`
	DB         string `toml:"db" yaml:"db"`
	Postgres   string `toml:"postgres" yaml:"postgres" validate:"omitempty,startswith=postgres"`
	LinksTable string `toml:"links_table" yaml:"links_table"`
	PagesTable string `toml:"pages_table" yaml:"pages_table"`
}

// AnalysisConfig holds the parameters of a run. Zero budgets are unlimited.
type AnalysisConfig struct {
	N              string `toml:"n" yaml:"n" validate:"required"`
	MaxSteps       int    `toml:"max_steps" yaml:"max_steps" validate:"gte=0"`
	MaxDepth       int    `toml:"max_depth" yaml:"max_depth" validate:"gte=0"`
	MaxRows        int    `toml:"max_rows" yaml:"max_rows" validate:"gte=0"`
	TopK           int    `toml:"top_k" yaml:"top_k" validate:"gte=1,lte=1000"`
	Concurrency    int    `toml:"concurrency" yaml:"concurrency" validate:"gte=1,lte=256"`
	DanglingAsHalt bool   `toml:"dangling_as_halt" yaml:"dangling_as_halt"`
}

// OutputConfig selects the table sink. Mongo wins over Dir when set.
type OutputConfig struct {
	Dir         string `toml:"dir" yaml:"dir"`
	Mongo       string `toml:"mongo" yaml:"mongo" validate:"omitempty,startswith=mongodb"`
	Database    string `toml:"database" yaml:"database"`
	MetricsFile string `toml:"metrics_file" yaml:"metrics_file"`
}

// CacheConfig selects the result cache.
type CacheConfig struct {
	Backend string `toml:"backend" yaml:"backend" validate:"oneof=file redis none"`
	Dir     string `toml:"dir" yaml:"dir"`
	Redis   string `toml:"redis" yaml:"redis"`
	Prefix  string `toml:"prefix" yaml:"prefix"`
}

// Default returns a config with every default applied and no store.
func Default() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			N:           DefaultN,
			TopK:        DefaultTopK,
			Concurrency: DefaultConcurrency,
		},
		Output: OutputConfig{
			Dir:      DefaultOutputDir,
			Database: DefaultDatabase,
		},
		Cache: CacheConfig{Backend: DefaultCache},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .toml, or .yaml/.yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over the defaults. format is a file extension with or
// without the leading dot.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "toml":
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
		if err != nil {
			return nil, nlerrors.Wrap(nlerrors.ErrCodeInvalidConfig, err, "decode toml")
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return nil, nlerrors.New(nlerrors.ErrCodeInvalidConfig, "unknown key %q", undec[0].String())
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, nlerrors.Wrap(nlerrors.ErrCodeInvalidConfig, err, "decode yaml")
		}
	default:
		return nil, nlerrors.New(nlerrors.ErrCodeInvalidConfig, "unsupported config format %q (use .toml or .yaml)", format)
	}
	return cfg, nil
}

// Validate checks field ranges and the N range syntax.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if _, err := c.Ns(); err != nil {
		return err
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis == "" {
		return nlerrors.New(nlerrors.ErrCodeInvalidConfig, "cache.redis: required for the redis backend")
	}
	return nil
}

// ValidateStore checks that exactly one link store source is set.
func (c *Config) ValidateStore() error {
	set := 0
	for _, v := range []string{c.Store.Links, c.Store.DB, c.Store.Postgres} {
		if v != "" {
			set++
		}
	}
	switch set {
	case 0:
		return nlerrors.New(nlerrors.ErrCodeInvalidConfig, "no link store: set --links, --db or --postgres")
	case 1:
		return nil
	}
	return nlerrors.New(nlerrors.ErrCodeInvalidConfig, "choose one link store: --links, --db or --postgres")
}

// Ns parses Analysis.N.
func (c *Config) Ns() ([]int, error) {
	return nlerrors.ParseNRange(c.Analysis.N)
}

// formatValidationError reports the first failed field with its config path.
func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return nlerrors.Wrap(nlerrors.ErrCodeInvalidConfig, err, "validate config")
	}
	e := verrs[0]
	field := strings.ToLower(strings.TrimPrefix(e.Namespace(), "Config."))
	switch e.Tag() {
	case "required":
		return nlerrors.New(nlerrors.ErrCodeInvalidConfig, "%s: field is required", field)
	case "gte":
		return nlerrors.New(nlerrors.ErrCodeInvalidConfig, "%s: must be at least %s", field, e.Param())
	case "lte":
		return nlerrors.New(nlerrors.ErrCodeInvalidConfig, "%s: must not exceed %s", field, e.Param())
	case "oneof":
		return nlerrors.New(nlerrors.ErrCodeInvalidConfig, "%s: must be one of %s", field, e.Param())
	case "startswith":
		return nlerrors.New(nlerrors.ErrCodeInvalidConfig, "%s: must start with %s", field, e.Param())
	}
	return nlerrors.New(nlerrors.ErrCodeInvalidConfig, "%s: validation failed (%s)", field, e.Tag())
}
