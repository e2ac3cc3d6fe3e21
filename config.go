package regionews

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/sosodev/duration"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	OpenAI      OpenAIConfig      `yaml:"openai" mapstructure:"openai"`
	Analysis    AnalysisConfig    `yaml:"analysis" mapstructure:"analysis"`
	Syndication SyndicationConfig `yaml:"syndication" mapstructure:"syndication"`
	Cluster     ClusterConfig     `yaml:"cluster" mapstructure:"cluster"`
	Regional    RegionalConfig    `yaml:"regional" mapstructure:"regional"`
	Report      ReportConfig      `yaml:"report" mapstructure:"report"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AnalysisConfig configures which documents are analyzed and how geography
// is weighted.
type AnalysisConfig struct {
	// Window is an ISO-8601 duration such as P30D. Empty analyzes everything.
	Window        string  `yaml:"window" mapstructure:"window"`
	SpatialWeight float64 `yaml:"spatial_weight" mapstructure:"spatial_weight"`
	FusionScale   float64 `yaml:"fusion_scale" mapstructure:"fusion_scale"`
	LocalOnly     bool    `yaml:"local_only" mapstructure:"local_only"`
	RegionalScope string  `yaml:"regional_scope" mapstructure:"regional_scope"`
}

// ReportConfig configures report output.
type ReportConfig struct {
	Dir  string `yaml:"dir" mapstructure:"dir"`
	HTML bool   `yaml:"html" mapstructure:"html"`
}

// Load reads configuration from the working directory and environment.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom reads an optional .env file and config.yaml from dir, then
// applies REGIONEWS_ environment overrides and defaults.
func LoadFrom(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	// Environment
	v.SetEnvPrefix("REGIONEWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("openai.api_key", "REGIONEWS_OPENAI_API_KEY", "OPENAI_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind openai key")
	}

	// Defaults
	defaults := DefaultOptions()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.path", "regionews.db")
	v.SetDefault("openai.embedding_model", "text-embedding-3-large")
	v.SetDefault("openai.scoring_model", "gpt-4.1-mini")
	v.SetDefault("openai.concurrency", 4)
	v.SetDefault("analysis.window", "P30D")
	v.SetDefault("analysis.spatial_weight", defaults.SpatialWeight)
	v.SetDefault("analysis.fusion_scale", defaults.Fusion.Scale)
	v.SetDefault("analysis.local_only", false)
	v.SetDefault("analysis.regional_scope", ScopeLocation)
	v.SetDefault("syndication.prefix_chars", defaults.Syndication.PrefixChars)
	v.SetDefault("syndication.formulaic_threshold", defaults.Syndication.FormulaicThreshold)
	v.SetDefault("syndication.similarity_threshold", defaults.Syndication.SimilarityThreshold)
	v.SetDefault("syndication.min_duplicates", defaults.Syndication.MinDuplicates)
	v.SetDefault("syndication.workers", 0)
	v.SetDefault("cluster.linkage", string(defaults.Cluster.Linkage))
	v.SetDefault("cluster.distance_threshold", defaults.Cluster.DistanceThreshold)
	v.SetDefault("cluster.min_cluster_size", 0)
	v.SetDefault("cluster.min_cluster_floor", defaults.Cluster.MinClusterFloor)
	v.SetDefault("regional.min_n", defaults.Regional.MinN)
	v.SetDefault("regional.n_bootstrap", defaults.Regional.NBootstrap)
	v.SetDefault("regional.confidence", defaults.Regional.Confidence)
	v.SetDefault("regional.workers", 0)
	v.SetDefault("regional.n_permutations", defaults.Regional.NPermutations)
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.html", true)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// Validate rejects out-of-range settings.
func (c *Config) Validate() error {
	if _, err := c.WindowDuration(); err != nil {
		return err
	}
	a := c.Analysis
	if a.SpatialWeight < 0 || a.SpatialWeight > 1 {
		return eris.Wrapf(ErrInvalidInput, "config: analysis.spatial_weight %v outside [0,1]", a.SpatialWeight)
	}
	if a.FusionScale < 0 {
		return eris.Wrapf(ErrInvalidInput, "config: analysis.fusion_scale %v is negative", a.FusionScale)
	}
	switch a.RegionalScope {
	case "", ScopeLocation, ScopeCluster:
	default:
		return eris.Wrapf(ErrInvalidInput, "config: analysis.regional_scope %q", a.RegionalScope)
	}

	s := c.Syndication
	if s.SimilarityThreshold < 0 || s.SimilarityThreshold > 1 {
		return eris.Wrapf(ErrInvalidInput, "config: syndication.similarity_threshold %v outside [0,1]", s.SimilarityThreshold)
	}
	if s.MinDuplicates < 0 {
		return eris.Wrapf(ErrInvalidInput, "config: syndication.min_duplicates %d is negative", s.MinDuplicates)
	}
	if s.PrefixChars != 0 && s.PrefixChars < minPrefixChars {
		return eris.Wrapf(ErrInvalidInput, "config: syndication.prefix_chars %d below %d", s.PrefixChars, minPrefixChars)
	}

	if _, err := ParseLinkage(string(c.Cluster.Linkage)); err != nil {
		return eris.Wrap(err, "config: cluster.linkage")
	}
	if c.Cluster.DistanceThreshold < 0 {
		return eris.Wrapf(ErrInvalidInput, "config: cluster.distance_threshold %v is negative", c.Cluster.DistanceThreshold)
	}
	if c.Cluster.MinClusterSize < 0 {
		return eris.Wrapf(ErrInvalidInput, "config: cluster.min_cluster_size %d is negative", c.Cluster.MinClusterSize)
	}

	r := c.Regional
	if !(r.Confidence > 0 && r.Confidence < 1) {
		return eris.Wrapf(ErrInvalidInput, "config: regional.confidence %v outside (0,1)", r.Confidence)
	}
	if r.MinN < 1 || r.NBootstrap < 1 {
		return eris.Wrap(ErrInvalidInput, "config: regional.min_n and regional.n_bootstrap must be positive")
	}
	if r.NPermutations < 0 {
		return eris.Wrapf(ErrInvalidInput, "config: regional.n_permutations %d is negative", r.NPermutations)
	}
	return nil
}

// WindowDuration parses Analysis.Window. An empty window is zero.
func (c *Config) WindowDuration() (time.Duration, error) {
	if c.Analysis.Window == "" {
		return 0, nil
	}
	d, err := duration.Parse(c.Analysis.Window)
	if err != nil {
		return 0, eris.Wrapf(ErrInvalidInput, "config: analysis.window %q: %v", c.Analysis.Window, err)
	}
	return d.ToTimeDuration(), nil
}

// Since returns the start of the analysis window relative to now, or the
// zero time when the window is empty.
func (c *Config) Since(now time.Time) (time.Time, error) {
	d, err := c.WindowDuration()
	if err != nil || d == 0 {
		return time.Time{}, err
	}
	return now.Add(-d), nil
}

// Options builds the analysis options from the configuration.
func (c *Config) Options() Options {
	scope := c.Analysis.RegionalScope
	if scope == "" {
		scope = ScopeLocation
	}
	return Options{
		SpatialWeight: c.Analysis.SpatialWeight,
		Fusion:        FusionConfig{Scale: c.Analysis.FusionScale},
		Syndication:   c.Syndication,
		Cluster:       c.Cluster,
		Regional:      c.Regional,
		LocalOnly:     c.Analysis.LocalOnly,
		RegionalScope: scope,
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
