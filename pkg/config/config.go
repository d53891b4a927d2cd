package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fulmenhq/storyblok-assets-cleanup/pkg/storyblok"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Environment variables recognised for the credentials, kept compatible with
// the original script.
const (
	EnvToken   = "STORYBLOK_PERSONAL_ACCESS_TOKEN"
	EnvSpaceID = "STORYBLOK_SPACE_ID"
	EnvPrefix  = "STORYBLOK_CLEANUP"
)

// ErrInvalid wraps every validation failure so callers can map it to an exit code.
var ErrInvalid = errors.New("invalid configuration")

// Config is the run-wide configuration. It is built once by Load and passed by
// value afterwards; nothing mutates it during a run.
type Config struct {
	Token      string `mapstructure:"token" yaml:"token"`
	SpaceID    string `mapstructure:"space_id" yaml:"space_id"`
	Region     string `mapstructure:"region" yaml:"region"`
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url,omitempty"`

	Delete          bool   `mapstructure:"delete" yaml:"delete"`
	Backup          bool   `mapstructure:"backup" yaml:"backup"`
	BackupDirectory string `mapstructure:"backup_directory" yaml:"backup_directory"`

	Cache          bool          `mapstructure:"cache" yaml:"cache"`
	CacheDirectory string        `mapstructure:"cache_directory" yaml:"cache_directory"`
	CacheMaxAge    time.Duration `mapstructure:"cache_max_age" yaml:"cache_max_age"`

	ContinueOnDownloadFailure bool `mapstructure:"continue_on_download_failure" yaml:"continue_on_download_failure"`

	IgnorePaths []string `mapstructure:"ignore_paths" yaml:"ignore_paths"`
	IgnoreWords []string `mapstructure:"ignore_words" yaml:"ignore_words"`
	IgnoreGlobs []string `mapstructure:"ignore_globs" yaml:"ignore_globs"`

	Concurrency int  `mapstructure:"concurrency" yaml:"concurrency"`
	PerPage     int  `mapstructure:"per_page" yaml:"per_page"`
	Yes         bool `mapstructure:"yes" yaml:"yes"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Region:                    string(storyblok.DefaultRegion),
		Delete:                    false,
		Backup:                    true,
		BackupDirectory:           "./assets_backup",
		Cache:                     true,
		CacheDirectory:            "./cache",
		CacheMaxAge:               24 * time.Hour,
		ContinueOnDownloadFailure: true,
		IgnorePaths:               []string{},
		IgnoreWords:               []string{},
		IgnoreGlobs:               []string{},
		Concurrency:               4,
		PerPage:                   storyblok.MaxPerPage,
	}
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"token":                        "token",
	"space-id":                     "space_id",
	"region":                       "region",
	"api-base-url":                 "api_base_url",
	"delete":                       "delete",
	"backup":                       "backup",
	"backup-directory":             "backup_directory",
	"cache":                        "cache",
	"cache-directory":              "cache_directory",
	"cache-max-age":                "cache_max_age",
	"continue-on-download-failure": "continue_on_download_failure",
	"ignore-path":                  "ignore_paths",
	"ignore-word":                  "ignore_words",
	"ignore-glob":                  "ignore_globs",
	"concurrency":                  "concurrency",
	"per-page":                     "per_page",
	"yes":                          "yes",
}

// negations are the --no-X spellings of boolean options.
var negations = map[string]string{
	"no-delete":                       "delete",
	"no-backup":                       "backup",
	"no-cache":                        "cache",
	"no-continue-on-download-failure": "continue_on_download_failure",
}

// Load resolves and validates the configuration of a cleanup run.
func Load(flags *pflag.FlagSet) (Config, error) {
	cfg, err := Read(flags)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read resolves the configuration from defaults, an optional config file, the
// environment and finally the given flags (highest precedence) without
// validating it. A nil flag set is allowed.
func Read(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	def := Default()

	v.SetDefault("region", def.Region)
	v.SetDefault("api_base_url", "")
	v.SetDefault("delete", def.Delete)
	v.SetDefault("backup", def.Backup)
	v.SetDefault("backup_directory", def.BackupDirectory)
	v.SetDefault("cache", def.Cache)
	v.SetDefault("cache_directory", def.CacheDirectory)
	v.SetDefault("cache_max_age", def.CacheMaxAge)
	v.SetDefault("continue_on_download_failure", def.ContinueOnDownloadFailure)
	v.SetDefault("ignore_paths", def.IgnorePaths)
	v.SetDefault("ignore_words", def.IgnoreWords)
	v.SetDefault("ignore_globs", def.IgnoreGlobs)
	v.SetDefault("concurrency", def.Concurrency)
	v.SetDefault("per_page", def.PerPage)
	v.SetDefault("yes", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("token", EnvToken, EnvPrefix+"_TOKEN")
	_ = v.BindEnv("space_id", EnvSpaceID, EnvPrefix+"_SPACE_ID")

	configFile := ""
	if flags != nil {
		if f := flags.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: reading %s: %v", ErrInvalid, configFile, err)
		}
	} else {
		v.SetConfigName("storyblok-cleanup")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "storyblok-cleanup"))
		}
		// Optional; defaults apply when absent.
		_ = v.ReadInConfig()
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
		for name, key := range negations {
			if f := flags.Lookup(name); f != nil && f.Changed && f.Value.String() == "true" {
				v.Set(key, false)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.normalize()
	return cfg, nil
}

var spaceIDPattern = regexp.MustCompile(`^[0-9]+$`)

// Validate checks the options that cannot be defaulted.
func (c Config) Validate() error {
	var problems []string
	if c.Token == "" {
		problems = append(problems, fmt.Sprintf("token is required (flag --token or env %s)", EnvToken))
	}
	if c.SpaceID == "" {
		problems = append(problems, fmt.Sprintf("space id is required (flag --space-id or env %s)", EnvSpaceID))
	} else if !spaceIDPattern.MatchString(c.SpaceID) {
		problems = append(problems, fmt.Sprintf("space id %q must be numeric", c.SpaceID))
	}
	if _, err := storyblok.ParseRegion(c.Region); err != nil {
		problems = append(problems, err.Error())
	}
	for _, p := range c.IgnorePaths {
		if !strings.HasPrefix(p, "/") {
			problems = append(problems, fmt.Sprintf(
				"invalid ignore path %q, expected a global Storyblok path starting with a slash (ex: /sample/path)", p))
		}
	}
	if c.Concurrency < 1 {
		problems = append(problems, "concurrency must be at least 1")
	}
	if c.PerPage < 1 || c.PerPage > storyblok.MaxPerPage {
		problems = append(problems, fmt.Sprintf("per_page must be between 1 and %d", storyblok.MaxPerPage))
	}
	if c.CacheMaxAge < 0 {
		problems = append(problems, "cache_max_age must not be negative")
	}
	if c.Backup && strings.TrimSpace(c.BackupDirectory) == "" {
		problems = append(problems, "backup_directory must be set when backup is enabled")
	}
	if c.Cache && strings.TrimSpace(c.CacheDirectory) == "" {
		problems = append(problems, "cache_directory must be set when cache is enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateSpace checks only what local cache commands need.
func (c Config) ValidateSpace() error {
	switch {
	case c.SpaceID == "":
		return fmt.Errorf("%w: space id is required (flag --space-id or env %s)", ErrInvalid, EnvSpaceID)
	case !spaceIDPattern.MatchString(c.SpaceID):
		return fmt.Errorf("%w: space id %q must be numeric", ErrInvalid, c.SpaceID)
	case strings.TrimSpace(c.CacheDirectory) == "":
		return fmt.Errorf("%w: cache_directory must be set", ErrInvalid)
	}
	return nil
}

func (c *Config) normalize() {
	c.Region = strings.ToLower(strings.TrimSpace(c.Region))
	c.SpaceID = strings.TrimSpace(c.SpaceID)
	c.Token = strings.TrimSpace(c.Token)
	c.IgnorePaths = compact(c.IgnorePaths)
	c.IgnoreWords = compact(c.IgnoreWords)
	c.IgnoreGlobs = compact(c.IgnoreGlobs)
}

// compact drops empty entries and duplicates, keeping first-seen order.
func compact(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// DryRun reports whether the run touches nothing outside the cache.
func (c Config) DryRun() bool {
	return !c.Delete && !c.Backup
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	if out.Token != "" {
		out.Token = "***"
	}
	return out
}

// BaseURL is the management API root for this run.
func (c Config) BaseURL() string {
	if c.APIBaseURL != "" {
		return strings.TrimRight(c.APIBaseURL, "/")
	}
	region, err := storyblok.ParseRegion(c.Region)
	if err != nil {
		return storyblok.DefaultRegion.BaseURL()
	}
	return region.BaseURL()
}
