package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	NoBrowser bool   `json:"no_browser"`
	DataDir   string `json:"data_dir"`
	DBPath    string `json:"-"`
	NoStore   bool   `json:"no_store"`

	APIURL   string `json:"api_url"`
	APIKey   string `json:"api_key,omitempty"`
	Project  string `json:"project"`
	TraceDir string `json:"trace_dir"`

	LookbackDays    int           `json:"lookback_days"`
	CacheTTL        time.Duration `json:"-"`
	RefreshSchedule string        `json:"refresh_schedule"`
	ProgramsPath    string        `json:"programs_path"`
	Timezone        string        `json:"timezone"`

	HidePlaceholderNames bool          `json:"hide_placeholder_names"`
	RecentLimit          int           `json:"recent_limit"`
	TopUsersLimit        int           `json:"top_users_limit"`
	SlowThreshold        time.Duration `json:"-"`
	CostModel            string        `json:"cost_model"`

	WriteTimeout   time.Duration `json:"-"`
	RequestTimeout time.Duration `json:"-"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".tracedash")
	return Config{
		Host:           "127.0.0.1",
		Port:           8080,
		DataDir:        dataDir,
		DBPath:         filepath.Join(dataDir, "runs.db"),
		APIURL:         "https://api.smith.langchain.com",
		LookbackDays:   355,
		CacheTTL:       5 * time.Minute,
		Timezone:       "UTC",
		RecentLimit:    30,
		TopUsersLimit:  10,
		SlowThreshold:  15 * time.Second,
		CostModel:      "gpt-4",
		WriteTimeout:   30 * time.Second,
		RequestTimeout: 30 * time.Second,
	}, nil
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := LoadMinimal()
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, fs)
	return cfg, nil
}

// LoadMinimal builds a Config from defaults, config file and env,
// without parsing CLI flags. Use this for subcommands that manage
// their own flag sets.
func LoadMinimal() (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	// The data dir locates the config file, so only the env var
	// can move it.
	if v := os.Getenv("TRACEDASH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	if err := cfg.loadEnv(); err != nil {
		return cfg, err
	}
	cfg.DBPath = filepath.Join(cfg.DataDir, "runs.db")
	return cfg, nil
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

// fileConfig mirrors config.json. Pointers distinguish absent
// keys from zero values; durations are Go duration strings.
type fileConfig struct {
	Host                 *string `json:"host"`
	Port                 *int    `json:"port"`
	NoBrowser            *bool   `json:"no_browser"`
	NoStore              *bool   `json:"no_store"`
	APIURL               *string `json:"api_url"`
	APIKey               *string `json:"api_key"`
	Project              *string `json:"project"`
	TraceDir             *string `json:"trace_dir"`
	LookbackDays         *int    `json:"lookback_days"`
	CacheTTL             *string `json:"cache_ttl"`
	RefreshSchedule      *string `json:"refresh_schedule"`
	ProgramsPath         *string `json:"programs_path"`
	Timezone             *string `json:"timezone"`
	HidePlaceholderNames *bool   `json:"hide_placeholder_names"`
	RecentLimit          *int    `json:"recent_limit"`
	TopUsersLimit        *int    `json:"top_users_limit"`
	SlowThreshold        *string `json:"slow_threshold"`
	CostModel            *string `json:"cost_model"`
	WriteTimeout         *string `json:"write_timeout"`
	RequestTimeout       *string `json:"request_timeout"`
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file fileConfig
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	setString(&c.Host, file.Host)
	setString(&c.APIURL, file.APIURL)
	setString(&c.APIKey, file.APIKey)
	setString(&c.Project, file.Project)
	setString(&c.TraceDir, file.TraceDir)
	setString(&c.RefreshSchedule, file.RefreshSchedule)
	setString(&c.ProgramsPath, file.ProgramsPath)
	setString(&c.Timezone, file.Timezone)
	setString(&c.CostModel, file.CostModel)
	if file.Port != nil {
		c.Port = *file.Port
	}
	if file.NoBrowser != nil {
		c.NoBrowser = *file.NoBrowser
	}
	if file.NoStore != nil {
		c.NoStore = *file.NoStore
	}
	if file.HidePlaceholderNames != nil {
		c.HidePlaceholderNames = *file.HidePlaceholderNames
	}
	if file.LookbackDays != nil {
		c.LookbackDays = *file.LookbackDays
	}
	if file.RecentLimit != nil {
		c.RecentLimit = *file.RecentLimit
	}
	if file.TopUsersLimit != nil {
		c.TopUsersLimit = *file.TopUsersLimit
	}

	durations := []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"cache_ttl", file.CacheTTL, &c.CacheTTL},
		{"slow_threshold", file.SlowThreshold, &c.SlowThreshold},
		{"write_timeout", file.WriteTimeout, &c.WriteTimeout},
		{"request_timeout", file.RequestTimeout, &c.RequestTimeout},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func (c *Config) loadEnv() error {
	if v := os.Getenv("LANGSMITH_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("LANGSMITH_ENDPOINT"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("PROJECT_NAME"); v != "" {
		c.Project = v
	}
	if v := os.Getenv("TRACEDASH_TRACE_DIR"); v != "" {
		c.TraceDir = v
	}
	if v := os.Getenv("TRACEDASH_LOOKBACK_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing TRACEDASH_LOOKBACK_DAYS: %w", err)
		}
		c.LookbackDays = n
	}
	if v := os.Getenv("TRACEDASH_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks that a trace source is configured and that
// numeric settings are usable.
func (c *Config) Validate() error {
	if c.TraceDir == "" {
		if c.APIKey == "" {
			return errors.New(
				"no trace source: set LANGSMITH_API_KEY or trace_dir",
			)
		}
		if c.Project == "" {
			return errors.New(
				"no project: set PROJECT_NAME or -project",
			)
		}
	}
	if c.LookbackDays <= 0 {
		return fmt.Errorf("lookback_days must be positive, got %d", c.LookbackDays)
	}
	if c.RecentLimit < 0 || c.TopUsersLimit < 0 {
		return errors.New("limits must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8080, "Port to listen on")
	fs.Bool(
		"no-browser", false,
		"Don't open browser on startup",
	)
	RegisterSourceFlags(fs)
	fs.String(
		"refresh-schedule", "",
		"Cron expression for scheduled refresh (e.g. \"*/30 * * * *\")",
	)
	fs.Bool("no-store", false, "Keep runs in memory only")
}

// RegisterSourceFlags registers the flags that select and scope
// the trace source. Shared by serve and report.
func RegisterSourceFlags(fs *flag.FlagSet) {
	fs.String("project", "", "LangSmith project name")
	fs.String("trace-dir", "", "Read exported runs from this directory")
	fs.Int("days", 355, "Lookback window in days")
	fs.String("timezone", "UTC", "Timezone for calendar grouping")
	fs.String("programs", "", "YAML file with program keyword rules")
	fs.Bool(
		"real-names", false,
		"Hide placeholder user names in rankings",
	)
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "host":
			cfg.Host = v
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(v)
		case "no-browser":
			cfg.NoBrowser = v == "true"
		case "no-store":
			cfg.NoStore = v == "true"
		case "project":
			cfg.Project = v
		case "trace-dir":
			cfg.TraceDir = v
		case "days":
			cfg.LookbackDays, _ = strconv.Atoi(v)
		case "timezone":
			cfg.Timezone = v
		case "programs":
			cfg.ProgramsPath = v
		case "real-names":
			cfg.HidePlaceholderNames = v == "true"
		case "refresh-schedule":
			cfg.RefreshSchedule = v
		}
	})
}

// ResolveDataDir returns the effective data directory by applying
// defaults and environment overrides, without reading any files.
func ResolveDataDir() (string, error) {
	cfg, err := Default()
	if err != nil {
		return "", err
	}
	if v := os.Getenv("TRACEDASH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	return cfg.DataDir, nil
}
