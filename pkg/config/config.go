package config

import (
	"time"

	"github.com/glimps-re/stegascan/pkg/engine"
	"github.com/glimps-re/stegascan/pkg/filesystem"
	"github.com/glimps-re/stegascan/pkg/jobs"
	"github.com/glimps-re/stegascan/pkg/monitor"
)

// Version is set at build time.
var Version = "dev"

var (
	DefaultWorkers           = 4
	DefaultExtractWorkers    = 2
	DefaultMaxFileSize       = "100MiB"
	DefaultMaxUploadSize     = "100MiB"
	DefaultVideoSampleRate   = 30
	DefaultReportLocation    = "outputs/report.json"
	DefaultAddress           = "127.0.0.1:8080"
	DefaultModificationDelay = 30 * time.Second
	DefaultJobWorkers        = 4
	DefaultJobQueueSize      = 64
	DefaultJobRetention      = 24 * time.Hour
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type ActionsConfig struct {
	Log   bool `yaml:"log" mapstructure:"log"`
	Print bool `yaml:"print" mapstructure:"print"`
	// PrintLocation is the file verdicts are printed to, stdout when empty.
	PrintLocation string `yaml:"print_location" mapstructure:"print_location"`
}

type ScanConfig struct {
	VideoSampleRate int `yaml:"video_sample_rate" mapstructure:"video_sample_rate"`
	// Report is the JSON report of batch scans, none when empty.
	Report string `yaml:"report" mapstructure:"report"`
}

type CacheConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Location of the sqlite database, in memory when empty.
	Location string `yaml:"location" mapstructure:"location"`
}

type JobsConfig struct {
	jobs.Config `yaml:",inline" mapstructure:",squash"`
	// Store is either memory or sqlite.
	Store    string `yaml:"store" mapstructure:"store"`
	Location string `yaml:"location" mapstructure:"location"`
}

type ServerConfig struct {
	Address       string `yaml:"address" mapstructure:"address"`
	MaxUploadSize string `yaml:"max_upload_size" mapstructure:"max_upload_size"`
}

type Config struct {
	Config         string   `yaml:"config"`
	Debug          bool     `yaml:"debug" mapstructure:"debug"`
	Verbose        bool     `yaml:"verbose" mapstructure:"verbose"`
	Paths          []string `yaml:"paths" mapstructure:"paths"`
	Workers        int      `yaml:"workers" mapstructure:"workers"`
	ExtractWorkers int      `yaml:"extract_workers" mapstructure:"extract_workers"`
	Extract        bool     `yaml:"extract" mapstructure:"extract"`
	MaxFileSize    string   `yaml:"max_file_size" mapstructure:"max_file_size"`
	FollowSymlinks bool     `yaml:"follow_symlinks" mapstructure:"follow_symlinks"`

	Scan       ScanConfig          `yaml:"scan" mapstructure:"scan"`
	Actions    ActionsConfig       `yaml:"actions" mapstructure:"actions"`
	Thresholds engine.Config       `yaml:"thresholds" mapstructure:"thresholds"`
	Cache      CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Jobs       JobsConfig          `yaml:"jobs" mapstructure:"jobs"`
	Server     ServerConfig        `yaml:"server" mapstructure:"server"`
	S3         filesystem.S3Config `yaml:"s3" mapstructure:"s3"`
	Monitoring monitor.Config      `yaml:"monitoring" mapstructure:"monitoring"`
}

// S3Enabled reports whether s3:// paths can be served.
func (c *Config) S3Enabled() bool {
	return c.S3.Endpoint != "" || c.S3.Region != ""
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Config:         DefaultConfigPath,
		Workers:        DefaultWorkers,
		ExtractWorkers: DefaultExtractWorkers,
		MaxFileSize:    DefaultMaxFileSize,
		Scan: ScanConfig{
			VideoSampleRate: DefaultVideoSampleRate,
			Report:          DefaultReportLocation,
		},
		Actions: ActionsConfig{
			Log:   true,
			Print: true,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Location: DefaultCacheLocation,
		},
		Jobs: JobsConfig{
			Config: jobs.Config{
				Workers:   DefaultJobWorkers,
				QueueSize: DefaultJobQueueSize,
				Retention: DefaultJobRetention,
			},
			Store: StoreMemory,
		},
		Server: ServerConfig{
			Address:       DefaultAddress,
			MaxUploadSize: DefaultMaxUploadSize,
		},
		Monitoring: monitor.Config{
			ModDelay: DefaultModificationDelay,
		},
	}
}
