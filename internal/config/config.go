package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone        = "UTC"
	defaultMaxPayloadBytes = 512 << 20

	configPathEnv   = "PMC_MIRROR_CONFIG"
	storageDSNEnv   = "PMC_MIRROR_STORAGE_DSN"
	logLevelEnv     = "PMC_MIRROR_LOG_LEVEL"
	s3EndpointEnv   = "PMC_MIRROR_S3_ENDPOINT"
	ftpUserEnv      = "PMC_MIRROR_FTP_USER"
	ftpPasswordEnv  = "PMC_MIRROR_FTP_PASSWORD"
	metricsAddrEnv  = "PMC_MIRROR_METRICS_ADDR"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Sources    SourcesConfig    `yaml:"sources"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Circuit    CircuitConfig    `yaml:"circuit"`
	Transform  TransformConfig  `yaml:"transform"`
	Compliance ComplianceConfig `yaml:"compliance"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Listings   []ListingConfig  `yaml:"listings"`
}

// LoggingConfig selects the slog level and output format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig selects the layer store engine.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SourcesConfig describes both transports.
type SourcesConfig struct {
	S3  S3Config  `yaml:"s3"`
	FTP FTPConfig `yaml:"ftp"`
}

// S3Config is the primary bulk-object transport.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	// PathStyle is required by most S3-compatible endpoints other than AWS.
	PathStyle bool `yaml:"pathStyle"`
}

// FTPConfig is the legacy failover transport.
type FTPConfig struct {
	Host        string        `yaml:"host"`
	BasePath    string        `yaml:"basePath"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// FetchConfig is the retry/backoff policy and fetch pool sizing.
type FetchConfig struct {
	Workers         int           `yaml:"workers"`
	MaxAttempts     int           `yaml:"maxAttempts"`
	InitialBackoff  time.Duration `yaml:"initialBackoff"`
	MaxBackoff      time.Duration `yaml:"maxBackoff"`
	BackoffFactor   float64       `yaml:"backoffFactor"`
	Jitter          float64       `yaml:"jitter"`
	AttemptTimeout  time.Duration `yaml:"attemptTimeout"`
	RatePerSecond   float64       `yaml:"ratePerSecond"`
	RunRetryBudget  int           `yaml:"runRetryBudget"`
	// MaxPayloadBytes caps one file held in memory; a negative value disables the cap.
	MaxPayloadBytes int64         `yaml:"maxPayloadBytes"`
}

// CircuitConfig controls the primary transport's breaker.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	CoolDown         time.Duration `yaml:"coolDown"`
}

// TransformConfig sizes the parse/transform pool.
type TransformConfig struct {
	Workers int `yaml:"workers"`
}

// ComplianceConfig lists license identifiers treated as commercial-safe.
type ComplianceConfig struct {
	CommercialLicenses []string `yaml:"commercialLicenses"`
	RetractionSweep    *bool    `yaml:"retractionSweep"`
}

// SweepRetractions reports whether retracted entries below the mark are re-queued.
func (c ComplianceConfig) SweepRetractions() bool {
	return c.RetractionSweep == nil || *c.RetractionSweep
}

// MetricsConfig enables the Prometheus exposition endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// SchedulerConfig defines how often watch mode re-runs the batch.
type SchedulerConfig struct {
	Interval time.Duration  `yaml:"interval"`
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// ListingConfig is one manifest listing and the source system its mark is tracked under.
type ListingConfig struct {
	SourceSystem string `yaml:"sourceSystem"`
	// ManifestPath is a local file; RemoteManifest is a key fetched through the transports.
	ManifestPath   string `yaml:"manifestPath"`
	RemoteManifest string `yaml:"remoteManifest"`
	IndexURL       string `yaml:"indexUrl"`
}

// Load reads .env and YAML configuration (if present) and applies environment overrides.
// A broken config file is logged and the defaults are used instead.
func Load() Config {
	cfg, err := LoadPath(os.Getenv(configPathEnv))
	if err != nil {
		log.Printf("config: %v (falling back to defaults)", err)
		cfg, _ = LoadPath("")
	}
	return cfg
}

// LoadPath is Load with an explicit YAML path; an empty path uses the defaults.
// Unlike Load it reports an unreadable file.
func LoadPath(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: cannot load .env: %v", err)
	}

	cfg := defaultConfig()
	if path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()
	return cfg, nil
}

// LoadFile merges one YAML file over the defaults without consulting the environment.
func LoadFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read %s: %w", path, err)
	}
	var fileCfg Config
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("cannot parse %s: %w", path, err)
	}
	cfg := mergeConfig(defaultConfig(), fileCfg)
	cfg.bindTimezone()
	return cfg, nil
}

// Validate rejects values no run could honour.
func (c Config) Validate() error {
	var errs []error
	if c.Fetch.Workers < 1 {
		errs = append(errs, fmt.Errorf("fetch.workers must be >= 1"))
	}
	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("fetch.maxAttempts must be >= 1"))
	}
	if c.Fetch.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("fetch.backoffFactor must be >= 1"))
	}
	if c.Fetch.Jitter < 0 || c.Fetch.Jitter > 1 {
		errs = append(errs, fmt.Errorf("fetch.jitter must be within [0,1]"))
	}
	if c.Circuit.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("circuit.failureThreshold must be >= 1"))
	}
	if c.Circuit.CoolDown <= 0 {
		errs = append(errs, fmt.Errorf("circuit.coolDown must be positive"))
	}
	if c.Transform.Workers < 1 {
		errs = append(errs, fmt.Errorf("transform.workers must be >= 1"))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not supported", c.Logging.Format))
	}
	switch c.Storage.Driver {
	case "duckdb", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	seen := map[string]bool{}
	for i, l := range c.Listings {
		if l.SourceSystem == "" {
			errs = append(errs, fmt.Errorf("listings[%d].sourceSystem is required", i))
		}
		if l.ManifestPath == "" && l.RemoteManifest == "" {
			errs = append(errs, fmt.Errorf("listings[%d] needs manifestPath or remoteManifest", i))
		}
		if seen[l.SourceSystem] {
			errs = append(errs, fmt.Errorf("listings[%d].sourceSystem %q is duplicated", i, l.SourceSystem))
		}
		seen[l.SourceSystem] = true
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(storageDSNEnv); v != "" {
		c.Storage.DSN = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(s3EndpointEnv); v != "" {
		c.Sources.S3.Endpoint = v
		c.Sources.S3.PathStyle = true
	}

	if v := os.Getenv(ftpUserEnv); v != "" {
		c.Sources.FTP.User = v
	}

	if v := os.Getenv(ftpPasswordEnv); v != "" {
		c.Sources.FTP.Password = v
	}

	if v := os.Getenv(metricsAddrEnv); v != "" {
		c.Metrics.Addr = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Storage.Driver != "" {
		base.Storage.Driver = override.Storage.Driver
	}
	if override.Storage.DSN != "" {
		base.Storage.DSN = override.Storage.DSN
	}

	if override.Sources.S3.Bucket != "" {
		base.Sources.S3.Bucket = override.Sources.S3.Bucket
	}
	if override.Sources.S3.Region != "" {
		base.Sources.S3.Region = override.Sources.S3.Region
	}
	if override.Sources.S3.Endpoint != "" {
		base.Sources.S3.Endpoint = override.Sources.S3.Endpoint
	}
	base.Sources.S3.PathStyle = base.Sources.S3.PathStyle || override.Sources.S3.PathStyle

	if override.Sources.FTP.Host != "" {
		base.Sources.FTP.Host = override.Sources.FTP.Host
	}
	if override.Sources.FTP.BasePath != "" {
		base.Sources.FTP.BasePath = override.Sources.FTP.BasePath
	}
	if override.Sources.FTP.User != "" {
		base.Sources.FTP.User = override.Sources.FTP.User
	}
	if override.Sources.FTP.Password != "" {
		base.Sources.FTP.Password = override.Sources.FTP.Password
	}
	if override.Sources.FTP.DialTimeout > 0 {
		base.Sources.FTP.DialTimeout = override.Sources.FTP.DialTimeout
	}

	if override.Fetch.Workers > 0 {
		base.Fetch.Workers = override.Fetch.Workers
	}
	if override.Fetch.MaxAttempts > 0 {
		base.Fetch.MaxAttempts = override.Fetch.MaxAttempts
	}
	if override.Fetch.InitialBackoff > 0 {
		base.Fetch.InitialBackoff = override.Fetch.InitialBackoff
	}
	if override.Fetch.MaxBackoff > 0 {
		base.Fetch.MaxBackoff = override.Fetch.MaxBackoff
	}
	if override.Fetch.BackoffFactor > 0 {
		base.Fetch.BackoffFactor = override.Fetch.BackoffFactor
	}
	if override.Fetch.Jitter > 0 {
		base.Fetch.Jitter = override.Fetch.Jitter
	}
	if override.Fetch.AttemptTimeout > 0 {
		base.Fetch.AttemptTimeout = override.Fetch.AttemptTimeout
	}
	if override.Fetch.RatePerSecond > 0 {
		base.Fetch.RatePerSecond = override.Fetch.RatePerSecond
	}
	if override.Fetch.RunRetryBudget > 0 {
		base.Fetch.RunRetryBudget = override.Fetch.RunRetryBudget
	}
	if override.Fetch.MaxPayloadBytes != 0 {
		base.Fetch.MaxPayloadBytes = override.Fetch.MaxPayloadBytes
	}

	if override.Circuit.FailureThreshold > 0 {
		base.Circuit.FailureThreshold = override.Circuit.FailureThreshold
	}
	if override.Circuit.CoolDown > 0 {
		base.Circuit.CoolDown = override.Circuit.CoolDown
	}

	if override.Transform.Workers > 0 {
		base.Transform.Workers = override.Transform.Workers
	}

	if len(override.Compliance.CommercialLicenses) > 0 {
		base.Compliance.CommercialLicenses = override.Compliance.CommercialLicenses
	}
	if override.Compliance.RetractionSweep != nil {
		base.Compliance.RetractionSweep = override.Compliance.RetractionSweep
	}

	if override.Metrics.Addr != "" {
		base.Metrics.Addr = override.Metrics.Addr
	}

	if override.Scheduler.Interval > 0 {
		base.Scheduler.Interval = override.Scheduler.Interval
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if len(override.Listings) > 0 {
		base.Listings = override.Listings
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{Driver: "duckdb", DSN: "pmc_mirror.duckdb"},
		Sources: SourcesConfig{
			S3:  S3Config{Bucket: "pmc-oa-opendata", Region: "us-east-1"},
			FTP: FTPConfig{Host: "ftp.ncbi.nlm.nih.gov:21", BasePath: "/pub/pmc/", DialTimeout: 30 * time.Second},
		},
		Fetch: FetchConfig{
			Workers:         4,
			MaxAttempts:     3,
			InitialBackoff:  500 * time.Millisecond,
			MaxBackoff:      30 * time.Second,
			BackoffFactor:   2.0,
			Jitter:          0.2,
			AttemptTimeout:  2 * time.Minute,
			RunRetryBudget:  100,
			MaxPayloadBytes: defaultMaxPayloadBytes,
		},
		Circuit:   CircuitConfig{FailureThreshold: 3, CoolDown: 5 * time.Minute},
		Transform: TransformConfig{Workers: runtime.GOMAXPROCS(0)},
		Compliance: ComplianceConfig{
			CommercialLicenses: []string{"CC0", "CC-BY", "CC-BY-SA", "CC-BY-ND", "PUBLIC-DOMAIN"},
		},
		Scheduler: SchedulerConfig{Interval: 24 * time.Hour, Timezone: defaultTimezone, location: tz},
		Listings: []ListingConfig{
			{
				SourceSystem:   "oa_comm",
				ManifestPath:   "oa_comm.filelist.csv",
				RemoteManifest: "oa_comm/xml/oa_comm.filelist.csv",
				IndexURL:       "https://ftp.ncbi.nlm.nih.gov/pub/pmc/oa_bulk/oa_comm/xml/",
			},
		},
	}
}
