package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gftdcojp/doc-tiering/internal/types"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Thresholds    ThresholdsConfig    `yaml:"thresholds"`
	Pass          PassConfig          `yaml:"pass"`
	Mover         MoverConfig         `yaml:"mover"`
	NATS          NATSConfig          `yaml:"nats"`
	Access        AccessConfig        `yaml:"access"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Storage backends.
const (
	BackendS3     = "s3"
	BackendFile   = "file"
	BackendMemory = "memory"
)

type StorageConfig struct {
	Backend   string          `yaml:"backend"`
	S3        S3Config        `yaml:"s3"`
	File      FileConfig      `yaml:"file"`
	Hot       TierLocation    `yaml:"hot"`
	Cool      TierLocation    `yaml:"cool"`
	Archive   TierLocation    `yaml:"archive"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// Location returns the container settings for a tier.
func (s StorageConfig) Location(t types.Tier) TierLocation {
	switch t {
	case types.TierHot:
		return s.Hot
	case types.TierCool:
		return s.Cool
	default:
		return s.Archive
	}
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

type FileConfig struct {
	DataDir string `yaml:"data_dir"`
}

// TierLocation is the container backing a single tier. For the S3 backend the
// bucket and prefix address the objects; the file backend only uses Prefix as
// a directory name below the data dir.
type TierLocation struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	StorageClass string `yaml:"storage_class"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ThresholdsConfig drives the tier policy. A pass copies it at start.
type ThresholdsConfig struct {
	HotToCoolDays               int `yaml:"hot_to_cool_days" json:"hot_to_cool_days"`
	CoolToArchiveDays           int `yaml:"cool_to_archive_days" json:"cool_to_archive_days"`
	MaxArchiveAgeDays           int `yaml:"max_archive_age_days" json:"max_archive_age_days"`
	PromoteAccessCountThreshold int `yaml:"promote_access_count_threshold" json:"promote_access_count_threshold"`
	PromoteRecencyDays          int `yaml:"promote_recency_days" json:"promote_recency_days"`
}

// Validate checks the thresholds. Errors wrap types.ErrConfiguration.
func (t ThresholdsConfig) Validate() error {
	switch {
	case t.HotToCoolDays <= 0:
		return fmt.Errorf("%w: hot_to_cool_days must be > 0, got %d", types.ErrConfiguration, t.HotToCoolDays)
	case t.CoolToArchiveDays <= 0:
		return fmt.Errorf("%w: cool_to_archive_days must be > 0, got %d", types.ErrConfiguration, t.CoolToArchiveDays)
	case t.MaxArchiveAgeDays <= 0:
		return fmt.Errorf("%w: max_archive_age_days must be > 0, got %d", types.ErrConfiguration, t.MaxArchiveAgeDays)
	case t.PromoteAccessCountThreshold < 0:
		return fmt.Errorf("%w: promote_access_count_threshold must be >= 0, got %d", types.ErrConfiguration, t.PromoteAccessCountThreshold)
	case t.PromoteRecencyDays <= 0:
		return fmt.Errorf("%w: promote_recency_days must be > 0, got %d", types.ErrConfiguration, t.PromoteRecencyDays)
	}
	return nil
}

type PassConfig struct {
	Interval Duration `yaml:"interval"`
	Workers  int      `yaml:"workers"`
	Timeout  Duration `yaml:"timeout"`
}

type MoverConfig struct {
	PollInterval  Duration    `yaml:"poll_interval"`
	VerifyTimeout Duration    `yaml:"verify_timeout"`
	MaxPollErrors int         `yaml:"max_poll_errors"`
	Retry         RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
}

type NATSConfig struct {
	URL             string    `yaml:"url"`
	CredentialsFile string    `yaml:"credentials_file"`
	NKeySeedFile    string    `yaml:"nkey_seed_file"`
	TLS             TLSConfig `yaml:"tls"`
	ConnectionName  string    `yaml:"connection_name"`
	MaxReconnects   int       `yaml:"max_reconnects"`
	ReconnectWait   Duration  `yaml:"reconnect_wait"`
}

type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AccessConfig controls the NATS consumer that records document touches.
type AccessConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SubjectPrefix string `yaml:"subject_prefix"`
	QueueGroup    string `yaml:"queue_group"`
}

type MetadataConfig struct {
	Path   string `yaml:"path"`
	NoSync bool   `yaml:"no_sync"`
}

type APIConfig struct {
	Enabled       bool                `yaml:"enabled"`
	Listen        string              `yaml:"listen"`
	NATSResponder NATSResponderConfig `yaml:"nats_responder"`
}

type NATSResponderConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the YAML file at path on top of the defaults, applies environment
// overrides and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// thresholdEnv maps the legacy threshold variables onto the config.
var thresholdEnv = []struct {
	name  string
	field func(*ThresholdsConfig) *int
}{
	{"ACCESS_THRESHOLD_DAYS", func(t *ThresholdsConfig) *int { return &t.HotToCoolDays }},
	{"ARCHIVE_THRESHOLD_DAYS", func(t *ThresholdsConfig) *int { return &t.CoolToArchiveDays }},
	{"DELETE_THRESHOLD_DAYS", func(t *ThresholdsConfig) *int { return &t.MaxArchiveAgeDays }},
	{"PROMOTE_ACCESS_COUNT", func(t *ThresholdsConfig) *int { return &t.PromoteAccessCountThreshold }},
	{"PROMOTE_RECENCY_DAYS", func(t *ThresholdsConfig) *int { return &t.PromoteRecencyDays }},
}

// ApplyEnv overrides thresholds from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, e := range thresholdEnv {
		v, ok := lookup(e.name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.name, err)
		}
		*e.field(&c.Thresholds) = n
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case BackendS3:
		for _, t := range types.AllTiers {
			if c.Storage.Location(t).Bucket == "" {
				return fmt.Errorf("storage.%s.bucket is required for the s3 backend", t)
			}
		}
	case BackendFile:
		if c.Storage.File.DataDir == "" {
			return fmt.Errorf("storage.file.data_dir is required for the file backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	// Overlapping containers would make every document look duplicated.
	for i, a := range types.AllTiers {
		for _, b := range types.AllTiers[i+1:] {
			if overlaps(c.Storage.Location(a), c.Storage.Location(b)) {
				return fmt.Errorf("storage.%s and storage.%s overlap", a, b)
			}
		}
	}

	if c.Pass.Workers <= 0 {
		return fmt.Errorf("pass.workers must be > 0")
	}
	if c.Pass.Interval <= 0 {
		return fmt.Errorf("pass.interval must be > 0")
	}
	if c.Mover.PollInterval <= 0 {
		return fmt.Errorf("mover.poll_interval must be > 0")
	}
	if c.Mover.VerifyTimeout < c.Mover.PollInterval {
		return fmt.Errorf("mover.verify_timeout must be >= mover.poll_interval")
	}
	// a stuck copy must time out inside the pass
	if c.Pass.Timeout > 0 && c.Pass.Timeout <= c.Mover.VerifyTimeout {
		return fmt.Errorf("pass.timeout must be > mover.verify_timeout")
	}
	if c.Mover.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("mover.retry.max_attempts must be > 0")
	}

	if c.Access.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("access consumer requires nats.url")
	}
	if c.API.NATSResponder.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats responder requires nats.url")
	}

	if c.Metadata.Path == "" {
		return fmt.Errorf("metadata.path is required")
	}

	return nil
}

func overlaps(a, b TierLocation) bool {
	if a.Bucket != b.Bucket {
		return false
	}
	if a.Prefix == "" || b.Prefix == "" {
		return true
	}
	pa, pb := strings.Trim(a.Prefix, "/")+"/", strings.Trim(b.Prefix, "/")+"/"
	return strings.HasPrefix(pa, pb) || strings.HasPrefix(pb, pa)
}

// NATSRequired reports whether any component needs a NATS connection.
func (c *Config) NATSRequired() bool {
	return c.Access.Enabled || c.API.NATSResponder.Enabled
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5m", "24h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
