package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. HUMANITYLINK_ATTEST_TIMEOUT.
const EnvPrefix = "HUMANITYLINK"

// FileEnv names the optional YAML file loaded before the environment.
const FileEnv = "HUMANITYLINK_CONFIG"

const (
	DirectoryModeRemote = "remote"
	DirectoryModeMemory = "memory"

	ProfileBackendMemory    = "memory"
	ProfileBackendPostgres  = "postgres"
	ProfileBackendDirectory = "directory"
)

// ErrInvalidConfig marks configuration that must stop startup.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full service configuration.
type Config struct {
	Server      Server      `yaml:"server" envconfig:"SERVER"`
	Log         Log         `yaml:"log" envconfig:"LOG"`
	Attestation Attestation `yaml:"attestation" envconfig:"ATTEST"`
	Directory   Directory   `yaml:"directory" envconfig:"DIRECTORY"`
	Profile     Profile     `yaml:"profile" envconfig:"PROFILE"`
	Redis       Redis       `yaml:"redis" envconfig:"REDIS"`
	Kafka       Kafka       `yaml:"kafka" envconfig:"KAFKA"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr              string        `yaml:"addr" envconfig:"ADDR"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" envconfig:"READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

type Log struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// Attestation describes how the proof backend is started.
type Attestation struct {
	Command      string        `yaml:"command" envconfig:"COMMAND"`
	Args         []string      `yaml:"args" envconfig:"ARGS"`
	Dir          string        `yaml:"dir" envconfig:"DIR"`
	ValueSuffix  string        `yaml:"value_suffix" envconfig:"VALUE_SUFFIX"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	AgeThreshold int           `yaml:"age_threshold" envconfig:"AGE_THRESHOLD"`
}

// Directory configures the identity directory collaborator.
type Directory struct {
	Mode             string        `yaml:"mode" envconfig:"MODE"`
	BaseURL          string        `yaml:"base_url" envconfig:"BASE_URL"`
	AppID            string        `yaml:"app_id" envconfig:"APP_ID"`
	AppSecret        string        `yaml:"app_secret" envconfig:"APP_SECRET"`
	Timeout          time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	PageSize         int           `yaml:"page_size" envconfig:"PAGE_SIZE"`
	FailureThreshold int           `yaml:"failure_threshold" envconfig:"FAILURE_THRESHOLD"`
	Cooldown         time.Duration `yaml:"cooldown" envconfig:"COOLDOWN"`
}

// Profile selects the confidential profile backend.
type Profile struct {
	Backend       string `yaml:"backend" envconfig:"BACKEND"`
	DatabaseURL   string `yaml:"database_url" envconfig:"DATABASE_URL"`
	MaxConns      int    `yaml:"max_conns" envconfig:"MAX_CONNS"`
	EncryptionKey string `yaml:"encryption_key" envconfig:"ENCRYPTION_KEY"`
}

// Redis configures the optional identity cache. Empty URL disables it.
type Redis struct {
	URL          string        `yaml:"url" envconfig:"URL"`
	PoolSize     int           `yaml:"pool_size" envconfig:"POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" envconfig:"MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `yaml:"dial_timeout" envconfig:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdentityTTL  time.Duration `yaml:"identity_ttl" envconfig:"IDENTITY_TTL"`
}

// Kafka configures the audit stream. No brokers means audit goes to the log.
type Kafka struct {
	Brokers    []string `yaml:"brokers" envconfig:"BROKERS"`
	AuditTopic string   `yaml:"audit_topic" envconfig:"AUDIT_TOPIC"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: Server{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Log: Log{Level: "info", Format: "json"},
		Attestation: Attestation{
			Command:      "leo",
			Args:         []string{"run", "prove_age"},
			ValueSuffix:  "u16",
			Timeout:      30 * time.Second,
			AgeThreshold: 18,
		},
		Directory: Directory{
			Mode:             DirectoryModeRemote,
			BaseURL:          "https://auth.privy.io/api/v1",
			Timeout:          10 * time.Second,
			PageSize:         100,
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Profile: Profile{Backend: ProfileBackendMemory, MaxConns: 10},
		Redis: Redis{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			IdentityTTL:  24 * time.Hour,
		},
		Kafka: Kafka{AuditTopic: "humanitylink.audit"},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by HUMANITYLINK_CONFIG and finally the environment, then validates it.
func Load() (Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	cfg.Kafka.Brokers = dedupeAndTrim(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails fast on configuration that would only break at first use.
func (c Config) Validate() error {
	var errs []error

	if c.Attestation.Command == "" {
		errs = append(errs, errors.New("attestation command is required"))
	}
	if c.Attestation.Timeout <= 0 {
		errs = append(errs, errors.New("attestation timeout must be positive"))
	}

	switch c.Directory.Mode {
	case DirectoryModeRemote:
		if c.Directory.AppID == "" || c.Directory.AppSecret == "" {
			errs = append(errs, errors.New("directory app id and secret are required"))
		}
		if c.Directory.BaseURL == "" {
			errs = append(errs, errors.New("directory base url is required"))
		}
		if c.Directory.Timeout <= 0 {
			errs = append(errs, errors.New("directory timeout must be positive"))
		}
	case DirectoryModeMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown directory mode %q", c.Directory.Mode))
	}

	switch c.Profile.Backend {
	case ProfileBackendMemory:
	case ProfileBackendPostgres, ProfileBackendDirectory:
		if c.Profile.Backend == ProfileBackendPostgres && c.Profile.DatabaseURL == "" {
			errs = append(errs, errors.New("profile database url is required for the postgres backend"))
		}
		if _, err := c.Profile.Key(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unknown profile backend %q", c.Profile.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Key decodes the base64 profile encryption key. It must be 32 bytes.
func (p Profile) Key() ([]byte, error) {
	if p.EncryptionKey == "" {
		return nil, errors.New("profile encryption key is required for sealed backends")
	}
	key, err := base64.StdEncoding.DecodeString(p.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode profile encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("profile encryption key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// dedupeAndTrim drops blank and repeated entries, keeping first-seen order.
func dedupeAndTrim(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
