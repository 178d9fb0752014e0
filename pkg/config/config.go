package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the sandbox backend. Values are resolved in
// order: defaults, then the YAML file, then environment variables.
type Config struct {
	// Listen is the address the HTTP/WS API binds to.
	Listen string `yaml:"listen"`

	// Image is the pinned container image every user sandbox runs.
	Image string `yaml:"image"`

	// IntakeURL is the base URL containers use to reach the fs-event
	// intake (exported to the shell hook as IDE_API). It must be
	// reachable from inside a container, so localhost does not work with
	// the default bridge network.
	IntakeURL string `yaml:"intake_url"`

	// DataDir holds the local bbolt state cache.
	DataDir string `yaml:"data_dir"`

	// Database is the Postgres connection for the tree store.
	Database DatabaseConfig `yaml:"database"`

	// StartTimeout bounds how long ensure-container waits for a container
	// to come up before healing or failing.
	StartTimeout time.Duration `yaml:"start_timeout"`

	// ReapInterval is how often the orphan reaper runs in the background.
	ReapInterval time.Duration `yaml:"reap_interval"`

	// Resource limits applied to each sandbox container.
	MemoryBytes int64 `yaml:"memory_bytes"`
	CPUQuota    int64 `yaml:"cpu_quota"`
	CPUPeriod   int64 `yaml:"cpu_period"`

	// AllowedOrigins for CORS; "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// DatabaseConfig mirrors the standard libpq environment variables.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the connection string for lib/pq.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:       ":8000",
		Image:        "lsclear/sandbox:latest",
		IntakeURL:    "http://host.docker.internal:8000",
		DataDir:      "/var/lib/sandboxd",
		StartTimeout: 30 * time.Second,
		ReapInterval: 5 * time.Minute,
		MemoryBytes:  1 << 30, // 1 GiB
		CPUQuota:     50000,
		CPUPeriod:    100000,
		AllowedOrigins: []string{"*"},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    "5432",
			User:    "postgres",
			Name:    "sandbox",
			SSLMode: "require",
		},
		LogLevel: "info",
		LogJSON:  false,
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setenv := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setenv(&c.Listen, "SANDBOX_LISTEN")
	setenv(&c.Image, "SANDBOX_IMAGE")
	setenv(&c.IntakeURL, "IDE_API")
	setenv(&c.DataDir, "SANDBOX_DATA_DIR")
	setenv(&c.LogLevel, "SANDBOX_LOG_LEVEL")

	setenv(&c.Database.Host, "PGHOST")
	setenv(&c.Database.Port, "PGPORT")
	setenv(&c.Database.User, "PGUSER")
	setenv(&c.Database.Password, "PGPASSWORD")
	setenv(&c.Database.Name, "PGDATABASE")
	setenv(&c.Database.SSLMode, "PGSSLMODE")
}
