package config

import (
	"path/filepath"
	"time"
)

// Backend kinds accepted by Config.Backend.
const (
	BackendFile     = "file"
	BackendBolt     = "bolt"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds runtime settings for vaultctl and the session it opens.
type Config struct {
	VaultID string
	DataDir string
	Backend string

	BoltPath    string
	PostgresDSN string

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string

	PreferencesDB string

	LogLevel  string
	LogFormat string

	BreachURL     string
	BreachTimeout time.Duration
	BreachRate    float64

	MonitorInterval  time.Duration
	UseKeyring       bool
	ReadOnly         bool
	ConflictStrategy string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.VaultID = "main"
	c.DataDir = ".vaultcore"
	c.Backend = BackendFile
	c.S3Region = "us-east-1"
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.BreachURL = "https://api.pwnedpasswords.com"
	c.BreachTimeout = 10 * time.Second
	c.BreachRate = 5
	c.MonitorInterval = 30 * time.Second
	c.ConflictStrategy = "ask"
}

// Load builds a Config from defaults, then the .env file and environment,
// then the JSON file named by -c/-config, then flags; later sources win.
// It returns the arguments no config flag consumed.
func Load(args []string) (*Config, []string, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseEnv(cfg, envFileFlag(args)); err != nil {
		return nil, nil, err
	}
	if err := parseJson(cfg, args); err != nil {
		return nil, nil, err
	}
	rest, err := parseFlags(cfg, args)
	if err != nil {
		return nil, nil, err
	}
	cfg.fillDerived()
	return cfg, rest, nil
}

// fillDerived places paths that default to the data directory.
func (c *Config) fillDerived() {
	if c.BoltPath == "" {
		c.BoltPath = filepath.Join(c.DataDir, "vaults.db")
	}
	if c.PreferencesDB == "" {
		c.PreferencesDB = filepath.Join(c.DataDir, "preferences.db")
	}
}
