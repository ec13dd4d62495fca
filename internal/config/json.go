package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/vaultcore/internal/flagx"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent keys
// keep whatever earlier sources set.
type JsonConfig struct {
	VaultID          string   `json:"vault"`
	DataDir          string   `json:"data_dir"`
	Backend          string   `json:"backend"`
	BoltPath         string   `json:"bolt_path"`
	PostgresDSN      string   `json:"postgres_dsn"`
	S3Bucket         string   `json:"s3_bucket"`
	S3Region         string   `json:"s3_region"`
	S3Endpoint       string   `json:"s3_endpoint"`
	S3AccessKey      string   `json:"s3_access_key"`
	S3SecretKey      string   `json:"s3_secret_key"`
	S3Prefix         string   `json:"s3_prefix"`
	PreferencesDB    string   `json:"preferences_db"`
	LogLevel         string   `json:"log_level"`
	LogFormat        string   `json:"log_format"`
	BreachURL        string   `json:"breach_url"`
	BreachTimeout    Duration `json:"breach_timeout"`
	BreachRate       float64  `json:"breach_rate"`
	MonitorInterval  Duration `json:"monitor_interval"`
	UseKeyring       *bool    `json:"keyring"`
	ReadOnly         *bool    `json:"read_only"`
	ConflictStrategy string   `json:"conflict_strategy"`
}

// parseJson overlays cfg with the JSON file named by -c/-config in args.
// Without such a flag nothing happens.
func parseJson(cfg *Config, args []string) error {
	path := flagx.JsonConfigFlags(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&cfg.VaultID, jc.VaultID)
	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.Backend, jc.Backend)
	setString(&cfg.BoltPath, jc.BoltPath)
	setString(&cfg.PostgresDSN, jc.PostgresDSN)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.S3Prefix, jc.S3Prefix)
	setString(&cfg.PreferencesDB, jc.PreferencesDB)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
	setString(&cfg.BreachURL, jc.BreachURL)
	setString(&cfg.ConflictStrategy, jc.ConflictStrategy)
	if jc.BreachTimeout.Duration > 0 {
		cfg.BreachTimeout = jc.BreachTimeout.Duration
	}
	if jc.MonitorInterval.Duration > 0 {
		cfg.MonitorInterval = jc.MonitorInterval.Duration
	}
	if jc.BreachRate > 0 {
		cfg.BreachRate = jc.BreachRate
	}
	if jc.UseKeyring != nil {
		cfg.UseKeyring = *jc.UseKeyring
	}
	if jc.ReadOnly != nil {
		cfg.ReadOnly = *jc.ReadOnly
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
