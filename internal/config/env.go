package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/flagx"
	"github.com/joho/godotenv"
)

const envPrefix = "VAULTCORE_"

// envFileFlag returns the path given with -env, or "".
func envFileFlag(args []string) string {
	var path string
	set := flag.NewFlagSet("env", flag.ContinueOnError)
	set.StringVar(&path, "env", "", "path to .env file")
	_ = set.Parse(flagx.FilterArgs(args, []string{"-env"}))
	return path
}

// parseEnv loads envFile (or ./.env when present) into the process
// environment and overlays cfg with VAULTCORE_* variables.
func parseEnv(cfg *Config, envFile string) error {
	switch {
	case envFile != "":
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	default:
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
	}

	strs := map[string]*string{
		"VAULT":             &cfg.VaultID,
		"DATA_DIR":          &cfg.DataDir,
		"BACKEND":           &cfg.Backend,
		"BOLT_PATH":         &cfg.BoltPath,
		"PG_DSN":            &cfg.PostgresDSN,
		"S3_BUCKET":         &cfg.S3Bucket,
		"S3_REGION":         &cfg.S3Region,
		"S3_ENDPOINT":       &cfg.S3Endpoint,
		"S3_ACCESS_KEY":     &cfg.S3AccessKey,
		"S3_SECRET_KEY":     &cfg.S3SecretKey,
		"S3_PREFIX":         &cfg.S3Prefix,
		"PREFERENCES_DB":    &cfg.PreferencesDB,
		"LOG_LEVEL":         &cfg.LogLevel,
		"LOG_FORMAT":        &cfg.LogFormat,
		"BREACH_URL":        &cfg.BreachURL,
		"CONFLICT_STRATEGY": &cfg.ConflictStrategy,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"BREACH_TIMEOUT":   &cfg.BreachTimeout,
		"MONITOR_INTERVAL": &cfg.MonitorInterval,
	}
	for name, dst := range durations {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = d
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "BREACH_RATE"); ok {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sBREACH_RATE: %w", envPrefix, err)
		}
		cfg.BreachRate = r
	}
	bools := map[string]*bool{
		"KEYRING":   &cfg.UseKeyring,
		"READ_ONLY": &cfg.ReadOnly,
	}
	for name, dst := range bools {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = b
		}
	}
	return nil
}
