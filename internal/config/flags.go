package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/flagx"
)

var (
	valuedFlags = []string{
		"-vault", "-dir", "-backend", "-bolt", "-pg",
		"-s3-bucket", "-s3-region", "-s3-endpoint", "-s3-prefix",
		"-prefs", "-log-level", "-log-format", "-breach-url", "-monitor", "-conflict",
		"-c", "-config", "--config", "-env",
	}
	boolFlags = []string{"-keyring", "-readonly"}
)

// parseFlags overlays cfg with the global flags found in args and returns
// the remaining arguments.
//
//	-vault string      vault identifier within the backend
//	-dir string        data directory for file/bolt/preferences storage
//	-backend string    file | bolt | s3 | postgres | memory
//	-monitor int       remote check interval (in seconds)
//	-keyring           remember the master password in the OS keyring
//	-readonly          open the vault for browsing only
//
// S3 credentials come only from the environment or the JSON file.
func parseFlags(cfg *Config, args []string) ([]string, error) {
	matched, rest := flagx.SplitArgs(args, valuedFlags, boolFlags)

	fs := flag.NewFlagSet("vaultctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.VaultID, "vault", cfg.VaultID, "vault identifier")
	fs.StringVar(&cfg.DataDir, "dir", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend")
	fs.StringVar(&cfg.BoltPath, "bolt", cfg.BoltPath, "bolt database path")
	fs.StringVar(&cfg.PostgresDSN, "pg", cfg.PostgresDSN, "postgres DSN")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3 endpoint for compatible services")
	fs.StringVar(&cfg.S3Prefix, "s3-prefix", cfg.S3Prefix, "S3 key prefix")
	fs.StringVar(&cfg.PreferencesDB, "prefs", cfg.PreferencesDB, "preferences database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text | json")
	fs.StringVar(&cfg.BreachURL, "breach-url", cfg.BreachURL, "breach check API base URL")
	fs.StringVar(&cfg.ConflictStrategy, "conflict", cfg.ConflictStrategy, "conflict strategy: ask | keep-local | keep-remote")
	fs.BoolVar(&cfg.UseKeyring, "keyring", cfg.UseKeyring, "remember the master password in the OS keyring")
	fs.BoolVar(&cfg.ReadOnly, "readonly", cfg.ReadOnly, "open the vault for browsing only")
	monitor := fs.Int("monitor", int(cfg.MonitorInterval.Seconds()), "remote check interval (in seconds)")
	// consumed by the env and JSON stages
	fs.String("c", "", "path to config file (short)")
	fs.String("config", "", "path to config file")
	fs.String("env", "", "path to .env file")

	if err := fs.Parse(matched); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "monitor" {
			cfg.MonitorInterval = time.Duration(*monitor) * time.Second
		}
	})
	return rest, nil
}
