// Package config loads runtime configuration for vaultctl.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. A .env file (or the one named by -env) and VAULTCORE_* environment
//     variables; variables already set in the environment are not
//     overwritten by the file.
//  3. Optional JSON file selected with -c or -config.
//  4. Command-line flags, which override earlier values.
//
// # JSON schema
//
// Intervals accept strings like "30s" or integer nanoseconds:
//
//	{
//	  "vault": "main",
//	  "backend": "s3",
//	  "s3_bucket": "vaults",
//	  "monitor_interval": "1m",
//	  "breach_timeout": "5s"
//	}
package config
