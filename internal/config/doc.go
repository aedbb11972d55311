// Package config loads runtime configuration for the entitlement engine.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the backend credit/subscription API
//	-p string   base URL of the entitlement provider
//	-k string   provider API key
//	-d string   path of the local SQLite database file
//	-r int      refresh cooldown (seconds)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "30s" or integer nanoseconds:
//
//	{
//	  "api_base_url": "https://api.everwith.app",
//	  "database_path": "everwith.db",
//	  "refresh_cooldown": "30s",
//	  "foreground_threshold": "5m"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
