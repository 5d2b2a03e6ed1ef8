// Package config loads runtime configuration for the finkeeper client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file (JSON, YAML or TOML) selected via --config.
//  3. Environment variables prefixed with FINKEEPER_, e.g. FINKEEPER_SERVER_ADDR.
//  4. Command-line flags registered by BindFlags, which override earlier values.
//
// Durations accept Go duration strings such as "30s" or "1h30m".
//
// # File schema
//
//	{
//	  "server_addr": "127.0.0.1:50051",
//	  "transport": "grpc",
//	  "db_path": "/home/me/.finkeeper/finkeeper.db",
//	  "sync_interval": "30s",
//	  "max_retries": 3,
//	  "poison_retention": "0s"
//	}
//
// A poison_retention of zero keeps poisoned queue entries until they are
// purged by hand.
package config
