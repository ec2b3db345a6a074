// Package config provides configuration management for Switchboard.
//
// Configuration is read from a YAML file, layered on top of built-in
// defaults, overridden by environment variables, and validated before use.
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("switchboard.yaml")
//	cfg, err := config.LoadConfigWithEnvOverrides("switchboard.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention SWITCHBOARD_SECTION_FIELD:
//
//   - SWITCHBOARD_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - SWITCHBOARD_UPSTREAM_BOT_ID overrides upstream.bot_id
//   - SWITCHBOARD_ADMISSION_MAX_CONCURRENT overrides admission.max_concurrent
//
// # Configuration Precedence
//
//  1. Default values (defaults.go)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// Boolean fields whose default is true (for example follow_up.enabled) keep
// an explicit false from the file because the file is decoded over Default().
//
// # Hot Reload
//
// When reload.watch is set, a Watcher reloads the file on change and
// notifies listeners registered with OnReload. Only settings that are safe
// to change at runtime (currently the log level) are applied live; the rest
// take effect on restart.
//
// # Example Configuration
//
//	server:
//	  listen_address: "0.0.0.0:8080"
//
//	upstream:
//	  base_url: "https://api.coze.com"
//	  bot_id: "7350000000000000000"
//
//	admission:
//	  max_concurrent: 50
//	  max_per_minute: 600
//
//	conversation:
//	  store: "sqlite"
//	  sqlite_path: "/var/lib/switchboard/conversations.db"
//
//	telemetry:
//	  logging:
//	    level: "info"
//	    format: "json"
package config
