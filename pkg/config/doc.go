// Package config provides configuration management for the llamachat relay.
//
// Configuration is read from a YAML file, filled with defaults, overridden
// from the environment and validated:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention LLAMACHAT_SECTION_FIELD.
// For example:
//
//   - LLAMACHAT_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - LLAMACHAT_INFERENCE_ENDPOINT overrides inference.endpoint
//   - LLAMACHAT_AUTH_SESSION_SECRET overrides auth.session_secret
//
// Environment variables always take precedence over file-based configuration.
//
// # Process-wide configuration
//
// The CLI stores the loaded configuration with SetConfig. GetConfig reads
// it back and ReloadConfig replaces it only when the new file validates.
//
// # Hot Reload
//
// A Watcher re-reads the file when it changes and hands the new
// configuration to a callback. Only settings that can change safely at
// runtime (log level, inference endpoint, application name) are applied by
// the server; everything else needs a restart.
package config
