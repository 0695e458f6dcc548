// Package config loads client configuration from YAML with
// environment variable overrides.
//
// Loading order: hardcoded defaults, then the YAML file, then
// MEROSS_-prefixed environment variables. Credentials are usually
// supplied via environment so the file can be committed without
// secrets.
package config
