// Package config loads and validates Dinodia sync core configuration.
//
// Configuration is read from a YAML file with environment variable
// overrides for secrets and deployment-specific values (DINODIA_* vars).
// Defaults are applied before the file is parsed, so a partial file is
// valid.
package config
