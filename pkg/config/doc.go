// Package config provides configuration management for Tollgate.
//
// Configuration is loaded from a YAML file, completed with defaults and
// then overridden from the environment.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TOLLGATE_SECTION_FIELD.
// For example:
//
//   - TOLLGATE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - TOLLGATE_AUTH_JWT_SECRET overrides auth.jwt_secret
//   - TOLLGATE_STORAGE_POSTGRES_URL overrides storage.postgres.url
//
// Secrets (the JWT secret, the fallback upstream key, database URLs) are
// normally supplied this way rather than committed to the file, or written
// as ${secret:name} references that pkg/secrets resolves from a mounted
// directory or TOLLGATE_SECRET_* variables.
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Secret references
//  5. Validation (fails fast if invalid)
//
// The run command publishes its configuration with Initialize; everything
// else receives a *Config explicitly.
package config
