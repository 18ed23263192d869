// Package logging provides structured logging for Guestlink Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	router := dispatch.New(transport, registry, dispatch.Options{
//	    Logger: logger.With("component", "dispatch"),
//	})
//
// # Security
//
// Never log secrets, tokens or passwords. Bearer tokens are only ever
// reported as valid or invalid.
package logging
