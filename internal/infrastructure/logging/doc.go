// Package logging provides structured logging for Gray Logic Cloudlink.
//
// It wraps log/slog with the service defaults every component shares:
// JSON or text output, level filtering and service/version fields.
// Bindings derive child loggers with ForSource so every record carries
// the cloud source it relates to.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Security
//
// API keys and tokens are never logged in full. Use Redact:
//
//	logger.Info("credential loaded", "key", logging.Redact(apiKey))
package logging
