// Package logging provides structured logging for the bridge.
//
// Logger wraps log/slog with JSON or text output, level filtering and
// default service/version fields. Remote mirrors free-text lines onto the
// app's bus log topic and falls back to the local logger while the bus is
// unavailable.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// Never log tokens or passwords.
package logging
