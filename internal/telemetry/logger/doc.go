// Package logger provides structured logging for KiteSync.
//
// It wraps log/slog with JSON or text output, dynamic level control,
// context propagation of request and trace IDs, and automatic
// redaction of credentials. Values with KiteSync secret prefixes
// (ksat_, ksek_) are partially masked; attributes whose key looks
// sensitive (password, token, key, ...) are fully redacted.
package logger
