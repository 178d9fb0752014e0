/*
Package log provides structured logging for the sandbox backend using
zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers and configurable log levels. All logs include
timestamps and support filtering by severity for production debugging.

# Usage

Initialize once at startup, then derive child loggers with the context the
record should carry:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	log.WithComponent("api").Info().Str("addr", addr).Msg("listening")
	log.WithUserID(userID).Warn().Err(err).Msg("orphan reap failed")

The With* helpers stamp the field every component agrees on: component,
user_id, or session_id. Console output (the default) renders
human-readable lines for development; JSON output is for production
ingestion.
*/
package log
