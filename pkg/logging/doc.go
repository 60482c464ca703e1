// Package logging provides structured logging for apitap on top of
// log/slog, tagged by subsystem.
//
// # Usage
//
// Initialize once at process start, then log through the level
// helpers:
//
//	logging.Init(logging.LevelWarn, os.Stderr)
//	logging.Info("capture", "Capture session %s started", id)
//	logging.Error("replay", err, "Dispatch to %s failed", domain)
//
// The subsystem tag is the first argument of every helper and groups
// related output (capture, replay, refresh, mcpserver, app) so debug
// runs can be filtered with standard tools.
//
// Everything goes to the writer given to Init; commands default to
// stderr so stdout stays clean for JSON output and the MCP stdio
// transport.
//
// Credential material is never logged: callers log domains, header
// names, and counts, not values.
package logging
