// Package apiterr defines the error categories shared across component
// boundaries. Components return these instead of ad-hoc errors so the
// CLI and MCP shells can map failures to exit codes and structured
// responses without string matching.
package apiterr

import (
	"fmt"
	"strings"
)

// NotFoundError indicates an unknown endpoint, domain, or skill file.
// Alternatives, when present, list known candidates for the caller.
type NotFoundError struct {
	Kind         string
	Name         string
	Alternatives []string
}

func (e *NotFoundError) Error() string {
	if len(e.Alternatives) == 0 {
		return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
	}
	return fmt.Sprintf("%s %q not found (known: %s)", e.Kind, e.Name, strings.Join(e.Alternatives, ", "))
}

// ValidationError indicates bad input: malformed URLs, unsafe targets,
// missing parameters. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// AuthRequiredError indicates a request that ultimately failed with
// 401/403 after the refresh cycle. Suggestion is human-actionable.
type AuthRequiredError struct {
	Domain     string
	Suggestion string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("authentication required for %s: %s", e.Domain, e.Suggestion)
}

// IntegrityError indicates a tampered skill file, a signature mismatch,
// or a decryption failure. Callers fail closed.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return "integrity check failed: " + e.Reason
}

// CapacityError indicates a bounded resource was exhausted: the capture
// session table, a browser timeout, an oversized response.
type CapacityError struct {
	Reason string
}

func (e *CapacityError) Error() string {
	return "capacity exceeded: " + e.Reason
}
