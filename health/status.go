// Package health tracks per-device link health and aggregates it for the process
package health

import (
	"regexp"
	"strings"
	"time"

	"github.com/c360/semdevices/types"
)

// Pre-compiled regexes for error message sanitization (performance optimization)
var (
	httpURLRegex     = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex     = regexp.MustCompile(`nats://[^\s]+`)
	wsURLRegex       = regexp.MustCompile(`wss?://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Health levels.
const (
	LevelHealthy   = "healthy"
	LevelDegraded  = "degraded"
	LevelUnhealthy = "unhealthy"
)

// Status is the health of one device, or the summary of all of them.
type Status struct {
	Component string    `json:"component"`
	Healthy   bool      `json:"healthy"`
	Status    string    `json:"status"`
	Link      string    `json:"link,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Metrics   *Metrics  `json:"metrics,omitempty"`
	Counts    *Counts   `json:"counts,omitempty"`
	Devices   []Status  `json:"devices,omitempty"`
}

// Metrics describes one device's link history.
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	Failures     int           `json:"failures"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// Counts tallies devices by health level.
type Counts struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == LevelHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == LevelDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == LevelUnhealthy
}

// LevelOf maps a link state to a health level. Up is healthy, degraded is
// degraded, and down, failed or stopped links are unhealthy.
func LevelOf(state types.LinkState) string {
	switch state {
	case types.LinkUp:
		return LevelHealthy
	case types.LinkDegraded:
		return LevelDegraded
	default:
		return LevelUnhealthy
	}
}

// sanitizeErrorMessage strips device paths, URLs, addresses and credentials
// from error text before it is exposed on the health endpoint.
//
// Sanitization patterns:
//   - URLs (http://, https://, nats://, ws://, wss://) → [URL]
//   - File paths (Unix: /path/to/file, Windows: C:\path\to\file) → [PATH]
//   - IP addresses (192.168.1.100) → [IP]
//   - Port numbers (:8080) → [PORT]
//   - Credentials (password=X, token=X, key=X, secret=X) → [REDACTED]
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	sanitized := err

	// Remove URLs first (before paths, as they contain paths)
	sanitized = httpURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = natsURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = wsURLRegex.ReplaceAllString(sanitized, "[URL]")

	// Remove file paths (Unix and Windows)
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = windowsPathRegex.ReplaceAllString(sanitized, "[PATH]")

	// Remove IP addresses
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")

	// Remove port numbers
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	// Remove potential credentials (basic patterns) - check against lowercase but replace in original case
	lowerSanitized := strings.ToLower(sanitized)
	if strings.Contains(lowerSanitized, "password") || strings.Contains(lowerSanitized, "token") ||
		strings.Contains(lowerSanitized, "key") || strings.Contains(lowerSanitized, "secret") ||
		strings.Contains(lowerSanitized, "credential") {
		sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
	}

	return sanitized
}

// FromDeviceStatus converts a bus DeviceStatus into a health Status.
// Reasons are sanitised before they reach the health endpoint.
func FromDeviceStatus(name string, ds types.DeviceStatus, started time.Time) Status {
	level := LevelOf(ds.State)
	msg := sanitizeErrorMessage(ds.Reason)
	switch {
	case level == LevelHealthy:
		msg = "link up"
	case level == LevelUnhealthy && msg != "":
		msg = string(ds.State) + ": " + msg
	case level == LevelUnhealthy:
		msg = string(ds.State)
	}

	s := Status{
		Component: name,
		Healthy:   level == LevelHealthy,
		Status:    level,
		Link:      string(ds.State),
		Message:   msg,
		Timestamp: time.Now(),
		Metrics: &Metrics{
			Failures:     ds.Failures,
			LastActivity: ds.Since,
		},
	}
	if !started.IsZero() {
		s.Metrics.Uptime = time.Since(started)
	}
	return s
}
