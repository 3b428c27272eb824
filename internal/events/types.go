// Package events provides bus subjects for the Elisa event system.
package events

// Event types for session health
const (
	HealthUpdated = "health.updated" // Periodic health sample for a session
)

// BuildHealthUpdatedSubject creates a health update subject for a specific session
func BuildHealthUpdatedSubject(sessionID string) string {
	return HealthUpdated + "." + sessionID
}

// BuildHealthUpdatedWildcardSubject creates a wildcard subscription for all health updates
func BuildHealthUpdatedWildcardSubject() string {
	return HealthUpdated + ".*"
}
