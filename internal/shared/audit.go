package shared

import "time"

// AuditLog represents one entry handed to the audit sink.
type AuditLog struct {
	TenantID string
	ActorID  string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}
