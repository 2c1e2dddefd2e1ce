package database

import "time"

// AuditRecord is one persisted session event. Summary and Hop are scrubbed
// before they reach the session's sinks; they never hold credentials.
type AuditRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"size:36;index" json:"session_id"`
	Kind       string    `gorm:"size:32;index" json:"kind"`
	Hop        string    `gorm:"size:128" json:"hop,omitempty"`
	State      string    `gorm:"size:64" json:"state"`
	Summary    string    `gorm:"type:text" json:"summary"`
	DurationMs int64     `json:"duration_ms"`
	Failed     bool      `gorm:"index" json:"failed"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}
