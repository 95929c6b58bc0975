package models

import "time"

// Marker kinds. Each kind has exactly one writer and one reader.
const (
	MarkerActiveCall    = "active-call"
	MarkerRecentCall    = "recent-call"
	MarkerRestartOrigin = "restart-origin"
)

// Marker is a one-record cross-process signal between the voice gateway and
// the chat bridge. Writing a kind replaces any previous record of that kind;
// reading consumes it. Payload schemas live with the marker queue.
type Marker struct {
	Kind      string `gorm:"primaryKey;size:32"`
	Payload   string `gorm:"type:json"`
	CreatedAt time.Time
}
