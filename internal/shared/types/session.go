package types

import "time"

// Position represents window position on screen
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Size represents window dimensions
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Session represents one interactive console channel to the remote device.
// The transport handle is deliberately not part of this record: sessions are
// serializable descriptors, transports are runtime-only and joined to a
// session by the console service.
type Session struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	RemoteSessionID *string   `json:"remote_session_id,omitempty"`
	IsMinimized     bool      `json:"is_minimized"`
	IsActive        bool      `json:"is_active"`
	Position        Position  `json:"position"`
	Size            Size      `json:"size"`
	StackOrder      int       `json:"stack_order"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	ResetCount      int       `json:"reset_count"`
}

// Stats contains registry statistics
type Stats struct {
	TotalSessions     int     `json:"total_sessions"`
	MinimizedSessions int     `json:"minimized_sessions"`
	ActiveSessionID   *string `json:"active_session_id,omitempty"`
	NextOrdinal       int     `json:"next_ordinal"`
}
