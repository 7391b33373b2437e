package types

// CreateSessionRequest represents a session creation request
type CreateSessionRequest struct {
	Name     string    `json:"name,omitempty"`
	Position *Position `json:"position,omitempty"`
}

// RenameSessionRequest represents a session rename request
type RenameSessionRequest struct {
	Name string `json:"name" binding:"required"`
}

// MoveSessionRequest represents a window move request
type MoveSessionRequest struct {
	Position Position `json:"position" binding:"required"`
}

// ResizeSessionRequest represents a window resize request
type ResizeSessionRequest struct {
	Size Size `json:"size" binding:"required"`
}

// SubmitRequest represents a command submission to a session's transport
type SubmitRequest struct {
	Command string `json:"command" binding:"required"`
}

// WSMessage represents a WebSocket message from the front-end
type WSMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}
