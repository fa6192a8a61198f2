// Package types defines the JSON types served by the local control API.
package types

// HealthResponse is the response from /api/v1/health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime int64  `json:"uptime"`
}

// StateResponse is the response from /api/v1/state
type StateResponse struct {
	State          string   `json:"state"`
	SessionID      string   `json:"session_id,omitempty"`
	LocalID        string   `json:"local_id"`
	RemoteID       string   `json:"remote_id,omitempty"`
	PendingPeers   []string `json:"pending_peers,omitempty"`
	Channel        string   `json:"channel,omitempty"`
	Joined         bool     `json:"joined"`
	CreatedAt      string   `json:"created_at,omitempty"`
	StateChangedAt string   `json:"state_changed_at,omitempty"`
}

// StatsResponse is the response from /api/v1/stats
type StatsResponse struct {
	DialsPlaced      uint64 `json:"dials_placed"`
	DialsAnswered    uint64 `json:"dials_answered"`
	DialsFailed      uint64 `json:"dials_failed"`
	IncomingAdmitted uint64 `json:"incoming_admitted"`
	IncomingRejected uint64 `json:"incoming_rejected"`
	Commands         uint64 `json:"commands_processed"`
	Dropped          uint64 `json:"commands_dropped"`
}

// DialRequest is the body for POST /api/v1/dial
type DialRequest struct {
	Peers      []string `json:"peers"`
	Attachment string   `json:"attachment,omitempty"`
}

// MessageRequest is the body for POST /api/v1/message
type MessageRequest struct {
	Text string `json:"text"`
}

// MuteRequest is the body for POST /api/v1/mute
type MuteRequest struct {
	Track string `json:"track"`
	Muted bool   `json:"muted"`
}

// CommandResponse acknowledges an accepted control command
type CommandResponse struct {
	Message string `json:"message"`
	State   string `json:"state"`
}

// ErrorResponse carries a rejected control command's reason
type ErrorResponse struct {
	Error string `json:"error"`
}
