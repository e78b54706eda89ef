package domain

// SessionInfo summarizes one logical run: all entries sharing a
// session_id, possibly spanning several emitter processes.
type SessionInfo struct {
	SessionID string   `json:"session_id"`
	FirstSeen float64  `json:"first_seen"`
	LastSeen  float64  `json:"last_seen"`
	LogCount  int64    `json:"log_count"`
	Instances []string `json:"instances"`
}
