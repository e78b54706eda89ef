package domain

// Stats aggregates the stored entries. Errors counts Fatal+Error
// (ordinal <= 2) while Warnings counts Warning exactly; the asymmetry is
// deliberate and matches what agents already depend on.
type Stats struct {
	Total          int64            `json:"total"`
	BySource       map[string]int64 `json:"by_source"`
	Errors         int64            `json:"errors"`
	Warnings       int64            `json:"warnings"`
	ByCategory     map[string]int64 `json:"by_category"` // top 20 by count
	SessionCount   int64            `json:"session_count"`
	InstanceCount  int64            `json:"instance_count"`
	CurrentSession string           `json:"current_session"`
}
