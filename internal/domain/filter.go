package domain

// Filter narrows query and search results. Nil pointer fields are
// unconstrained. When SessionID is nil and AllSessions is false, the
// store scopes results to the latest session.
type Filter struct {
	Source       *string
	MinVerbosity *Verbosity
	Category     *string
	Since        *float64 // emit-time lower bound, inclusive
	Until        *float64 // emit-time upper bound, inclusive
	SessionID    *string
	InstanceID   *string
	AllSessions  bool
	Limit        int
	Offset       int
}

// DefaultFilter returns the filter applied when a caller passes no
// constraints: latest session only, newest 100 entries.
func DefaultFilter() Filter {
	return Filter{Limit: 100}
}

// Normalize fills in the default limit for zero or negative values.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
