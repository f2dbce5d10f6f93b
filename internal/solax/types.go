package solax

// RealtimeResponse is the envelope returned by /api/getRealtimeInfo.do
type RealtimeResponse struct {
	Success   bool           `json:"success"`
	Exception string         `json:"exception"`
	Code      int            `json:"code"`
	Result    map[string]any `json:"result"`
}

// Snapshot is one wholesale copy of the fields returned by a successful
// fetch. It is never modified after construction.
type Snapshot struct {
	fields map[string]any
}

// NewSnapshot copies fields into a new Snapshot.
func NewSnapshot(fields map[string]any) Snapshot {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Snapshot{fields: copied}
}

// Get returns the raw value stored under key. Absent keys return (nil, false).
func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s.fields[key]
	return v, ok
}

// Len returns the number of fields in the snapshot
func (s Snapshot) Len() int {
	return len(s.fields)
}

// IsZero reports whether the snapshot was never populated by a fetch
func (s Snapshot) IsZero() bool {
	return s.fields == nil
}

// Keys returns the field identifiers in unspecified order
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.fields))
	for k := range s.fields {
		keys = append(keys, k)
	}
	return keys
}
