package domain

import "time"

// Timestamps provides the creation and modification times every synced record
// carries. UpdatedAt is the last-writer-wins clock.
type Timestamps struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Now returns the current time at the precision records are stored and
// transmitted with.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Touch updates the UpdatedAt timestamp to the current time.
// Call this whenever the underlying record changes.
func (t *Timestamps) Touch() {
	t.UpdatedAt = Now()
}

// InitTimestamps sets both CreatedAt and UpdatedAt to now.
func (t *Timestamps) InitTimestamps() {
	now := Now()
	t.CreatedAt = now
	t.UpdatedAt = now
}

// NewerThan reports whether these timestamps were modified strictly after other's.
func (t Timestamps) NewerThan(other Timestamps) bool {
	return t.UpdatedAt.After(other.UpdatedAt)
}
