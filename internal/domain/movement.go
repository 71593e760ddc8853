package domain

import "time"

// BookingMovement is one entry of a booking's movement history.
type BookingMovement struct {
	Sequence      int
	FromAgency    string
	ToAgency      string
	MovementType  string
	DirectionCode string
	MovementTime  *time.Time
	ReasonCode    string
	CreatedAt     *time.Time
	ModifiedAt    *time.Time
}

// IsUpdate reports whether the entry has been modified since it was created.
func (m BookingMovement) IsUpdate() bool {
	if m.ModifiedAt == nil {
		return false
	}
	return m.CreatedAt == nil || !m.ModifiedAt.Equal(*m.CreatedAt)
}

// MovementHistory is a booking's movement history in any order.
type MovementHistory []BookingMovement

// Find returns the entry with the given sequence number.
func (h MovementHistory) Find(sequence int) (BookingMovement, bool) {
	for _, m := range h {
		if m.Sequence == sequence {
			return m, true
		}
	}
	return BookingMovement{}, false
}

// Prior returns the entry with the highest sequence number strictly below
// sequence.
func (h MovementHistory) Prior(sequence int) (BookingMovement, bool) {
	var (
		prior BookingMovement
		found bool
	)
	for _, m := range h {
		if m.Sequence >= sequence {
			continue
		}
		if !found || m.Sequence > prior.Sequence {
			prior, found = m, true
		}
	}
	return prior, found
}
