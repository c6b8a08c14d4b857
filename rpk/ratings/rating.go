// Package ratings defines the user-item interaction record shared by the
// in-memory snapshot and the binary pack, and the cursor abstraction both are
// built from.
package ratings

import (
	"fmt"
	"math"
)

// NoTimestamp marks a rating without a timestamp. It is negative so it
// compares below every real timestamp.
const NoTimestamp int64 = -1

// Rating is one user-item interaction.
type Rating struct {
	UserID    int64
	ItemID    int64
	Value     float64
	Timestamp int64
}

// New returns a rating without a timestamp.
func New(user, item int64, value float64) Rating {
	return Rating{UserID: user, ItemID: item, Value: value, Timestamp: NoTimestamp}
}

// NewTimed returns a rating carrying a timestamp.
func NewTimed(user, item int64, value float64, ts int64) Rating {
	return Rating{UserID: user, ItemID: item, Value: value, Timestamp: ts}
}

// HasTimestamp reports whether the rating carries a timestamp.
func (r Rating) HasTimestamp() bool { return r.Timestamp >= 0 }

// Equal compares two ratings field by field, treating NaN values as equal.
func (r Rating) Equal(o Rating) bool {
	if r.UserID != o.UserID || r.ItemID != o.ItemID || r.Timestamp != o.Timestamp {
		return false
	}
	if math.IsNaN(r.Value) {
		return math.IsNaN(o.Value)
	}
	return r.Value == o.Value
}

func (r Rating) String() string {
	if !r.HasTimestamp() {
		return fmt.Sprintf("(%d, %d, %g)", r.UserID, r.ItemID, r.Value)
	}
	return fmt.Sprintf("(%d, %d, %g, @%d)", r.UserID, r.ItemID, r.Value, r.Timestamp)
}
