package indexing

import (
	"sync/atomic"

	"github.com/ZanzyTHEbar/packed-ratings/rpk/ratings"
)

// Snapshot is a frozen, in-memory view of a packed rating set. It is indexed
// by user only; item lookups go through the binary pack. All queries are safe
// for concurrent use until Close.
type Snapshot struct {
	data atomic.Pointer[Packed]
}

// NewSnapshot wraps packed columns.
func NewSnapshot(p *Packed) *Snapshot {
	s := &Snapshot{}
	s.data.Store(p)
	return s
}

// BuildSnapshot packs the cursor and wraps the result.
func BuildSnapshot(c ratings.Cursor) (*Snapshot, error) {
	p, err := Pack(c)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(p), nil
}

var emptyPacked = &Packed{UserIndex: NewIDIndex(0), ItemIndex: NewIDIndex(0)}

func (s *Snapshot) packed() *Packed {
	if p := s.data.Load(); p != nil {
		return p
	}
	return emptyPacked
}

// UserIDs returns every user id, in index order.
func (s *Snapshot) UserIDs() []int64 { return s.packed().UserIndex.IDs() }

// ItemIDs returns every item id, in index order.
func (s *Snapshot) ItemIDs() []int64 { return s.packed().ItemIndex.IDs() }

func (s *Snapshot) UserIndex() *IDIndex { return s.packed().UserIndex }
func (s *Snapshot) ItemIndex() *IDIndex { return s.packed().ItemIndex }

// Ratings returns every packed rating in position order.
func (s *Snapshot) Ratings() Collection {
	p := s.packed()
	return Collection{data: p, n: p.Len()}
}

// UserRatings returns the ratings of one user. Unknown users yield an empty
// collection.
func (s *Snapshot) UserRatings(userID int64) Collection {
	p := s.packed()
	u := p.UserIndex.Index(userID)
	if u < 0 || u >= len(p.UserPositions) {
		return Collection{data: p}
	}
	positions := p.UserPositions[u]
	return Collection{data: p, positions: positions, n: len(positions)}
}

// UserVector returns the ratings of one user keyed by item id, or nil for an
// unknown user.
func (s *Snapshot) UserVector(userID int64) map[int64]float64 {
	c := s.UserRatings(userID)
	if c.Len() == 0 {
		return nil
	}
	vec := make(map[int64]float64, c.Len())
	for v := range c.Fast() {
		vec[v.ItemID()] = v.Value()
	}
	return vec
}

// Summary computes value statistics over every packed rating.
func (s *Snapshot) Summary() ratings.Summary {
	return ratings.Summarize(s.packed().Values)
}

// Close releases the columns. Queries after Close see an empty snapshot;
// collections obtained earlier must not be used.
func (s *Snapshot) Close() error {
	s.data.Store(nil)
	return nil
}
