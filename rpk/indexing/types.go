package indexing

import "github.com/ZanzyTHEbar/packed-ratings/rpk/ratings"

// Packed is the output of a deduplicating pack: parallel columns holding one
// entry per distinct (user, item) pair, plus the id mappings and the per-user
// inverted index. It is immutable once returned by Builder.Build.
type Packed struct {
	// Core columns (same length, indexed by position)
	Users      []int32   // dense user index
	Items      []int32   // dense item index
	Values     []float64 // rating value
	Timestamps []int64   // nil when no input rating carried a timestamp

	UserIndex *IDIndex
	ItemIndex *IDIndex

	// UserPositions[u] lists the positions of user u in ascending order.
	UserPositions [][]int32
}

// Len returns the number of packed ratings.
func (p *Packed) Len() int { return len(p.Values) }

// HasTimestamps reports whether the timestamp column is present.
func (p *Packed) HasTimestamps() bool { return p.Timestamps != nil }

// Timestamp returns the timestamp at pos, or ratings.NoTimestamp.
func (p *Packed) Timestamp(pos int) int64 {
	if p.Timestamps == nil {
		return ratings.NoTimestamp
	}
	return p.Timestamps[pos]
}

// Rating materializes the rating at pos.
func (p *Packed) Rating(pos int) ratings.Rating {
	return ratings.Rating{
		UserID:    p.UserIndex.ID(int(p.Users[pos])),
		ItemID:    p.ItemIndex.ID(int(p.Items[pos])),
		Value:     p.Values[pos],
		Timestamp: p.Timestamp(pos),
	}
}

func (p *Packed) indexed(pos int) IndexedRating {
	return IndexedRating{
		Rating:    p.Rating(pos),
		Position:  pos,
		UserIndex: int(p.Users[pos]),
		ItemIndex: int(p.Items[pos]),
	}
}

// ItemPositions derives the per-item inverted index, symmetric to
// UserPositions. Only the binary pack needs it, so it is not kept.
func (p *Packed) ItemPositions() [][]int32 {
	return GroupPositions(p.Items, p.ItemIndex.Len())
}

// GroupPositions inverts a dense index column: list k holds, in ascending
// order, every position whose column value is k.
func GroupPositions(column []int32, n int) [][]int32 {
	counts := make([]int32, n)
	for _, k := range column {
		counts[k]++
	}
	// one backing array for all lists
	backing := make([]int32, len(column))
	lists := make([][]int32, n)
	off := int32(0)
	for k, c := range counts {
		lists[k] = backing[off : off : off+c]
		off += c
	}
	for pos, k := range column {
		lists[k] = append(lists[k], int32(pos))
	}
	return lists
}
