package indexing

import (
	"github.com/ZanzyTHEbar/packed-ratings/rpk/ratings"

	"github.com/cockroachdb/errors"
)

const defaultSizeHint = 1024

// Builder packs a stream of ratings into deduplicated columns. A Builder is
// single-use and not safe for concurrent use.
type Builder struct {
	users      []int32
	items      []int32
	values     []float64
	timestamps []int64

	userIndex *IDIndex
	itemIndex *IDIndex

	// seen[u][i] is the position of pair (u, i); only used for duplicate
	// detection and dropped by Build.
	seen []map[int32]int32

	built bool
}

// NewBuilder returns a builder presized for sizeHint ratings. A negative hint
// means unknown.
func NewBuilder(sizeHint int) *Builder {
	if sizeHint < 0 {
		sizeHint = defaultSizeHint
	}
	return &Builder{
		users:     make([]int32, 0, sizeHint),
		items:     make([]int32, 0, sizeHint),
		values:    make([]float64, 0, sizeHint),
		userIndex: NewIDIndex(0),
		itemIndex: NewIDIndex(0),
	}
}

// Len returns the number of distinct pairs added so far.
func (b *Builder) Len() int { return len(b.values) }

// Add packs one rating. A repeated (user, item) pair replaces the stored
// rating when neither carries a timestamp, or when the incoming timestamp is
// not older than the stored one.
func (b *Builder) Add(r ratings.Rating) {
	if b.built {
		panic(errors.AssertionFailedf("indexing: Add called after Build"))
	}
	u := int32(b.userIndex.Intern(r.UserID))
	i := int32(b.itemIndex.Intern(r.ItemID))

	if int(u) == len(b.seen) {
		b.seen = append(b.seen, make(map[int32]int32, 4))
	}
	if pos, ok := b.seen[u][i]; ok {
		stored := b.timestampAt(int(pos))
		if (!r.HasTimestamp() && stored < 0) || r.Timestamp >= stored {
			b.values[pos] = r.Value
			if b.timestamps != nil {
				b.timestamps[pos] = r.Timestamp
			} else if r.HasTimestamp() {
				b.materializeTimestamps()
				b.timestamps[pos] = r.Timestamp
			}
		}
		return
	}

	pos := int32(len(b.values))
	b.users = append(b.users, u)
	b.items = append(b.items, i)
	b.values = append(b.values, r.Value)
	if b.timestamps == nil && r.HasTimestamp() {
		b.materializeTimestamps()
	}
	if b.timestamps != nil {
		b.timestamps = append(b.timestamps, r.Timestamp)
	}
	b.seen[u][i] = pos
}

func (b *Builder) timestampAt(pos int) int64 {
	if b.timestamps == nil {
		return ratings.NoTimestamp
	}
	return b.timestamps[pos]
}

// materializeTimestamps creates the timestamp column, back-filling every
// existing position with the sentinel.
func (b *Builder) materializeTimestamps() {
	ts := make([]int64, len(b.values), cap(b.values))
	for j := range ts {
		ts[j] = ratings.NoTimestamp
	}
	b.timestamps = ts
}

// AddAll drains the cursor into the builder and closes it. The first cursor
// error aborts the pass.
func (b *Builder) AddAll(c ratings.Cursor) (err error) {
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "closing rating cursor")
		}
	}()
	for c.Next() {
		b.Add(c.Rating())
	}
	if err := c.Err(); err != nil {
		return errors.Wrap(err, "reading rating cursor")
	}
	return nil
}

// Build freezes the builder and returns the packed columns, trimmed to size.
func (b *Builder) Build() *Packed {
	if b.built {
		panic(errors.AssertionFailedf("indexing: Build called twice"))
	}
	b.built = true
	b.seen = nil

	b.userIndex.trim()
	b.itemIndex.trim()
	p := &Packed{
		Users:      trim(b.users),
		Items:      trim(b.items),
		Values:     trim(b.values),
		Timestamps: trim(b.timestamps),
		UserIndex:  b.userIndex,
		ItemIndex:  b.itemIndex,
	}
	p.UserPositions = GroupPositions(p.Users, p.UserIndex.Len())

	b.users, b.items, b.values, b.timestamps = nil, nil, nil, nil
	return p
}

// Pack runs a full deduplicating pass over the cursor. No partial result is
// returned when the cursor fails.
func Pack(c ratings.Cursor) (*Packed, error) {
	b := NewBuilder(c.RowCount())
	if err := b.AddAll(c); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

func trim[T any](s []T) []T {
	if s == nil || cap(s) == len(s) {
		return s
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
