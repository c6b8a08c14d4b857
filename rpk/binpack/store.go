package binpack

import (
	"iter"
	"os"
	"slices"
	"sort"

	"github.com/ZanzyTHEbar/packed-ratings/rpk/indexing"
	"github.com/ZanzyTHEbar/packed-ratings/rpk/ratings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SortOrder selects the traversal order of Store.Scan.
type SortOrder int

const (
	// ByPosition follows storage order, which is also timestamp order.
	ByPosition SortOrder = iota
	// ByUser groups ratings by ascending user id.
	ByUser
	// ByItem groups ratings by ascending item id.
	ByItem
)

// Store is a read-only rating pack, indexed by user and by item. Windowed
// views created with Window are also Stores; they share the parent's bytes,
// which stay mapped until the root and every view are closed. A Store is
// immutable and safe for concurrent use until it is closed.
type Store struct {
	path    string
	header  Header
	codec   Codec
	ratings []byte
	users   *IndexTable
	items   *IndexTable
	log     zerolog.Logger

	// nil once closed
	m *mapping

	windowed bool
	cutoff   int64
	// only positions below limit are visible
	limit        int
	visibleUsers *indexing.RankSet
	visibleItems *indexing.RankSet
}

// Open maps a pack file and validates its header and tables.
func Open(path string, opts ...OpenOption) (*Store, error) {
	o := resolveOpenOptions(opts)

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "binpack: open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "binpack: stat %s", path)
	}
	if info.Size() < HeaderSize {
		return nil, corruptErrorf("binpack: %s is too small for a header (%d bytes)", path, info.Size())
	}

	data, unmap, err := mapFile(f, info.Size())
	if err != nil {
		return nil, err
	}
	s, err := newStore(data, o)
	if err != nil {
		_ = unmap()
		return nil, errors.Wrapf(err, "binpack: %s", path)
	}
	s.path = path
	s.m = newMapping(unmap)

	s.log.Info().
		Str("path", path).
		Int("ratings", s.header.RatingCount).
		Int("users", s.header.UserCount).
		Int("items", s.header.ItemCount).
		Stringer("format", s.header.Format).
		Msg("opened rating pack")
	return s, nil
}

// FromBytes reads a pack held in memory. data must not change while the
// store is in use.
func FromBytes(data []byte, opts ...OpenOption) (*Store, error) {
	s, err := newStore(data, resolveOpenOptions(opts))
	if err != nil {
		return nil, err
	}
	s.m = newMapping(nil)
	return s, nil
}

func newStore(data []byte, o openOptions) (*Store, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if want := h.FileSize(); int64(len(data)) != want {
		return nil, corruptErrorf("binpack: pack is %d bytes, header %s with %d ratings implies %d",
			len(data), h.Format, h.RatingCount, want)
	}

	ratingEnd := HeaderSize + h.ratingDataSize()
	users, rest, err := ParseIndexTable(h.UserCount, data[ratingEnd:])
	if err != nil {
		return nil, errors.Wrap(err, "user table")
	}
	items, rest, err := ParseIndexTable(h.ItemCount, rest)
	if err != nil {
		return nil, errors.Wrap(err, "item table")
	}
	if len(rest) != 0 {
		return nil, corruptErrorf("binpack: %d trailing bytes after item table", len(rest))
	}
	if users.TotalPositions() != h.RatingCount || items.TotalPositions() != h.RatingCount {
		return nil, corruptErrorf("binpack: tables index %d/%d positions for %d ratings",
			users.TotalPositions(), items.TotalPositions(), h.RatingCount)
	}

	codec, err := NewCodec(h.Format, users, items)
	if err != nil {
		return nil, err
	}
	s := &Store{
		header:  h,
		codec:   codec,
		ratings: data[HeaderSize:ratingEnd],
		users:   users,
		items:   items,
		log:     o.logger,
		limit:   h.RatingCount,
	}
	if err := s.checkBounds(); err != nil {
		return nil, err
	}
	if o.verify {
		if err := s.checkOrder(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// checkBounds rejects position lists and compact ranks that would index
// outside the pack.
func (s *Store) checkBounds() error {
	if err := s.users.Verify(s.header.RatingCount); err != nil {
		return errors.Wrap(err, "user table")
	}
	if err := s.items.Verify(s.header.RatingCount); err != nil {
		return errors.Wrap(err, "item table")
	}
	if !s.header.Format.compactUsers() && !s.header.Format.compactItems() {
		return nil
	}
	for pos := 0; pos < s.header.RatingCount; pos++ {
		if err := s.codec.checkRanks(s.record(pos)); err != nil {
			return errors.Wrapf(err, "rating %d", pos)
		}
	}
	return nil
}

// checkOrder rejects ratings stored out of timestamp order, which would make
// windows wrong rather than unsafe.
func (s *Store) checkOrder() error {
	prev := ratings.NoTimestamp
	for pos := 0; pos < s.header.RatingCount; pos++ {
		ts := s.codec.decodeTimestamp(s.record(pos))
		if ts < prev {
			return corruptErrorf("binpack: rating %d has timestamp %d after %d", pos, ts, prev)
		}
		prev = ts
	}
	return nil
}

// Close releases the store's hold on the pack. The file is unmapped once the
// root and all its views are closed. A closed store answers every query as
// empty; lists obtained from it earlier must not be used after the last
// Close.
func (s *Store) Close() error {
	if s.m == nil {
		return nil
	}
	m := s.m
	s.m = nil
	s.ratings = nil
	s.users, s.items = emptyIndexTable, emptyIndexTable
	s.codec = Codec{format: s.header.Format}
	s.limit = 0
	s.visibleUsers, s.visibleItems = nil, nil

	released, err := m.unref()
	if err != nil {
		return errors.Wrapf(err, "binpack: unmap %s", s.path)
	}
	if released {
		s.log.Debug().Str("path", s.path).Msg("released rating pack")
	}
	return nil
}

func (s *Store) Header() Header   { return s.header }
func (s *Store) Format() Format   { return s.header.Format }
func (s *Store) ID() uuid.UUID    { return s.header.ID }
func (s *Store) Path() string     { return s.path }
func (s *Store) IsWindowed() bool { return s.windowed }

// Cutoff returns the effective timestamp cutoff and whether one applies.
func (s *Store) Cutoff() (int64, bool) { return s.cutoff, s.windowed }

func (s *Store) record(pos int) []byte {
	size := s.header.Format.RatingSize()
	return s.ratings[pos*size : (pos+1)*size]
}

func (s *Store) list(positions PositionList) RatingList {
	return RatingList{codec: s.codec, data: s.ratings, positions: positions}
}

// Ratings returns every visible rating in storage order.
func (s *Store) Ratings() RatingList {
	return s.list(positionRange(s.limit))
}

// entry returns the visible positions of id in t. Ids with nothing visible
// are reported missing.
func (s *Store) entry(t *IndexTable, id int64) (PositionList, bool) {
	rank := t.Rank(id)
	if rank < 0 {
		return PositionList{}, false
	}
	return s.entryAt(t, rank)
}

func (s *Store) entryAt(t *IndexTable, rank int) (PositionList, bool) {
	l := t.EntryAt(rank)
	if !s.windowed {
		return l, true
	}
	l = l.Prefix(l.CountBelow(s.limit))
	return l, l.Len() > 0
}

// UserRatings returns the visible ratings of a user.
func (s *Store) UserRatings(user int64) (RatingList, bool) {
	l, ok := s.entry(s.users, user)
	if !ok {
		return RatingList{}, false
	}
	return s.list(l), true
}

// ItemRatings returns the visible ratings of an item.
func (s *Store) ItemRatings(item int64) (RatingList, bool) {
	l, ok := s.entry(s.items, item)
	if !ok {
		return RatingList{}, false
	}
	return s.list(l), true
}

// UserIDs returns the users with at least one visible rating.
func (s *Store) UserIDs() IDSet { return IDSet{table: s.users, visible: s.visibleUsers} }

// ItemIDs returns the items with at least one visible rating.
func (s *Store) ItemIDs() IDSet { return IDSet{table: s.items, visible: s.visibleItems} }

// UsersForItem returns the ascending ids of users who rated item.
func (s *Store) UsersForItem(item int64) ([]int64, bool) {
	l, ok := s.entry(s.items, item)
	if !ok {
		return nil, false
	}
	out := make([]int64, 0, l.Len())
	for pos := range l.All() {
		out = append(out, s.codec.decodeUser(s.record(pos)))
	}
	slices.Sort(out)
	return out, true
}

// ItemsForUser returns the ascending ids of items rated by user.
func (s *Store) ItemsForUser(user int64) ([]int64, bool) {
	l, ok := s.entry(s.users, user)
	if !ok {
		return nil, false
	}
	out := make([]int64, 0, l.Len())
	for pos := range l.All() {
		out = append(out, s.codec.decodeItem(s.record(pos)))
	}
	slices.Sort(out)
	return out, true
}

// Scan yields every visible rating in the requested order. User and item
// orders walk the already-sorted index tables instead of sorting ratings.
func (s *Store) Scan(order SortOrder) iter.Seq[ratings.Rating] {
	switch order {
	case ByPosition:
		return s.Ratings().All()
	case ByUser:
		return s.scanTable(s.users, s.visibleUsers)
	case ByItem:
		return s.scanTable(s.items, s.visibleItems)
	default:
		panic(errors.AssertionFailedf("binpack: unknown sort order %d", order))
	}
}

func (s *Store) scanTable(t *IndexTable, visible *indexing.RankSet) iter.Seq[ratings.Rating] {
	return func(yield func(ratings.Rating) bool) {
		for rank := range ranks(t, visible) {
			l, ok := s.entryAt(t, rank)
			if !ok {
				continue
			}
			for r := range s.list(l).All() {
				if !yield(r) {
					return
				}
			}
		}
	}
}

// UserHistories yields one history per visible user, by ascending user id.
func (s *Store) UserHistories() iter.Seq[UserHistory] {
	return func(yield func(UserHistory) bool) {
		for rank := range ranks(s.users, s.visibleUsers) {
			l, ok := s.entryAt(s.users, rank)
			if !ok {
				continue
			}
			if !yield(UserHistory{UserID: s.users.KeyAt(rank), Ratings: s.list(l)}) {
				return
			}
		}
	}
}

// ItemCollections yields one rating group per visible item, by ascending
// item id.
func (s *Store) ItemCollections() iter.Seq[ItemRatings] {
	return func(yield func(ItemRatings) bool) {
		for rank := range ranks(s.items, s.visibleItems) {
			l, ok := s.entryAt(s.items, rank)
			if !ok {
				continue
			}
			if !yield(ItemRatings{ItemID: s.items.KeyAt(rank), Ratings: s.list(l)}) {
				return
			}
		}
	}
}

// Summary computes value statistics over the visible ratings.
func (s *Store) Summary() ratings.Summary {
	values := make([]float64, 0, s.limit)
	for v := range s.Ratings().Fast() {
		values = append(values, v.Value())
	}
	return ratings.Summarize(values)
}

func (s *Store) timestampAt(pos int) int64 {
	return s.codec.decodeTimestamp(s.record(pos))
}

// Window returns a view restricted to ratings with timestamp < cutoff. On a
// view, the effective cutoff is the smaller of the two, so windows only ever
// narrow. No rating bytes are copied.
func (s *Store) Window(cutoff int64) *Store {
	if s.m == nil {
		panic(errors.AssertionFailedf("binpack: window of closed store %s", s.path))
	}
	if s.windowed && s.cutoff < cutoff {
		cutoff = s.cutoff
	}
	// ratings are stored in timestamp order, so the visible ones form a prefix
	limit := sort.Search(s.limit, func(pos int) bool { return s.timestampAt(pos) >= cutoff })

	v := &Store{
		path:     s.path,
		header:   s.header,
		codec:    s.codec,
		ratings:  s.ratings,
		users:    s.users,
		items:    s.items,
		log:      s.log,
		windowed: true,
		cutoff:   cutoff,
		limit:    limit,
		m:        s.m,
	}
	s.m.retain()
	v.visibleUsers = v.visibleRanks(s.users, s.visibleUsers)
	v.visibleItems = v.visibleRanks(s.items, s.visibleItems)

	s.log.Debug().
		Int64("cutoff", cutoff).
		Int("visible", limit).
		Int("users", v.visibleUsers.Len()).
		Int("items", v.visibleItems.Len()).
		Msg("created windowed view")
	return v
}

func (s *Store) visibleRanks(t *IndexTable, parent *indexing.RankSet) *indexing.RankSet {
	set := indexing.NewRankSet()
	for rank := range ranks(t, parent) {
		if l := t.EntryAt(rank); l.Len() > 0 && l.At(0) < s.limit {
			set.Add(rank)
		}
	}
	set.Optimize()
	return set
}

// ranks yields the ranks of t selected by visible, or all of them.
func ranks(t *IndexTable, visible *indexing.RankSet) iter.Seq[int] {
	if visible != nil {
		return visible.All()
	}
	return func(yield func(int) bool) {
		for rank := 0; rank < t.Len(); rank++ {
			if !yield(rank) {
				return
			}
		}
	}
}

// IDSet is the set of ids visible in a store, backed by an index table and an
// optional rank filter.
type IDSet struct {
	table   *IndexTable
	visible *indexing.RankSet
}

func (s IDSet) Len() int {
	if s.visible != nil {
		return s.visible.Len()
	}
	return s.table.Len()
}

func (s IDSet) Contains(id int64) bool {
	rank := s.table.Rank(id)
	if rank < 0 {
		return false
	}
	return s.visible == nil || s.visible.Contains(rank)
}

// All yields the ids in ascending order.
func (s IDSet) All() iter.Seq[int64] {
	return func(yield func(int64) bool) {
		for rank := range ranks(s.table, s.visible) {
			if !yield(s.table.KeyAt(rank)) {
				return
			}
		}
	}
}

// Slice returns the ids in ascending order.
func (s IDSet) Slice() []int64 {
	out := make([]int64, 0, s.Len())
	for id := range s.All() {
		out = append(out, id)
	}
	return out
}
