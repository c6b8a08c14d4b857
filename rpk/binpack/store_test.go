package binpack

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/ZanzyTHEbar/packed-ratings/rpk/ratings"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePack(t *testing.T, flags Flags, rs ...ratings.Rating) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ratings.rpk")
	p, err := CreateWithOptions(path, Options{Flags: flags})
	require.NoError(t, err)
	p.WriteRatings(rs...)
	require.NoError(t, p.Close())
	return path
}

func openPack(t *testing.T, path string, opts ...OpenOption) *Store {
	t.Helper()
	s, err := Open(path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPackAndOpen(t *testing.T) {
	in := []ratings.Rating{
		ratings.NewTimed(12, 102, 2.5, 1050),
		ratings.NewTimed(12, 120, 4.5, 1650),
		ratings.NewTimed(13, 102, 3.5, 1000),
	}
	s := openPack(t, writePack(t, MakeFlags(Timestamps), in...), WithVerify(true))

	assert.Equal(t, 3, s.Header().RatingCount)
	assert.False(t, s.IsWindowed())
	assert.NotEqual(t, [16]byte{}, [16]byte(s.ID()))

	// stored in timestamp order
	assert.Equal(t, []ratings.Rating{in[2], in[0], in[1]}, s.Ratings().Slice())

	assert.Equal(t, []int64{12, 13}, s.UserIDs().Slice())
	assert.Equal(t, []int64{102, 120}, s.ItemIDs().Slice())

	l, ok := s.UserRatings(12)
	require.True(t, ok)
	assert.Equal(t, []ratings.Rating{in[0], in[1]}, l.Slice())

	l, ok = s.ItemRatings(102)
	require.True(t, ok)
	assert.Equal(t, []ratings.Rating{in[2], in[0]}, l.Slice())

	users, ok := s.UsersForItem(102)
	require.True(t, ok)
	assert.Equal(t, []int64{12, 13}, users)

	items, ok := s.ItemsForUser(12)
	require.True(t, ok)
	assert.Equal(t, []int64{102, 120}, items)

	_, ok = s.UserRatings(99)
	assert.False(t, ok)
	_, ok = s.ItemRatings(99)
	assert.False(t, ok)
	_, ok = s.UsersForItem(99)
	assert.False(t, ok)
	_, ok = s.ItemsForUser(99)
	assert.False(t, ok)
}

func TestPackDeduplicates(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		in    []ratings.Rating
		want  ratings.Rating
	}{
		{
			name:  "NewerWins",
			flags: MakeFlags(Timestamps),
			in:    []ratings.Rating{ratings.NewTimed(1, 2, 5, 100), ratings.NewTimed(1, 2, 7, 200)},
			want:  ratings.NewTimed(1, 2, 7, 200),
		},
		{
			name:  "OlderLoses",
			flags: MakeFlags(Timestamps),
			in:    []ratings.Rating{ratings.NewTimed(1, 2, 5, 200), ratings.NewTimed(1, 2, 7, 100)},
			want:  ratings.NewTimed(1, 2, 5, 200),
		},
		{
			name:  "UntimedLaterWins",
			flags: MakeFlags(),
			in:    []ratings.Rating{ratings.New(1, 2, 5), ratings.New(1, 2, 7)},
			want:  ratings.New(1, 2, 7),
		},
		{
			name:  "TimestampsDroppedWithoutFlag",
			flags: MakeFlags(),
			in:    []ratings.Rating{ratings.NewTimed(1, 2, 5, 100), ratings.NewTimed(1, 2, 7, 200)},
			want:  ratings.New(1, 2, 7),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openPack(t, writePack(t, tt.flags, tt.in...))
			assert.Equal(t, []ratings.Rating{tt.want}, s.Ratings().Slice())
		})
	}
}

func TestPackAllFormats(t *testing.T) {
	in := []ratings.Rating{
		ratings.NewTimed(5, 50, 1.5, 10),
		ratings.NewTimed(3, 50, 2.5, 20),
		ratings.NewTimed(5, 40, 3.5, 30),
		ratings.NewTimed(1<<35, 1<<36, 4.5, 40),
	}
	for _, flags := range allFlagSets() {
		t.Run(flags.String(), func(t *testing.T) {
			s := openPack(t, writePack(t, flags, in...), WithVerify(true))
			assert.Equal(t, flags, s.Format().Flags())

			want := slices.Clone(in)
			if !flags.Has(Timestamps) {
				for i := range want {
					want[i].Timestamp = ratings.NoTimestamp
				}
			}
			assert.Equal(t, want, s.Ratings().Slice())
			assert.Equal(t, []int64{3, 5, 1 << 35}, s.UserIDs().Slice())
			assert.Equal(t, []int64{40, 50, 1 << 36}, s.ItemIDs().Slice())

			l, ok := s.UserRatings(5)
			require.True(t, ok)
			assert.Equal(t, []ratings.Rating{want[0], want[2]}, l.Slice())
		})
	}
}

func TestIndexCompleteness(t *testing.T) {
	var in []ratings.Rating
	for u := int64(0); u < 20; u++ {
		for i := int64(0); i < u%5+1; i++ {
			in = append(in, ratings.NewTimed(u, 100+i*u, float64(i), u*10+i))
		}
	}
	s := openPack(t, writePack(t, MakeFlags(Timestamps, CompactUsers), in...), WithVerify(true))

	total := 0
	for id := range s.UserIDs().All() {
		l, ok := s.UserRatings(id)
		require.True(t, ok)
		require.NotZero(t, l.Len())
		for r := range l.All() {
			assert.Equal(t, id, r.UserID)
		}
		total += l.Len()
	}
	assert.Equal(t, s.Ratings().Len(), total)
	assert.Equal(t, 20, s.UserIDs().Len())

	total = 0
	for id := range s.ItemIDs().All() {
		l, ok := s.ItemRatings(id)
		require.True(t, ok)
		total += l.Len()
	}
	assert.Equal(t, s.Ratings().Len(), total)
}

func TestEmptyPack(t *testing.T) {
	s := openPack(t, writePack(t, MakeFlags(Timestamps)), WithVerify(true))

	assert.Equal(t, 0, s.Ratings().Len())
	assert.Equal(t, 0, s.UserIDs().Len())
	assert.Equal(t, 0, s.ItemIDs().Len())
	assert.Empty(t, s.UserIDs().Slice())
	assert.False(t, s.UserIDs().Contains(1))
	_, ok := s.UserRatings(1)
	assert.False(t, ok)
	_, ok = s.ItemRatings(1)
	assert.False(t, ok)
	assert.Empty(t, slices.Collect(s.Scan(ByUser)))
	assert.Empty(t, slices.Collect(s.UserHistories()))
	assert.Equal(t, 0, s.Summary().Count)

	w := s.Window(100)
	assert.Equal(t, 0, w.Ratings().Len())
	assert.Equal(t, 0, w.UserIDs().Len())
}

func TestUnsortedInputIsReordered(t *testing.T) {
	in := []ratings.Rating{
		ratings.NewTimed(1, 10, 1, 300),
		ratings.NewTimed(2, 10, 2, 100),
		ratings.NewTimed(1, 20, 3, 200),
		ratings.NewTimed(3, 30, 4, 100),
	}
	s := openPack(t, writePack(t, MakeFlags(Timestamps), in...), WithVerify(true))

	// ties keep arrival order
	assert.Equal(t, []ratings.Rating{in[1], in[3], in[2], in[0]}, s.Ratings().Slice())

	l, ok := s.UserRatings(1)
	require.True(t, ok)
	assert.Equal(t, []int{2, 3}, l.Positions().AppendTo(nil))
	assert.Equal(t, []ratings.Rating{in[2], in[0]}, l.Slice())
}

func TestFastIteration(t *testing.T) {
	in := []ratings.Rating{
		ratings.NewTimed(1, 10, 1, 1),
		ratings.NewTimed(2, 20, 2, 2),
		ratings.NewTimed(3, 30, 3, 3),
	}
	s := openPack(t, writePack(t, MakeFlags(Timestamps, CompactItems), in...))

	var detached []ratings.Rating
	var views []*RatingView
	for v := range s.Ratings().Fast() {
		assert.Equal(t, len(detached), v.Position())
		detached = append(detached, v.Detach())
		views = append(views, v)
	}
	assert.Equal(t, in, detached)
	// one view, overwritten in place
	require.Len(t, views, 3)
	assert.Same(t, views[0], views[2])
	assert.Equal(t, in[2], views[0].Detach())

	for v := range s.Ratings().Fast() {
		assert.Equal(t, int64(1), v.UserID())
		assert.Equal(t, int64(10), v.ItemID())
		assert.Equal(t, 1.0, v.Value())
		assert.Equal(t, int64(1), v.Timestamp())
		break
	}
}

func TestScanOrders(t *testing.T) {
	in := []ratings.Rating{
		ratings.NewTimed(3, 10, 1, 1),
		ratings.NewTimed(1, 30, 2, 2),
		ratings.NewTimed(2, 20, 3, 3),
		ratings.NewTimed(1, 10, 4, 4),
	}
	s := openPack(t, writePack(t, MakeFlags(Timestamps), in...))

	assert.Equal(t, in, slices.Collect(s.Scan(ByPosition)))
	assert.Equal(t, []ratings.Rating{in[1], in[3], in[2], in[0]}, slices.Collect(s.Scan(ByUser)))
	assert.Equal(t, []ratings.Rating{in[0], in[3], in[2], in[1]}, slices.Collect(s.Scan(ByItem)))
	assert.Panics(t, func() { s.Scan(SortOrder(42)) })

	var histories []int64
	for h := range s.UserHistories() {
		histories = append(histories, h.UserID)
		l, _ := s.UserRatings(h.UserID)
		assert.Equal(t, l.Slice(), h.Ratings.Slice())
	}
	assert.Equal(t, []int64{1, 2, 3}, histories)

	var items []int64
	for c := range s.ItemCollections() {
		items = append(items, c.ItemID)
	}
	assert.Equal(t, []int64{10, 20, 30}, items)
}

func TestSummary(t *testing.T) {
	s := openPack(t, writePack(t, MakeFlags(Timestamps),
		ratings.NewTimed(1, 1, 1, 1),
		ratings.NewTimed(1, 2, 3, 2),
		ratings.NewTimed(2, 1, 5, 3),
	))
	sum := s.Summary()
	assert.Equal(t, 3, sum.Count)
	assert.InDelta(t, 3.0, sum.Mean, 1e-9)
	assert.Equal(t, 1.0, sum.Min)
	assert.Equal(t, 5.0, sum.Max)

	sum = s.Window(3).Summary()
	assert.Equal(t, 2, sum.Count)
	assert.InDelta(t, 2.0, sum.Mean, 1e-9)
}

func TestFromBytes(t *testing.T) {
	path := writePack(t, MakeFlags(Timestamps), ratings.NewTimed(1, 2, 3, 4))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	s, err := FromBytes(data, WithVerify(true))
	require.NoError(t, err)
	assert.Equal(t, []ratings.Rating{ratings.NewTimed(1, 2, 3, 4)}, s.Ratings().Slice())
	assert.NoError(t, s.Close())
}

func TestCorruptPacks(t *testing.T) {
	in := []ratings.Rating{
		ratings.NewTimed(1, 10, 1, 100),
		ratings.NewTimed(2, 20, 2, 200),
	}
	data, err := os.ReadFile(writePack(t, MakeFlags(Timestamps, CompactUsers), in...))
	require.NoError(t, err)

	tests := []struct {
		name   string
		verify bool
		mutate func([]byte) []byte
	}{
		{"Empty", false, func(b []byte) []byte { return b[:0] }},
		{"HeaderOnly", false, func(b []byte) []byte { return b[:HeaderSize] }},
		{"Truncated", false, func(b []byte) []byte { return b[:len(b)-1] }},
		{"TrailingBytes", false, func(b []byte) []byte { return append(b, 0) }},
		{"FlagMismatch", false, func(b []byte) []byte {
			binary.LittleEndian.PutUint16(b[6:], MakeFlags(CompactUsers).Word())
			return b
		}},
		{"RankOutOfRange", true, func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[HeaderSize:], 7)
			return b
		}},
		{"TimestampsOutOfOrder", true, func(b []byte) []byte {
			// CompactUsers record: user(4) item(8) value(8) timestamp(8)
			binary.LittleEndian.PutUint64(b[HeaderSize+20:], math.MaxInt64)
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.mutate(slices.Clone(data))
			path := filepath.Join(t.TempDir(), "corrupt.rpk")
			require.NoError(t, os.WriteFile(path, b, 0o644))

			_, err := Open(path, WithVerify(tt.verify))
			require.Error(t, err)
			assert.True(t, IsCorrupt(err), "%+v", err)
		})
	}

	// 2 records of 28 bytes, then 2 user entries of 16 bytes
	userPositions := HeaderSize + 2*28 + 2*indexEntrySize
	bounds := []struct {
		name   string
		mutate func([]byte)
	}{
		{"RankOutOfRange", func(b []byte) { binary.LittleEndian.PutUint32(b[HeaderSize:], 7) }},
		{"PositionOutOfRange", func(b []byte) { binary.LittleEndian.PutUint32(b[userPositions:], 1000) }},
	}
	for _, tt := range bounds {
		t.Run("BoundsCheckedWithoutVerify/"+tt.name, func(t *testing.T) {
			b := slices.Clone(data)
			tt.mutate(b)
			_, err := FromBytes(b)
			require.Error(t, err)
			assert.True(t, IsCorrupt(err), "%+v", err)
		})
	}

	t.Run("OrderUncheckedWithoutVerify", func(t *testing.T) {
		b := slices.Clone(data)
		binary.LittleEndian.PutUint64(b[HeaderSize+20:], math.MaxInt64)
		s, err := FromBytes(b)
		require.NoError(t, err)
		assert.Equal(t, 2, s.Ratings().Len())
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "missing.rpk"))
		require.Error(t, err)
		assert.False(t, IsCorrupt(err))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestPackerLifecycle(t *testing.T) {
	t.Run("WriteAfterClose", func(t *testing.T) {
		p, err := Create(filepath.Join(t.TempDir(), "r.rpk"))
		require.NoError(t, err)
		require.NoError(t, p.Close())
		assert.NoError(t, p.Close())
		assert.Panics(t, func() { p.WriteRating(ratings.New(1, 2, 3)) })
		assert.Panics(t, func() { _ = p.WriteCursor(ratings.FromSlice(nil)) })
	})

	t.Run("NotVisibleUntilClose", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "r.rpk")
		p, err := Create(path, Timestamps)
		require.NoError(t, err)
		p.WriteRating(ratings.NewTimed(1, 2, 3, 4))
		p.WriteRating(ratings.NewTimed(1, 2, 5, 6))
		assert.Equal(t, 1, p.RatingCount())

		_, err = os.Stat(path)
		assert.ErrorIs(t, err, os.ErrNotExist)
		require.NoError(t, p.Close())
		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("Abort", func(t *testing.T) {
		dir := t.TempDir()
		p, err := Create(filepath.Join(dir, "r.rpk"))
		require.NoError(t, err)
		p.WriteRating(ratings.New(1, 2, 3))
		require.NoError(t, p.Abort())
		assert.NoError(t, p.Close())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("Cursor", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "r.rpk")
		p, err := Create(path, Timestamps)
		require.NoError(t, err)
		rs := []ratings.Rating{ratings.NewTimed(1, 2, 3, 4), ratings.NewTimed(2, 2, 1, 5)}
		require.NoError(t, p.WriteCursor(ratings.FromSlice(rs)))
		require.NoError(t, p.Close())

		s := openPack(t, path)
		assert.Equal(t, rs, s.Ratings().Slice())
	})

	t.Run("MissingDirectory", func(t *testing.T) {
		_, err := Create(filepath.Join(t.TempDir(), "nope", "r.rpk"))
		assert.Error(t, err)
	})
}

func TestConcurrentReads(t *testing.T) {
	var in []ratings.Rating
	for i := int64(0); i < 500; i++ {
		in = append(in, ratings.NewTimed(i%17, i%23, float64(i%5), i))
	}
	s := openPack(t, writePack(t, MakeFlags(Timestamps, CompactItems, CompactUsers), in...))
	want := s.Window(250).Ratings().Slice()

	var wg conc.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Go(func() {
			for u := range s.UserIDs().All() {
				l, ok := s.UserRatings(u)
				assert.True(t, ok)
				for v := range l.Fast() {
					assert.Equal(t, u, v.UserID())
				}
			}
			assert.Equal(t, want, s.Window(250).Ratings().Slice())
		})
	}
	wg.Wait()
}

func TestViewOutlivesRoot(t *testing.T) {
	in := []ratings.Rating{
		ratings.NewTimed(1, 10, 1, 100),
		ratings.NewTimed(2, 20, 2, 200),
		ratings.NewTimed(1, 30, 3, 300),
	}
	path := writePack(t, MakeFlags(Timestamps, CompactUsers), in...)
	s, err := Open(path)
	require.NoError(t, err)

	w := s.Window(250)
	nested := w.Window(150)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	// the root answers as empty once closed
	assert.Equal(t, 0, s.Ratings().Len())
	assert.Equal(t, 0, s.UserIDs().Len())
	_, ok := s.UserRatings(1)
	assert.False(t, ok)
	assert.Panics(t, func() { s.Window(1000) })

	// views keep the pack mapped
	assert.Equal(t, in[:2], w.Ratings().Slice())
	l, ok := w.UserRatings(1)
	require.True(t, ok)
	assert.Equal(t, in[:1], l.Slice())
	require.NoError(t, w.Close())

	assert.Equal(t, in[:1], nested.Ratings().Slice())
	assert.Equal(t, []int64{1}, nested.UserIDs().Slice())
	require.NoError(t, nested.Close())

	assert.Equal(t, 0, nested.Ratings().Len())
	_, ok = nested.ItemRatings(10)
	assert.False(t, ok)
	assert.Empty(t, slices.Collect(nested.Scan(ByItem)))
}

func TestMappingRefs(t *testing.T) {
	released := 0
	m := newMapping(func() error { released++; return nil })
	m.retain()

	last, err := m.unref()
	require.NoError(t, err)
	assert.False(t, last)
	assert.Equal(t, 0, released)

	last, err = m.unref()
	require.NoError(t, err)
	assert.True(t, last)
	assert.Equal(t, 1, released)
}
