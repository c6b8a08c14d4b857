package binpack

import (
	"bufio"
	"encoding/binary"
	"io"
	"iter"
	"sort"

	"github.com/cockroachdb/errors"
)

// An index table maps each key to its position list:
//
//	n entries of [i64 key] [u32 offset] [u32 count], ascending by key
//	the position lists, concatenated; offset counts positions, not bytes
const indexEntrySize = longSize + 2*intSize

func indexTableSize(keys, positions int) int64 {
	return int64(keys)*indexEntrySize + int64(positions)*positionSize
}

// IndexTableWriter serializes an index table. Entries must be added in
// strictly increasing key order.
type IndexTableWriter struct {
	n     int
	keys  []int64
	lists [][]int32
	total int
}

// NewIndexTableWriter returns a writer expecting exactly n keys.
func NewIndexTableWriter(n int) *IndexTableWriter {
	return &IndexTableWriter{n: n, keys: make([]int64, 0, n), lists: make([][]int32, 0, n)}
}

// Add records the positions for key. The slice is retained until WriteTo.
func (w *IndexTableWriter) Add(key int64, positions []int32) error {
	if len(w.keys) == w.n {
		return errors.Newf("binpack: index table already holds %d keys", w.n)
	}
	if k := len(w.keys); k > 0 && key <= w.keys[k-1] {
		return errors.Newf("binpack: index key %d added after %d", key, w.keys[k-1])
	}
	w.keys = append(w.keys, key)
	w.lists = append(w.lists, positions)
	w.total += len(positions)
	return nil
}

// Size returns the encoded size of the table.
func (w *IndexTableWriter) Size() int64 { return indexTableSize(len(w.keys), w.total) }

// WriteTo writes the table. It fails unless exactly n keys were added.
func (w *IndexTableWriter) WriteTo(out io.Writer) (int64, error) {
	if len(w.keys) != w.n {
		return 0, errors.Newf("binpack: index table expects %d keys, got %d", w.n, len(w.keys))
	}
	bw := bufio.NewWriter(out)
	var entry [indexEntrySize]byte
	offset := 0
	for i, key := range w.keys {
		binary.LittleEndian.PutUint64(entry[0:], uint64(key))
		binary.LittleEndian.PutUint32(entry[8:], uint32(offset))
		binary.LittleEndian.PutUint32(entry[12:], uint32(len(w.lists[i])))
		if _, err := bw.Write(entry[:]); err != nil {
			return 0, err
		}
		offset += len(w.lists[i])
	}
	var pos [positionSize]byte
	for _, list := range w.lists {
		for _, p := range list {
			binary.LittleEndian.PutUint32(pos[:], uint32(p))
			if _, err := bw.Write(pos[:]); err != nil {
				return 0, err
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return w.Size(), nil
}

// IndexTable is a read view over a serialized index table. It holds no heap
// copy of keys or positions.
type IndexTable struct {
	entries   []byte
	positions []byte
	n         int
}

// ParseIndexTable reads a table of n keys from the start of buf and returns
// it together with the bytes that follow it.
func ParseIndexTable(n int, buf []byte) (*IndexTable, []byte, error) {
	entrySize := int64(n) * indexEntrySize
	if n < 0 || entrySize > int64(len(buf)) {
		return nil, nil, corruptErrorf("binpack: index table of %d keys truncated (%d bytes)", n, len(buf))
	}
	t := &IndexTable{entries: buf[:entrySize], n: n}
	total := 0
	for i := 0; i < n; i++ {
		if i > 0 && t.KeyAt(i) <= t.KeyAt(i-1) {
			return nil, nil, corruptErrorf("binpack: index keys out of order at %d", i)
		}
		off, count := t.span(i)
		if off != total {
			return nil, nil, corruptErrorf("binpack: index entry %d at offset %d, expected %d", i, off, total)
		}
		total += count
	}
	rest := buf[entrySize:]
	if int64(total)*positionSize > int64(len(rest)) {
		return nil, nil, corruptErrorf("binpack: index positions truncated (%d positions, %d bytes)", total, len(rest))
	}
	t.positions = rest[:total*positionSize]
	return t, rest[total*positionSize:], nil
}

func (t *IndexTable) span(rank int) (offset, count int) {
	e := t.entries[rank*indexEntrySize:]
	return int(binary.LittleEndian.Uint32(e[8:])), int(binary.LittleEndian.Uint32(e[12:]))
}

// Len returns the number of keys.
func (t *IndexTable) Len() int { return t.n }

// TotalPositions returns the summed length of all position lists.
func (t *IndexTable) TotalPositions() int { return len(t.positions) / positionSize }

// KeyAt returns the key with the given rank.
func (t *IndexTable) KeyAt(rank int) int64 {
	return int64(binary.LittleEndian.Uint64(t.entries[rank*indexEntrySize:]))
}

// Rank returns the rank of key, or -1.
func (t *IndexTable) Rank(key int64) int {
	i := sort.Search(t.n, func(i int) bool { return t.KeyAt(i) >= key })
	if i < t.n && t.KeyAt(i) == key {
		return i
	}
	return -1
}

// Keys yields the keys in ascending order.
func (t *IndexTable) Keys() iter.Seq[int64] {
	return func(yield func(int64) bool) {
		for i := 0; i < t.n; i++ {
			if !yield(t.KeyAt(i)) {
				return
			}
		}
	}
}

// Entry returns the positions recorded for key. A missing key reports false,
// which is distinct from a present key with an empty list.
func (t *IndexTable) Entry(key int64) (PositionList, bool) {
	rank := t.Rank(key)
	if rank < 0 {
		return PositionList{}, false
	}
	return t.EntryAt(rank), true
}

// EntryAt returns the positions of the key with the given rank.
func (t *IndexTable) EntryAt(rank int) PositionList {
	off, count := t.span(rank)
	return positionView(t.positions[off*positionSize : (off+count)*positionSize])
}

// Verify checks that every list is strictly ascending and below limit.
func (t *IndexTable) Verify(limit int) error {
	for rank := 0; rank < t.n; rank++ {
		prev := -1
		for p := range t.EntryAt(rank).All() {
			if p <= prev || p >= limit {
				return corruptErrorf("binpack: key %d has position %d after %d (limit %d)",
					t.KeyAt(rank), p, prev, limit)
			}
			prev = p
		}
	}
	return nil
}

var _ IDTable = (*IndexTable)(nil)
