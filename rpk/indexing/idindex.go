package indexing

import "github.com/cockroachdb/errors"

// IDIndex is a bidirectional mapping between external 64-bit ids and dense
// 0-based indexes, assigned in order of first appearance. Indexes are never
// renumbered and nothing is ever removed.
type IDIndex struct {
	idToIndex map[int64]int
	ids       []int64
}

// NewIDIndex returns an empty index presized for about n ids.
func NewIDIndex(n int) *IDIndex {
	if n < 0 {
		n = 0
	}
	return &IDIndex{idToIndex: make(map[int64]int, n), ids: make([]int64, 0, n)}
}

// Intern returns the index of id, assigning the next one if id is new.
func (x *IDIndex) Intern(id int64) int {
	if idx, ok := x.idToIndex[id]; ok {
		return idx
	}
	idx := len(x.ids)
	x.idToIndex[id] = idx
	x.ids = append(x.ids, id)
	return idx
}

// Index returns the index of id, or -1.
func (x *IDIndex) Index(id int64) int {
	if idx, ok := x.idToIndex[id]; ok {
		return idx
	}
	return -1
}

// ID returns the id at index. An out-of-range index is a programming error.
func (x *IDIndex) ID(index int) int64 {
	if index < 0 || index >= len(x.ids) {
		panic(errors.AssertionFailedf("indexing: id index %d out of range [0, %d)", index, len(x.ids)))
	}
	return x.ids[index]
}

func (x *IDIndex) Len() int { return len(x.ids) }

// IDs returns the ids in index order. The slice is shared; do not modify.
func (x *IDIndex) IDs() []int64 { return x.ids }

func (x *IDIndex) trim() {
	if cap(x.ids) > len(x.ids) {
		x.ids = append([]int64(nil), x.ids...)
	}
}
