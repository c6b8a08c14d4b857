package indexing

import (
	"iter"

	roaring "github.com/RoaringBitmap/roaring"
)

// RankSet is a set of dense ranks (positions in a sorted key column) backed by
// a roaring bitmap.
type RankSet struct {
	bm *roaring.Bitmap
}

// NewRankSet returns an empty set.
func NewRankSet() *RankSet {
	return &RankSet{bm: roaring.New()}
}

func (s *RankSet) Add(rank int) {
	s.bm.Add(uint32(rank))
}

func (s *RankSet) Contains(rank int) bool {
	return s.bm.Contains(uint32(rank))
}

func (s *RankSet) Len() int {
	return int(s.bm.GetCardinality())
}

// All yields ranks in ascending order.
func (s *RankSet) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		it := s.bm.Iterator()
		for it.HasNext() {
			if !yield(int(it.Next())) {
				return
			}
		}
	}
}

// And returns the intersection of s and o as a new set.
func (s *RankSet) And(o *RankSet) *RankSet {
	return &RankSet{bm: roaring.And(s.bm, o.bm)}
}

// Optimize compacts the bitmap once it is fully built.
func (s *RankSet) Optimize() {
	s.bm.RunOptimize()
}
