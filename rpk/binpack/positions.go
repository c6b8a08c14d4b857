package binpack

import (
	"encoding/binary"
	"iter"
	"sort"
)

const positionSize = 4

// PositionList is a read-only, ascending list of rating positions. It either
// aliases a run of u32 values inside a mapped index table or, with no backing
// bytes, stands for the identity range [0, Len).
type PositionList struct {
	data []byte
	n    int
}

func positionRange(n int) PositionList { return PositionList{n: n} }

func positionView(data []byte) PositionList {
	return PositionList{data: data, n: len(data) / positionSize}
}

func (l PositionList) Len() int { return l.n }

// At returns the i-th position.
func (l PositionList) At(i int) int {
	if l.data == nil {
		if i < 0 || i >= l.n {
			panic("binpack: position index out of range")
		}
		return i
	}
	return int(binary.LittleEndian.Uint32(l.data[i*positionSize:]))
}

// All yields the positions in ascending order.
func (l PositionList) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := 0; i < l.n; i++ {
			if !yield(l.At(i)) {
				return
			}
		}
	}
}

// Prefix returns the first n positions, sharing the same bytes.
func (l PositionList) Prefix(n int) PositionList {
	if n >= l.n {
		return l
	}
	if l.data == nil {
		return positionRange(n)
	}
	return positionView(l.data[:n*positionSize])
}

// CountBelow returns how many positions are less than limit.
func (l PositionList) CountBelow(limit int) int {
	return sort.Search(l.n, func(i int) bool { return l.At(i) >= limit })
}

// AppendTo appends the positions to dst.
func (l PositionList) AppendTo(dst []int) []int {
	for p := range l.All() {
		dst = append(dst, p)
	}
	return dst
}
