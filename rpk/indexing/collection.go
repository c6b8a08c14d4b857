package indexing

import (
	"iter"

	"github.com/ZanzyTHEbar/packed-ratings/rpk/ratings"
)

// IndexedRating is a rating together with its storage position and dense
// user and item indexes. It is a plain value and safe to retain.
type IndexedRating struct {
	ratings.Rating
	Position  int
	UserIndex int
	ItemIndex int
}

// Collection is a read-only sequence of packed ratings, either all of them or
// those at a list of positions.
type Collection struct {
	data      *Packed
	positions []int32 // nil selects positions [0, n)
	n         int
}

func (c Collection) Len() int { return c.n }

func (c Collection) position(i int) int {
	if c.positions == nil {
		return i
	}
	return int(c.positions[i])
}

// At returns the i-th rating of the collection.
func (c Collection) At(i int) IndexedRating {
	return c.data.indexed(c.position(i))
}

// All yields an independent value per rating.
func (c Collection) All() iter.Seq[IndexedRating] {
	return func(yield func(IndexedRating) bool) {
		for i := 0; i < c.n; i++ {
			if !yield(c.At(i)) {
				return
			}
		}
	}
}

// Fast yields a single RatingView that is moved to each rating in turn. The
// view is only valid until the loop advances; call Detach to keep a rating.
func (c Collection) Fast() iter.Seq[*RatingView] {
	return func(yield func(*RatingView) bool) {
		v := &RatingView{data: c.data}
		for i := 0; i < c.n; i++ {
			v.pos = c.position(i)
			if !yield(v) {
				return
			}
		}
	}
}

// RatingView is a flyweight over one position of the packed columns.
type RatingView struct {
	data *Packed
	pos  int
}

func (v *RatingView) Position() int    { return v.pos }
func (v *RatingView) UserIndex() int   { return int(v.data.Users[v.pos]) }
func (v *RatingView) ItemIndex() int   { return int(v.data.Items[v.pos]) }
func (v *RatingView) UserID() int64    { return v.data.UserIndex.ID(v.UserIndex()) }
func (v *RatingView) ItemID() int64    { return v.data.ItemIndex.ID(v.ItemIndex()) }
func (v *RatingView) Value() float64   { return v.data.Values[v.pos] }
func (v *RatingView) Timestamp() int64 { return v.data.Timestamp(v.pos) }

// Detach copies the current rating out of the view.
func (v *RatingView) Detach() IndexedRating { return v.data.indexed(v.pos) }
