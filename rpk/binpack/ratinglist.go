package binpack

import (
	"iter"

	"github.com/ZanzyTHEbar/packed-ratings/rpk/ratings"
)

// RatingList is a read-only sequence of ratings decoded on demand from the
// pack's rating section.
type RatingList struct {
	codec     Codec
	data      []byte
	positions PositionList
}

func (l RatingList) Len() int { return l.positions.Len() }

// Position returns the storage position of the i-th rating.
func (l RatingList) Position(i int) int { return l.positions.At(i) }

// Positions exposes the underlying position list.
func (l RatingList) Positions() PositionList { return l.positions }

func (l RatingList) record(pos int) []byte {
	size := l.codec.format.ratingSize
	return l.data[pos*size : (pos+1)*size]
}

// At decodes the i-th rating.
func (l RatingList) At(i int) ratings.Rating {
	return l.codec.Decode(l.record(l.positions.At(i)))
}

// All yields each rating as an independent value.
func (l RatingList) All() iter.Seq[ratings.Rating] {
	return func(yield func(ratings.Rating) bool) {
		for i := 0; i < l.Len(); i++ {
			if !yield(l.At(i)) {
				return
			}
		}
	}
}

// Fast decodes every rating into one shared RatingView. The view is
// overwritten when the loop advances; call Detach to keep a rating.
func (l RatingList) Fast() iter.Seq[*RatingView] {
	return func(yield func(*RatingView) bool) {
		v := &RatingView{}
		for i := 0; i < l.Len(); i++ {
			v.pos = l.positions.At(i)
			l.codec.DecodeInto(l.record(v.pos), &v.r)
			if !yield(v) {
				return
			}
		}
	}
}

// Slice decodes the whole list.
func (l RatingList) Slice() []ratings.Rating {
	out := make([]ratings.Rating, 0, l.Len())
	for r := range l.All() {
		out = append(out, r)
	}
	return out
}

// RatingView is the reusable element of RatingList.Fast.
type RatingView struct {
	r   ratings.Rating
	pos int
}

func (v *RatingView) Position() int          { return v.pos }
func (v *RatingView) UserID() int64          { return v.r.UserID }
func (v *RatingView) ItemID() int64          { return v.r.ItemID }
func (v *RatingView) Value() float64         { return v.r.Value }
func (v *RatingView) Timestamp() int64       { return v.r.Timestamp }
func (v *RatingView) Detach() ratings.Rating { return v.r }

// UserHistory is one user's visible ratings, in storage order.
type UserHistory struct {
	UserID  int64
	Ratings RatingList
}

// ItemRatings is one item's visible ratings, in storage order.
type ItemRatings struct {
	ItemID  int64
	Ratings RatingList
}
