package binpack

import (
	"encoding/binary"
	"math"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/packed-ratings/rpk/ratings"

	"github.com/cockroachdb/errors"
)

// Flag is one format option. Its value is its ordinal, which is also its bit
// index in the header flag word.
type Flag uint8

const (
	// Timestamps stores an 8-byte timestamp with every rating.
	Timestamps Flag = iota
	// CompactItems stores items as a 4-byte rank into the item index table.
	CompactItems
	// CompactUsers stores users as a 4-byte rank into the user index table.
	CompactUsers

	numFlags
)

var flagNames = [numFlags]string{"TIMESTAMPS", "COMPACT_ITEMS", "COMPACT_USERS"}

func (f Flag) String() string {
	if f < numFlags {
		return flagNames[f]
	}
	return "UNKNOWN"
}

// Flags is a set of format flags.
type Flags uint16

// MakeFlags builds a set from individual flags.
func MakeFlags(fs ...Flag) Flags {
	var s Flags
	for _, f := range fs {
		s |= 1 << f
	}
	return s
}

func (s Flags) Has(f Flag) bool { return s&(1<<f) != 0 }

// List returns the flags in ordinal order.
func (s Flags) List() []Flag {
	var out []Flag
	for f := Flag(0); f < numFlags; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Word packs the set into a header flag word: bit i is set iff the flag with
// ordinal i is present.
func (s Flags) Word() uint16 {
	var w uint16
	for _, f := range s.List() {
		w |= 1 << f
	}
	return w
}

func (s Flags) String() string {
	names := make([]string, 0, numFlags)
	for _, f := range s.List() {
		names = append(names, f.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// ParseFlagWord is the inverse of Flags.Word. Bits beyond the known flags are
// an error.
func ParseFlagWord(w uint16) (Flags, error) {
	var s Flags
	word := w
	for f := Flag(0); word != 0 && f < numFlags; f++ {
		if word&1 != 0 {
			s |= 1 << f
		}
		word >>= 1
	}
	if word != 0 {
		return 0, corruptErrorf("binpack: unparseable flag word %#x", w)
	}
	return s, nil
}

const (
	longSize   = 8
	intSize    = 4
	doubleSize = 8
)

// Format describes the fixed-width layout of one rating record.
type Format struct {
	flags      Flags
	userWidth  int
	itemWidth  int
	ratingSize int
}

// NewFormat derives the record layout from a flag set.
func NewFormat(flags Flags) Format {
	f := Format{flags: flags, userWidth: longSize, itemWidth: longSize}
	if flags.Has(CompactUsers) {
		f.userWidth = intSize
	}
	if flags.Has(CompactItems) {
		f.itemWidth = intSize
	}
	f.ratingSize = f.userWidth + f.itemWidth + doubleSize
	if flags.Has(Timestamps) {
		f.ratingSize += longSize
	}
	return f
}

func (f Format) Flags() Flags         { return f.flags }
func (f Format) HasTimestamps() bool  { return f.flags.Has(Timestamps) }
func (f Format) RatingSize() int      { return f.ratingSize }
func (f Format) String() string       { return "BinFormat" + f.flags.String() }
func (f Format) compactUsers() bool   { return f.flags.Has(CompactUsers) }
func (f Format) compactItems() bool   { return f.flags.Has(CompactItems) }
func (f Format) valueOffset() int     { return f.userWidth + f.itemWidth }
func (f Format) timestampOffset() int { return f.valueOffset() + doubleSize }

// IDTable resolves compact ranks to ids and back. Ranks index an ascending key
// column, so the index tables of a pack serve as their own id dictionaries.
type IDTable interface {
	Len() int
	KeyAt(rank int) int64
	// Rank returns the rank of id, or -1.
	Rank(id int64) int
}

// SortedIDs is an IDTable over an ascending id slice.
type SortedIDs []int64

func (s SortedIDs) Len() int             { return len(s) }
func (s SortedIDs) KeyAt(rank int) int64 { return s[rank] }
func (s SortedIDs) Rank(id int64) int {
	if i, ok := slices.BinarySearch(s, id); ok {
		return i
	}
	return -1
}

// Codec reads and writes rating records of one format. Reads are pure
// functions of the source bytes, so decoding the same region twice always
// yields the same rating.
type Codec struct {
	format Format
	users  IDTable
	items  IDTable
}

// NewCodec returns a codec for format. The id tables are only consulted for
// compact fields and must be present when the format uses them.
func NewCodec(format Format, users, items IDTable) (Codec, error) {
	if format.compactUsers() && users == nil {
		return Codec{}, errors.New("binpack: compact users need a user id table")
	}
	if format.compactItems() && items == nil {
		return Codec{}, errors.New("binpack: compact items need an item id table")
	}
	return Codec{format: format, users: users, items: items}, nil
}

func (c Codec) Format() Format { return c.format }

// Encode writes r into dst, which must hold at least RatingSize bytes.
func (c Codec) Encode(dst []byte, r ratings.Rating) error {
	dst = dst[:c.format.ratingSize]
	if err := putID(dst, r.UserID, c.format.compactUsers(), c.users, "user"); err != nil {
		return err
	}
	if err := putID(dst[c.format.userWidth:], r.ItemID, c.format.compactItems(), c.items, "item"); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(dst[c.format.valueOffset():], math.Float64bits(r.Value))
	if c.format.HasTimestamps() {
		binary.LittleEndian.PutUint64(dst[c.format.timestampOffset():], uint64(r.Timestamp))
	}
	return nil
}

func putID(dst []byte, id int64, compact bool, table IDTable, kind string) error {
	if !compact {
		binary.LittleEndian.PutUint64(dst, uint64(id))
		return nil
	}
	rank := table.Rank(id)
	if rank < 0 {
		return errors.Newf("binpack: %s %d missing from id table", kind, id)
	}
	binary.LittleEndian.PutUint32(dst, uint32(rank))
	return nil
}

// Decode reads the rating stored at the start of src.
func (c Codec) Decode(src []byte) ratings.Rating {
	var r ratings.Rating
	c.DecodeInto(src, &r)
	return r
}

// DecodeInto reads the rating at the start of src into r.
func (c Codec) DecodeInto(src []byte, r *ratings.Rating) {
	src = src[:c.format.ratingSize]
	r.UserID = c.decodeUser(src)
	r.ItemID = c.decodeItem(src)
	r.Value = math.Float64frombits(binary.LittleEndian.Uint64(src[c.format.valueOffset():]))
	r.Timestamp = c.decodeTimestamp(src)
}

func (c Codec) decodeUser(src []byte) int64 {
	if c.format.compactUsers() {
		return c.users.KeyAt(int(binary.LittleEndian.Uint32(src)))
	}
	return int64(binary.LittleEndian.Uint64(src))
}

func (c Codec) decodeItem(src []byte) int64 {
	src = src[c.format.userWidth:]
	if c.format.compactItems() {
		return c.items.KeyAt(int(binary.LittleEndian.Uint32(src)))
	}
	return int64(binary.LittleEndian.Uint64(src))
}

func (c Codec) decodeTimestamp(src []byte) int64 {
	if !c.format.HasTimestamps() {
		return ratings.NoTimestamp
	}
	return int64(binary.LittleEndian.Uint64(src[c.format.timestampOffset():]))
}

// checkRanks reports compact ranks that point outside their id table.
func (c Codec) checkRanks(src []byte) error {
	if c.format.compactUsers() {
		if rank := int(binary.LittleEndian.Uint32(src)); rank >= c.users.Len() {
			return corruptErrorf("binpack: user rank %d out of range [0, %d)", rank, c.users.Len())
		}
	}
	if c.format.compactItems() {
		if rank := int(binary.LittleEndian.Uint32(src[c.format.userWidth:])); rank >= c.items.Len() {
			return corruptErrorf("binpack: item rank %d out of range [0, %d)", rank, c.items.Len())
		}
	}
	return nil
}
