package binpack

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"
)

// Pack file layout (little-endian):
//
//	[magic "RPAK"] [u16 version] [u16 flag word]
//	[u32 ratings] [u32 users] [u32 items] [u32 reserved] [16-byte pack id]
//	ratings     ratingCount fixed-width records, timestamp order
//	user table  index table over ascending user ids
//	item table  index table over ascending item ids
const (
	headerMagic   = "RPAK"
	formatVersion = 1
	HeaderSize    = 40
)

// Header describes a pack file.
type Header struct {
	Format      Format
	RatingCount int
	UserCount   int
	ItemCount   int
	ID          uuid.UUID
}

func (h Header) ratingDataSize() int64 {
	return int64(h.RatingCount) * int64(h.Format.RatingSize())
}

// FileSize is the exact size of a well-formed pack with this header.
func (h Header) FileSize() int64 {
	return HeaderSize + h.ratingDataSize() +
		indexTableSize(h.UserCount, h.RatingCount) +
		indexTableSize(h.ItemCount, h.RatingCount)
}

func (h Header) encode(dst []byte) {
	dst = dst[:HeaderSize]
	copy(dst, headerMagic)
	binary.LittleEndian.PutUint16(dst[4:], formatVersion)
	binary.LittleEndian.PutUint16(dst[6:], h.Format.Flags().Word())
	binary.LittleEndian.PutUint32(dst[8:], uint32(h.RatingCount))
	binary.LittleEndian.PutUint32(dst[12:], uint32(h.UserCount))
	binary.LittleEndian.PutUint32(dst[16:], uint32(h.ItemCount))
	binary.LittleEndian.PutUint32(dst[20:], 0)
	copy(dst[24:], h.ID[:])
}

func decodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, corruptErrorf("binpack: truncated header (%d bytes)", len(src))
	}
	if string(src[:4]) != headerMagic {
		return Header{}, corruptErrorf("binpack: bad magic %q", src[:4])
	}
	if v := binary.LittleEndian.Uint16(src[4:]); v != formatVersion {
		return Header{}, corruptErrorf("binpack: unsupported format version %d", v)
	}
	flags, err := ParseFlagWord(binary.LittleEndian.Uint16(src[6:]))
	if err != nil {
		return Header{}, err
	}
	h := Header{
		Format:      NewFormat(flags),
		RatingCount: int(binary.LittleEndian.Uint32(src[8:])),
		UserCount:   int(binary.LittleEndian.Uint32(src[12:])),
		ItemCount:   int(binary.LittleEndian.Uint32(src[16:])),
	}
	if h.RatingCount > math.MaxInt32 {
		return Header{}, corruptErrorf("binpack: rating count %d exceeds position range", h.RatingCount)
	}
	if h.UserCount > h.RatingCount || h.ItemCount > h.RatingCount {
		return Header{}, corruptErrorf("binpack: %d users and %d items cannot come from %d ratings",
			h.UserCount, h.ItemCount, h.RatingCount)
	}
	copy(h.ID[:], src[24:HeaderSize])
	return h, nil
}
