package binpack

import "github.com/cockroachdb/errors"

// ErrCorrupt marks a pack file that cannot be decoded: bad magic, unknown
// format flags, truncation, or tables that disagree with the header.
var ErrCorrupt = errors.New("binpack: corrupt rating pack")

// corruptErrorf returns an error marked with ErrCorrupt.
func corruptErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorrupt)
}

// IsCorrupt reports whether err was caused by malformed pack data.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}
