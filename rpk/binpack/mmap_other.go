//go:build !unix

package binpack

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// mapFile reads the file into memory where mmap is unavailable.
func mapFile(f *os.File, size int64) ([]byte, func() error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, errors.Wrapf(err, "read %s", f.Name())
	}
	return data, func() error { return nil }, nil
}
