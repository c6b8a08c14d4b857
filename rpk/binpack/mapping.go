package binpack

import "sync/atomic"

// mapping is the pack bytes shared by a store and its windowed views. Each
// holder owns one reference; the last unref releases the bytes.
type mapping struct {
	refs    atomic.Int32
	release func() error
}

func newMapping(release func() error) *mapping {
	m := &mapping{release: release}
	m.refs.Store(1)
	return m
}

func (m *mapping) retain() { m.refs.Add(1) }

// unref drops one reference and reports whether it was the last.
func (m *mapping) unref() (bool, error) {
	if m.refs.Add(-1) > 0 {
		return false, nil
	}
	if m.release == nil {
		return true, nil
	}
	return true, m.release()
}

// emptyIndexTable stands in for the tables of a closed store.
var emptyIndexTable = &IndexTable{}
