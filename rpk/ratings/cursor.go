package ratings

// Cursor is a closable, forward-only stream of ratings. It is the only shape
// of input the packers accept.
//
//	for c.Next() {
//		r := c.Rating()
//		...
//	}
//	if err := c.Err(); err != nil { ... }
type Cursor interface {
	// Next advances to the next rating and reports whether one is available.
	Next() bool
	// Rating returns the current rating. Only valid after Next returned true.
	Rating() Rating
	// Err returns the first error hit while advancing, if any.
	Err() error
	// RowCount is a size hint; negative when unknown.
	RowCount() int
	Close() error
}

type sliceCursor struct {
	rs  []Rating
	pos int
}

// FromSlice returns a cursor over rs.
func FromSlice(rs []Rating) Cursor {
	return &sliceCursor{rs: rs, pos: -1}
}

func (c *sliceCursor) Next() bool {
	if c.pos+1 >= len(c.rs) {
		c.pos = len(c.rs)
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Rating() Rating { return c.rs[c.pos] }
func (c *sliceCursor) Err() error     { return nil }
func (c *sliceCursor) RowCount() int  { return len(c.rs) }
func (c *sliceCursor) Close() error   { return nil }

// Collect drains and closes c.
func Collect(c Cursor) ([]Rating, error) {
	defer c.Close()
	var out []Rating
	if n := c.RowCount(); n > 0 {
		out = make([]Rating, 0, n)
	}
	for c.Next() {
		out = append(out, c.Rating())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
