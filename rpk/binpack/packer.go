package binpack

import (
	"bufio"
	"cmp"
	"os"
	"path/filepath"
	"slices"
	"time"

	internal "github.com/ZanzyTHEbar/packed-ratings/rpk"
	"github.com/ZanzyTHEbar/packed-ratings/rpk/indexing"
	"github.com/ZanzyTHEbar/packed-ratings/rpk/ratings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Options configures a Packer.
type Options struct {
	Flags Flags
	// SizeHint presizes the packing buffers; zero or negative means unknown.
	SizeHint int
	Logger   *zerolog.Logger
}

// Packer accumulates ratings and writes them as a pack file on Close.
// Ratings are deduplicated as they arrive. The file appears at its final path
// only once it is complete. A Packer is not safe for concurrent use.
type Packer struct {
	path    string
	tmp     *os.File
	format  Format
	builder *indexing.Builder
	log     zerolog.Logger
	closed  bool
}

// Create starts a pack at path with the given flags.
func Create(path string, flags ...Flag) (*Packer, error) {
	return CreateWithOptions(path, Options{Flags: MakeFlags(flags...)})
}

// CreateWithOptions starts a pack at path. The output is staged in a
// temporary file next to path.
func CreateWithOptions(path string, opts Options) (*Packer, error) {
	log := internal.GetLogger()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, errors.Wrapf(err, "binpack: create %s", path)
	}
	hint := opts.SizeHint
	if hint <= 0 {
		hint = -1
	}
	return &Packer{
		path:    path,
		tmp:     tmp,
		format:  NewFormat(opts.Flags),
		builder: indexing.NewBuilder(hint),
		log:     log,
	}, nil
}

func (p *Packer) Format() Format { return p.format }

// RatingCount returns the number of distinct (user, item) pairs written so
// far.
func (p *Packer) RatingCount() int { return p.builder.Len() }

// WriteRating adds one rating. It panics once the packer is closed.
func (p *Packer) WriteRating(r ratings.Rating) {
	if p.closed {
		panic(errors.AssertionFailedf("binpack: write to closed packer for %s", p.path))
	}
	p.builder.Add(r)
}

func (p *Packer) WriteRatings(rs ...ratings.Rating) {
	for _, r := range rs {
		p.WriteRating(r)
	}
}

// WriteCursor drains c into the packer and closes it.
func (p *Packer) WriteCursor(c ratings.Cursor) error {
	if p.closed {
		panic(errors.AssertionFailedf("binpack: write to closed packer for %s", p.path))
	}
	return p.builder.AddAll(c)
}

// Abort discards the pack. It is a no-op after Close.
func (p *Packer) Abort() error {
	if p.closed {
		return nil
	}
	p.closed = true
	name := p.tmp.Name()
	_ = p.tmp.Close()
	return errors.Wrap(os.Remove(name), "binpack: abort")
}

// Close writes the pack and moves it into place. Calling Close again does
// nothing.
func (p *Packer) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	start := time.Now()

	h, err := p.write()
	name := p.tmp.Name()
	if cerr := p.tmp.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "binpack: close")
	}
	if err == nil {
		err = errors.Wrap(os.Rename(name, p.path), "binpack: rename")
	}
	if err != nil {
		_ = os.Remove(name)
		return errors.Wrapf(err, "binpack: writing %s", p.path)
	}

	p.log.Info().
		Str("path", p.path).
		Stringer("id", h.ID).
		Stringer("format", h.Format).
		Int("ratings", h.RatingCount).
		Int("users", h.UserCount).
		Int("items", h.ItemCount).
		Dur("took", time.Since(start)).
		Msg("wrote rating pack")
	return nil
}

// idColumn is one side (users or items) of a pack being written.
type idColumn struct {
	dense []int32
	index *indexing.IDIndex

	keys  SortedIDs
	table *IndexTableWriter
}

// build sorts the ids and groups the positions of each, ascending.
func (c *idColumn) build() error {
	n := c.index.Len()
	lists := indexing.GroupPositions(c.dense, n)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int { return cmp.Compare(c.index.ID(a), c.index.ID(b)) })

	c.keys = make(SortedIDs, n)
	c.table = NewIndexTableWriter(n)
	for rank, d := range order {
		c.keys[rank] = c.index.ID(d)
		if err := c.table.Add(c.keys[rank], lists[d]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Packer) write() (Header, error) {
	packed := p.builder.Build()
	n := packed.Len()

	order := p.storageOrder(packed)
	users := &idColumn{dense: permute(packed.Users, order), index: packed.UserIndex}
	items := &idColumn{dense: permute(packed.Items, order), index: packed.ItemIndex}

	g := pool.New().WithErrors()
	g.Go(users.build)
	g.Go(items.build)
	if err := g.Wait(); err != nil {
		return Header{}, err
	}

	codec, err := NewCodec(p.format, users.keys, items.keys)
	if err != nil {
		return Header{}, err
	}
	h := Header{
		Format:      p.format,
		RatingCount: n,
		UserCount:   users.index.Len(),
		ItemCount:   items.index.Len(),
		ID:          uuid.New(),
	}

	w := bufio.NewWriter(p.tmp)
	var hdr [HeaderSize]byte
	h.encode(hdr[:])
	if _, err := w.Write(hdr[:]); err != nil {
		return Header{}, err
	}
	rec := make([]byte, p.format.RatingSize())
	for j := 0; j < n; j++ {
		pos := j
		if order != nil {
			pos = int(order[j])
		}
		if err := codec.Encode(rec, packed.Rating(pos)); err != nil {
			return Header{}, err
		}
		if _, err := w.Write(rec); err != nil {
			return Header{}, err
		}
	}
	if _, err := users.table.WriteTo(w); err != nil {
		return Header{}, errors.Wrap(err, "user table")
	}
	if _, err := items.table.WriteTo(w); err != nil {
		return Header{}, errors.Wrap(err, "item table")
	}
	if err := w.Flush(); err != nil {
		return Header{}, err
	}
	if err := p.tmp.Sync(); err != nil {
		return Header{}, errors.Wrap(err, "binpack: sync")
	}
	return h, nil
}

// storageOrder returns the permutation that puts the packed ratings in
// timestamp order, or nil when they already are. Ties keep arrival order.
func (p *Packer) storageOrder(packed *indexing.Packed) []int32 {
	if !p.format.HasTimestamps() || !packed.HasTimestamps() {
		return nil
	}
	if slices.IsSorted(packed.Timestamps) {
		return nil
	}
	order := make([]int32, packed.Len())
	for i := range order {
		order[i] = int32(i)
	}
	slices.SortStableFunc(order, func(a, b int32) int {
		return cmp.Compare(packed.Timestamps[a], packed.Timestamps[b])
	})
	p.log.Debug().Int("ratings", len(order)).Msg("reordered ratings by timestamp")
	return order
}

func permute(column []int32, order []int32) []int32 {
	if order == nil {
		return column
	}
	out := make([]int32, len(column))
	for j, pos := range order {
		out[j] = column[pos]
	}
	return out
}
