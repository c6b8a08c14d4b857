package binpack

import (
	internal "github.com/ZanzyTHEbar/packed-ratings/rpk"

	"github.com/rs/zerolog"
)

type openOptions struct {
	verify bool
	logger zerolog.Logger
}

// OpenOption configures Open and FromBytes.
type OpenOption func(*openOptions)

// WithVerify also checks at open time that ratings are stored in timestamp
// order. Position lists and compact ranks are always bounds checked.
func WithVerify(verify bool) OpenOption {
	return func(o *openOptions) { o.verify = verify }
}

// WithLogger sets the logger used for open and close events.
func WithLogger(l zerolog.Logger) OpenOption {
	return func(o *openOptions) { o.logger = l }
}

func resolveOpenOptions(opts []OpenOption) openOptions {
	o := openOptions{logger: internal.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
