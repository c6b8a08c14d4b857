package binpack

import (
	internal "github.com/ZanzyTHEbar/packed-ratings/rpk"
	"github.com/ZanzyTHEbar/packed-ratings/rpk/config"
)

// FlagsFromConfig maps the pack settings onto format flags.
func FlagsFromConfig(c config.PackConfig) Flags {
	var fs []Flag
	if c.Timestamps {
		fs = append(fs, Timestamps)
	}
	if c.CompactItems {
		fs = append(fs, CompactItems)
	}
	if c.CompactUsers {
		fs = append(fs, CompactUsers)
	}
	return MakeFlags(fs...)
}

// CreateFromConfig starts a pack at the configured output path.
func CreateFromConfig(c *config.Config) (*Packer, error) {
	log := internal.NewLogger(c.Log.Level)
	return CreateWithOptions(c.Pack.OutputPath, Options{
		Flags:    FlagsFromConfig(c.Pack),
		SizeHint: c.Pack.SizeHint,
		Logger:   &log,
	})
}

// OpenFromConfig opens the configured store.
func OpenFromConfig(c *config.Config) (*Store, error) {
	return Open(c.Store.Path,
		WithVerify(c.Store.Verify),
		WithLogger(internal.NewLogger(c.Log.Level)))
}
