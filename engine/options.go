package engine

import (
	"time"

	"fogmask/maskop"
)

// Options configures an Engine.
type Options struct {
	// BlankFill is painted over the whole surface by Reset and by replays
	// that rewind.
	BlankFill maskop.Fill

	// DefaultFill is shown when the scene has no persisted history at all.
	DefaultFill maskop.Fill

	// OptimisticCommit makes Commit swap the persisted log atomically and
	// rebase on top of concurrent writers instead of overwriting them.
	// Requires a transport implementing transport.Swapper.
	OptimisticCommit bool

	// MaxRetries bounds the swap attempts of an optimistic commit.
	MaxRetries int

	// RetryDelay is the initial delay between swap attempts. It doubles on
	// each retry up to MaxRetryDelay.
	RetryDelay time.Duration

	// MaxRetryDelay caps the delay between swap attempts.
	MaxRetryDelay time.Duration
}

// DefaultOptions returns the default engine options.
func DefaultOptions() *Options {
	return &Options{
		BlankFill:     maskop.FillFogged,
		DefaultFill:   maskop.FillFogged,
		MaxRetries:    5,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: 500 * time.Millisecond,
	}
}

// Option mutates Options.
type Option func(*Options)

// WithBlankFill sets the fill used by Reset.
func WithBlankFill(f maskop.Fill) Option {
	return func(o *Options) {
		o.BlankFill = f
	}
}

// WithDefaultFill sets what a scene without history looks like.
func WithDefaultFill(f maskop.Fill) Option {
	return func(o *Options) {
		o.DefaultFill = f
	}
}

// WithOptimisticCommit enables compare-and-swap commits.
func WithOptimisticCommit() Option {
	return func(o *Options) {
		o.OptimisticCommit = true
	}
}

func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) {
		o.RetryDelay = d
	}
}

func WithMaxRetryDelay(d time.Duration) Option {
	return func(o *Options) {
		o.MaxRetryDelay = d
	}
}
