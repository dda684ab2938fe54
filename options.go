package lla

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Options tune a VM instance. Zero values select the defaults.
type Options struct {
	// StackCapacity caps the operand stack depth.
	StackCapacity int `toml:"stack-capacity"`
	// FrameCapacity caps call nesting depth.
	FrameCapacity int `toml:"frame-capacity"`
	// GCThreshold is the initial allocation budget in bytes before the
	// first collection; it also acts as the threshold floor.
	GCThreshold int `toml:"gc-threshold"`
	// GCGrowthFactor scales the next threshold from the live size after a
	// sweep. Values below 1.25 fall back to the default.
	GCGrowthFactor float64 `toml:"gc-growth-factor"`
	// DebugChecks enables stack-balance verification on every return.
	DebugChecks bool `toml:"debug-checks"`
	// Trace prints every dispatched instruction to standard error.
	Trace bool `toml:"trace"`
}

// DefaultOptions returns the built-in defaults.
func DefaultOptions() Options {
	return Options{
		StackCapacity:  1024,
		FrameCapacity:  256,
		GCThreshold:    1 << 20,
		GCGrowthFactor: 2.0,
	}
}

// LoadOptions reads options from a TOML file (conventionally lla.toml),
// applying defaults for absent keys. A missing file returns the defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return opts, nil
	}
	if _, err := toml.DecodeFile(path, &opts); err != nil {
		return Options{}, fmt.Errorf("load options: %w", err)
	}
	if err := opts.validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func (o Options) validate() error {
	if o.StackCapacity < 0 {
		return fmt.Errorf("stack-capacity must not be negative, got %d", o.StackCapacity)
	}
	if o.FrameCapacity < 0 {
		return fmt.Errorf("frame-capacity must not be negative, got %d", o.FrameCapacity)
	}
	if o.GCThreshold < 0 {
		return fmt.Errorf("gc-threshold must not be negative, got %d", o.GCThreshold)
	}
	if o.GCGrowthFactor < 0 {
		return fmt.Errorf("gc-growth-factor must not be negative, got %g", o.GCGrowthFactor)
	}
	return nil
}
