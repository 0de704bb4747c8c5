// Package config reads the runtime tunables the core tables need
// (fixed capacities, trace verbosity) from the environment, using
// github.com/xyproto/env/v2 for both the integer capacities and the
// boolean toggles.
package config

import (
	env "github.com/xyproto/env/v2"
)

// Defaults size the fixed tables for a small working set of 16-bit
// DLLs: a module table for that working set, a handful of forward
// dependency edges per module, and a stub table
// generous enough to hold every unresolved KERNEL/USER/GDI import a
// compatibility pass is likely to hit before real implementations land.
const (
	DefaultMaxModules    = 256
	DefaultMaxDeps       = 16
	DefaultMaxStubs      = 1024
	DefaultMaxNameLength = 8
)

// Config holds every environment-overridable limit used by the core
// tables and the CLI driver.
type Config struct {
	MaxModules int
	MaxDeps    int
	MaxStubs   int
	Verbose    bool
	JSONLog    bool
}

// FromEnv builds a Config from environment variables, falling back to
// the package defaults when a variable is unset or unparsable.
//
//	NE16_MAX_MODULES  int  (default 256)
//	NE16_MAX_DEPS     int  (default 16)
//	NE16_MAX_STUBS    int  (default 1024)
//	NE16_VERBOSE      bool (default false)
//	NE16_JSON_LOG     bool (default false)
func FromEnv() Config {
	return Config{
		MaxModules: intOr("NE16_MAX_MODULES", DefaultMaxModules),
		MaxDeps:    intOr("NE16_MAX_DEPS", DefaultMaxDeps),
		MaxStubs:   intOr("NE16_MAX_STUBS", DefaultMaxStubs),
		// env.Bool treats "1", "true", and "yes" (case-insensitive) as true.
		Verbose: env.Bool("NE16_VERBOSE"),
		JSONLog: env.Bool("NE16_JSON_LOG"),
	}
}

// intOr parses a positive integer environment variable via env.Int,
// falling back to def when the variable is unset, unparsable, or not
// positive (env.Int itself only guarantees def on the first two).
func intOr(key string, def int) int {
	n := env.Int(key, def)
	if n <= 0 {
		return def
	}
	return n
}

// Default returns the package defaults without consulting the
// environment, for callers (tests, library embedders) that want
// deterministic capacities.
func Default() Config {
	return Config{
		MaxModules: DefaultMaxModules,
		MaxDeps:    DefaultMaxDeps,
		MaxStubs:   DefaultMaxStubs,
	}
}
