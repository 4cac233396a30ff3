// Package observability holds the opt-in profiling toggles.
package observability

import (
	"fmt"
	"strings"

	"github.com/pkg/profile"
)

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	// EnablePprof mounts net/http/pprof under /debug/pprof/.
	EnablePprof bool `toml:"enable_pprof" yaml:"enable_pprof"`
	// Profile selects a whole-process profile written on shutdown: cpu, mem,
	// block, mutex, goroutine or trace. Empty disables profiling.
	Profile     string `toml:"profile" yaml:"profile"`
	ProfilePath string `toml:"profile_path" yaml:"profile_path"`
}

// Validate reports an unknown profile mode.
func (c Config) Validate() error {
	if _, err := profileMode(c.Profile); err != nil {
		return err
	}
	return nil
}

// Start begins the configured profile and returns the function that stops it.
// The returned function is a no-op when profiling is disabled.
func Start(cfg Config) (func(), error) {
	mode, err := profileMode(cfg.Profile)
	if err != nil {
		return nil, err
	}
	if mode == nil {
		return func() {}, nil
	}
	path := cfg.ProfilePath
	if path == "" {
		path = "."
	}
	p := profile.Start(mode, profile.ProfilePath(path), profile.NoShutdownHook, profile.Quiet)
	return p.Stop, nil
}

func profileMode(raw string) (func(*profile.Profile), error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return nil, nil
	case "cpu":
		return profile.CPUProfile, nil
	case "mem":
		return profile.MemProfile, nil
	case "block":
		return profile.BlockProfile, nil
	case "mutex":
		return profile.MutexProfile, nil
	case "goroutine":
		return profile.GoroutineProfile, nil
	case "trace":
		return profile.TraceProfile, nil
	default:
		return nil, fmt.Errorf("unknown profile mode %q", raw)
	}
}
