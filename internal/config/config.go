// Package config carries the translator's process-wide knobs in a single struct,
// replacing the source's debug/full-backtracking globals (spec.md §9 DESIGN NOTES).
package config

import (
	"go.uber.org/zap"
)

// IjumpLookupMode selects how the codegen backend emits the indirect-jump target
// table (spec §4.5.5).
type IjumpLookupMode string

const (
	// IjumpDense emits a linear dense table with one slot per 2-byte guest
	// address, indexed by (addr - lo) / 2.
	IjumpDense IjumpLookupMode = "dense"
	// IjumpCHD emits a CHD perfect-hash table over discovered jump targets.
	IjumpCHD IjumpLookupMode = "chd"
)

// Config holds every translator-wide setting. A zero Config is not ready to use;
// call New to get one with defaults filled in.
type Config struct {
	// Debug enables verbose per-instruction/per-pass logging.
	Debug bool

	// FullBacktrack disables the indirect-jump analyzer's depth cap, exploring the
	// full definition graph regardless of BacktrackDepthLimit.
	FullBacktrack bool

	// BacktrackDepthLimit bounds the backtracking analyzer's worklist depth when
	// FullBacktrack is false (spec §4.3).
	BacktrackDepthLimit int

	// BMI2 records whether shlx/shrx/sarx may be used for shifts. The amd64
	// backend does not read it: shifts are always emitted in the cl-count form
	// and are never fused with their masking op.
	BMI2 bool

	// CHDMaxRetries bounds how many reseed attempts the CHD builder makes before
	// falling back to a dense lookup table (spec §4.5.5, DESIGN.md Open Questions).
	CHDMaxRetries int

	// IjumpLookupMode forces a specific indirect-jump table strategy; if empty the
	// pipeline picks CHD and falls back to dense only after CHDMaxRetries failures.
	IjumpLookupMode IjumpLookupMode

	logger *zap.SugaredLogger
}

// New returns a Config with every default populated and a logger built according to
// Debug.
func New() *Config {
	c := &Config{
		BacktrackDepthLimit: 500,
		BMI2:                true,
		CHDMaxRetries:       8,
		IjumpLookupMode:     IjumpCHD,
	}
	c.buildLogger()
	return c
}

// buildLogger constructs the zap logger for this Config: a development encoder at
// debug level when Debug is set, a production encoder at info level otherwise.
func (c *Config) buildLogger() {
	var zc zap.Config
	if c.Debug {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	l, err := zc.Build()
	if err != nil {
		// Logger construction only fails on misconfigured encoders, which New never
		// produces; fall back to a no-op logger rather than panicking on a tool path.
		l = zap.NewNop()
	}
	c.logger = l.Sugar()
}

// Logger returns the SugaredLogger bound to this Config, building one lazily if New
// was bypassed (e.g. a zero-value Config constructed by a test).
func (c *Config) Logger() *zap.SugaredLogger {
	if c.logger == nil {
		c.buildLogger()
	}
	return c.logger
}

// Sync flushes any buffered log entries; call before process exit.
func (c *Config) Sync() error {
	if c.logger == nil {
		return nil
	}
	return c.logger.Sync()
}
