package funnel

import (
	"github.com/yofukashino/go-funnel/internal/format"
	"github.com/yofukashino/go-funnel/internal/interfaces"
	"github.com/yofukashino/go-funnel/internal/syncbridge"
)

// BufferHandle, TransportState, TransportBackend and Allocator are
// re-exported from internal/interfaces so a caller wiring a real
// transport or allocator implementation against a Stream never needs to
// import the internal package directly.
type (
	BufferHandle     = interfaces.BufferHandle
	TransportState   = interfaces.TransportState
	TransportBackend = interfaces.TransportBackend
	Allocator        = interfaces.Allocator
	AllocRequest     = interfaces.AllocRequest
	AllocResult      = interfaces.AllocResult
	Logger           = interfaces.Logger
	Observer         = interfaces.Observer
)

// SyncPoint is a timeline sync-object position returned by Buffer's
// explicit-sync accessors (spec §3 "Sync point").
type SyncPoint = syncbridge.SyncPoint

const (
	StateError       = interfaces.StateError
	StateUnconnected = interfaces.StateUnconnected
	StateConnecting  = interfaces.StateConnecting
	StatePaused      = interfaces.StatePaused
	StateStreaming   = interfaces.StateStreaming
)

// BackendTag identifies which client graphics API a Stream's buffers are
// imported for (spec §3 "backend tag"). It governs which of Buffer's
// accessor methods may be called.
type BackendTag int

const (
	BackendUnset BackendTag = iota
	BackendGBM
	BackendEGL
	BackendVulkan
)

func (t BackendTag) String() string {
	switch t {
	case BackendGBM:
		return "gbm"
	case BackendEGL:
		return "egl"
	case BackendVulkan:
		return "vulkan"
	default:
		return "unset"
	}
}

// Pacing mode and sync mode are re-exported verbatim from internal/format
// so callers configuring a StreamConfig never need to import the internal
// package directly.
type (
	PacingMode = format.PacingMode
	SyncMode   = format.SyncMode
	Fourcc     = format.Fourcc
	Modifier   = format.Modifier
	Fraction   = format.Fraction
)

const (
	ModeAsync          = format.ModeAsync
	ModeDoubleBuffered = format.ModeDoubleBuffered
	ModeSingleBuffered = format.ModeSingleBuffered
	ModeSynchronous    = format.ModeSynchronous
)

const (
	SyncImplicit       = format.SyncImplicit
	SyncExplicitHybrid = format.SyncExplicitHybrid
	SyncExplicitOnly   = format.SyncExplicitOnly
	SyncEither         = format.SyncEither
)

var (
	FourccXRGB8888 = format.FourccXRGB8888
	FourccXBGR8888 = format.FourccXBGR8888
	FourccARGB8888 = format.FourccARGB8888
	FourccABGR8888 = format.FourccABGR8888
	FourccRGBX8888 = format.FourccRGBX8888
	FourccBGRX8888 = format.FourccBGRX8888
	FourccRGBA8888 = format.FourccRGBA8888
	FourccBGRA8888 = format.FourccBGRA8888
)

const (
	ModifierLinear  = format.ModifierLinear
	ModifierInvalid = format.ModifierInvalid
)

// StreamConfig is a stream's pending configuration (spec §3 "Stream
// configuration"): pacing mode, sync mode, size, rate, and the ordered
// format-entry list, plus the buffer-count override from SPEC_FULL §5
// item 1.
type StreamConfig struct {
	registry *format.Registry
}

// NewStreamConfig returns a StreamConfig with the ASYNC/IMPLICIT defaults.
func NewStreamConfig() *StreamConfig {
	return &StreamConfig{registry: format.New()}
}

// SetExplicitSyncCapability tells the config what the chosen backend can
// do, consulted by SetSync's policy table (spec §4.2). Stream never calls
// it; until a caller does, both capability flags are false.
func (c *StreamConfig) SetExplicitSyncCapability(supported, required bool) {
	c.registry.ExplicitSyncSupported = supported
	c.registry.ExplicitSyncRequired = required
}

// SetSize validates and stores the frame dimensions (spec §4.2).
func (c *StreamConfig) SetSize(width, height uint32) error {
	if err := c.registry.SetSize(width, height); err != nil {
		return NewStreamError("set_size", "", ErrCodeInvalidArgument, err.Error())
	}
	return nil
}

// SetRate validates and stores the rate triple; a zero denominator in any
// of the three fractions fails with invalid-argument (spec §8 boundary
// behaviour).
func (c *StreamConfig) SetRate(def, min, max Fraction) error {
	if err := c.registry.SetRate(def, min, max); err != nil {
		return NewStreamError("set_rate", "", ErrCodeInvalidArgument, err.Error())
	}
	return nil
}

// SetMode stores the pacing mode, re-deriving the default buffer-count
// triple unless SetBuffers already overrode it.
func (c *StreamConfig) SetMode(mode PacingMode) {
	c.registry.SetMode(mode)
}

// SetSync applies the set_sync policy table (spec §4.2). Every failure
// path — unsupported or not-yet-implemented — surfaces as
// unsupported-operation, matching spec §8's boundary behaviour for
// set_sync(EXPLICIT_HYBRID) against an incapable backend.
func (c *StreamConfig) SetSync(mode SyncMode) error {
	if err := c.registry.SetSync(mode); err != nil {
		return NewStreamError("set_sync", "", ErrCodeUnsupportedOperation, err.Error())
	}
	return nil
}

// AddFormat appends a (fourcc, modifier-list) entry. An empty modifier
// list fails invalid-argument; a fourcc absent from the supported table
// fails not-supported (spec §8 boundary behaviour, spec §7 taxonomy).
func (c *StreamConfig) AddFormat(fc Fourcc, modifiers []Modifier) error {
	if len(modifiers) == 0 {
		return NewStreamError("add_format", "", ErrCodeInvalidArgument, "add_format requires at least one modifier")
	}
	if err := c.registry.AddFormat(fc, modifiers); err != nil {
		return NewStreamError("add_format", "", ErrCodeNotSupported, err.Error())
	}
	return nil
}

// ClearFormats empties the configured format-entry list.
func (c *StreamConfig) ClearFormats() {
	c.registry.ClearFormats()
}

// SetBuffers overrides the pacing-mode-derived buffer-count triple
// (SPEC_FULL §5 item 1): requires `1 <= min <= def <= max`.
func (c *StreamConfig) SetBuffers(def, min, max int) error {
	if err := c.registry.SetBuffers(def, min, max); err != nil {
		return NewStreamError("set_buffers", "", ErrCodeInvalidArgument, err.Error())
	}
	return nil
}

// HasNonlinearTiling reports spec §8's invariant:
// has_nonlinear_tiling ⇔ ∃ fmt ∈ formats, ∃ mod ∈ fmt.modifiers : mod ≠ LINEAR.
func (c *StreamConfig) HasNonlinearTiling() bool {
	return c.registry.HasNonlinearTiling
}

// BufferCountTriple returns the {def,min,max} buffer counts that Start
// will request from the transport.
func (c *StreamConfig) BufferCountTriple() (def, min, max int) {
	return c.registry.BufferCountTriple()
}
