// Package format holds the per-stream format registry: the ordered list of
// (fourcc, modifier-list) entries a producer configures, the fixed fourcc
// <-> wire-format table, and the sync-mode policy table (spec §4.2).
package format

import "fmt"

// Fourcc is a DRM four-character-code pixel format tag.
type Fourcc uint32

func fourcc(a, b, c, d byte) Fourcc {
	return Fourcc(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// DRM fourcc codes for the 8-bit-per-channel RGB/RGBA variants this library
// supports (spec §6 "Supported pixel formats"); values match drm_fourcc.h.
var (
	FourccXRGB8888 = fourcc('X', 'R', '2', '4')
	FourccXBGR8888 = fourcc('X', 'B', '2', '4')
	FourccARGB8888 = fourcc('A', 'R', '2', '4')
	FourccABGR8888 = fourcc('A', 'B', '2', '4')
	FourccRGBX8888 = fourcc('R', 'X', '2', '4')
	FourccBGRX8888 = fourcc('B', 'X', '2', '4')
	FourccRGBA8888 = fourcc('R', 'A', '2', '4')
	FourccBGRA8888 = fourcc('B', 'A', '2', '4')
)

// Modifier is a DRM 64-bit memory-tiling tag (spec GLOSSARY).
type Modifier uint64

// ModifierLinear and ModifierInvalid mirror DRM_FORMAT_MOD_LINEAR and
// DRM_FORMAT_MOD_INVALID.
const (
	ModifierLinear  Modifier = 0
	ModifierInvalid Modifier = 0x00ffffffffffffff
)

// WireFormat is the transport's raw-video format enum id (spec §6).
type WireFormat uint32

const (
	WireFormatUnknown WireFormat = iota
	WireFormatRGBA
	WireFormatRGBx
	WireFormatBGRA
	WireFormatBGRx
	WireFormatARGB
	WireFormatxRGB
	WireFormatABGR
	WireFormatxBGR
)

type pixelFormatEntry struct {
	fourcc Fourcc
	wire   WireFormat
}

// pixelFormatTable is the fixed 8-entry fourcc<->wire table (spec §6): every
// 8-bit RGB/RGBA ordering crossed with byte order.
var pixelFormatTable = []pixelFormatEntry{
	{FourccRGBA8888, WireFormatRGBA},
	{FourccRGBX8888, WireFormatRGBx},
	{FourccBGRA8888, WireFormatBGRA},
	{FourccBGRX8888, WireFormatBGRx},
	{FourccARGB8888, WireFormatARGB},
	{FourccXRGB8888, WireFormatxRGB},
	{FourccABGR8888, WireFormatABGR},
	{FourccXBGR8888, WireFormatxBGR},
}

// WireFormatFor looks up the wire-format id for a fourcc, reporting ok=false
// if the fourcc isn't in the supported table (spec §4.2 "not-supported").
func WireFormatFor(fc Fourcc) (WireFormat, bool) {
	for _, e := range pixelFormatTable {
		if e.fourcc == fc {
			return e.wire, true
		}
	}
	return WireFormatUnknown, false
}

// FourccFor reverses WireFormatFor, used when the consumer echoes back a
// wire-format id during negotiation (spec §4.4 step 1).
func FourccFor(w WireFormat) (Fourcc, bool) {
	for _, e := range pixelFormatTable {
		if e.wire == w {
			return e.fourcc, true
		}
	}
	return 0, false
}

// Entry is a configured (fourcc, wire-format-id, modifier-list) tuple
// (spec §3 "Format entry").
type Entry struct {
	Fourcc    Fourcc
	Wire      WireFormat
	Modifiers []Modifier
}

// PacingMode selects the producer/consumer handshake (spec §3).
type PacingMode int

const (
	ModeAsync PacingMode = iota
	ModeDoubleBuffered
	ModeSingleBuffered
	ModeSynchronous
)

// SyncMode selects which fence mechanism to negotiate (spec §3/§6).
type SyncMode int

const (
	SyncImplicit SyncMode = iota
	SyncExplicitHybrid
	SyncExplicitOnly
	SyncEither
)

// Fraction is a rate numerator/denominator pair; {0,1} means variable
// (spec §6).
type Fraction struct {
	Num, Den uint32
}

// Registry holds one stream's format configuration: the ordered entry list
// plus the size/rate/mode/sync mutators from spec §4.2. Every mutator marks
// Pending true, mirroring config_pending in the original source.
type Registry struct {
	Entries []Entry

	Width, Height uint32
	RateDef       Fraction
	RateMin       Fraction
	RateMax       Fraction

	Mode PacingMode
	Sync SyncMode

	HasNonlinearTiling bool
	Pending            bool

	// Backend capability flags consulted by SetSync's policy table.
	ExplicitSyncSupported bool
	ExplicitSyncRequired  bool

	// bufferOverride holds an explicit SetBuffers call, which takes
	// precedence over the pacing-mode-derived triple (SPEC_FULL §5 item 1).
	bufferOverride         bool
	bufDef, bufMin, bufMax int
}

// New returns a Registry with the ASYNC/IMPLICIT defaults. The
// buffer-count triple comes from BufferCountTriple, derived from Mode
// unless SetBuffers overrides it.
func New() *Registry {
	return &Registry{
		Mode: ModeAsync,
		Sync: SyncImplicit,
	}
}

// SetSize validates and stores the frame dimensions (spec §4.2).
// SetSize validates width and height independently and in the same
// direction, deliberately not reproducing the inverted-comparison typo
// noted in spec §9.
func (r *Registry) SetSize(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("width and height must be positive: %dx%d", width, height)
	}
	r.Width = width
	r.Height = height
	r.Pending = true
	return nil
}

// SetRate validates and stores the rate triple.
func (r *Registry) SetRate(def, min, max Fraction) error {
	if def.Den == 0 || min.Den == 0 || max.Den == 0 {
		return fmt.Errorf("rate denominator must be non-zero")
	}
	r.RateDef, r.RateMin, r.RateMax = def, min, max
	r.Pending = true
	return nil
}

// SetMode stores the pacing mode.
func (r *Registry) SetMode(m PacingMode) {
	r.Mode = m
	r.Pending = true
}

// syncOutcome is the result of consulting the set_sync policy table.
type syncOutcome int

const (
	syncOutcomeOK syncOutcome = iota
	syncOutcomeDowngraded
	syncOutcomeUnsupported
	syncOutcomeNotImplemented
)

// SetSync applies the policy table from spec §4.2.
func (r *Registry) SetSync(requested SyncMode) error {
	outcome, result := evaluateSync(requested, r.ExplicitSyncSupported, r.ExplicitSyncRequired)
	switch outcome {
	case syncOutcomeUnsupported:
		return fmt.Errorf("sync mode %v not supported by backend: %w", requested, errUnsupported)
	case syncOutcomeNotImplemented:
		return fmt.Errorf("explicit-only sync not yet implemented: %w", errUnsupported)
	}
	r.Sync = result
	r.Pending = true
	return nil
}

var errUnsupported = fmt.Errorf("unsupported operation")

// evaluateSync implements the set_sync policy table verbatim (spec §4.2):
//
//	IMPLICIT,                 explicit required=true  -> fails ENOTSUP
//	IMPLICIT,                 explicit required=false -> OK
//	EITHER,  explicit supported=false                 -> downgraded to IMPLICIT
//	EITHER,  explicit supported=true                  -> OK as EITHER
//	EXPLICIT_HYBRID/ONLY,     explicit supported=false -> fails ENOTSUP
//	EXPLICIT_ONLY,            explicit supported=true  -> may fail not-yet-implemented
//	EXPLICIT_HYBRID,          explicit supported=true  -> OK
func evaluateSync(requested SyncMode, explicitSupported, explicitRequired bool) (syncOutcome, SyncMode) {
	switch requested {
	case SyncImplicit:
		if explicitRequired {
			return syncOutcomeUnsupported, requested
		}
		return syncOutcomeOK, requested
	case SyncEither:
		if !explicitSupported {
			return syncOutcomeDowngraded, SyncImplicit
		}
		return syncOutcomeOK, requested
	case SyncExplicitOnly:
		if !explicitSupported {
			return syncOutcomeUnsupported, requested
		}
		// EXPLICIT_ONLY is rejected here; Negotiator.PublishInitialFormats
		// has no sync-mode-specific branch.
		return syncOutcomeNotImplemented, requested
	case SyncExplicitHybrid:
		if !explicitSupported {
			return syncOutcomeUnsupported, requested
		}
		return syncOutcomeOK, requested
	default:
		return syncOutcomeUnsupported, requested
	}
}

// ClearFormats empties the entry list.
func (r *Registry) ClearFormats() {
	r.Entries = nil
	r.HasNonlinearTiling = false
	r.Pending = true
}

// AddFormat validates fc against the fixed table and appends an entry with
// the given modifier list (spec §4.2: fourcc must map via the table,
// modifier list must be non-empty).
func (r *Registry) AddFormat(fc Fourcc, modifiers []Modifier) error {
	if len(modifiers) == 0 {
		return fmt.Errorf("add_format requires at least one modifier")
	}
	wire, ok := WireFormatFor(fc)
	if !ok {
		return fmt.Errorf("fourcc %#x not supported: %w", uint32(fc), errUnsupported)
	}

	for _, m := range modifiers {
		if m != ModifierLinear {
			r.HasNonlinearTiling = true
			break
		}
	}

	r.Entries = append(r.Entries, Entry{Fourcc: fc, Wire: wire, Modifiers: append([]Modifier(nil), modifiers...)})
	r.Pending = true
	return nil
}

// BufferCountTriple returns the {def,min,max} buffer counts: an explicit
// SetBuffers override if one was made, otherwise the pacing-mode-derived
// default (spec §3).
func (r *Registry) BufferCountTriple() (def, min, max int) {
	if r.bufferOverride {
		return r.bufDef, r.bufMin, r.bufMax
	}
	switch r.Mode {
	case ModeAsync, ModeDoubleBuffered:
		return 5, 4, 8
	default: // SINGLE_BUFFERED, SYNCHRONOUS
		return 4, 3, 8
	}
}

// SetBuffers overrides the pacing-mode-derived buffer-count triple
// (SPEC_FULL §5 item 1, recovered from original_source's doc comment for
// funnel_stream_set_buffers: "min <= def <= max" and "min >= 1").
func (r *Registry) SetBuffers(def, min, max int) error {
	if min < 1 || min > def || def > max {
		return fmt.Errorf("buffer counts must satisfy 1 <= min <= def <= max, got min=%d def=%d max=%d", min, def, max)
	}
	r.bufferOverride = true
	r.bufDef, r.bufMin, r.bufMax = def, min, max
	r.Pending = true
	return nil
}
