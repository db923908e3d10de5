// Package negotiate implements the format negotiation engine from spec
// §4.4: the param_changed reaction (parse, dedupe modifiers, probe
// allocate, re-fixate) and the initial parameter publication on connect.
package negotiate

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/yofukashino/go-funnel/internal/format"
	"github.com/yofukashino/go-funnel/internal/interfaces"
	"github.com/yofukashino/go-funnel/internal/wire"
)

// Current holds the resolved format for a stream once negotiation has
// settled (funnel_stream.cur in the original source).
type Current struct {
	Fourcc     format.Fourcc
	Wire       format.WireFormat
	Modifier   format.Modifier
	PlaneCount uint32
	Strides    [4]uint32
	Offsets    [4]uint32
	Ready      bool
}

// Attempt is one param_changed negotiation round, tagged with a UUID so
// log lines and probe-allocation failures for overlapping attempts (a
// renegotiation racing a slow probe) can be told apart.
type Attempt struct {
	ID uuid.UUID
}

func newAttempt() Attempt { return Attempt{ID: uuid.New()} }

// Negotiator runs the negotiation engine for one stream.
type Negotiator struct {
	registry  *format.Registry
	allocator interfaces.Allocator
	observer  interfaces.Observer

	cur Current
}

// New returns a Negotiator over registry's configured formats, using
// allocator for probe allocations.
func New(registry *format.Registry, allocator interfaces.Allocator, observer interfaces.Observer) *Negotiator {
	return &Negotiator{registry: registry, allocator: allocator, observer: observer}
}

// Current returns the negotiator's resolved format state.
func (n *Negotiator) Current() Current {
	return n.cur
}

// PublishInitialFormats builds the Format documents advertised on stream
// connect: every configured (fourcc, modifier-list) entry, each flagged
// MANDATORY+DONT_FIXATE so the consumer picks (spec §4.4 "initial
// parameter set").
func (n *Negotiator) PublishInitialFormats() []*wire.FormatDoc {
	docs := make([]*wire.FormatDoc, 0, len(n.registry.Entries))
	for _, entry := range n.registry.Entries {
		doc := &wire.FormatDoc{
			FormatID:     uint32(entry.Wire),
			Width:        n.registry.Width,
			Height:       n.registry.Height,
			FramerateNum: n.registry.RateDef.Num,
			FramerateDen: n.registry.RateDef.Den,
		}
		for _, m := range entry.Modifiers {
			doc.Modifiers = append(doc.Modifiers, wire.ModifierEntry{
				Modifier: uint64(m),
				Flags:    wire.ModifierFlagMandatory | wire.ModifierFlagDontFixate,
			})
		}
		docs = append(docs, doc)
	}
	return docs
}

// OnParamChanged reacts to a consumer-chosen format document, implementing
// the 5-step algorithm of spec §4.4. On success it returns the re-fixated
// Format document to re-publish; on failure (format unsupported, probe
// allocation failed) it returns an error describing the aborted attempt.
func (n *Negotiator) OnParamChanged(doc *wire.FormatDoc) (*wire.FormatDoc, error) {
	attempt := newAttempt()

	// Step 1: parse the raw-video sub-pod against the fourcc table.
	fourcc, ok := format.FourccFor(format.WireFormat(doc.FormatID))
	if !ok {
		return nil, fmt.Errorf("negotiation attempt %s: wire format %d not in fourcc table", attempt.ID, doc.FormatID)
	}

	// Step 2: read and dedupe the modifier list; drop INVALID if more
	// than one candidate remains (consumer signalled "implicit sync,
	// don't negotiate").
	modifiers := dedupeModifiers(doc.Modifiers)
	if len(modifiers) > 1 {
		modifiers = dropInvalidIfPresent(modifiers)
	}
	if len(modifiers) == 0 {
		return nil, fmt.Errorf("negotiation attempt %s: no usable modifiers after dedup", attempt.ID)
	}

	// Step 5: skip probe allocation if this fourcc and modifier are already
	// resolved. Width and height are not compared, so a size change alone
	// does not trigger a new probe.
	if n.cur.Ready && n.cur.Fourcc == fourcc && n.cur.Modifier == format.Modifier(modifiers[0]) {
		return n.buildBufferMetaDoc(), nil
	}

	n.cur.Ready = false
	if n.observer != nil {
		n.observer.ObserveRenegotiation()
	}

	// Step 3: probe allocation.
	req := interfaces.AllocRequest{
		Width:     n.registry.Width,
		Height:    n.registry.Height,
		Fourcc:    uint32(fourcc),
		Modifiers: modifiers,
	}
	probe, err := n.allocator.AllocBuffer(req)
	if err != nil {
		return nil, fmt.Errorf("negotiation attempt %s: probe allocation: %w", attempt.ID, err)
	}
	defer n.allocator.FreeBuffer(probe)

	n.cur = Current{
		Fourcc:     fourcc,
		Wire:       format.WireFormat(doc.FormatID),
		Modifier:   format.Modifier(probe.Modifier),
		PlaneCount: probe.PlaneCount,
		Strides:    probe.Strides,
		Offsets:    probe.Offsets,
		Ready:      true,
	}

	// Step 4: re-publish with the modifier fixed to the chosen one.
	return n.buildFixatedDoc(), nil
}

// buildFixatedDoc builds the re-published Format document with a single,
// MANDATORY-flagged modifier (spec §4.4 step 4).
func (n *Negotiator) buildFixatedDoc() *wire.FormatDoc {
	return &wire.FormatDoc{
		FormatID:     uint32(n.cur.Wire),
		Width:        n.registry.Width,
		Height:       n.registry.Height,
		FramerateNum: n.registry.RateDef.Num,
		FramerateDen: n.registry.RateDef.Den,
		Modifiers: []wire.ModifierEntry{
			{Modifier: uint64(n.cur.Modifier), Flags: wire.ModifierFlagMandatory},
		},
	}
}

// buildBufferMetaDoc is the already-resolved fast path of step 5: it skips
// the probe and returns the current fixated format document unchanged.
func (n *Negotiator) buildBufferMetaDoc() *wire.FormatDoc {
	return n.buildFixatedDoc()
}

// BuildParamBuffers builds the ParamBuffers document advertising the
// buffer count and plane constraints alongside a fixated format (spec
// §4.4 steps 4-5, spec §6). Only def is encoded as the buffer count; min
// and max are not carried in the document. Only valid to call once OnParamChanged has
// resolved n.cur (Ready == true); the stride/size it advertises come from
// the probe allocation's first-plane layout.
func (n *Negotiator) BuildParamBuffers(def, min, max int) *wire.ParamBuffersDoc {
	stride := n.cur.Strides[0]
	return &wire.ParamBuffersDoc{
		Buffers:         uint32(def),
		BlocksPerBuffer: n.cur.PlaneCount,
		Size:            stride * n.registry.Height,
		Stride:          stride,
		Align:           16,
		DataType:        wire.DataTypeDmaBuf,
	}
}

func dedupeModifiers(entries []wire.ModifierEntry) []uint64 {
	seen := make(map[uint64]bool, len(entries))
	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		if seen[e.Modifier] {
			continue
		}
		seen[e.Modifier] = true
		out = append(out, e.Modifier)
	}
	return out
}

func dropInvalidIfPresent(modifiers []uint64) []uint64 {
	out := make([]uint64, 0, len(modifiers))
	for _, m := range modifiers {
		if m == uint64(format.ModifierInvalid) {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return modifiers
	}
	return out
}
