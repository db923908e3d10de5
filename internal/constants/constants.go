// Package constants holds tunables shared across the stream pipeline.
package constants

import "time"

// Default buffer-count triples, keyed by pacing mode (spec §3).
const (
	AsyncDefaultBuffers = 5
	AsyncMinBuffers     = 4
	AsyncMaxBuffers     = 8

	SingleDefaultBuffers = 4
	SingleMinBuffers     = 3
	SingleMaxBuffers     = 8
)

// FallbackFrameRate is the timer rate used before negotiation has produced
// a concrete frame rate (spec §4.6 "Timer").
const FallbackFrameRate = 60

// MaxPlanes bounds the per-buffer plane array (spec §3, DRM fourcc planes).
const MaxPlanes = 4

// MaxBufferFDs is the per-buffer owned file descriptor limit (spec §3). It
// does not size interfaces.AllocResult.Fds, which holds four entries.
const MaxBufferFDs = 6

// Timing constants for allocator backend discovery.
//
// alloc.DiscoverRenderNode, called by NewContext, resolves a render-node
// path (/dev/dri/renderD*) the same way the teacher's block-device backend
// resolves /dev/ublkc*: a device file that may not exist the instant the
// caller asks for it. Rather than the teacher's sleep-poll loop, discovery
// here watches the directory and falls back to a bounded timeout.
const (
	// RenderNodeDiscoveryTimeout bounds how long render-node discovery waits
	// for a render node to appear before failing with ENODEV.
	RenderNodeDiscoveryTimeout = 2 * time.Second

	// RenderNodePollInterval is the fallback poll cadence used if the
	// fsnotify watch cannot be established (e.g. /dev/dri missing outright).
	RenderNodePollInterval = 20 * time.Millisecond
)

// ProcessTickBudget is a 250ms liveness budget for one pacing retry
// iteration. The pacing state machine does not use it: its condition
// variable waits have no deadline.
const ProcessTickBudget = 250 * time.Millisecond
