package funnel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yofukashino/go-funnel/internal/format"
	"github.com/yofukashino/go-funnel/internal/interfaces"
	"github.com/yofukashino/go-funnel/internal/logging"
	"github.com/yofukashino/go-funnel/internal/negotiate"
	"github.com/yofukashino/go-funnel/internal/pacing"
	"github.com/yofukashino/go-funnel/internal/pool"
	"github.com/yofukashino/go-funnel/internal/transport"
	"github.com/yofukashino/go-funnel/internal/wire"
)

// StreamParams configures a Stream at creation time (spec §3 "Stream"),
// generalizing the teacher's DeviceParams from block-device backend
// selection to transport backend plus graphics-API import target.
type StreamParams struct {
	// Backend is the transport connection this stream drives through
	// connect/param/buffer primitives (spec §4.1). Required.
	Backend TransportBackend

	// Allocator is the buffer allocator for this stream's backend tag. If
	// nil, a GBM allocator on the context's render node is used and
	// BackendTag is forced to BackendGBM.
	Allocator Allocator

	// BackendTag identifies the client graphics API Allocator imports
	// buffers for; must match Allocator's actual import target.
	BackendTag BackendTag

	// Logger receives per-stream lifecycle messages; defaults to
	// logging.Default() if nil.
	Logger Logger

	// Observer receives pacing/negotiation telemetry; defaults to a
	// MetricsObserver wrapping the stream's own Metrics if nil.
	Observer Observer
}

// Stream composes one instance each of the internal components above,
// the way the teacher's Device composes ctrl.Controller + []*queue.Runner
// (backend.go): a format registry, a negotiator, a buffer pool, a pacing
// machine, and a loop thread, all keyed to one named transport connection.
type Stream struct {
	ctx    *Context
	name   string
	logger Logger

	backend    TransportBackend
	allocator  Allocator
	backendTag BackendTag

	config     *StreamConfig
	negotiator *negotiate.Negotiator
	pool       *pool.Pool
	loop       *transport.Loop

	metrics  *Metrics
	observer Observer

	mu        sync.Mutex
	pacing    *pacing.Machine
	started   bool
	destroyed bool

	frameCount atomic.Uint64
}

// newStream wires the internal components for one named stream. The
// pacing machine itself is deferred to Start, since it freezes the mode
// and buffer-count triple that Configure may still be adjusting.
func newStream(ctx *Context, name string, backend TransportBackend, allocator Allocator, tag BackendTag, logger Logger, observer Observer) (*Stream, error) {
	metrics := NewMetrics()
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}
	if logger == nil {
		logger = ctx.log()
	}
	logger = withStreamName(logger, name)

	config := NewStreamConfig()

	s := &Stream{
		ctx:        ctx,
		name:       name,
		logger:     logger,
		backend:    backend,
		allocator:  allocator,
		backendTag: tag,
		config:     config,
		negotiator: negotiate.New(config.registry, allocator, observer),
		pool:       pool.New(allocator),
		metrics:    metrics,
		observer:   observer,
	}

	s.loop = transport.NewLoop(transport.Callbacks{
		AddBuffer:    s.onAddBuffer,
		RemoveBuffer: s.onRemoveBuffer,
		StateChanged: s.onStateChanged,
		ParamChanged: s.onParamChanged,
		Process:      s.onProcess,
		Command:      s.onCommand,
	}, nil)

	return s, nil
}

// withStreamName wraps logger with a WithStream child logger when it's
// the concrete internal/logging.Logger (spec §5 "named streams" /
// SPEC_FULL §5 item 2), falling back to the plain logger for
// caller-supplied adapters that don't have the concept.
func withStreamName(logger Logger, name string) Logger {
	if ll, ok := logger.(*logging.Logger); ok {
		return ll.WithStream(name)
	}
	return logger
}

// Config exposes the pending configuration a caller mutates between
// CreateStream and Start (spec §3 "create -> configure (may repeat) ->
// start").
func (s *Stream) Config() *StreamConfig {
	return s.config
}

// Name returns the stream's name, used to disambiguate log lines and
// errors across a process driving several streams.
func (s *Stream) Name() string {
	return s.name
}

// BackendTag returns the client graphics API this stream's buffers are
// imported for.
func (s *Stream) BackendTag() BackendTag {
	return s.backendTag
}

// Start applies the configured format entries, size and rate to the
// transport and activates pacing (spec §4.1 connect, §4.4 initial
// parameter publication, §4.6 on_state_changed "when streaming").
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return NewStreamError("start", s.name, ErrCodeShutdown, "stream has been destroyed")
	}
	if s.started {
		return NewStreamError("start", s.name, ErrCodeAlreadyInitialized, "stream already started")
	}
	if len(s.config.registry.Entries) == 0 {
		return NewStreamError("start", s.name, ErrCodeInvalidArgument, "no formats configured")
	}

	def, _, _ := s.config.BufferCountTriple()
	s.pacing = pacing.New(s.config.registry.Mode, s.backend, def, s.observer)
	s.loop.SetAsync(s.config.registry.Mode == format.ModeAsync)
	s.loop.SetRate(s.config.registry.RateDef.Num, s.config.registry.RateDef.Den)

	props := map[string]string{
		"media.type":        "Video",
		"media.class":       "Stream/Output/Video",
		"node.supports.lazy": "true",
	}
	if err := s.backend.Connect(props); err != nil {
		return WrapError("start", err)
	}

	for _, doc := range s.negotiator.PublishInitialFormats() {
		if err := s.backend.UpdateParams(doc.Marshal()); err != nil {
			return WrapError("start", err)
		}
	}

	if err := s.backend.SetActive(true); err != nil {
		return WrapError("start", err)
	}

	s.pacing.Start()
	s.started = true
	s.logger.Info("stream started")
	return nil
}

// Stop deactivates pacing and the transport connection without tearing
// down buffers, so the stream may later be destroyed cleanly (spec §5
// "stop explicitly unblocks waiters").
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.pacing.Stop()
	_ = s.backend.SetActive(false)
	s.metrics.Stop()
	s.started = false
	s.logger.Info("stream stopped")
	return nil
}

// Destroy stops the stream if still running, disconnects the transport,
// and closes the loop thread. Destroy is idempotent.
func (s *Stream) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	s.mu.Unlock()

	_ = s.Stop()
	s.loop.Close()

	if err := s.backend.Disconnect(); err != nil {
		return WrapError("destroy", err)
	}
	return nil
}

// State reports whether the stream has been started, stopped, or
// destroyed.
type StreamState int

const (
	StreamStateCreated StreamState = iota
	StreamStateRunning
	StreamStateStopped
	StreamStateDestroyed
)

// State returns the stream's current lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.destroyed:
		return StreamStateDestroyed
	case s.started:
		return StreamStateRunning
	default:
		return StreamStateStopped
	}
}

// FrameCount returns the number of frames successfully dequeued over this
// stream's lifetime (SPEC_FULL §5 item 3).
func (s *Stream) FrameCount() uint64 {
	return s.frameCount.Load()
}

// Metrics returns the stream's metrics instance.
func (s *Stream) Metrics() *Metrics {
	return s.metrics
}

// Dequeue blocks until a buffer is available to fill, the context is
// cancelled, or the stream is stopped (spec §4.6 dequeue). A nil *Buffer
// with a nil error means ASYNC mode had nothing ready this tick.
func (s *Stream) Dequeue(ctx context.Context) (*Buffer, error) {
	s.mu.Lock()
	pm := s.pacing
	started := s.started
	s.mu.Unlock()
	if !started || pm == nil {
		return nil, NewStreamError("dequeue", s.name, ErrCodeShutdown, "stream is not started")
	}

	t0 := time.Now()
	handle, got, err := pm.Dequeue(ctx)
	latencyNs := uint64(time.Since(t0).Nanoseconds())
	if s.observer != nil {
		s.observer.ObserveDequeue(latencyNs, got)
	}
	if err != nil {
		return nil, mapPacingErr("dequeue", s.name, err)
	}
	if !got {
		return nil, nil
	}

	s.pool.MarkDequeued(handle)
	rec, ok := s.pool.Lookup(handle)
	if !ok {
		return nil, NewStreamError("dequeue", s.name, ErrCodeIO, "dequeued handle is missing from the buffer pool")
	}

	s.frameCount.Add(1)
	return &Buffer{stream: s, handle: handle, rec: rec}, nil
}

// Enqueue submits a filled buffer to the consumer (spec §4.6 enqueue).
// An orphaned buffer (removed by the transport while dequeued, spec §4.5
// remove_buffer) is freed and reported as ErrCodeStale instead of being
// resubmitted.
func (s *Stream) Enqueue(buf *Buffer) error {
	if err := s.checkOwnBuffer(buf, "enqueue"); err != nil {
		return err
	}

	if buf.rec.Orphaned {
		if _, err := s.pool.ReleaseOrphan(buf.handle); err != nil {
			return WrapError("enqueue", err)
		}
		return NewStreamError("enqueue", s.name, ErrCodeStale, "buffer was orphaned by a mid-stream renegotiation")
	}

	if buf.rec.FrontendSync && !buf.rec.Bridge.QueriedBothDirections() {
		return NewStreamError("enqueue", s.name, ErrCodeInvalidArgument, "frontend_sync buffer enqueued before both sync directions were queried")
	}

	t0 := time.Now()
	err := s.pacing.Enqueue(buf.handle)
	latencyNs := uint64(time.Since(t0).Nanoseconds())
	if s.observer != nil {
		s.observer.ObserveEnqueue(latencyNs, err == nil)
	}
	if err != nil {
		return mapPacingErr("enqueue", s.name, err)
	}
	if err := s.pool.RunEnqueueHook(buf.handle); err != nil {
		s.logger.Error("enqueue: backend enqueue hook failed", "handle", buf.handle, "error", err)
	}
	s.pool.MarkReturned(buf.handle)
	return nil
}

// Return hands a buffer back without submitting it, equivalent to
// enqueue(valid=false) in every pacing mode but ASYNC (spec §4.6 return).
func (s *Stream) Return(buf *Buffer) error {
	if err := s.checkOwnBuffer(buf, "return"); err != nil {
		return err
	}

	if buf.rec.Orphaned {
		_, err := s.pool.ReleaseOrphan(buf.handle)
		return WrapError("return", err)
	}

	if err := s.pacing.Return(buf.handle); err != nil {
		return mapPacingErr("return", s.name, err)
	}
	s.pool.MarkReturned(buf.handle)
	return nil
}

// SkipFrame tells the pacing machine to deliver one empty dequeue result
// instead of a real buffer, the producer's way of signalling "I have
// nothing to contribute this tick" (spec §4.6 skip_frame).
func (s *Stream) SkipFrame() {
	s.mu.Lock()
	pm := s.pacing
	s.mu.Unlock()
	if pm != nil {
		pm.SkipFrame()
	}
}

func (s *Stream) checkOwnBuffer(buf *Buffer, op string) error {
	if buf == nil || buf.stream != s {
		return NewStreamError(op, s.name, ErrCodeInvalidArgument, "buffer does not belong to this stream")
	}
	return nil
}

// mapPacingErr classifies a sentinel error from internal/pacing into the
// public error taxonomy (spec §7), by identity since the pacing package
// doesn't carry *Error or syscall.Errno values of its own.
func mapPacingErr(op, stream string, err error) error {
	switch {
	case pacing.IsInvalidArgument(err):
		return NewStreamError(op, stream, ErrCodeInvalidArgument, err.Error())
	case pacing.IsIO(err):
		return NewStreamError(op, stream, ErrCodeIO, err.Error())
	case pacing.IsShutdown(err):
		return NewStreamError(op, stream, ErrCodeShutdown, err.Error())
	case pacing.IsWouldBlock(err):
		return NewStreamError(op, stream, ErrCodeWouldBlock, err.Error())
	case pacing.IsStale(err):
		return NewStreamError(op, stream, ErrCodeStale, err.Error())
	default:
		return WrapError(op, err)
	}
}

// --- loop-thread callbacks, invoked by whatever drives the real
// transport connection (spec §3 "loop thread... runs callbacks"); exposed
// to external callers via the On* methods below. ---

func (s *Stream) onAddBuffer(handle interfaces.BufferHandle) {
	entry := s.currentFormatEntry()
	if entry == nil {
		s.logger.Warn("add_buffer before negotiation settled", "handle", handle)
		return
	}
	backendSync := false
	if _, err := s.pool.AddBuffer(handle, *entry, s.config.registry.Width, s.config.registry.Height, s.config.registry.Sync, backendSync); err != nil {
		s.logger.Error("add_buffer failed", "handle", handle, "error", err)
	}
}

func (s *Stream) onRemoveBuffer(handle interfaces.BufferHandle) {
	if err := s.pool.RemoveBuffer(handle); err != nil {
		s.logger.Error("remove_buffer failed", "handle", handle, "error", err)
	}
}

func (s *Stream) onStateChanged(state interfaces.TransportState) {
	s.mu.Lock()
	pm := s.pacing
	s.mu.Unlock()
	if pm != nil {
		pm.OnStateChanged(state)
	}
	if state == interfaces.StateError {
		s.ctx.markDead()
	}
}

func (s *Stream) onParamChanged(paramsPod []byte) {
	doc, err := wire.UnmarshalFormatDoc(paramsPod)
	if err != nil {
		s.logger.Error("param_changed: malformed document", "error", err)
		return
	}
	resp, err := s.negotiator.OnParamChanged(doc)
	if err != nil {
		s.logger.Error("param_changed: negotiation failed", "error", err)
		return
	}
	if err := s.backend.UpdateParams(resp.Marshal()); err != nil {
		s.logger.Error("param_changed: publish re-fixated format", "error", err)
	}

	def, min, max := s.config.registry.BufferCountTriple()
	buffersDoc := s.negotiator.BuildParamBuffers(def, min, max)
	if err := s.backend.UpdateParams(buffersDoc.Marshal()); err != nil {
		s.logger.Error("param_changed: publish buffer/meta params", "error", err)
	}
}

func (s *Stream) onProcess() {
	s.mu.Lock()
	pm := s.pacing
	s.mu.Unlock()
	if pm == nil {
		return
	}
	t0 := time.Now()
	pm.Process()
	if s.observer != nil {
		s.observer.ObserveProcessTick(uint64(time.Since(t0).Nanoseconds()))
	}
}

func (s *Stream) onCommand(cmd string) {
	s.logger.Debug("command received", "cmd", cmd)
}

// currentFormatEntry returns the configured format entry matching the
// negotiator's resolved fourcc, or nil if negotiation hasn't settled yet.
func (s *Stream) currentFormatEntry() *format.Entry {
	cur := s.negotiator.Current()
	if !cur.Ready {
		return nil
	}
	for i := range s.config.registry.Entries {
		if s.config.registry.Entries[i].Fourcc == cur.Fourcc {
			return &s.config.registry.Entries[i]
		}
	}
	return nil
}

// --- On* methods: the hooks an external transport driver (e.g. a cgo
// trampoline linking the real compositor client library, out of scope
// per spec §1) calls from its own callback bodies. ---

// OnAddBuffer dispatches the transport's add_buffer event.
func (s *Stream) OnAddBuffer(handle BufferHandle) {
	s.loop.DispatchAddBuffer(handle)
}

// OnRemoveBuffer dispatches the transport's remove_buffer event.
func (s *Stream) OnRemoveBuffer(handle BufferHandle) {
	s.loop.DispatchRemoveBuffer(handle)
}

// OnStateChanged dispatches the transport's state_changed event.
func (s *Stream) OnStateChanged(ctx context.Context, state TransportState) {
	s.loop.DispatchStateChanged(ctx, state)
}

// OnParamChanged dispatches the transport's param_changed event with the
// consumer's raw Format document bytes.
func (s *Stream) OnParamChanged(paramsPod []byte) {
	s.loop.DispatchParamChanged(paramsPod)
}

// OnCommand dispatches an out-of-band transport command (e.g. a
// recorder's pause/resume request).
func (s *Stream) OnCommand(cmd string) {
	s.loop.DispatchCommand(cmd)
}
