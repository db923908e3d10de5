package funnel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yofukashino/go-funnel/internal/alloc"
	"github.com/yofukashino/go-funnel/internal/interfaces"
	"github.com/yofukashino/go-funnel/internal/logging"
)

// Context is the process-wide-ish handle to the transport daemon (spec §3
// "Context"): it owns the DRM render node and the named streams created
// against it, and latches dead permanently once the daemon connection is
// lost. Grounded on the teacher's CreateAndServe/StopAndDelete lifecycle
// in backend.go, generalized from one ublk device to a daemon connection
// that may host several independently-paced streams.
type Context struct {
	mu      sync.Mutex
	dead    bool
	logger  interfaces.Logger
	streams map[string]*Stream

	renderNode   string
	renderNodeFD int
}

// ContextOptions configures Context creation.
type ContextOptions struct {
	// Logger receives lifecycle and error messages; defaults to
	// logging.Default() if nil.
	Logger interfaces.Logger
}

// NewContext discovers a DRM render node and returns a Context bound to
// it. A render node that cannot be resolved is reported as
// ErrCodeNoDevice.
func NewContext(ctx context.Context, options *ContextOptions) (*Context, error) {
	if options == nil {
		options = &ContextOptions{}
	}

	node, fd, err := alloc.DiscoverRenderNode(ctx)
	if err != nil {
		return nil, NewError("new_context", ErrCodeNoDevice, err.Error())
	}

	c := &Context{
		streams:      make(map[string]*Stream),
		renderNode:   node,
		renderNodeFD: fd,
	}

	if options.Logger != nil {
		c.logger = options.Logger
	}

	c.log().Info("context connected", "render_node", node)
	return c, nil
}

func (c *Context) log() interfaces.Logger {
	if c.logger != nil {
		return c.logger
	}
	return logging.Default()
}

// Dead reports whether the daemon connection has been permanently lost
// (spec §3 "dead is permanent for the context").
func (c *Context) Dead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dead
}

// markDead latches dead and marks the loop and pacing machine of every live
// stream dead; it does not Destroy the streams.
func (c *Context) markDead() {
	c.mu.Lock()
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.dead = true
	c.mu.Unlock()

	for _, s := range streams {
		s.loop.MarkDead()
		s.mu.Lock()
		pm := s.pacing
		s.mu.Unlock()
		if pm != nil {
			pm.MarkDead()
		}
	}
}

// CreateStream creates a named stream against this context's render node
// (spec §3 "named streams across contexts are normal"; SPEC_FULL §5 item
// 2 surfaces the name in errors and log lines). name must be unique
// within the context; an empty name gets a UUID-suffixed fallback so the
// stream still has a stable identity for logging and error messages.
func (c *Context) CreateStream(name string, params StreamParams) (*Stream, error) {
	if name == "" {
		name = "stream-" + uuid.New().String()
	}

	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return nil, NewStreamError("create_stream", name, ErrCodeShutdown, "context is dead")
	}
	if _, exists := c.streams[name]; exists {
		c.mu.Unlock()
		return nil, NewStreamError("create_stream", name, ErrCodeAlreadyInitialized, "stream name already in use")
	}
	c.mu.Unlock()

	if params.Backend == nil {
		return nil, NewStreamError("create_stream", name, ErrCodeInvalidArgument, "transport backend is required")
	}

	allocator := params.Allocator
	tag := params.BackendTag
	if allocator == nil {
		allocator = alloc.NewGBMAllocator(c.renderNode, c.renderNodeFD)
		tag = BackendGBM
	}

	s, err := newStream(c, name, params.Backend, allocator, tag, params.Logger, params.Observer)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.streams[name] = s
	c.mu.Unlock()

	return s, nil
}

// Stream looks up a previously created stream by name.
func (c *Context) Stream(name string) (*Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[name]
	return s, ok
}

// Streams returns the names of every live stream on this context.
func (c *Context) Streams() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.streams))
	for name := range c.streams {
		names = append(names, name)
	}
	return names
}

// DestroyStream stops and tears down a named stream, freeing its
// buffers and removing it from the context.
func (c *Context) DestroyStream(ctx context.Context, name string) error {
	c.mu.Lock()
	s, ok := c.streams[name]
	if !ok {
		c.mu.Unlock()
		return NewStreamError("destroy_stream", name, ErrCodeNotPresent, "no such stream")
	}
	delete(c.streams, name)
	c.mu.Unlock()

	return s.Destroy(ctx)
}

// Shutdown destroys every stream and releases the render node fd (spec
// §3 "destroyed on shutdown"). Shutdown is idempotent.
func (c *Context) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		return nil
	}
	streams := make([]*Stream, 0, len(c.streams))
	for _, s := range c.streams {
		streams = append(streams, s)
	}
	c.streams = make(map[string]*Stream)
	c.dead = true
	fd := c.renderNodeFD
	c.renderNodeFD = -1
	c.mu.Unlock()

	for _, s := range streams {
		if err := s.Destroy(ctx); err != nil {
			c.log().Warn("error destroying stream during shutdown", "stream", s.name, "error", err)
		}
	}

	if fd >= 0 {
		if err := alloc.NewGBMAllocator(c.renderNode, fd).Destroy(); err != nil {
			return NewError("shutdown", ErrCodeIO, fmt.Sprintf("close render node: %v", err))
		}
	}
	return nil
}
