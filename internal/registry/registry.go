// Package registry holds the filter name -> handler map and the
// per-request Context threaded through every filter call. It is the Go
// shape of the original implementation's PluginInformation/FILTERS
// assembly (common/src/lib.rs, src/app.rs) plus its Context/FilterResult
// pair (common/src/filter.rs) — split out from internal/engine so that
// plug-in packages can depend on the registry's types without pulling in
// the execution/binding logic that in turn depends on them.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"

	"imaginator/internal/ierr"
	"imaginator/internal/imagebackend"
	"imaginator/internal/pipeline"
)

// Result is the capability set every filter handler must produce. A
// single interface (rather than a Rust-style enum + trait-object
// downcast) covers images, cache replays and error carriers alike.
type Result interface {
	ContentType() string
	StatusCode() int
	Content() ([]byte, error)
	Image() (*imagebackend.Image, error)
	// DPI returns the image's resolution and whether DPI is known at all.
	DPI() (x, y float64, ok bool)
}

// Handler executes one filter call against already-bound args.
type Handler func(ctx *Context, args []pipeline.FilterArg) (Result, error)

// Registry is the immutable name -> Handler map assembled once at
// startup from every plug-in's contribution through Merge, which fails
// loudly on a name collision, the same
// "last plug-in wins" conflict the original's lazy_static FILTERS map
// would silently allow — spec.md requires failing loud instead.
type Registry struct {
	handlers map[string]Handler
}

// New returns an empty Registry ready to receive plug-in contributions.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Merge adds every handler in plugin to the registry. It returns an
// error without mutating the registry further if any name already exists.
func (r *Registry) Merge(plugin map[string]Handler) error {
	for name := range plugin {
		if _, exists := r.handlers[name]; exists {
			return fmt.Errorf("registry: filter %q registered by more than one plug-in", name)
		}
	}
	for name, h := range plugin {
		r.handlers[name] = h
	}
	return nil
}

// Lookup resolves a filter name to its handler.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns every registered filter name, for diagnostics.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	return names
}

// headerState is the shared, reference-counted response-header map a
// Context and its Clone()s hold. It stands in for the original's
// Rc<HashMap<...>>: LogFilter only mutates the map when refs == 1,
// exactly matching Rc::get_mut's "uniquely held" requirement — two
// sibling branches of a compose()/pattern() call that are both alive
// hold refs >= 2 and so neither may log, failing with KindCannotLogFilter.
type headerState struct {
	mu   sync.Mutex
	refs int32
	m    map[string]string
}

// Context is the per-request state threaded through every filter
// invocation: which filters are registered, what header carries the
// trace of filters applied, and the (possibly shared) response headers
// accumulated so far.
type Context struct {
	Registry        *Registry
	TraceHeaderName string
	headers         *headerState
}

// NewContext creates a fresh, uniquely-held Context.
func NewContext(reg *Registry, traceHeaderName string) *Context {
	return &Context{
		Registry:        reg,
		TraceHeaderName: traceHeaderName,
		headers:         &headerState{refs: 1, m: make(map[string]string)},
	}
}

// Clone returns a Context sharing the same header map, incrementing the
// reference count — used whenever a filter recurses into sibling image
// arguments (compose, pattern, the argument binder's recursive exec).
func (c *Context) Clone() *Context {
	atomic.AddInt32(&c.headers.refs, 1)
	return &Context{Registry: c.Registry, TraceHeaderName: c.TraceHeaderName, headers: c.headers}
}

// ResponseHeaders returns a snapshot of the accumulated response headers.
func (c *Context) ResponseHeaders() map[string]string {
	c.headers.mu.Lock()
	defer c.headers.mu.Unlock()
	out := make(map[string]string, len(c.headers.m))
	for k, v := range c.headers.m {
		out[k] = v
	}
	return out
}

// LogFilter appends name to the trace header, iff a trace header name is
// configured and this Context is uniquely held. If the header is
// configured but the context is shared, it fails with KindCannotLogFilter
// rather than silently dropping the entry or racing another branch.
func (c *Context) LogFilter(name string) error {
	if c.TraceHeaderName == "" {
		return nil
	}
	if atomic.LoadInt32(&c.headers.refs) != 1 {
		return ierr.New(ierr.KindCannotLogFilter, "cannot log usage of filter %s", name)
	}
	c.headers.mu.Lock()
	defer c.headers.mu.Unlock()
	cur := c.headers.m[c.TraceHeaderName]
	if cur != "" {
		cur += ","
	}
	c.headers.m[c.TraceHeaderName] = cur + name
	return nil
}

// AnnotateLastFilter appends "(suffix)" to the trace header's current
// value — used by download/cache to tag the domain or cache name next
// to the filter name they were just logged under. It is best-effort: if
// the context isn't uniquely held, or no trace header is configured, the
// call is a silent no-op (unlike LogFilter, this never fails the request).
func (c *Context) AnnotateLastFilter(suffix string) {
	if c.TraceHeaderName == "" {
		return
	}
	if atomic.LoadInt32(&c.headers.refs) != 1 {
		return
	}
	c.headers.mu.Lock()
	defer c.headers.mu.Unlock()
	cur, ok := c.headers.m[c.TraceHeaderName]
	if !ok {
		return
	}
	c.headers.m[c.TraceHeaderName] = cur + "(" + suffix + ")"
}
