// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package wpeembed

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RuntimeOption contains configuration options for the runtime.
type RuntimeOption struct {
	frameInterval time.Duration     // Frame cadence ceiling of every view
	userAgent     string            // User agent set on every web view
	tlsPolicy     TLSErrorPolicy    // Certificate error policy
	launchTimeout time.Duration     // Bound on the host round trip of a launch (0 = wait forever)
	directories   DirectoryResolver // Directories handed to helper processes
}

// Runtime ties the host loop, the native loop and the process launcher
// together for one embedding.
type Runtime struct {
	options         *RuntimeOption
	engine          Engine
	graphics        GraphicsConnector
	rendererFactory RendererFactory
	spawner         Spawner
	scriptFactory   ScriptEngineFactory

	hostScripts atomic.Pointer[[]*Script]

	invoker  *Invoker
	host     *NativeLoopHost
	launcher *Launcher
	hostLoop *hostLoop

	eventMu      sync.Mutex
	eventHandler func(ViewEvent)

	started atomic.Bool
	stopped atomic.Bool

	logger *slog.Logger
}

// New creates a runtime with the given options. An engine is required.
func New(opts ...func(*Runtime)) (*Runtime, error) {
	rt := &Runtime{
		logger: slog.Default(),
		options: &RuntimeOption{
			frameInterval: DefaultFrameInterval,
			userAgent:     DefaultUserAgent,
			tlsPolicy:     TLSErrorsIgnore,
		},
	}

	for _, opt := range opts {
		opt(rt)
	}

	if rt.engine == nil {
		return nil, fmt.Errorf("browser engine must be provided")
	}
	if rt.graphics == nil {
		return nil, fmt.Errorf("graphics connector must be provided")
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}

	rt.invoker = NewInvoker(rt.logger.With("component", "invoker"))
	rt.launcher = newLauncher(rt.invoker, rt.spawner, rt.options.directories, rt.options.launchTimeout,
		rt.logger.With("component", "launcher"))
	rt.host = newNativeLoopHost(hostConfig{
		engine:          rt.engine,
		graphics:        rt.graphics,
		rendererFactory: rt.rendererFactory,
		frameInterval:   rt.options.frameInterval,
		userAgent:       rt.options.userAgent,
		tlsPolicy:       rt.options.tlsPolicy,
		provider:        rt.launcher,
		onViewEvent:     rt.forwardViewEvent,
	}, rt.logger.With("component", "native-loop"))
	if rt.scriptFactory != nil {
		rt.hostLoop = newHostLoop(rt, "host")
	}
	if es, ok := rt.spawner.(*ExecSpawner); ok {
		es.SetExitHandler(rt.launcher.OnExit)
	}
	return rt, nil
}

// Invoker returns the host loop invoker.
func (r *Runtime) Invoker() *Invoker {
	return r.invoker
}

// Host returns the native loop host.
func (r *Runtime) Host() *NativeLoopHost {
	return r.host
}

// Launcher returns the helper process launcher.
func (r *Runtime) Launcher() *Launcher {
	return r.launcher
}

// Logger returns the runtime logger.
func (r *Runtime) Logger() *slog.Logger {
	return r.logger
}

func (r *Runtime) getHostScripts() []*Script {
	p := r.hostScripts.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (r *Runtime) setHostScripts(scripts []*Script) {
	if len(scripts) == 0 {
		r.hostScripts.Store(nil)
		return
	}
	s := make([]*Script, len(scripts))
	copy(s, scripts)
	r.hostScripts.Store(&s)
}

// AttachHost binds the invoker to the caller's loop. Embedders that run
// their own host loop call it from that loop, then call Invoker().Drain on
// every wake. It must not be used together with WithScriptEngine.
func (r *Runtime) AttachHost(w Waker) bool {
	if r.hostLoop != nil {
		r.logger.Error("AttachHost with a built-in host loop")
		return false
	}
	return r.invoker.Init(w)
}

// Start starts the built-in host loop, when configured, then the native loop.
func (r *Runtime) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return errors.New("runtime already started")
	}
	if r.hostLoop != nil {
		if err := r.hostLoop.start(); err != nil {
			return fmt.Errorf("failed to start host loop: %w", err)
		}
		r.SetViewEventHandler(r.hostLoop.dispatchViewEvent)
	}
	r.host.Start()
	r.logger.Debug("Runtime started",
		"frameInterval", r.options.frameInterval,
		"tlsPolicy", int(r.options.tlsPolicy),
		"launchTimeout", r.options.launchTimeout,
		"hostLoop", r.hostLoop != nil,
	)
	return nil
}

// Stop stops the native loop, destroying every web view, then the host loop.
func (r *Runtime) Stop() error {
	if !r.stopped.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := r.host.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.hostLoop != nil && r.started.Load() {
		if err := r.hostLoop.stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload re-runs the host scripts in a fresh script environment.
func (r *Runtime) Reload(scripts ...*Script) error {
	if r.hostLoop == nil {
		return errors.New("no host script engine configured")
	}
	if len(scripts) > 0 {
		r.setHostScripts(scripts)
	}
	return r.hostLoop.reload()
}

// Eval evaluates a host script on the host loop and dispatches the web view
// calls it makes.
func (r *Runtime) Eval(script *Script) error {
	if r.hostLoop == nil {
		return errors.New("no host script engine configured")
	}
	if script == nil {
		return errors.New("script cannot be nil")
	}
	if r.stopped.Load() {
		return errors.New("runtime is stopped")
	}
	res, err := InvokeSync(r.invoker, func() error { return r.hostLoop.eval(script) })
	if err != nil {
		return err
	}
	return res
}

// Stats reports host loop activity. It is zero without a script engine.
func (r *Runtime) Stats() HostStats {
	if r.hostLoop == nil {
		return HostStats{}
	}
	return r.hostLoop.stats()
}

// Export registers a host surface. It must be called on the host loop.
func (r *Runtime) Export(s Surface) error {
	if s == nil {
		return errors.New("surface cannot be nil")
	}
	if !r.invoker.IsHostThread() {
		return errors.New("surfaces must be exported on the host loop")
	}
	id := s.ID()
	if id == "" {
		return errors.New("surface has no view id")
	}
	s.SetCallbacks(r.surfaceCallbacks(id))
	r.logger.Debug("Surface exported", "view", string(id))
	return nil
}

// Init requests the web view for id. Before the native loop is ready the
// request is deferred until it is.
func (r *Runtime) Init(id ViewID) {
	r.host.RequestViewInit(id)
}

// LoadURL navigates the web view for id on the native loop.
func (r *Runtime) LoadURL(id ViewID, url string) {
	_ = r.host.Run(func() {
		r.host.WebView(id).LoadURL(url)
	})
}

// HandleHostCall dispatches a call issued by a host script.
func (r *Runtime) HandleHostCall(call HostCall) error {
	if err := call.Validate(); err != nil {
		r.logger.Warn("Rejected host call", "op", call.Op, "view", string(call.ID), "error", err)
		return err
	}
	switch call.Op {
	case HostCallInit:
		r.Init(call.ID)
	case HostCallLoadURL:
		r.LoadURL(call.ID, call.URL)
	}
	return nil
}

// SetViewEventHandler sets the function that receives navigation events on
// the host loop.
func (r *Runtime) SetViewEventHandler(fn func(ViewEvent)) {
	r.eventMu.Lock()
	r.eventHandler = fn
	r.eventMu.Unlock()
}

// forwardViewEvent runs on the native loop and hops the event to the host.
func (r *Runtime) forwardViewEvent(ev ViewEvent) {
	r.eventMu.Lock()
	fn := r.eventHandler
	r.eventMu.Unlock()
	if fn == nil {
		return
	}
	if err := r.invoker.InvokeAsync(func() { fn(ev) }); err != nil {
		r.logger.Debug("View event not delivered", "view", string(ev.ID), "error", err)
	}
}

// WithEngine configures the browser engine.
func WithEngine(engine Engine) func(*Runtime) {
	return func(rt *Runtime) {
		rt.engine = engine
	}
}

// WithGraphics configures the graphics display connector.
func WithGraphics(graphics GraphicsConnector) func(*Runtime) {
	return func(rt *Runtime) {
		rt.graphics = graphics
	}
}

// WithRendererFactory configures how view renderers are created.
func WithRendererFactory(factory RendererFactory) func(*Runtime) {
	return func(rt *Runtime) {
		rt.rendererFactory = factory
	}
}

// WithSpawner configures the helper process spawner.
func WithSpawner(spawner Spawner) func(*Runtime) {
	return func(rt *Runtime) {
		rt.spawner = spawner
	}
}

// WithLogger configures the logger for the runtime.
func WithLogger(logger *slog.Logger) func(*Runtime) {
	return func(rt *Runtime) {
		rt.logger = logger
	}
}

// WithScriptEngine runs a built-in host loop with scripts from factory.
func WithScriptEngine(factory ScriptEngineFactory) func(*Runtime) {
	return func(rt *Runtime) {
		rt.scriptFactory = factory
	}
}

// WithHostScripts configures the scripts run when the host loop starts.
func WithHostScripts(scripts ...*Script) func(*Runtime) {
	return func(rt *Runtime) {
		if len(scripts) > 0 {
			rt.setHostScripts(scripts)
		}
	}
}

// WithDirectories configures the directories handed to helper processes.
func WithDirectories(resolver DirectoryResolver) func(*Runtime) {
	return func(rt *Runtime) {
		if resolver != nil {
			rt.options.directories = resolver
		}
	}
}

func WithFrameInterval(interval time.Duration) func(*Runtime) {
	return func(rt *Runtime) {
		if interval > 0 {
			rt.options.frameInterval = interval
		}
	}
}

func WithUserAgent(userAgent string) func(*Runtime) {
	return func(rt *Runtime) {
		if userAgent != "" {
			rt.options.userAgent = userAgent
		}
	}
}

func WithTLSErrorPolicy(policy TLSErrorPolicy) func(*Runtime) {
	return func(rt *Runtime) {
		if policy == TLSErrorsIgnore || policy == TLSErrorsFail {
			rt.options.tlsPolicy = policy
		}
	}
}

func WithLaunchTimeout(timeout time.Duration) func(*Runtime) {
	return func(rt *Runtime) {
		if timeout > 0 {
			rt.options.launchTimeout = timeout
		}
	}
}
