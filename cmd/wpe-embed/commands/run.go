// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	wpeembed "github.com/buke/wpe-embed"
	"github.com/buke/wpe-embed/headless"
)

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Run starts the runtime on the headless backend and keeps it running until
// interrupted or until --duration elapses.
func Run(args []string, g Globals, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	url := fs.String("url", "", "Address loaded into every view when no host script is given")
	engine := fs.String("engine", "", "Host script engine ("+strings.Join(engineNames(), ", ")+")")
	duration := fs.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	noHelpers := fs.Bool("no-helpers", false, "Do not launch helper processes")
	var scripts stringList
	fs.Var(&scripts, "script", "Host script file (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	config, err := LoadConfig(g.ConfigPath)
	if err != nil {
		return err
	}
	g.apply(&config)
	if *url != "" {
		config.View.URL = *url
	}
	if *engine != "" {
		config.Host.Engine = *engine
	}
	if len(scripts) > 0 {
		config.Host.Scripts = scripts
	}
	if *noHelpers {
		config.Process.Helpers = false
	}
	if err := config.Validate(); err != nil {
		return err
	}

	logger, err := NewLogger(config.Log, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	app, err := newApp(config, g, logger)
	if err != nil {
		return err
	}
	return app.run(ctx, stdout)
}

// app is one run of the runtime on the headless backend.
type app struct {
	config  Config
	logger  *slog.Logger
	engine  *headless.Engine
	rt      *wpeembed.Runtime
	scripts []*wpeembed.Script

	mu        sync.Mutex
	renderers []*headless.Renderer
}

func newApp(config Config, g Globals, logger *slog.Logger) (*app, error) {
	a := &app{config: config, logger: logger}

	for _, path := range config.Host.Scripts {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read host script: %w", err)
		}
		a.scripts = append(a.scripts, &wpeembed.Script{Content: string(data), FileName: path})
	}

	engineOpts := []headless.Option{headless.WithLogger(logger.With("component", "headless"))}
	if !config.Process.Helpers {
		engineOpts = append(engineOpts, headless.WithoutHelpers())
	}
	a.engine = headless.NewEngine(engineOpts...)

	timeout, err := config.launchTimeout()
	if err != nil {
		return nil, err
	}
	policy, err := config.tlsPolicy()
	if err != nil {
		return nil, err
	}
	opts := []func(*wpeembed.Runtime){
		wpeembed.WithLogger(logger),
		wpeembed.WithEngine(a.engine),
		wpeembed.WithGraphics(headless.NewGraphics()),
		wpeembed.WithRendererFactory(headless.NewRendererFactory(logger.With("component", "renderer"), a.track)),
		wpeembed.WithScriptEngine(scriptEngines[config.Host.Engine]()),
		wpeembed.WithHostScripts(a.scripts...),
		wpeembed.WithFrameInterval(config.frameInterval()),
		wpeembed.WithUserAgent(config.View.UserAgent),
		wpeembed.WithTLSErrorPolicy(policy),
		wpeembed.WithLaunchTimeout(timeout),
		wpeembed.WithDirectories(config.directories()),
	}
	if config.Process.Helpers {
		spawner, err := wpeembed.NewExecSpawner("", logger.With("component", "spawner"), g.spawnArgs(config)...)
		if err != nil {
			return nil, err
		}
		opts = append(opts, wpeembed.WithSpawner(spawner))
	}

	a.rt, err = wpeembed.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime: %w", err)
	}
	return a, nil
}

func (a *app) track(r *headless.Renderer) {
	a.mu.Lock()
	a.renderers = append(a.renderers, r)
	a.mu.Unlock()
}

func (a *app) frames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n uint64
	for _, r := range a.renderers {
		n += r.Frames()
	}
	return n
}

func (a *app) run(ctx context.Context, stdout io.Writer) error {
	if err := a.rt.Start(); err != nil {
		return fmt.Errorf("failed to start runtime: %w", err)
	}
	started := time.Now()

	for i, id := range a.config.View.IDs {
		surface := headless.NewSurface(wpeembed.ViewID(id))
		res, err := wpeembed.InvokeSync(a.rt.Invoker(), func() error { return a.rt.Export(surface) })
		if err == nil {
			err = res
		}
		if err != nil {
			_ = a.rt.Stop()
			return fmt.Errorf("failed to export surface %s: %w", id, err)
		}
		surface.Create(wpeembed.NativeWindow(i+1), a.config.View.Width, a.config.View.Height)

		// Host scripts decide what to load when there are any.
		if len(a.scripts) == 0 {
			a.rt.Init(wpeembed.ViewID(id))
			if a.config.View.URL != "" {
				a.rt.LoadURL(wpeembed.ViewID(id), a.config.View.URL)
			}
		}
	}
	a.logger.Info("Running", "views", len(a.config.View.IDs), "engine", a.config.Host.Engine)

	<-ctx.Done()
	err := a.rt.Stop()

	for _, uri := range a.engine.LoadedURIs() {
		fmt.Fprintf(stdout, "loaded %s\n", uri)
	}
	fmt.Fprintf(stdout, "views: %d, frames: %d, uptime: %s\n",
		a.engine.Views(), a.frames(), time.Since(started).Round(time.Millisecond))
	return err
}
