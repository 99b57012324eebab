package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/codeact/capability"
)

// Execution strategy names accepted by the factory.
const (
	StrategyInterpreted = "interpreted"
	StrategyCompiled    = "compiled"
)

// ExecuteRequest describes one program submission.
type ExecuteRequest struct {
	// Program is the script source to run.
	Program string
	// Capture appends the artifact capture trailer to the program so a
	// rendering artifact is grabbed after the user code finishes.
	Capture bool
	// RenderWait overrides the configured pause between toolkit flush and
	// artifact capture. Zero means use the engine default.
	RenderWait time.Duration
}

// ExecuteResult carries the observable outcome of one execution.
type ExecuteResult struct {
	Stdout           string `json:"stdout"`
	Stderr           string `json:"stderr"`
	ExitCode         int    `json:"exit_code"`
	ArtifactCaptured bool   `json:"artifact_captured"`
}

// Sandbox is the execution contract shared by both strategies. A sandbox
// owns one session: bindings established by one Execute call remain
// visible to later calls until ResetContext. Execute is not safe for
// concurrent use on the same sandbox.
type Sandbox interface {
	// Execute runs a program. A fault inside the program is reported
	// through ExecuteResult (non-zero exit code, diagnostic on stderr),
	// not through the error return, which is reserved for engine
	// breakage.
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)

	// CapturedArtifact returns the most recent capture, or nil.
	CapturedArtifact() []byte

	// ClearArtifact discards the stored artifact. Idempotent.
	ClearArtifact()

	// ResetContext discards every session binding.
	ResetContext()
}

// Config holds the engine settings shared by both strategies.
type Config struct {
	// Strategy selects the sandbox implementation.
	Strategy string
	// PermissiveDeclarations lets the compiled strategy accept annotated
	// field declarations in class bodies.
	PermissiveDeclarations bool
	// RenderWait is the default pause before artifact capture.
	RenderWait time.Duration
	// Display is the X display the capture tool reads from.
	Display string
	// CaptureTool is the external command that grabs the artifact.
	CaptureTool string
	// CaptureTimeout bounds one invocation of the capture tool.
	CaptureTimeout time.Duration
	// PresentCmd is the external command toolkits present frames with.
	PresentCmd string
}

// NewSandbox builds a sandbox for the configured strategy.
func NewSandbox(logger *zap.Logger, cfg Config, caps *capability.Set, opts ...Option) (Sandbox, error) {
	switch cfg.Strategy {
	case StrategyInterpreted:
		return NewInterpretedSandbox(logger, cfg, caps, opts...), nil
	case StrategyCompiled:
		return NewCompiledSandbox(logger, cfg, caps, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported strategy: %s", cfg.Strategy)
	}
}

// Option configures a sandbox at construction time.
type Option func(*core)

// WithCommandRunner replaces the external command runner. Used by tests
// to avoid invoking real capture tools.
func WithCommandRunner(runner CommandRunner) Option {
	return func(c *core) { c.runner = runner }
}

// WithFileSystem replaces the filesystem the capture path goes through.
func WithFileSystem(fs FileSystem) Option {
	return func(c *core) { c.fs = fs }
}

// WithPresenter replaces the presenter toolkits flush frames to.
func WithPresenter(p Presenter) Option {
	return func(c *core) { c.presenter = p }
}

// WithSleep replaces the render wait sleep function.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *core) { c.sleep = sleep }
}

// WithModule registers an additional module provider.
func WithModule(mod *Module) Option {
	return func(c *core) { c.extra = append(c.extra, mod) }
}

// core holds the per-session state shared by both strategies.
type core struct {
	id        string
	log       *zap.Logger
	cfg       Config
	caps      *capability.Set
	bindings  *Context
	registry  *moduleRegistry
	capture   *captureCoordinator
	toolkits  []Toolkit
	runner    CommandRunner
	fs        FileSystem
	presenter Presenter
	sleep     func(time.Duration)
	extra     []*Module
	out       *outputBuffer
	capturing bool
}

func newCore(logger *zap.Logger, cfg Config, caps *capability.Set, opts ...Option) *core {
	c := &core{
		id:       uuid.New().String(),
		log:      logger,
		cfg:      cfg,
		caps:     caps,
		bindings: NewContext(),
		runner:   &RealCommandRunner{},
		fs:       RealFileSystem{},
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.presenter == nil {
		c.presenter = &CommandPresenter{
			Runner:  c.runner,
			FS:      c.fs,
			Command: cfg.PresentCmd,
			Display: cfg.Display,
			Timeout: cfg.CaptureTimeout,
		}
	}
	c.capture = newCaptureCoordinator(logger, c.runner, c.fs, c.sleep, cfg)
	c.registry = newModuleRegistry(c.presenter)
	for _, mod := range c.extra {
		c.registry.register(mod)
	}
	c.log = logger.With(zap.String("session_id", c.id))
	return c
}

// resolveModule authorizes a requested name and returns its provider.
// Extended modules that carry a toolkit are adopted into the session so
// their buffered output is flushed before artifact capture.
func (c *core) resolveModule(name string) (*Module, error) {
	top := capability.TopLevel(name)
	decision := c.caps.Authorize(name)
	if decision == capability.Denied {
		c.log.Warn("module denied", zap.String("module", top))
		return nil, &capability.Error{Name: top}
	}
	mod, ok := c.registry.lookup(top)
	if !ok {
		return nil, fmt.Errorf("module %q is authorized but has no provider", top)
	}
	if mod.Toolkit != nil {
		c.adoptToolkit(mod.Toolkit)
	}
	c.log.Debug("module resolved",
		zap.String("module", top),
		zap.String("tier", decision.String()))
	return mod, nil
}

func (c *core) adoptToolkit(tk Toolkit) {
	for _, have := range c.toolkits {
		if have.Name() == tk.Name() {
			return
		}
	}
	c.toolkits = append(c.toolkits, tk)
}

// flushToolkits pushes buffered toolkit state to the rendering surface.
// A failing toolkit is reported on the output trail and does not stop
// the remaining toolkits from flushing.
func (c *core) flushToolkits() {
	for _, tk := range c.toolkits {
		if err := tk.Flush(); err != nil {
			c.log.Warn("toolkit flush failed",
				zap.String("toolkit", tk.Name()), zap.Error(err))
			c.out.printf("[capture] flush failed: %s: %v", tk.Name(), err)
			continue
		}
		c.out.printf("[capture] flushed %s", tk.Name())
	}
}

// captureBindings are the host functions the capture trailer calls.
func (c *core) captureBindings(ctx context.Context) map[string]any {
	return map[string]any{
		"__flush_toolkits__": func(args ...any) (any, error) {
			c.flushToolkits()
			return nil, nil
		},
		"__render_wait__": func(args ...any) (any, error) {
			c.capture.Wait()
			return nil, nil
		},
		"__capture__": func(args ...any) (any, error) {
			return c.capture.CaptureNow(ctx), nil
		},
	}
}

// baseBuiltins are the host functions available to every program. The
// module accessor differs per strategy and is bound separately.
func (c *core) baseBuiltins() map[string]any {
	return map[string]any{
		"print": func(args ...any) (any, error) {
			c.out.printValues(args)
			return nil, nil
		},
		"jsonify": func(args ...any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("jsonify expects exactly one argument, got %d", len(args))
			}
			return jsonify(args[0]), nil
		},
	}
}

func (c *core) beginRun(req *ExecuteRequest) {
	c.out = newOutputBuffer()
	c.capturing = req.Capture
	if req.Capture {
		c.capture.Clear()
		c.capture.SetRenderWait(req.RenderWait)
	}
}

func (c *core) finishRun(runErr error) ExecuteResult {
	res := ExecuteResult{
		Stdout:           c.out.String(),
		ArtifactCaptured: c.capturing && len(c.capture.Artifact()) > 0,
	}
	if runErr != nil {
		res.Stderr = formatFault(runErr)
		res.ExitCode = 1
	}
	c.out = nil
	return res
}

func (c *core) CapturedArtifact() []byte {
	return c.capture.Artifact()
}

func (c *core) ClearArtifact() {
	c.capture.Clear()
}
