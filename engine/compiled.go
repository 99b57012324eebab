package engine

import (
	"context"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/isdmx/codeact/capability"
)

const compiledMaxCallStack = 512

// CompiledSandbox validates programs with the deny-by-default
// transformer, then compiles and runs them on a native script runtime.
// Attribute writes go through the __setmember__ guard the transformer
// splices in; everything else keeps full native semantics, including
// class declarations with methods and, when permissive declarations are
// enabled, annotated field declarations.
//
// The runtime persists across Execute calls, so top-level bindings form
// the session context. After every run, including faulted ones, the
// global bindings are harvested into the shared Context.
type CompiledSandbox struct {
	*core
	permissive bool
	rt         *goja.Runtime
	hostNames  map[string]struct{}
}

// NewCompiledSandbox builds a compiled-strategy sandbox.
func NewCompiledSandbox(logger *zap.Logger, cfg Config, caps *capability.Set, opts ...Option) *CompiledSandbox {
	s := &CompiledSandbox{
		core:       newCore(logger, cfg, caps, opts...),
		permissive: cfg.PermissiveDeclarations,
		hostNames:  make(map[string]struct{}),
	}
	s.log = s.log.With(zap.String("strategy", StrategyCompiled))
	return s
}

// Execute implements Sandbox.
func (s *CompiledSandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	s.beginRun(&req)

	transformed, err := transformProgram(req.Program, s.permissive)
	if err != nil {
		s.log.Info("program rejected", zap.Error(err))
		return s.finishRun(err), nil
	}
	if req.Capture {
		transformed += captureTrailer
	}

	prog, err := goja.Compile("program", transformed, false)
	if err != nil {
		s.log.Info("program failed to compile", zap.Error(err))
		return s.finishRun(err), nil
	}

	rt := s.runtime()
	s.bindCapture(rt, ctx)
	stop := s.watchdog(ctx, rt)
	_, runErr := rt.RunProgram(prog)
	stop()

	s.harvest(rt)

	res := s.finishRun(runErr)
	s.log.Debug("execution finished",
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("artifact_captured", res.ArtifactCaptured),
		zap.Int("context_bindings", s.bindings.Len()))
	return res, nil
}

// ResetContext drops the session bindings and the runtime they live in.
func (s *CompiledSandbox) ResetContext() {
	s.bindings.Reset()
	s.toolkits = nil
	s.rt = nil
	s.log.Info("session context reset")
}

// runtime returns the persistent runtime, creating and hardening it on
// first use. Dynamic evaluation entry points are removed before any
// program runs.
func (s *CompiledSandbox) runtime() *goja.Runtime {
	if s.rt != nil {
		return s.rt
	}
	rt := goja.New()
	rt.SetMaxCallStackSize(compiledMaxCallStack)

	rt.Set("eval", goja.Undefined())
	rt.Set("Function", goja.Undefined())
	rt.Set("globalThis", goja.Undefined())
	s.host("eval", "Function", "globalThis")

	for name, fn := range s.baseBuiltins() {
		rt.Set(name, fn)
		s.host(name)
	}
	rt.Set("use", func(name string) (map[string]any, error) {
		mod, err := s.resolveModule(name)
		if err != nil {
			return nil, err
		}
		return mod.Symbols, nil
	})
	rt.Set("__setmember__", func(obj *goja.Object, key, val goja.Value) (goja.Value, error) {
		name := key.String()
		if protectedName(name) {
			return nil, &ProtectedWriteError{Name: name}
		}
		if err := obj.Set(name, val); err != nil {
			return nil, err
		}
		return val, nil
	})
	s.host("use", "__setmember__")

	s.rt = rt
	return rt
}

// bindCapture refreshes the trailer host functions for the current run
// so they observe the caller's context.
func (s *CompiledSandbox) bindCapture(rt *goja.Runtime, ctx context.Context) {
	for name, fn := range s.captureBindings(ctx) {
		rt.Set(name, fn)
		s.host(name)
	}
}

func (s *CompiledSandbox) host(names ...string) {
	for _, name := range names {
		s.hostNames[name] = struct{}{}
	}
}

// watchdog interrupts the runtime when the caller's context is
// canceled. The returned stop function must be called after the run.
func (s *CompiledSandbox) watchdog(ctx context.Context, rt *goja.Runtime) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			rt.Interrupt("execution canceled")
		case <-done:
		}
	}()
	return func() {
		close(done)
		rt.ClearInterrupt()
	}
}

// harvest mirrors the runtime's enumerable globals into the session
// context. Runs after every execution, faulted or not, so bindings
// established before a fault survive it.
func (s *CompiledSandbox) harvest(rt *goja.Runtime) {
	global := rt.GlobalObject()
	for _, key := range global.Keys() {
		if _, isHost := s.hostNames[key]; isHost {
			continue
		}
		v := global.Get(key)
		if v == nil {
			continue
		}
		s.bindings.Set(key, v.Export())
	}
}
