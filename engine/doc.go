// Package engine provides the sandboxed script execution engine.
//
// The engine runs untrusted ECMAScript source inside a constrained sandbox
// built on the goja engine and its parser. Two interchangeable execution
// strategies implement the same Sandbox contract:
//
//   - InterpretedSandbox walks the parsed tree and evaluates it node by
//     node. It supports a documented language subset; class declarations
//     are bound as inert stubs whose generated constructors never
//     materialize, which is a known semantic gap of this strategy.
//   - CompiledSandbox validates the tree with a deny-by-default
//     transformer, rewrites attribute writes through a guard function,
//     then compiles and runs the program with full native semantics.
//
// Both strategies route module resolution through the capability package,
// share one persistent session context across Execute calls, and can
// capture a rendering artifact during execution by appending a trailer to
// the submitted program.
//
// Usage:
//
//	sandbox, err := engine.NewSandbox(logger, cfg, caps)
//	result, err := sandbox.Execute(ctx, engine.ExecuteRequest{
//	    Program: `print("hello")`,
//	})
package engine
