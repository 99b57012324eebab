package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpretedBasics(t *testing.T) {
	tests := []struct {
		name    string
		program string
		stdout  string
	}{
		{"Print", `print("hello")`, "hello\n"},
		{"PrintMultiple", `print("a", 1, true)`, "a 1 true\n"},
		{"Arithmetic", `print(2 + 3 * 4)`, "14\n"},
		{"StringConcat", `print("n=" + 5)`, "n=5\n"},
		{"Template", "x = 7; print(`x is ${x}`)", "x is 7\n"},
		{"Conditional", `print(3 > 2 ? "yes" : "no")`, "yes\n"},
		{"WhileLoop", `i = 0; total = 0; while (i < 4) { total = total + i; i = i + 1; } print(total)`, "6\n"},
		{"ForLoop", `total = 0; for (let i = 1; i <= 3; i++) { total = total + i; } print(total)`, "6\n"},
		{"ForOf", `for (const n of [1, 2, 3]) { print(n); }`, "1\n2\n3\n"},
		{"Function", `function add(a, b) { return a + b; } print(add(4, 5))`, "9\n"},
		{"Arrow", `double = (n) => n * 2; print(double(21))`, "42\n"},
		{"Recursion", `function fact(n) { if (n <= 1) { return 1; } return n * fact(n - 1); } print(fact(5))`, "120\n"},
		{"Closure", `function counter() { let n = 0; return () => { n = n + 1; return n; }; } c = counter(); c(); print(c())`, "2\n"},
		{"Objects", `o = {a: 1}; o.b = 2; print(o.a + o.b)`, "3\n"},
		{"Arrays", `a = [10, 20, 30]; a[1] = 25; print(a[1], a.length)`, "25 3\n"},
		{"TryCatch", `try { throw "boom"; } catch (e) { print("caught", e); }`, "caught boom\n"},
		{"Switch", `switch (2) { case 1: print("one"); break; case 2: print("two"); break; default: print("other"); }`, "two\n"},
		{"Jsonify", `print(jsonify({k: "v"}))`, `{"k":"v"}` + "\n"},
		{"Typeof", `print(typeof "s", typeof 1, typeof undefined)`, "string number undefined\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sandbox := newTestSandbox(t, StrategyInterpreted, nil)
			res := mustExecute(t, sandbox, tt.program)
			assert.Equal(t, tt.stdout, res.Stdout)
		})
	}
}

func TestInterpretedContextPersistence(t *testing.T) {
	sandbox := newTestSandbox(t, StrategyInterpreted, nil)

	mustExecute(t, sandbox, `x = 1`)
	res := mustExecute(t, sandbox, `print(x)`)
	assert.Equal(t, "1\n", res.Stdout)

	mustExecute(t, sandbox, `x = x + 10; function bump(n) { return n + x; }`)
	res = mustExecute(t, sandbox, `print(bump(1))`)
	assert.Equal(t, "12\n", res.Stdout)

	sandbox.ResetContext()
	res, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: `print(x)`})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, `name "x" is not defined`)
}

func TestInterpretedFaultIsolation(t *testing.T) {
	sandbox := newTestSandbox(t, StrategyInterpreted, nil)

	mustExecute(t, sandbox, `stable = "kept"`)

	res, err := sandbox.Execute(context.Background(), ExecuteRequest{
		Program: `partial = 1; explode()`,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, `name "explode" is not defined`)

	// bindings from before and during the faulted run both survive
	res = mustExecute(t, sandbox, `print(stable, partial)`)
	assert.Equal(t, "kept 1\n", res.Stdout)
}

func TestInterpretedModules(t *testing.T) {
	t.Run("StdlibResolvesWithoutProvisioning", func(t *testing.T) {
		sandbox := newTestSandbox(t, StrategyInterpreted, nil)
		res := mustExecute(t, sandbox, `m = use("math"); print(m.abs(-3), m.floor(2.9))`)
		assert.Equal(t, "3 2\n", res.Stdout)
	})

	t.Run("StringsAndJSON", func(t *testing.T) {
		sandbox := newTestSandbox(t, StrategyInterpreted, nil)
		res := mustExecute(t, sandbox, `
s = use("strings");
j = use("json");
print(s.upper("abc"));
print(j.stringify([1, 2]));
parsed = j.parse("{\"n\": 5}");
print(parsed.n);
`)
		assert.Equal(t, "ABC\n[1,2]\n5\n", res.Stdout)
	})

	t.Run("DeniedModuleNamesOffender", func(t *testing.T) {
		sandbox := newTestSandbox(t, StrategyInterpreted, nil)
		res, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: `use("net")`})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Stderr, `module "net" is not authorized`)
	})

	t.Run("DottedNameAuthorizedByTopLevel", func(t *testing.T) {
		sandbox := newTestSandbox(t, StrategyInterpreted, nil)
		res, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: `use("net.http")`})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Stderr, `module "net" is not authorized`)
	})

	t.Run("ExtendedModuleNeedsGrant", func(t *testing.T) {
		denied := newTestSandbox(t, StrategyInterpreted, nil)
		res, err := denied.Execute(context.Background(), ExecuteRequest{Program: `use("canvas")`})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Stderr, `module "canvas" is not authorized`)

		granted := newTestSandbox(t, StrategyInterpreted, []string{"canvas"})
		mustExecute(t, granted, `c = use("canvas"); c.rect(0, 0, 2, 2, "red")`)
	})
}

func TestInterpretedClassGap(t *testing.T) {
	sandbox := newTestSandbox(t, StrategyInterpreted, nil)

	t.Run("DeclarationSucceeds", func(t *testing.T) {
		mustExecute(t, sandbox, `class Point { describe() { return "p"; } }`)
	})

	t.Run("InstantiationFaults", func(t *testing.T) {
		res, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: `p = new Point()`})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Stderr, `class "Point"`)
		assert.Contains(t, res.Stderr, "compiled strategy")
	})

	t.Run("MemberAccessFaults", func(t *testing.T) {
		res, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: `Point.describe()`})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Stderr, "not materialized")
	})
}

func TestInterpretedFaultReporting(t *testing.T) {
	t.Run("ParseFailure", func(t *testing.T) {
		sandbox := newTestSandbox(t, StrategyInterpreted, nil)
		res, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: `function (`})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Stderr, "parse failed")
	})

	t.Run("ThrownValue", func(t *testing.T) {
		sandbox := newTestSandbox(t, StrategyInterpreted, nil)
		res, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: `throw "custom fault"`})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Stderr, "uncaught exception: custom fault")
	})

	t.Run("LineNumbers", func(t *testing.T) {
		sandbox := newTestSandbox(t, StrategyInterpreted, nil)
		res, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: "x = 1;\ny = 2;\nmissing()"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Stderr, "line 3")
	})

	t.Run("ProtectedAttributeWrite", func(t *testing.T) {
		sandbox := newTestSandbox(t, StrategyInterpreted, nil)
		res, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: `o = {}; o.__proto__ = 1`})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Stderr, `protected attribute "__proto__"`)
	})

	t.Run("CallDepthLimit", func(t *testing.T) {
		sandbox := newTestSandbox(t, StrategyInterpreted, nil)
		res, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: `function loop() { return loop(); } loop()`})
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Stderr, "call depth limit")
	})
}

func TestInterpretedCancellation(t *testing.T) {
	sandbox := newTestSandbox(t, StrategyInterpreted, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := sandbox.Execute(ctx, ExecuteRequest{Program: `while (true) { x = 1; }`})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "execution canceled")
}
