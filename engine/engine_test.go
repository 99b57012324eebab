package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codeact/capability"
)

func TestNewSandbox(t *testing.T) {
	caps := capability.NewSet(StandardModuleNames(), nil)

	t.Run("Interpreted", func(t *testing.T) {
		sandbox, err := NewSandbox(zaptest.NewLogger(t), testConfig(StrategyInterpreted), caps)
		require.NoError(t, err)
		assert.IsType(t, &InterpretedSandbox{}, sandbox)
	})

	t.Run("Compiled", func(t *testing.T) {
		sandbox, err := NewSandbox(zaptest.NewLogger(t), testConfig(StrategyCompiled), caps)
		require.NoError(t, err)
		assert.IsType(t, &CompiledSandbox{}, sandbox)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := NewSandbox(zaptest.NewLogger(t), testConfig("jit"), caps)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported strategy")
	})
}

// The strategies are interchangeable for the shared surface: same
// output, same persistence behavior, same fault classes.
func TestStrategyParity(t *testing.T) {
	for _, strategy := range []string{StrategyInterpreted, StrategyCompiled} {
		t.Run(strategy, func(t *testing.T) {
			sandbox := newTestSandbox(t, strategy, nil)

			res := mustExecute(t, sandbox, `greeting = "hello"; print(greeting + " world")`)
			assert.Equal(t, "hello world\n", res.Stdout)

			res = mustExecute(t, sandbox, `print(greeting)`)
			assert.Equal(t, "hello\n", res.Stdout)

			denied, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: `use("sockets")`})
			require.NoError(t, err)
			assert.Equal(t, 1, denied.ExitCode)
			assert.Contains(t, denied.Stderr, `module "sockets" is not authorized`)

			res = mustExecute(t, sandbox, `m = use("math"); print(m.abs(-7))`)
			assert.Equal(t, "7\n", res.Stdout)

			sandbox.ResetContext()
			gone, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: `print(greeting)`})
			require.NoError(t, err)
			assert.Equal(t, 1, gone.ExitCode)
			assert.Contains(t, gone.Stderr, "greeting")
		})
	}
}

func TestStandardModules(t *testing.T) {
	assert.Equal(t, []string{"math", "strings", "json"}, StandardModuleNames())

	registry := newModuleRegistry(&MemoryPresenter{})
	for _, name := range StandardModuleNames() {
		mod, ok := registry.lookup(name)
		require.True(t, ok, "standard module %q missing", name)
		assert.Nil(t, mod.Toolkit, "standard modules carry no toolkit")
	}

	canvas, ok := registry.lookup("canvas")
	require.True(t, ok)
	assert.NotNil(t, canvas.Toolkit)
}

func TestModuleHelpers(t *testing.T) {
	mathMod := mathModule()

	t.Run("MinMax", func(t *testing.T) {
		assert.EqualValues(t, 1, callSymbol(t, mathMod, "min", 3.0, 1.0, 2.0))
		assert.EqualValues(t, 3, callSymbol(t, mathMod, "max", 3.0, 1.0, 2.0))
	})

	t.Run("BadArgument", func(t *testing.T) {
		fn := mathMod.Symbols["sqrt"].(hostFunc)
		_, err := fn("nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "math.sqrt")
	})

	stringsMod := stringsModule()
	t.Run("SplitJoin", func(t *testing.T) {
		parts := callSymbol(t, stringsMod, "split", "a,b,c", ",")
		assert.Equal(t, []any{"a", "b", "c"}, parts)
		joined := callSymbol(t, stringsMod, "join", parts, "-")
		assert.Equal(t, "a-b-c", joined)
	})
}

func TestExecuteRequestDefaults(t *testing.T) {
	coord := newCaptureCoordinator(zaptest.NewLogger(t), &fakeRunner{}, RealFileSystem{},
		func(time.Duration) {}, testConfig(StrategyCompiled))

	coord.SetRenderWait(0)
	assert.Equal(t, time.Millisecond, coord.renderWait)

	coord.SetRenderWait(3 * time.Second)
	assert.Equal(t, 3*time.Second, coord.renderWait)
}
