package engine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codeact/capability"
)

// fakeRunner stands in for the external capture tool. On success it
// writes its canned artifact to the path the engine asked for.
type fakeRunner struct {
	artifact []byte
	exitCode int
	err      error
	calls    [][]string
}

func (r *fakeRunner) RunCommand(ctx context.Context, args []string) (string, string, int, error) {
	r.calls = append(r.calls, args)
	if r.err != nil {
		return "", "", 0, r.err
	}
	if r.exitCode != 0 {
		return "", "tool failed", r.exitCode, nil
	}
	path := args[len(args)-1]
	if err := os.WriteFile(path, r.artifact, 0o600); err != nil {
		return "", "", 0, err
	}
	return "", "", 0, nil
}

func testConfig(strategy string) Config {
	return Config{
		Strategy:               strategy,
		PermissiveDeclarations: true,
		RenderWait:             time.Millisecond,
		Display:                ":99",
		CaptureTool:            "import",
		CaptureTimeout:         time.Second,
		PresentCmd:             "display",
	}
}

func newTestSandbox(t *testing.T, strategy string, extended []string, opts ...Option) Sandbox {
	t.Helper()
	caps := capability.NewSet(StandardModuleNames(), extended)
	base := []Option{WithSleep(func(time.Duration) {})}
	sandbox, err := NewSandbox(zaptest.NewLogger(t), testConfig(strategy), caps, append(base, opts...)...)
	require.NoError(t, err)
	return sandbox
}

func mustExecute(t *testing.T, sandbox Sandbox, program string) ExecuteResult {
	t.Helper()
	res, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: program})
	require.NoError(t, err)
	require.Zero(t, res.ExitCode, "unexpected fault: %s", res.Stderr)
	return res
}
