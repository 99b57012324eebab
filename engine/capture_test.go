package engine

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/png"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingToolkit struct{}

func (failingToolkit) Name() string { return "blinker" }
func (failingToolkit) Flush() error { return errors.New("surface gone") }

// surfaceRunner imitates a capture tool that reads whatever the
// presenter last showed on the surface.
type surfaceRunner struct {
	presenter *MemoryPresenter
}

func (r *surfaceRunner) RunCommand(_ context.Context, args []string) (string, string, int, error) {
	if len(r.presenter.Frames) == 0 {
		return "", "nothing on the surface", 1, nil
	}
	path := args[len(args)-1]
	frame := r.presenter.Frames[len(r.presenter.Frames)-1]
	if err := os.WriteFile(path, frame, 0o600); err != nil {
		return "", "", 0, err
	}
	return "", "", 0, nil
}

func TestCaptureFlow(t *testing.T) {
	for _, strategy := range []string{StrategyInterpreted, StrategyCompiled} {
		t.Run(strategy, func(t *testing.T) {
			runner := &fakeRunner{artifact: []byte("PNGDATA")}
			presenter := &MemoryPresenter{}
			sandbox := newTestSandbox(t, strategy, []string{"canvas"},
				WithCommandRunner(runner), WithPresenter(presenter))

			res, err := sandbox.Execute(context.Background(), ExecuteRequest{
				Program: `c = use("canvas"); c.rect(0, 0, 4, 4, "blue"); print("drawn");`,
				Capture: true,
			})
			require.NoError(t, err)
			require.Zero(t, res.ExitCode, res.Stderr)
			assert.True(t, res.ArtifactCaptured)
			assert.Equal(t, []byte("PNGDATA"), sandbox.CapturedArtifact())

			// user output precedes the capture trail, flush precedes the grab
			lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
			require.Equal(t, []string{
				"drawn",
				"[capture] preparing artifact",
				"[capture] flushed canvas",
				"[capture] artifact captured",
			}, lines)

			// the drawing reached the surface before the capture tool ran
			require.Len(t, presenter.Frames, 1)
			require.Len(t, runner.calls, 1)
			assert.Equal(t, "import", runner.calls[0][0])
			assert.Contains(t, runner.calls[0], ":99")
		})
	}
}

// The captured buffer reflects toolkit state as of the end of the
// submitted program: a shape drawn during the run shows up in the
// artifact.
func TestCaptureReflectsDrawnState(t *testing.T) {
	presenter := &MemoryPresenter{}
	runner := &surfaceRunner{presenter: presenter}
	sandbox := newTestSandbox(t, StrategyCompiled, []string{"canvas"},
		WithCommandRunner(runner), WithPresenter(presenter))

	res, err := sandbox.Execute(context.Background(), ExecuteRequest{
		Program: `c = use("canvas"); c.rect(0, 0, 8, 8, "blue");`,
		Capture: true,
	})
	require.NoError(t, err)
	require.Zero(t, res.ExitCode, res.Stderr)
	require.True(t, res.ArtifactCaptured)

	img, err := png.Decode(bytes.NewReader(sandbox.CapturedArtifact()))
	require.NoError(t, err)

	r, g, b, _ := img.At(2, 2).RGBA()
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255})

	r, g, b, _ = img.At(100, 100).RGBA()
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255})
}

func TestCaptureWithoutToolkits(t *testing.T) {
	runner := &fakeRunner{artifact: []byte("RAW")}
	sandbox := newTestSandbox(t, StrategyCompiled, nil, WithCommandRunner(runner))

	res, err := sandbox.Execute(context.Background(), ExecuteRequest{
		Program: `print("plain")`,
		Capture: true,
	})
	require.NoError(t, err)
	assert.True(t, res.ArtifactCaptured)
	assert.Contains(t, res.Stdout, "[capture] artifact captured")
	assert.NotContains(t, res.Stdout, "flushed")
}

func TestCaptureFailureDoesNotFailRun(t *testing.T) {
	runner := &fakeRunner{exitCode: 1}
	sandbox := newTestSandbox(t, StrategyCompiled, nil, WithCommandRunner(runner))

	res, err := sandbox.Execute(context.Background(), ExecuteRequest{
		Program: `print("ok")`,
		Capture: true,
	})
	require.NoError(t, err)
	assert.Zero(t, res.ExitCode)
	assert.False(t, res.ArtifactCaptured)
	assert.Contains(t, res.Stdout, "[capture] artifact capture failed")
	assert.Nil(t, sandbox.CapturedArtifact())
}

func TestCaptureToolkitFaultIsContained(t *testing.T) {
	runner := &fakeRunner{artifact: []byte("PNGDATA")}
	broken := &Module{Name: "blinker", Symbols: map[string]any{}, Toolkit: failingToolkit{}}
	sandbox := newTestSandbox(t, StrategyCompiled, []string{"blinker"},
		WithCommandRunner(runner), WithModule(broken))

	res, err := sandbox.Execute(context.Background(), ExecuteRequest{
		Program: `b = use("blinker"); print("used");`,
		Capture: true,
	})
	require.NoError(t, err)
	assert.Zero(t, res.ExitCode, res.Stderr)
	assert.Contains(t, res.Stdout, "[capture] flush failed: blinker")
	assert.Contains(t, res.Stdout, "[capture] artifact captured")
	assert.True(t, res.ArtifactCaptured)
}

func TestArtifactLifecycle(t *testing.T) {
	runner := &fakeRunner{artifact: []byte("FIRST")}
	sandbox := newTestSandbox(t, StrategyCompiled, nil, WithCommandRunner(runner))

	res, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: `x = 1`, Capture: true})
	require.NoError(t, err)
	require.True(t, res.ArtifactCaptured)
	assert.Equal(t, []byte("FIRST"), sandbox.CapturedArtifact())

	// a non-capturing run leaves the stored artifact alone
	res = mustExecute(t, sandbox, `x = 2`)
	assert.False(t, res.ArtifactCaptured)
	assert.Equal(t, []byte("FIRST"), sandbox.CapturedArtifact())

	// a new capturing run replaces it
	runner.artifact = []byte("SECOND")
	_, err = sandbox.Execute(context.Background(), ExecuteRequest{Program: `x = 3`, Capture: true})
	require.NoError(t, err)
	assert.Equal(t, []byte("SECOND"), sandbox.CapturedArtifact())

	// clearing is idempotent
	sandbox.ClearArtifact()
	assert.Nil(t, sandbox.CapturedArtifact())
	sandbox.ClearArtifact()
	assert.Nil(t, sandbox.CapturedArtifact())
}

func TestRenderWait(t *testing.T) {
	var waited []time.Duration
	runner := &fakeRunner{artifact: []byte("A")}
	sandbox := newTestSandbox(t, StrategyCompiled, nil,
		WithCommandRunner(runner),
		WithSleep(func(d time.Duration) { waited = append(waited, d) }))

	_, err := sandbox.Execute(context.Background(), ExecuteRequest{Program: `x = 1`, Capture: true})
	require.NoError(t, err)
	require.Len(t, waited, 1)
	assert.Equal(t, time.Millisecond, waited[0], "default comes from configuration")

	_, err = sandbox.Execute(context.Background(), ExecuteRequest{
		Program:    `x = 2`,
		Capture:    true,
		RenderWait: 25 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Len(t, waited, 2)
	assert.Equal(t, 25*time.Millisecond, waited[1], "request override wins")

	_, err = sandbox.Execute(context.Background(), ExecuteRequest{Program: `x = 3`})
	require.NoError(t, err)
	assert.Len(t, waited, 2, "no wait without capture")
}
