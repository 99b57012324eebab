package engine

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// captureTrailer is appended to the submitted program when a capture is
// requested. It flushes adopted toolkits, waits for the surface to
// settle, then grabs the artifact. Toolkit faults are contained so a
// broken toolkit never turns a successful run into a failed one.
const captureTrailer = `
print("[capture] preparing artifact");
try { __flush_toolkits__(); } catch (e) { print("[capture] toolkit flush faulted"); }
__render_wait__();
if (__capture__()) {
    print("[capture] artifact captured");
} else {
    print("[capture] artifact capture failed");
}
`

// captureCoordinator owns the artifact slot and drives the external
// capture tool. The slot holds at most one artifact; a new capture
// replaces the previous one, and a failed capture leaves it untouched.
type captureCoordinator struct {
	log        *zap.Logger
	runner     CommandRunner
	fs         FileSystem
	sleep      func(time.Duration)
	display    string
	tool       string
	timeout    time.Duration
	defaultGap time.Duration
	renderWait time.Duration
	artifact   []byte
}

func newCaptureCoordinator(logger *zap.Logger, runner CommandRunner, fs FileSystem, sleep func(time.Duration), cfg Config) *captureCoordinator {
	return &captureCoordinator{
		log:        logger,
		runner:     runner,
		fs:         fs,
		sleep:      sleep,
		display:    cfg.Display,
		tool:       cfg.CaptureTool,
		timeout:    cfg.CaptureTimeout,
		defaultGap: cfg.RenderWait,
		renderWait: cfg.RenderWait,
	}
}

// Artifact returns the stored artifact, or nil when the slot is empty.
func (c *captureCoordinator) Artifact() []byte {
	return c.artifact
}

// Clear empties the artifact slot. Idempotent.
func (c *captureCoordinator) Clear() {
	c.artifact = nil
}

// SetRenderWait fixes the pause for the current run. Non-positive
// values fall back to the configured default.
func (c *captureCoordinator) SetRenderWait(d time.Duration) {
	if d <= 0 {
		d = c.defaultGap
	}
	c.renderWait = d
}

// Wait pauses so the surface can finish rendering before the grab.
func (c *captureCoordinator) Wait() {
	if c.renderWait > 0 {
		c.sleep(c.renderWait)
	}
}

// CaptureNow runs the capture tool and stores the result. It reports
// success; any failure is logged and leaves the slot unchanged, so a
// capture problem never alters the outcome of the user program.
func (c *captureCoordinator) CaptureNow(ctx context.Context) bool {
	dir, err := c.fs.MkdirTemp("", "codeact-capture-*")
	if err != nil {
		c.log.Warn("capture staging failed", zap.Error(err))
		return false
	}
	defer c.fs.RemoveAll(dir)

	path := filepath.Join(dir, "artifact.png")

	toolCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := []string{c.tool, "-window", "root", "-display", c.display, path}
	_, stderr, exitCode, err := c.runner.RunCommand(toolCtx, args)
	if err != nil {
		c.log.Warn("capture tool failed", zap.Error(err))
		return false
	}
	if exitCode != 0 {
		c.log.Warn("capture tool exited non-zero",
			zap.Int("exit_code", exitCode),
			zap.String("stderr", strings.TrimSpace(stderr)))
		return false
	}

	data, err := c.fs.ReadFile(path)
	if err != nil {
		c.log.Warn("capture artifact unreadable", zap.Error(err))
		return false
	}
	if len(data) == 0 {
		c.log.Warn("capture artifact empty")
		return false
	}

	c.artifact = data
	c.log.Info("artifact captured", zap.Int("bytes", len(data)))
	return true
}
