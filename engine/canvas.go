package engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Toolkit is a module-owned rendering buffer. The capture trailer
// flushes every adopted toolkit to the surface before the artifact is
// grabbed, so buffered drawing is never missing from a capture.
type Toolkit interface {
	Name() string
	Flush() error
}

// Presenter pushes an encoded frame to the rendering surface.
type Presenter interface {
	Present(frame []byte) error
}

// CommandPresenter presents frames by handing them to an external
// viewer command on the capture display.
type CommandPresenter struct {
	Runner  CommandRunner
	FS      FileSystem
	Command string
	Display string
	Timeout time.Duration
}

// Present writes the frame to a temporary file and shows it with the
// configured viewer.
func (p *CommandPresenter) Present(frame []byte) error {
	dir, err := p.FS.MkdirTemp("", "codeact-frame-*")
	if err != nil {
		return fmt.Errorf("failed to stage frame: %w", err)
	}
	defer p.FS.RemoveAll(dir)

	path := filepath.Join(dir, "frame.png")
	if err := p.FS.WriteFile(path, frame, FilePermission); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()

	_, stderr, exitCode, err := p.Runner.RunCommand(ctx, []string{p.Command, "-display", p.Display, path})
	if err != nil {
		return fmt.Errorf("presenter command failed: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("presenter command exited %d: %s", exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// MemoryPresenter stores the last presented frame. Used by tests.
type MemoryPresenter struct {
	Frames [][]byte
}

func (p *MemoryPresenter) Present(frame []byte) error {
	copied := make([]byte, len(frame))
	copy(copied, frame)
	p.Frames = append(p.Frames, copied)
	return nil
}

// Canvas is the extended-tier drawing toolkit. Programs draw onto an
// offscreen raster; nothing reaches the surface until Flush.
type Canvas struct {
	presenter Presenter
	img       *image.RGBA
}

const (
	defaultCanvasWidth  = 320
	defaultCanvasHeight = 240
	maxCanvasDim        = 4096
)

// NewCanvas returns a canvas with a white default raster.
func NewCanvas(presenter Presenter) *Canvas {
	c := &Canvas{presenter: presenter}
	c.reset(defaultCanvasWidth, defaultCanvasHeight)
	return c
}

func (c *Canvas) reset(w, h int) {
	c.img = image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(c.img, c.img.Bounds(), image.White, image.Point{}, draw.Src)
}

// Name implements Toolkit.
func (c *Canvas) Name() string { return "canvas" }

// Flush encodes the raster and presents it. A clean canvas is still
// presented once so a capture of an untouched canvas shows the blank
// surface rather than nothing.
func (c *Canvas) Flush() error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return fmt.Errorf("canvas encode failed: %w", err)
	}
	return c.presenter.Present(buf.Bytes())
}

// Image exposes the raster for tests.
func (c *Canvas) Image() *image.RGBA { return c.img }

// Module returns the symbol table programs see after use("canvas").
func (c *Canvas) Module() *Module {
	return &Module{
		Name:    "canvas",
		Toolkit: c,
		Symbols: map[string]any{
			"width": hostFunc(func(args ...any) (any, error) {
				return float64(c.img.Bounds().Dx()), nil
			}),
			"height": hostFunc(func(args ...any) (any, error) {
				return float64(c.img.Bounds().Dy()), nil
			}),
			"size": hostFunc(func(args ...any) (any, error) {
				w, err := argNumber("canvas.size", args, 0)
				if err != nil {
					return nil, err
				}
				h, err := argNumber("canvas.size", args, 1)
				if err != nil {
					return nil, err
				}
				if w < 1 || h < 1 || w > maxCanvasDim || h > maxCanvasDim {
					return nil, fmt.Errorf("canvas.size: dimensions out of range")
				}
				c.reset(int(w), int(h))
				return nil, nil
			}),
			"clear": hostFunc(func(args ...any) (any, error) {
				fill := color.RGBA{255, 255, 255, 255}
				if len(args) > 0 {
					parsed, err := parseColor(argAt(args, 0))
					if err != nil {
						return nil, err
					}
					fill = parsed
				}
				draw.Draw(c.img, c.img.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)
				return nil, nil
			}),
			"rect": hostFunc(func(args ...any) (any, error) {
				x, err := argNumber("canvas.rect", args, 0)
				if err != nil {
					return nil, err
				}
				y, err := argNumber("canvas.rect", args, 1)
				if err != nil {
					return nil, err
				}
				w, err := argNumber("canvas.rect", args, 2)
				if err != nil {
					return nil, err
				}
				h, err := argNumber("canvas.rect", args, 3)
				if err != nil {
					return nil, err
				}
				fill, err := parseColor(argAt(args, 4))
				if err != nil {
					return nil, err
				}
				r := image.Rect(int(x), int(y), int(x+w), int(y+h)).Intersect(c.img.Bounds())
				draw.Draw(c.img, r, image.NewUniform(fill), image.Point{}, draw.Src)
				return nil, nil
			}),
			"pixel": hostFunc(func(args ...any) (any, error) {
				x, err := argNumber("canvas.pixel", args, 0)
				if err != nil {
					return nil, err
				}
				y, err := argNumber("canvas.pixel", args, 1)
				if err != nil {
					return nil, err
				}
				fill, err := parseColor(argAt(args, 2))
				if err != nil {
					return nil, err
				}
				pt := image.Pt(int(x), int(y))
				if pt.In(c.img.Bounds()) {
					c.img.SetRGBA(pt.X, pt.Y, fill)
				}
				return nil, nil
			}),
			"flush": hostFunc(func(args ...any) (any, error) {
				if err := c.Flush(); err != nil {
					return nil, err
				}
				return nil, nil
			}),
		},
	}
}

var namedColors = map[string]color.RGBA{
	"white":   {255, 255, 255, 255},
	"black":   {0, 0, 0, 255},
	"red":     {255, 0, 0, 255},
	"green":   {0, 128, 0, 255},
	"blue":    {0, 0, 255, 255},
	"yellow":  {255, 255, 0, 255},
	"magenta": {255, 0, 255, 255},
	"cyan":    {0, 255, 255, 255},
	"gray":    {128, 128, 128, 255},
}

// parseColor accepts a named color or a "#rrggbb" hex triplet.
func parseColor(v any) (color.RGBA, error) {
	s, ok := v.(string)
	if !ok {
		return color.RGBA{}, fmt.Errorf("color must be a string, got %s", typeofString(v))
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if named, ok := namedColors[s]; ok {
		return named, nil
	}
	if strings.HasPrefix(s, "#") && len(s) == 7 {
		n, err := strconv.ParseUint(s[1:], 16, 32)
		if err == nil {
			return color.RGBA{
				R: uint8(n >> 16),
				G: uint8(n >> 8),
				B: uint8(n),
				A: 255,
			}, nil
		}
	}
	return color.RGBA{}, fmt.Errorf("unrecognized color %q", s)
}
