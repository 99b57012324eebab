package engine

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callSymbol(t *testing.T, mod *Module, name string, args ...any) any {
	t.Helper()
	fn, ok := mod.Symbols[name].(hostFunc)
	require.True(t, ok, "symbol %q is not callable", name)
	v, err := fn(args...)
	require.NoError(t, err)
	return v
}

func TestCanvasDrawing(t *testing.T) {
	presenter := &MemoryPresenter{}
	canvas := NewCanvas(presenter)
	mod := canvas.Module()

	t.Run("DefaultSurface", func(t *testing.T) {
		assert.EqualValues(t, defaultCanvasWidth, callSymbol(t, mod, "width"))
		assert.EqualValues(t, defaultCanvasHeight, callSymbol(t, mod, "height"))
		assert.Equal(t, color.RGBA{255, 255, 255, 255}, canvas.Image().RGBAAt(0, 0))
	})

	t.Run("RectFillsPixels", func(t *testing.T) {
		callSymbol(t, mod, "rect", 10.0, 10.0, 5.0, 5.0, "red")
		assert.Equal(t, color.RGBA{255, 0, 0, 255}, canvas.Image().RGBAAt(12, 12))
		assert.Equal(t, color.RGBA{255, 255, 255, 255}, canvas.Image().RGBAAt(20, 20))
	})

	t.Run("HexColors", func(t *testing.T) {
		callSymbol(t, mod, "pixel", 0.0, 0.0, "#102030")
		assert.Equal(t, color.RGBA{0x10, 0x20, 0x30, 255}, canvas.Image().RGBAAt(0, 0))
	})

	t.Run("ClearResets", func(t *testing.T) {
		callSymbol(t, mod, "clear", "black")
		assert.Equal(t, color.RGBA{0, 0, 0, 255}, canvas.Image().RGBAAt(12, 12))
	})

	t.Run("ResizeOutOfRange", func(t *testing.T) {
		fn := mod.Symbols["size"].(hostFunc)
		_, err := fn(0.0, 10.0)
		assert.Error(t, err)
		_, err = fn(10.0, float64(maxCanvasDim+1))
		assert.Error(t, err)
	})

	t.Run("FlushPresentsPNG", func(t *testing.T) {
		callSymbol(t, mod, "flush")
		require.NotEmpty(t, presenter.Frames)
		img, err := png.Decode(bytes.NewReader(presenter.Frames[len(presenter.Frames)-1]))
		require.NoError(t, err)
		assert.Equal(t, canvas.Image().Bounds(), img.Bounds())
	})

	t.Run("BadColor", func(t *testing.T) {
		fn := mod.Symbols["rect"].(hostFunc)
		_, err := fn(0.0, 0.0, 1.0, 1.0, "plaid")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unrecognized color")
	})
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		input    string
		expected color.RGBA
	}{
		{"white", color.RGBA{255, 255, 255, 255}},
		{"RED", color.RGBA{255, 0, 0, 255}},
		{"  blue  ", color.RGBA{0, 0, 255, 255}},
		{"#ff8000", color.RGBA{0xff, 0x80, 0x00, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseColor(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	t.Run("NonString", func(t *testing.T) {
		_, err := parseColor(42.0)
		assert.Error(t, err)
	})
}
