// Package render tiles generated samples into a grid and writes it out as a
// PNG file or as ASCII art.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"featureforge/internal/gan"
)

// Renderer receives the generated grid at each reporting step.
type Renderer interface {
	Render(step int, images []gan.Image) error
}

// GridShape returns the column and row count of a near-square grid holding
// n tiles.
func GridShape(n int) (cols, rows int) {
	if n <= 0 {
		return 0, 0
	}
	cols = int(math.Ceil(math.Sqrt(float64(n))))
	rows = (n + cols - 1) / cols
	return cols, rows
}

// Grid tiles images into one grayscale picture. All images must share the
// size of the first one.
func Grid(images []gan.Image) (*image.Gray, error) {
	if len(images) == 0 {
		return nil, errors.New("render: no images")
	}
	w, h := images[0].Width, images[0].Height
	cols, rows := GridShape(len(images))
	out := image.NewGray(image.Rect(0, 0, cols*w, rows*h))
	for i, img := range images {
		if img.Width != w || img.Height != h || len(img.Pix) != w*h {
			return nil, errors.Errorf("render: image %d is %dx%d, want %dx%d", i, img.Width, img.Height, w, h)
		}
		ox, oy := (i%cols)*w, (i/cols)*h
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.SetGray(ox+x, oy+y, color.Gray{Y: toByte(img.Pix[y*w+x])})
			}
		}
	}
	return out, nil
}

// toByte maps [-1, 1] to [0, 255].
func toByte(v float64) uint8 {
	v = (v + 1) * 127.5
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

// PNG writes each grid to Dir/step-NNNNNN.png.
type PNG struct {
	Dir string
}

// Render encodes the grid and writes it under Dir, creating Dir if needed.
func (p PNG) Render(step int, images []gan.Image) error {
	grid, err := Grid(images)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return errors.Wrap(err, "render: mkdir")
	}
	path := filepath.Join(p.Dir, fmt.Sprintf("step-%06d.png", step))
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "render: create")
	}
	if err := png.Encode(f, grid); err != nil {
		f.Close()
		return errors.Wrapf(err, "render: encode %s", path)
	}
	return f.Close()
}

const asciiRamp = " .:-=+*#%@"

// ASCII draws the grid with one character per pixel.
type ASCII struct {
	W io.Writer
}

// Render prints a step header followed by the grid, one row per line.
func (a ASCII) Render(step int, images []gan.Image) error {
	grid, err := Grid(images)
	if err != nil {
		return err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "step %d\n", step)
	b := grid.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			idx := int(grid.GrayAt(x, y).Y) * (len(asciiRamp) - 1) / 255
			sb.WriteByte(asciiRamp[idx])
		}
		sb.WriteByte('\n')
	}
	_, err = io.WriteString(a.W, sb.String())
	return err
}

// Multi fans one grid out to several renderers, stopping at the first error.
type Multi []Renderer

// Render calls each renderer in order.
func (m Multi) Render(step int, images []gan.Image) error {
	for _, r := range m {
		if err := r.Render(step, images); err != nil {
			return err
		}
	}
	return nil
}
