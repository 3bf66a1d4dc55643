package render

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"featureforge/internal/gan"
)

func solid(w, h int, v float64) gan.Image {
	pix := make([]float64, w*h)
	for i := range pix {
		pix[i] = v
	}
	return gan.Image{Width: w, Height: h, Pix: pix}
}

func TestGridShape(t *testing.T) {
	cases := map[int][2]int{1: {1, 1}, 2: {2, 1}, 5: {3, 2}, 16: {4, 4}, 17: {5, 4}}
	for n, want := range cases {
		cols, rows := GridShape(n)
		if cols != want[0] || rows != want[1] {
			t.Fatalf("GridShape(%d) = %dx%d, want %dx%d", n, cols, rows, want[0], want[1])
		}
	}
}

func TestGridTilesSixteenImages(t *testing.T) {
	images := make([]gan.Image, 16)
	for i := range images {
		images[i] = solid(3, 2, -1)
	}
	images[5] = solid(3, 2, 1)
	grid, err := Grid(images)
	if err != nil {
		t.Fatalf("Grid: %v", err)
	}
	if b := grid.Bounds(); b.Dx() != 12 || b.Dy() != 8 {
		t.Fatalf("grid %dx%d, want 12x8", b.Dx(), b.Dy())
	}
	// image 5 sits at column 1, row 1
	if got := grid.GrayAt(3, 2).Y; got != 255 {
		t.Fatalf("tile 5 pixel = %d, want 255", got)
	}
	if got := grid.GrayAt(0, 0).Y; got != 0 {
		t.Fatalf("tile 0 pixel = %d, want 0", got)
	}
}

func TestGridRejectsMixedSizes(t *testing.T) {
	if _, err := Grid([]gan.Image{solid(2, 2, 0), solid(3, 2, 0)}); err == nil {
		t.Fatal("expected error for mixed sizes")
	}
}

func TestPNGWritesDecodableFile(t *testing.T) {
	dir := t.TempDir()
	if err := (PNG{Dir: dir}).Render(7, []gan.Image{solid(2, 2, 0.5)}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "step-000007.png"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 2 {
		t.Fatalf("unexpected width %d", img.Bounds().Dx())
	}
}

func TestASCIIRender(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (ASCII{W: buf}).Render(3, []gan.Image{solid(2, 1, 1), solid(2, 1, -1)}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "step 3\n@@  \n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
}

type failing struct{ calls *int }

func (f failing) Render(int, []gan.Image) error {
	*f.calls++
	return errors.New("boom")
}

func TestMultiStopsAtFirstError(t *testing.T) {
	calls := 0
	buf := &bytes.Buffer{}
	m := Multi{failing{&calls}, ASCII{W: buf}}
	if err := m.Render(1, []gan.Image{solid(1, 1, 0)}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 || buf.Len() != 0 {
		t.Fatalf("calls=%d ascii output %q; later renderers should not run", calls, buf.String())
	}
}
