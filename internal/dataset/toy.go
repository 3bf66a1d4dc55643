package dataset

import (
	"math"
	"math/rand"

	"gorgonia.org/tensor"
)

// Toy generates n grayscale images of filled discs with random centre and
// radius, background -1 and foreground 1, as an (n, h, w) tensor.
func Toy(n, w, h int, seed int64) *tensor.Dense {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, n*w*h)
	minSide := math.Min(float64(w), float64(h))
	for i := 0; i < n; i++ {
		cx := float64(w)/2 + (rng.Float64()-0.5)*float64(w)/4
		cy := float64(h)/2 + (rng.Float64()-0.5)*float64(h)/4
		r := minSide * (0.15 + rng.Float64()*0.2)
		img := data[i*w*h : (i+1)*w*h]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
				if dx*dx+dy*dy <= r*r {
					img[y*w+x] = 1
				} else {
					img[y*w+x] = -1
				}
			}
		}
	}
	return tensor.New(tensor.WithShape(n, h, w), tensor.WithBacking(data))
}
