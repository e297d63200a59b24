package sobel

import (
	"image"
	"image/color"
	"math"
	"sync"
)

// parallelMinRows is the image height below which banding is not worth the goroutines.
const parallelMinRows = 64

// Options tunes [ProcessWith].
type Options struct {
	// Workers is the number of row bands convolved concurrently. Values below 2 run sequentially.
	Workers int
}

// Process applies the Sobel operator to img and returns the gradient magnitude image.
func Process(img image.Image) *image.Gray {
	return ProcessWith(img, Options{})
}

// ProcessWith is [Process] with explicit [Options]. The result does not depend on Workers.
func ProcessWith(img image.Image, opts Options) *image.Gray {
	src := Grayscale(img)
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	h := b.Dy()
	workers := opts.Workers
	if workers < 2 || h < parallelMinRows {
		convolveRows(src, out, 0, h)
		return out
	}
	if workers > h {
		workers = h
	}

	var wg sync.WaitGroup
	band := (h + workers - 1) / workers
	for y0 := 0; y0 < h; y0 += band {
		y1 := min(y0+band, h)
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			convolveRows(src, out, y0, y1)
		}(y0, y1)
	}
	wg.Wait()

	return out
}

// Grayscale converts img to an 8-bit intensity image anchored at the origin.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}

	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			gray.Pix[y*gray.Stride+x] = c.Y
		}
	}
	return gray
}

// convolveRows fills rows [y0, y1) of dst from src. Both images share dimensions and origin.
func convolveRows(src, dst *image.Gray, y0, y1 int) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	at := func(x, y int) int {
		x = clamp(x, 0, w-1)
		y = clamp(y, 0, h-1)
		return int(src.Pix[y*src.Stride+x])
	}

	for y := y0; y < y1; y++ {
		for x := 0; x < w; x++ {
			tl, tc, tr := at(x-1, y-1), at(x, y-1), at(x+1, y-1)
			ml, mr := at(x-1, y), at(x+1, y)
			bl, bc, br := at(x-1, y+1), at(x, y+1), at(x+1, y+1)

			gx := -tl + tr - 2*ml + 2*mr - bl + br
			gy := -tl - 2*tc - tr + bl + 2*bc + br

			dst.Pix[y*dst.Stride+x] = Magnitude(gx, gy)
		}
	}
}

// Magnitude returns sqrt(gx² + gy²) rounded to the nearest integer and clamped to 0-255.
func Magnitude(gx, gy int) uint8 {
	m := math.Round(math.Sqrt(float64(gx*gx + gy*gy)))
	if m > 255 {
		return 255
	}
	return uint8(m)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
