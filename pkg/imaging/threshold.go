package imaging

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
)

// ThresholdBackend separates foreground from background by colour distance
// to the image border. Include points keep only the foreground regions that
// contain them; exclude points drop the regions that contain them.
type ThresholdBackend struct {
	// Threshold is the normalized RGB distance above which a pixel is
	// foreground, in [0,1].
	Threshold float64
}

// DefaultThreshold is used when Threshold is zero.
const DefaultThreshold = 0.12

// ReadyState reports that the backend is always available.
func (ThresholdBackend) ReadyState() ReadyState { return StateReady }

type rgb struct{ r, g, b float64 }

func sample(c color.Color) rgb {
	r, g, b, _ := c.RGBA()
	return rgb{float64(r) / 0xffff, float64(g) / 0xffff, float64(b) / 0xffff}
}

func (c rgb) dist(o rgb) float64 {
	dr, dg, db := c.r-o.r, c.g-o.g, c.b-o.b
	return math.Sqrt(dr*dr+dg*dg+db*db) / math.Sqrt(3)
}

// ObjectMask returns a mask with 255 for foreground and 0 for background.
func (t ThresholdBackend) ObjectMask(ctx context.Context, img image.Image, hint Hint) (*image.Gray, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("empty image")
	}
	threshold := t.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	backgrounds := []rgb{borderMean(img)}
	for _, p := range hint.ExcludePoints {
		if p.In(bounds) {
			backgrounds = append(backgrounds, sample(img.At(p.X, p.Y)))
		}
	}

	fg := make([]bool, w*h)
	for y := 0; y < h; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := 0; x < w; x++ {
			px := sample(img.At(bounds.Min.X+x, bounds.Min.Y+y))
			nearest := math.MaxFloat64
			for _, bg := range backgrounds {
				if d := px.dist(bg); d < nearest {
					nearest = d
				}
			}
			fg[y*w+x] = nearest > threshold
		}
	}

	labels, _ := label(fg, w, h)
	keep := func(int32) bool { return true }
	if len(hint.IncludePoints) > 0 {
		included := map[int32]bool{}
		for _, p := range hint.IncludePoints {
			if l := labelAt(labels, bounds, w, p); l > 0 {
				included[l] = true
			}
		}
		keep = func(l int32) bool { return included[l] }
	}
	excluded := map[int32]bool{}
	for _, p := range hint.ExcludePoints {
		if l := labelAt(labels, bounds, w, p); l > 0 {
			excluded[l] = true
		}
	}

	mask := image.NewGray(image.Rect(0, 0, w, h))
	for i, l := range labels {
		if l > 0 && keep(l) && !excluded[l] {
			mask.Pix[(i/w)*mask.Stride+i%w] = 0xff
		}
	}
	return mask, nil
}

func borderMean(img image.Image) rgb {
	b := img.Bounds()
	var sum rgb
	n := 0
	add := func(x, y int) {
		c := sample(img.At(x, y))
		sum.r += c.r
		sum.g += c.g
		sum.b += c.b
		n++
	}
	for x := b.Min.X; x < b.Max.X; x++ {
		add(x, b.Min.Y)
		if b.Dy() > 1 {
			add(x, b.Max.Y-1)
		}
	}
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		add(b.Min.X, y)
		if b.Dx() > 1 {
			add(b.Max.X-1, y)
		}
	}
	return rgb{sum.r / float64(n), sum.g / float64(n), sum.b / float64(n)}
}

// label assigns 4-connected component ids (starting at 1) to foreground
// pixels; background pixels get 0.
func label(fg []bool, w, h int) ([]int32, int32) {
	labels := make([]int32, len(fg))
	var next int32
	queue := make([]int, 0, 64)
	for start := range fg {
		if !fg[start] || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%w, i/w
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				if n[0] < 0 || n[0] >= w || n[1] < 0 || n[1] >= h {
					continue
				}
				j := n[1]*w + n[0]
				if fg[j] && labels[j] == 0 {
					labels[j] = next
					queue = append(queue, j)
				}
			}
		}
	}
	return labels, next
}

func labelAt(labels []int32, bounds image.Rectangle, w int, p image.Point) int32 {
	if !p.In(bounds) {
		return 0
	}
	return labels[(p.Y-bounds.Min.Y)*w+(p.X-bounds.Min.X)]
}
