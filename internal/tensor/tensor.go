// Package tensor holds the in-memory image representation shared by the
// inference pipeline: float32 intensity tensors for model input and uint8
// label masks for segmentation output.
package tensor

import (
	"fmt"
	"math"
)

// Tensor is a dense H x W x C float32 image, row-major, channel-last.
type Tensor struct {
	W, H, C int
	Data    []float32
}

// New allocates a zeroed tensor of the given geometry.
func New(w, h, c int) *Tensor {
	return &Tensor{W: w, H: h, C: c, Data: make([]float32, w*h*c)}
}

// At returns the value at (x, y, c).
func (t *Tensor) At(x, y, c int) float32 {
	return t.Data[(y*t.W+x)*t.C+c]
}

// Set writes the value at (x, y, c).
func (t *Tensor) Set(x, y, c int, v float32) {
	t.Data[(y*t.W+x)*t.C+c] = v
}

// Shape returns the geometry as (width, height, channels).
func (t *Tensor) Shape() (int, int, int) { return t.W, t.H, t.C }

// Validate checks that the backing slice matches the declared geometry.
func (t *Tensor) Validate() error {
	if t.W <= 0 || t.H <= 0 || t.C <= 0 {
		return fmt.Errorf("tensor: invalid geometry %dx%dx%d", t.W, t.H, t.C)
	}
	if len(t.Data) != t.W*t.H*t.C {
		return fmt.Errorf("tensor: data length %d does not match geometry %dx%dx%d", len(t.Data), t.W, t.H, t.C)
	}
	return nil
}

// Mask is a dense H x W label image. Zero is background.
type Mask struct {
	W, H int
	Data []uint8
}

// NewMask allocates a zeroed mask of the given geometry.
func NewMask(w, h int) *Mask {
	return &Mask{W: w, H: h, Data: make([]uint8, w*h)}
}

// At returns the label at (x, y).
func (m *Mask) At(x, y int) uint8 { return m.Data[y*m.W+x] }

// Set writes the label at (x, y).
func (m *Mask) Set(x, y int, v uint8) { m.Data[y*m.W+x] = v }

// ZScore normalizes the tensor in place to zero mean and unit variance.
// A constant image is left at zero rather than dividing by a zero std.
func (t *Tensor) ZScore() {
	if len(t.Data) == 0 {
		return
	}
	var sum float64
	for _, v := range t.Data {
		sum += float64(v)
	}
	mean := sum / float64(len(t.Data))

	var sq float64
	for _, v := range t.Data {
		d := float64(v) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(t.Data)))
	if std == 0 {
		std = 1
	}
	for i, v := range t.Data {
		t.Data[i] = float32((float64(v) - mean) / std)
	}
}

// MinMax normalizes the tensor in place to the [0, 1] range.
func (t *Tensor) MinMax() {
	if len(t.Data) == 0 {
		return
	}
	lo, hi := t.Data[0], t.Data[0]
	for _, v := range t.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span == 0 {
		for i := range t.Data {
			t.Data[i] = 0
		}
		return
	}
	for i, v := range t.Data {
		t.Data[i] = (v - lo) / span
	}
}
