package tensor

// Resize returns a nearest-neighbor resampling of the tensor to the target
// geometry. Nearest-neighbor keeps the operation exactly invertible on the
// coordinate grid, which the pipeline relies on for preprocess/postprocess
// symmetry: Resize(Resize(t, a, b), t.W, t.H) restores the original geometry.
func (t *Tensor) Resize(w, h int) *Tensor {
	if w == t.W && h == t.H {
		out := &Tensor{W: t.W, H: t.H, C: t.C, Data: make([]float32, len(t.Data))}
		copy(out.Data, t.Data)
		return out
	}

	out := New(w, h, t.C)
	for y := 0; y < h; y++ {
		sy := y * t.H / h
		for x := 0; x < w; x++ {
			sx := x * t.W / w
			for c := 0; c < t.C; c++ {
				out.Set(x, y, c, t.At(sx, sy, c))
			}
		}
	}
	return out
}

// Resize returns a nearest-neighbor resampling of the mask. Labels are
// categorical so no interpolation is applied.
func (m *Mask) Resize(w, h int) *Mask {
	if w == m.W && h == m.H {
		out := &Mask{W: m.W, H: m.H, Data: make([]uint8, len(m.Data))}
		copy(out.Data, m.Data)
		return out
	}

	out := NewMask(w, h)
	for y := 0; y < h; y++ {
		sy := y * m.H / h
		for x := 0; x < w; x++ {
			out.Set(x, y, m.At(x*m.W/w, sy))
		}
	}
	return out
}
