package tensor

// LargestComponent returns a copy of the mask keeping only the largest
// 4-connected component of non-zero pixels. An all-background mask is
// returned unchanged. Label values inside the kept component are preserved.
func (m *Mask) LargestComponent() *Mask {
	labels := make([]int, len(m.Data))
	sizes := []int{0} // component 0 is background

	var stack []int
	for i := range m.Data {
		if m.Data[i] == 0 || labels[i] != 0 {
			continue
		}
		comp := len(sizes)
		sizes = append(sizes, 0)

		stack = append(stack[:0], i)
		labels[i] = comp
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			sizes[comp]++

			x, y := p%m.W, p/m.W
			for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || ny < 0 || nx >= m.W || ny >= m.H {
					continue
				}
				q := ny*m.W + nx
				if m.Data[q] != 0 && labels[q] == 0 {
					labels[q] = comp
					stack = append(stack, q)
				}
			}
		}
	}

	best := 0
	for comp := 1; comp < len(sizes); comp++ {
		if sizes[comp] > sizes[best] || best == 0 {
			best = comp
		}
	}

	out := NewMask(m.W, m.H)
	if best == 0 {
		copy(out.Data, m.Data)
		return out
	}
	for i, comp := range labels {
		if comp == best {
			out.Data[i] = m.Data[i]
		}
	}
	return out
}
