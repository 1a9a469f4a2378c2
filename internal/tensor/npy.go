package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// NPY v1.0 float32 little-endian, C-order. This is the exchange format
// between the pipeline and exec toolkits, which are typically numpy-based.

const npyMagic = "\x93NUMPY"

// WriteNPY writes the tensor as a .npy file. Single-channel tensors are
// written as 2-D (H, W) arrays, multi-channel as (H, W, C).
func (t *Tensor) WriteNPY(path string) error {
	if err := t.Validate(); err != nil {
		return err
	}

	shape := fmt.Sprintf("(%d, %d)", t.H, t.W)
	if t.C > 1 {
		shape = fmt.Sprintf("(%d, %d, %d)", t.H, t.W, t.C)
	}
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': %s, }", shape)
	// Pad so that magic+version+len+header is a multiple of 64 bytes,
	// terminated by a newline, as the format requires.
	pad := 64 - (len(npyMagic)+4+len(header)+1)%64
	header += strings.Repeat(" ", pad) + "\n"

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create npy: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 0, len(npyMagic)+4+len(header))
	buf = append(buf, npyMagic...)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(header)))
	buf = append(buf, header...)
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("write npy header: %w", err)
	}

	data := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write npy data: %w", err)
	}
	return nil
}

// ReadNPY reads a 2-D or 3-D float32 .npy file into a tensor.
func ReadNPY(path string) (*Tensor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read npy: %w", err)
	}
	if len(raw) < 10 || string(raw[:6]) != npyMagic {
		return nil, fmt.Errorf("npy %s: bad magic", path)
	}
	if raw[6] != 1 {
		return nil, fmt.Errorf("npy %s: unsupported version %d.%d", path, raw[6], raw[7])
	}
	headerLen := int(binary.LittleEndian.Uint16(raw[8:10]))
	if len(raw) < 10+headerLen {
		return nil, fmt.Errorf("npy %s: truncated header", path)
	}
	header := string(raw[10 : 10+headerLen])
	body := raw[10+headerLen:]

	if !strings.Contains(header, "'<f4'") {
		return nil, fmt.Errorf("npy %s: only float32 ('<f4') is supported", path)
	}
	if strings.Contains(header, "'fortran_order': True") {
		return nil, fmt.Errorf("npy %s: fortran order is not supported", path)
	}

	shape, err := parseShape(header)
	if err != nil {
		return nil, fmt.Errorf("npy %s: %w", path, err)
	}

	var w, h, c int
	switch len(shape) {
	case 2:
		h, w, c = shape[0], shape[1], 1
	case 3:
		h, w, c = shape[0], shape[1], shape[2]
	default:
		return nil, fmt.Errorf("npy %s: expected 2-D or 3-D array, got %d-D", path, len(shape))
	}

	n := w * h * c
	if len(body) < 4*n {
		return nil, fmt.Errorf("npy %s: data truncated: want %d floats, have %d bytes", path, n, len(body))
	}

	t := New(w, h, c)
	for i := 0; i < n; i++ {
		t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
	}
	return t, nil
}

func parseShape(header string) ([]int, error) {
	open := strings.Index(header, "(")
	end := strings.Index(header, ")")
	if open < 0 || end < open {
		return nil, fmt.Errorf("malformed shape in header")
	}
	var shape []int
	for _, part := range strings.Split(header[open+1:end], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("bad shape dimension %q", part)
		}
		shape = append(shape, n)
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("empty shape")
	}
	return shape, nil
}
