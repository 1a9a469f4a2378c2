package tensor

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	_ "image/jpeg"
)

// LoadImage reads a PNG or JPEG file into a float tensor. Grayscale images
// become single-channel tensors, everything else three-channel. Intensities
// are kept in the source 0..255 range; normalization is the pipeline's job.
func LoadImage(path string) (*Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return FromImage(img), nil
}

// FromImage converts a decoded image into a tensor.
func FromImage(img image.Image) *Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if gray, ok := img.(*image.Gray); ok {
		t := New(w, h, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				t.Set(x, y, 0, float32(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
		return t
	}

	t := New(w, h, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			t.Set(x, y, 0, float32(r>>8))
			t.Set(x, y, 1, float32(g>>8))
			t.Set(x, y, 2, float32(bl>>8))
		}
	}
	return t
}

// LoadMask reads a label image. Any non-zero pixel intensity maps to its
// 8-bit label value, so both binary masks and multi-label PNGs work.
func LoadMask(path string) (*Mask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mask: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode mask %s: %w", path, err)
	}

	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			m.Set(x, y, g.Y)
		}
	}
	return m, nil
}

// Image renders the mask as a grayscale image.
func (m *Mask) Image() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.W, m.H))
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			img.SetGray(x, y, color.Gray{Y: m.At(x, y)})
		}
	}
	return img
}

// SaveMask writes the mask as a grayscale PNG.
func (m *Mask) SaveMask(path string) error {
	img := m.Image()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create mask file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode mask %s: %w", path, err)
	}
	return nil
}
