package device

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// PreprocessOptions control how a capture is prepared for OCR.
type PreprocessOptions struct {
	Grayscale bool    `yaml:"grayscale"`
	Contrast  float64 `yaml:"contrast"`
	Offset    float64 `yaml:"offset"`
	// Scale upsamples the image before the color pass; values <= 1 keep
	// the original size.
	Scale float64 `yaml:"scale"`
}

// DefaultPreprocess desaturates and stretches contrast by 1.5 around a -50
// offset.
func DefaultPreprocess() PreprocessOptions {
	return PreprocessOptions{Grayscale: true, Contrast: 1.5, Offset: -50, Scale: 1}
}

// Preprocess returns a new image; src is not modified.
func Preprocess(src image.Image, opt PreprocessOptions) image.Image {
	if opt.Contrast == 0 {
		opt.Contrast = 1
	}

	if opt.Scale > 1 {
		b := src.Bounds()
		w := int(float64(b.Dx()) * opt.Scale)
		h := int(float64(b.Dy()) * opt.Scale)
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, b, draw.Src, nil)
		src = scaled
	}

	b := src.Bounds()
	if opt.Grayscale {
		dst := image.NewGray(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				g := color.GrayModel.Convert(src.At(x, y)).(color.Gray)
				dst.SetGray(x, y, color.Gray{Y: adjust(g.Y, opt)})
			}
		}
		return dst
	}

	dst := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			dst.SetNRGBA(x, y, color.NRGBA{
				R: adjust(c.R, opt),
				G: adjust(c.G, opt),
				B: adjust(c.B, opt),
				A: c.A,
			})
		}
	}
	return dst
}

func adjust(v uint8, opt PreprocessOptions) uint8 {
	f := float64(v)*opt.Contrast + opt.Offset
	switch {
	case f < 0:
		return 0
	case f > 255:
		return 255
	default:
		return uint8(f + 0.5)
	}
}
