package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// Region is a capture rectangle expressed as fractions of the screen size.
type Region struct {
	X      float64 `yaml:"x" json:"x"`
	Y      float64 `yaml:"y" json:"y"`
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
}

// DefaultRegion is the middle 80% of the width and 60% of the height,
// starting 20% from the top.
var DefaultRegion = Region{X: 0.1, Y: 0.2, Width: 0.8, Height: 0.6}

var ErrEmptyRegion = errors.New("device: capture region is empty")

func (r Region) IsZero() bool { return r == Region{} }

// Rect maps r onto screen bounds, clipped to the screen.
func (r Region) Rect(screen image.Rectangle) image.Rectangle {
	w, h := float64(screen.Dx()), float64(screen.Dy())
	x0 := screen.Min.X + int(r.X*w)
	y0 := screen.Min.Y + int(r.Y*h)
	rect := image.Rect(x0, y0, x0+int(r.Width*w), y0+int(r.Height*h))
	return rect.Intersect(screen)
}

// ADBCapturer takes a screenshot with `adb exec-out screencap -p` and crops
// it to a region.
type ADBCapturer struct {
	runner     Runner
	region     Region
	preprocess *PreprocessOptions
}

// NewADBCapturer builds a capturer. A zero region selects DefaultRegion; a
// nil pre skips preprocessing.
func NewADBCapturer(runner Runner, region Region, pre *PreprocessOptions) *ADBCapturer {
	if region.IsZero() {
		region = DefaultRegion
	}
	return &ADBCapturer{runner: runner, region: region, preprocess: pre}
}

func (c *ADBCapturer) CaptureRegion(ctx context.Context) (image.Image, error) {
	out, err := c.runner.Run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	screen, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("device: decode screenshot: %w", err)
	}

	img, err := Crop(screen, c.region)
	if err != nil {
		return nil, err
	}
	if c.preprocess != nil {
		img = Preprocess(img, *c.preprocess)
	}
	return img, nil
}

// Crop copies the region of src into a new image anchored at (0, 0).
func Crop(src image.Image, region Region) (image.Image, error) {
	rect := region.Rect(src.Bounds())
	if rect.Empty() {
		return nil, ErrEmptyRegion
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Copy(dst, image.Point{}, src, rect, draw.Src, nil)
	return dst, nil
}
