// Package ocr extracts text from screen captures with Tesseract. It needs
// cgo and the tesseract/leptonica libraries at build time.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractExtractor implements the pipeline's text extractor.
type TesseractExtractor struct {
	languages     []string
	pageSegMode   gosseract.PageSegMode
	clientFactory func() *gosseract.Client
}

type Option func(*TesseractExtractor)

// WithLanguages sets the Tesseract languages, e.g. "eng".
func WithLanguages(langs ...string) Option {
	return func(e *TesseractExtractor) { e.languages = langs }
}

// WithPageSegMode overrides automatic page segmentation.
func WithPageSegMode(mode gosseract.PageSegMode) Option {
	return func(e *TesseractExtractor) { e.pageSegMode = mode }
}

func NewTesseractExtractor(opts ...Option) *TesseractExtractor {
	e := &TesseractExtractor{
		pageSegMode:   gosseract.PSM_AUTO,
		clientFactory: gosseract.NewClient,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractText runs OCR on img. A client is created per call; gosseract
// clients are not safe for concurrent use.
func (e *TesseractExtractor) ExtractText(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("ocr: encode image: %w", err)
	}

	c := e.clientFactory()
	defer c.Close()

	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return "", fmt.Errorf("ocr: set languages: %w", err)
		}
	}
	if err := c.SetPageSegMode(e.pageSegMode); err != nil {
		return "", fmt.Errorf("ocr: set page seg mode: %w", err)
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("ocr: set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("ocr: recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}
