package diff

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // screenshots captured as JPEG
	_ "image/png"  // default screenshot format

	_ "golang.org/x/image/webp" // chromedp can emit WebP screenshots

	"github.com/JakeFAU/screenwatch/internal/screens"
)

// Decode parses an encoded screenshot (PNG, JPEG or WebP).
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode image: empty input")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Differ compares a new screenshot with a stored previous screenshot.
type Differ struct {
	fetcher screens.BlobFetcher
	opts    Options
}

// New creates a Differ that resolves previous screenshots through fetcher.
func New(fetcher screens.BlobFetcher, opts Options) *Differ {
	return &Differ{
		fetcher: fetcher,
		opts:    opts.normalized(),
	}
}

// Options returns the thresholds in effect.
func (d *Differ) Options() Options {
	return d.opts
}

// Evaluate diffs current against the screenshot stored at previousURL.
//
// The returned Result is always usable. When previousURL is empty the result is
// FirstCapture and err is nil. When either image cannot be fetched or decoded the
// result degrades to FirstCapture semantics (Outcome OutcomeDegraded) and err
// carries the cause so the caller can log it.
func (d *Differ) Evaluate(ctx context.Context, current []byte, previousURL string) (Result, error) {
	if previousURL == "" {
		return FirstCapture(), nil
	}
	if d.fetcher == nil {
		return degraded(), fmt.Errorf("no blob fetcher configured")
	}
	currentImg, err := Decode(current)
	if err != nil {
		return degraded(), fmt.Errorf("current screenshot: %w", err)
	}
	prevBytes, err := d.fetcher.Fetch(ctx, previousURL)
	if err != nil {
		return degraded(), fmt.Errorf("fetch previous screenshot: %w", err)
	}
	prevImg, err := Decode(prevBytes)
	if err != nil {
		return degraded(), fmt.Errorf("previous screenshot: %w", err)
	}
	return Compare(currentImg, prevImg, d.opts), nil
}

func degraded() Result {
	res := FirstCapture()
	res.Outcome = OutcomeDegraded
	return res
}
