// Package diff decides whether a freshly captured screenshot differs meaningfully
// from the previous screenshot of the same route.
//
// Compare is a pure function of its two images and the Options; Differ adds the
// fetch-and-decode step for a stored previous screenshot and degrades to the
// first-capture result when that step fails.
package diff

import (
	"fmt"
	"image"
	"image/draw"
)

const (
	// DefaultThreshold is the perceptual per-pixel tolerance in [0,1].
	DefaultThreshold = 0.1
	// DefaultChangePercent separates rendering noise from a real change.
	DefaultChangePercent = 0.5

	// DimensionsChangedSummary is reported when the two screenshots differ in size.
	DimensionsChangedSummary = "Image dimensions changed"

	// maxYIQDelta is the largest squared YIQ distance between two colors.
	maxYIQDelta = 35215
)

// Outcome classifies a comparison for logging and metrics.
type Outcome string

// Comparison outcomes.
const (
	OutcomeFirst      Outcome = "first"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeChanged    Outcome = "changed"
	OutcomeDimensions Outcome = "dimensions"
	OutcomeDegraded   Outcome = "degraded"
)

// Options tunes the comparison.
type Options struct {
	// Threshold is the per-pixel sensitivity; smaller is stricter.
	Threshold float64
	// ChangePercent is the differing-pixel percentage that must be exceeded.
	ChangePercent float64
}

// DefaultOptions returns the production thresholds.
func DefaultOptions() Options {
	return Options{
		Threshold:     DefaultThreshold,
		ChangePercent: DefaultChangePercent,
	}
}

func (o Options) normalized() Options {
	if o.Threshold <= 0 || o.Threshold > 1 {
		o.Threshold = DefaultThreshold
	}
	if o.ChangePercent < 0 {
		o.ChangePercent = DefaultChangePercent
	}
	return o
}

// Result is persisted as fields of a new capture.
type Result struct {
	HasChanges     bool
	DiffPercentage float64
	ChangeSummary  *string
	DiffPixels     int
	Outcome        Outcome
}

// FirstCapture is the result used when there is nothing to compare against.
func FirstCapture() Result {
	return Result{Outcome: OutcomeFirst}
}

// Compare diffs current against previous. A nil previous yields FirstCapture.
func Compare(current, previous image.Image, opts Options) Result {
	if previous == nil || current == nil {
		return FirstCapture()
	}
	opts = opts.normalized()

	cb, pb := current.Bounds(), previous.Bounds()
	if cb.Dx() != pb.Dx() || cb.Dy() != pb.Dy() {
		summary := DimensionsChangedSummary
		return Result{
			HasChanges:    true,
			ChangeSummary: &summary,
			Outcome:       OutcomeDimensions,
		}
	}

	total := cb.Dx() * cb.Dy()
	if total == 0 {
		return Result{Outcome: OutcomeUnchanged}
	}

	a, b := toNRGBA(previous), toNRGBA(current)
	diffPixels := countDiffPixels(a, b, maxYIQDelta*opts.Threshold*opts.Threshold)

	pct := float64(diffPixels) * 100 / float64(total)
	res := Result{
		DiffPercentage: pct,
		DiffPixels:     diffPixels,
		Outcome:        OutcomeUnchanged,
	}
	if pct > opts.ChangePercent {
		summary := fmt.Sprintf("%.2f%% of pixels changed", pct)
		res.HasChanges = true
		res.ChangeSummary = &summary
		res.Outcome = OutcomeChanged
	}
	return res
}

func countDiffPixels(a, b *image.NRGBA, maxDelta float64) int {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	count := 0
	for y := 0; y < h; y++ {
		rowA := a.Pix[y*a.Stride : y*a.Stride+w*4]
		rowB := b.Pix[y*b.Stride : y*b.Stride+w*4]
		for x := 0; x < w*4; x += 4 {
			delta := colorDelta(rowA[x:x+4], rowB[x:x+4])
			if delta > maxDelta {
				count++
			}
		}
	}
	return count
}

// toNRGBA returns img as non-premultiplied RGBA anchored at the origin.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Rect, img, bounds.Min, draw.Src)
	return dst
}
