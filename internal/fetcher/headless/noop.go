package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

// ErrDisabled is returned when screenshots are requested with headless capture turned off.
var ErrDisabled = errors.New("headless screenshots disabled")

// Noop implements screens.Screenshotter but always fails.
type Noop struct{}

// NewNoop creates a new Noop screenshotter.
func NewNoop() *Noop {
	return &Noop{}
}

// Screenshot returns ErrDisabled.
func (Noop) Screenshot(_ context.Context, _ screens.ScreenshotRequest) (screens.ScreenshotResponse, error) {
	return screens.ScreenshotResponse{}, ErrDisabled
}
