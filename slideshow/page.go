package slideshow

import "time"

const (
	// DefaultZoom is the zoom factor used for pages without one.
	DefaultZoom = 1.0
	// DefaultDuration is the display duration used for pages without one.
	DefaultDuration = 10 * time.Second
)

// Page is one entry of the slideshow.
type Page struct {
	// Name is the URL of the page.
	Name string
	// Zoom is the browser zoom factor. Zero means DefaultZoom.
	Zoom float64
	// Duration is how long the page is shown. Zero means DefaultDuration.
	Duration time.Duration
}

// ZoomFactor returns the effective zoom factor of the page.
func (p Page) ZoomFactor() float64 {
	if p.Zoom <= 0 {
		return DefaultZoom
	}

	return p.Zoom
}

// DisplayDuration returns the effective display duration of the page.
func (p Page) DisplayDuration() time.Duration {
	if p.Duration <= 0 {
		return DefaultDuration
	}

	return p.Duration
}
