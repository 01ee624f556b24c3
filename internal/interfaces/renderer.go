package interfaces

import (
	"context"
	"time"
)

// RenderedPage is the output of a JavaScript-executing fetch.
type RenderedPage struct {
	HTML string
	// Screenshot is JPEG bytes; nil when capture failed.
	Screenshot []byte
}

// Renderer is the deep-scan render stage. Render must return an error that
// satisfies errors.Is(err, render.ErrTimeout) when navigation times out.
// A partial page (screenshot without HTML) may accompany a non-nil error.
type Renderer interface {
	Render(ctx context.Context, url string, timeout time.Duration) (*RenderedPage, error)
}
