package headless

import (
	"context"

	"github.com/JakeFAU/pagemark/internal/crawler"
)

// Disabled stands in for the browser when rendering is turned off or the
// engine failed to launch. Every render reports crawler.ErrEngineUnavailable.
type Disabled struct{}

// NewDisabled creates a Disabled renderer.
func NewDisabled() *Disabled {
	return &Disabled{}
}

// Render always fails so the fallback strategy takes over.
func (Disabled) Render(context.Context, string) (crawler.Page, error) {
	return crawler.Page{}, crawler.ErrEngineUnavailable
}

// Close is a no-op.
func (Disabled) Close(context.Context) error {
	return nil
}
