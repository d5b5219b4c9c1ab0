package interfaces

import "context"

// Renderer converts raw markdown into HTML for the live preview. The engine
// treats rendering as an external, deterministic service: the same input must
// always produce the same output so render caches stay coherent across
// sessions.
type Renderer interface {
	Render(ctx context.Context, raw []byte) ([]byte, error)
}

// RendererFunc adapts a plain function to the Renderer contract.
type RendererFunc func(ctx context.Context, raw []byte) ([]byte, error)

// Render satisfies Renderer.
func (f RendererFunc) Render(ctx context.Context, raw []byte) ([]byte, error) {
	return f(ctx, raw)
}
