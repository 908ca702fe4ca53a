package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// Workflow is the automation backend reached over named endpoints.
type Workflow interface {
	// Call posts {sessionId, ...payload} to the endpoint for name and returns the
	// decoded reply descriptors. A single-object reply yields one descriptor.
	Call(ctx context.Context, name string, payload map[string]any) ([]domain.Descriptor, error)
}

// WorkflowFunc adapts a plain function to the Workflow interface.
type WorkflowFunc func(ctx context.Context, name string, payload map[string]any) ([]domain.Descriptor, error)

// Call implements Workflow.
func (f WorkflowFunc) Call(ctx context.Context, name string, payload map[string]any) ([]domain.Descriptor, error) {
	return f(ctx, name, payload)
}
