package orchestrator

import (
	"context"
	"fmt"

	"github.com/gammazero/toposort"

	"gator/internal/gatorerr"
)

// validateAcyclic is the defensive double-check SPEC_FULL.md §4.9 calls
// for: plan authoring is supposed to already guarantee acyclicity (§1
// scopes that out of the core), but Dispatch refuses to wedge step 7
// forever on a cycle it could have caught up front.
func (o *Orchestrator) validateAcyclic(ctx context.Context, planID string) error {
	deps, err := o.Store.ListTaskDependencies(ctx, planID)
	if err != nil {
		return fmt.Errorf("load dependencies: %w", err)
	}
	if len(deps) == 0 {
		return nil
	}

	edges := make([]toposort.Edge, len(deps))
	for i, d := range deps {
		edges[i] = toposort.Edge{d.DependsOnID, d.TaskID}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return gatorerr.NewTaskError(gatorerr.KindValidation, planID, "", fmt.Errorf("dependency cycle detected: %w", err))
	}
	return nil
}
