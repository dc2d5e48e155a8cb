// Package middleware wraps a ports.WorkflowStore to transform checkpoints at rest.
package middleware

import "github.com/aretw0/forge/pkg/ports"

// Middleware allows wrapping a WorkflowStore to add behavior.
type Middleware func(ports.WorkflowStore) ports.WorkflowStore

// Chain wraps store so that the first middleware sees a state first.
func Chain(store ports.WorkflowStore, mws ...Middleware) ports.WorkflowStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
