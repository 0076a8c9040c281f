// Package functions implements the function registry (C9): the
// dispatch table the agent loop consults to service a FunctionRequest,
// plus the Hello, Deploy, and DeployStatus handlers it ships with.
package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/chess/pkg/chesserr"
)

// Handler services one function call against a Struct of parameters
// and returns a Struct result, matching the shape FunctionRequest and
// FunctionResult carry over the wire.
type Handler func(ctx context.Context, params *structpb.Struct) (*structpb.Struct, error)

// Registry is a concurrency-safe name-to-Handler dispatch table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Dispatch looks up name and invokes its handler. It returns
// chesserr.ErrFunctionUnknown if no handler is registered for name.
func (r *Registry) Dispatch(ctx context.Context, name string, params *structpb.Struct) (*structpb.Struct, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", chesserr.ErrFunctionUnknown, name)
	}
	return h(ctx, params)
}

// WrapTyped adapts a handler expressed over typed, JSON-tagged Go
// input/output values into the Struct-in/Struct-out Handler shape the
// registry dispatches, mirroring the source's generic JSON function
// wrapper so each concrete handler is free to declare its own request
// and response shape.
func WrapTyped[I any, O any](fn func(ctx context.Context, in I) (O, error)) Handler {
	return func(ctx context.Context, params *structpb.Struct) (*structpb.Struct, error) {
		var in I
		if params != nil {
			data, err := json.Marshal(params.AsMap())
			if err != nil {
				return nil, fmt.Errorf("encode function parameters: %w", err)
			}
			if err := json.Unmarshal(data, &in); err != nil {
				return nil, fmt.Errorf("%w: decode parameters: %v", chesserr.ErrFunctionError, err)
			}
		}

		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("encode function result: %w", err)
		}
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode function result: %w", err)
		}
		result, err := structpb.NewStruct(m)
		if err != nil {
			return nil, fmt.Errorf("build function result struct: %w", err)
		}
		return result, nil
	}
}
