// Package bridge defines the calling convention shared by every native
// operation: a named function taking a parameter map and returning a
// result map.
package bridge

import (
	"context"
	"fmt"
)

// Params is the parameter map handed to a bridge function
type Params map[string]any

// Result is the response map returned by a bridge function
type Result map[string]any

// Function is a single named bridge operation
type Function interface {
	Execute(ctx context.Context, params Params) (Result, error)
}

// FunctionFunc adapts a plain function to the Function interface
type FunctionFunc func(ctx context.Context, params Params) (Result, error)

// Execute calls f(ctx, params)
func (f FunctionFunc) Execute(ctx context.Context, params Params) (Result, error) {
	return f(ctx, params)
}

// Guard wraps fn so that a panic escaping it is converted into the value
// produced by fallback. Operations use this to keep their documented
// response shape no matter what the platform layer does.
func Guard(fn Function, fallback func(err error) Result) Function {
	return FunctionFunc(func(ctx context.Context, params Params) (result Result, err error) {
		defer func() {
			if r := recover(); r != nil {
				result = fallback(fmt.Errorf("panic: %v", r))
				err = nil
			}
		}()
		return fn.Execute(ctx, params)
	})
}
