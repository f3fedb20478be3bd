package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// ErrUnknownFunction is returned by Call for names nobody registered
var ErrUnknownFunction = errors.New("unknown bridge function")

// Registry routes a function name such as "Device.Vibrate" to its handler
type Registry struct {
	functions *xsync.Map[string, Function]
	logger    *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		functions: xsync.NewMap[string, Function](),
		logger:    logger,
	}
}

// Register binds name to fn, replacing any previous binding
func (r *Registry) Register(name string, fn Function) {
	if _, replaced := r.functions.LoadAndStore(name, fn); replaced {
		r.logger.Warn("Bridge function replaced", zap.String("method", name))
		return
	}
	r.logger.Debug("Bridge function registered", zap.String("method", name))
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.functions.Load(name)
	return ok
}

// Names returns the registered function names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, r.functions.Size())
	r.functions.Range(func(name string, _ Function) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Call executes the function registered under name. Nil params are
// replaced by an empty map.
func (r *Registry) Call(ctx context.Context, name string, params Params) (Result, error) {
	fn, ok := r.functions.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}

	if params == nil {
		params = Params{}
	}

	result, err := fn.Execute(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if result == nil {
		result = Result{}
	}
	return result, nil
}
