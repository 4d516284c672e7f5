package execctx

import "context"

type scopeKey struct{}

// Into returns a child of ctx whose current execution context is c. Deriving
// is the push; dropping the child is the pop, so sibling tasks never observe
// each other's overrides.
func Into(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, c)
}

// From returns the current execution context carried by ctx.
func From(ctx context.Context) (Context, error) {
	if ctx == nil {
		return Context{}, ErrNoContext
	}
	c, ok := ctx.Value(scopeKey{}).(Context)
	if !ok {
		return Context{}, ErrNoContext
	}
	return c, nil
}

// MustFrom is From for callers that seeded the run themselves.
// It panics when no context has been established.
func MustFrom(ctx context.Context) Context {
	c, err := From(ctx)
	if err != nil {
		panic(err)
	}
	return c
}

// Update applies fn to the current context and pushes the result.
func Update(ctx context.Context, fn func(Context) Context) (context.Context, error) {
	c, err := From(ctx)
	if err != nil {
		return ctx, err
	}
	return Into(ctx, fn(c)), nil
}
