package process

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/zjrosen/ferry/internal/cachemanager"
)

// Resolver turns an executable name into the path that will be executed.
type Resolver interface {
	LookPath(name string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) (string, error)

// LookPath calls f.
func (f ResolverFunc) LookPath(name string) (string, error) { return f(name) }

// CachedResolver memoises exec.LookPath per PATH value.
type CachedResolver struct {
	lookups *cachemanager.ReadThroughCache[string, string, string]
}

// NewCachedResolver caches successful lookups in cache for ttl.
func NewCachedResolver(cache cachemanager.CacheManager[string, string], ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		lookups: cachemanager.NewReadThroughCache[string, string, string](cache,
			func(_ context.Context, name string) (string, error) {
				return exec.LookPath(name)
			}, ttl),
	}
}

// LookPath resolves name. Names containing a path separator are returned
// unchanged and never cached.
func (r *CachedResolver) LookPath(name string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) || strings.Contains(name, "/") {
		return name, nil
	}
	return r.lookups.Get(context.Background(), os.Getenv("PATH")+"\x00"+name, name)
}
