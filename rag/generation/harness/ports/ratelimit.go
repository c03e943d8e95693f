package harnessports

import "context"

// RateLimiter bounds how many queries reach a provider per key.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
