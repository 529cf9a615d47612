// Package cache wraps the shared low-latency key-value store used by the
// gateway's stateful components.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// ErrScriptingUnsupported is returned by Eval on clients without server-side
// scripting.
var ErrScriptingUnsupported = errors.New("cache: scripting not supported")

// Client is the shared store surface. All methods are safe for concurrent
// use; Eval runs a server-side script atomically.
type Client interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
	Ping(ctx context.Context) error
	Close() error
}
