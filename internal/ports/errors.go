package ports

import "errors"

// ErrCacheMiss is returned by CacheRepository implementations for absent or expired keys
var ErrCacheMiss = errors.New("cache miss")
