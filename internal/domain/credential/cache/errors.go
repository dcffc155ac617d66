package cache

import "errors"

// ErrNoEntry is returned by Fill when no entry exists for the key.
var ErrNoEntry = errors.New("cache entry not found")
