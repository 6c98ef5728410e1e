package database

import "errors"

// ErrStorageUnavailable marks operations attempted before the durable store
// initialized or after it was closed. Classification reads degrade to safe
// defaults instead of surfacing it; administrative calls return it.
var ErrStorageUnavailable = errors.New("storage unavailable")
