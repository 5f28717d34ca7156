// Package repository defines errors shared by the concrete store
// implementations in the dynamo and sqlite subpackages. The interfaces the
// use cases consume are declared on the consumer side, in internal/usecase.
package repository

import "errors"

// ErrNotFound reports a lookup that matched no row for the calling user.
var ErrNotFound = errors.New("repository: not found")
