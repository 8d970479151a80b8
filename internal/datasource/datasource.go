// Package datasource defines how raw inputs such as the source-list CSV are
// opened. Implementations live in the file and httpds subpackages.
package datasource

import (
	"context"
	"io"
)

// Source opens a byte stream. Callers must close the returned reader.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}
