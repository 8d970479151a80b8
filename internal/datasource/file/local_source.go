// Package file reads the source list from local disk.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Local is a datasource.Source backed by a file path.
type Local struct{ path string }

// NewLocal returns a Local for path.
func NewLocal(path string) *Local { return &Local{path: path} }

// Open opens the file for reading. Errors keep the path and still satisfy
// errors.Is(err, os.ErrNotExist) and friends. Directories are rejected.
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("source list: %w", err)
	}
	if fi, err := f.Stat(); err == nil && fi.IsDir() {
		f.Close()
		return nil, fmt.Errorf("source list: %s is a directory", l.path)
	}
	return f, nil
}

func (l *Local) String() string { return l.path }
