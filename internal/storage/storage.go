// Package storage contains the backend-agnostic sink contract. Backends
// (postgres, sqlite, mssql) register a Replacer factory at init time; callers
// obtain a Sink via New and never import a backend directly. Import
// simdasi/internal/storage/all to enable every built-in backend.
package storage

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"simdasi/internal/table"
)

// TableRef names a destination table.
type TableRef struct {
	Schema string
	Name   string
}

// FQN renders "schema.name", or just the name when Schema is empty.
func (r TableRef) FQN() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

func (r TableRef) String() string { return r.FQN() }

// Result is the outcome of one Write. OK and Message form the external
// contract; Err carries the underlying error for classification.
type Result struct {
	OK      bool
	Message string
	Rows    int64
	Err     error
}

// MsgNoData is the Message of a Write that was given nothing to store.
const MsgNoData = "no data to save"

// Replacer is what a backend implements: atomically replace ref with a table
// of the given columns and rows, creating the schema when needed.
type Replacer interface {
	Replace(ctx context.Context, ref TableRef, cols []Column, rows [][]any) (int64, error)
	Types() TypeMap
	Close()
}

// Config selects and configures a backend.
type Config struct {
	Kind    string
	DSN     string
	Verbose bool
}

// Factory opens a backend.
type Factory func(ctx context.Context, cfg Config) (Replacer, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register adds (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens the backend named by cfg.Kind and wraps it in a Sink.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: unknown kind %q (registered: %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	r, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", cfg.Kind, err)
	}
	return NewSink(r, cfg.Verbose), nil
}

// Sink writes tables through a Replacer. It is safe for concurrent use when
// the Replacer is.
type Sink struct {
	r       Replacer
	verbose bool
}

// NewSink wraps r.
func NewSink(r Replacer, verbose bool) *Sink { return &Sink{r: r, verbose: verbose} }

// Write replaces ref with t. Absent and empty tables are not written and
// yield OK=false with MsgNoData.
func (s *Sink) Write(ctx context.Context, t *table.Table, ref TableRef) Result {
	if t.Empty() {
		log.Printf("sink: %s: %s", ref, MsgNoData)
		return Result{Message: MsgNoData}
	}

	start := time.Now()
	cols := InferColumns(t, s.r.Types())
	if s.verbose {
		log.Printf("sink: %s: columns %s", ref, describeColumns(cols))
	}
	n, err := s.r.Replace(ctx, ref, cols, RowValues(t, cols))
	if err != nil {
		log.Printf("sink: %s: write failed: %v", ref, err)
		return Result{Message: fmt.Sprintf("write %s failed: %v", ref, err), Err: err}
	}
	msg := fmt.Sprintf("saved %d rows to %s", n, ref)
	log.Printf("sink: %s in %s", msg, time.Since(start).Truncate(time.Millisecond))
	return Result{OK: true, Message: msg, Rows: n}
}

// Close releases the backend.
func (s *Sink) Close() { s.r.Close() }

func describeColumns(cols []Column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c.Name + " " + c.SQLType
	}
	return strings.Join(parts, ", ")
}
