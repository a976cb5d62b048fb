// Package navigate provides ports.Navigator implementations for non-browser hosts.
package navigate

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/target/portal-api/internal/ports"
)

var (
	_ ports.Navigator = (*Writer)(nil)
	_ ports.Navigator = (*Recorder)(nil)
)

// Writer reports each navigation as a line on an io.Writer, prefixed with the base URL.
// The CLI uses it to tell the operator where the portal would land.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	baseURL string
}

// NewWriter creates a Writer navigator.
func NewWriter(w io.Writer, baseURL string) *Writer {
	return &Writer{w: w, baseURL: baseURL}
}

// Navigate writes the destination URL.
func (n *Writer) Navigate(_ context.Context, path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.w, "navigate: %s%s\n", n.baseURL, path)
	return err
}

// Recorder remembers every navigation in order.
type Recorder struct {
	mu    sync.Mutex
	paths []string
}

// Navigate records path.
func (r *Recorder) Navigate(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

// Paths returns the recorded navigations.
func (r *Recorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

// Last returns the most recent navigation or "".
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.paths) == 0 {
		return ""
	}
	return r.paths[len(r.paths)-1]
}
