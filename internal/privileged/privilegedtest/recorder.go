// Package privilegedtest provides an in-memory privileged.Executor for tests.
package privilegedtest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/monify-labs/swapguard/internal/privileged"
)

// ErrInjected is the cause attached to failures configured with FailOn
var ErrInjected = errors.New("injected failure")

// Recorder simulates swap and file operations on an afero filesystem and
// records every call it receives.
type Recorder struct {
	Fs afero.Fs

	mu       sync.Mutex
	calls    []privileged.Operation
	active   map[string]bool
	failures map[privileged.Kind]map[string]bool // kind -> path ("" matches any)
}

// NewRecorder creates a recorder over fs
func NewRecorder(fs afero.Fs) *Recorder {
	return &Recorder{
		Fs:       fs,
		active:   make(map[string]bool),
		failures: make(map[privileged.Kind]map[string]bool),
	}
}

// FailOn makes operations of kind fail. With no paths, every call of that kind fails.
func (r *Recorder) FailOn(kind privileged.Kind, paths ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failures[kind] == nil {
		r.failures[kind] = make(map[string]bool)
	}
	if len(paths) == 0 {
		r.failures[kind][""] = true
	}
	for _, p := range paths {
		r.failures[kind][p] = true
	}
}

// SetActive marks path as an active swap area without going through Execute
func (r *Recorder) SetActive(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[path] = true
}

// IsActive reports whether path is currently active
func (r *Recorder) IsActive(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[path]
}

// Calls returns a copy of every operation received so far
func (r *Recorder) Calls() []privileged.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]privileged.Operation(nil), r.calls...)
}

// Kinds returns the kinds of the recorded calls, in order
func (r *Recorder) Kinds() []privileged.Kind {
	calls := r.Calls()
	kinds := make([]privileged.Kind, len(calls))
	for i, c := range calls {
		kinds[i] = c.Kind
	}
	return kinds
}

// Count returns the number of recorded calls of kind
func (r *Recorder) Count(kind privileged.Kind) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Reset clears the recorded calls
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Execute implements privileged.Executor
func (r *Recorder) Execute(ctx context.Context, op privileged.Operation) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, op)

	if f := r.failures[op.Kind]; f != nil && (f[""] || f[op.Path]) {
		// allocation can fail after writing part of the file
		if op.Kind == privileged.AllocateZero {
			_ = afero.WriteFile(r.Fs, op.Path, []byte{0}, 0644)
		}
		return "", &privileged.OpError{Op: op, Err: ErrInjected}
	}

	switch op.Kind {
	case privileged.AllocateZero:
		return "", afero.WriteFile(r.Fs, op.Path, make([]byte, op.SizeMB), 0644)
	case privileged.SetOwnerOnly:
		return "", r.Fs.Chmod(op.Path, 0600)
	case privileged.ActivateSwap:
		r.active[op.Path] = true
	case privileged.DeactivateSwap:
		delete(r.active, op.Path)
	case privileged.DeleteFile:
		if err := r.Fs.Remove(op.Path); err != nil && !errors.Is(err, afero.ErrFileNotFound) {
			return "", err
		}
	case privileged.ListActiveSwaps:
		paths := make([]string, 0, len(r.active))
		for p := range r.active {
			paths = append(paths, privileged.EscapeRaw(p))
		}
		sort.Strings(paths)
		return strings.Join(paths, "\n"), nil
	}

	return "", nil
}
