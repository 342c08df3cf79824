// Package swapfile manages the additional swap files ("slots") that the controller
// adds and removes at runtime.
//
// Slot i lives at {basePath}{i} for i in 1..max. Nothing about slots is cached:
// every question is answered by looking at the filesystem, so a manual swapoff or
// rm between ticks is picked up on the next query.
package swapfile

import (
	"fmt"

	"github.com/spf13/afero"
)

// Registry answers which slot files exist
type Registry struct {
	fs       afero.Fs
	basePath string
	max      int
}

// NewRegistry creates a registry for slots 1..max under basePath
func NewRegistry(fs afero.Fs, basePath string, max int) *Registry {
	return &Registry{fs: fs, basePath: basePath, max: max}
}

// Max returns the configured number of slots
func (r *Registry) Max() int {
	return r.max
}

// Path returns the path of slot index
func (r *Registry) Path(index int) string {
	return fmt.Sprintf("%s%d", r.basePath, index)
}

// Exists reports whether the file for slot index is present
func (r *Registry) Exists(index int) bool {
	ok, err := afero.Exists(r.fs, r.Path(index))
	return err == nil && ok
}

// Count returns the number of slot files present
func (r *Registry) Count() int {
	n := 0
	for i := 1; i <= r.max; i++ {
		if r.Exists(i) {
			n++
		}
	}
	return n
}

// NextFree returns the lowest slot index without a file, or 0 when all are taken
func (r *Registry) NextFree() int {
	for i := 1; i <= r.max; i++ {
		if !r.Exists(i) {
			return i
		}
	}
	return 0
}

// Existing returns the indexes of present slot files in ascending order
func (r *Registry) Existing() []int {
	var idx []int
	for i := 1; i <= r.max; i++ {
		if r.Exists(i) {
			idx = append(idx, i)
		}
	}
	return idx
}
