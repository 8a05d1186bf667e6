// Package core implements the string interner and path store:
// deduplicated, stably-identified strings shared by every tag record,
// and a path store that additionally exposes a stable basename view.
package core

import (
	"path/filepath"
	"sync"
)

// StringPool deduplicates strings: two calls to Intern with equal byte
// sequences return the same backing string value, so every tag record
// that borrows it compares and hashes cheaply and shares one allocation.
//
// A StringPool must be the last thing torn down: tag records and path
// descriptors borrow its strings for their entire lifetime.
type StringPool struct {
	mu    sync.RWMutex
	table map[string]string
}

// NewStringPool creates an empty string pool.
func NewStringPool() *StringPool {
	return &StringPool{table: make(map[string]string)}
}

// Intern returns the pool's single shared instance of s, adding it if this
// is the first time s has been seen.
func (p *StringPool) Intern(s string) string {
	p.mu.RLock()
	if v, ok := p.table[s]; ok {
		p.mu.RUnlock()
		return v
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.table[s]; ok {
		return v
	}
	p.table[s] = s
	return s
}

// Len reports how many distinct strings are currently interned.
func (p *StringPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.table)
}

// PathPool interns full paths and exposes a stable, interned basename
// for each.
type PathPool struct {
	strings *StringPool

	mu        sync.RWMutex
	basenames map[string]string // interned path -> interned basename
}

// NewPathPool creates a path store backed by the given string pool.
func NewPathPool(strings *StringPool) *PathPool {
	return &PathPool{
		strings:   strings,
		basenames: make(map[string]string),
	}
}

// Intern interns path and returns the interned path along with its
// interned basename.
func (pp *PathPool) Intern(path string) (internedPath, basename string) {
	internedPath = pp.strings.Intern(path)

	pp.mu.RLock()
	if b, ok := pp.basenames[internedPath]; ok {
		pp.mu.RUnlock()
		return internedPath, b
	}
	pp.mu.RUnlock()

	b := pp.strings.Intern(filepath.Base(internedPath))

	pp.mu.Lock()
	pp.basenames[internedPath] = b
	pp.mu.Unlock()

	return internedPath, b
}

// Basename returns the interned basename for a previously-interned path,
// if any.
func (pp *PathPool) Basename(internedPath string) (string, bool) {
	pp.mu.RLock()
	defer pp.mu.RUnlock()
	b, ok := pp.basenames[internedPath]
	return b, ok
}

// Forget drops the basename entry for a path. Called by the tag store when
// a file is fully unloaded, so the path store doesn't retain memory for
// files that no longer exist in the index.
func (pp *PathPool) Forget(internedPath string) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	delete(pp.basenames, internedPath)
}
