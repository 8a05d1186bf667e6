package watch

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// filterChain decides whether a path is eligible for indexing or
// recursive descent: a directory-basename exclude set, a
// whitelist-extension filter, and a forbidden-prefix filter for
// dotfiles, tilde backups, and hash swapfiles. The exclude set is
// guarded by its own mutex because EXCLUDE/UN_EXCLUDE commands mutate
// it concurrently with reads from the driver's event goroutine.
type filterChain struct {
	mu      sync.RWMutex
	exclude map[string]bool // directory basenames skipped during recursive add, mutated by EXCLUDE/UN_EXCLUDE
	include []string        // whitelist-extension glob patterns, doublestar-matched
}

func newFilterChain(exclude, include []string) *filterChain {
	f := &filterChain{
		exclude: make(map[string]bool, len(exclude)),
		include: append([]string(nil), include...),
	}
	for _, e := range exclude {
		f.exclude[e] = true
	}
	return f
}

// excludesBasename reports whether basename is in the exclude set.
// Membership is checked by basename only, never the full path.
func (f *filterChain) excludesBasename(basename string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.exclude[basename]
}

func (f *filterChain) addExclude(basename string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exclude[basename] = true
}

func (f *filterChain) removeExclude(basename string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.exclude, basename)
}

// forbiddenPrefix rejects dotfiles, editor tilde backups, and hash
// swapfiles.
func forbiddenPrefix(basename string) bool {
	if basename == "" {
		return true
	}
	if strings.HasPrefix(basename, ".") {
		return true
	}
	if strings.HasSuffix(basename, "~") {
		return true
	}
	if strings.HasPrefix(basename, "#") && strings.HasSuffix(basename, "#") {
		return true
	}
	return false
}

// acceptsFile reports whether a regular file passes the whitelist-
// extension filter and the forbidden-prefix filter. An empty include
// list accepts everything that isn't forbidden.
func (f *filterChain) acceptsFile(path string) bool {
	base := filepath.Base(path)
	if forbiddenPrefix(base) {
		return false
	}
	if len(f.include) == 0 {
		return true
	}
	for _, pattern := range f.include {
		if matched, err := doublestar.Match(pattern, path); err == nil && matched {
			return true
		}
		if matched, err := doublestar.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}
