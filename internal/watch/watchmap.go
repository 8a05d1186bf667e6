// Package watch implements the directory-watch pipeline: the
// bidirectional watch map, the filesystem watch driver, the
// quiescence-coalescing index batcher, and the watch-command worker.
package watch

import "sync"

// Map is a thread-safe bidirectional path<->watch-id map. Lookups are
// backed by a parallel array plus an index map rather than two plain
// maps, so iteration (Subdirs/SubdirWatches) stays cache-friendly. It
// self-synchronizes: the driver's directory tracker and the command
// worker both mutate it concurrently with read-only diagnostics.
type Map struct {
	mu sync.RWMutex

	paths   []string    // watch id -> path, parallel to ids
	ids     []int       // watch id -> id, parallel to paths (for O(1) reverse scan)
	byPath  map[string]int // path -> id
	byID    map[int]int    // id -> index into paths/ids
	nextID  int
}

// NewMap creates an empty watch map.
func NewMap() *Map {
	return &Map{
		byPath: make(map[string]int),
		byID:   make(map[int]int),
		nextID: 1,
	}
}

// Add registers path and returns its watch id. Adding an
// already-watched path is idempotent: it returns the existing id
// without creating a new entry.
func (m *Map) Add(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byPath[path]; ok {
		return id
	}

	id := m.nextID
	m.nextID++

	idx := len(m.paths)
	m.paths = append(m.paths, path)
	m.ids = append(m.ids, id)
	m.byPath[path] = id
	m.byID[id] = idx
	return id
}

// Remove unregisters id. Removing an unregistered id is a no-op.
func (m *Map) Remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.byID[id]
	if !ok {
		return
	}

	path := m.paths[idx]
	lastIdx := len(m.paths) - 1
	lastID := m.ids[lastIdx]

	m.paths[idx] = m.paths[lastIdx]
	m.ids[idx] = lastID
	m.byID[lastID] = idx

	m.paths = m.paths[:lastIdx]
	m.ids = m.ids[:lastIdx]

	delete(m.byID, id)
	delete(m.byPath, path)
}

// WatchOf returns the watch id for path, or 0 if path is unwatched.
func (m *Map) WatchOf(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byPath[path]
}

// PathOf returns the path registered under id, or "", false if id is
// unknown.
func (m *Map) PathOf(id int) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byID[id]
	if !ok {
		return "", false
	}
	return m.paths[idx], true
}

// Subdirs returns every watched path equal to or nested under prefix,
// scanned under the reader lock without mutating.
func (m *Map) Subdirs(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, p := range m.paths {
		if isUnderOrEqual(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// SubdirWatches returns the watch ids for every watched path equal to
// or nested under prefix.
func (m *Map) SubdirWatches(prefix string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []int
	for i, p := range m.paths {
		if isUnderOrEqual(p, prefix) {
			out = append(out, m.ids[i])
		}
	}
	return out
}

// Len reports how many paths are currently watched.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.paths)
}

func isUnderOrEqual(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if len(path) <= len(prefix) {
		return false
	}
	if path[:len(prefix)] != prefix {
		return false
	}
	return path[len(prefix)] == '/'
}
