package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/gtagsmixer/internal/debug"
	gerrors "github.com/standardbeagle/gtagsmixer/internal/errors"
)

// Driver drives the filesystem watches: one fsnotify watcher, a
// directory tracker that keeps the watch tree in sync with the
// filesystem, and an index emitter that feeds the index queue.
type Driver struct {
	fsw     *fsnotify.Watcher
	watches *Map
	filters *filterChain

	onIndexPath func(path string) // index emitter, feeds the batcher's queue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Driver backed by a fresh fsnotify watcher. onIndexPath
// is invoked once per file that should be (re)indexed, including once
// per existing file discovered during a recursive add.
func New(exclude, include []string, onIndexPath func(path string)) (*Driver, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, gerrors.NewWatchError("create", "", true, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		fsw:         fsw,
		watches:     NewMap(),
		filters:     newFilterChain(exclude, include),
		onIndexPath: onIndexPath,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Watches exposes the underlying watch map for diagnostics and tests.
func (d *Driver) Watches() *Map { return d.watches }

// Start launches the kernel-event processing goroutine.
func (d *Driver) Start() {
	d.wg.Add(1)
	go d.processEvents()
}

// Stop tears down the fsnotify watcher and waits for the event loop to
// exit.
func (d *Driver) Stop() error {
	d.cancel()
	err := d.fsw.Close()
	d.wg.Wait()
	return err
}

func (d *Driver) processEvents() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.fsw.Events:
			if !ok {
				return
			}
			d.handleEvent(event)
		case err, ok := <-d.fsw.Errors:
			if !ok {
				return
			}
			// fsnotify retries EINTR internally; anything surfacing here is
			// a real watcher error.
			debug.LogWatch("watch driver: fatal watcher error: %v\n", err)
		}
	}
}

func (d *Driver) handleEvent(event fsnotify.Event) {
	path := event.Name
	debug.LogWatch("watch driver: event %v for %s\n", event.Op, path)

	if event.Op&fsnotify.Remove != 0 || event.Op&fsnotify.Rename != 0 {
		if id := d.watches.WatchOf(path); id != 0 {
			// The deleted path is a watched directory itself: tear down
			// the whole subtree.
			d.RemoveDirectoryRecursive(path)
			return
		}
		if d.filters.acceptsFile(path) {
			d.onIndexPath(path)
		}
		return
	}

	info, err := os.Lstat(path)
	if err != nil {
		return
	}

	if info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			if !d.filters.excludesBasename(filepath.Base(path)) {
				d.AddDirectoryRecursive(path)
			}
		}
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
		if d.filters.acceptsFile(path) {
			d.onIndexPath(path)
		}
	}
}

// AddDirectoryRecursive descends root with lstat (never following
// symlinks), skipping "." and ".." and excluded basenames, emitting an
// import for every regular file that passes the filters, recursing
// into subdirectories first, then registering the directory itself
// post-order so a directory is only watched once its children are
// already watchable.
func (d *Driver) AddDirectoryRecursive(root string) error {
	if d.filters.excludesBasename(filepath.Base(root)) {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return gerrors.NewWatchError("readdir", root, false, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == "." || name == ".." {
			continue
		}
		if d.filters.excludesBasename(name) {
			continue
		}
		full := filepath.Join(root, name)

		info, err := os.Lstat(full)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}

		if info.IsDir() {
			if err := d.AddDirectoryRecursive(full); err != nil {
				debug.LogWatch("watch driver: recursive add of %s failed: %v\n", full, err)
			}
			continue
		}

		if info.Mode().IsRegular() && d.filters.acceptsFile(full) {
			d.onIndexPath(full)
		}
	}

	// Post-order: register the parent after its children, eliminating
	// the race where a Create event fires before the child is watchable.
	if err := d.fsw.Add(root); err != nil {
		return gerrors.NewWatchError("addwatch", root, false, err)
	}
	d.watches.Add(root)
	return nil
}

// RemoveDirectoryRecursive tears down every watch equal to or nested
// under root, leaving no entries in the watch map under root.
func (d *Driver) RemoveDirectoryRecursive(root string) {
	ids := d.watches.SubdirWatches(root)
	for _, id := range ids {
		if path, ok := d.watches.PathOf(id); ok {
			_ = d.fsw.Remove(path) // unregistering an unregistered watch is a no-op
		}
		d.watches.Remove(id)
	}
}

// AddExcludeDirectory registers basename in the exclude set.
func (d *Driver) AddExcludeDirectory(basename string) { d.filters.addExclude(basename) }

// RemoveExcludeDirectory deregisters basename from the exclude set.
func (d *Driver) RemoveExcludeDirectory(basename string) { d.filters.removeExclude(basename) }
