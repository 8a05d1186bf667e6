package watch

import (
	"context"
	"sync"

	"github.com/standardbeagle/gtagsmixer/internal/debug"
)

// Op is a watch-command opcode.
type Op int

const (
	OpAdd Op = iota
	OpRemove
	OpExclude
	OpUnexclude
)

func (o Op) String() string {
	switch o {
	case OpAdd:
		return "ADD"
	case OpRemove:
		return "REMOVE"
	case OpExclude:
		return "EXCLUDE"
	case OpUnexclude:
		return "UN_EXCLUDE"
	default:
		return "UNKNOWN"
	}
}

// Command is one entry on the command queue.
type Command struct {
	Op   Op
	Path string
}

// TagUnloader purges loaded tags under a path prefix. The local query
// engine satisfies this with UnloadDir; a deployment with separate
// definition and caller stores registers one unloader per store.
type TagUnloader interface {
	UnloadDir(prefix string)
}

// CommandWorker is the single consumer of the command queue. External
// callers (the watcher-command listener, the CLI) produce commands via
// Add/Remove; the worker serializes them onto the watch driver so the
// driver's recursive add/remove never runs concurrently with itself.
type CommandWorker struct {
	driver    *Driver
	unloaders []TagUnloader
	queue     chan Command

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCommandWorker creates a worker over driver. Every unloader is told
// to drop tags under a removed subtree.
func NewCommandWorker(driver *Driver, queueSize int, unloaders ...TagUnloader) *CommandWorker {
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CommandWorker{
		driver:    driver,
		unloaders: unloaders,
		queue:     make(chan Command, queueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the consumer loop.
func (w *CommandWorker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop terminates the consumer loop and waits for it to exit. Commands
// still queued are discarded.
func (w *CommandWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *CommandWorker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case cmd := <-w.queue:
			w.apply(cmd)
		}
	}
}

func (w *CommandWorker) apply(cmd Command) {
	debug.LogWatch("command worker: %s %s\n", cmd.Op, cmd.Path)
	switch cmd.Op {
	case OpAdd:
		if err := w.driver.AddDirectoryRecursive(cmd.Path); err != nil {
			debug.LogWatch("command worker: add %s failed: %v\n", cmd.Path, err)
		}
	case OpRemove:
		w.driver.RemoveDirectoryRecursive(cmd.Path)
		for _, u := range w.unloaders {
			u.UnloadDir(cmd.Path)
		}
	case OpExclude:
		w.driver.AddExcludeDirectory(cmd.Path)
	case OpUnexclude:
		w.driver.RemoveExcludeDirectory(cmd.Path)
	}
}

// enqueue blocks until the command is queued or the worker is stopped.
func (w *CommandWorker) enqueue(cmd Command) {
	select {
	case w.queue <- cmd:
	case <-w.ctx.Done():
	}
}

// Add watches dirs recursively. Each exclude basename is registered
// before the adds and deregistered after, so the excludes scope exactly
// one operation and leave no residue.
func (w *CommandWorker) Add(dirs, excludes []string) {
	w.bracketed(OpAdd, dirs, excludes)
}

// Remove unwatches dirs recursively and purges their tags, with the
// same operation-scoped exclude bracketing as Add.
func (w *CommandWorker) Remove(dirs, excludes []string) {
	w.bracketed(OpRemove, dirs, excludes)
}

func (w *CommandWorker) bracketed(op Op, dirs, excludes []string) {
	for _, e := range excludes {
		w.enqueue(Command{Op: OpExclude, Path: e})
	}
	for _, d := range dirs {
		w.enqueue(Command{Op: op, Path: d})
	}
	for _, e := range excludes {
		w.enqueue(Command{Op: OpUnexclude, Path: e})
	}
}
