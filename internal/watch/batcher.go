package watch

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/standardbeagle/gtagsmixer/internal/debug"
)

// DeltaLoader receives the tag delta files the indexer produces. The
// local query engine satisfies this with LoadUpdate, which serializes
// the merge against in-flight queries.
type DeltaLoader interface {
	LoadUpdate(path string) error
}

// DeltaLoaderFunc adapts a function to the DeltaLoader interface.
type DeltaLoaderFunc func(path string) error

func (f DeltaLoaderFunc) LoadUpdate(path string) error { return f(path) }

// BatcherOptions configures a Batcher.
type BatcherOptions struct {
	// Quiescence is how long the batcher sleeps after the first queued
	// path before draining the rest, so a save-a-whole-directory burst
	// collapses into one indexer run. Defaults to 100ms.
	Quiescence time.Duration
	// QueueSize bounds the index queue. Defaults to 4096.
	QueueSize int
	// IndexerPath is the out-of-process indexer binary.
	IndexerPath string
	// Callgraph, when set, runs a second indexer pass with --callgraph
	// and feeds its output to CallgraphLoader.
	Callgraph       bool
	CallgraphLoader DeltaLoader
}

func (o BatcherOptions) withDefaults() BatcherOptions {
	if o.Quiescence <= 0 {
		o.Quiescence = 100 * time.Millisecond
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 4096
	}
	return o
}

// Batcher drains the index queue: it waits for a changed path, sleeps a
// quiescence window to coalesce bursts, drains whatever else arrived,
// dedupes, runs the indexer over the batch, and loads the resulting
// delta into the tag store.
type Batcher struct {
	opts   BatcherOptions
	loader DeltaLoader
	queue  chan string

	// runIndexer is swappable so tests can substitute a fake indexer
	// instead of exec'ing a real binary.
	runIndexer func(ctx context.Context, output string, callgraph bool, paths []string) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBatcher creates a Batcher feeding loader.
func NewBatcher(loader DeltaLoader, opts BatcherOptions) *Batcher {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	b := &Batcher{
		opts:   opts,
		loader: loader,
		queue:  make(chan string, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	b.runIndexer = b.execIndexer
	return b
}

// Enqueue puts path on the index queue, blocking if the queue is full.
func (b *Batcher) Enqueue(path string) {
	select {
	case b.queue <- path:
	case <-b.ctx.Done():
	}
}

// TryEnqueue puts path on the index queue without blocking. The watch
// driver's event goroutine uses this so a full queue cannot stall event
// processing; a dropped path is logged and will be picked up the next
// time the file changes.
func (b *Batcher) TryEnqueue(path string) bool {
	select {
	case b.queue <- path:
		return true
	default:
		debug.LogIndexing("index queue full, dropping %s\n", path)
		return false
	}
}

// Start launches the batch loop.
func (b *Batcher) Start() {
	b.wg.Add(1)
	go b.run()
}

// Stop terminates the batch loop and waits for it to exit. Paths still
// queued are discarded.
func (b *Batcher) Stop() {
	b.cancel()
	b.wg.Wait()
}

func (b *Batcher) run() {
	defer b.wg.Done()
	for {
		var first string
		select {
		case <-b.ctx.Done():
			return
		case first = <-b.queue:
		}

		select {
		case <-b.ctx.Done():
			return
		case <-time.After(b.opts.Quiescence):
		}

		batch := b.drain(first)
		b.flush(batch)
	}
}

// drain collects first plus everything that arrived during the
// quiescence window, sorted and deduped.
func (b *Batcher) drain(first string) []string {
	batch := []string{first}
	for {
		select {
		case p := <-b.queue:
			batch = append(batch, p)
			continue
		default:
		}
		break
	}

	sort.Strings(batch)
	out := batch[:0]
	for i, p := range batch {
		if i > 0 && p == batch[i-1] {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (b *Batcher) flush(paths []string) {
	debug.LogIndexing("indexing batch of %d path(s)\n", len(paths))

	if err := b.indexInto(b.loader, false, paths); err != nil {
		debug.LogIndexing("indexer run failed: %v\n", err)
	}
	if b.opts.Callgraph && b.opts.CallgraphLoader != nil {
		if err := b.indexInto(b.opts.CallgraphLoader, true, paths); err != nil {
			debug.LogIndexing("callgraph indexer run failed: %v\n", err)
		}
	}
}

// indexInto runs one indexer pass over paths into a fresh temp file and
// hands the file to loader. The temp file is deleted in every outcome;
// a non-zero indexer exit skips the load and keeps prior store state.
func (b *Batcher) indexInto(loader DeltaLoader, callgraph bool, paths []string) error {
	tmp, err := os.CreateTemp("", "gtagsmixer-delta-*.tags")
	if err != nil {
		return err
	}
	output := tmp.Name()
	tmp.Close()
	defer os.Remove(output)

	if err := b.runIndexer(b.ctx, output, callgraph, paths); err != nil {
		return err
	}
	return loader.LoadUpdate(output)
}

func (b *Batcher) execIndexer(ctx context.Context, output string, callgraph bool, paths []string) error {
	args := []string{"--output_file=" + output}
	if callgraph {
		args = append(args, "--callgraph")
	}
	args = append(args, paths...)

	cmd := exec.CommandContext(ctx, b.opts.IndexerPath, args...)
	cmd.Dir = filepath.Dir(output)
	return cmd.Run()
}
