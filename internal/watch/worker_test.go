package watch

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUnloader struct {
	mu       sync.Mutex
	prefixes []string
}

func (u *recordingUnloader) UnloadDir(prefix string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.prefixes = append(u.prefixes, prefix)
}

func (u *recordingUnloader) snapshot() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.prefixes...)
}

// drainCommands pulls every queued command off an unstarted worker so
// the producer sequencing can be asserted directly.
func drainCommands(w *CommandWorker) []Command {
	var out []Command
	for {
		select {
		case cmd := <-w.queue:
			out = append(out, cmd)
		default:
			return out
		}
	}
}

func TestAddBracketsExcludesAroundDirs(t *testing.T) {
	d, _ := newTestDriver(t, nil, nil)
	w := NewCommandWorker(d, 64)
	t.Cleanup(w.Stop)

	w.Add([]string{"dir1", "dir2", "dir3"}, []string{"dir1", "dir2"})

	want := []Command{
		{OpExclude, "dir1"},
		{OpExclude, "dir2"},
		{OpAdd, "dir1"},
		{OpAdd, "dir2"},
		{OpAdd, "dir3"},
		{OpUnexclude, "dir1"},
		{OpUnexclude, "dir2"},
	}
	assert.Equal(t, want, drainCommands(w))
}

func TestRemoveBracketsExcludesAroundDirs(t *testing.T) {
	d, _ := newTestDriver(t, nil, nil)
	w := NewCommandWorker(d, 64)
	t.Cleanup(w.Stop)

	w.Remove([]string{"dir1"}, []string{"skip"})

	want := []Command{
		{OpExclude, "skip"},
		{OpRemove, "dir1"},
		{OpUnexclude, "skip"},
	}
	assert.Equal(t, want, drainCommands(w))
}

func TestWorkerAddWatchesAndRemovePurgesTags(t *testing.T) {
	d, _ := newTestDriver(t, nil, nil)
	unloader := &recordingUnloader{}
	w := NewCommandWorker(d, 64, unloader)
	t.Cleanup(w.Stop)
	w.Start()

	root := buildTree(t)
	w.Add([]string{root}, nil)
	require.Eventually(t, func() bool { return d.Watches().WatchOf(root) != 0 },
		2*time.Second, 10*time.Millisecond)

	w.Remove([]string{root}, nil)
	require.Eventually(t, func() bool { return d.Watches().Len() == 0 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{root}, unloader.snapshot())
}

func TestWorkerScopedExcludeLeavesNoResidue(t *testing.T) {
	d, c := newTestDriver(t, nil, nil)
	w := NewCommandWorker(d, 64)
	t.Cleanup(w.Stop)
	w.Start()

	root := buildTree(t)
	w.Add([]string{root}, []string{"x"})
	require.Eventually(t, func() bool { return d.Watches().WatchOf(root) != 0 },
		2*time.Second, 10*time.Millisecond)

	// The exclude applied during the add...
	assert.Zero(t, d.Watches().WatchOf(filepath.Join(root, "x")))
	assert.False(t, c.contains(filepath.Join(root, "x", "c.cc")))

	// ...but was deregistered afterwards, so a later add descends into x.
	w.Add([]string{filepath.Join(root, "x")}, nil)
	require.Eventually(t, func() bool {
		return d.Watches().WatchOf(filepath.Join(root, "x")) != 0
	}, 2*time.Second, 10*time.Millisecond)
}
