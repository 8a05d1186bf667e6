package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/gtagsmixer/internal/config"
	"github.com/standardbeagle/gtagsmixer/internal/router"
)

type recordingCommander struct {
	mu       sync.Mutex
	adds     [][2][]string // {dirs, excludes} per Add call
	removes  [][2][]string
}

func (c *recordingCommander) Add(dirs, excludes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adds = append(c.adds, [2][]string{dirs, excludes})
}

func (c *recordingCommander) Remove(dirs, excludes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removes = append(c.removes, [2][]string{dirs, excludes})
}

func (c *recordingCommander) addCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.adds)
}

func startTestServer(t *testing.T, shutdown func()) (*Server, *recordingCommander) {
	t.Helper()

	cfg := &config.Config{
		Defaults: config.Defaults{Corpus: "corpus1", Language: "c++"},
		Sources:  map[string]map[string]config.LanguageSource{},
	}
	rtr := router.New(cfg, nil)
	commander := &recordingCommander{}

	srv, err := New(Options{
		QueryPort:          0,
		VersionPort:        0,
		WatcherCommandPort: 0,
		Shutdown:           shutdown,
	}, rtr, commander)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv, commander
}

// roundTrip sends one line and reads the whole response until the
// server closes the connection, mirroring the one-shot client framing.
func roundTrip(t *testing.T, addr, line string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	_, err = fmt.Fprintf(conn, "%s\n", line)
	require.NoError(t, err)

	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(resp)
}

func TestQueryPortAnswersPing(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	resp := roundTrip(t, srv.QueryAddr(), `(ping (language "c++"))`)
	assert.Equal(t, "((value t))", resp)
}

func TestQueryPortAnswersMalformedLineAsPing(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	resp := roundTrip(t, srv.QueryAddr(), `(((`)
	assert.Equal(t, "((value t))", resp)
}

func TestQueryPortConnectionIsOneShot(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	conn, err := net.DialTimeout("tcp", srv.QueryAddr(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	fmt.Fprint(conn, "(ping)\n(ping)\n")
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	// The second line is never read: one command per connection.
	assert.Equal(t, "((value t))", string(resp))
}

func TestVersionPortReportsProtocolVersion(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	resp := roundTrip(t, srv.VersionAddr(), "v")
	assert.Equal(t, "2\n", resp)
}

func TestVersionPortShutdownCommand(t *testing.T) {
	fired := make(chan struct{})
	srv, _ := startTestServer(t, func() { close(fired) })

	roundTrip(t, srv.VersionAddr(), "!")

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback never fired")
	}
}

func TestWatcherCommandPortParsesAdd(t *testing.T) {
	srv, commander := startTestServer(t, nil)

	roundTrip(t, srv.WatcherCommandAddr(), `(add (dirs "/p/one" "/p/two") (excludes ".git"))`)

	require.Eventually(t, func() bool { return commander.addCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	commander.mu.Lock()
	defer commander.mu.Unlock()
	assert.Equal(t, []string{"/p/one", "/p/two"}, commander.adds[0][0])
	assert.Equal(t, []string{".git"}, commander.adds[0][1])
}

func TestWatcherCommandPortParsesRemoveWithoutExcludes(t *testing.T) {
	srv, commander := startTestServer(t, nil)

	roundTrip(t, srv.WatcherCommandAddr(), `(remove (dirs "/p/gone"))`)

	require.Eventually(t, func() bool {
		commander.mu.Lock()
		defer commander.mu.Unlock()
		return len(commander.removes) == 1
	}, 2*time.Second, 10*time.Millisecond)
	commander.mu.Lock()
	defer commander.mu.Unlock()
	assert.Equal(t, []string{"/p/gone"}, commander.removes[0][0])
	assert.Empty(t, commander.removes[0][1])
}
