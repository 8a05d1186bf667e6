// Package server accepts editor connections on the mixer's three
// loopback ports: the query port (one-shot line-framed commands routed
// through the request router), the version/shutdown port, and the
// watcher-command port that feeds the watch-command worker.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/gtagsmixer/internal/debug"
	"github.com/standardbeagle/gtagsmixer/internal/sexpr"
	"github.com/standardbeagle/gtagsmixer/internal/version"
)

// QueryRouter routes one parsed command line and invokes completion
// exactly once with the final response. *router.Router satisfies this.
type QueryRouter interface {
	Route(ctx context.Context, line string, completion func(resp *sexpr.Value))
}

// WatchCommander is the producer side of the watch-command worker.
type WatchCommander interface {
	Add(dirs, excludes []string)
	Remove(dirs, excludes []string)
}

// Options configures a Server. A port of 0 binds an ephemeral port;
// tests use this and read the bound address back. A negative port
// disables that listener.
type Options struct {
	QueryPort          int
	VersionPort        int
	WatcherCommandPort int

	// Shutdown is invoked after a "!" command on the version port is
	// acknowledged. The caller decides whether that means os.Exit.
	Shutdown func()
}

// Server owns the three listeners. Construct with New, then Run.
type Server struct {
	opts    Options
	router  QueryRouter
	watcher WatchCommander

	queryLis   net.Listener
	versionLis net.Listener
	watcherLis net.Listener
}

// New binds the configured loopback ports immediately so a port
// conflict surfaces before any goroutine starts.
func New(opts Options, router QueryRouter, watcher WatchCommander) (*Server, error) {
	s := &Server{opts: opts, router: router, watcher: watcher}

	var err error
	if opts.QueryPort >= 0 {
		s.queryLis, err = listenLoopback(opts.QueryPort)
		if err != nil {
			return nil, fmt.Errorf("bind query port: %w", err)
		}
	}
	if opts.VersionPort >= 0 {
		s.versionLis, err = listenLoopback(opts.VersionPort)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("bind version port: %w", err)
		}
	}
	if opts.WatcherCommandPort >= 0 {
		s.watcherLis, err = listenLoopback(opts.WatcherCommandPort)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("bind watcher-command port: %w", err)
		}
	}
	return s, nil
}

func listenLoopback(port int) (net.Listener, error) {
	return net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
}

// QueryAddr returns the bound query address, e.g. "127.0.0.1:2550".
func (s *Server) QueryAddr() string { return lisAddr(s.queryLis) }

// VersionAddr returns the bound version/shutdown address.
func (s *Server) VersionAddr() string { return lisAddr(s.versionLis) }

// WatcherCommandAddr returns the bound watcher-command address.
func (s *Server) WatcherCommandAddr() string { return lisAddr(s.watcherLis) }

func lisAddr(l net.Listener) string {
	if l == nil {
		return ""
	}
	return l.Addr().String()
}

// Close tears down every bound listener.
func (s *Server) Close() {
	for _, l := range []net.Listener{s.queryLis, s.versionLis, s.watcherLis} {
		if l != nil {
			l.Close()
		}
	}
}

// Run serves until ctx is canceled or a listener fails. It closes the
// listeners on the way out.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	if s.queryLis != nil {
		g.Go(func() error { return s.acceptLoop(ctx, s.queryLis, s.handleQuery) })
	}
	if s.versionLis != nil {
		g.Go(func() error { return s.acceptLoop(ctx, s.versionLis, s.handleVersion) })
	}
	if s.watcherLis != nil {
		g.Go(func() error { return s.acceptLoop(ctx, s.watcherLis, s.handleWatcherCommand) })
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, lis net.Listener, handle func(ctx context.Context, conn net.Conn)) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go handle(ctx, conn)
	}
}

// readLine reads one \n-terminated command line and returns it with
// the terminator stripped.
func readLine(conn net.Conn) (string, error) {
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// handleQuery implements the one-shot query framing: read a line,
// route it, write the response, close. No keep-alive, no pipelining.
func (s *Server) handleQuery(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	line, err := readLine(conn)
	if err != nil {
		return
	}
	logClientType(line)

	done := make(chan struct{})
	s.router.Route(ctx, line, func(resp *sexpr.Value) {
		fmt.Fprint(conn, sexpr.Write(resp))
		close(done)
	})
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// logClientType records which editor client sent the command, at debug
// level, keyed off the client-type attribute when present.
func logClientType(line string) {
	if !debug.IsDebugEnabled() {
		return
	}
	v, _, err := sexpr.Parse([]byte(line))
	if err != nil {
		return
	}
	if ct, ok := sexpr.AssocGetValue(v, "client-type"); ok {
		if name, ok := ct.Text(); ok {
			debug.LogRouter("query from client %q\n", name)
		}
	}
}

// handleVersion serves the version/shutdown protocol: "v" answers the
// protocol version, "!" acknowledges and then triggers shutdown.
func (s *Server) handleVersion(_ context.Context, conn net.Conn) {
	defer conn.Close()

	line, err := readLine(conn)
	if err != nil {
		return
	}
	switch line {
	case "v":
		fmt.Fprintf(conn, "%d\n", version.ServerProtocolVersion)
	case "!":
		fmt.Fprint(conn, "!\n")
		conn.Close()
		if s.opts.Shutdown != nil {
			s.opts.Shutdown()
		}
	}
}

// handleWatcherCommand parses one (add|remove (dirs ...) (excludes ...)?)
// line and forwards it to the watch-command worker. The response is
// ignored by producers, so none is written.
func (s *Server) handleWatcherCommand(_ context.Context, conn net.Conn) {
	defer conn.Close()

	line, err := readLine(conn)
	if err != nil {
		return
	}
	v, _, err := sexpr.Parse([]byte(line))
	if err != nil {
		debug.LogWatch("watcher-command: unparsable line %q: %v\n", line, err)
		return
	}

	items, ok := v.Items()
	if !ok || len(items) == 0 {
		return
	}
	op, _ := items[0].Text()
	dirs := stringListAttr(v, "dirs")
	excludes := stringListAttr(v, "excludes")

	switch op {
	case "add":
		s.watcher.Add(dirs, excludes)
	case "remove":
		s.watcher.Remove(dirs, excludes)
	default:
		debug.LogWatch("watcher-command: unknown op %q\n", op)
	}
}

func stringListAttr(v *sexpr.Value, key string) []string {
	rest, ok := sexpr.AssocGet(v, key)
	if !ok {
		return nil
	}
	items, ok := rest.Items()
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.Text(); ok {
			out = append(out, s)
		}
	}
	return out
}
