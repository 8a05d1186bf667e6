package router

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/gtagsmixer/internal/config"
	"github.com/standardbeagle/gtagsmixer/internal/query"
	"github.com/standardbeagle/gtagsmixer/internal/sexpr"
)

type stubLocalEngine struct {
	response string
}

func (s *stubLocalEngine) Dispatch(req query.Request) *sexpr.Value {
	v, _, err := sexpr.Parse([]byte(s.response))
	if err != nil {
		return sexpr.Nil()
	}
	return v
}

// startStubShard runs a one-shot TCP server that replies with response
// to the next connection and then stops.
func startStubShard(t *testing.T, response string) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		conn.Read(buf)
		conn.Write([]byte(response))
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func await(t *testing.T) (chan *sexpr.Value, func(*sexpr.Value)) {
	t.Helper()
	ch := make(chan *sexpr.Value, 1)
	return ch, func(v *sexpr.Value) { ch <- v }
}

func baseConfig() *config.Config {
	return &config.Config{
		Defaults: config.Defaults{Corpus: "corpus1", Language: "c++"},
		Sources:  map[string]map[string]config.LanguageSource{},
	}
}

// TestRoutePing checks a ping is answered locally with no fan-out.
func TestRoutePing(t *testing.T) {
	r := New(baseConfig(), nil)
	ch, cb := await(t)
	r.Route(context.Background(), `(ping (language "c++"))`, cb)
	resp := <-ch
	assert.Equal(t, "((value t))", sexpr.Write(resp))
}

func TestRouteMergesLocalAheadOfRemote(t *testing.T) {
	host, port := startStubShard(t, `((value (((tag cpp)))))`)
	cfg := baseConfig()
	cfg.Sources["corpus1"] = map[string]config.LanguageSource{
		"c++": {Host: host, Port: port},
	}
	local := map[string]LocalEngine{
		"corpus1": &stubLocalEngine{response: `((value (((tag local)))))`},
	}
	r := New(cfg, local)

	ch, cb := await(t)
	r.Route(context.Background(), `((language "c++"))`, cb)
	resp := <-ch
	assert.Equal(t, `((value (((tag local)) ((tag cpp)))))`, sexpr.Write(resp))
}

func TestRouteUnknownCorpusLanguage(t *testing.T) {
	r := New(baseConfig(), nil)
	ch, cb := await(t)
	r.Route(context.Background(), `((language "rust") (corpus "nope"))`, cb)
	resp := <-ch
	v, ok := sexpr.AssocGetValue(resp, "error")
	require.True(t, ok)
	msg, ok := sexpr.AssocGetValue(v, "message")
	require.True(t, ok)
	s, _ := msg.Text()
	assert.Contains(t, s, "Failed to map language")
}

// TestRouteUnmappedLanguageErrorsDespiteLocalEngine checks a local
// engine registered for the corpus does not let an unmapped language
// fall through to local-only service: the mapping error is returned
// unconditionally.
func TestRouteUnmappedLanguageErrorsDespiteLocalEngine(t *testing.T) {
	cfg := baseConfig()
	cfg.Sources["corpus1"] = map[string]config.LanguageSource{
		"c++": {Host: "127.0.0.1", Port: 1},
	}
	local := map[string]LocalEngine{
		"corpus1": &stubLocalEngine{response: `((value (((tag local)))))`},
	}
	r := New(cfg, local)

	ch, cb := await(t)
	r.Route(context.Background(), `((language "rust"))`, cb)
	resp := <-ch
	v, ok := sexpr.AssocGetValue(resp, "error")
	require.True(t, ok)
	msg, ok := sexpr.AssocGetValue(v, "message")
	require.True(t, ok)
	s, _ := msg.Text()
	assert.Contains(t, s, "Failed to map language rust")
}

func TestRouteMalformedRequestTreatedAsPing(t *testing.T) {
	r := New(baseConfig(), nil)
	ch, cb := await(t)
	r.Route(context.Background(), `(ping`, cb)
	resp := <-ch
	assert.Equal(t, "((value t))", sexpr.Write(resp))
}

func TestRouteRemoteConnectFailureWithLocalCarriesRequest(t *testing.T) {
	cfg := baseConfig()
	cfg.Sources["corpus1"] = map[string]config.LanguageSource{
		// Nothing listens on this port.
		"c++": {Host: "127.0.0.1", Port: 1},
	}
	local := map[string]LocalEngine{
		"corpus1": &stubLocalEngine{response: `((value (((tag local)))))`},
	}
	r := New(cfg, local)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch, cb := await(t)
	r.Route(ctx, `((language "c++"))`, cb)
	resp := <-ch
	assert.Equal(t, `((value (((tag local)))))`, sexpr.Write(resp))
}
