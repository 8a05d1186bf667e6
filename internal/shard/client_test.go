package shard

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/gtagsmixer/internal/mixer"
	"github.com/standardbeagle/gtagsmixer/internal/sexpr"
)

func TestQueryReportsSuccessOnHalfClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte(`((value (((tag remote)))))`))
	}()

	addr := ln.Addr().(*net.TCPAddr)

	ch := make(chan *sexpr.Value, 1)
	m := mixer.New(func(v *sexpr.Value) { ch <- v })
	holder := mixer.NewHolder(m, mixer.Remote, 1)
	m.SetResult(mixer.Local, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	Query(ctx, Endpoint{Host: "127.0.0.1", Port: addr.Port}, `(lookup-tag-exact (tag "foo"))`, holder)

	resp := <-ch
	assert.Equal(t, `((value (((tag remote)))))`, sexpr.Write(resp))
}

func TestQueryReportsFailureOnConnectError(t *testing.T) {
	ch := make(chan *sexpr.Value, 1)
	m := mixer.New(func(v *sexpr.Value) { ch <- v })
	holder := mixer.NewHolder(m, mixer.Remote, 1)
	m.SetResult(mixer.Local, `((value (((tag local)))))`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Nothing listens on this port.
	Query(ctx, Endpoint{Host: "127.0.0.1", Port: 1}, `(ping)`, holder)

	resp := <-ch
	assert.Equal(t, `((value (((tag local)))))`, sexpr.Write(resp))
}
