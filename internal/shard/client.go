// Package shard implements the remote tag-server RPC client: one TCP
// connection per RPC. Connect, write the request line, read until the
// peer half-closes, and report the collected bytes to the associated
// result holder. No connection pooling, no retries; the transport
// layer owns timeouts.
package shard

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/standardbeagle/gtagsmixer/internal/debug"
	"github.com/standardbeagle/gtagsmixer/internal/mixer"
)

// Endpoint identifies one remote tag server shard.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) addr() string { return fmt.Sprintf("%s:%d", e.Host, e.Port) }

// Query performs one RPC against endpoint: dial, write request+"\n",
// read until the peer closes the connection, and report the result to
// holder. Each in-flight RPC runs in its own goroutine.
func Query(ctx context.Context, endpoint Endpoint, request string, holder *mixer.Holder) {
	response, err := dial(ctx, endpoint, request)
	if err != nil {
		debug.LogRouter("shard %s: %v\n", endpoint.addr(), err)
		holder.ReportFailure(err.Error())
		return
	}
	holder.ReportSuccess(response)
}

func dial(ctx context.Context, endpoint Endpoint, request string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", endpoint.addr())
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", endpoint.addr(), err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte(request + "\n")); err != nil {
		return "", fmt.Errorf("write to %s: %w", endpoint.addr(), err)
	}

	var buf []byte
	r := bufio.NewReader(conn)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return string(buf), nil
}

// DefaultTimeout bounds a shard RPC when the caller doesn't impose
// its own context deadline.
const DefaultTimeout = 5 * time.Second
