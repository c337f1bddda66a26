package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluecube/xbmcpd/internal/jsonstream"
)

// echoBackend answers every request with its own method name as the result.
// When failFirst is set it drops the connection after the first request
// instead of answering, simulating a backend restart.
func echoBackend(conn net.Conn, failFirst bool) {
	defer conn.Close()

	parser := jsonstream.NewParser(bufio.NewReader(conn))

	for {
		v, err := parser.Next()
		if err != nil {
			return
		}

		msg, ok := v.(map[string]any)
		if !ok {
			return
		}

		if failFirst {
			return
		}

		if _, hasID := msg["id"]; !hasID {
			continue
		}

		buf, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": msg["id"], "result": msg["method"]})
		if err != nil {
			return
		}

		if _, err := conn.Write(buf); err != nil {
			return
		}
	}
}

func testPool(t *testing.T, failFirstDial bool) (*ClientPool, *atomic.Int32) {
	t.Helper()

	var dials atomic.Int32

	dialer := func(_ context.Context, _ string) (*Client, error) {
		n := dials.Add(1)

		cliSide, srvSide := net.Pipe()
		go echoBackend(srvSide, failFirstDial && n == 1)

		return NewClientIO(cliSide), nil
	}

	pool, err := NewClientPoolWithDialer(context.Background(), ClientPoolConfig{
		URI: "tcp:ignored:9090",
		Configure: func(c *Client) {
			c.SetResponseTimeout(time.Second)
		},
	}, dialer)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool, &dials
}

func TestClientPoolCall(t *testing.T) {
	pool, dials := testPool(t, false)

	result, err := pool.Call(context.Background(), "JSONRPC.Ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "JSONRPC.Ping", result)

	// A second call reuses the pooled connection.
	_, err = pool.Call(context.Background(), "JSONRPC.Ping", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), dials.Load())
}

func TestClientPoolRetriesOnDeadConnection(t *testing.T) {
	pool, dials := testPool(t, true)

	// The first dialed connection dies without answering; the pool must
	// destroy it and transparently retry on a fresh one.
	result, err := pool.Call(context.Background(), "Application.GetProperties", nil)
	require.NoError(t, err)
	assert.Equal(t, "Application.GetProperties", result)
	assert.Equal(t, int32(2), dials.Load())
}

// deadConn fails every write the way a TCP connection does once the peer
// is gone.
type deadConn struct{ net.Conn }

func (deadConn) Write([]byte) (int, error) { return 0, net.ErrClosed }

func TestCallFailedWriteClosesClient(t *testing.T) {
	cliSide, srvSide := net.Pipe()
	defer srvSide.Close()

	client := NewClientIO(deadConn{cliSide})
	client.Start()
	t.Cleanup(func() { _ = client.Close() })

	_, err := client.Call(context.Background(), "JSONRPC.Ping", nil)
	assert.ErrorIs(t, err, ErrClosed)

	// The whole connection is dead, not just the one call.
	<-client.Done()
}

func TestClientPoolRetriesOnWriteFailure(t *testing.T) {
	var dials atomic.Int32

	dialer := func(_ context.Context, _ string) (*Client, error) {
		n := dials.Add(1)

		cliSide, srvSide := net.Pipe()
		go echoBackend(srvSide, false)

		// The first connection is already dead when the pool hands it out.
		if n == 1 {
			return NewClientIO(deadConn{cliSide}), nil
		}

		return NewClientIO(cliSide), nil
	}

	pool, err := NewClientPoolWithDialer(context.Background(), ClientPoolConfig{URI: "tcp:ignored:9090"}, dialer)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	result, err := pool.Call(context.Background(), "JSONRPC.Ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "JSONRPC.Ping", result)
	assert.Equal(t, int32(2), dials.Load())
}

func TestClientPoolNotify(t *testing.T) {
	pool, _ := testPool(t, false)

	require.NoError(t, pool.Notify(context.Background(), "Player.OnStop", nil))
}

func TestClientPoolAcquireOnCreateFailure(t *testing.T) {
	dialer := func(_ context.Context, _ string) (*Client, error) {
		return nil, io.ErrUnexpectedEOF
	}

	_, err := NewClientPoolWithDialer(context.Background(), ClientPoolConfig{
		URI:             "tcp:down:9090",
		AcquireOnCreate: true,
	}, dialer)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
