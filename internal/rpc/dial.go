package rpc

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// Dial establishes a connection to the backend at destURI and returns an
// unstarted [*Client] for it. Callers configure the client and then call
// [Client.Start].
//
// Supported schemes:
//   - `tcp`, `tcp4`, `tcp6`: raw TCP stream, address is `host:port`.
//   - `tls`: TLS over TCP with default settings.
//   - `ws`, `wss`: the backend's WebSocket endpoint carrying the same
//     JSON-RPC stream, e.g. `ws://htpc:9090/jsonrpc`.
//
// Examples:
//   - `tcp:127.0.0.1:9090`
//   - `tls:htpc.local:9443`
//   - `ws://htpc.local:9090/jsonrpc`
//
// Returns [ErrUnknownScheme] for anything else.
func Dial(ctx context.Context, destURI string) (*Client, error) {
	uri, err := url.Parse(destURI)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasPrefix(uri.Scheme, "tcp"):
		conn, err := new(net.Dialer).DialContext(ctx, uri.Scheme, hostAddr(uri))
		if err != nil {
			return nil, err
		}

		return NewClientIO(conn), nil
	case uri.Scheme == "tls":
		conn, err := new(tls.Dialer).DialContext(ctx, "tcp", hostAddr(uri))
		if err != nil {
			return nil, err
		}

		return NewClientIO(conn), nil
	case uri.Scheme == "ws", uri.Scheme == "wss":
		return dialWebSocket(ctx, destURI)
	}

	return nil, ErrUnknownScheme
}

// hostAddr extracts the dialable address from either the `scheme:host:port`
// or the `scheme://host:port` spelling.
func hostAddr(uri *url.URL) string {
	if uri.Opaque != "" {
		return uri.Opaque
	}

	return uri.Host
}

// dialWebSocket wraps the backend's WebSocket endpoint in a [net.Conn] so
// the rest of the client does not care which transport carries the stream.
func dialWebSocket(ctx context.Context, uri string) (*Client, error) {
	wsConn, _, err := websocket.Dial(ctx, uri, nil)
	if err != nil {
		return nil, err
	}

	// The adapter's context bounds the connection's lifetime, not the dial;
	// the connection outlives the dial context.
	conn := websocket.NetConn(context.WithoutCancel(ctx), wsConn, websocket.MessageText)

	return NewClientIO(conn), nil
}
