// Package rpc implements the JSON-RPC 2.0 client side used to talk to the
// media center backend.
//
// A [Client] owns one persistent bidirectional stream. A single reader
// goroutine decodes inbound values with [jsonstream] and routes each one:
// backend notifications go to the configured notification func, replies are
// matched by correlation id to the caller blocked on them. Many calls may be
// in flight concurrently; replies are matched strictly by id, never by send
// order.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bluecube/xbmcpd/internal/jsonstream"
)

// DefaultResponseTimeout is the default deadline for a single call.
const DefaultResponseTimeout = 60 * time.Second

// NotificationFunc handles a backend-initiated notification.
// It runs on the reader goroutine and must not block.
type NotificationFunc func(method string, params any)

// Client is a JSON-RPC client over a single persistent stream.
// It is goroutine-safe: any number of goroutines may issue calls
// concurrently, each blocking only on its own pending call.
//
// Use [Dial] or [NewClientIO] followed by [Client.Start].
type Client struct {
	conn     io.ReadWriteCloser
	calls    *callTable
	onNotify NotificationFunc
	log      *slog.Logger
	done     chan struct{}
	err      error
	timeout  time.Duration
	wmu      sync.Mutex // writes from many callers must not interleave mid-message
	closing  sync.Once
}

// NewClientIO returns a new [*Client] communicating over conn.
// Configure it with the Set* methods, then call [Client.Start] to launch the
// reader before issuing any calls.
func NewClientIO(conn io.ReadWriteCloser) *Client {
	return &Client{
		conn:    conn,
		calls:   newCallTable(),
		timeout: DefaultResponseTimeout,
		log:     slog.Default(),
		done:    make(chan struct{}),
	}
}

// SetResponseTimeout sets the per-call reply deadline. A call whose reply
// does not arrive in time fails with [ErrTimeout]; other in-flight calls are
// unaffected. d must be positive.
func (c *Client) SetResponseTimeout(d time.Duration) {
	c.timeout = d
}

// SetNotificationFunc registers the handler for backend notifications.
// When no handler is set, notifications are logged and dropped.
// Must be called before [Client.Start].
func (c *Client) SetNotificationFunc(fn NotificationFunc) {
	c.onNotify = fn
}

// SetLogger replaces the default [slog.Default] logger.
// Must be called before [Client.Start].
func (c *Client) SetLogger(l *slog.Logger) {
	c.log = l
}

// Start launches the reader goroutine. It must be called exactly once.
func (c *Client) Start() {
	go c.readLoop()
}

// Close tears the connection down. Pending calls fail with [ErrClosed].
// It is safe to call Close multiple times.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

// Done is closed once the connection is gone, whether by [Client.Close],
// peer EOF, or a decode failure.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended. It is valid after [Client.Done] is
// closed; nil means a clean shutdown or peer EOF.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// shutdown records the terminal error, wakes every pending call and closes
// the underlying stream. First caller wins.
func (c *Client) shutdown(cause error) {
	c.closing.Do(func() {
		c.err = cause
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) closedErr() error {
	if c.err != nil {
		return errors.Join(ErrClosed, c.err)
	}

	return ErrClosed
}

// readLoop is the single reader for the connection. The bufio.Reader
// reassembles UTF-8 sequences split across socket reads before the
// incremental parser sees them.
func (c *Client) readLoop() {
	parser := jsonstream.NewParser(bufio.NewReader(c.conn))

	for {
		v, err := parser.Next()
		if err != nil {
			if err == io.EOF {
				// Peer closed the connection between messages.
				c.shutdown(nil)
			} else {
				c.shutdown(err)
			}

			return
		}

		if err := c.route(v); err != nil {
			c.shutdown(err)
			return
		}
	}
}

// route dispatches one inbound value: notifications by method name, replies
// by correlation id. Anything else is a protocol violation that kills the
// connection.
func (c *Client) route(v any) error {
	msg, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: got %T instead of an object", ErrProtocol, v)
	}

	if method, ok := msg["method"].(string); ok {
		if c.onNotify != nil {
			c.onNotify(method, msg["params"])
		} else {
			c.log.Warn("unhandled notification", "method", method)
		}

		return nil
	}

	if rawID, ok := msg["id"]; ok {
		id, ok := rawID.(float64)
		if !ok || !c.calls.deliver(uint32(id), msg) {
			// Orphaned reply, typically for a call that already timed out.
			c.log.Debug("dropping unmatched reply", "id", rawID)
		}

		return nil
	}

	return fmt.Errorf("%w: neither method nor id present", ErrProtocol)
}

// send encodes and writes one envelope. The write mutex keeps concurrent
// callers from interleaving bytes of different messages.
func (c *Client) send(r *request) error {
	buf, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("rpc: failed to marshal request: %w", err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if _, err := c.conn.Write(buf); err != nil {
		// A failed write means the stream is gone. Tearing the connection
		// down here fails the other pending calls too and lets the pool
		// recognize the death by [ErrClosed].
		c.shutdown(fmt.Errorf("rpc: write failed: %w", err))

		return c.closedErr()
	}

	return nil
}

// Call sends a request for method and blocks until the matching reply
// arrives, the response timeout elapses, ctx is cancelled, or the connection
// is lost. The reply's result member is returned as decoded by
// [jsonstream]; a reply carrying an error member fails with an [*Error].
func (c *Client) Call(ctx context.Context, method string, params any) (any, error) {
	select {
	case <-c.done:
		return nil, c.closedErr()
	default:
	}

	id, reply := c.calls.acquire()
	defer c.calls.release(id)

	if err := c.send(newRequest(&id, method, params)); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case msg := <-reply:
		if errObj, ok := msg["error"]; ok {
			return nil, newError(errObj)
		}

		return msg["result"], nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.closedErr()
	}
}

// Notify sends a fire-and-forget notification: same envelope as a call but
// without an id, so the backend sends no reply and none is waited for.
func (c *Client) Notify(_ context.Context, method string, params any) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}

	return c.send(newRequest(nil, method, params))
}
