package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/puddle/v2"
)

// DefaultPoolDialTimeout bounds establishing one new backend connection.
const DefaultPoolDialTimeout = 30 * time.Second

// ErrRetriesExceeded is returned by [ClientPool] operations when every
// attempt failed on a broken connection. The last underlying error is
// joined with it.
var ErrRetriesExceeded = errors.New("rpc: retries exceeded")

// ClientPoolConfig holds parameters for [NewClientPool].
type ClientPoolConfig struct {
	// Configure is applied to every freshly dialed client before it is
	// started, typically to set the notification func and response timeout.
	Configure func(*Client)

	// URI is the backend address passed to the dialer. See [Dial].
	URI string

	// DialTimeout bounds establishing a new connection.
	// Defaults to [DefaultPoolDialTimeout] if zero or negative.
	DialTimeout time.Duration

	// MaxSize is the maximum number of concurrently open connections.
	// Defaults to 1: one multiplexed connection carries any number of
	// overlapping calls, so more are only useful under heavy call load.
	MaxSize int32

	// AcquireOnCreate dials one connection eagerly so that a bad URI or an
	// unreachable backend fails at startup rather than on the first call.
	AcquireOnCreate bool
}

// ClientPool maintains reconnecting backend connections. Each pooled
// [*Client] multiplexes concurrent calls by correlation id; the pool's job
// is reconnect-on-failure and optional fan-out over several connections.
//
// A call that fails because its connection died ([ErrClosed]) destroys that
// connection and is retried once on a fresh one. Timeouts and backend
// errors are not retried; the backend's idempotency is unknown.
type ClientPool struct {
	pool *puddle.Pool[*Client]
}

// NewClientPool creates a pool connecting to config.URI with [Dial].
func NewClientPool(ctx context.Context, config ClientPoolConfig) (*ClientPool, error) {
	return NewClientPoolWithDialer(ctx, config, Dial)
}

// NewClientPoolWithDialer creates a pool using a custom dialer, which lets
// tests substitute in-memory transports.
func NewClientPoolWithDialer(ctx context.Context, config ClientPoolConfig, dialFunc func(ctx context.Context, uri string) (*Client, error)) (*ClientPool, error) {
	if config.DialTimeout <= 0 {
		config.DialTimeout = DefaultPoolDialTimeout
	}

	if config.MaxSize <= 0 {
		config.MaxSize = 1
	}

	pool, err := puddle.NewPool(&puddle.Config[*Client]{
		Constructor: func(ctx context.Context) (*Client, error) {
			dialCtx, stop := context.WithTimeout(ctx, config.DialTimeout)
			defer stop()

			client, err := dialFunc(dialCtx, config.URI)
			if err != nil {
				return nil, err
			}

			if config.Configure != nil {
				config.Configure(client)
			}

			client.Start()

			return client, nil
		},
		Destructor: func(client *Client) { _ = client.Close() },
		MaxSize:    config.MaxSize,
	})
	if err != nil {
		return nil, err
	}

	if config.AcquireOnCreate {
		res, err := pool.Acquire(ctx)
		if err != nil {
			defer pool.Close()
			return nil, err
		}

		defer res.Release()
	}

	return &ClientPool{pool: pool}, nil
}

// Close shuts the pool down, closing every connection. Pending calls on
// those connections fail with [ErrClosed].
func (cp *ClientPool) Close() {
	cp.pool.Close()
}

// releaseMaybeRetry returns a healthy connection to the pool, destroys a
// dead one, and reports whether the operation should be retried on a fresh
// connection.
func releaseMaybeRetry(res *puddle.Resource[*Client], err error) (needsRetry bool) {
	if errors.Is(err, ErrClosed) {
		res.Destroy()
		return true
	}

	res.Release()

	return false
}

// Call issues a call on a pooled connection, retrying once on a fresh
// connection if the first one turns out to be dead.
func (cp *ClientPool) Call(ctx context.Context, method string, params any) (result any, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}

		client, cerr := cp.pool.Acquire(ctx)
		if cerr != nil {
			return nil, cerr
		}

		result, err = client.Value().Call(ctx, method, params)

		if releaseMaybeRetry(client, err) {
			continue
		}

		return result, err
	}

	return nil, errors.Join(ErrRetriesExceeded, err)
}

// Notify sends a notification on a pooled connection. Retried like
// [ClientPool.Call]; notifications carry no reply, so resending on a dead
// connection is safe.
func (cp *ClientPool) Notify(ctx context.Context, method string, params any) (err error) {
	for attempt := 0; attempt < 2; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		client, cerr := cp.pool.Acquire(ctx)
		if cerr != nil {
			return cerr
		}

		err = client.Value().Notify(ctx, method, params)

		if releaseMaybeRetry(client, err) {
			continue
		}

		return err
	}

	return errors.Join(ErrRetriesExceeded, err)
}
