// Package mpd serves the MPD line protocol and translates every command
// into calls against the media center backend.
package mpd

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/bluecube/xbmcpd/internal/notify"
	"github.com/bluecube/xbmcpd/internal/xbmc"
)

// Server accepts front protocol clients and runs one [Session] per
// connection.
type Server struct {
	control *xbmc.Control
	hub     *notify.Hub
	log     *slog.Logger

	// musicPath is the root of the music database on the backend's
	// filesystem. Client-visible paths are relative to it.
	musicPath string
}

// NewServer returns a server bridging front protocol clients to control.
func NewServer(control *xbmc.Control, hub *notify.Hub, musicPath string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	return &Server{
		control:   control,
		hub:       hub,
		log:       log,
		musicPath: musicPath,
	}
}

// Serve accepts clients on ln until ctx is cancelled. It owns ln and
// closes it on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()

		return ln.Close()
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				// Closing the listener is the shutdown path.
				if ctx.Err() != nil {
					return nil
				}

				return err
			}

			g.Go(func() error {
				s.serveConn(ctx, conn)

				return nil
			})
		}
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	log := s.log.With("client", conn.RemoteAddr().String())
	log.Info("client connected")

	session := newSession(conn, s.control, s.hub, s.musicPath, log)

	if err := session.Run(ctx); err != nil && ctx.Err() == nil {
		log.Warn("session ended", "error", err)
		return
	}

	log.Info("client disconnected")
}
