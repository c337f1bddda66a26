// Command xbmcpd serves the MPD protocol in front of an XBMC/Kodi media
// center, translating every command into JSON-RPC calls.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bluecube/xbmcpd/internal/config"
	"github.com/bluecube/xbmcpd/internal/mpd"
	"github.com/bluecube/xbmcpd/internal/notify"
	"github.com/bluecube/xbmcpd/internal/rpc"
	"github.com/bluecube/xbmcpd/internal/xbmc"
)

func main() {
	if err := run(); err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("xbmcpd", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the configuration file")
	listen := flags.StringP("listen", "l", "", "address to serve the MPD protocol on")
	backendURI := flags.StringP("backend", "b", "", "JSON-RPC endpoint of the media center")
	musicPath := flags.StringP("music-path", "m", "", "root of the music database on the backend")
	logLevel := flags.String("log-level", "", "debug, info, warn or error")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}

		return err
	}

	cfg := config.Default()

	if *configPath != "" {
		var err error

		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}

	// Flags override the file.
	if *listen != "" {
		cfg.Listen = *listen
	}

	if *backendURI != "" {
		cfg.Backend.URI = *backendURI
	}

	if *musicPath != "" {
		cfg.MusicPath = *musicPath
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := notify.NewHub()

	// The notification func captures control before it exists; the first
	// connection is only dialed below, after the assignment.
	var control *xbmc.Control

	pool, err := rpc.NewClientPool(ctx, rpc.ClientPoolConfig{
		URI:     cfg.Backend.URI,
		MaxSize: cfg.Backend.PoolSize,
		Configure: func(c *rpc.Client) {
			c.SetResponseTimeout(cfg.Backend.Timeout.Std())
			c.SetLogger(log.With("component", "rpc"))
			c.SetNotificationFunc(func(method string, params any) {
				control.HandleNotification(method, params)
			})
		},
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	control = xbmc.NewControl(pool,
		xbmc.WithPathSeparator(cfg.PathSeparator),
		xbmc.WithHub(hub),
		xbmc.WithLogger(log.With("component", "xbmc")),
	)

	// First backend contact: an unreachable URI or an incompatible API
	// version fails the whole process right here.
	if err := control.CheckVersion(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}

	log.Info("serving",
		"listen", ln.Addr().String(),
		"backend", cfg.Backend.URI,
		"music_path", cfg.MusicPath,
	)

	server := mpd.NewServer(control, hub, cfg.MusicPath, log.With("component", "mpd"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(ctx, ln) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("shut down")

	return nil
}
