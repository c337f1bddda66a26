// Package xbmc wraps the media center's JSON-RPC API in typed calls.
//
// The wrapper keeps two short-lived caches, the current playlist and the
// full song library, because front protocol clients hammer the same queries
// in quick succession. Both caches are dropped early when a matching
// backend change notification arrives and after local mutations.
package xbmc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bluecube/xbmcpd/internal/notify"
	"github.com/bluecube/xbmcpd/internal/rpc"
)

// SupportedVersion is the backend JSON-RPC API version this wrapper talks.
const SupportedVersion = 3

const (
	playlistTTL = 3 * time.Second
	libraryTTL  = time.Hour
)

// Backend error codes the wrapper reacts to.
const (
	codePlayerNotRunning = -32100
	codeInvalidParams    = -32602
)

// ErrUnsupportedVersion is returned by [Control.CheckVersion] when the
// backend speaks a different API version.
var ErrUnsupportedVersion = errors.New("xbmc: unsupported backend protocol version")

var (
	songFields = []string{"file", "title", "artist", "album", "track", "genre", "year", "duration"}
	listFields = []string{"title", "artist", "genre", "year", "album", "track", "duration", "file"}
)

// Caller issues one JSON-RPC call. Both [rpc.Client] and [rpc.ClientPool]
// satisfy it.
type Caller interface {
	Call(ctx context.Context, method string, params any) (any, error)
}

// Option configures a [Control].
type Option func(*Control)

// WithPathSeparator sets the path separator of the backend's filesystem.
func WithPathSeparator(sep string) Option {
	return func(c *Control) { c.sep = sep }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(c *Control) { c.log = log }
}

// WithHub sets the hub that receives translated change notifications.
func WithHub(hub *notify.Hub) Option {
	return func(c *Control) { c.hub = hub }
}

// WithClock overrides the cache clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Control) { c.now = now }
}

// Control is the gateway's view of one media center.
// Safe for concurrent use by any number of sessions.
type Control struct {
	caller Caller
	hub    *notify.Hub
	log    *slog.Logger
	now    func() time.Time
	sep    string

	mu              sync.Mutex
	playlist        []Song
	playlistState   *PlayerState
	playlistFetched time.Time
	playlistVersion int
	playlistValid   bool
	library         []Song
	libraryFetched  time.Time
	libraryValid    bool
}

// NewControl wraps caller.
func NewControl(caller Caller, opts ...Option) *Control {
	c := &Control{
		caller:          caller,
		log:             slog.Default(),
		now:             time.Now,
		sep:             "/",
		playlistVersion: 1,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// PathSeparator reports the separator of the backend's filesystem.
func (c *Control) PathSeparator() string {
	return c.sep
}

// CheckVersion verifies that the backend speaks [SupportedVersion].
// Called once at startup; a mismatch is fatal for the whole gateway.
func (c *Control) CheckVersion(ctx context.Context) error {
	res, err := c.caller.Call(ctx, "JSONRPC.Version", nil)
	if err != nil {
		return err
	}

	if version := intOf(member(res, "version")); version != SupportedVersion {
		return fmt.Errorf("%w: backend speaks %d, want %d", ErrUnsupportedVersion, version, SupportedVersion)
	}

	return nil
}

// Time returns the position within the current song, or nil when the
// player is not running.
func (c *Control) Time(ctx context.Context) (*Times, error) {
	res, err := c.caller.Call(ctx, "AudioPlayer.GetTime", nil)
	if err != nil {
		if isBackendCode(err, codePlayerNotRunning) {
			return nil, nil
		}

		return nil, err
	}

	return &Times{Elapsed: seconds(member(res, "time")), Total: seconds(member(res, "total"))}, nil
}

// Volume returns the current volume, 0 to 100.
func (c *Control) Volume(ctx context.Context) (int, error) {
	res, err := c.caller.Call(ctx, "XBMC.GetVolume", nil)
	if err != nil {
		return 0, err
	}

	return intOf(res), nil
}

// SetVolume sets the volume, 0 to 100.
func (c *Control) SetVolume(ctx context.Context, volume int) error {
	_, err := c.caller.Call(ctx, "XBMC.SetVolume", []any{volume})

	return err
}

// Playlist returns the current playlist, at most [playlistTTL] stale.
// The snapshot's version grows whenever the contents changed since the
// previous fetch.
func (c *Control) Playlist(ctx context.Context) (PlaylistSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.playlistValid || c.now().Sub(c.playlistFetched) >= playlistTTL {
		res, err := c.caller.Call(ctx, "AudioPlaylist.GetItems", map[string]any{"fields": songFields})
		if err != nil {
			return PlaylistSnapshot{}, err
		}

		songs := songsOf(member(res, "items"))
		if !slices.Equal(songs, c.playlist) {
			c.playlistVersion++
		}

		c.playlist = songs
		c.playlistState = stateOf(member(res, "state"))
		c.playlistFetched = c.now()
		c.playlistValid = true
	}

	return PlaylistSnapshot{Songs: c.playlist, State: c.playlistState, Version: c.playlistVersion}, nil
}

// State fetches the playlist state directly, bypassing the playlist cache.
// Returns nil when the player is not running.
func (c *Control) State(ctx context.Context) (*PlayerState, error) {
	res, err := c.caller.Call(ctx, "AudioPlaylist.State", nil)
	if err != nil {
		if isBackendCode(err, codeInvalidParams) {
			c.setState(nil)
			return nil, nil
		}

		return nil, err
	}

	state := stateOf(res)
	c.setState(state)

	return state, nil
}

func (c *Control) setState(state *PlayerState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.playlistState = state
}

// Songs returns the whole song library, at most [libraryTTL] stale.
func (c *Control) Songs(ctx context.Context) ([]Song, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.libraryValid || c.now().Sub(c.libraryFetched) >= libraryTTL {
		res, err := c.caller.Call(ctx, "AudioLibrary.GetSongs", map[string]any{"fields": songFields})
		if err != nil {
			return nil, err
		}

		c.library = songsOf(member(res, "songs"))
		c.libraryFetched = c.now()
		c.libraryValid = true
	}

	return c.library, nil
}

// Directory lists one directory level of the backend's music sources,
// split into files, subdirectories and playlist files. The backend marks
// both of the latter as directories; a trailing path separator tells
// real directories apart from playlists.
func (c *Control) Directory(ctx context.Context, path string) (Listing, error) {
	res, err := c.caller.Call(ctx, "Files.GetDirectory", map[string]any{
		"directory": path,
		"media":     "music",
		"fields":    listFields,
	})
	if err != nil {
		return Listing{}, err
	}

	var listing Listing

	for _, entry := range listOf(member(res, "files")) {
		song := songOf(entry)

		switch {
		case strOf(member(entry, "filetype")) != "directory":
			listing.Files = append(listing.Files, song)
		case strings.HasSuffix(song.File, c.sep):
			listing.Dirs = append(listing.Dirs, song)
		default:
			listing.Playlists = append(listing.Playlists, song)
		}
	}

	return listing, nil
}

// Playlists lists saved playlists. The supported backend API version has no
// call for enumerating them yet, so the result is always empty.
func (c *Control) Playlists(_ context.Context) ([]Song, error) {
	return nil, nil
}

// Next skips to the next song.
func (c *Control) Next(ctx context.Context) error {
	_, err := c.caller.Call(ctx, "AudioPlayer.SkipNext", nil)

	return err
}

// Prev returns to the previous song.
func (c *Control) Prev(ctx context.Context) error {
	_, err := c.caller.Call(ctx, "AudioPlayer.SkipPrevious", nil)

	return err
}

// Stop stops playback. Already-stopped is not an error.
func (c *Control) Stop(ctx context.Context) error {
	_, err := c.caller.Call(ctx, "AudioPlayer.Stop", nil)
	if err != nil && !isBackendCode(err, codePlayerNotRunning) {
		return err
	}

	return nil
}

// SeekTo seeks within the current song.
func (c *Control) SeekTo(ctx context.Context, secs int) error {
	_, err := c.caller.Call(ctx, "AudioPlayer.SeekTime", []any{secs})

	return err
}

// PlayID starts playback of the playlist entry at pos.
func (c *Control) PlayID(ctx context.Context, pos int) error {
	_, err := c.caller.Call(ctx, "AudioPlaylist.Play", []any{pos})

	return err
}

// PlayPause toggles between playing and paused. When the player is not
// running it starts playback of the current playlist instead.
func (c *Control) PlayPause(ctx context.Context) error {
	res, err := c.caller.Call(ctx, "AudioPlayer.PlayPause", nil)
	if err != nil {
		if !isBackendCode(err, codePlayerNotRunning) {
			return err
		}

		_, err = c.caller.Call(ctx, "AudioPlaylist.Play", nil)

		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.playlistState != nil {
		if paused, ok := member(res, "paused").(bool); ok {
			c.playlistState.Paused = paused
		}

		if playing, ok := member(res, "playing").(bool); ok {
			c.playlistState.Playing = playing
		}
	}

	return nil
}

// Play resumes playback if stopped or paused, otherwise does nothing.
func (c *Control) Play(ctx context.Context) error {
	state, err := c.State(ctx)
	if err != nil {
		return err
	}

	if state == nil || state.Paused {
		return c.PlayPause(ctx)
	}

	return nil
}

// Pause pauses playback if currently playing, otherwise does nothing.
func (c *Control) Pause(ctx context.Context) error {
	state, err := c.State(ctx)
	if err != nil {
		return err
	}

	if state == nil || state.Paused {
		return nil
	}

	return c.PlayPause(ctx)
}

// Remove removes the playlist entry at pos.
func (c *Control) Remove(ctx context.Context, pos int) error {
	_, err := c.caller.Call(ctx, "AudioPlaylist.Remove", []any{pos})
	if err != nil {
		return err
	}

	c.invalidatePlaylist()

	return nil
}

// Add appends a path to the playlist. The backend wants to know whether the
// item is a file or a directory, so the file spelling is tried first and a
// parameter error retries as a directory.
func (c *Control) Add(ctx context.Context, path string) error {
	if err := c.addItem(ctx, "AudioPlaylist.Add", nil, path); err != nil {
		return err
	}

	c.invalidatePlaylist()

	return nil
}

// Insert adds a path to the playlist at a position. Same file/directory
// fallback as [Control.Add].
func (c *Control) Insert(ctx context.Context, pos int, path string) error {
	if err := c.addItem(ctx, "AudioPlaylist.Insert", []any{pos}, path); err != nil {
		return err
	}

	c.invalidatePlaylist()

	return nil
}

func (c *Control) addItem(ctx context.Context, method string, lead []any, path string) error {
	_, err := c.caller.Call(ctx, method, append(slices.Clone(lead), map[string]any{"file": path}))
	if err == nil || !isBackendCode(err, codeInvalidParams) {
		return err
	}

	_, err = c.caller.Call(ctx, method, append(slices.Clone(lead), map[string]any{"directory": path}))

	return err
}

// Clear empties the playlist.
func (c *Control) Clear(ctx context.Context) error {
	_, err := c.caller.Call(ctx, "AudioPlaylist.Clear", nil)
	if err != nil {
		return err
	}

	c.invalidatePlaylist()

	return nil
}

// HandleNotification translates one backend notification into a subsystem
// change, drops affected caches and publishes to the hub. Suitable as an
// [rpc.NotificationFunc].
func (c *Control) HandleNotification(method string, _ any) {
	subsystem, ok := Subsystem(method)
	if !ok {
		c.log.Debug("ignoring backend notification", "method", method)
		return
	}

	switch subsystem {
	case SubsystemPlaylist:
		c.invalidatePlaylist()
	case SubsystemDatabase:
		c.invalidateLibrary()
	}

	c.log.Debug("backend change", "method", method, "subsystem", subsystem)

	if c.hub != nil {
		c.hub.Publish(subsystem)
	}
}

func (c *Control) invalidatePlaylist() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.playlistValid = false
}

func (c *Control) invalidateLibrary() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.libraryValid = false
}

func isBackendCode(err error, code int64) bool {
	var rpcErr *rpc.Error

	return errors.As(err, &rpcErr) && rpcErr.Code == code
}
