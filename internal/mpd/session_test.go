package mpd

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluecube/xbmcpd/internal/notify"
	"github.com/bluecube/xbmcpd/internal/rpc"
	"github.com/bluecube/xbmcpd/internal/xbmc"
)

// scriptedBackend scripts backend responses per JSON-RPC method and records
// call parameters, standing in for the media center.
type scriptedBackend struct {
	t        *testing.T
	handlers map[string]func(params any) (any, error)

	mu    sync.Mutex
	calls map[string][]any
}

func (b *scriptedBackend) Call(_ context.Context, method string, params any) (any, error) {
	b.mu.Lock()
	if b.calls == nil {
		b.calls = make(map[string][]any)
	}

	b.calls[method] = append(b.calls[method], params)
	b.mu.Unlock()

	handler, ok := b.handlers[method]
	if !ok {
		b.t.Errorf("unexpected backend call %q", method)
		return nil, &rpc.Error{Code: -32601, Message: "Method not found"}
	}

	return handler(params)
}

func (b *scriptedBackend) params(method string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls[method]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ok(v any) func(any) (any, error) {
	return func(any) (any, error) { return v, nil }
}

func notRunning() func(any) (any, error) {
	return func(any) (any, error) {
		return nil, &rpc.Error{Code: -32100, Message: "Player not running"}
	}
}

func testSong(file, artist, title string, duration int) map[string]any {
	return map[string]any{
		"file":     file,
		"artist":   artist,
		"title":    title,
		"duration": float64(duration),
	}
}

// protoClient drives one session over a pipe the way an MPD client would.
type protoClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	hub  *notify.Hub
}

func newProtoClient(t *testing.T, backend *scriptedBackend) *protoClient {
	t.Helper()

	clientSide, serverSide := net.Pipe()

	hub := notify.NewHub()
	control := xbmc.NewControl(backend)
	session := newSession(serverSide, control, hub, "/music", testLogger())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = session.Run(ctx)
		// The real server closes the connection when the session ends.
		_ = serverSide.Close()
	}()

	t.Cleanup(func() {
		cancel()
		_ = clientSide.Close()
		_ = serverSide.Close()
		<-done
	})

	client := &protoClient{t: t, conn: clientSide, r: bufio.NewReader(clientSide), hub: hub}
	client.expect(Banner)

	return client
}

func (c *protoClient) send(line string) {
	c.t.Helper()

	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *protoClient) readLine() string {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)

	return line[:len(line)-1]
}

func (c *protoClient) expect(lines ...string) {
	c.t.Helper()

	for _, want := range lines {
		assert.Equal(c.t, want, c.readLine())
	}
}

func TestPingAndUnknownCommand(t *testing.T) {
	client := newProtoClient(t, &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){}})

	client.send("ping")
	client.expect("OK")

	client.send("bogus")
	client.expect(`ACK [5@0] {} unknown command "bogus"`)

	// Errors do not kill the session.
	client.send("ping")
	client.expect("OK")
}

func TestStatusWhenStopped(t *testing.T) {
	backend := &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){
		"AudioPlaylist.GetItems": ok(map[string]any{"items": []any{}}),
		"AudioPlayer.GetTime":    notRunning(),
		"XBMC.GetVolume":         ok(66.0),
	}}
	client := newProtoClient(t, backend)

	client.send("status")
	client.expect(
		"volume: 66",
		"consume: 0",
		"playlist: 1",
		"playlistlength: 0",
		"single: 0",
		"repeat: 0",
		"random: 0",
		"state: stop",
		"OK",
	)
}

func TestStatusWhilePlaying(t *testing.T) {
	backend := &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){
		"AudioPlaylist.GetItems": ok(map[string]any{
			"items": []any{
				testSong("/music/a.mp3", "A", "One", 100),
				testSong("/music/b.mp3", "B", "Two", 200),
			},
			"state": map[string]any{"playing": true, "paused": false, "repeat": "all", "current": 1.0},
		}),
		"AudioPlayer.GetTime": ok(map[string]any{
			"time":  map[string]any{"hours": 0.0, "minutes": 1.0, "seconds": 5.0},
			"total": map[string]any{"hours": 0.0, "minutes": 3.0, "seconds": 20.0},
		}),
		"XBMC.GetVolume": ok(80.0),
	}}
	client := newProtoClient(t, backend)

	client.send("status")
	client.expect(
		"volume: 80",
		"consume: 0",
		"playlist: 2",
		"playlistlength: 2",
		"repeat: 1",
		"single: 0",
		"state: play",
		"song: 1",
		"songid: 1",
		"time: 65:200",
		"OK",
	)
}

func TestCurrentSong(t *testing.T) {
	backend := &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){
		"AudioPlaylist.GetItems": ok(map[string]any{
			"items": []any{
				testSong("/music/a.mp3", "A", "One", 100),
				testSong("/music/dir/b.mp3", "B", "Two", 200),
			},
			"state": map[string]any{"playing": true, "paused": false, "repeat": "off", "current": 1.0},
		}),
	}}
	client := newProtoClient(t, backend)

	client.send("currentsong")
	client.expect(
		"file: dir/b.mp3",
		"Artist: B",
		"Title: Two",
		"Time: 200",
		"Pos: 1",
		"Id: 1",
		"OK",
	)
}

func TestPlaylistInfoRange(t *testing.T) {
	backend := &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){
		"AudioPlaylist.GetItems": ok(map[string]any{"items": []any{
			testSong("/music/a.mp3", "A", "One", 100),
			testSong("/music/b.mp3", "B", "Two", 200),
			testSong("/music/c.mp3", "C", "Three", 300),
		}}),
	}}
	client := newProtoClient(t, backend)

	client.send(`playlistinfo "1"`)
	client.expect(
		"file: b.mp3",
		"Artist: B",
		"Title: Two",
		"Time: 200",
		"Pos: 1",
		"Id: 1",
		"OK",
	)

	client.send(`playlistinfo "0:100"`)

	var files []string

	for {
		line := client.readLine()
		if line == "OK" {
			break
		}

		if len(line) > 6 && line[:6] == "file: " {
			files = append(files, line[6:])
		}
	}

	assert.Equal(t, []string{"a.mp3", "b.mp3", "c.mp3"}, files)
}

func TestCommandListAbortsOnFirstError(t *testing.T) {
	backend := &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){
		"XBMC.SetVolume": ok("OK"),
	}}
	client := newProtoClient(t, backend)

	client.send("command_list_begin")
	client.send(`setvol "50"`)
	client.send("bogus")
	client.send("command_list_end")

	// Exactly one line for the whole batch: the error at position 1.
	client.expect(`ACK [5@1] {} unknown command "bogus"`)

	// The first command did run; batches are not transactional.
	require.Len(t, backend.params("XBMC.SetVolume"), 1)
	assert.Equal(t, []any{50}, backend.params("XBMC.SetVolume")[0])

	client.send("ping")
	client.expect("OK")
}

func TestCommandListOKVariant(t *testing.T) {
	client := newProtoClient(t, &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){}})

	client.send("command_list_ok_begin")
	client.send("ping")
	client.send("ping")
	client.send("command_list_end")
	client.expect("list_OK", "list_OK", "OK")
}

func TestCommandListEndWithoutBegin(t *testing.T) {
	client := newProtoClient(t, &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){}})

	client.send("command_list_end")
	client.expect("ACK [1@0] {} not in command list mode")
}

func TestCommandListDiscardedOnMalformedLine(t *testing.T) {
	backend := &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){
		"XBMC.SetVolume": ok("OK"),
	}}
	client := newProtoClient(t, backend)

	client.send("command_list_begin")
	client.send("setvol 50")
	client.send(`add "unterminated`)
	client.expect("ACK [2@0] {} malformed quoting")

	// The batch is gone with the error; nothing collected so far may run.
	client.send("command_list_end")
	client.expect("ACK [1@0] {} not in command list mode")

	assert.Empty(t, backend.params("XBMC.SetVolume"))
}

func TestIdleNoidle(t *testing.T) {
	client := newProtoClient(t, &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){}})

	client.send("idle")
	time.Sleep(50 * time.Millisecond)

	client.hub.Publish("playlist")
	client.hub.Publish("playlist") // duplicates collapse
	time.Sleep(50 * time.Millisecond)

	client.send("noidle")
	client.expect("changed: playlist", "OK")
}

func TestIdleHonorsSubsystemFilter(t *testing.T) {
	client := newProtoClient(t, &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){}})

	client.send(`idle "player"`)
	time.Sleep(50 * time.Millisecond)

	client.hub.Publish("playlist")
	client.hub.Publish("player")
	time.Sleep(50 * time.Millisecond)

	client.send("noidle")
	client.expect("changed: player", "OK")
}

func TestIdleIgnoresOtherCommands(t *testing.T) {
	client := newProtoClient(t, &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){}})

	client.send("idle")
	time.Sleep(50 * time.Millisecond)

	client.send("status")
	client.send("noidle")
	client.expect("OK")

	// Back to normal operation afterwards.
	client.send("ping")
	client.expect("OK")
}

func TestNoidleOutsideIdle(t *testing.T) {
	client := newProtoClient(t, &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){}})

	client.send("noidle")
	client.expect("OK")
}

func TestIdleInsideCommandList(t *testing.T) {
	client := newProtoClient(t, &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){}})

	client.send("command_list_begin")
	client.send("idle")
	client.send("command_list_end")
	client.expect("ACK [52@0] {idle} idle inside command list is stupid")
}

func TestQuotedAddTranslatesPath(t *testing.T) {
	backend := &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){
		"AudioPlaylist.Add": ok("OK"),
	}}
	client := newProtoClient(t, backend)

	client.send(`add "My Song \"Live\".mp3"`)
	client.expect("OK")

	adds := backend.params("AudioPlaylist.Add")
	require.Len(t, adds, 1)
	assert.Equal(t, []any{map[string]any{"file": `/music/My Song "Live".mp3`}}, adds[0])
}

func TestArgumentValidation(t *testing.T) {
	backend := &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){}}
	client := newProtoClient(t, backend)

	client.send("setvol")
	client.expect(`ACK [2@0] {setvol} wrong number of arguments for "setvol"`)

	client.send(`setvol "loud"`)
	client.expect("ACK [2@0] {setvol} need a number")

	client.send(`setvol "150"`)
	client.expect("ACK [2@0] {setvol} Invalid volume value")

	client.send(`add "unterminated`)
	client.expect("ACK [2@0] {} malformed quoting")
}

func TestFindAndSearch(t *testing.T) {
	backend := &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){
		"AudioLibrary.GetSongs": ok(map[string]any{"songs": []any{
			testSong("/music/a.mp3", "The Band", "Hello", 100),
			testSong("/music/b.mp3", "Someone Else", "World", 200),
		}}),
	}}
	client := newProtoClient(t, backend)

	client.send(`find artist "The Band"`)
	client.expect(
		"file: a.mp3",
		"Artist: The Band",
		"Title: Hello",
		"Time: 100",
		"OK",
	)

	// find is exact, so a substring misses.
	client.send(`find artist "band"`)
	client.expect("OK")

	// search matches case-insensitive substrings.
	client.send(`search artist "band"`)
	client.expect(
		"file: a.mp3",
		"Artist: The Band",
		"Title: Hello",
		"Time: 100",
		"OK",
	)

	client.send(`find bogus "x"`)
	client.expect(`ACK [2@0] {find} tag type "bogus" unrecognized`)
}

func TestListArtists(t *testing.T) {
	backend := &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){
		"AudioLibrary.GetSongs": ok(map[string]any{"songs": []any{
			testSong("/music/a.mp3", "A", "One", 100),
			testSong("/music/b.mp3", "A", "Two", 100),
			testSong("/music/c.mp3", "B", "Three", 100),
		}}),
	}}
	client := newProtoClient(t, backend)

	client.send("list artist")
	client.expect("Artist: A", "Artist: B", "OK")
}

func TestCount(t *testing.T) {
	backend := &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){
		"AudioLibrary.GetSongs": ok(map[string]any{"songs": []any{
			testSong("/music/a.mp3", "A", "One", 100),
			testSong("/music/b.mp3", "A", "Two", 150),
			testSong("/music/c.mp3", "B", "Three", 100),
		}}),
	}}
	client := newProtoClient(t, backend)

	client.send(`count artist "A"`)
	client.expect("songs: 2", "playtime: 250", "OK")
}

func TestLsInfo(t *testing.T) {
	backend := &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){
		"Files.GetDirectory": ok(map[string]any{"files": []any{
			map[string]any{"file": "/music/albums/", "filetype": "directory"},
			testSong("/music/song.mp3", "A", "One", 100),
			map[string]any{"file": "/music/mix.m3u", "filetype": "directory"},
		}}),
	}}
	client := newProtoClient(t, backend)

	client.send("lsinfo")
	client.expect(
		"directory: albums",
		"file: song.mp3",
		"Artist: A",
		"Title: One",
		"Time: 100",
		"playlist: mix.m3u",
		"OK",
	)

	dirs := backend.params("Files.GetDirectory")
	require.Len(t, dirs, 1)
	assert.Equal(t, "/music/", dirs[0].(map[string]any)["directory"])
}

func TestCloseEndsSession(t *testing.T) {
	client := newProtoClient(t, &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){}})

	client.send("close")

	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, err := client.r.ReadString('\n')
	assert.Error(t, err)
}

func TestBackendLossEndsSession(t *testing.T) {
	backend := &scriptedBackend{t: t, handlers: map[string]func(any) (any, error){
		"AudioPlaylist.GetItems": func(any) (any, error) { return nil, rpc.ErrClosed },
	}}
	client := newProtoClient(t, backend)

	client.send("status")

	require.NoError(t, client.conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	_, err := client.r.ReadString('\n')
	assert.Error(t, err)
}
