package mpd

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"

	gompd "github.com/fhs/gompd/v2/mpd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluecube/xbmcpd/internal/jsonstream"
	"github.com/bluecube/xbmcpd/internal/notify"
	"github.com/bluecube/xbmcpd/internal/rpc"
	"github.com/bluecube/xbmcpd/internal/xbmc"
)

// serveScriptedRPC answers JSON-RPC requests on conn with canned results,
// playing the media center end of the wire.
func serveScriptedRPC(conn net.Conn, results map[string]any) {
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

		id, hasID := msg["id"]
		if !hasID {
			continue
		}

		method, _ := msg["method"].(string)

		reply := map[string]any{"jsonrpc": "2.0", "id": id}
		if result, ok := results[method]; ok {
			reply["result"] = result
		} else {
			reply["error"] = map[string]any{"code": -32601, "message": "Method not found"}
		}

		buf, err := json.Marshal(reply)
		if err != nil {
			return
		}

		if _, err := conn.Write(buf); err != nil {
			return
		}
	}
}

// The whole gateway end to end: a real MPD client library in front, the
// JSON-RPC client plus streaming parser towards a scripted backend behind.
func TestServerWithRealMPDClient(t *testing.T) {
	results := map[string]any{
		"JSONRPC.Version": map[string]any{"version": 3},
		"XBMC.GetVolume":  50,
		"AudioPlaylist.GetItems": map[string]any{
			"items": []any{
				map[string]any{"file": "/music/a.mp3", "artist": "A", "title": "One", "duration": 100},
				map[string]any{"file": "/music/b.mp3", "artist": "B", "title": "Two", "duration": 200},
			},
			"state": map[string]any{"playing": true, "paused": false, "repeat": "off", "current": 0},
		},
		"AudioPlayer.GetTime": map[string]any{
			"time":  map[string]any{"hours": 0, "minutes": 0, "seconds": 30},
			"total": map[string]any{"hours": 0, "minutes": 1, "seconds": 40},
		},
	}

	backendSide, gatewaySide := net.Pipe()
	go serveScriptedRPC(backendSide, results)

	rpcClient := rpc.NewClientIO(gatewaySide)

	control := xbmc.NewControl(rpcClient, xbmc.WithLogger(testLogger()))
	rpcClient.SetNotificationFunc(control.HandleNotification)
	rpcClient.Start()
	t.Cleanup(func() { _ = rpcClient.Close() })

	require.NoError(t, control.CheckVersion(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := NewServer(control, notify.NewHub(), "/music", testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)

	go func() { serveDone <- server.Serve(ctx, ln) }()

	client, err := gompd.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	defer client.Close()

	require.NoError(t, client.Ping())

	status, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, "50", status["volume"])
	assert.Equal(t, "play", status["state"])
	assert.Equal(t, "2", status["playlistlength"])
	assert.Equal(t, "30:100", status["time"])

	playlist, err := client.PlaylistInfo(-1, -1)
	require.NoError(t, err)
	require.Len(t, playlist, 2)
	assert.Equal(t, "a.mp3", playlist[0]["file"])
	assert.Equal(t, "B", playlist[1]["Artist"])

	song, err := client.CurrentSong()
	require.NoError(t, err)
	assert.Equal(t, "a.mp3", song["file"])
	assert.Equal(t, "One", song["Title"])

	cancel()
	assert.NoError(t, <-serveDone)
}
