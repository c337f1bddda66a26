package mpd

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/bluecube/xbmcpd/internal/xbmc"
)

// Front protocol tag -> backend song field. Front protocol tags are
// capitalized on the wire.
var mpdTagToField = map[string]string{
	"Artist": "artist",
	"Album":  "album",
	"Title":  "title",
	"Track":  "track",
	"Genre":  "genre",
	"Date":   "year",
	"Time":   "duration",
}

// tagOrder fixes the order tags are emitted in.
var tagOrder = []string{"Artist", "Album", "Title", "Track", "Genre", "Date", "Time"}

type handlerFunc func(s *Session, ctx context.Context, cmd *command) error

type commandSpec struct {
	handler handlerFunc
	minArgs int
	maxArgs int // -1 means no upper bound
}

// commandTable maps every supported command to its argument-count contract
// and handler. The commands command is derived from it. Filled in init
// because cmdCommands itself walks the table.
var (
	commandTable map[string]commandSpec
	commandNames []string
)

func init() {
	commandTable = map[string]commandSpec{
		"status":         {handler: (*Session).cmdStatus, minArgs: 0, maxArgs: 0},
		"stats":          {handler: (*Session).cmdStats, minArgs: 0, maxArgs: 0},
		"currentsong":    {handler: (*Session).cmdCurrentSong, minArgs: 0, maxArgs: 0},
		"playlistinfo":   {handler: (*Session).cmdPlaylistInfo, minArgs: 0, maxArgs: 1},
		"playlistid":     {handler: (*Session).cmdPlaylistInfo, minArgs: 0, maxArgs: 1},
		"plchanges":      {handler: (*Session).cmdPlChanges, minArgs: 1, maxArgs: 1},
		"plchangesposid": {handler: (*Session).cmdPlChangesPosID, minArgs: 1, maxArgs: 1},
		"play":           {handler: (*Session).cmdPlay, minArgs: 0, maxArgs: 1},
		"playid":         {handler: (*Session).cmdPlay, minArgs: 0, maxArgs: 1},
		"pause":          {handler: (*Session).cmdPause, minArgs: 0, maxArgs: 1},
		"stop":           {handler: (*Session).cmdStop, minArgs: 0, maxArgs: 0},
		"next":           {handler: (*Session).cmdNext, minArgs: 0, maxArgs: 0},
		"previous":       {handler: (*Session).cmdPrevious, minArgs: 0, maxArgs: 0},
		"seek":           {handler: (*Session).cmdSeek, minArgs: 2, maxArgs: 2},
		"setvol":         {handler: (*Session).cmdSetVol, minArgs: 1, maxArgs: 1},
		"add":            {handler: (*Session).cmdAdd, minArgs: 1, maxArgs: 1},
		"addid":          {handler: (*Session).cmdAddID, minArgs: 1, maxArgs: 2},
		"deleteid":       {handler: (*Session).cmdDeleteID, minArgs: 1, maxArgs: 1},
		"clear":          {handler: (*Session).cmdClear, minArgs: 0, maxArgs: 0},
		"list":           {handler: (*Session).cmdList, minArgs: 1, maxArgs: -1},
		"find":           {handler: (*Session).cmdFind, minArgs: 2, maxArgs: -1},
		"search":         {handler: (*Session).cmdSearch, minArgs: 2, maxArgs: -1},
		"count":          {handler: (*Session).cmdCount, minArgs: 2, maxArgs: -1},
		"lsinfo":         {handler: (*Session).cmdLsInfo, minArgs: 0, maxArgs: 1},
		"listall":        {handler: (*Session).cmdListAll, minArgs: 0, maxArgs: 1},
		"listallinfo":    {handler: (*Session).cmdListAllInfo, minArgs: 0, maxArgs: 1},
		"commands":       {handler: (*Session).cmdCommands, minArgs: 0, maxArgs: 0},
		"notcommands":    {handler: (*Session).cmdNotCommands, minArgs: 0, maxArgs: 0},
		"outputs":        {handler: (*Session).cmdOutputs, minArgs: 0, maxArgs: 0},
		"tagtypes":       {handler: (*Session).cmdTagTypes, minArgs: 0, maxArgs: 0},
		"ping":           {handler: (*Session).cmdPing, minArgs: 0, maxArgs: 0},
		"password":       {handler: (*Session).cmdPassword, minArgs: 1, maxArgs: 1},
		"idle":           {handler: (*Session).cmdIdle, minArgs: 0, maxArgs: -1},
		"noidle":         {handler: (*Session).cmdNoIdle, minArgs: 0, maxArgs: 0},
		"close":          {handler: (*Session).cmdClose, minArgs: 0, maxArgs: 0},
	}

	// The list framing keywords are handled by the session loop, not the
	// table, but they are still part of the advertised command set.
	tableNames := make([]string, 0, len(commandTable))
	for name := range commandTable {
		tableNames = append(tableNames, name)
	}
	commandNames = append(
		tableNames,
		"command_list_begin", "command_list_ok_begin", "command_list_end",
	)
	slices.Sort(commandNames)
}

func (s *Session) cmdStatus(ctx context.Context, _ *command) error {
	pl, err := s.control.Playlist(ctx)
	if err != nil {
		return err
	}

	times, err := s.control.Time(ctx)
	if err != nil {
		return err
	}

	volume, err := s.control.Volume(ctx)
	if err != nil {
		return err
	}

	err = s.sendPairs(
		pair("volume", volume),
		pair("consume", 0),
		pair("playlist", pl.Version),
		pair("playlistlength", len(pl.Songs)),
	)
	if err != nil {
		return err
	}

	state := pl.State
	if state == nil || times == nil {
		return s.sendPairs(
			pair("single", 0),
			pair("repeat", 0),
			pair("random", 0),
			pair("state", "stop"),
		)
	}

	stateName := "stop"

	switch {
	case state.Paused:
		stateName = "pause"
	case state.Playing:
		stateName = "play"
	}

	repeat, single := 0, 0

	switch state.Repeat {
	case "all":
		repeat = 1
	case "one":
		repeat, single = 1, 1
	}

	return s.sendPairs(
		pair("repeat", repeat),
		pair("single", single),
		pair("state", stateName),
		pair("song", state.Current),
		pair("songid", state.Current),
		pair("time", fmt.Sprintf("%d:%d", times.Elapsed, times.Total)),
	)
}

func (s *Session) cmdStats(ctx context.Context, _ *command) error {
	songs, err := s.control.Songs(ctx)
	if err != nil {
		return err
	}

	playtime := 0
	artists := make(map[string]struct{})
	albums := make(map[string]struct{})

	for _, song := range songs {
		playtime += song.Duration
		artists[song.Artist] = struct{}{}
		albums[song.Album] = struct{}{}
	}

	return s.sendPairs(
		pair("songs", len(songs)),
		pair("artists", len(artists)),
		pair("albums", len(albums)),
		pair("db_playtime", playtime),
	)
}

func (s *Session) cmdCurrentSong(ctx context.Context, _ *command) error {
	pl, err := s.control.Playlist(ctx)
	if err != nil {
		return err
	}

	if pl.State == nil {
		return nil
	}

	current := pl.State.Current
	if current < 0 || current >= len(pl.Songs) {
		return nil
	}

	return s.sendSongAt(pl.Songs[current], current)
}

func (s *Session) cmdPlaylistInfo(ctx context.Context, cmd *command) error {
	pl, err := s.control.Playlist(ctx)
	if err != nil {
		return err
	}

	start, end := 0, len(pl.Songs)

	if len(cmd.args) == 1 {
		start, end, err = cmd.args[0].Range()
		if err != nil {
			return err
		}

		start = max(start, 0)
		end = min(end, len(pl.Songs))
	}

	for i := start; i < end; i++ {
		if err := s.sendSongAt(pl.Songs[i], i); err != nil {
			return err
		}
	}

	return nil
}

// cmdPlChanges reports everything as changed. Proper playlist diffing
// against the client's version would need the gateway to remember old
// snapshots; clients cope with the pessimistic answer.
func (s *Session) cmdPlChanges(ctx context.Context, _ *command) error {
	pl, err := s.control.Playlist(ctx)
	if err != nil {
		return err
	}

	for i, song := range pl.Songs {
		if err := s.sendSongAt(song, i); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) cmdPlChangesPosID(ctx context.Context, _ *command) error {
	pl, err := s.control.Playlist(ctx)
	if err != nil {
		return err
	}

	for i := range pl.Songs {
		if err := s.sendPairs(pair("cpos", i), pair("Id", i)); err != nil {
			return err
		}
	}

	return nil
}

// cmdPlay serves both play and playid: playlist positions and song ids are
// the same thing here.
func (s *Session) cmdPlay(ctx context.Context, cmd *command) error {
	if len(cmd.args) == 0 {
		return s.control.Play(ctx)
	}

	pos, err := cmd.args[0].Int()
	if err != nil {
		return err
	}

	return s.control.PlayID(ctx, pos)
}

func (s *Session) cmdPause(ctx context.Context, cmd *command) error {
	pause := true

	if len(cmd.args) == 1 {
		var err error

		pause, err = cmd.args[0].Bool()
		if err != nil {
			return err
		}
	}

	if pause {
		return s.control.Pause(ctx)
	}

	return s.control.Play(ctx)
}

func (s *Session) cmdStop(ctx context.Context, _ *command) error {
	return s.control.Stop(ctx)
}

func (s *Session) cmdNext(ctx context.Context, _ *command) error {
	return s.control.Next(ctx)
}

func (s *Session) cmdPrevious(ctx context.Context, _ *command) error {
	return s.control.Prev(ctx)
}

func (s *Session) cmdSeek(ctx context.Context, cmd *command) error {
	pos, err := cmd.args[0].Int()
	if err != nil {
		return err
	}

	secs, err := cmd.args[1].Int()
	if err != nil {
		return err
	}

	if err := s.control.PlayID(ctx, pos); err != nil {
		return err
	}

	return s.control.SeekTo(ctx, secs)
}

func (s *Session) cmdSetVol(ctx context.Context, cmd *command) error {
	volume, err := cmd.args[0].Int()
	if err != nil {
		return err
	}

	if volume < 0 || volume > 100 {
		return ackf(ackErrorArg, "Invalid volume value")
	}

	return s.control.SetVolume(ctx, volume)
}

func (s *Session) cmdAdd(ctx context.Context, cmd *command) error {
	return s.control.Add(ctx, s.backendPath(string(cmd.args[0])))
}

func (s *Session) cmdAddID(ctx context.Context, cmd *command) error {
	path := s.backendPath(string(cmd.args[0]))

	if len(cmd.args) == 2 {
		pos, err := cmd.args[1].Int()
		if err != nil {
			return err
		}

		if err := s.control.Insert(ctx, pos, path); err != nil {
			return err
		}

		return s.sendPairs(pair("Id", pos))
	}

	pl, err := s.control.Playlist(ctx)
	if err != nil {
		return err
	}

	if err := s.control.Add(ctx, path); err != nil {
		return err
	}

	return s.sendPairs(pair("Id", len(pl.Songs)))
}

func (s *Session) cmdDeleteID(ctx context.Context, cmd *command) error {
	pos, err := cmd.args[0].Int()
	if err != nil {
		return err
	}

	return s.control.Remove(ctx, pos)
}

func (s *Session) cmdClear(ctx context.Context, _ *command) error {
	return s.control.Clear(ctx)
}

func (s *Session) cmdList(ctx context.Context, cmd *command) error {
	tagType := capitalize(string(cmd.args[0]))

	field, ok := mpdTagToField[tagType]
	if !ok {
		return ackf(ackErrorArg, "%q is not known", string(cmd.args[0]))
	}

	var (
		filter []filterRule
		err    error
	)

	if len(cmd.args) == 2 {
		// The historical two-argument form: list album <artist>.
		if tagType != "Album" {
			return ackf(ackErrorArg, `tag type must be "Album" for 2 argument version`)
		}

		filter = []filterRule{{tag: "Artist", value: string(cmd.args[1])}}
	} else {
		filter, err = s.makeFilter(cmd.args[1:])
		if err != nil {
			return err
		}
	}

	songs, err := s.control.Songs(ctx)
	if err != nil {
		return err
	}

	var values []string

	for _, song := range songs {
		if !s.matches(song, filter, equals) {
			continue
		}

		if value := song.Field(field); !slices.Contains(values, value) {
			values = append(values, value)
		}
	}

	for _, value := range values {
		if err := s.sendPairs([2]string{tagType, value}); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) cmdFind(ctx context.Context, cmd *command) error {
	return s.findLike(ctx, cmd, equals)
}

// cmdSearch is find with case-insensitive substring matching.
func (s *Session) cmdSearch(ctx context.Context, cmd *command) error {
	return s.findLike(ctx, cmd, containsFold)
}

func (s *Session) findLike(ctx context.Context, cmd *command, compare compareFunc) error {
	filter, err := s.makeFilter(cmd.args)
	if err != nil {
		return err
	}

	songs, err := s.control.Songs(ctx)
	if err != nil {
		return err
	}

	for _, song := range songs {
		if !s.matches(song, filter, compare) {
			continue
		}

		if err := s.sendSong(song); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) cmdCount(ctx context.Context, cmd *command) error {
	filter, err := s.makeFilter(cmd.args)
	if err != nil {
		return err
	}

	songs, err := s.control.Songs(ctx)
	if err != nil {
		return err
	}

	count, playtime := 0, 0

	for _, song := range songs {
		if s.matches(song, filter, equals) {
			count++
			playtime += song.Duration
		}
	}

	return s.sendPairs(pair("songs", count), pair("playtime", playtime))
}

func (s *Session) cmdLsInfo(ctx context.Context, cmd *command) error {
	mpdDir := ""
	if len(cmd.args) == 1 {
		mpdDir = string(cmd.args[0])
	}

	listing, err := s.control.Directory(ctx, s.backendPath(mpdDir))
	if err != nil {
		return err
	}

	for _, dir := range listing.Dirs {
		if err := s.sendPairs([2]string{"directory", s.mpdPath(dir.File)}); err != nil {
			return err
		}
	}

	for _, file := range listing.Files {
		if err := s.sendSong(file); err != nil {
			return err
		}
	}

	for _, pl := range listing.Playlists {
		if err := s.sendPairs([2]string{"playlist", s.mpdPath(pl.File)}); err != nil {
			return err
		}
	}

	if strings.Trim(mpdDir, "/") == "" {
		saved, err := s.control.Playlists(ctx)
		if err != nil {
			return err
		}

		for _, pl := range saved {
			if err := s.sendPairs([2]string{"playlist", pl.Title}); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Session) cmdListAll(ctx context.Context, cmd *command) error {
	return s.walkDirectory(ctx, s.walkRoot(cmd), func(song xbmc.Song) error {
		return s.sendPairs([2]string{"file", s.mpdPath(song.File)})
	})
}

func (s *Session) cmdListAllInfo(ctx context.Context, cmd *command) error {
	return s.walkDirectory(ctx, s.walkRoot(cmd), s.sendSong)
}

func (s *Session) walkRoot(cmd *command) string {
	mpdDir := ""
	if len(cmd.args) == 1 {
		mpdDir = string(cmd.args[0])
	}

	return s.backendPath(mpdDir)
}

// walkDirectory recursively announces every directory and playlist under
// path and hands every file to fileFunc.
func (s *Session) walkDirectory(ctx context.Context, path string, fileFunc func(xbmc.Song) error) error {
	// The music root itself is not a directory entry.
	if name := s.mpdPath(path); name != "" {
		if err := s.sendPairs([2]string{"directory", name}); err != nil {
			return err
		}
	}

	listing, err := s.control.Directory(ctx, path)
	if err != nil {
		return err
	}

	for _, dir := range listing.Dirs {
		if err := s.walkDirectory(ctx, dir.File, fileFunc); err != nil {
			return err
		}
	}

	for _, file := range listing.Files {
		if err := fileFunc(file); err != nil {
			return err
		}
	}

	for _, pl := range listing.Playlists {
		if err := s.sendPairs([2]string{"playlist", s.mpdPath(pl.File)}); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) cmdCommands(_ context.Context, _ *command) error {
	for _, name := range commandNames {
		if err := s.sendPairs([2]string{"command", name}); err != nil {
			return err
		}
	}

	return nil
}

// cmdNotCommands stays silent about commands we do not support.
func (s *Session) cmdNotCommands(_ context.Context, _ *command) error {
	return nil
}

func (s *Session) cmdOutputs(_ context.Context, _ *command) error {
	return s.sendPairs(
		pair("outputid", 0),
		pair("outputname", "XBMC"),
		pair("outputenabled", 1),
	)
}

func (s *Session) cmdTagTypes(_ context.Context, _ *command) error {
	for _, tag := range tagOrder {
		if err := s.sendPairs([2]string{"tagtype", tag}); err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) cmdPing(_ context.Context, _ *command) error {
	return nil
}

// cmdPassword accepts any password: the gateway has none configured, which
// on a real server means every client is already fully authorized.
func (s *Session) cmdPassword(_ context.Context, _ *command) error {
	return nil
}

func (s *Session) cmdIdle(_ context.Context, cmd *command) error {
	if s.executingList {
		return ackf(ackErrorSystem, "idle inside command list is stupid")
	}

	s.idle = true
	s.changed = nil
	s.idleFilter = nil

	for _, arg := range cmd.args {
		s.idleFilter = append(s.idleFilter, string(arg))
	}

	return nil
}

// cmdNoIdle outside idle mode is a no-op; inside idle mode the session
// loop intercepts it before dispatch.
func (s *Session) cmdNoIdle(_ context.Context, _ *command) error {
	return nil
}

func (s *Session) cmdClose(_ context.Context, _ *command) error {
	return errCloseSession
}

// Song filtering shared by list, find, search and count.

type filterRule struct {
	tag   string
	value string
}

type compareFunc func(want, got string) bool

func equals(want, got string) bool {
	return want == got
}

func containsFold(want, got string) bool {
	return strings.Contains(strings.ToLower(got), strings.ToLower(want))
}

// makeFilter pairs up tag/value arguments into filter rules.
func (s *Session) makeFilter(args []argument) ([]filterRule, error) {
	if len(args)%2 != 0 {
		return nil, ackf(ackErrorArg, "not able to parse args")
	}

	rules := make([]filterRule, 0, len(args)/2)

	for i := 0; i < len(args); i += 2 {
		tag := capitalize(string(args[i]))

		if _, ok := mpdTagToField[tag]; !ok && tag != "Any" && tag != "File" && tag != "Filename" {
			return nil, ackf(ackErrorArg, "tag type %q unrecognized", string(args[i]))
		}

		rules = append(rules, filterRule{tag: tag, value: string(args[i+1])})
	}

	return rules, nil
}

func (s *Session) matches(song xbmc.Song, rules []filterRule, compare compareFunc) bool {
	for _, rule := range rules {
		switch rule.tag {
		case "File", "Filename":
			if !compare(rule.value, s.mpdPath(song.File)) {
				return false
			}
		case "Any":
			anyMatch := false

			for _, field := range mpdTagToField {
				if compare(rule.value, song.Field(field)) {
					anyMatch = true
					break
				}
			}

			if !anyMatch {
				return false
			}
		default:
			if !compare(rule.value, song.Field(mpdTagToField[rule.tag])) {
				return false
			}
		}
	}

	return true
}

func (s *Session) sendSong(song xbmc.Song) error {
	return s.sendSongAt(song, -1)
}

// sendSongAt writes one song's metadata block. A non-negative pos also
// emits the playlist position and id, which are the same number here.
func (s *Session) sendSongAt(song xbmc.Song, pos int) error {
	if err := s.sendPairs([2]string{"file", s.mpdPath(song.File)}); err != nil {
		return err
	}

	for _, tag := range tagOrder {
		value := song.Field(mpdTagToField[tag])
		if value == "" || value == "0" {
			continue
		}

		if err := s.sendPairs([2]string{tag, value}); err != nil {
			return err
		}
	}

	if pos >= 0 {
		return s.sendPairs(pair("Pos", pos), pair("Id", pos))
	}

	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])

	return string(runes)
}
