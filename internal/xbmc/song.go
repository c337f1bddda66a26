package xbmc

import "strconv"

// Song is one library or playlist entry with the tags the gateway cares
// about. Directory and playlist entries reuse the type with only File set.
type Song struct {
	File     string
	Title    string
	Artist   string
	Album    string
	Genre    string
	Track    int
	Year     int
	Duration int
}

// Field returns the string form of a tag by its backend field name.
// Unknown names yield the empty string.
func (s Song) Field(name string) string {
	switch name {
	case "file":
		return s.File
	case "title":
		return s.Title
	case "artist":
		return s.Artist
	case "album":
		return s.Album
	case "genre":
		return s.Genre
	case "track":
		return strconv.Itoa(s.Track)
	case "year":
		return strconv.Itoa(s.Year)
	case "duration":
		return strconv.Itoa(s.Duration)
	}

	return ""
}

// PlayerState mirrors the backend's playlist state object. A nil
// *PlayerState means the player is not running.
type PlayerState struct {
	Repeat  string
	Current int
	Playing bool
	Paused  bool
}

// Times is the position within the current song, in whole seconds.
type Times struct {
	Elapsed int
	Total   int
}

// PlaylistSnapshot is the current playlist plus a version number that
// increments whenever the contents change between fetches.
type PlaylistSnapshot struct {
	State   *PlayerState
	Songs   []Song
	Version int
}

// Listing is one directory level split the way the front protocol wants it.
type Listing struct {
	Files     []Song
	Dirs      []Song
	Playlists []Song
}

// Decode helpers for the loosely typed values the RPC layer hands back.
// Missing or mistyped members decode to zero values; the backend owns the
// schema and the gateway has nothing useful to do with a partial object.

func member(v any, key string) any {
	if m, ok := v.(map[string]any); ok {
		return m[key]
	}

	return nil
}

func intOf(v any) int {
	f, _ := v.(float64)

	return int(f)
}

func strOf(v any) string {
	s, _ := v.(string)

	return s
}

func listOf(v any) []any {
	l, _ := v.([]any)

	return l
}

func songOf(v any) Song {
	return Song{
		File:     strOf(member(v, "file")),
		Title:    strOf(member(v, "title")),
		Artist:   strOf(member(v, "artist")),
		Album:    strOf(member(v, "album")),
		Genre:    strOf(member(v, "genre")),
		Track:    intOf(member(v, "track")),
		Year:     intOf(member(v, "year")),
		Duration: intOf(member(v, "duration")),
	}
}

func songsOf(v any) []Song {
	items := listOf(v)

	songs := make([]Song, 0, len(items))
	for _, item := range items {
		songs = append(songs, songOf(item))
	}

	return songs
}

func stateOf(v any) *PlayerState {
	if _, ok := v.(map[string]any); !ok {
		return nil
	}

	playing, _ := member(v, "playing").(bool)
	paused, _ := member(v, "paused").(bool)

	return &PlayerState{
		Repeat:  strOf(member(v, "repeat")),
		Current: intOf(member(v, "current")),
		Playing: playing,
		Paused:  paused,
	}
}

// seconds flattens the backend's {hours, minutes, seconds} time object.
func seconds(v any) int {
	return 3600*intOf(member(v, "hours")) + 60*intOf(member(v, "minutes")) + intOf(member(v, "seconds"))
}
