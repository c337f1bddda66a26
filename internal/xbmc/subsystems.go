package xbmc

import "strings"

// Subsystem names as the front protocol's idle command reports them.
const (
	SubsystemPlayer   = "player"
	SubsystemPlaylist = "playlist"
	SubsystemMixer    = "mixer"
	SubsystemDatabase = "database"
)

// Subsystem maps a backend notification method to the front protocol
// subsystem it affects. The second return value is false for notifications
// that have no front protocol equivalent.
func Subsystem(method string) (string, bool) {
	namespace, name, _ := strings.Cut(method, ".")

	switch namespace {
	case "AudioPlaylist", "Playlist":
		return SubsystemPlaylist, true
	case "AudioPlayer", "Player":
		if strings.Contains(name, "Volume") {
			return SubsystemMixer, true
		}

		return SubsystemPlayer, true
	case "AudioLibrary":
		return SubsystemDatabase, true
	case "Application", "XBMC":
		if strings.Contains(name, "Volume") {
			return SubsystemMixer, true
		}
	}

	return "", false
}
