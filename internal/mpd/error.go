package mpd

import "fmt"

// ACK error codes of the front protocol's published table.
const (
	ackErrorNotList       = 1
	ackErrorArg           = 2
	ackErrorPassword      = 3
	ackErrorPermission    = 4
	ackErrorUnknown       = 5
	ackErrorNoExist       = 50
	ackErrorPlaylistMax   = 51
	ackErrorSystem        = 52
	ackErrorPlaylistLoad  = 53
	ackErrorUpdateAlready = 54
	ackErrorPlayerSync    = 55
	ackErrorExist         = 56
)

// ackError is a command failure reported to the client as a single ACK
// line. The batch position and command name are filled in by the session
// when the line is written; handlers only know the code and message.
type ackError struct {
	message string
	code    int
}

func (e *ackError) Error() string {
	return e.message
}

// ackf builds an ackError with a formatted message.
func ackf(code int, format string, args ...any) *ackError {
	return &ackError{code: code, message: fmt.Sprintf(format, args...)}
}

// ackLine renders the wire form of an ACK error.
func ackLine(code, position int, command, message string) string {
	return fmt.Sprintf("ACK [%d@%d] {%s} %s", code, position, command, message)
}
