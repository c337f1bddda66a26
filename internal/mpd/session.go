package mpd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/bluecube/xbmcpd/internal/notify"
	"github.com/bluecube/xbmcpd/internal/rpc"
	"github.com/bluecube/xbmcpd/internal/xbmc"
)

// Banner is the greeting line sent to every new client. The advertised
// protocol version is the newest one whose commands are all covered here.
const Banner = "OK MPD 0.16.0"

// errCloseSession is returned by the close handler to end the session
// without an error.
var errCloseSession = errors.New("mpd: session closed by client")

// Session runs the front protocol on one client connection.
//
// One session is strictly single-threaded: a reader goroutine feeds lines
// into the main loop, which is the only writer to the connection. Change
// events from the hub are queued while the client sits in idle and flushed
// by noidle.
type Session struct {
	control *xbmc.Control
	hub     *notify.Hub
	log     *slog.Logger
	conn    io.ReadWriter
	w       *bufio.Writer

	musicPath string

	// Command list accumulation and execution.
	listStarted   bool
	listOK        bool
	executingList bool
	list          []*command
	listPos       int
	currentCmd    string

	// Idle mode.
	idle       bool
	idleFilter []string
	changed    []string
}

func newSession(conn io.ReadWriter, control *xbmc.Control, hub *notify.Hub, musicPath string, log *slog.Logger) *Session {
	return &Session{
		control:   control,
		hub:       hub,
		log:       log,
		conn:      conn,
		w:         bufio.NewWriter(conn),
		musicPath: musicPath,
	}
}

// Run serves the connection until the client leaves, the context ends or
// the backend connection is lost.
func (s *Session) Run(ctx context.Context) error {
	// The reader goroutine must not outlive the session.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.sendLine(Banner); err != nil {
		return err
	}

	if err := s.w.Flush(); err != nil {
		return err
	}

	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(s.conn)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		readErr <- scanner.Err()
	}()

	events := s.hub.Subscribe()
	defer s.hub.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case subsystem := <-events:
			s.noteChange(subsystem)
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}

			if err := s.handleLine(ctx, line); err != nil {
				if errors.Is(err, errCloseSession) {
					return nil
				}

				return err
			}

			if err := s.w.Flush(); err != nil {
				return err
			}
		}
	}
}

// noteChange queues one subsystem change for the idling client.
// Changes outside idle are dropped; the client will requery anyway.
func (s *Session) noteChange(subsystem string) {
	if !s.idle || slices.Contains(s.changed, subsystem) {
		return
	}

	if len(s.idleFilter) > 0 && !slices.Contains(s.idleFilter, subsystem) {
		return
	}

	s.changed = append(s.changed, subsystem)
}

func (s *Session) handleLine(ctx context.Context, line string) error {
	line = strings.TrimSuffix(line, "\r")

	cmd, err := parseCommand(line)

	if s.idle {
		// Only the idle cancel is acted upon; everything else a client
		// sends while idling is ignored.
		if err == nil && cmd.name == "noidle" {
			return s.flushIdle()
		}

		return nil
	}

	if err != nil {
		// A line that does not even parse aborts a batch still being
		// collected; its already-accumulated commands never run.
		s.listStarted = false
		s.list = nil
		s.listPos = 0
		s.currentCmd = ""

		return s.report(err)
	}

	switch cmd.name {
	case "command_list_begin":
		s.beginList(false)
		return nil
	case "command_list_ok_begin":
		s.beginList(true)
		return nil
	case "command_list_end":
		if !s.listStarted {
			return s.report(ackf(ackErrorNotList, "not in command list mode"))
		}

		list := s.list
		s.list = nil
		s.listStarted = false

		s.executingList = true
		err := s.processList(ctx, list)
		s.executingList = false

		return err
	}

	if s.listStarted {
		s.list = append(s.list, cmd)
		return nil
	}

	return s.processList(ctx, []*command{cmd})
}

func (s *Session) beginList(ok bool) {
	s.listStarted = true
	s.listOK = ok
	s.list = nil
}

// processList executes an accumulated batch (a single bare command is a
// batch of one). The first failure aborts the rest and produces the one
// ACK line of the whole batch; commands already run are not rolled back.
func (s *Session) processList(ctx context.Context, list []*command) error {
	listOK := s.listOK
	s.listOK = false

	for i, cmd := range list {
		s.listPos = i
		s.currentCmd = cmd.name

		s.log.Debug("command", "pos", i, "of", len(list), "line", cmd.raw)

		if err := s.dispatch(ctx, cmd); err != nil {
			return s.report(err)
		}

		if listOK {
			if err := s.sendLine("list_OK"); err != nil {
				return err
			}
		}
	}

	if !s.idle {
		return s.sendLine("OK")
	}

	return nil
}

// dispatch validates and runs one command. Handler panics become system
// errors so a bad handler cannot take the connection down.
func (s *Session) dispatch(ctx context.Context, cmd *command) (err error) {
	spec, ok := commandTable[cmd.name]
	if !ok {
		s.currentCmd = ""
		return ackf(ackErrorUnknown, "unknown command %q", cmd.name)
	}

	if len(cmd.args) < spec.minArgs || (spec.maxArgs >= 0 && len(cmd.args) > spec.maxArgs) {
		return wrongArgCount(cmd.name)
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in command handler", "command", cmd.name, "panic", r)
			err = ackf(ackErrorSystem, "Internal server error, sorry.")
		}
	}()

	return spec.handler(s, ctx, cmd)
}

func wrongArgCount(name string) *ackError {
	return ackf(ackErrorArg, "wrong number of arguments for %q", name)
}

// report converts a command failure into the batch's single ACK line.
// Backend connection loss and context cancellation tear the session down
// instead; everything unrecognized becomes a generic internal error.
func (s *Session) report(err error) error {
	if errors.Is(err, errCloseSession) || errors.Is(err, rpc.ErrClosed) || errors.Is(err, context.Canceled) {
		return err
	}

	var ack *ackError
	if !errors.As(err, &ack) {
		s.log.Error("command failed", "command", s.currentCmd, "error", err)
		ack = ackf(ackErrorSystem, "Internal server error, sorry.")
	} else {
		s.log.Warn("command rejected", "command", s.currentCmd, "error", ack.message)
	}

	if err := s.sendLine(ackLine(ack.code, s.listPos, s.currentCmd, ack.message)); err != nil {
		return err
	}

	return s.w.Flush()
}

// flushIdle ends idle mode, reporting the queued subsystem changes.
func (s *Session) flushIdle() error {
	s.log.Debug("wake up", "changed", s.changed)

	for _, subsystem := range s.changed {
		if err := s.sendLine("changed: " + subsystem); err != nil {
			return err
		}
	}

	s.idle = false
	s.idleFilter = nil
	s.changed = nil

	if err := s.sendLine("OK"); err != nil {
		return err
	}

	return s.w.Flush()
}

func (s *Session) sendLine(line string) error {
	_, err := s.w.WriteString(line + "\n")

	return err
}

func (s *Session) sendPairs(pairs ...[2]string) error {
	for _, p := range pairs {
		if err := s.sendLine(p[0] + ": " + p[1]); err != nil {
			return err
		}
	}

	return nil
}

func pair(key string, value any) [2]string {
	return [2]string{key, fmt.Sprint(value)}
}

// mpdPath converts a backend filesystem path into the music-root-relative
// form the front protocol uses.
func (s *Session) mpdPath(path string) string {
	sep := s.control.PathSeparator()

	path = strings.TrimPrefix(path, s.musicPath)
	path = strings.Trim(path, sep)

	return strings.ReplaceAll(path, sep, "/")
}

// backendPath is the near-inverse of mpdPath.
func (s *Session) backendPath(path string) string {
	sep := s.control.PathSeparator()

	return s.musicPath + sep + strings.ReplaceAll(path, "/", sep)
}
