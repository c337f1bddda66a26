package mpd

import (
	"regexp"
	"strconv"
	"strings"
)

// tokenPattern splits a command line into double-quoted strings (with
// backslash-escaped quotes and backslashes) and bare tokens.
var tokenPattern = regexp.MustCompile(`"((?:[^\\]|\\"|\\\\)*?)"|([^ \t]+)`)

// unescapePattern undoes the backslash escapes inside a quoted token.
var unescapePattern = regexp.MustCompile(`\\(["\\])`)

// argument is one unescaped command argument. The coercion methods return
// ACK argument errors naming the expected kind, so handlers can pass them
// straight through.
type argument string

func (a argument) Int() (int, error) {
	n, err := strconv.Atoi(string(a))
	if err != nil {
		return 0, ackf(ackErrorArg, "need a number")
	}

	return n, nil
}

func (a argument) Bool() (bool, error) {
	switch a {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}

	return false, ackf(ackErrorArg, "boolean (0/1) expected")
}

// Range parses either a single position "N" (meaning the one-song window
// N to N+1) or a half-open window "start:end".
func (a argument) Range() (start, end int, err error) {
	parts := strings.Split(string(a), ":")

	switch len(parts) {
	case 1:
		start, err := argument(parts[0]).Int()
		if err != nil {
			return 0, 0, err
		}

		return start, start + 1, nil
	case 2:
		start, err := argument(parts[0]).Int()
		if err != nil {
			return 0, 0, err
		}

		end, err := argument(parts[1]).Int()
		if err != nil {
			return 0, 0, err
		}

		return start, end, nil
	}

	return 0, 0, ackf(ackErrorArg, "need a range")
}

// command is one parsed line: a lowercase name plus unescaped arguments.
type command struct {
	name string
	raw  string
	args []argument
}

// parseCommand tokenizes one line. Malformed quoting is an ACK argument
// error, never a crash.
func parseCommand(line string) (*command, error) {
	matches := tokenPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return nil, ackf(ackErrorUnknown, "No command given")
	}

	tokens := make([]argument, 0, len(matches))

	for _, m := range matches {
		if strings.Contains(m[2], `"`) {
			return nil, ackf(ackErrorArg, "malformed quoting")
		}

		tokens = append(tokens, argument(unescapePattern.ReplaceAllString(m[1]+m[2], "$1")))
	}

	return &command{
		name: strings.ToLower(string(tokens[0])),
		args: tokens[1:],
		raw:  line,
	}, nil
}
