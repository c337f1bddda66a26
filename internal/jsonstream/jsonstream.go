// Package jsonstream implements an incremental JSON parser that pulls
// characters one at a time from an [io.RuneReader].
//
// Unlike [encoding/json.Decoder], the parser consumes exactly the characters
// needed to complete one value and no more, which makes it suitable for a
// socket stream carrying many JSON-RPC messages back to back with no framing
// other than the JSON grammar itself. Errors report the line and column of
// the offending character.
package jsonstream

import (
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf8"
)

// eofRune marks end of input on the internal peek/getc path.
const eofRune = rune(-1)

// UnexpectedCharError reports a character that does not fit the JSON grammar
// at its position in the input.
type UnexpectedCharError struct {
	Char rune
	Line int
	Col  int
}

func (e *UnexpectedCharError) Error() string {
	return fmt.Sprintf("jsonstream: unexpected character %q on line %d, column %d", e.Char, e.Line, e.Col)
}

// UnexpectedEOFError reports that the input ended in the middle of a value.
// It is distinct from [UnexpectedCharError] so that callers can tell a
// truncated stream from a malformed one.
type UnexpectedEOFError struct {
	Line int
	Col  int
}

func (e *UnexpectedEOFError) Error() string {
	return fmt.Sprintf("jsonstream: unexpected end of input on line %d, column %d", e.Line, e.Col)
}

// Parser decodes a sequence of JSON values from a character stream.
//
// Decoded values use the dynamic types nil, bool, float64, string, []any and
// map[string]any. All numbers decode as float64, matching the number
// semantics of the backend's JSON dialect.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	r          io.RuneReader
	peeked     rune
	havePeeked bool
	line       int
	col        int
	depth      int
}

// NewParser returns a new [*Parser] reading from r.
//
// Wrapping a network connection in a [bufio.Reader] gives a suitable
// [io.RuneReader] that reassembles UTF-8 sequences split across reads.
func NewParser(r io.RuneReader) *Parser {
	return &Parser{r: r, line: 1}
}

// Next decodes and returns the next top-level value from the stream.
//
// It returns [io.EOF] when the input ends cleanly between values, a
// [*UnexpectedEOFError] when the input ends inside a value, and a
// [*UnexpectedCharError] for malformed input. The parser does not recover;
// after any error the stream position is undefined.
func (p *Parser) Next() (any, error) {
	if err := p.eatWhitespace(); err != nil {
		return nil, err
	}

	c, err := p.peek()
	if err != nil {
		return nil, err
	}

	if c == eofRune {
		if p.depth == 0 {
			return nil, io.EOF
		}

		return nil, p.errEOF()
	}

	switch {
	case c == '{':
		return p.parseObject()
	case c == '[':
		return p.parseArray()
	case c == '"':
		return p.parseString()
	case c == 't':
		if err := p.checkString("true"); err != nil {
			return nil, err
		}

		return true, nil
	case c == 'f':
		if err := p.checkString("false"); err != nil {
			return nil, err
		}

		return false, nil
	case c == 'n':
		if err := p.checkString("null"); err != nil {
			return nil, err
		}

		return nil, nil
	case c == '-' || isDigit(c):
		return p.parseNumber()
	}

	// Consume the offending character so the error carries its position.
	if _, err := p.getc(); err != nil {
		return nil, err
	}

	return nil, p.errChar(c)
}

func (p *Parser) parseArray() (any, error) {
	if err := p.checkRune('['); err != nil {
		return nil, err
	}

	p.depth++
	defer func() { p.depth-- }()

	if err := p.eatWhitespace(); err != nil {
		return nil, err
	}

	c, err := p.peek()
	if err != nil {
		return nil, err
	}

	ret := []any{}

	if c == ']' {
		_, _ = p.getc()
		return ret, nil
	}

	for {
		v, err := p.Next()
		if err != nil {
			return nil, err
		}

		ret = append(ret, v)

		if err := p.eatWhitespace(); err != nil {
			return nil, err
		}

		c, err := p.peek()
		if err != nil {
			return nil, err
		}

		if c != ',' {
			break
		}

		_, _ = p.getc()
	}

	if err := p.checkRune(']'); err != nil {
		return nil, err
	}

	return ret, nil
}

func (p *Parser) parseObject() (any, error) {
	if err := p.checkRune('{'); err != nil {
		return nil, err
	}

	p.depth++
	defer func() { p.depth-- }()

	if err := p.eatWhitespace(); err != nil {
		return nil, err
	}

	c, err := p.peek()
	if err != nil {
		return nil, err
	}

	ret := map[string]any{}

	if c == '}' {
		_, _ = p.getc()
		return ret, nil
	}

	for {
		if err := p.eatWhitespace(); err != nil {
			return nil, err
		}

		key, err := p.parseString()
		if err != nil {
			return nil, err
		}

		if err := p.eatWhitespace(); err != nil {
			return nil, err
		}

		if err := p.checkRune(':'); err != nil {
			return nil, err
		}

		value, err := p.Next()
		if err != nil {
			return nil, err
		}

		ret[key] = value

		if err := p.eatWhitespace(); err != nil {
			return nil, err
		}

		c, err := p.peek()
		if err != nil {
			return nil, err
		}

		if c != ',' {
			break
		}

		_, _ = p.getc()
	}

	if err := p.checkRune('}'); err != nil {
		return nil, err
	}

	return ret, nil
}

func (p *Parser) parseString() (string, error) {
	if err := p.checkRune('"'); err != nil {
		return "", err
	}

	var sb strings.Builder

	for {
		c, err := p.getc()
		if err != nil {
			return "", err
		}

		switch c {
		case eofRune:
			// Unterminated string.
			return "", p.errEOF()
		case '"':
			return sb.String(), nil
		case '\\':
			c, err = p.parseEscape()
			if err != nil {
				return "", err
			}
		}

		sb.WriteRune(c)
	}
}

func (p *Parser) parseEscape() (rune, error) {
	c, err := p.getc()
	if err != nil {
		return 0, err
	}

	switch c {
	case '"', '\\', '/':
		return c, nil
	case 'b':
		return '\b', nil
	case 'f':
		return '\f', nil
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case 'u':
		number := 0

		for i := 0; i < 4; i++ {
			c, err := p.getc()
			if err != nil {
				return 0, err
			}

			d, ok := hexDigit(c)
			if !ok {
				return 0, p.errFor(c)
			}

			number = number*16 + d
		}

		// A lone surrogate cannot live in a Go string; substitute the
		// replacement character like encoding/json does.
		if !utf8.ValidRune(rune(number)) {
			return utf8.RuneError, nil
		}

		return rune(number), nil
	case eofRune:
		return 0, p.errEOF()
	default:
		return 0, p.errChar(c)
	}
}

func (p *Parser) parseNumber() (any, error) {
	negative := false

	c, err := p.peek()
	if err != nil {
		return nil, err
	}

	if c == '-' {
		_, _ = p.getc()
		negative = true
	}

	c, err = p.peek()
	if err != nil {
		return nil, err
	}

	if !isDigit(c) {
		return nil, p.errFor(c)
	}

	var number float64

	if c == '0' {
		// A leading zero must stand alone.
		_, _ = p.getc()
	} else {
		number, err = p.parseInt()
		if err != nil {
			return nil, err
		}
	}

	c, err = p.peek()
	if err != nil {
		return nil, err
	}

	if c == '.' {
		_, _ = p.getc()

		frac, err := p.parseFractional()
		if err != nil {
			return nil, err
		}

		number += frac
	}

	if negative {
		number = -number
	}

	c, err = p.peek()
	if err != nil {
		return nil, err
	}

	if c == 'e' || c == 'E' {
		_, _ = p.getc()

		expNegative := false

		c, err = p.peek()
		if err != nil {
			return nil, err
		}

		switch c {
		case '+':
			_, _ = p.getc()
		case '-':
			_, _ = p.getc()
			expNegative = true
		}

		c, err = p.peek()
		if err != nil {
			return nil, err
		}

		if !isDigit(c) {
			return nil, p.errFor(c)
		}

		exponent, err := p.parseInt()
		if err != nil {
			return nil, err
		}

		if expNegative {
			exponent = -exponent
		}

		number *= math.Pow(10, exponent)
	}

	return number, nil
}

func (p *Parser) parseInt() (float64, error) {
	var number float64

	for {
		c, err := p.peek()
		if err != nil {
			return 0, err
		}

		if !isDigit(c) {
			return number, nil
		}

		_, _ = p.getc()
		number = number*10 + float64(c-'0')
	}
}

func (p *Parser) parseFractional() (float64, error) {
	c, err := p.peek()
	if err != nil {
		return 0, err
	}

	if !isDigit(c) {
		return 0, p.errFor(c)
	}

	var number float64

	multiplier := 1.0

	for {
		c, err := p.peek()
		if err != nil {
			return 0, err
		}

		if !isDigit(c) {
			return number, nil
		}

		_, _ = p.getc()
		multiplier /= 10
		number += float64(c-'0') * multiplier
	}
}

// peek returns the next character without consuming it.
// End of input is reported as eofRune with a nil error; only real read
// failures from the underlying reader produce a non-nil error.
func (p *Parser) peek() (rune, error) {
	if p.havePeeked {
		return p.peeked, nil
	}

	c, _, err := p.r.ReadRune()
	if err != nil {
		if err == io.EOF {
			c = eofRune
		} else {
			return 0, err
		}
	}

	p.peeked = c
	p.havePeeked = true

	return c, nil
}

// getc consumes and returns the next character, advancing the line and
// column counters. Every consumed character counts, including characters
// inside strings and escapes.
func (p *Parser) getc() (rune, error) {
	c, err := p.peek()
	if err != nil {
		return 0, err
	}

	p.havePeeked = false

	if c == '\n' {
		p.line++
		p.col = 0
	} else if c != eofRune {
		p.col++
	}

	return c, nil
}

func (p *Parser) checkRune(expected rune) error {
	c, err := p.getc()
	if err != nil {
		return err
	}

	if c != expected {
		return p.errFor(c)
	}

	return nil
}

func (p *Parser) checkString(expected string) error {
	for _, c := range expected {
		if err := p.checkRune(c); err != nil {
			return err
		}
	}

	return nil
}

func (p *Parser) eatWhitespace() error {
	for {
		c, err := p.peek()
		if err != nil {
			return err
		}

		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			return nil
		}

		_, _ = p.getc()
	}
}

func (p *Parser) errFor(c rune) error {
	if c == eofRune {
		return p.errEOF()
	}

	return p.errChar(c)
}

func (p *Parser) errChar(c rune) error {
	return &UnexpectedCharError{Char: c, Line: p.line, Col: p.col}
}

func (p *Parser) errEOF() error {
	return &UnexpectedEOFError{Line: p.line, Col: p.col}
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}

func hexDigit(c rune) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	}

	return 0, false
}
