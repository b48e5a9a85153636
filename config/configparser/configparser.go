/*
gxemul Machine-description configuration file parser.

	Copyright (c) 2024, Richard Cornwell

	Permission is hereby granted, free of charge, to any person obtaining a
	copy of this software and associated documentation files (the "Software"),
	to deal in the Software without restriction, including without limitation
	the rights to use, copy, modify, merge, publish, distribute, sublicense,
	and/or sell copies of the Software, and to permit persons to whom the
	Software is furnished to do so, subject to the following conditions:

	The above copyright notice and this permission notice shall be included in
	all copies or substantial portions of the Software.

	THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
	IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
	FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
	RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
	IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
	CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*/

// Package configparser reads a machine-description file: one
// keyword per line (CPU, MEMORY, DEBUG, BREAK, START), a required
// first argument, then a comma-separated option list. Subsystems
// register the keywords they own from an init function.
package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// Option is one name[=value] option parsed off a line.
type Option struct {
	Name     string
	EqualOpt string
}

// Keyword types, controlling how parseLine dispatches a matched line.
const (
	TypeOption  = 1 + iota // keyword takes exactly one bare argument.
	TypeOptions            // keyword takes an argument plus an option list.
	TypeSwitch             // keyword takes no argument at all.
)

type keywordDef struct {
	create func(arg string, options []Option) error
	ty     int
}

var keywords = map[string]keywordDef{}

var lineNumber int

// RegisterOption registers a keyword that takes one bare argument,
// e.g. "MEMORY 64M".
func RegisterOption(name string, fn func(arg string, options []Option) error) {
	keywords[strings.ToUpper(name)] = keywordDef{create: fn, ty: TypeOption}
}

// RegisterOptions registers a keyword that takes an argument plus a
// comma-separated option list, e.g. "CPU minimips count=4".
func RegisterOptions(name string, fn func(arg string, options []Option) error) {
	keywords[strings.ToUpper(name)] = keywordDef{create: fn, ty: TypeOptions}
}

// RegisterSwitch registers a bare keyword with no arguments at all,
// e.g. "TRACE".
func RegisterSwitch(name string, fn func() error) {
	keywords[strings.ToUpper(name)] = keywordDef{
		create: func(string, []Option) error { return fn() },
		ty:     TypeSwitch,
	}
}

// LoadConfigFile reads and applies every line of a machine
// description.
func LoadConfigFile(name string) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()

	lineNumber = 0
	reader := bufio.NewReader(file)
	for {
		line := configLine{}
		var readErr error
		line.line, readErr = reader.ReadString('\n')
		lineNumber++
		if len(line.line) == 0 && readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return readErr
		}
		if err := line.parse(); err != nil {
			return err
		}
	}
	return nil
}

type configLine struct {
	line string
	pos  int
}

func (l *configLine) parse() error {
	keyword := l.getName()
	if keyword == "" {
		return nil
	}
	def, ok := keywords[strings.ToUpper(keyword)]
	if !ok {
		return fmt.Errorf("unknown config keyword %q, line %d", keyword, lineNumber)
	}

	switch def.ty {
	case TypeSwitch:
		l.skipSpace()
		if !l.isEOL() {
			return fmt.Errorf("keyword %s takes no arguments, line %d", keyword, lineNumber)
		}
		return def.create("", nil)

	case TypeOption:
		arg := l.getArg()
		if arg == "" {
			return fmt.Errorf("keyword %s requires an argument, line %d", keyword, lineNumber)
		}
		return def.create(arg, nil)

	case TypeOptions:
		arg := l.getArg()
		if arg == "" {
			return fmt.Errorf("keyword %s requires an argument, line %d", keyword, lineNumber)
		}
		options, err := l.parseOptions()
		if err != nil {
			return err
		}
		return def.create(arg, options)
	}
	return nil
}

func (l *configLine) skipSpace() {
	for l.pos < len(l.line) && unicode.IsSpace(rune(l.line[l.pos])) {
		l.pos++
	}
}

func (l *configLine) isEOL() bool {
	return l.pos >= len(l.line) || l.line[l.pos] == '#'
}

func (l *configLine) getNext() byte {
	l.pos++
	if l.isEOL() {
		return 0
	}
	return l.line[l.pos]
}

// getName reads a leading identifier (letters/digits), used for the
// line's keyword.
func (l *configLine) getName() string {
	l.skipSpace()
	if l.isEOL() {
		return ""
	}
	start := l.pos
	for l.pos < len(l.line) {
		by := rune(l.line[l.pos])
		if !unicode.IsLetter(by) && !unicode.IsDigit(by) {
			break
		}
		l.pos++
	}
	return l.line[start:l.pos]
}

// getArg reads the first bare argument following the keyword:
// letters, digits, '.', '_' and '-' so it can hold things like
// "64M" or "riscv-64".
func (l *configLine) getArg() string {
	l.skipSpace()
	if l.isEOL() {
		return ""
	}
	start := l.pos
	for l.pos < len(l.line) {
		by := rune(l.line[l.pos])
		if !unicode.IsLetter(by) && !unicode.IsDigit(by) && by != '.' && by != '_' && by != '-' {
			break
		}
		l.pos++
	}
	return l.line[start:l.pos]
}

// parseQuoteString parses either a bare token or a "quoted string",
// doubled quotes ("") standing for a literal quote inside one.
func (l *configLine) parseQuoteString() (string, bool) {
	inQuote := false
	value := ""

	if l.pos+1 < len(l.line) && l.line[l.pos+1] == '"' {
		inQuote = true
		_ = l.getNext()
	}

	for {
		by := l.getNext()
		if by == '"' && inQuote {
			by = l.getNext()
			if by != '"' {
				return value, true
			}
		}
		if !inQuote && (by == 0 || unicode.IsSpace(rune(by)) || by == ',') {
			return value, true
		}
		value += string(by)
		if l.isEOL() {
			return value, !inQuote
		}
	}
}

// parseOption reads one name[=value] token. The comma or space that
// follows belongs to parseOptions, not to this option: a value never
// spans past it.
func (l *configLine) parseOption() (*Option, error) {
	l.skipSpace()
	name := l.getName()
	if name == "" {
		return nil, nil
	}
	opt := Option{Name: name}

	if l.isEOL() {
		return &opt, nil
	}

	if l.line[l.pos] == '=' {
		v, ok := l.parseQuoteString()
		if !ok {
			return nil, fmt.Errorf("invalid quoted string, line %d", lineNumber)
		}
		opt.EqualOpt = v
	}
	return &opt, nil
}

// parseOptions reads a comma- or space-separated list of name[=value]
// options to the end of the line, e.g. "count=4, arena=1M, chunk=16".
func (l *configLine) parseOptions() ([]Option, error) {
	var options []Option
	for {
		l.skipSpace()
		if !l.isEOL() && l.line[l.pos] == ',' {
			l.pos++
			continue
		}
		if l.isEOL() {
			break
		}
		opt, err := l.parseOption()
		if err != nil {
			return nil, err
		}
		if opt == nil {
			break
		}
		options = append(options, *opt)
	}
	return options, nil
}

// FindOption returns the first option named name, case-insensitively.
func FindOption(options []Option, name string) (Option, bool) {
	for _, o := range options {
		if strings.EqualFold(o.Name, name) {
			return o, true
		}
	}
	return Option{}, false
}

// ParseSize parses a byte count with an optional K/M/G suffix, the
// the way a machine description's "64M"-style memory sizes do.
func ParseSize(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty size")
	}
	mult := uint64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1 << 10
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1 << 30
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n * mult, nil
}
