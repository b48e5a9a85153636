/*
gxemul Console command parser.

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

// Package parser matches abbreviated console commands by prefix
// against a minimum length per command, trimmed to what a dyntrans
// core needs: start, stop, continue, quit, show, step, break, reset.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/rcornwell/gxemul/emu/core"
	"github.com/rcornwell/gxemul/emu/master"
	"github.com/rcornwell/gxemul/util/hex"
)

type cmd struct {
	name     string
	min      int
	process  func(*cmdLine, *core.Core, chan master.Packet) (bool, error)
	complete func(*cmdLine) []string
}

type cmdLine struct {
	line string
	pos  int
}

var cmdList = []cmd{
	{name: "start", min: 3, process: start},
	{name: "stop", min: 3, process: stop},
	{name: "continue", min: 1, process: cont},
	{name: "step", min: 2, process: step},
	{name: "break", min: 2, process: setBreak},
	{name: "unbreak", min: 3, process: clearBreak},
	{name: "reset", min: 3, process: reset},
	{name: "show", min: 2, process: show},
	{name: "quit", min: 1, process: quit},
}

// ProcessCommand executes one console line against the running
// machine, reporting whether the console should exit.
func ProcessCommand(commandLine string, c *core.Core, masterCh chan master.Packet) (bool, error) {
	line := cmdLine{line: commandLine}
	name := line.getWord()

	match := matchList(name)
	if len(match) == 0 {
		return false, errors.New("command not found: " + name)
	}
	if len(match) > 1 {
		return false, errors.New("ambiguous command: " + name)
	}
	return match[0].process(&line, c, masterCh)
}

// CompleteCmd drives liner's tab completion.
func CompleteCmd(commandLine string) []string {
	line := cmdLine{line: commandLine}
	name := line.getWord()

	if !line.isEOL() && line.line[line.pos] == ' ' {
		line.skipSpace()
		match := matchList(name)
		if len(match) != 1 || match[0].complete == nil {
			return nil
		}
		return match[0].complete(&line)
	}

	match := matchList(name)
	out := make([]string, len(match))
	for i, m := range match {
		out[i] = m.name
	}
	return out
}

func matchCommand(c cmd, name string) bool {
	if len(name) > len(c.name) {
		return false
	}
	for i := range name {
		if c.name[i] != name[i] {
			return false
		}
	}
	return len(name) >= c.min
}

func matchList(name string) []cmd {
	if name == "" {
		return nil
	}
	var out []cmd
	for _, c := range cmdList {
		if matchCommand(c, name) {
			out = append(out, c)
		}
	}
	return out
}

func (l *cmdLine) skipSpace() {
	for l.pos < len(l.line) && unicode.IsSpace(rune(l.line[l.pos])) {
		l.pos++
	}
}

func (l *cmdLine) isEOL() bool {
	return l.pos >= len(l.line) || l.line[l.pos] == '#'
}

func (l *cmdLine) getNext() byte {
	l.pos++
	if l.isEOL() {
		return 0
	}
	return l.line[l.pos]
}

// getWord reads the next whitespace-delimited token, lower-cased.
func (l *cmdLine) getWord() string {
	l.skipSpace()
	if l.isEOL() {
		return ""
	}
	value := ""
	by := l.line[l.pos]
	for {
		value += string(by)
		by = l.getNext()
		if l.isEOL() || unicode.IsSpace(rune(by)) {
			break
		}
	}
	return strings.ToLower(value)
}

func parseCPUIndex(tok string) int {
	if tok == "" || tok == "all" {
		return -1
	}
	n, err := strconv.Atoi(tok)
	if err != nil {
		return -1
	}
	return n
}

func parseAddr(tok string) (uint64, error) {
	tok = strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "0X")
	return strconv.ParseUint(tok, 16, 64)
}

func start(l *cmdLine, c *core.Core, ch chan master.Packet) (bool, error) {
	_ = l
	_ = c
	ch <- master.Packet{Msg: master.Start, CPU: -1}
	return false, nil
}

func stop(l *cmdLine, c *core.Core, ch chan master.Packet) (bool, error) {
	_ = l
	_ = c
	ch <- master.Packet{Msg: master.Stop, CPU: -1}
	return false, nil
}

func cont(l *cmdLine, c *core.Core, ch chan master.Packet) (bool, error) {
	return start(l, c, ch)
}

func step(l *cmdLine, _ *core.Core, ch chan master.Packet) (bool, error) {
	target := parseCPUIndex(l.getWord())
	ch <- master.Packet{Msg: master.Step, CPU: target}
	return false, nil
}

func setBreak(l *cmdLine, _ *core.Core, ch chan master.Packet) (bool, error) {
	tok := l.getWord()
	addr, err := parseAddr(tok)
	if err != nil {
		return false, fmt.Errorf("invalid breakpoint address %q: %w", tok, err)
	}
	ch <- master.Packet{Msg: master.Breakpoint, CPU: -1, Addr: addr}
	return false, nil
}

func clearBreak(l *cmdLine, _ *core.Core, ch chan master.Packet) (bool, error) {
	tok := l.getWord()
	addr, err := parseAddr(tok)
	if err != nil {
		return false, fmt.Errorf("invalid breakpoint address %q: %w", tok, err)
	}
	ch <- master.Packet{Msg: master.ClearBreakpoint, CPU: -1, Addr: addr}
	return false, nil
}

func reset(l *cmdLine, _ *core.Core, ch chan master.Packet) (bool, error) {
	_ = l
	ch <- master.Packet{Msg: master.Reset, CPU: -1}
	return false, nil
}

// show prints one line per selected CPU: its PC and register file as
// 16-digit hex values from util/hex.FormatAddr64 (register names from
// the ISA family, when it supplies them) followed by run state.
func show(l *cmdLine, c *core.Core, _ chan master.Packet) (bool, error) {
	target := parseCPUIndex(l.getWord())
	if c == nil {
		return false, errors.New("no machine loaded")
	}
	for i := 0; i < c.NumCPU(); i++ {
		if target >= 0 && i != target {
			continue
		}
		cp := c.CPU(i)
		if cp == nil {
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "cpu %d: pc=", i)
		hex.FormatAddr64(&b, cp.PC())

		family := cp.Family()
		for r := 0; r < family.Registers; r++ {
			name := fmt.Sprintf("r%d", r)
			if r < len(family.RegNames) {
				name = family.RegNames[r]
			}
			fmt.Fprintf(&b, " %s=", name)
			hex.FormatAddr64(&b, cp.Reg(r))
		}

		fmt.Fprintf(&b, " running=%v instrs=%d halt=%q\n", cp.Running(), cp.InstrCount(), cp.HaltReason())
		fmt.Print(b.String())
	}
	return false, nil
}

func quit(l *cmdLine, _ *core.Core, ch chan master.Packet) (bool, error) {
	_ = l
	ch <- master.Packet{Msg: master.Quit}
	return true, nil
}
