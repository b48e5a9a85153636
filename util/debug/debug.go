/*
gxemul Per-subsystem debug message sink.

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

// Package debug gates free-form diagnostic output by subsystem tag
// (cpu, dyntrans, vph, tick) rather than by device number, since this
// core has no device-number address space of its own; enabled tags
// are toggled from the DEBUG config keyword (the console has no command
// for it) and always
// also go through slog at Debug level.
package debug

import (
	"fmt"
	"log/slog"
	"os"
)

var (
	logFile *os.File
	enabled = map[string]bool{}
)

// Enable turns on debug output for a subsystem tag.
func Enable(tag string) {
	enabled[tag] = true
}

// Disable turns off debug output for a subsystem tag.
func Disable(tag string) {
	delete(enabled, tag)
}

// Enabled reports whether tag currently has debug output turned on.
func Enabled(tag string) bool {
	return enabled[tag]
}

// SetFile redirects debug output to a file in addition to slog.
func SetFile(f *os.File) {
	logFile = f
}

// Debugf emits a tagged debug message if tag is enabled.
func Debugf(tag, format string, a ...interface{}) {
	if !enabled[tag] {
		return
	}
	msg := fmt.Sprintf(format, a...)
	slog.Debug(msg, "subsystem", tag)
	if logFile != nil {
		fmt.Fprintf(logFile, "%s: %s\n", tag, msg)
	}
}
