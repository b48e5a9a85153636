/*
gxemul Debug tag registration for the config file.

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

// Package debugconfig wires the "DEBUG" config keyword to
// util/debug's tag set, enabling or disabling per-subsystem debug
// output from a machine description file.
package debugconfig

import (
	"strings"

	config "github.com/rcornwell/gxemul/config/configparser"
	"github.com/rcornwell/gxemul/util/debug"
)

func init() {
	config.RegisterOptions("DEBUG", setDebug)
}

// setDebug handles lines like "DEBUG cpu" or "DEBUG dyntrans, vph,
// tick": arg is the first tag, options carry any further ones.
func setDebug(arg string, options []config.Option) error {
	debug.Enable(strings.ToLower(arg))
	for _, opt := range options {
		debug.Enable(strings.ToLower(opt.Name))
	}
	return nil
}
