/*
gxemul Control-plane packet exchanged between the console and the core.

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

// Package master defines the Packet the console (command/reader,
// command/parser) sends across a channel to the running core,
// keeping the console goroutine and the simulation goroutine from
// touching each other's state directly.
package master

// Message identifies what a Packet asks the core to do.
const (
	Start = 1 + iota
	Stop
	Step
	Quit
	Breakpoint
	ClearBreakpoint
	Reset
	TickNotify
)

// Packet is one control-plane request. Which fields matter depends on
// Msg: Breakpoint uses CPU and Addr (it replaces that CPU's breakpoint);
// ClearBreakpoint and Step use CPU only, so ClearBreakpoint removes the
// target CPU's breakpoint whatever Addr holds; the rest ignore both.
type Packet struct {
	Msg  int
	CPU  int    // target CPU index, or -1 for "all".
	Addr uint64 // breakpoint address.
}
