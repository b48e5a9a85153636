/*
gxemul CPU/MEMORY machine-description keywords.

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
package configparser

import "fmt"

// Machine is the accumulated result of parsing CPU/MEMORY/BREAK
// lines, read by main after LoadConfigFile returns. Unlike the
// per-device models a real peripheral package registers from its own
// init(), CPU count/family and memory size describe the machine
// itself, so they are built into this package rather than pushed
// through the same plugin seam.
var Machine = MachineConfig{
	CPUFamily: "minimips",
	CPUCount:  1,
	MemSize:   16 << 20,
}

// MachineConfig is the parsed machine description.
type MachineConfig struct {
	CPUFamily  string
	CPUCount   int
	MemSize    uint64
	ArenaBytes int
	ChunkSize  int
	Breakpoint []uint64
	Start      uint64
}

func init() {
	RegisterOptions("CPU", setCPU)
	RegisterOption("MEMORY", setMemory)
	RegisterOptions("BREAK", setBreak)
	RegisterOption("START", setStart)
}

func setCPU(arg string, options []Option) error {
	Machine.CPUFamily = arg
	Machine.CPUCount = 1
	if opt, ok := FindOption(options, "count"); ok {
		n, err := ParseSize(opt.EqualOpt)
		if err != nil {
			return fmt.Errorf("CPU count: %w", err)
		}
		Machine.CPUCount = int(n)
	}
	if opt, ok := FindOption(options, "arena"); ok {
		n, err := ParseSize(opt.EqualOpt)
		if err != nil {
			return fmt.Errorf("CPU arena: %w", err)
		}
		Machine.ArenaBytes = int(n)
	}
	if opt, ok := FindOption(options, "chunk"); ok {
		n, err := ParseSize(opt.EqualOpt)
		if err != nil {
			return fmt.Errorf("CPU chunk: %w", err)
		}
		Machine.ChunkSize = int(n)
	}
	return nil
}

func setMemory(arg string, _ []Option) error {
	n, err := ParseSize(arg)
	if err != nil {
		return fmt.Errorf("MEMORY: %w", err)
	}
	Machine.MemSize = n
	return nil
}

func setBreak(arg string, _ []Option) error {
	addr, err := parseHexOrSize(arg)
	if err != nil {
		return fmt.Errorf("BREAK: %w", err)
	}
	Machine.Breakpoint = append(Machine.Breakpoint, addr)
	return nil
}

func setStart(arg string, _ []Option) error {
	addr, err := parseHexOrSize(arg)
	if err != nil {
		return fmt.Errorf("START: %w", err)
	}
	Machine.Start = addr
	return nil
}

func parseHexOrSize(s string) (uint64, error) {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		var v uint64
		_, err := fmt.Sscanf(s[2:], "%x", &v)
		return v, err
	}
	return ParseSize(s)
}
