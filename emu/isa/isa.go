/*
gxemul ISA leaf-table framework.

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

// Package isa defines the contract a guest instruction set plugs into
// the dyntrans framework with: a Decoder that turns a fetched word
// into an instruction call, and the narrow CPU surface (RegisterCPU)
// that decoder and its handlers need. Concrete leaf ISAs (see
// emu/isa/minimips) import this package and emu/dyntrans only, never
// emu/cpu, so emu/cpu is free to import every leaf ISA without a
// cycle.
package isa

import "github.com/rcornwell/gxemul/emu/dyntrans"

// DelayState is the branch/delay-slot/nullify state machine every
// delay-slot ISA (MIPS, SuperH, SPARC) drives explicitly rather than
// scattering booleans across the CPU struct.
type DelayState int

const (
	NotDelayed DelayState = iota
	ToBeDelayed
	Delayed
	ExceptionInDelaySlot
)

func (s DelayState) String() string {
	switch s {
	case NotDelayed:
		return "not_delayed"
	case ToBeDelayed:
		return "to_be_delayed"
	case Delayed:
		return "delayed"
	case ExceptionInDelaySlot:
		return "exception_in_delay_slot"
	default:
		return "invalid"
	}
}

// RegisterCPU is the surface a Decoder and the Handlers it installs
// are allowed to use. It embeds dyntrans.CPUContext so a RegisterCPU
// value can be passed anywhere a CPUContext is expected.
type RegisterCPU interface {
	dyntrans.CPUContext

	// Reg reads general-purpose register i (ISA decides what i=0 means).
	Reg(i int) uint64
	// SetReg writes general-purpose register i.
	SetReg(i int, v uint64)

	// SetPC overrides the program counter, used by jumps/branches and
	// exception entry.
	SetPC(pc uint64)

	// FetchWord reads one instruction word at the given physical
	// address (decode time only fetches from physical space: the
	// physpage's PhysAddr is already translated).
	FetchWord(paddr uint32) (uint32, bool)

	// LoadWord/StoreWord/LoadByte/StoreByte perform a guest data access
	// through virtual address translation, raising a guest exception
	// (via Trap) and returning ok=false on failure.
	LoadWord(vaddr uint32) (uint32, bool)
	StoreWord(vaddr uint32, v uint32) bool
	LoadByte(vaddr uint32) (byte, bool)
	StoreByte(vaddr uint32, v byte) bool

	// TryLoadLinked performs a load and arms this CPU's link register
	// for a matching StoreConditional, MIPS ll/sc style. Per-CPU only:
	// it tracks no cross-CPU coherence, only whether this CPU's own
	// subsequent store already invalidated the reservation.
	TryLoadLinked(vaddr uint32) (uint32, bool)

	// StoreConditional stores only if the reservation armed by
	// TryLoadLinked (for the same page) is still intact, reporting
	// whether the store happened.
	StoreConditional(vaddr uint32, v uint32) bool

	// ScheduleBranch drives the delay-slot state machine: a branch
	// handler calls this instead of touching PC directly. taken
	// selects whether target or fallthrough commits once the delay
	// slot (if any) has executed. likely requests branch-likely
	// nullify-on-not-taken semantics.
	ScheduleBranch(target uint64, taken, likely, hasDelaySlot bool)

	// Trap raises a guest exception with an ISA-defined cause code.
	Trap(cause int)
}

// Decoder is what a leaf ISA supplies: turn the instruction word at pc
// into page.ICS[slot]'s handler and arguments.
type Decoder func(cpu RegisterCPU, pc uint64, page *dyntrans.Physpage, slot int)

// Family bundles everything emu/cpu needs from one guest ISA.
type Family struct {
	Name      string
	InstrSize uint32
	BigEndian bool
	Registers int
	Decode    Decoder
	Combiner  dyntrans.Combiner // optional; nil disables fusion for this ISA.
	Disasm    func(word uint32, pc uint64) string
	RegNames  []string

	// TranslateUnmapped, when non-nil, is consulted before the software
	// TLB on every TranslateAddress call: it lets an ISA with
	// always-identity-mapped segments (MIPS's kseg0/kseg1, reachable
	// before any TLB entry exists) bypass the TLB for addresses in
	// those segments without the generic dispatch core knowing
	// anything about them. ok=false means "not one of this ISA's
	// unmapped segments, fall through to the TLB."
	TranslateUnmapped func(vaddr uint32) (paddr uint32, ok bool)
}

var families = map[string]Family{}

// Register makes a leaf ISA's Family available to the CPU keyword in a
// configuration file by name. Called from a leaf ISA package's init.
func Register(f Family) {
	families[f.Name] = f
}

// Lookup finds a previously registered Family by name.
func Lookup(name string) (Family, bool) {
	f, ok := families[name]
	return f, ok
}
