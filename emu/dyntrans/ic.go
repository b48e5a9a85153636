/*
gxemul Instruction-call framework: the ic/physpage dyntrans core.

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

// Package dyntrans implements the ISA-independent half of the dynamic
// translation runtime: the instruction call (ic), the physical page
// translation record (physpage) that holds an array of them, and the
// arena that owns every physpage for one CPU. None of this package
// knows anything about a specific guest instruction set; a leaf ISA
// package (see emu/isa) supplies the Decoder that fills in an ic the
// first time it is executed.
package dyntrans

// Arg is one argument slot of an instruction call. Rather than stash a
// raw host pointer the way the original C does (which falls over as
// soon as a generational GC wants to move something), a slot is a
// small tagged union: an ISA decoder uses whichever field its handler
// expects and leaves the others zero.
type Arg struct {
	Reg    int8   // register index, or -1 if unused.
	Imm    int64  // sign-extended immediate.
	Target *IC    // precomputed host address of a page-boundary target.
	Aux    uint32 // opaque tag, e.g. instruction length for variable-length ISAs.
}

// IC is one decoded instruction call: a handler plus its arguments.
// Once written, an IC is immutable until its containing physpage is
// recycled (by cache reset or targeted code invalidation).
type IC struct {
	F   Handler
	Arg [3]Arg

	// Op is an ISA-assigned opcode tag a Combiner's Match function can
	// compare cheaply to recognize an adjacent pair/run of
	// instructions. Go disallows comparing non-nil func values, so this
	// (rather than comparing F against a known handler) is how a
	// Combiner identifies what is sitting in a neighboring slot. Zero
	// means "no tag assigned"; leaf ISAs that never combine leave it
	// unset.
	Op uint16
}

// Handler executes one instruction call against a CPU. cpu is kept as
// the minimal CPUContext interface so this package never imports
// emu/cpu (which imports this package for Physpage/IC types) — avoids
// creating an import cycle.
type Handler func(cpu CPUContext, ic *IC)

// CPUContext is the narrow surface the framework-level handlers
// (the to_be_translated closures, EndOfPage, EndOfPage2) need from a
// CPU. Everything ISA-specific is reached through it, not hardcoded
// here.
type CPUContext interface {
	// PC returns the guest program counter the CPU is currently at.
	PC() uint64

	// CrossPageBoundary is invoked by EndOfPage/EndOfPage2 when
	// execution runs off the end of a physpage. second indicates the
	// delay-slot-straddles-a-page case (EndOfPage2): resync to the
	// *second* instruction of the next page rather than the first.
	CrossPageBoundary(second bool)

	// Nullified reports whether the "nullify next instruction" flag
	// (branch-likely semantics) is set, and clears it. A handler that
	// finds this true must retire without side effects but still
	// count as one executed instruction.
	Nullified() bool

	// SingleStepping reports whether the CPU is in a one-shot step,
	// which disables both breakpoint re-arming and combination.
	SingleStepping() bool

	// Halt stops the CPU with a diagnostic; used when a decoder left
	// an ic without a handler, which is always a decoder bug.
	Halt(reason string)

	// Retire lets a fused handler (built by a Combiner) account for
	// more than the one guest instruction the dispatch loop credits it
	// with by default: extra is added to n_translated_instrs on top of
	// the usual one. redirectSlot, if >= 0, points next_ic at a
	// different slot of the same physpage instead of the following one
	// — a fused loop body uses this to jump back to its own loop head
	// rather than falling through. Pass redirectSlot < 0 to keep the
	// normal fallthrough (the "one past the final instruction" case).
	Retire(extra int, redirectSlot int)
}

// newToBeTranslated builds the per-slot closure installed into a fresh
// physpage at allocation time. Binding page and slot at
// creation means the framework never needs to recover "which page/slot
// owns this ic" from a bare pointer — the classic source of unsafe
// pointer arithmetic in the original C.
func (c *Cache) newToBeTranslated(page *Physpage, slot int) Handler {
	return func(cpu CPUContext, ic *IC) {
		pc := uint64(page.PhysAddr) + uint64(slot)*uint64(c.InstrSize)

		c.Decoder(cpu, pc, page, slot)

		if ic.F == nil {
			cpu.Halt("decoder left instruction call without a handler")
			return
		}

		page.Flags |= FlagTranslations
		c.markPhysTranslated(page.PhysAddr)

		if c.Combiner != nil && !cpu.SingleStepping() {
			if c.Combiner(cpu, page, slot) {
				page.Flags |= FlagCombinations
				if c.combined != nil {
					c.combined.Inc()
				}
			}
		}

		if c.Breakpoint != nil && !cpu.SingleStepping() && c.Breakpoint(cpu.PC()) {
			ic.F(cpu, ic)
			ic.F = c.newToBeTranslated(page, slot)
			return
		}

		ic.F(cpu, ic)
	}
}

// EndOfPage is the permanent sentinel at the end of every physpage's ic
// array: reaching it means execution ran off the end of the page.
func EndOfPage(cpu CPUContext, _ *IC) {
	cpu.CrossPageBoundary(false)
}

// EndOfPage2 is the second sentinel, used by delay-slot ISAs when a
// branch's delay slot itself straddles the page boundary: resync must
// land on the *second* instruction of the next page.
func EndOfPage2(cpu CPUContext, _ *IC) {
	cpu.CrossPageBoundary(true)
}
