/*
gxemul A minimal MIPS-like demonstration ISA for the dyntrans framework.

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

// Package minimips is a small fixed-length, big-register MIPS-I-like
// ISA: enough of lui/ori/addiu/andi/lw/sw/beq/bne/j/jal/jr/addu/subu
// and a syscall trap to exercise every dyntrans mechanism the design
// calls out — delay slots, TLB-miss exceptions, and PC-relative
// branches. Branch targets are computed from the current PC each time
// the branch executes; they are not cached as ic pointers.
package minimips

import (
	"fmt"

	"github.com/rcornwell/gxemul/emu/dyntrans"
	"github.com/rcornwell/gxemul/emu/isa"
)

// Trap causes, passed to RegisterCPU.Trap.
const (
	TrapSyscall = iota
	TrapReserved
	TrapTLBLoad
	TrapTLBStore
	TrapAddressError
)

// Opcode tags used only by the combiner to recognize adjacent
// instructions (see ic.Op's doc comment): assigning these at decode
// time is cheaper than re-deriving the opcode from the raw word.
const (
	opLui = 1 + iota
	opOri
	opSw
	opAddiu
	opBne
)

// maxFusedIterations bounds how many guest loop iterations
// combineStoreLoop's fused handler runs natively in a single dispatch
// call: a guest loop longer than this re-enters dispatch at its own
// loop head instead of running to completion in one call, the same
// "bounded unrolling" trade the framework's tick servicing depends on
// (serviceTicks only runs between dispatch calls, so a single call must
// not be allowed to represent an unbounded number of instructions).
const maxFusedIterations = 64

func rc(cpu dyntrans.CPUContext) isa.RegisterCPU { return cpu.(isa.RegisterCPU) }

func fields(word uint32) (op, rs, rt, rd, shamt, funct int, imm16 int64, uimm16, target uint32) {
	op = int(word >> 26)
	rs = int((word >> 21) & 0x1F)
	rt = int((word >> 16) & 0x1F)
	rd = int((word >> 11) & 0x1F)
	shamt = int((word >> 6) & 0x1F)
	funct = int(word & 0x3F)
	imm16 = int64(int16(word & 0xFFFF))
	uimm16 = word & 0xFFFF
	target = word & 0x03FFFFFF
	return
}

// Decode is the minimips Decoder: fetch, extract fields, and install
// a handler + args into page.ICS[slot].
func Decode(cpu isa.RegisterCPU, pc uint64, page *dyntrans.Physpage, slot int) {
	ic := &page.ICS[slot]
	word, ok := cpu.FetchWord(page.PhysAddr + uint32(slot)*4)
	if !ok {
		ic.F = func(c dyntrans.CPUContext, _ *dyntrans.IC) { rc(c).Trap(TrapAddressError) }
		return
	}

	op, rs, rt, rd, _, funct, imm16, uimm16, target := fields(word)

	switch {
	case word == 0:
		ic.F = nop
		return
	case op == 0x00: // SPECIAL
		switch funct {
		case 0x21: // addu
			ic.F = addu
			ic.Arg[0] = dyntrans.Arg{Reg: int8(rd)}
			ic.Arg[1] = dyntrans.Arg{Reg: int8(rs)}
			ic.Arg[2] = dyntrans.Arg{Reg: int8(rt)}
			return
		case 0x23: // subu
			ic.F = subu
			ic.Arg[0] = dyntrans.Arg{Reg: int8(rd)}
			ic.Arg[1] = dyntrans.Arg{Reg: int8(rs)}
			ic.Arg[2] = dyntrans.Arg{Reg: int8(rt)}
			return
		case 0x08: // jr
			ic.F = jr
			ic.Arg[0] = dyntrans.Arg{Reg: int8(rs)}
			return
		case 0x0C: // syscall
			ic.F = syscall
			return
		}
	case op == 0x0F: // lui
		ic.F = lui
		ic.Op = opLui
		ic.Arg[0] = dyntrans.Arg{Reg: int8(rt)}
		ic.Arg[1] = dyntrans.Arg{Imm: int64(uimm16)}
		return
	case op == 0x0D: // ori
		ic.F = ori
		ic.Op = opOri
		ic.Arg[0] = dyntrans.Arg{Reg: int8(rt)}
		ic.Arg[1] = dyntrans.Arg{Reg: int8(rs)}
		ic.Arg[2] = dyntrans.Arg{Imm: int64(uimm16)}
		return
	case op == 0x0C: // andi
		ic.F = andi
		ic.Arg[0] = dyntrans.Arg{Reg: int8(rt)}
		ic.Arg[1] = dyntrans.Arg{Reg: int8(rs)}
		ic.Arg[2] = dyntrans.Arg{Imm: int64(uimm16)}
		return
	case op == 0x09: // addiu
		ic.F = addiu
		ic.Op = opAddiu
		ic.Arg[0] = dyntrans.Arg{Reg: int8(rt)}
		ic.Arg[1] = dyntrans.Arg{Reg: int8(rs)}
		ic.Arg[2] = dyntrans.Arg{Imm: imm16}
		return
	case op == 0x2B: // sw
		ic.F = sw
		ic.Op = opSw
		ic.Arg[0] = dyntrans.Arg{Reg: int8(rt)}
		ic.Arg[1] = dyntrans.Arg{Reg: int8(rs)}
		ic.Arg[2] = dyntrans.Arg{Imm: imm16}
		return
	case op == 0x23: // lw
		ic.F = lw
		ic.Arg[0] = dyntrans.Arg{Reg: int8(rt)}
		ic.Arg[1] = dyntrans.Arg{Reg: int8(rs)}
		ic.Arg[2] = dyntrans.Arg{Imm: imm16}
		return
	case op == 0x30: // ll
		ic.F = ll
		ic.Arg[0] = dyntrans.Arg{Reg: int8(rt)}
		ic.Arg[1] = dyntrans.Arg{Reg: int8(rs)}
		ic.Arg[2] = dyntrans.Arg{Imm: imm16}
		return
	case op == 0x38: // sc
		ic.F = sc
		ic.Arg[0] = dyntrans.Arg{Reg: int8(rt)}
		ic.Arg[1] = dyntrans.Arg{Reg: int8(rs)}
		ic.Arg[2] = dyntrans.Arg{Imm: imm16}
		return
	case op == 0x04: // beq
		ic.F = beq
		ic.Arg[0] = dyntrans.Arg{Reg: int8(rs)}
		ic.Arg[1] = dyntrans.Arg{Reg: int8(rt)}
		ic.Arg[2] = dyntrans.Arg{Imm: imm16 << 2}
		return
	case op == 0x05: // bne
		ic.F = bne
		ic.Op = opBne
		ic.Arg[0] = dyntrans.Arg{Reg: int8(rs)}
		ic.Arg[1] = dyntrans.Arg{Reg: int8(rt)}
		ic.Arg[2] = dyntrans.Arg{Imm: imm16 << 2}
		return
	case op == 0x14: // beql
		ic.F = beql
		ic.Arg[0] = dyntrans.Arg{Reg: int8(rs)}
		ic.Arg[1] = dyntrans.Arg{Reg: int8(rt)}
		ic.Arg[2] = dyntrans.Arg{Imm: imm16 << 2}
		return
	case op == 0x15: // bnel
		ic.F = bnel
		ic.Arg[0] = dyntrans.Arg{Reg: int8(rs)}
		ic.Arg[1] = dyntrans.Arg{Reg: int8(rt)}
		ic.Arg[2] = dyntrans.Arg{Imm: imm16 << 2}
		return
	case op == 0x02: // j
		ic.F = j
		ic.Arg[0] = dyntrans.Arg{Imm: int64(target) << 2}
		return
	case op == 0x03: // jal
		ic.F = jal
		ic.Arg[0] = dyntrans.Arg{Imm: int64(target) << 2}
		return
	}

	reason := fmt.Sprintf("minimips: unimplemented instruction %#08x at pc %#x", word, pc)
	ic.F = func(c dyntrans.CPUContext, _ *dyntrans.IC) { c.Halt(reason) }
}

func nop(cpu dyntrans.CPUContext, _ *dyntrans.IC) {}

func lui(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	c.SetReg(int(ic.Arg[0].Reg), uint64(uint32(ic.Arg[1].Imm)<<16))
}

func ori(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	c.SetReg(int(ic.Arg[0].Reg), c.Reg(int(ic.Arg[1].Reg))|uint64(ic.Arg[2].Imm))
}

func andi(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	c.SetReg(int(ic.Arg[0].Reg), c.Reg(int(ic.Arg[1].Reg))&uint64(ic.Arg[2].Imm))
}

func addiu(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	v := int64(c.Reg(int(ic.Arg[1].Reg))) + ic.Arg[2].Imm
	c.SetReg(int(ic.Arg[0].Reg), uint64(v))
}

func addu(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	c.SetReg(int(ic.Arg[0].Reg), c.Reg(int(ic.Arg[1].Reg))+c.Reg(int(ic.Arg[2].Reg)))
}

func subu(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	c.SetReg(int(ic.Arg[0].Reg), c.Reg(int(ic.Arg[1].Reg))-c.Reg(int(ic.Arg[2].Reg)))
}

func sw(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	addr := uint32(int64(c.Reg(int(ic.Arg[1].Reg))) + ic.Arg[2].Imm)
	c.StoreWord(addr, uint32(c.Reg(int(ic.Arg[0].Reg))))
}

func lw(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	addr := uint32(int64(c.Reg(int(ic.Arg[1].Reg))) + ic.Arg[2].Imm)
	if v, ok := c.LoadWord(addr); ok {
		c.SetReg(int(ic.Arg[0].Reg), uint64(v))
	}
}

// ll arms this CPU's load-linked reservation on top of an ordinary load,
// per isa.RegisterCPU.TryLoadLinked.
func ll(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	addr := uint32(int64(c.Reg(int(ic.Arg[1].Reg))) + ic.Arg[2].Imm)
	if v, ok := c.TryLoadLinked(addr); ok {
		c.SetReg(int(ic.Arg[0].Reg), uint64(v))
	}
}

// sc stores only if the reservation ll armed is still live, and reports
// success back into its own rt register (1 on success, 0 on failure),
// standard MIPS sc semantics.
func sc(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	addr := uint32(int64(c.Reg(int(ic.Arg[1].Reg))) + ic.Arg[2].Imm)
	ok := c.StoreConditional(addr, uint32(c.Reg(int(ic.Arg[0].Reg))))
	if ok {
		c.SetReg(int(ic.Arg[0].Reg), 1)
	} else {
		c.SetReg(int(ic.Arg[0].Reg), 0)
	}
}

func jr(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	c.ScheduleBranch(c.Reg(int(ic.Arg[0].Reg)), true, false, true)
}

func j(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	target := (c.PC() &^ 0x0FFFFFFF) | uint64(ic.Arg[0].Imm)
	c.ScheduleBranch(target, true, false, true)
}

func jal(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	c.SetReg(31, c.PC()+8)
	target := (c.PC() &^ 0x0FFFFFFF) | uint64(ic.Arg[0].Imm)
	c.ScheduleBranch(target, true, false, true)
}

func beq(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	taken := c.Reg(int(ic.Arg[0].Reg)) == c.Reg(int(ic.Arg[1].Reg))
	target := uint64(int64(c.PC()) + 4 + ic.Arg[2].Imm)
	c.ScheduleBranch(target, taken, false, true)
}

func bne(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	taken := c.Reg(int(ic.Arg[0].Reg)) != c.Reg(int(ic.Arg[1].Reg))
	target := uint64(int64(c.PC()) + 4 + ic.Arg[2].Imm)
	c.ScheduleBranch(target, taken, false, true)
}

// beql/bnel are the branch-likely forms: not-taken nullifies the
// instruction in the delay slot instead of letting it execute, which is
// why they pass likely=true to ScheduleBranch (dispatch.go's
// CPUContext.Nullified() is what actually squashes that slot).
func beql(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	taken := c.Reg(int(ic.Arg[0].Reg)) == c.Reg(int(ic.Arg[1].Reg))
	target := uint64(int64(c.PC()) + 4 + ic.Arg[2].Imm)
	c.ScheduleBranch(target, taken, true, true)
}

func bnel(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	taken := c.Reg(int(ic.Arg[0].Reg)) != c.Reg(int(ic.Arg[1].Reg))
	target := uint64(int64(c.PC()) + 4 + ic.Arg[2].Imm)
	c.ScheduleBranch(target, taken, true, true)
}

func syscall(cpu dyntrans.CPUContext, _ *dyntrans.IC) {
	rc(cpu).Trap(TrapSyscall)
}

// liFused replaces a decoded ori that directly follows a lui into the
// same register: rather than read back the value lui just wrote, it
// recomputes the full 32-bit constant from both instructions' own
// immediates. The lui slot is rewritten to nop by combineLuiOri, so
// this breaks the write-then-read-back dependency the two
// instructions otherwise have on each other, same motivation as
// gxemul's per-ISA memset/loop recognizers even though here it still
// costs one dispatch per original instruction (the nop in the lui slot
// is still dispatched).
func liFused(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	full := uint64(uint32(ic.Arg[1].Imm)<<16) | uint64(uint32(ic.Arg[2].Imm))
	c.SetReg(int(ic.Arg[0].Reg), full)
}

// combineLuiOri recognizes "lui rt, imm; ori rt, rt, imm2" and fuses
// it into a single li-style constant load.
func combineLuiOri(page *dyntrans.Physpage, slot int) bool {
	prev := &page.ICS[slot-1]
	cur := &page.ICS[slot]
	if prev.Op != opLui || cur.Op != opOri {
		return false
	}
	// ori's rt and rs must both be lui's rt (rt = rt | imm).
	if cur.Arg[0].Reg != prev.Arg[0].Reg || cur.Arg[1].Reg != prev.Arg[0].Reg {
		return false
	}
	// liFused no longer needs rs (rt's own prior value): repurpose that
	// slot to carry lui's immediate instead, so the full constant can be
	// rebuilt from cur's own Arg without touching prev at all.
	cur.Arg[1] = prev.Arg[1]
	prev.F = nop
	return true
}

// storeLoopFused replaces bne's own handler for the tail of a
// recognized "store rt, 0(rs); addiu rs, rs, step; bne rs, rLimit, loop"
// idiom (gxemul's per-ISA memset/copy-loop recognizers, e.g.
// cpu_arm_instr.c's stm/subs/bgt combiner, do the equivalent for their
// own ISAs). combineStoreLoop stashes rt, step, and the loop head's own
// slot index into this bne ic's own Arg[2] (Reg/Imm/Aux are independent
// fields of the same slot, so all three coexist without needing a
// per-match closure) — this handler is one static function shared by
// every match, reading everything it needs back out of ic.Arg.
//
// Each call folds every remaining pass of the loop it can account for
// in one dispatch step, native Go stores instead of one dispatch
// iteration per guest instruction, capped at maxFusedIterations so a
// single call never represents an unbounded number of instructions
// (tick devices only get serviced between dispatch calls).
func storeLoopFused(cpu dyntrans.CPUContext, ic *dyntrans.IC) {
	c := rc(cpu)
	rs := ic.Arg[0].Reg
	rLimit := ic.Arg[1].Reg
	rt := ic.Arg[2].Reg
	step := ic.Arg[2].Imm
	loopHead := int(ic.Arg[2].Aux)

	loopHeadPC := c.PC() - 8 // sw sits two instructions before this bne.

	cur := int64(c.Reg(int(rs)))
	limit := int64(c.Reg(int(rLimit)))

	if cur == limit {
		// Already at the limit: this pass's branch is not taken, same
		// as the unfused instructions would decide.
		c.ScheduleBranch(loopHeadPC, false, false, true)
		return
	}

	diff := limit - cur
	if diff%step != 0 || (step > 0) != (diff > 0) {
		// Doesn't land cleanly on the limit (wrong direction, or an
		// odd remainder): defer to exactly what the unfused bne would
		// decide for this one pass, no folding.
		c.ScheduleBranch(loopHeadPC, true, false, true)
		return
	}

	remaining := diff / step
	if remaining < 0 {
		remaining = -remaining
	}
	val := uint32(c.Reg(int(rt)))
	addr := cur

	// This call stands in for the current pass's own bne (the usual
	// default-1 dispatch credits it with) plus its own delay-slot nop,
	// which is never taken for real once we're folding further passes
	// — so every fully-folded pass (sw+addiu+bne+nop) is worth 4, and
	// the current pass contributes one of those 4 (its nop) on top of
	// the default-1 already covering its bne.
	if remaining > maxFusedIterations {
		capped := maxFusedIterations
		for i := int64(0); i < capped; i++ {
			c.StoreWord(uint32(addr), val)
			addr += step
		}
		c.SetReg(int(rs), uint64(uint32(addr)))
		// More passes remain beyond what this call folded: redirect
		// next_ic back to the loop head instead of falling through, so
		// dispatch naturally continues the loop from the new rs.
		c.Retire(int(capped)*4+1, loopHead)
		return
	}

	for i := int64(0); i < remaining; i++ {
		c.StoreWord(uint32(addr), val)
		addr += step
	}
	c.SetReg(int(rs), uint64(uint32(addr)))
	// remaining passes complete the loop; the very last one's bne is
	// not taken, so let the real delay slot run and fall through past
	// the loop exactly as the unfused instructions would.
	c.Retire(int(remaining)*4, -1)
	c.ScheduleBranch(loopHeadPC, false, false, true)
}

// combineStoreLoop recognizes "sw rt, 0(rs); addiu rs, rs, step; bne
// rs, rLimit, loop" ending at slot (the bne) and rewires it to
// storeLoopFused.
func combineStoreLoop(page *dyntrans.Physpage, slot int) bool {
	bneIC := &page.ICS[slot]
	addIC := &page.ICS[slot-1]
	swIC := &page.ICS[slot-2]

	if swIC.Op != opSw || addIC.Op != opAddiu || bneIC.Op != opBne {
		return false
	}
	if swIC.Arg[2].Imm != 0 {
		return false // only the plain "sw rt, 0(rs)" form is recognized.
	}
	rs := swIC.Arg[1].Reg
	rt := swIC.Arg[0].Reg
	if addIC.Arg[0].Reg != rs || addIC.Arg[1].Reg != rs {
		return false
	}
	step := addIC.Arg[2].Imm
	if step == 0 {
		return false
	}
	if bneIC.Arg[0].Reg != rs {
		return false
	}
	rLimit := bneIC.Arg[1].Reg
	if rLimit == rs || rLimit == rt {
		return false
	}
	if bneIC.Arg[2].Imm != -12 {
		return false // must branch back exactly to the sw instruction.
	}

	bneIC.Arg[2] = dyntrans.Arg{Reg: rt, Imm: step, Aux: uint32(slot - 2)}
	return true
}

var combineRules = []dyntrans.Rule{
	{Window: 2, Match: combineLuiOri, Handler: liFused},
	{Window: 3, Match: combineStoreLoop, Handler: storeLoopFused},
}

// kseg0Base/kseg0Size are the MIPS-style unmapped, cached direct
// segment: addresses here bypass the TLB entirely (paddr = vaddr -
// kseg0Base), exactly like the real architecture's exception vectors
// and early boot code that runs before any TLB entry exists.
const (
	kseg0Base = 0x80000000
	kseg0Size = 0x20000000
)

// translateUnmapped is minimips's isa.Family.TranslateUnmapped hook: it
// is the only place kseg0 is known about at all, kept out of emu/cpu
// entirely so the generic dispatch core has no MIPS-specific segments
// baked into it.
func translateUnmapped(vaddr uint32) (uint32, bool) {
	if vaddr >= kseg0Base && vaddr < kseg0Base+kseg0Size {
		return vaddr - kseg0Base, true
	}
	return 0, false
}

// Family is the minimips leaf ISA descriptor emu/cpu plugs in.
var Family = isa.Family{
	Name:              "minimips",
	InstrSize:         4,
	BigEndian:         true,
	Registers:         32,
	Decode:            Decode,
	Combiner:          dyntrans.RuleCombiner(combineRules),
	TranslateUnmapped: translateUnmapped,
	RegNames: []string{
		"zero", "at", "v0", "v1", "a0", "a1", "a2", "a3",
		"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
		"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
		"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra",
	},
}

func init() {
	isa.Register(Family)
}
