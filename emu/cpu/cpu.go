/*
gxemul Per-CPU dyntrans dispatch loop and register file.

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

// Package cpu ties the ISA-independent dyntrans cache (emu/dyntrans),
// the VPH tables (emu/vph) and a leaf ISA (emu/isa) together into one
// runnable CPU: it implements dyntrans.CPUContext, isa.RegisterCPU and
// memory.Translator, and owns the dispatch loop.
package cpu

import (
	"fmt"
	"log/slog"

	"github.com/rcornwell/gxemul/emu/dyntrans"
	"github.com/rcornwell/gxemul/emu/isa"
	"github.com/rcornwell/gxemul/emu/memory"
	"github.com/rcornwell/gxemul/emu/vph"
)

// CPU is one guest processor: register file, delay-slot/nullify state,
// TLB, tick scheduler, and the dyntrans plumbing (cache + VPH) that
// caches decoded code across calls to RunChunk.
type CPU struct {
	ID int

	family isa.Family
	mem    *memory.Memory
	vphTab vph.Table
	cache  *dyntrans.Cache

	regs []uint64
	pc   uint64

	curPage *dyntrans.Physpage
	curVPage uint64 // virtual page number*PageSize backing curPage: physpages are keyed by physical address, which is ambiguous across aliased mappings, so the virtual page has to be tracked separately to reconstruct PC.
	icIndex int32

	delay         isa.DelayState
	branchTarget  uint64
	branchTaken   bool
	nullify       bool
	singleStep    bool
	running       bool
	haltReason    string

	// pcRedirected and trapped are scratch flags RunChunk consults
	// once per instruction: pcRedirected means resyncPC already
	// repositioned curPage/icIndex during this instruction (a trap or
	// an immediate branch), so the loop's normal icIndex++ must not
	// run; trapped additionally means the instruction faulted and
	// should not count as retired.
	pcRedirected bool
	trapped      bool

	// retireExtra accumulates the extra instruction count a fused
	// handler reports through Retire during the call RunChunk is
	// currently dispatching; RunChunk folds it into instrCount/executed
	// after the handler returns and resets it to zero.
	retireExtra int

	tlb *softTLB

	// llValid/llAddr back TryLoadLinked/StoreConditional: llValid means
	// this CPU holds a live reservation on llAddr's page, set by
	// TryLoadLinked and cleared by any store (by this CPU) landing on
	// that page, including but not limited to the matching
	// StoreConditional. Per-CPU only; no cross-CPU coherence.
	llValid bool
	llAddr  uint32

	instrCount uint64

	ticksTillNext   []int64
	ticksResetValue []int64
	tickDevices     []TickDevice

	metrics *dyntrans.Metrics
	log     *slog.Logger
}

// TickDevice is serviced once its countdown reaches zero; Tick returns
// the countdown value to reload.
type TickDevice interface {
	Tick(cpu *CPU) int64
}

// New creates a CPU for the given ISA family, sharing mem and a fresh
// VPH table of the requested shape. metrics may be nil, in which case
// the translation cache simply does not report counters.
func New(id int, family isa.Family, mem *memory.Memory, vphTab vph.Table, arenaBytes int, metrics *dyntrans.Metrics, log *slog.Logger) *CPU {
	c := &CPU{
		ID:     id,
		family: family,
		mem:    mem,
		vphTab: vphTab,
		regs:    make([]uint64, family.Registers),
		tlb:     newSoftTLB(16),
		metrics: metrics,
		log:     log,
	}
	c.cache = dyntrans.NewCache(family.InstrSize, arenaBytes, c.decodeAdapter(), metrics)
	if family.Combiner != nil {
		c.cache.Combiner = family.Combiner
	}
	return c
}

func (c *CPU) decodeAdapter() dyntrans.Decoder {
	return func(cpu dyntrans.CPUContext, pc uint64, page *dyntrans.Physpage, slot int) {
		c.family.Decode(cpu.(isa.RegisterCPU), pc, page, slot)
	}
}

// Family reports the ISA this CPU was built for, for console register
// dumps that need register names/counts rather than just raw values.
func (c *CPU) Family() isa.Family { return c.family }

// ---- dyntrans.CPUContext ----

func (c *CPU) PC() uint64 {
	return c.curVPage + uint64(c.icIndex)*uint64(c.family.InstrSize)
}

func (c *CPU) Nullified() bool {
	n := c.nullify
	c.nullify = false
	return n
}

// Retire implements dyntrans.CPUContext.Retire: a fused handler records
// how many extra guest instructions it folded into this one call, and
// optionally redirects dispatch within the current physpage instead of
// falling through to the next slot.
func (c *CPU) Retire(extra int, redirectSlot int) {
	if extra > 0 {
		c.retireExtra += extra
	}
	if redirectSlot >= 0 {
		c.icIndex = int32(redirectSlot)
		c.pcRedirected = true
	}
}

func (c *CPU) SingleStepping() bool { return c.singleStep }

func (c *CPU) Halt(reason string) {
	c.running = false
	c.haltReason = reason
	if c.log != nil {
		c.log.Error("cpu halted", "cpu", c.ID, "reason", reason)
	}
}

// CrossPageBoundary resyncs PC to the first real instruction past the
// current physpage (second selects the EndOfPage2 "delay slot
// straddled the boundary" variant) and re-enters PC-to-pointers.
func (c *CPU) CrossPageBoundary(second bool) {
	pageBytes := uint64(dyntrans.IcsPerPage) * uint64(c.family.InstrSize)
	next := c.curVPage + pageBytes
	if second {
		next += uint64(c.family.InstrSize)
	}
	c.resyncPC(next)
}

// ---- isa.RegisterCPU ----

func (c *CPU) Reg(i int) uint64 {
	if i == 0 {
		return 0
	}
	return c.regs[i]
}

func (c *CPU) SetReg(i int, v uint64) {
	if i == 0 {
		return
	}
	c.regs[i] = v
}

func (c *CPU) SetPC(pc uint64) {
	c.resyncPC(pc)
}

func (c *CPU) FetchWord(paddr uint32) (uint32, bool) {
	var buf [4]byte
	if !c.mem.RW(nil, nil, paddr, buf[:], false, memory.KindInstruction) {
		return 0, false
	}
	return decodeWord(buf[:], c.family.BigEndian), true
}

func (c *CPU) LoadWord(vaddr uint32) (uint32, bool) {
	var buf [4]byte
	if vaddr&3 != 0 {
		c.Trap(traplikeAddressError)
		return 0, false
	}
	if c.vphLoad(vaddr, buf[:]) {
		return decodeWord(buf[:], c.family.BigEndian), true
	}
	if !c.mem.RW(c, c.vphTab, vaddr, buf[:], false, memory.KindData) {
		return 0, false
	}
	return decodeWord(buf[:], c.family.BigEndian), true
}

func (c *CPU) StoreWord(vaddr uint32, v uint32) bool {
	if vaddr&3 != 0 {
		c.Trap(traplikeAddressError)
		return false
	}
	var buf [4]byte
	encodeWord(buf[:], v, c.family.BigEndian)
	if c.llValid && physPageOf(vaddr) == c.llAddr {
		c.llValid = false
	}
	if paddr, ok := c.vphStore(vaddr, buf[:]); ok {
		c.cache.InvalidateCode(paddr)
		c.vphTab.InvalidatePaddr(paddr&^(vph.PageSize-1), false)
		return true
	}
	ok := c.mem.RW(c, c.vphTab, vaddr, buf[:], true, memory.KindData)
	if ok {
		if paddr, tok := c.TranslateAddress(vaddr, true, true, false); tok {
			c.cache.InvalidateCode(paddr)
			c.vphTab.InvalidatePaddr(paddr&^(vph.PageSize-1), false)
		}
	}
	return ok
}

func (c *CPU) LoadByte(vaddr uint32) (byte, bool) {
	var buf [1]byte
	if c.vphLoad(vaddr, buf[:]) {
		return buf[0], true
	}
	if !c.mem.RW(c, c.vphTab, vaddr, buf[:], false, memory.KindData) {
		return 0, false
	}
	return buf[0], true
}

func (c *CPU) StoreByte(vaddr uint32, v byte) bool {
	buf := [1]byte{v}
	if c.llValid && physPageOf(vaddr) == c.llAddr {
		c.llValid = false
	}
	if paddr, ok := c.vphStore(vaddr, buf[:]); ok {
		c.cache.InvalidateCode(paddr)
		c.vphTab.InvalidatePaddr(paddr&^(vph.PageSize-1), false)
		return true
	}
	ok := c.mem.RW(c, c.vphTab, vaddr, buf[:], true, memory.KindData)
	if ok {
		if paddr, tok := c.TranslateAddress(vaddr, true, true, false); tok {
			c.cache.InvalidateCode(paddr)
			c.vphTab.InvalidatePaddr(paddr&^(vph.PageSize-1), false)
		}
	}
	return ok
}

// TryLoadLinked implements isa.RegisterCPU.TryLoadLinked: a plain load
// that additionally arms llValid/llAddr for this CPU's own page. Any
// store this CPU makes to that page (including by a different
// instruction entirely) clears the reservation, per the check at the
// top of StoreWord and StoreByte.
func (c *CPU) TryLoadLinked(vaddr uint32) (uint32, bool) {
	v, ok := c.LoadWord(vaddr)
	if !ok {
		return 0, false
	}
	c.llValid = true
	c.llAddr = physPageOf(vaddr)
	return v, true
}

// StoreConditional implements isa.RegisterCPU.StoreConditional: the
// store only happens if the reservation TryLoadLinked armed is still
// valid for vaddr's page. Only per-CPU ordering is modeled here —
// nothing observes another CPU's stores, so this is not SMP-coherent
// LL/SC, only the single-CPU half of it.
func (c *CPU) StoreConditional(vaddr uint32, v uint32) bool {
	if !c.llValid || physPageOf(vaddr) != c.llAddr {
		return false
	}
	return c.StoreWord(vaddr, v)
}

// vphLoad serves a load directly from a cached host page, the memory_rw
// fast path: no translation, no device dispatch. Reports false on a VPH
// miss or a slot with no host load page so the caller falls back to mem.RW.
func (c *CPU) vphLoad(vaddr uint32, buf []byte) bool {
	e, ok := c.vphTab.Lookup(vaddr &^ (vph.PageSize - 1))
	if !ok || e.HostLoad == nil {
		return false
	}
	off := vaddr & (vph.PageSize - 1)
	copy(buf, e.HostLoad[off:])
	return true
}

// vphStore mirrors vphLoad for writes, returning the full physical
// address written (for the caller's code-invalidation check) on a hit.
func (c *CPU) vphStore(vaddr uint32, buf []byte) (uint32, bool) {
	e, ok := c.vphTab.Lookup(vaddr &^ (vph.PageSize - 1))
	if !ok || e.HostStore == nil {
		return 0, false
	}
	off := vaddr & (vph.PageSize - 1)
	copy(e.HostStore[off:], buf)
	return e.PhysAddr + off, true
}

func (c *CPU) ScheduleBranch(target uint64, taken, likely, hasDelaySlot bool) {
	if !hasDelaySlot {
		c.resyncPC(target)
		return
	}
	if likely && !taken {
		c.nullify = true
	}
	c.delay = isa.ToBeDelayed
	c.branchTarget = target
	c.branchTaken = taken
}

const (
	traplikeAddressError = 4

	// exceptionVectorBase is the fixed PC every trap resyncs to. Picked
	// to sit inside minimips's kseg0 hook range so it resolves without
	// needing a TLB entry of its own, the way a real exception vector
	// must be reachable before any refill handler has run.
	exceptionVectorBase = 0x80000180
)

func (c *CPU) Trap(cause int) {
	// A minimal exception entry: park PC at a fixed vector and halt the
	// delay-slot state machine cleanly. A fuller privileged-mode model
	// (status/cause registers, EPC) is out of scope for the
	// demonstration ISA; what matters here is that RunChunk stops
	// executing translated code from the faulting ic and funnels back
	// through PC-to-pointers exactly once.
	if c.delay == isa.Delayed || c.delay == isa.ToBeDelayed {
		c.delay = isa.ExceptionInDelaySlot
	}
	if c.log != nil {
		c.log.Debug("trap", "cpu", c.ID, "cause", cause, "pc", fmt.Sprintf("%#x", c.PC()))
	}
	c.trapped = true
	c.resyncPC(exceptionVectorBase)
}

// ---- memory.Translator ----

// TranslateAddress implements the software TLB lookup: a miss raises
// a TLB-refill trap and reports ok=false so the
// caller (memory_rw) unwinds cleanly instead of performing a partial
// access. Any always-identity-mapped segments (MIPS's kseg0/kseg1, for
// instance) are the owning ISA's business, consulted through
// family.TranslateUnmapped before the TLB is touched at all; emu/cpu
// itself knows nothing about specific guest segments.
func (c *CPU) TranslateAddress(vaddr uint32, write, noExceptions, instr bool) (uint32, bool) {
	if c.family.TranslateUnmapped != nil {
		if paddr, ok := c.family.TranslateUnmapped(vaddr); ok {
			return paddr, true
		}
	}
	paddr, ok := c.tlb.translate(vaddr)
	if ok {
		return paddr, true
	}
	if noExceptions {
		return 0, false
	}
	cause := 2
	if write {
		cause = 3
	}
	c.Trap(cause)
	return 0, false
}

// WriteTLBEntry installs a guest TLB mapping (stand-in for the guest
// OS's refill handler populating the MMU), used by tests and the
// initial identity map a boot ROM would set up.
func (c *CPU) WriteTLBEntry(i int, vpn, ppn uint32, valid, dirty bool) {
	c.tlb.write(i, vpn, ppn, valid, dirty)
}

func physPageOf(addr uint32) uint32 { return addr &^ (memory.PageSize - 1) }

func decodeWord(b []byte, big bool) uint32 {
	if big {
		return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	}
	return uint32(b[3])<<24 | uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0])
}

func encodeWord(b []byte, v uint32, big bool) {
	if big {
		b[0], b[1], b[2], b[3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
		return
	}
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
