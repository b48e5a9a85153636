/*
gxemul PC-to-pointers, the dispatch loop, and tick servicing.

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
package cpu

import (
	"github.com/rcornwell/gxemul/emu/dyntrans"
	"github.com/rcornwell/gxemul/emu/isa"
	"github.com/rcornwell/gxemul/emu/vph"
)

// resyncPC is PC-to-pointers: given a new logical PC, find the
// physpage to resume dispatch from, consulting VPH first so a hot loop
// avoids the translation cache lookup entirely.
func (c *CPU) resyncPC(pc uint64) {
	c.pc = pc
	c.pcRedirected = true
	vaddrPage := uint32(pc) &^ (vph.PageSize - 1)
	c.curVPage = uint64(vaddrPage)

	if entry, ok := c.vphTab.Lookup(vaddrPage); ok && entry.Page != nil {
		c.curPage = entry.Page
		c.icIndex = int32((uint32(pc) & (vph.PageSize - 1)) / c.family.InstrSize)
		return
	}

	paddr, ok := c.TranslateAddress(uint32(pc), false, false, true)
	if !ok {
		return // TranslateAddress already raised the guest exception.
	}
	page := c.cache.EnsurePage(paddr)
	c.curPage = page
	c.icIndex = int32((paddr & (vph.PageSize - 1)) / c.family.InstrSize)
	c.vphTab.SetPhysPage(vaddrPage, page)
}

// Start points the CPU at its reset vector.
func (c *CPU) Start(pc uint64) {
	c.running = true
	c.resyncPC(pc)
}

// Running reports whether the CPU is still executing.
func (c *CPU) Running() bool { return c.running }

// HaltReason returns the diagnostic passed to the most recent Halt, or
// "" if the CPU never halted.
func (c *CPU) HaltReason() string { return c.haltReason }

// InstrCount returns the number of instructions retired since reset.
func (c *CPU) InstrCount() uint64 { return c.instrCount }

// RunChunk executes up to n instructions (the per-CPU chunk budget)
// and returns how many actually ran; fewer than n means the CPU
// stopped (halted, or single-stepped with singleStep cleared by the
// caller after one instruction), or that a trap ended the chunk early
// with the CPU still running and PC at the exception vector. A fused handler that retires several
// guest instructions in one dispatch call (see dyntrans.CPUContext's
// Retire) can push the return value past n: the budget is a target,
// checked once per dispatch call, not a hard per-instruction cap.
func (c *CPU) RunChunk(n int) int {
	executed := 0
	for executed < n && c.running {
		if c.curPage == nil {
			break
		}
		page := c.curPage
		slot := int(c.icIndex)
		ic := &page.ICS[slot]
		sentinel := slot >= dyntrans.IcsPerPage

		c.pcRedirected = false
		c.trapped = false
		c.retireExtra = 0
		// A branch-likely whose branch was not taken nullifies the
		// instruction in its own delay slot: by the time that slot is
		// about to run, resolveDelayState already advanced c.delay to
		// Delayed (it transitioned ToBeDelayed->Delayed at the end of
		// the branch's own iteration). The slot still retires (PC
		// advances past it normally) but never executes, exactly like
		// the real hardware squashing it.
		if c.delay == isa.Delayed && c.Nullified() {
			// no-op: this slot is nullified.
		} else {
			ic.F(c, ic)
		}
		retired := 1 + c.retireExtra

		if sentinel {
			continue
		}
		if !c.pcRedirected {
			c.icIndex++
		}
		if c.trapped {
			// A trap ends this chunk immediately: the caller (the
			// top-level runner, or a test standing in for one) gets a
			// chance to react — e.g. install a missing TLB entry —
			// before any further instructions run at the new PC.
			break
		}
		c.instrCount += uint64(retired)
		executed += retired

		c.resolveDelayState()
		c.serviceTicks(int64(retired))

		if c.singleStep {
			// Single-step mode runs exactly one ic, then flushes the
			// page it came from: any decode or fusion committed while
			// stepping must not leave cached handlers behind for the
			// next chunked run.
			c.cache.InvalidateCode(page.PhysAddr)
			break
		}
	}
	return executed
}

// resolveDelayState advances the branch/delay-slot state machine by
// one instruction. ToBeDelayed means the instruction that just
// ran WAS the branch; the next one to run is its delay slot, so the
// state becomes Delayed and execution simply continues sequentially.
// Delayed means the instruction that just ran WAS the delay slot, so
// the branch commits now.
func (c *CPU) resolveDelayState() {
	switch c.delay {
	case isa.ToBeDelayed:
		c.delay = isa.Delayed
	case isa.Delayed:
		c.delay = isa.NotDelayed
		// icIndex already points past the delay-slot instruction that
		// just ran, so PC() is exactly its fallthrough address.
		target := c.PC()
		if c.branchTaken {
			target = c.branchTarget
		}
		c.resyncPC(target)
	case isa.ExceptionInDelaySlot:
		c.delay = isa.NotDelayed
	}
}

// AddTickDevice registers a device to be serviced on its own countdown,
// returning its slot index.
func (c *CPU) AddTickDevice(resetValue int64, dev TickDevice) int {
	c.ticksResetValue = append(c.ticksResetValue, resetValue)
	c.ticksTillNext = append(c.ticksTillNext, resetValue)
	c.tickDevices = append(c.tickDevices, dev)
	return len(c.tickDevices) - 1
}

// serviceTicks decrements every tick device's countdown by n
// instructions, invoking and reloading any that reach zero.
func (c *CPU) serviceTicks(n int64) {
	for i := range c.tickDevices {
		c.ticksTillNext[i] -= n
		for c.ticksTillNext[i] <= 0 {
			reload := c.tickDevices[i].Tick(c)
			if c.metrics != nil && c.metrics.TickFires != nil {
				c.metrics.TickFires.Inc()
			}
			if reload <= 0 {
				reload = c.ticksResetValue[i]
			}
			c.ticksTillNext[i] += reload
		}
	}
}

// SetSingleStep toggles one-shot stepping, which disables breakpoint
// re-arming and combination in the dyntrans cache and stops RunChunk
// after exactly one instruction.
func (c *CPU) SetSingleStep(v bool) { c.singleStep = v }

// SetBreakpoint installs the cache-wide breakpoint predicate.
func (c *CPU) SetBreakpoint(pred func(pc uint64) bool) {
	c.cache.Breakpoint = pred
}

// SetCombiner installs the ISA's combination rules, if any.
func (c *CPU) SetCombiner(combiner dyntrans.Combiner) {
	c.cache.Combiner = combiner
}

// Cache exposes the translation cache for metrics wiring and tests.
func (c *CPU) Cache() *dyntrans.Cache { return c.cache }

// VPH exposes the VPH table for metrics wiring and tests.
func (c *CPU) VPH() vph.Table { return c.vphTab }
