/*
gxemul 32-bit flat-array VPH table.

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
package vph

import "github.com/rcornwell/gxemul/emu/dyntrans"

// directBits sizes the flat array: 2^20 entries of vaddr>>12 covers a
// full 32-bit address space, one entry per page.
const directBits = 20
const directSize = 1 << directBits
const directMask = directSize - 1

// Table32 is the direct-array VPH used by every 32-bit guest ISA:
// O(1) lookup with no tree walk, at the cost of always reserving the
// full array regardless of how sparse the guest's actual footprint is.
type Table32 struct {
	direct [directSize]Entry
	tlb    *tlbSet
}

// NewTable32 creates a 32-bit VPH table with the given TLB size
// (rounded up to an even number, split between data and code halves).
func NewTable32(tlbSlots int) *Table32 {
	return &Table32{tlb: newTLBSet(tlbSlots)}
}

// SetMetrics wires the reverse-TLB eviction counter; nil is fine and
// leaves the table silently uninstrumented. Call once after
// NewTable32, before the table is handed to a running CPU.
func (t *Table32) SetMetrics(m *dyntrans.Metrics) {
	if m == nil || m.VPHEvictions == nil {
		return
	}
	t.tlb.onEvict = m.VPHEvictions.Inc
}

func idx32(vaddrPage uint32) uint32 {
	return (vaddrPage >> PageShift) & directMask
}

func (t *Table32) Lookup(vaddrPage uint32) (*Entry, bool) {
	e := &t.direct[idx32(vaddrPage)]
	if !e.Valid {
		return nil, false
	}
	return e, true
}

func (t *Table32) UpdateTranslationTable(vaddrPage, paddrPage uint32, host []byte, writable bool) {
	e := &t.direct[idx32(vaddrPage)]
	page := e.Page
	if e.Valid && e.PhysAddr != paddrPage {
		page = nil // stale code pointer from a previous mapping at this vaddr.
	}
	*e = Entry{HostLoad: host, PhysAddr: paddrPage, Valid: true, Page: page}
	if writable {
		e.HostStore = host
	}
	t.tlb.record(vaddrPage, paddrPage, false)
}

func (t *Table32) SetPhysPage(vaddrPage uint32, p *dyntrans.Physpage) {
	e := &t.direct[idx32(vaddrPage)]
	e.Page = p
	e.Valid = true
	t.tlb.record(vaddrPage, e.PhysAddr, true)
}

func (t *Table32) InvalidateVaddr(vaddrPage uint32) {
	t.direct[idx32(vaddrPage)] = Entry{}
	t.tlb.forgetVaddr(vaddrPage)
}

// InvalidatePaddr scans the whole direct array; the array is fixed at
// 2^20 entries so this is bounded work, not proportional to how much
// code has actually executed. justMarkNonWritable drops only
// HostStore/Page ("demote to read-only, keep the cached bytes"
// optimization for a write that lands in a page with no translated
// code yet); otherwise the slot is cleared outright.
func (t *Table32) InvalidatePaddr(paddrPage uint32, justMarkNonWritable bool) {
	for i := range t.direct {
		e := &t.direct[i]
		if !e.Valid || e.PhysAddr != paddrPage {
			continue
		}
		if justMarkNonWritable {
			e.HostStore = nil
			e.Page = nil
		} else {
			*e = Entry{}
		}
	}
	t.tlb.forgetPaddr(paddrPage)
}

func (t *Table32) InvalidateAll() {
	for i := range t.direct {
		t.direct[i] = Entry{}
	}
	t.tlb.reset()
}

// InvalidateVaddrUpper4 drops every entry whose vaddr shares the given
// top 4 bits, the PowerPC BAT-style "segment changed" invalidation.
func (t *Table32) InvalidateVaddrUpper4(upper4 uint32) {
	want := upper4 & 0xF
	for i := range t.direct {
		if (uint32(i) >> (directBits - 4)) == want {
			t.direct[i] = Entry{}
		}
	}
	t.tlb.reset()
}
