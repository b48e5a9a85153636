/*
gxemul Three-level radix VPH table for sparse/large address spaces.

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

// Table64 trades Table32's O(1) lookup for bounded memory use: a
// guest with a huge but sparse virtual address space (a 64-bit ISA
// running a handful of small programs) would otherwise force a
// multi-terabyte flat array. Three levels of 12-bit index get us
// there with leaves allocated (and recycled through a free list) only
// for pages actually touched.
//
// Levels, from a page number pn = vaddrPage>>12:
//
//	l1 index = pn >> 24        (sparse map)
//	l2 index = (pn >> 12) & 0xFFF (sparse map)
//	l3 index = pn & 0xFFF         (dense array leaf)
type Table64 struct {
	l1       map[uint32]*l2table
	freeList []*leaf
	tlb      *tlbSet
}

const radixLeafBits = 12
const radixLeafSize = 1 << radixLeafBits
const radixLeafMask = radixLeafSize - 1
const freeListCap = 64

type l2table struct {
	entries map[uint32]*leaf
}

type leaf struct {
	entries  [radixLeafSize]Entry
	refcount int
}

// NewTable64 creates an empty radix VPH table.
func NewTable64(tlbSlots int) *Table64 {
	return &Table64{l1: make(map[uint32]*l2table), tlb: newTLBSet(tlbSlots)}
}

// SetMetrics wires the reverse-TLB eviction counter; nil is fine and
// leaves the table silently uninstrumented. Call once after
// NewTable64, before the table is handed to a running CPU.
func (t *Table64) SetMetrics(m *dyntrans.Metrics) {
	if m == nil || m.VPHEvictions == nil {
		return
	}
	t.tlb.onEvict = m.VPHEvictions.Inc
}

func pageNumber(vaddrPage uint32) uint64 {
	return uint64(vaddrPage) >> PageShift
}

func radixKeys(pn uint64) (l1, l2, l3 uint32) {
	return uint32(pn >> 24), uint32((pn >> radixLeafBits) & radixLeafMask), uint32(pn & radixLeafMask)
}

func (t *Table64) getLeaf(pn uint64, create bool) *leaf {
	l1k, l2k, _ := radixKeys(pn)
	lt, ok := t.l1[l1k]
	if !ok {
		if !create {
			return nil
		}
		lt = &l2table{entries: make(map[uint32]*leaf)}
		t.l1[l1k] = lt
	}
	lf, ok := lt.entries[l2k]
	if !ok {
		if !create {
			return nil
		}
		if n := len(t.freeList); n > 0 {
			lf = t.freeList[n-1]
			t.freeList = t.freeList[:n-1]
			*lf = leaf{}
		} else {
			lf = &leaf{}
		}
		lt.entries[l2k] = lf
	}
	return lf
}

// releaseLeaf returns an emptied leaf to the free list and prunes its
// now-empty parent entries, keeping both map levels as sparse as the
// guest's actual working set.
func (t *Table64) releaseLeaf(pn uint64) {
	l1k, l2k, _ := radixKeys(pn)
	lt, ok := t.l1[l1k]
	if !ok {
		return
	}
	lf, ok := lt.entries[l2k]
	if !ok || lf.refcount != 0 {
		return
	}
	delete(lt.entries, l2k)
	if len(t.freeList) < freeListCap {
		t.freeList = append(t.freeList, lf)
	}
	if len(lt.entries) == 0 {
		delete(t.l1, l1k)
	}
}

func (t *Table64) Lookup(vaddrPage uint32) (*Entry, bool) {
	pn := pageNumber(vaddrPage)
	lf := t.getLeaf(pn, false)
	if lf == nil {
		return nil, false
	}
	_, _, l3 := radixKeys(pn)
	e := &lf.entries[l3]
	if !e.Valid {
		return nil, false
	}
	return e, true
}

func (t *Table64) UpdateTranslationTable(vaddrPage, paddrPage uint32, host []byte, writable bool) {
	pn := pageNumber(vaddrPage)
	lf := t.getLeaf(pn, true)
	_, _, l3 := radixKeys(pn)
	e := &lf.entries[l3]
	wasValid := e.Valid
	page := e.Page
	if e.Valid && e.PhysAddr != paddrPage {
		page = nil
	}
	*e = Entry{HostLoad: host, PhysAddr: paddrPage, Valid: true, Page: page}
	if writable {
		e.HostStore = host
	}
	if !wasValid {
		lf.refcount++
	}
	t.tlb.record(vaddrPage, paddrPage, false)
}

func (t *Table64) SetPhysPage(vaddrPage uint32, p *dyntrans.Physpage) {
	pn := pageNumber(vaddrPage)
	lf := t.getLeaf(pn, true)
	_, _, l3 := radixKeys(pn)
	e := &lf.entries[l3]
	if !e.Valid {
		lf.refcount++
	}
	e.Valid = true
	e.Page = p
	t.tlb.record(vaddrPage, e.PhysAddr, true)
}

func (t *Table64) clear(vaddrPage uint32) {
	pn := pageNumber(vaddrPage)
	lf := t.getLeaf(pn, false)
	if lf == nil {
		return
	}
	_, _, l3 := radixKeys(pn)
	if !lf.entries[l3].Valid {
		return
	}
	lf.entries[l3] = Entry{}
	lf.refcount--
	t.releaseLeaf(pn)
}

func (t *Table64) InvalidateVaddr(vaddrPage uint32) {
	t.clear(vaddrPage)
	t.tlb.forgetVaddr(vaddrPage)
}

// InvalidatePaddr is best-effort for the radix table: a full walk of
// every live leaf is avoided (that is the whole point of the radix
// shape), so only vaddr pages the TLB still remembers as mapped to
// paddrPage get cleared. A page that fell out of the TLB but is still
// cached in some leaf stays cached until the next InvalidateAll; this
// is a known, deliberate trade documented alongside Table32's full
// scan, which has no such gap.
func (t *Table64) InvalidatePaddr(paddrPage uint32, justMarkNonWritable bool) {
	for _, v := range t.tlb.forgetPaddr(paddrPage) {
		if justMarkNonWritable {
			pn := pageNumber(v)
			if lf := t.getLeaf(pn, false); lf != nil {
				_, _, l3 := radixKeys(pn)
				lf.entries[l3].HostStore = nil
				lf.entries[l3].Page = nil
			}
			continue
		}
		t.clear(v)
	}
}

func (t *Table64) InvalidateAll() {
	t.l1 = make(map[uint32]*l2table)
	t.freeList = nil
	t.tlb.reset()
}

// InvalidateVaddrUpper4 is a PowerPC 32-bit BAT quirk; 64-bit ISAs
// never call it, so Table64 implements it only to satisfy Table.
func (t *Table64) InvalidateVaddrUpper4(uint32) {
	t.InvalidateAll()
}
