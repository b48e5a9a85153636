/*
gxemul VPH TLB slot array (reverse vaddr index, timestamp eviction).

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

// tlbSlot records one live direct-array (or radix-leaf) entry so it
// can be found again by physical address without scanning the whole
// table: the direct array and radix tree are indexed by vaddr, but
// invalidate_paddr needs the reverse direction.
type tlbSlot struct {
	valid     bool
	code      bool // half of the split: true for instruction-fetch entries.
	vaddrPage uint32
	paddrPage uint32
	timestamp uint64
}

// tlbSet is a small fixed-size set of slots, split evenly between data
// and code halves as the original does, evicting the oldest entry in
// the relevant half when full.
type tlbSet struct {
	slots   []tlbSlot
	clock   uint64
	half    int // len(slots)/2; [0,half) is the data half, [half,len) the code half.
	onEvict func()
}

func newTLBSet(n int) *tlbSet {
	if n < 2 {
		n = 2
	}
	if n%2 != 0 {
		n++
	}
	return &tlbSet{slots: make([]tlbSlot, n), half: n / 2}
}

func (t *tlbSet) bounds(code bool) (lo, hi int) {
	if code {
		return t.half, len(t.slots)
	}
	return 0, t.half
}

// record notes that vaddrPage now resolves via some table entry,
// evicting the least recently installed slot in the matching half if
// there is no room. It does not itself store host pointers — the
// direct array or radix leaf is the source of truth; the TLB only
// remembers enough to invalidate by physical address quickly.
func (t *tlbSet) record(vaddrPage, paddrPage uint32, code bool) {
	lo, hi := t.bounds(code)
	t.clock++
	oldest := lo
	for i := lo; i < hi; i++ {
		if !t.slots[i].valid {
			oldest = i
			break
		}
		if t.slots[i].vaddrPage == vaddrPage {
			oldest = i
			break
		}
		if t.slots[i].timestamp < t.slots[oldest].timestamp {
			oldest = i
		}
	}
	// If the loop above never broke early on a free or matching slot,
	// oldest still holds a live mapping for a different vaddr page:
	// that's a genuine eviction, not just a refresh.
	if t.slots[oldest].valid && t.slots[oldest].vaddrPage != vaddrPage && t.onEvict != nil {
		t.onEvict()
	}
	t.slots[oldest] = tlbSlot{valid: true, code: code, vaddrPage: vaddrPage, paddrPage: paddrPage, timestamp: t.clock}
}

func (t *tlbSet) forgetVaddr(vaddrPage uint32) {
	for i := range t.slots {
		if t.slots[i].valid && t.slots[i].vaddrPage == vaddrPage {
			t.slots[i].valid = false
		}
	}
}

// forgetPaddr returns every vaddr page currently mapped to paddrPage,
// so the caller can clear those slots in the direct array/radix tree
// without a full scan.
func (t *tlbSet) forgetPaddr(paddrPage uint32) []uint32 {
	var hits []uint32
	for i := range t.slots {
		if t.slots[i].valid && t.slots[i].paddrPage == paddrPage {
			hits = append(hits, t.slots[i].vaddrPage)
			t.slots[i].valid = false
		}
	}
	return hits
}

func (t *tlbSet) reset() {
	for i := range t.slots {
		t.slots[i] = tlbSlot{}
	}
	t.clock = 0
}
