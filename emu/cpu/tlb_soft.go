/*
gxemul Software-managed address translation (MIPS-style TLB).

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

import "github.com/rcornwell/gxemul/emu/memory"

// softTLB is a small fully-associative software TLB, the stand-in for
// a guest-OS-managed MMU: a handful of entries the
// boot code or a test installs directly via WriteTLBEntry, looked up
// by linear scan on every translation. A miss is reported to the
// caller rather than handled here — there is no hardware page-table
// walker in this design, matching the real MIPS TLB-refill model
// where a miss traps to software.
type softTLB struct {
	entries []tlbLine
}

type tlbLine struct {
	valid bool
	dirty bool
	vpn   uint32 // page number: vaddr >> PageShift.
	ppn   uint32 // page number: paddr >> PageShift.
}

func newSoftTLB(n int) *softTLB {
	return &softTLB{entries: make([]tlbLine, n)}
}

func (t *softTLB) write(i int, vpn, ppn uint32, valid, dirty bool) {
	if i < 0 || i >= len(t.entries) {
		return
	}
	t.entries[i] = tlbLine{valid: valid, dirty: dirty, vpn: vpn >> memory.PageShift, ppn: ppn >> memory.PageShift}
}

// translate resolves vaddr to a physical address, or reports a miss.
func (t *softTLB) translate(vaddr uint32) (uint32, bool) {
	vpn := vaddr >> memory.PageShift
	for _, e := range t.entries {
		if e.valid && e.vpn == vpn {
			return (e.ppn << memory.PageShift) | (vaddr & (memory.PageSize - 1)), true
		}
	}
	return 0, false
}
