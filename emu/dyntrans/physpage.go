/*
gxemul Physical page translation record.

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
package dyntrans

const (
	// IcsPerPage covers one 4K guest page at 4 bytes/instruction, the
	// common case for the ISAs this framework targets (MIPS, ARM,
	// PowerPC, the minimips demonstration ISA). A variable-length ISA
	// (x86) would need a different sizing strategy; out of scope here.
	IcsPerPage = memPageSize / 4

	// SentinelCount appends end_of_page and end_of_page2 past the last
	// real instruction slot.
	SentinelCount = 2

	memPageSize = 4096
)

// Flags on a Physpage.
const (
	// FlagTranslations is set once at least one ic in the page has been
	// decoded away from to_be_translated.
	FlagTranslations = uint32(1) << iota
	// FlagCombinations is set once the combination checker has fused two
	// or more ics in the page into a multi-instruction handler.
	FlagCombinations
)

// Physpage is the per-physical-page translation record: a fixed array
// of instruction calls plus the two boundary sentinels, and enough
// bookkeeping to chain pages sharing a hash bucket and to recycle the
// page later. Physpage values live inside a Cache's arena and are never
// copied or moved once allocated, so a *Physpage handed out by Cache
// stays valid for the lifetime of that cache generation.
type Physpage struct {
	PhysAddr uint32 // physical address of byte 0 of this page.
	NextOfs  int32  // index+1 of the next page in this hash bucket's chain, 0 if none.
	Flags    uint32

	ICS [IcsPerPage + SentinelCount]IC
}

// EndOfPageIndex and EndOfPage2Index are the fixed slot positions of
// the two sentinels within ICS.
const (
	EndOfPageIndex  = IcsPerPage
	EndOfPage2Index = IcsPerPage + 1
)

// reset reinitializes a physpage in place for reuse, installing a fresh
// to_be_translated closure into every real instruction slot and the two
// permanent sentinels at the tail.
func (p *Physpage) reset(c *Cache, physAddr uint32) {
	p.PhysAddr = physAddr
	p.NextOfs = 0
	p.Flags = 0
	for i := 0; i < IcsPerPage; i++ {
		p.ICS[i] = IC{}
		p.ICS[i].F = c.newToBeTranslated(p, i)
	}
	p.ICS[EndOfPageIndex] = IC{F: EndOfPage}
	p.ICS[EndOfPage2Index] = IC{F: EndOfPage2}
}

// invalidateCode reverts every real instruction slot back to
// to_be_translated, without touching identity or chain linkage. Used by
// targeted code invalidation (a store into a previously-translated
// page) as an alternative to unlinking the page outright.
func (p *Physpage) invalidateCode(c *Cache) {
	for i := 0; i < IcsPerPage; i++ {
		p.ICS[i] = IC{}
		p.ICS[i].F = c.newToBeTranslated(p, i)
	}
	p.Flags = 0
}
