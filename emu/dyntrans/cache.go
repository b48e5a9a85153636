/*
gxemul Per-CPU translation cache: the physpage arena and its hash index.

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

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Decoder fills in page.ICS[slot] the first time execution reaches it.
// pc is the physical address of that slot's instruction. A decoder
// must leave a non-nil handler in page.ICS[slot].F before returning.
type Decoder func(cpu CPUContext, pc uint64, page *Physpage, slot int)

// Combiner inspects the instruction calls ending at slot within page
// and, if they match a known fusable sequence (e.g. a decrement/branch
// loop, or a store/increment memset pattern), rewrites the tail of that
// sequence into a single handler that performs the whole thing in one
// call. It reports whether it fused anything.
type Combiner func(cpu CPUContext, page *Physpage, slot int) bool

// bucketBits sizes the physical-address hash table. 2^14 buckets keeps
// collision chains short for any realistic guest memory size without
// wasting much space per CPU.
const bucketBits = 14
const bucketCount = 1 << bucketBits

// Cache owns every Physpage translated for one CPU: a fixed-capacity
// arena (bump-allocated, never reallocated, so a *Physpage handed out
// stays valid until the next Reset) and a hash table chaining pages by
// physical page number.
type Cache struct {
	InstrSize uint32 // bytes per instruction slot (fixed-length ISAs only).

	Decoder    Decoder
	Combiner   Combiner
	Breakpoint func(pc uint64) bool

	pages    []Physpage // len == live page count, cap == arena capacity, never regrown.
	capacity int
	buckets  [bucketCount]int32 // index+1 into pages, 0 == empty.

	translated map[uint32]bool // physical page numbers with at least one decoded ic.

	resets   prometheus.Counter
	allocs   prometheus.Counter
	lookups  prometheus.Counter
	combined prometheus.Counter
}

// NewCache creates a translation cache sized to hold roughly
// arenaBytes worth of Physpage records (never fewer than 16 pages, so
// a tiny arena configuration still makes forward progress between
// resets).
func NewCache(instrSize uint32, arenaBytes int, decoder Decoder, metrics *Metrics) *Cache {
	const physpageBytes = int(unsafeSizeofPhyspage)
	capacity := arenaBytes / physpageBytes
	if capacity < 16 {
		capacity = 16
	}
	c := &Cache{
		InstrSize:  instrSize,
		Decoder:    decoder,
		capacity:   capacity,
		translated: make(map[uint32]bool),
	}
	if metrics != nil {
		c.resets = metrics.CacheResets
		c.allocs = metrics.PagesAllocated
		c.lookups = metrics.PageLookups
		c.combined = metrics.Combined
	}
	c.pages = make([]Physpage, 0, capacity)
	return c
}

// unsafeSizeofPhyspage is a compile-time-ish estimate of one Physpage's
// footprint, used only to turn a byte budget into a page count. It does
// not need to be exact: being off by a constant factor only changes how
// often Reset fires, never correctness.
const unsafeSizeofPhyspage = (IcsPerPage + SentinelCount) * 64

func bucketOf(physAddr uint32) uint32 {
	return (physAddr >> 12) & (bucketCount - 1)
}

// Lookup walks the hash chain for physAddr's page and returns its
// Physpage if one already exists.
func (c *Cache) Lookup(physAddr uint32) *Physpage {
	if c.lookups != nil {
		c.lookups.Inc()
	}
	pageAddr := physAddr &^ (memPageSize - 1)
	idx := c.buckets[bucketOf(physAddr)]
	for idx != 0 {
		p := &c.pages[idx-1]
		if p.PhysAddr == pageAddr {
			return p
		}
		idx = p.NextOfs
	}
	return nil
}

// EnsurePage returns the Physpage for physAddr's page, translating a
// fresh one (and resetting the whole arena first, if it would
// otherwise overflow) if none exists yet.
func (c *Cache) EnsurePage(physAddr uint32) *Physpage {
	if p := c.Lookup(physAddr); p != nil {
		return p
	}
	if len(c.pages) >= c.capacity {
		c.Reset()
	}
	pageAddr := physAddr &^ (memPageSize - 1)
	bucket := bucketOf(physAddr)

	c.pages = append(c.pages, Physpage{})
	idx := int32(len(c.pages))
	p := &c.pages[idx-1]
	p.reset(c, pageAddr)
	p.NextOfs = c.buckets[bucket]
	c.buckets[bucket] = idx

	if c.allocs != nil {
		c.allocs.Inc()
	}
	return p
}

// Reset discards every translated page at once: the classic dyntrans
// response to arena exhaustion. Every *Physpage handed out
// before a Reset must not be used again; callers hold pages only
// transiently (one dispatch step) specifically so this is safe.
func (c *Cache) Reset() {
	c.pages = c.pages[:0]
	for i := range c.buckets {
		c.buckets[i] = 0
	}
	c.translated = make(map[uint32]bool)
	if c.resets != nil {
		c.resets.Inc()
	}
}

// markPhysTranslated records that physAddr's page now has at least one
// decoded instruction, for InvalidateCode's "page never had any code"
// fast path.
func (c *Cache) markPhysTranslated(physAddr uint32) {
	c.translated[physAddr>>12] = true
}

// InvalidateCode reverts every slot of physAddr's page back to
// to_be_translated, for a write that lands inside previously translated
// code. Returns whether the page had any translation to invalidate.
func (c *Cache) InvalidateCode(physAddr uint32) bool {
	pageNr := physAddr >> 12
	if !c.translated[pageNr] {
		return false
	}
	if p := c.Lookup(physAddr); p != nil {
		p.invalidateCode(c)
	}
	delete(c.translated, pageNr)
	return true
}

// IsTranslated reports whether physAddr's page currently has any
// decoded instructions, letting a caller skip invalidation work for
// pages that were never executed.
func (c *Cache) IsTranslated(physAddr uint32) bool {
	return c.translated[physAddr>>12]
}
