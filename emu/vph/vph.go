/*
gxemul Virtual-Physical-Host direct lookup tables.

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

// Package vph implements the Virtual-Physical-Host direct lookup
// tables: a cache from guest virtual page to
// (host bytes, physical page, translated-code page) that lets a hot
// load/store or instruction fetch skip address translation entirely
// once warm. Two shapes are provided: Table32, a flat direct array
// indexed by the virtual page number, and Table64, a
// three-level radix tree for address spaces too sparse for a flat
// array to be worth the memory.
//
// Both satisfy the same Table interface and memory.VPHUpdater's
// structural shape, so emu/cpu can pick one per guest ISA's address
// width without the memory package ever needing to import this one.
package vph

import "github.com/rcornwell/gxemul/emu/dyntrans"

const (
	PageShift = 12
	PageSize  = 1 << PageShift
	pageMask  = PageSize - 1
)

// Invalidation scopes, mirroring invalidate_translation_caches'
// bitmask argument.
const (
	InvalidateVaddr = 1 << iota
	InvalidatePaddr
	InvalidateAll
	InvalidateVaddrUpper4
	JustMarkAsNonWritable
)

// Entry is one VPH slot: everything needed to satisfy a load, a store,
// and (if Page is non-nil) to resume dispatch without redecoding.
type Entry struct {
	HostLoad  []byte // page-aligned host slice to read from directly, or nil.
	HostStore []byte // page-aligned host slice to write to directly, or nil (read-only or uncached-for-write).
	PhysAddr  uint32 // physical page this entry resolves to.
	Page      *dyntrans.Physpage
	Valid     bool
}

// Table is the common VPH contract. vaddrPage is always page-aligned
// (low PageShift bits zero); callers mask before calling.
type Table interface {
	Lookup(vaddrPage uint32) (*Entry, bool)

	// UpdateTranslationTable installs a freshly resolved page. Matches
	// emu/memory.VPHUpdater's shape so a Table can be passed directly
	// as the u argument to Memory.RW.
	UpdateTranslationTable(vaddrPage, paddrPage uint32, host []byte, writable bool)

	SetPhysPage(vaddrPage uint32, p *dyntrans.Physpage)

	InvalidateVaddr(vaddrPage uint32)
	InvalidatePaddr(paddrPage uint32, justMarkNonWritable bool)
	InvalidateAll()
	InvalidateVaddrUpper4(upper4 uint32)
}
