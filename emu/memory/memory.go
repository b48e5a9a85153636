/*
gxemul Guest physical memory: sparse RAM blocks, device registry, memory_rw.

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
package memory

import (
	"log/slog"

	dev "github.com/rcornwell/gxemul/emu/device"
)

const (
	// BitsPerMemblock sizes each sparse RAM block at 4MB. Chosen so a
	// modestly sized guest (tens to low hundreds of MB) needs only a
	// handful of block map entries.
	BitsPerMemblock = 22
	BlockSize       = 1 << BitsPerMemblock
	blockMask       = BlockSize - 1

	// PageSize is the VPH granularity (4K pages, the common case across
	// the ISAs this framework targets).
	PageSize  = 4096
	PageShift = 12
)

// AccessKind mirrors the cache-hint flag passed to memory_rw.
type AccessKind int

const (
	KindNone AccessKind = iota
	KindData
	KindInstruction
	KindNoExceptions
	KindPhysical
)

// Memory is the guest physical address space shared by every CPU.
// Re-entrant per caller, but (per the single-threaded cooperative
// scheduling model) never accessed from more than one goroutine
// at a time, so it carries no internal lock.
type Memory struct {
	blocks     map[uint32]*block
	maxPhys    uint32 // 0 == unlimited
	devices    []*dev.Device
	hint       int
	warnedOnce map[uint32]bool
	x86Fill    bool // fill unmapped reads with 0xFF instead of 0x00
}

type block struct {
	data []byte
}

// New creates an empty guest physical memory with the given maximum
// physical size in bytes (0 for unbounded).
func New(maxPhys uint32) *Memory {
	return &Memory{
		blocks:     make(map[uint32]*block),
		maxPhys:    maxPhys,
		warnedOnce: make(map[uint32]bool),
	}
}

// SetX86FillByte switches the "read of unmapped RAM" fill value to
// 0xFF, matching x86 bus-float behaviour instead of the MIPS/ARM-style
// zero fill.
func (m *Memory) SetX86FillByte(v bool) {
	m.x86Fill = v
}

func (m *Memory) blockFor(paddr uint32, create bool) *block {
	key := paddr >> BitsPerMemblock
	b, ok := m.blocks[key]
	if !ok {
		if !create {
			return nil
		}
		b = &block{data: newHostBlock(BlockSize)}
		m.blocks[key] = b
	}
	return b
}

// RegisterDevice adds a memory mapped I/O region. Device ranges are
// matched by linear scan with a one-entry hint cache; devices are
// expected to be few (tens, not thousands).
func (m *Memory) RegisterDevice(d *dev.Device) {
	m.devices = append(m.devices, d)
}

// FindDevice returns the device covering paddr, if any, and the offset
// within it.
func (m *Memory) FindDevice(paddr uint32) (*dev.Device, uint32, bool) {
	if m.hint < len(m.devices) && m.devices[m.hint].Contains(paddr) {
		d := m.devices[m.hint]
		return d, paddr - d.Base, true
	}
	for i, d := range m.devices {
		if d.Contains(paddr) {
			m.hint = i
			return d, paddr - d.Base, true
		}
	}
	return nil, 0, false
}

// ReadByte reads one physical byte. Missing RAM reads as zero (or 0xFF
// in x86 mode); a read past the configured physical maximum on a real
// (non-probe) access is reported via ok=false so the caller can raise a
// bus error.
func (m *Memory) ReadByte(paddr uint32, probe bool) (value byte, ok bool) {
	if d, off, found := m.FindDevice(paddr); found {
		buf := []byte{0}
		n := d.Fn(off, buf, dev.Read, d.Extra)
		if n <= 0 {
			return 0, false
		}
		return buf[0], true
	}
	if m.maxPhys != 0 && paddr >= m.maxPhys {
		if !probe {
			m.warnOnce(paddr)
		}
		return m.fillByte(), probe || m.maxPhys == 0
	}
	b := m.blockFor(paddr, false)
	if b == nil {
		return m.fillByte(), true
	}
	return b.data[paddr&blockMask], true
}

// WriteByte writes one physical byte, lazily allocating the backing
// block if this is the first store to it.
func (m *Memory) WriteByte(paddr uint32, value byte, probe bool) bool {
	if d, off, found := m.FindDevice(paddr); found {
		buf := []byte{value}
		n := d.Fn(off, buf, dev.Write, d.Extra)
		if n <= 0 {
			return false
		}
		if d.Flags&dev.DyntransWriteOK != 0 {
			d.MarkDirty(off, 1)
		}
		return true
	}
	if m.maxPhys != 0 && paddr >= m.maxPhys {
		if !probe {
			m.warnOnce(paddr)
		}
		return probe
	}
	b := m.blockFor(paddr, true)
	b.data[paddr&blockMask] = value
	return true
}

func (m *Memory) fillByte() byte {
	if m.x86Fill {
		return 0xFF
	}
	return 0
}

func (m *Memory) warnOnce(paddr uint32) {
	page := paddr &^ (PageSize - 1)
	if m.warnedOnce[page] {
		return
	}
	m.warnedOnce[page] = true
	slog.Warn("access outside configured physical memory", "paddr", paddr)
}

// Translator resolves a CPU-specific virtual address to a physical one,
// raising a guest exception and returning ok=false on failure (unless
// noExceptions is set, in which case it simply fails silently). This is
// the seam that keeps emu/memory free of any dependency on emu/cpu: the
// CPU package implements Translator and passes itself in.
type Translator interface {
	TranslateAddress(vaddr uint32, write, noExceptions, instr bool) (paddr uint32, ok bool)
}

// VPHUpdater is the seam memory_rw uses to offer a freshly resolved
// host page back to the calling CPU's VPH table ("the only way
// entries enter VPH").
type VPHUpdater interface {
	UpdateTranslationTable(vaddrPage, paddrPage uint32, host []byte, writable bool)
}

// RW implements the memory_rw contract. When kind is
// KindPhysical, or t is nil, vaddr is taken directly as a physical
// address. A write that spans a page boundary first probes every byte
// for accessibility before performing any real store, so a failure
// midway never leaves a partial write visible.
func (m *Memory) RW(t Translator, u VPHUpdater, vaddr uint32, buf []byte, write bool, kind AccessKind) bool {
	physOnly := kind == KindPhysical || t == nil
	noExcept := kind == KindNoExceptions

	resolve := func(v uint32) (uint32, bool) {
		if physOnly {
			return v, true
		}
		return t.TranslateAddress(v, write, noExcept, kind == KindInstruction)
	}

	n := uint32(len(buf))
	if n == 0 {
		return true
	}

	startPage := vaddr & ^uint32(PageSize-1)
	endPage := (vaddr + n - 1) & ^uint32(PageSize-1)
	crossesPage := startPage != endPage

	if write && crossesPage {
		// Probe every byte before committing any store.
		for i := uint32(0); i < n; i++ {
			paddr, ok := resolve(vaddr + i)
			if !ok {
				return false
			}
			if _, ok := m.ReadByte(paddr, true); !ok {
				return false
			}
			if m.maxPhys != 0 && paddr >= m.maxPhys {
				if _, _, found := m.FindDevice(paddr); !found {
					return false
				}
			}
		}
	}

	if !crossesPage {
		paddr, ok := resolve(vaddr)
		if !ok {
			return false
		}
		for i := uint32(0); i < n; i++ {
			if write {
				if !m.WriteByte(paddr+i, buf[i], false) {
					return false
				}
			} else {
				v, ok := m.ReadByte(paddr+i, false)
				if !ok {
					return false
				}
				buf[i] = v
			}
		}
		if u != nil {
			m.offerHostPage(u, vaddr, paddr, write)
		}
		return true
	}

	// Crosses a page boundary: decompose into single-byte operations.
	for i := uint32(0); i < n; i++ {
		paddr, ok := resolve(vaddr + i)
		if !ok {
			return false
		}
		if write {
			if !m.WriteByte(paddr, buf[i], false) {
				return false
			}
		} else {
			v, ok := m.ReadByte(paddr, false)
			if !ok {
				return false
			}
			buf[i] = v
		}
		if u != nil && (vaddr+i)&(PageSize-1) == 0 {
			m.offerHostPage(u, vaddr+i, paddr, write)
		}
	}
	return true
}

// offerHostPage installs the page containing paddr into the caller's
// VPH, if it is RAM or a dyntrans-eligible device buffer. MMIO regions
// that are not dyntrans-eligible leave VPH untouched (host_load stays
// NULL), forcing every future access back through RW/device_f.
func (m *Memory) offerHostPage(u VPHUpdater, vaddr, paddr uint32, write bool) {
	vaddrPage := vaddr &^ (PageSize - 1)
	paddrPage := paddr &^ (PageSize - 1)

	if d, off, found := m.FindDevice(paddr); found {
		if d.Flags&dev.DyntransOK == 0 || d.Buf == nil {
			return
		}
		pageOff := off &^ (PageSize - 1)
		if int(pageOff+PageSize) > len(d.Buf) {
			return
		}
		writable := write && d.Flags&dev.DyntransWriteOK != 0
		u.UpdateTranslationTable(vaddrPage, paddrPage, d.Buf[pageOff:pageOff+PageSize], writable)
		return
	}

	b := m.blockFor(paddr, write)
	if b == nil {
		return
	}
	blockOff := paddr & blockMask &^ (PageSize - 1)
	u.UpdateTranslationTable(vaddrPage, paddrPage, b.data[blockOff:blockOff+PageSize], true)
}
