/*
gxemul Memory mapped device interface.

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
package device

// Flags a device registers with, controlling how the memory system
// may cache its backing store directly into a CPU's VPH table.
const (
	// ReadingHasNoSideEffects lets debugger/symbol-scan probes read the
	// device without invoking F.
	ReadingHasNoSideEffects = 1 << iota
	// DyntransOK lets a CPU cache Buf directly into VPH for loads.
	DyntransOK
	// DyntransWriteOK additionally lets VPH cache the buffer for stores.
	// Writes that go through F grow the device's dirty window (see
	// MarkDirty); nothing consults that window to re-enter F.
	DyntransWriteOK
)

// Access direction passed to F.
const (
	Read = iota
	Write
)

// F is the memory mapped I/O callback a device registers for a paddr
// range. offset is relative to the start of the device's range. buf
// holds the bytes being read into or written from. It returns the
// number of cycles of latency to charge for a successful access, or a
// value <= 0 on failure.
type F func(offset uint32, buf []byte, writeflag int, extra any) int

// Device is one memory mapped I/O region registered with a memory
// object.
type Device struct {
	Base   uint32 // Start paddr of the region.
	Length uint32 // Length in bytes.
	Flags  int    // ReadingHasNoSideEffects | DyntransOK | DyntransWriteOK.
	Fn     F      // Callback.
	Extra  any    // Opaque argument passed back to Fn.

	// Buf, when non-nil, is the device's own backing array. It is only
	// safe to cache directly into VPH when DyntransOK is set.
	Buf []byte

	// Dirty window of offsets written through Fn on a DyntransWriteOK
	// device since the last ClearDirty. Stores served directly from a
	// VPH-cached page do not grow it, and no cached device page is
	// invalidated because of it. See memory_rw.c's
	// dev_bintrans_write_low/high.
	dirtyValid bool
	dirtyLow   uint32
	dirtyHigh  uint32
}

// MarkDirty records that [offset, offset+n) was written, growing the
// dirty window. emu/memory calls it after each successful Fn write to a
// DyntransWriteOK device.
func (d *Device) MarkDirty(offset, n uint32) {
	high := offset + n
	if !d.dirtyValid {
		d.dirtyLow, d.dirtyHigh, d.dirtyValid = offset, high, true
		return
	}
	if offset < d.dirtyLow {
		d.dirtyLow = offset
	}
	if high > d.dirtyHigh {
		d.dirtyHigh = high
	}
}

// DirtyWindow returns the current dirty window and whether one exists.
func (d *Device) DirtyWindow() (low, high uint32, ok bool) {
	return d.dirtyLow, d.dirtyHigh, d.dirtyValid
}

// ClearDirty resets the dirty window after it has been reconciled.
func (d *Device) ClearDirty() {
	d.dirtyValid = false
	d.dirtyLow, d.dirtyHigh = 0, 0
}

// Contains reports whether paddr falls inside the device's range.
func (d *Device) Contains(paddr uint32) bool {
	return paddr >= d.Base && paddr < d.Base+d.Length
}
