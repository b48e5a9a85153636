package memory

import (
	"testing"

	dev "github.com/rcornwell/gxemul/emu/device"
)

// fakeVPHUpdater records the arguments of every UpdateTranslationTable
// call instead of maintaining a real VPH table, so tests can assert on
// exactly what memory_rw decided to cache.
type fakeVPHUpdater struct {
	calls []fakeUpdate
}

type fakeUpdate struct {
	vaddrPage, paddrPage uint32
	host                 []byte
	writable             bool
}

func (f *fakeVPHUpdater) UpdateTranslationTable(vaddrPage, paddrPage uint32, host []byte, writable bool) {
	f.calls = append(f.calls, fakeUpdate{vaddrPage, paddrPage, host, writable})
}

func TestRegisterAndFindDevice(t *testing.T) {
	m := New(0)
	a := &dev.Device{Base: 0x1000, Length: 0x100, Fn: func(uint32, []byte, int, any) int { return 1 }}
	b := &dev.Device{Base: 0x2000, Length: 0x100, Fn: func(uint32, []byte, int, any) int { return 1 }}
	m.RegisterDevice(a)
	m.RegisterDevice(b)

	d, off, ok := m.FindDevice(0x2010)
	if !ok || d != b || off != 0x10 {
		t.Fatalf("FindDevice(0x2010) = %v, %#x, %v", d, off, ok)
	}
	// Re-query the same device to exercise the one-entry hint cache.
	d, off, ok = m.FindDevice(0x2020)
	if !ok || d != b || off != 0x20 {
		t.Fatalf("hinted FindDevice(0x2020) = %v, %#x, %v", d, off, ok)
	}
	if _, _, ok := m.FindDevice(0x3000); ok {
		t.Fatalf("expected no device at an unregistered address")
	}
}

func TestReadWriteByteThroughDevice(t *testing.T) {
	var lastOff uint32
	var lastWrite int
	var lastVal byte
	d := &dev.Device{
		Base: 0x10000, Length: 4,
		Fn: func(off uint32, buf []byte, writeflag int, _ any) int {
			lastOff, lastWrite = off, writeflag
			if writeflag == dev.Write {
				lastVal = buf[0]
			} else {
				buf[0] = 0x42
			}
			return 1
		},
	}
	m := New(0)
	m.RegisterDevice(d)

	v, ok := m.ReadByte(0x10002, false)
	if !ok || v != 0x42 || lastOff != 2 || lastWrite != dev.Read {
		t.Fatalf("ReadByte through device: v=%#x ok=%v off=%d write=%d", v, ok, lastOff, lastWrite)
	}

	if ok := m.WriteByte(0x10001, 0x55, false); !ok || lastOff != 1 || lastWrite != dev.Write || lastVal != 0x55 {
		t.Fatalf("WriteByte through device: ok=%v off=%d write=%d val=%#x", ok, lastOff, lastWrite, lastVal)
	}
}

func TestReadWriteByteDeviceFailure(t *testing.T) {
	d := &dev.Device{Base: 0x100, Length: 1, Fn: func(uint32, []byte, int, any) int { return 0 }}
	m := New(0)
	m.RegisterDevice(d)

	if _, ok := m.ReadByte(0x100, false); ok {
		t.Fatalf("expected a failing device access to report ok=false")
	}
	if ok := m.WriteByte(0x100, 1, false); ok {
		t.Fatalf("expected a failing device write to report ok=false")
	}
}

func TestRAMReadWriteRoundTrip(t *testing.T) {
	m := New(0)
	if ok := m.WriteByte(0x1234, 0xAB, false); !ok {
		t.Fatalf("WriteByte failed")
	}
	v, ok := m.ReadByte(0x1234, false)
	if !ok || v != 0xAB {
		t.Fatalf("ReadByte after write = %#x, %v, want 0xab, true", v, ok)
	}
	// Unwritten RAM reads as zero by default.
	if v, _ := m.ReadByte(0x9999, false); v != 0 {
		t.Fatalf("unwritten RAM read %#x, want 0", v)
	}
}

func TestX86FillByte(t *testing.T) {
	m := New(0)
	m.SetX86FillByte(true)
	if v, _ := m.ReadByte(0x9999, false); v != 0xFF {
		t.Fatalf("unwritten RAM with x86 fill read %#x, want 0xff", v)
	}
}

func TestReadWritePastMaxPhys(t *testing.T) {
	m := New(0x1000)
	if ok := m.WriteByte(0x2000, 1, false); ok {
		t.Fatalf("expected a write past maxPhys to fail")
	}
	if _, ok := m.ReadByte(0x2000, false); ok {
		t.Fatalf("expected a non-probe read past maxPhys to report a bus error")
	}
	if _, ok := m.ReadByte(0x2000, true); !ok {
		t.Fatalf("expected a probing read past maxPhys to report ok=true")
	}
}

func TestRWPhysicalWithinPage(t *testing.T) {
	m := New(0)
	out := []byte{1, 2, 3, 4}
	if ok := m.RW(nil, nil, 0x5000, out, true, KindPhysical); !ok {
		t.Fatalf("RW write failed")
	}
	in := make([]byte, 4)
	if ok := m.RW(nil, nil, 0x5000, in, false, KindPhysical); !ok {
		t.Fatalf("RW read failed")
	}
	if string(in) != string(out) {
		t.Fatalf("RW round trip = %v, want %v", in, out)
	}
}

func TestRWCrossesPageBoundary(t *testing.T) {
	m := New(0)
	vaddr := uint32(PageSize - 2)
	out := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	if ok := m.RW(nil, nil, vaddr, out, true, KindPhysical); !ok {
		t.Fatalf("cross-page RW write failed")
	}
	in := make([]byte, 4)
	if ok := m.RW(nil, nil, vaddr, in, false, KindPhysical); !ok {
		t.Fatalf("cross-page RW read failed")
	}
	if string(in) != string(out) {
		t.Fatalf("cross-page RW round trip = %v, want %v", in, out)
	}
}

// TestOfferHostPageDyntransDevice exercises the device+dyntrans caching
// path: a DyntransOK|DyntransWriteOK device with its own backing buffer
// is offered to VPH directly on a hit, instead of forcing every access
// back through Fn.
func TestOfferHostPageDyntransDevice(t *testing.T) {
	buf := make([]byte, PageSize)
	d := &dev.Device{
		Base: 0x10000000, Length: 0x1000,
		Flags: dev.DyntransOK | dev.DyntransWriteOK,
		Buf:   buf,
		Fn: func(off uint32, b []byte, writeflag int, _ any) int {
			if writeflag == dev.Write {
				buf[off] = b[0]
			} else {
				b[0] = buf[off]
			}
			return 1
		},
	}
	m := New(0)
	m.RegisterDevice(d)

	u := &fakeVPHUpdater{}
	out := []byte{0x7}
	if ok := m.RW(nil, u, 0x10000400, out, true, KindPhysical); !ok {
		t.Fatalf("RW write through dyntrans device failed")
	}
	if len(u.calls) != 1 {
		t.Fatalf("expected one VPH update, got %d", len(u.calls))
	}
	call := u.calls[0]
	if call.paddrPage != 0x10000000 || !call.writable {
		t.Fatalf("unexpected VPH update: %+v", call)
	}
	if len(call.host) != PageSize {
		t.Fatalf("expected a full page handed to VPH, got %d bytes", len(call.host))
	}
}

func TestDeviceDirtyWindowTracking(t *testing.T) {
	d := &dev.Device{
		Base: 0x4000, Length: 0x100,
		Flags: dev.DyntransWriteOK,
		Fn:    func(uint32, []byte, int, any) int { return 1 },
	}
	m := New(0)
	m.RegisterDevice(d)

	if _, _, ok := d.DirtyWindow(); ok {
		t.Fatalf("expected no dirty window before any write")
	}
	if ok := m.WriteByte(0x4010, 1, false); !ok {
		t.Fatalf("WriteByte failed")
	}
	low, high, ok := d.DirtyWindow()
	if !ok || low != 0x10 || high != 0x11 {
		t.Fatalf("dirty window after one write = [%#x,%#x), %v", low, high, ok)
	}
	d.ClearDirty()
	if _, _, ok := d.DirtyWindow(); ok {
		t.Fatalf("expected dirty window cleared after ClearDirty")
	}
}
