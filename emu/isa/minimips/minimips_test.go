package minimips_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rcornwell/gxemul/emu/cpu"
	"github.com/rcornwell/gxemul/emu/dyntrans"
	"github.com/rcornwell/gxemul/emu/isa/minimips"
	"github.com/rcornwell/gxemul/emu/memory"
	"github.com/rcornwell/gxemul/emu/vph"
)

func encodeI(op, rs, rt int, imm uint32) uint32 {
	return uint32(op)<<26 | uint32(rs)<<21 | uint32(rt)<<16 | (imm & 0xFFFF)
}

func storeWordBE(mem *memory.Memory, paddr uint32, v uint32) {
	buf := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	for i, b := range buf {
		mem.WriteByte(paddr+uint32(i), b, false)
	}
}

// TestCombineLuiOri covers the lui/ori fusion idiom: the pair must
// still produce the correct 32-bit constant, and the fusion must
// actually have fired (observed through the Combined counter) rather
// than silently falling back to the unfused two-step path.
func TestCombineLuiOri(t *testing.T) {
	mem := memory.New(0)
	v := vph.NewTable32(8)
	reg := prometheus.NewRegistry()
	metrics := dyntrans.NewMetrics(reg, "0")
	c := cpu.New(0, minimips.Family, mem, v, 1<<16, metrics, nil)

	const rT0 = 8
	const text = 0x1000

	storeWordBE(mem, text+0, encodeI(0x0F, 0, rT0, 0x1234))   // lui t0, 0x1234
	storeWordBE(mem, text+4, encodeI(0x0D, rT0, rT0, 0x5678)) // ori t0, t0, 0x5678

	c.WriteTLBEntry(0, text, text, true, true)

	c.Start(text)
	executed := c.RunChunk(2)

	if executed != 2 {
		t.Fatalf("expected 2 instructions executed, got %d (halt=%q)", executed, c.HaltReason())
	}
	if c.Reg(rT0) != 0x12345678 {
		t.Fatalf("expected t0 == 0x12345678, got %#x", c.Reg(rT0))
	}
	if got := testutil.ToFloat64(metrics.Combined); got != 1 {
		t.Fatalf("expected exactly one fused instruction pair, got %v", got)
	}

	// The first pass decoded both instructions, at which point the
	// combiner rewrote lui's slot to a no-op. Re-running the now-cached
	// page proves the fused ori handler does not depend on lui having
	// actually run: poison the register first, and it must still come
	// out right, recomputed straight from both instructions' immediates.
	c.SetReg(rT0, 0xBADBAD00BADBAD00)
	c.SetPC(text)
	executed = c.RunChunk(2)

	if executed != 2 {
		t.Fatalf("expected 2 instructions executed on the cached pass, got %d (halt=%q)", executed, c.HaltReason())
	}
	if c.Reg(rT0) != 0x12345678 {
		t.Fatalf("expected fused handler to recompute t0 == 0x12345678 despite the poisoned register, got %#x", c.Reg(rT0))
	}
	if got := testutil.ToFloat64(metrics.Combined); got != 1 {
		t.Fatalf("expected no additional combination on the cached pass, got %v", got)
	}
}

// TestCombineStoreLoop covers the sw/addiu/bne memset-loop fusion: a
// ten-pass loop storing a constant into successive words must produce
// exactly the memory image the unfused instructions would, while a
// single dispatch call (the fused bne) accounts for most of the
// retired instruction count instead of one RunChunk iteration per
// guest instruction.
func TestCombineStoreLoop(t *testing.T) {
	mem := memory.New(0)
	v := vph.NewTable32(8)
	reg := prometheus.NewRegistry()
	metrics := dyntrans.NewMetrics(reg, "0")
	c := cpu.New(0, minimips.Family, mem, v, 1<<16, metrics, nil)

	const rT0, rT1, rT2, rT3 = 8, 9, 10, 11
	const text = 0x1000
	const base = 0x3000
	const passes = 10
	const limit = base + 4*passes

	storeWordBE(mem, text+0, encodeI(0x09, 0, rT0, base))     // addiu t0, zero, base
	storeWordBE(mem, text+4, encodeI(0x09, 0, rT1, 0x55))     // addiu t1, zero, 0x55
	storeWordBE(mem, text+8, encodeI(0x09, 0, rT2, limit))    // addiu t2, zero, limit
	storeWordBE(mem, text+12, encodeI(0x2B, rT0, rT1, 0))     // loop: sw t1, 0(t0)
	storeWordBE(mem, text+16, encodeI(0x09, rT0, rT0, 4))     // addiu t0, t0, 4
	storeWordBE(mem, text+20, encodeI(0x05, rT0, rT2, 0xFFFD)) // bne t0, t2, loop
	storeWordBE(mem, text+24, encodeI(0x00, 0, 0, 0))         // nop (delay slot)
	storeWordBE(mem, text+28, encodeI(0x09, 0, rT3, 99))      // addiu t3, zero, 99

	c.WriteTLBEntry(0, text, text, true, true)
	c.WriteTLBEntry(1, base, base, true, true)

	c.Start(text)
	const wantExecuted = 3 + passes*4 + 1
	executed := c.RunChunk(wantExecuted)

	if executed != wantExecuted {
		t.Fatalf("expected %d instructions retired, got %d (halt=%q)", wantExecuted, executed, c.HaltReason())
	}
	if c.Reg(rT0) != limit {
		t.Fatalf("expected t0 == %#x at loop exit, got %#x", limit, c.Reg(rT0))
	}
	if c.Reg(rT3) != 99 {
		t.Fatalf("expected the instruction past the loop to run, t3 == 99, got %d", c.Reg(rT3))
	}
	for i := 0; i < passes; i++ {
		addr := uint32(base + 4*i)
		v, ok := mem.ReadByte(addr, false)
		if !ok || v != 0x00 {
			t.Fatalf("word at %#x: expected big-endian 0x00000055, first byte 0, got %#x ok=%v", addr, v, ok)
		}
		v, ok = mem.ReadByte(addr+3, false)
		if !ok || v != 0x55 {
			t.Fatalf("word at %#x: expected low byte 0x55, got %#x ok=%v", addr, v, ok)
		}
	}
	if got := testutil.ToFloat64(metrics.Combined); got != 1 {
		t.Fatalf("expected exactly one fused loop, got %v", got)
	}
}

// TestCombineStoreLoopCapsUnrolling exercises the maxFusedIterations
// cap: a loop longer than the cap must redirect back to its own loop
// head instead of folding every pass into a single dispatch call, and
// still produce the correct final memory image and register state.
func TestCombineStoreLoopCapsUnrolling(t *testing.T) {
	mem := memory.New(0)
	v := vph.NewTable32(8)
	c := cpu.New(0, minimips.Family, mem, v, 1<<16, nil, nil)

	const rT0, rT1, rT2, rT3 = 8, 9, 10, 11
	const text = 0x1000
	const base = 0x3000
	const passes = 200
	const limit = base + 4*passes

	storeWordBE(mem, text+0, encodeI(0x09, 0, rT0, base))      // addiu t0, zero, base
	storeWordBE(mem, text+4, encodeI(0x09, 0, rT1, 0x7))       // addiu t1, zero, 0x7
	storeWordBE(mem, text+8, encodeI(0x09, 0, rT2, limit))     // addiu t2, zero, limit
	storeWordBE(mem, text+12, encodeI(0x2B, rT0, rT1, 0))      // loop: sw t1, 0(t0)
	storeWordBE(mem, text+16, encodeI(0x09, rT0, rT0, 4))      // addiu t0, t0, 4
	storeWordBE(mem, text+20, encodeI(0x05, rT0, rT2, 0xFFFD)) // bne t0, t2, loop
	storeWordBE(mem, text+24, encodeI(0x00, 0, 0, 0))          // nop (delay slot)
	storeWordBE(mem, text+28, encodeI(0x09, 0, rT3, 99))       // addiu t3, zero, 99

	c.WriteTLBEntry(0, text, text, true, true)
	c.WriteTLBEntry(1, base, base, true, true)

	c.Start(text)
	const wantExecuted = 3 + passes*4 + 1
	executed := c.RunChunk(wantExecuted)

	if executed != wantExecuted {
		t.Fatalf("expected %d instructions retired, got %d (halt=%q)", wantExecuted, executed, c.HaltReason())
	}
	if c.Reg(rT0) != limit {
		t.Fatalf("expected t0 == %#x at loop exit, got %#x", limit, c.Reg(rT0))
	}
	if c.Reg(rT3) != 99 {
		t.Fatalf("expected the instruction past the loop to run, t3 == 99, got %d", c.Reg(rT3))
	}
	for i := 0; i < passes; i++ {
		addr := uint32(base + 4*i)
		v, ok := mem.ReadByte(addr+3, false)
		if !ok || v != 0x07 {
			t.Fatalf("word at %#x: expected low byte 0x07, got %#x ok=%v", addr, v, ok)
		}
	}
}

// TestLoadLinkedStoreConditional covers both ll/sc outcomes: an sc
// immediately following its matching ll must succeed, and an sc whose
// reservation was invalidated by an intervening store (to the same
// word, by the same CPU) must fail without writing memory.
func TestLoadLinkedStoreConditional(t *testing.T) {
	mem := memory.New(0)
	v := vph.NewTable32(8)
	c := cpu.New(0, minimips.Family, mem, v, 1<<16, nil, nil)

	const rBase, rLL, rVal, rTmp, rVal2, rMarker = 8, 9, 10, 11, 13, 14
	const text = 0x1000
	const base = 0x3000

	storeWordBE(mem, text+0, encodeI(0x09, 0, rBase, base))  // addiu t0, zero, base
	storeWordBE(mem, text+4, encodeI(0x30, rBase, rLL, 0))   // ll t1, 0(t0)
	storeWordBE(mem, text+8, encodeI(0x09, 0, rVal, 0x55))   // addiu t2, zero, 0x55
	storeWordBE(mem, text+12, encodeI(0x38, rBase, rVal, 0)) // sc t2, 0(t0)
	storeWordBE(mem, text+16, encodeI(0x30, rBase, rLL, 0))  // ll t1, 0(t0)
	storeWordBE(mem, text+20, encodeI(0x09, 0, rTmp, 0x99))  // addiu t3, zero, 0x99
	storeWordBE(mem, text+24, encodeI(0x2B, rBase, rTmp, 0)) // sw t3, 0(t0)  (invalidates the reservation)
	storeWordBE(mem, text+28, encodeI(0x09, 0, rVal2, 0x77)) // addiu t5, zero, 0x77
	storeWordBE(mem, text+32, encodeI(0x38, rBase, rVal2, 0))// sc t5, 0(t0)
	storeWordBE(mem, text+36, encodeI(0x09, 0, rMarker, 42)) // addiu t6, zero, 42

	c.WriteTLBEntry(0, text, text, true, true)
	c.WriteTLBEntry(1, base, base, true, true)

	c.Start(text)
	const wantExecuted = 10
	executed := c.RunChunk(wantExecuted)

	if executed != wantExecuted {
		t.Fatalf("expected %d instructions retired, got %d (halt=%q)", wantExecuted, executed, c.HaltReason())
	}
	if c.Reg(rVal) != 1 {
		t.Fatalf("expected first sc to succeed (t2 == 1), got %d", c.Reg(rVal))
	}
	if c.Reg(rVal2) != 0 {
		t.Fatalf("expected second sc to fail after the intervening store (t5 == 0), got %d", c.Reg(rVal2))
	}
	if c.Reg(rMarker) != 42 {
		t.Fatalf("expected the instruction past both sc's to run, t6 == 42, got %d", c.Reg(rMarker))
	}
	word, ok := mem.ReadByte(base+3, false)
	if !ok || word != 0x99 {
		t.Fatalf("expected memory to hold the intervening store's value 0x99 (failed sc must not write), got %#x ok=%v", word, ok)
	}
}

// TestBranchLikelyNullifiesDelaySlot covers bnel's nullify semantics: a
// not-taken branch-likely must squash the instruction in its own delay
// slot (it never runs) while still retiring and falling through
// correctly, unlike a plain (non-likely) bne whose delay slot always runs.
func TestBranchLikelyNullifiesDelaySlot(t *testing.T) {
	mem := memory.New(0)
	v := vph.NewTable32(8)
	c := cpu.New(0, minimips.Family, mem, v, 1<<16, nil, nil)

	const rOne, rMarker, rSkipped = 8, 9, 10
	const text = 0x1000

	storeWordBE(mem, text+0, encodeI(0x09, 0, rOne, 1))      // addiu t0, zero, 1
	storeWordBE(mem, text+4, encodeI(0x15, rOne, rOne, 2))   // bnel t0, t0, +8 (never taken: t0 == t0)
	storeWordBE(mem, text+8, encodeI(0x09, 0, rSkipped, 77)) // delay slot: addiu t2, zero, 77 (must be nullified)
	storeWordBE(mem, text+12, encodeI(0x09, 0, rMarker, 42)) // fallthrough: addiu t1, zero, 42

	c.WriteTLBEntry(0, text, text, true, true)

	c.Start(text)
	const wantExecuted = 4
	executed := c.RunChunk(wantExecuted)

	if executed != wantExecuted {
		t.Fatalf("expected %d instructions retired, got %d (halt=%q)", wantExecuted, executed, c.HaltReason())
	}
	if c.Reg(rSkipped) != 0 {
		t.Fatalf("expected the nullified delay slot to never run, t2 == 0, got %d", c.Reg(rSkipped))
	}
	if c.Reg(rMarker) != 42 {
		t.Fatalf("expected execution to fall through past the branch, t1 == 42, got %d", c.Reg(rMarker))
	}
}
