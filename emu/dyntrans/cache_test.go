package dyntrans

import "testing"

type fakeCPU struct {
	pc       uint64
	crossed  int
	nullify  bool
	stepping bool
	halted   string
}

func (f *fakeCPU) PC() uint64 { return f.pc }
func (f *fakeCPU) CrossPageBoundary(second bool) {
	f.crossed++
}
func (f *fakeCPU) Nullified() bool {
	n := f.nullify
	f.nullify = false
	return n
}
func (f *fakeCPU) SingleStepping() bool { return f.stepping }
func (f *fakeCPU) Halt(reason string)   { f.halted = reason }

func nopDecoder(cpu CPUContext, pc uint64, page *Physpage, slot int) {
	page.ICS[slot].F = func(cpu CPUContext, ic *IC) {}
}

func TestEnsurePageCreatesAndReuses(t *testing.T) {
	c := NewCache(4, 1<<20, nopDecoder, nil)
	p1 := c.EnsurePage(0x1000)
	p2 := c.EnsurePage(0x1004)
	if p1 != p2 {
		t.Fatalf("expected same physpage for addresses in the same page")
	}
	p3 := c.EnsurePage(0x2000)
	if p3 == p1 {
		t.Fatalf("expected distinct physpage for a different page")
	}
}

func TestToBeTranslatedDecodesOnce(t *testing.T) {
	calls := 0
	decoder := func(cpu CPUContext, pc uint64, page *Physpage, slot int) {
		calls++
		page.ICS[slot].F = func(cpu CPUContext, ic *IC) {}
	}
	c := NewCache(4, 1<<20, decoder, nil)
	page := c.EnsurePage(0x1000)
	cpu := &fakeCPU{}

	ic := &page.ICS[0]
	ic.F(cpu, ic)
	ic.F(cpu, ic)

	if calls != 1 {
		t.Fatalf("expected decoder called exactly once, got %d", calls)
	}
	if cpu.halted != "" {
		t.Fatalf("unexpected halt: %s", cpu.halted)
	}
}

func TestDecoderLeavingNilHandlerHalts(t *testing.T) {
	decoder := func(cpu CPUContext, pc uint64, page *Physpage, slot int) {}
	c := NewCache(4, 1<<20, decoder, nil)
	page := c.EnsurePage(0x1000)
	cpu := &fakeCPU{}
	ic := &page.ICS[0]
	ic.F(cpu, ic)
	if cpu.halted == "" {
		t.Fatalf("expected halt when decoder leaves handler nil")
	}
}

func TestCacheResetOnExhaustion(t *testing.T) {
	c := NewCache(4, 0, nopDecoder, nil)
	if c.capacity < 16 {
		t.Fatalf("expected minimum capacity of 16, got %d", c.capacity)
	}
	for i := 0; i < c.capacity+4; i++ {
		c.EnsurePage(uint32(i) * memPageSize)
	}
	if len(c.pages) > c.capacity {
		t.Fatalf("arena grew past capacity: %d > %d", len(c.pages), c.capacity)
	}
	if len(c.pages) == c.capacity+4 {
		t.Fatalf("expected at least one reset to have fired during exhaustion")
	}
}

func TestExplicitResetClearsArenaAndChains(t *testing.T) {
	c := NewCache(4, 1<<20, nopDecoder, nil)
	c.EnsurePage(0x8000)
	if c.Lookup(0x8000) == nil {
		t.Fatalf("expected page present before reset")
	}
	c.Reset()
	if len(c.pages) != 0 {
		t.Fatalf("expected empty arena after reset, got %d pages", len(c.pages))
	}
	if c.Lookup(0x8000) != nil {
		t.Fatalf("expected bucket chains cleared after reset")
	}
	// The address is translatable again from scratch.
	p := c.EnsurePage(0x8000)
	if p.PhysAddr != 0x8000 {
		t.Fatalf("expected recreated page at the right address, got %#x", p.PhysAddr)
	}
}

func TestInvalidateCodeRevertsSlots(t *testing.T) {
	c := NewCache(4, 1<<20, nopDecoder, nil)
	page := c.EnsurePage(0x4000)
	cpu := &fakeCPU{}
	ic := &page.ICS[0]
	ic.F(cpu, ic) // decode slot 0, marks page as translated.

	if !c.IsTranslated(0x4000) {
		t.Fatalf("expected page to be marked translated")
	}
	if !c.InvalidateCode(0x4000) {
		t.Fatalf("expected InvalidateCode to report a hit")
	}
	if c.IsTranslated(0x4000) {
		t.Fatalf("expected translated flag cleared after invalidation")
	}
	// InvalidateCode on a page with no translations is a no-op that
	// reports false.
	if c.InvalidateCode(0x9000) {
		t.Fatalf("expected InvalidateCode to report a miss for an untouched page")
	}
}
