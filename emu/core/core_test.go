package core

import (
	"testing"
	"time"

	"github.com/rcornwell/gxemul/emu/cpu"
	"github.com/rcornwell/gxemul/emu/isa/minimips"
	"github.com/rcornwell/gxemul/emu/master"
	"github.com/rcornwell/gxemul/emu/memory"
	"github.com/rcornwell/gxemul/emu/vph"
)

// loopProgram lays down an infinite "addiu t0, t0, 1; j self" loop at
// text, so a CPU given it never halts on its own: useful for exercising
// the chunk scheduler and the instruction cap without needing real
// program termination.
func loopProgram(mem *memory.Memory, text uint32) {
	encodeI := func(op, rs, rt int, imm uint32) uint32 {
		return uint32(op)<<26 | uint32(rs)<<21 | uint32(rt)<<16 | (imm & 0xFFFF)
	}
	encodeJ := func(op int, target uint32) uint32 {
		return uint32(op)<<26 | ((target >> 2) & 0x03FFFFFF)
	}
	store := func(paddr uint32, v uint32) {
		buf := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
		for i, b := range buf {
			mem.WriteByte(paddr+uint32(i), b, false)
		}
	}
	const rT0 = 8
	store(text+0, encodeI(0x09, rT0, rT0, 1)) // addiu t0, t0, 1
	store(text+4, encodeJ(0x02, text))        // j text
	store(text+8, 0)                          // delay slot: nop
}

func newLoopingCPU(id int, text uint32) *cpu.CPU {
	mem := memory.New(0)
	loopProgram(mem, text)
	v := vph.NewTable32(8)
	c := cpu.New(id, minimips.Family, mem, v, 1<<16, nil, nil)
	c.WriteTLBEntry(0, text, text, true, true)
	c.Start(uint64(text))
	return c
}

// TestRunRoundChunksAcrossCPUs checks that every still-running CPU gets
// serviced within one round, in order, rather than one CPU's loop
// starving the others.
func TestRunRoundChunksAcrossCPUs(t *testing.T) {
	cpus := []*cpu.CPU{newLoopingCPU(0, 0x1000), newLoopingCPU(1, 0x2000)}
	c := New(cpus, make(chan master.Packet), 3, 0, nil)
	c.running = true

	c.runRound()

	if cpus[0].InstrCount() == 0 || cpus[1].InstrCount() == 0 {
		t.Fatalf("expected both cpus to retire instructions in one round, got %d and %d",
			cpus[0].InstrCount(), cpus[1].InstrCount())
	}
	if !c.running {
		t.Fatalf("expected core to still be running, both cpus loop forever")
	}
}

// TestRunRoundHaltsOnInstructionCap confirms the --maxinstr behavior:
// a CPU that reaches the cap is halted rather than allowed to keep
// accumulating instructions past it.
func TestRunRoundHaltsOnInstructionCap(t *testing.T) {
	cp := newLoopingCPU(0, 0x1000)
	c := New([]*cpu.CPU{cp}, make(chan master.Packet), 3, 5, nil)
	c.running = true

	for i := 0; i < 5 && c.running; i++ {
		c.runRound()
	}

	if cp.Running() {
		t.Fatalf("expected cpu to halt once the instruction cap was reached")
	}
	if cp.InstrCount() > 5 {
		t.Fatalf("expected instruction count to stop at the cap, got %d", cp.InstrCount())
	}
	if c.running {
		t.Fatalf("expected core.running to clear once its only cpu halts")
	}
}

// TestProcessPacketStartStop exercises the master.Packet control plane
// a console goroutine drives the simulation through.
func TestProcessPacketStartStop(t *testing.T) {
	cp := newLoopingCPU(0, 0x1000)
	c := New([]*cpu.CPU{cp}, make(chan master.Packet), 3, 0, nil)

	c.processPacket(master.Packet{Msg: master.Start})
	if !c.running {
		t.Fatalf("expected Start packet to set running")
	}
	c.processPacket(master.Packet{Msg: master.Stop})
	if c.running {
		t.Fatalf("expected Stop packet to clear running")
	}
}

// TestProcessPacketStep confirms a Step packet advances exactly one
// instruction on the targeted CPU and leaves singleStep cleared again.
func TestProcessPacketStep(t *testing.T) {
	cp := newLoopingCPU(0, 0x1000)
	c := New([]*cpu.CPU{cp}, make(chan master.Packet), 3, 0, nil)

	c.processPacket(master.Packet{Msg: master.Step, CPU: 0})

	if cp.InstrCount() != 1 {
		t.Fatalf("expected exactly one instruction retired by a step, got %d", cp.InstrCount())
	}
	if cp.SingleStepping() {
		t.Fatalf("expected single-step flag to be cleared after the step packet completes")
	}
}

// TestProcessPacketBreakpoint confirms Breakpoint/ClearBreakpoint wire
// a matching predicate into the targeted CPU's cache.
func TestProcessPacketBreakpoint(t *testing.T) {
	cp := newLoopingCPU(0, 0x1000)
	c := New([]*cpu.CPU{cp}, make(chan master.Packet), 3, 0, nil)

	c.processPacket(master.Packet{Msg: master.Breakpoint, CPU: 0, Addr: 0x1000})
	if cp.Cache().Breakpoint == nil || !cp.Cache().Breakpoint(0x1000) {
		t.Fatalf("expected breakpoint predicate to match the installed address")
	}

	c.processPacket(master.Packet{Msg: master.ClearBreakpoint, CPU: 0})
	if cp.Cache().Breakpoint != nil {
		t.Fatalf("expected ClearBreakpoint to remove the predicate")
	}
}

// TestStartStopShutsDownCleanly drives the real Run goroutine briefly
// to make sure Stop reliably unblocks it.
func TestStartStopShutsDownCleanly(t *testing.T) {
	cp := newLoopingCPU(0, 0x1000)
	c := New([]*cpu.CPU{cp}, make(chan master.Packet), 64, 0, nil)
	c.running = true

	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop()

	if cp.InstrCount() == 0 {
		t.Fatalf("expected the looping cpu to have made forward progress before shutdown")
	}
}
