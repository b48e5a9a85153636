package parser

import (
	"testing"

	"github.com/rcornwell/gxemul/emu/core"
	"github.com/rcornwell/gxemul/emu/cpu"
	"github.com/rcornwell/gxemul/emu/isa/minimips"
	"github.com/rcornwell/gxemul/emu/master"
	"github.com/rcornwell/gxemul/emu/memory"
	"github.com/rcornwell/gxemul/emu/vph"
)

func drain(ch chan master.Packet) master.Packet {
	select {
	case p := <-ch:
		return p
	default:
		return master.Packet{Msg: -1}
	}
}

func TestProcessCommandAbbreviations(t *testing.T) {
	cases := []struct {
		line string
		want int
	}{
		{"sta", master.Start},   // min length for "start" is 3
		{"sto", master.Stop},    // min length for "stop" is 3
		{"c", master.Start},     // "continue" matches at length 1 and reuses start's packet
		{"q", master.Quit},
	}
	for _, c := range cases {
		ch := make(chan master.Packet, 1)
		quit, err := ProcessCommand(c.line, nil, ch)
		if err != nil {
			t.Fatalf("ProcessCommand(%q): %v", c.line, err)
		}
		got := drain(ch)
		if got.Msg != c.want {
			t.Fatalf("ProcessCommand(%q) sent Msg=%d, want %d", c.line, got.Msg, c.want)
		}
		if c.line == "q" && !quit {
			t.Fatalf("quit command did not report quit=true")
		}
	}
}

func TestProcessCommandTooShortAbbreviation(t *testing.T) {
	ch := make(chan master.Packet, 1)
	// "s" is below every s-command's minimum abbreviation length
	// (start/stop/step/show all require at least 2 characters), so it
	// matches nothing rather than being ambiguous.
	if _, err := ProcessCommand("s", nil, ch); err == nil {
		t.Fatalf("expected a command-not-found error for \"s\"")
	}
}

func TestProcessCommandUnknown(t *testing.T) {
	ch := make(chan master.Packet, 1)
	if _, err := ProcessCommand("frobnicate", nil, ch); err == nil {
		t.Fatalf("expected an error for an unknown command")
	}
}

func TestProcessCommandBreakAddress(t *testing.T) {
	ch := make(chan master.Packet, 1)
	if _, err := ProcessCommand("break 0x1000", nil, ch); err != nil {
		t.Fatalf("ProcessCommand: %v", err)
	}
	got := drain(ch)
	if got.Msg != master.Breakpoint || got.Addr != 0x1000 || got.CPU != -1 {
		t.Fatalf("break 0x1000 sent %+v", got)
	}
}

func TestProcessCommandBreakInvalidAddress(t *testing.T) {
	ch := make(chan master.Packet, 1)
	if _, err := ProcessCommand("break nothex", nil, ch); err == nil {
		t.Fatalf("expected an error for a non-hex breakpoint address")
	}
}

func TestProcessCommandStepTarget(t *testing.T) {
	ch := make(chan master.Packet, 1)
	if _, err := ProcessCommand("step 2", nil, ch); err != nil {
		t.Fatalf("ProcessCommand: %v", err)
	}
	got := drain(ch)
	if got.Msg != master.Step || got.CPU != 2 {
		t.Fatalf("step 2 sent %+v", got)
	}
}

func TestProcessCommandStepAll(t *testing.T) {
	ch := make(chan master.Packet, 1)
	if _, err := ProcessCommand("step all", nil, ch); err != nil {
		t.Fatalf("ProcessCommand: %v", err)
	}
	got := drain(ch)
	if got.Msg != master.Step || got.CPU != -1 {
		t.Fatalf("step all sent %+v", got)
	}
}

func TestProcessCommandShowNoMachine(t *testing.T) {
	ch := make(chan master.Packet, 1)
	if _, err := ProcessCommand("show", nil, ch); err == nil {
		t.Fatalf("expected an error from show with no machine loaded")
	}
}

// TestProcessCommandShowWithCPU exercises show's register dump path
// end to end: it must not error against a real CPU with a register
// set on it. The printed text is not checked.
func TestProcessCommandShowWithCPU(t *testing.T) {
	mem := memory.New(0)
	c := cpu.New(0, minimips.Family, mem, vph.NewTable32(8), 1<<16, nil, nil)
	c.Start(0)
	c.SetReg(8, 0x12345678) // t0

	m := core.New([]*cpu.CPU{c}, make(chan master.Packet), 0, 0, nil)

	ch := make(chan master.Packet, 1)
	if _, err := ProcessCommand("show", m, ch); err != nil {
		t.Fatalf("ProcessCommand(show): %v", err)
	}
}

func TestCompleteCmdPrefix(t *testing.T) {
	// "st" is long enough to satisfy step's minimum (2) but not
	// start's or stop's (3 each), so only step matches.
	got := CompleteCmd("st")
	if len(got) != 1 || got[0] != "step" {
		t.Fatalf("CompleteCmd(\"st\") = %v, want [step]", got)
	}
}

func TestCompleteCmdUnique(t *testing.T) {
	got := CompleteCmd("quit")
	if len(got) != 1 || got[0] != "quit" {
		t.Fatalf("CompleteCmd(\"quit\") = %v", got)
	}
}
