/*
gxemul Top-level multi-CPU runner.

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

// Package core runs every configured CPU in a single goroutine,
// chunk-budgeted round robin: each CPU gets up to ChunkSize
// instructions per turn before control passes to the next, so a
// tight loop on one CPU never starves the console's ability to stop
// the machine or another CPU's forward progress.
package core

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rcornwell/gxemul/emu/cpu"
	"github.com/rcornwell/gxemul/emu/master"
)

// DefaultChunkSize is how many instructions a CPU runs before core
// yields to the next CPU; the master channel is checked once every CPU
// has had its chunk.
const DefaultChunkSize = 1024

// Core owns every CPU in the running machine and the goroutine that
// drives them.
type Core struct {
	wg        sync.WaitGroup
	done      chan struct{}
	master    chan master.Packet
	cpus      []*cpu.CPU
	running   bool
	chunkSize int
	maxInstr  uint64 // 0 == unbounded, --maxinstr
	log       *slog.Logger
}

// New builds a Core over an already-constructed set of CPUs (see
// config/configparser for how machine-description lines turn into
// cpu.New calls).
func New(cpus []*cpu.CPU, masterCh chan master.Packet, chunkSize int, maxInstr uint64, log *slog.Logger) *Core {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Core{
		cpus:      cpus,
		master:    masterCh,
		done:      make(chan struct{}),
		chunkSize: chunkSize,
		maxInstr:  maxInstr,
		log:       log,
	}
}

// CPU returns the i'th configured CPU, or nil if out of range.
func (c *Core) CPU(i int) *cpu.CPU {
	if i < 0 || i >= len(c.cpus) {
		return nil
	}
	return c.cpus[i]
}

// NumCPU reports how many CPUs this core runs.
func (c *Core) NumCPU() int { return len(c.cpus) }

// Run is the core goroutine: advance every CPU a chunk at a time
// while running, and always service the master channel so Stop/Quit
// are never starved even at full tilt.
func (c *Core) Run() {
	c.wg.Add(1)
	defer c.wg.Done()

	for {
		if c.running {
			c.runRound()
		}
		select {
		case <-c.done:
			if c.log != nil {
				c.log.Info("core shutdown")
			}
			return
		case packet := <-c.master:
			c.processPacket(packet)
		default:
		}
	}
}

// runRound gives every still-running CPU one chunk, in order, and
// stops the whole core once every CPU has halted or the instruction
// cap is reached.
func (c *Core) runRound() {
	anyRunning := false
	for _, cp := range c.cpus {
		if !cp.Running() {
			continue
		}
		n := c.chunkSize
		if c.maxInstr != 0 {
			remaining := c.maxInstr - cp.InstrCount()
			if remaining <= 0 {
				cp.Halt("instruction cap reached")
				continue
			}
			if uint64(n) > remaining {
				n = int(remaining)
			}
		}
		cp.RunChunk(n)
		if cp.Running() {
			anyRunning = true
		} else if c.log != nil {
			c.log.Info("cpu halted", "cpu", cp.ID, "reason", cp.HaltReason())
		}
	}
	c.running = anyRunning
}

// Start begins the Run goroutine.
func (c *Core) Start() {
	go c.Run()
}

// Stop signals shutdown and waits (briefly) for Run to exit.
func (c *Core) Stop() {
	close(c.done)
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		if c.log != nil {
			c.log.Warn("timed out waiting for core to stop")
		}
	}
}

// processPacket applies one console request to the running machine.
func (c *Core) processPacket(packet master.Packet) {
	switch packet.Msg {
	case master.Start:
		c.running = true
	case master.Stop:
		c.running = false
	case master.Step:
		c.step(packet.CPU)
	case master.Breakpoint:
		c.setBreakpoint(packet.CPU, packet.Addr, true)
	case master.ClearBreakpoint:
		c.setBreakpoint(packet.CPU, packet.Addr, false)
	case master.Reset:
		for _, cp := range c.cpus {
			cp.SetSingleStep(false)
		}
	case master.TickNotify:
		// Wall-clock-driven devices are serviced inside each CPU's own
		// tick scheduler (emu/cpu's ticksTillNext); nothing to do here
		// beyond waking the select loop, which receiving this packet
		// already did.
	}
}

// step single-steps one instruction on the target CPU (or every CPU,
// if target < 0), matching the console's "step" command.
func (c *Core) step(target int) {
	for i, cp := range c.cpus {
		if target >= 0 && i != target {
			continue
		}
		cp.SetSingleStep(true)
		cp.RunChunk(1)
		cp.SetSingleStep(false)
	}
}

func (c *Core) setBreakpoint(target int, addr uint64, set bool) {
	for i, cp := range c.cpus {
		if target >= 0 && i != target {
			continue
		}
		if !set {
			cp.SetBreakpoint(nil)
			continue
		}
		cp.SetBreakpoint(func(pc uint64) bool { return pc == addr })
	}
}
