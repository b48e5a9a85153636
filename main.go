/*
 * gxemul - Main process.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rcornwell/gxemul/command/reader"
	config "github.com/rcornwell/gxemul/config/configparser"
	"github.com/rcornwell/gxemul/emu/core"
	"github.com/rcornwell/gxemul/emu/cpu"
	"github.com/rcornwell/gxemul/emu/dyntrans"
	"github.com/rcornwell/gxemul/emu/isa"
	"github.com/rcornwell/gxemul/emu/master"
	"github.com/rcornwell/gxemul/emu/memory"
	"github.com/rcornwell/gxemul/emu/vph"
	logger "github.com/rcornwell/gxemul/util/logger"

	_ "github.com/rcornwell/gxemul/config/debugconfig"
	_ "github.com/rcornwell/gxemul/emu/isa/minimips"
)

// defaultVPHSlots is the per-CPU VPH table's reverse-TLB slot count; generous
// enough that a small guest program never thrashes it.
const defaultVPHSlots = 64

// defaultArenaBytes is used when a CPU line does not set arena=.
const defaultArenaBytes = 4 << 20

var Logger *slog.Logger

func main() {
	optConfig := getopt.StringLong("config", 'c', "gxemul.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optMetrics := getopt.StringLong("metrics", 'm', "", "Prometheus metrics listen address, e.g. :9100")
	optCPUs := getopt.IntLong("cpus", 'n', 0, "Override the configured CPU count")
	optMaxInstr := getopt.Uint64Long("maxinstr", 0, 0, "Halt each CPU after this many retired instructions (0: unlimited)")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		file, _ = os.Create(*optLogFile)
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	debugOn := false
	Logger = slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel, AddSource: false}, &debugOn))
	slog.SetDefault(Logger)

	Logger.Info("gxemul started")

	if *optConfig == "" {
		Logger.Error("please specify a configuration file")
		os.Exit(1)
	}
	if _, err := os.Stat(*optConfig); os.IsNotExist(err) {
		Logger.Error("configuration file not found", "path", *optConfig)
		os.Exit(1)
	}
	if err := config.LoadConfigFile(*optConfig); err != nil {
		Logger.Error(err.Error())
		os.Exit(1)
	}

	family, ok := isa.Lookup(config.Machine.CPUFamily)
	if !ok {
		Logger.Error("unknown CPU family", "family", config.Machine.CPUFamily)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	mem := memory.New(uint32(config.Machine.MemSize))

	arenaBytes := config.Machine.ArenaBytes
	if arenaBytes == 0 {
		arenaBytes = defaultArenaBytes
	}
	chunkSize := config.Machine.ChunkSize
	if chunkSize == 0 {
		chunkSize = core.DefaultChunkSize
	}

	cpuCount := config.Machine.CPUCount
	if *optCPUs > 0 {
		cpuCount = *optCPUs
	}

	breakSet := make(map[uint64]bool, len(config.Machine.Breakpoint))
	for _, addr := range config.Machine.Breakpoint {
		breakSet[addr] = true
	}

	cpus := make([]*cpu.CPU, cpuCount)
	for i := range cpus {
		metrics := dyntrans.NewMetrics(registry, fmt.Sprintf("%d", i))
		vphTab := vph.NewTable32(defaultVPHSlots)
		vphTab.SetMetrics(metrics)
		cpus[i] = cpu.New(i, family, mem, vphTab, arenaBytes, metrics, Logger)
		cpus[i].Start(config.Machine.Start)
		if len(breakSet) > 0 {
			cpus[i].SetBreakpoint(func(pc uint64) bool { return breakSet[pc] })
		}
	}

	if *optMetrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*optMetrics, mux); err != nil {
				Logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	masterChannel := make(chan master.Packet)
	sim := core.New(cpus, masterChannel, chunkSize, *optMaxInstr, Logger)
	sim.Start()

	go reader.ConsoleReader(sim, masterChannel)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	Logger.Info("shutting down")
	sim.Stop()
}
