/*
gxemul Translation cache instrumentation.

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
package dyntrans

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the per-CPU dyntrans cache counters the original gathers
// via gather_statistics() into a text dump on exit; here they are
// ordinary Prometheus counters so they can be scraped live instead.
type Metrics struct {
	CacheResets    prometheus.Counter
	PagesAllocated prometheus.Counter
	PageLookups    prometheus.Counter
	Combined       prometheus.Counter
	VPHEvictions   prometheus.Counter
	TickFires      prometheus.Counter
}

// NewMetrics registers one set of cache counters labelled by cpuID and
// returns them. Pass a prometheus.NewRegistry() from the top-level
// runner; with nil the counters are created but registered nowhere.
func NewMetrics(reg prometheus.Registerer, cpuID string) *Metrics {
	m := &Metrics{
		CacheResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "gxemul",
			Subsystem:   "dyntrans",
			Name:        "cache_resets_total",
			Help:        "Number of times this CPU's translation arena was reset after exhaustion.",
			ConstLabels: prometheus.Labels{"cpu": cpuID},
		}),
		PagesAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "gxemul",
			Subsystem:   "dyntrans",
			Name:        "pages_allocated_total",
			Help:        "Number of physical pages allocated in the translation arena, across all resets.",
			ConstLabels: prometheus.Labels{"cpu": cpuID},
		}),
		PageLookups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "gxemul",
			Subsystem:   "dyntrans",
			Name:        "page_lookups_total",
			Help:        "Number of translation cache lookups performed.",
			ConstLabels: prometheus.Labels{"cpu": cpuID},
		}),
		Combined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "gxemul",
			Subsystem:   "dyntrans",
			Name:        "instructions_combined_total",
			Help:        "Number of instruction calls fused by the combination checker.",
			ConstLabels: prometheus.Labels{"cpu": cpuID},
		}),
		VPHEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "gxemul",
			Subsystem:   "vph",
			Name:        "tlb_evictions_total",
			Help:        "Number of times the reverse-lookup TLB evicted a live slot for a different virtual page.",
			ConstLabels: prometheus.Labels{"cpu": cpuID},
		}),
		TickFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "gxemul",
			Subsystem:   "cpu",
			Name:        "tick_device_fires_total",
			Help:        "Number of times a per-CPU tick device's countdown reached zero.",
			ConstLabels: prometheus.Labels{"cpu": cpuID},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CacheResets, m.PagesAllocated, m.PageLookups, m.Combined, m.VPHEvictions, m.TickFires)
	}
	return m
}
