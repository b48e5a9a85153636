/*
gxemul Instruction combination (fusion) framework.

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

// Rule recognizes a fixed-length window of already-decoded instruction
// calls ending at slot (inclusive) and, on a match, returns a fused
// handler that performs every matched instruction's effect in one
// call. window is the number of preceding slots (including slot
// itself) the rule inspects; a rule is only tried when slot is at least
// window-1, so the window fits inside the page. Whether the earlier
// slots have been decoded is left to Match.
//
// This is the generic shape behind gxemul's per-ISA combination code
// (e.g. cpu_arm_instr.c's recognizer for an stm/subs/bgt decrement
// loop, or MIPS's recognizer for a store/addiu/bne memset loop): match
// a short tail of the instruction stream, and if it is a known
// idiom, replace the tail with a single handler that implements the
// whole idiom's semantics without going back through dispatch once per
// guest instruction.
type Rule struct {
	Window  int
	Match   func(page *Physpage, slot int) bool
	Handler Handler
}

// RuleCombiner adapts a list of Rules into a Combiner: the first
// matching rule (in order) wins.
func RuleCombiner(rules []Rule) Combiner {
	return func(_ CPUContext, page *Physpage, slot int) bool {
		for _, r := range rules {
			if slot+1 < r.Window {
				continue
			}
			if r.Match(page, slot) {
				page.ICS[slot].F = r.Handler
				return true
			}
		}
		return false
	}
}
