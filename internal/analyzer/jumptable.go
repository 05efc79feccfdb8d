package analyzer

import (
	"github.com/dm-sbt/rv2x86/internal/ir"
	"github.com/dm-sbt/rv2x86/internal/loader"
)

// defaultTableCap bounds how many 4-byte slots the recognizer scans when no guard
// cjump is found to supply an explicit entry count, preventing a runaway scan over
// a misrecognized pattern.
const defaultTableCap = 256

// recognizeJumpTable detects `x <- add a, b; y <- load x; ijump y (offset 0, no
// link)` (spec §4.3 "Jump-table recognizer"), recovers the table's compile-time base
// address from the standard LUI+ADDI immediate pair, and reads each 4-byte entry
// from the guest image directly, returning the decoded target addresses.
func recognizeJumpTable(prog *ir.Program, src loader.Program, b *ir.BasicBlock, c *ir.CfOp) ([]int64, bool) {
	if c.Kind != ir.CfIjump || c.HasJumpAddr {
		return nil, false
	}
	y := c.Inputs[0]
	if y.Kind != ir.InfoOperation || y.Op.Opcode != ir.OpLoad {
		return nil, false
	}
	x := y.Op.Inputs[0]
	if x.Kind != ir.InfoOperation || x.Op.Opcode != ir.OpAdd {
		return nil, false
	}

	base, ok := constantOperand(x.Op.Inputs[0])
	if !ok {
		base, ok = constantOperand(x.Op.Inputs[1])
	}
	if !ok {
		return nil, false
	}

	count := tableBound(prog, b)
	var targets []int64
	for i := 0; i < count; i++ {
		word, ok := readU32LE(src, uint64(base)+uint64(i*4))
		if !ok {
			break
		}
		targets = append(targets, int64(int32(word)))
	}
	if len(targets) == 0 {
		return nil, false
	}
	return targets, true
}

// constantOperand reports whether v is a compile-time-known address: either a plain
// immediate, or the standard LUI+ADDI pair folded into a single add of two
// immediates (spec §4.3: "a base address loaded by the standard LUI+ADDI pair").
func constantOperand(v *ir.SSAVar) (int64, bool) {
	if v.Kind == ir.InfoImmediate {
		return v.ImmValue, true
	}
	if v.Kind == ir.InfoOperation && v.Op.Opcode == ir.OpAdd {
		a, b := v.Op.Inputs[0], v.Op.Inputs[1]
		if a.Kind == ir.InfoImmediate && b.Kind == ir.InfoImmediate {
			r, _ := ir.EvalBinary(ir.OpAdd, v.Type, uint64(a.ImmValue), uint64(b.ImmValue))
			return int64(r), true
		}
	}
	return 0, false
}

// tableBound looks for a guarded cjump in a predecessor of b that bounds the switch
// index, returning an entry count derived from its immediate comparand, or
// defaultTableCap if no such guard is found (spec §4.3: "optionally an upper bound
// from a preceding guarded cjump").
func tableBound(prog *ir.Program, b *ir.BasicBlock) int {
	for _, predID := range b.Predecessors {
		pred := prog.Block(predID)
		for _, c := range pred.ControlFlowOps {
			if c.Kind != ir.CfCjump || c.Target != b {
				continue
			}
			for _, in := range c.Inputs[:c.NumIn] {
				if in != nil && in.Kind == ir.InfoImmediate {
					return int(in.ImmValue) + 1
				}
			}
		}
	}
	return defaultTableCap
}

// readU32LE reads a little-endian 32-bit word from four consecutive raw data bytes
// in src, failing if any of the four addresses has no mapped byte payload (e.g. it
// falls in an executable segment instead of rodata).
func readU32LE(src loader.Program, addr uint64) (uint32, bool) {
	var w uint32
	for i := uint64(0); i < 4; i++ {
		kind, _, b := src.At(addr + i)
		if kind != loader.PayloadByte {
			return 0, false
		}
		w |= uint32(b) << (8 * i)
	}
	return w, true
}
