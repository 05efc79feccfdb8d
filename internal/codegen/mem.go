package codegen

import "github.com/dm-sbt/rv2x86/internal/ir"

// allocRegToReg maps a regalloc.RealReg (allocation-order index) to its x86-64
// encoding, per spec §4.5.1's fourteen allocatable GPRs.
var allocRegToReg = [14]reg{
	rAX, rBX, rCX, rDX, rDI, rSI, r8, r9, r10, r11, r12, r13, r14, r15,
}

// operandKind is a resolved SSAVar's materialization, derived from its
// ir.Location (set by internal/regalloc) for the instruction selector.
type operandKind byte

const (
	opndReg operandKind = iota
	opndStackSlot
	opndStatic
	opndImmediate
)

// operand is what select.go resolves a value to just before encoding: either a
// concrete register, a [rbp - disp] stack slot, a [rip + static_off] static
// slot, or a literal immediate (never spilled, per regalloc's model).
type operand struct {
	kind operandKind
	reg  reg
	disp int32    // valid for opndStackSlot: byte offset subtracted from rbp
	stat ir.StaticID
	imm  int64
}

// slotDisp returns slot k's byte offset from rbp: slots grow downward from the
// frame pointer in 8-byte units. rbp is not a per-block frame pointer here —
// it is fixed once, at process start, to the top of a single shared spill
// area reused by every translated block (internal/pipeline's _start thunk),
// safe since translated code runs single-threaded and never reenters a block
// while an earlier invocation's spills are still live.
func slotDisp(slot int32) int32 { return 8 + 8*slot }

// staticByteOffset returns static index s's byte offset within the .tbss
// statics table: the table is a flat array of 8-byte slots in static-index
// order (spec §3's fixed static table; spec §6 exports a symbol sN per slot,
// which the ELF writer computes from this same stride).
func staticByteOffset(s ir.StaticID) int32 { return int32(s) * 8 }

// resolve converts v's already-decided ir.Location into an operand for the
// instruction encoder.
func resolve(v *ir.SSAVar) operand {
	switch v.Loc.Kind {
	case ir.LocInRegister:
		return operand{kind: opndReg, reg: allocRegToReg[v.Loc.Reg]}
	case ir.LocInStackSlot:
		return operand{kind: opndStackSlot, disp: slotDisp(v.Loc.Slot)}
	case ir.LocInStatic:
		return operand{kind: opndStatic, stat: v.Loc.Stat}
	default: // ir.LocNotMaterialized: always an immediate, recomputed at point of use
		return operand{kind: opndImmediate, imm: v.ImmValue}
	}
}
