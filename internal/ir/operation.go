package ir

import "fmt"

// Opcode is the closed set of IR operations (spec §4.1).
type Opcode uint32

const (
	OpInvalid Opcode = iota

	// memory
	OpLoad  // (addr, mt) -> val
	OpStore // (addr, val, mt) -> mt'

	// arith
	OpAdd
	OpSub
	OpMulL   // low half of the product
	OpSsmulH // signed*signed upper half
	OpUumulH // unsigned*unsigned upper half
	OpSumulH // signed*unsigned upper half
	OpDiv    // signed: yields quotient and/or remainder
	OpUdiv   // unsigned: yields quotient and/or remainder

	// logical/shift
	OpShl
	OpShr // logical
	OpSar
	OpOr
	OpAnd
	OpXor
	OpNot

	// select/compare
	OpSlt  // signed less-than select: (v1 < v2) ? v3 : v4
	OpSltu // unsigned less-than select
	OpSle  // less-than-or-equal select
	OpSeq  // equal select

	// morph
	OpCast       // narrow, or bit-identical f<->i reinterpret
	OpSignExtend // widen only
	OpZeroExtend // widen only

	// min/max
	OpUmin
	OpUmax
	OpMin // signed
	OpMax // signed

	// fp
	OpFmul
	OpFdiv
	OpFsqrt
	OpFfmadd
	OpFfmsub
	OpFfnmadd
	OpFfnmsub
	OpFmin
	OpFmax
	OpFlt
	OpFle
	OpFeq
	OpConvert  // int -> float
	OpUconvert // unsigned int -> float

	// stack
	OpSetupStack // produces initial guest SP from the runtime
)

var opcodeNames = map[Opcode]string{
	OpLoad: "load", OpStore: "store",
	OpAdd: "add", OpSub: "sub", OpMulL: "mul_l", OpSsmulH: "ssmul_h", OpUumulH: "uumul_h",
	OpSumulH: "sumul_h", OpDiv: "div", OpUdiv: "udiv",
	OpShl: "shl", OpShr: "shr", OpSar: "sar", OpOr: "or", OpAnd: "and", OpXor: "xor", OpNot: "not",
	OpSlt: "slt", OpSltu: "sltu", OpSle: "sle", OpSeq: "seq",
	OpCast: "cast", OpSignExtend: "sign_extend", OpZeroExtend: "zero_extend",
	OpUmin: "umin", OpUmax: "umax", OpMin: "min", OpMax: "max",
	OpFmul: "fmul", OpFdiv: "fdiv", OpFsqrt: "fsqrt", OpFfmadd: "ffmadd", OpFfmsub: "ffmsub",
	OpFfnmadd: "ffnmadd", OpFfnmsub: "ffnmsub", OpFmin: "fmin", OpFmax: "fmax",
	OpFlt: "flt", OpFle: "fle", OpFeq: "feq", OpConvert: "convert", OpUconvert: "uconvert",
	OpSetupStack: "setup_stack",
}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("opcode(%d)", o)
}

// IsDiv reports whether o is one of the two division opcodes, which may produce up
// to two outputs (quotient, remainder).
func (o Opcode) IsDiv() bool { return o == OpDiv || o == OpUdiv }

// RoundingMode selects the IEEE-754 rounding behavior of an fp operation.
type RoundingMode byte

const (
	RoundZero RoundingMode = iota
	RoundNearest
	RoundDown
	RoundUp
	// RoundDynamic indicates the rounding mode is itself an SSAVar (dynamic
	// rounding), in which case RoundingVar is consulted instead of Rounding.
	RoundDynamic
)

// Operation is a typed instruction from the closed opcode set. It holds up to 4
// owning input SSAVar references and up to 3 non-owning output back-pointers; the
// outputs live inside their own owning SSAVar (see value.go: SSAVar.Op).
type Operation struct {
	Opcode Opcode

	// Inputs holds up to 4 owning references, in operand order. Memory operations
	// use the last slot for the memory token: load(addr, mt), store(addr, val, mt).
	Inputs [4]*SSAVar
	NumIn  int

	// Outputs holds up to 3 non-owning back-pointers to the SSAVar(s) this
	// operation produces. Outputs[0] is nil only for a pure-effect store whose sole
	// result is the produced memory token, which store still reports as Outputs[0].
	Outputs [3]*SSAVar
	NumOut  int

	// Rounding is consulted when RoundingVar is nil.
	Rounding RoundingMode
	// RoundingVar, if non-nil, is an owning reference to an SSAVar supplying a
	// dynamic rounding mode (only meaningful together with Rounding == RoundDynamic).
	RoundingVar *SSAVar
}

// NewOperation builds an Operation and wires owning references (bumping ref counts)
// on the given inputs. Outputs must be attached afterwards via SetOutputs, since the
// output SSAVar typically embeds this very Operation (op.Outputs[i].Op == op).
func NewOperation(opcode Opcode, inputs ...*SSAVar) *Operation {
	if len(inputs) > 4 {
		panic("ir: BUG: operation has more than 4 inputs")
	}
	op := &Operation{Opcode: opcode, NumIn: len(inputs)}
	for i, in := range inputs {
		op.Inputs[i] = in
		if in != nil {
			in.IncRef()
		}
	}
	return op
}

// SetOutputs records the (up to 3) SSAVars produced by op. This does not affect
// reference counts: outputs are non-owning back-pointers.
func (op *Operation) SetOutputs(outs ...*SSAVar) {
	if len(outs) > 3 {
		panic("ir: BUG: operation has more than 3 outputs")
	}
	op.NumOut = len(outs)
	for i, o := range outs {
		op.Outputs[i] = o
	}
}

// ReplaceInput rewrites input slot i to point at repl, adjusting reference counts
// on both the old and new value. Used by the optimizer's rewriter.
func (op *Operation) ReplaceInput(i int, repl *SSAVar) {
	old := op.Inputs[i]
	if old == repl {
		return
	}
	if old != nil {
		old.DecRef()
	}
	op.Inputs[i] = repl
	if repl != nil {
		repl.IncRef()
	}
}

// String implements fmt.Stringer for debug dumps.
func (op *Operation) String() string {
	names := make([]string, op.NumIn)
	for i := 0; i < op.NumIn; i++ {
		if op.Inputs[i] != nil {
			names[i] = op.Inputs[i].Name()
		} else {
			names[i] = "<nil>"
		}
	}
	return fmt.Sprintf("%s(%v)", op.Opcode, names)
}
