package lifter

import (
	"github.com/dm-sbt/rv2x86/internal/ir"
	"github.com/dm-sbt/rv2x86/internal/loader"
)

type handler func(l *Lifter, addr uint64, in loader.Instruction)

var opcodeTable map[string]handler

func init() {
	opcodeTable = map[string]handler{
		"add": rrArith(ir.OpAdd, ir.TypeI64), "addw": rrArith(ir.OpAdd, ir.TypeI32),
		"sub": rrArith(ir.OpSub, ir.TypeI64), "subw": rrArith(ir.OpSub, ir.TypeI32),
		"sll": rrShift(ir.OpShl, ir.TypeI64), "sllw": rrShift(ir.OpShl, ir.TypeI32),
		"srl": rrShift(ir.OpShr, ir.TypeI64), "srlw": rrShift(ir.OpShr, ir.TypeI32),
		"sra": rrShift(ir.OpSar, ir.TypeI64), "sraw": rrShift(ir.OpSar, ir.TypeI32),
		"or": rrArith(ir.OpOr, ir.TypeI64), "and": rrArith(ir.OpAnd, ir.TypeI64), "xor": rrArith(ir.OpXor, ir.TypeI64),
		"slt": rrCompare(ir.OpSlt), "sltu": rrCompare(ir.OpSltu),

		"mul": rrArith(ir.OpMulL, ir.TypeI64), "mulw": rrArith(ir.OpMulL, ir.TypeI32),
		"mulh": rrArith(ir.OpSsmulH, ir.TypeI64), "mulhu": rrArith(ir.OpUumulH, ir.TypeI64), "mulhsu": rrArith(ir.OpSumulH, ir.TypeI64),
		"div": rrDiv(ir.OpDiv, ir.TypeI64, 0), "divw": rrDiv(ir.OpDiv, ir.TypeI32, 0),
		"divu": rrDiv(ir.OpUdiv, ir.TypeI64, 0), "divuw": rrDiv(ir.OpUdiv, ir.TypeI32, 0),
		"rem": rrDiv(ir.OpDiv, ir.TypeI64, 1), "remw": rrDiv(ir.OpDiv, ir.TypeI32, 1),
		"remu": rrDiv(ir.OpUdiv, ir.TypeI64, 1), "remuw": rrDiv(ir.OpUdiv, ir.TypeI32, 1),

		"addi": riArith(ir.OpAdd, ir.TypeI64), "addiw": riArith(ir.OpAdd, ir.TypeI32),
		"xori": riArith(ir.OpXor, ir.TypeI64), "ori": riArith(ir.OpOr, ir.TypeI64), "andi": riArith(ir.OpAnd, ir.TypeI64),
		"slti": riCompare(ir.OpSlt), "sltiu": riCompare(ir.OpSltu),
		"slli": riShift(ir.OpShl, ir.TypeI64), "slliw": riShift(ir.OpShl, ir.TypeI32),
		"srli": riShift(ir.OpShr, ir.TypeI64), "srliw": riShift(ir.OpShr, ir.TypeI32),
		"srai": riShift(ir.OpSar, ir.TypeI64), "sraiw": riShift(ir.OpSar, ir.TypeI32),

		"lui":   liftLUI,
		"auipc": liftAUIPC,
		"jal":   liftJAL,
		"jalr":  liftJALR,

		"beq": branch(ir.CmpEq), "bne": branch(ir.CmpNeq),
		"blt": branch(ir.CmpSlt), "bge": branch(ir.CmpSgt),
		"bltu": branch(ir.CmpLt), "bgeu": branch(ir.CmpGt),

		"lb": load(ir.TypeI8, true), "lh": load(ir.TypeI16, true), "lw": load(ir.TypeI32, true), "ld": load(ir.TypeI64, true),
		"lbu": load(ir.TypeI8, false), "lhu": load(ir.TypeI16, false), "lwu": load(ir.TypeI32, false),

		"sb": store(ir.TypeI8), "sh": store(ir.TypeI16), "sw": store(ir.TypeI32), "sd": store(ir.TypeI64),

		"ecall": liftECALL,

		"fence": liftFence, "fence.i": liftFence,

		"lr.w":      amoLoadReserve,
		"sc.w":      amoStoreConditional,
		"amoswap.w": amoRMW(ir.OpInvalid), // OpInvalid signals "take rhs verbatim" (swap).
		"amoadd.w":  amoRMW(ir.OpAdd),
	}
}

func reg(l *Lifter, x int8) *ir.SSAVar {
	if x == 0 {
		z := ir.Immediate(l.cur.AllocValueID(), ir.TypeI64, 0, false)
		l.cur.AppendVar(z)
		return z
	}
	return l.regs[ir.GPR(int(x))]
}

func setReg(l *Lifter, x int8, v *ir.SSAVar) {
	if x == 0 {
		return // x0 is hard-wired to zero; writes are discarded.
	}
	v.DestStatic = ir.GPR(int(x))
	l.regs[ir.GPR(int(x))] = v
}

func emit(l *Lifter, addr uint64, typ ir.Type, op *ir.Operation) *ir.SSAVar {
	v := ir.FromOperation(l.cur.AllocValueID(), typ, op)
	v.AssignAddr = addr
	op.SetOutputs(v)
	l.cur.AppendVar(v)
	return v
}

func imm(l *Lifter, addr uint64, typ ir.Type, value int64) *ir.SSAVar {
	v := ir.Immediate(l.cur.AllocValueID(), typ, value, false)
	v.AssignAddr = addr
	l.cur.AppendVar(v)
	return v
}

func narrowIfNeeded(l *Lifter, addr uint64, v *ir.SSAVar, typ ir.Type) *ir.SSAVar {
	if v.Type == typ {
		return v
	}
	return emit(l, addr, typ, ir.NewOperation(ir.OpCast, v))
}

func signExtendTo64(l *Lifter, addr uint64, v *ir.SSAVar) *ir.SSAVar {
	if v.Type == ir.TypeI64 {
		return v
	}
	return emit(l, addr, ir.TypeI64, ir.NewOperation(ir.OpSignExtend, v))
}

func zeroExtendTo64(l *Lifter, addr uint64, v *ir.SSAVar) *ir.SSAVar {
	if v.Type == ir.TypeI64 {
		return v
	}
	return emit(l, addr, ir.TypeI64, ir.NewOperation(ir.OpZeroExtend, v))
}

// rrArith implements the "register-register arithmetic/logic" contract: narrow to
// i32 if needed, apply the op, sign-extend back to i64 for the W-suffixed forms.
func rrArith(op ir.Opcode, typ ir.Type) handler {
	return func(l *Lifter, addr uint64, in loader.Instruction) {
		a, b := reg(l, in.Rs1), reg(l, in.Rs2)
		if typ == ir.TypeI32 {
			a, b = narrowIfNeeded(l, addr, a, typ), narrowIfNeeded(l, addr, b, typ)
		}
		r := emit(l, addr, typ, ir.NewOperation(op, a, b))
		if typ == ir.TypeI32 {
			r = signExtendTo64(l, addr, r)
		}
		setReg(l, in.Rd, r)
	}
}

func rrShift(op ir.Opcode, typ ir.Type) handler {
	return func(l *Lifter, addr uint64, in loader.Instruction) {
		a, b := reg(l, in.Rs1), reg(l, in.Rs2)
		if typ == ir.TypeI32 {
			a = narrowIfNeeded(l, addr, a, typ)
		}
		mask := int64(0x1F)
		if typ == ir.TypeI64 {
			mask = 0x3F
		}
		maskImm := imm(l, addr, ir.TypeI64, mask)
		b = emit(l, addr, ir.TypeI64, ir.NewOperation(ir.OpAnd, b, maskImm))
		r := emit(l, addr, typ, ir.NewOperation(op, a, b))
		if typ == ir.TypeI32 {
			r = signExtendTo64(l, addr, r)
		}
		setReg(l, in.Rd, r)
	}
}

func rrCompare(op ir.Opcode) handler {
	return func(l *Lifter, addr uint64, in loader.Instruction) {
		a, b := reg(l, in.Rs1), reg(l, in.Rs2)
		one := imm(l, addr, ir.TypeI64, 1)
		zero := imm(l, addr, ir.TypeI64, 0)
		o := ir.NewOperation(op, a, b, one, zero)
		r := emit(l, addr, ir.TypeI64, o)
		setReg(l, in.Rd, r)
	}
}

func rrDiv(op ir.Opcode, typ ir.Type, want int) handler {
	return func(l *Lifter, addr uint64, in loader.Instruction) {
		a, b := reg(l, in.Rs1), reg(l, in.Rs2)
		if typ == ir.TypeI32 {
			a, b = narrowIfNeeded(l, addr, a, typ), narrowIfNeeded(l, addr, b, typ)
		}
		o := ir.NewOperation(op, a, b)
		q := ir.FromOperation(l.cur.AllocValueID(), typ, o)
		q.AssignAddr = addr
		rem := ir.FromOperation(l.cur.AllocValueID(), typ, o)
		rem.AssignAddr = addr
		l.cur.AppendVar(q)
		l.cur.AppendVar(rem)
		o.SetOutputs(q, rem)
		res := q
		if want == 1 {
			res = rem
		}
		if typ == ir.TypeI32 {
			res = signExtendTo64(l, addr, res)
		}
		setReg(l, in.Rd, res)
	}
}

// riArith implements the "register-immediate" contract, including the rs1=x0 + add
// => pure-immediate special case.
func riArith(op ir.Opcode, typ ir.Type) handler {
	return func(l *Lifter, addr uint64, in loader.Instruction) {
		if in.Rs1 == 0 && op == ir.OpAdd {
			r := imm(l, addr, typ, in.Imm1)
			if typ == ir.TypeI32 {
				r = signExtendTo64(l, addr, r)
			}
			setReg(l, in.Rd, r)
			return
		}
		a := reg(l, in.Rs1)
		if typ == ir.TypeI32 {
			a = narrowIfNeeded(l, addr, a, typ)
		}
		b := imm(l, addr, typ, in.Imm1)
		r := emit(l, addr, typ, ir.NewOperation(op, a, b))
		if typ == ir.TypeI32 {
			r = signExtendTo64(l, addr, r)
		}
		setReg(l, in.Rd, r)
	}
}

func riCompare(op ir.Opcode) handler {
	return func(l *Lifter, addr uint64, in loader.Instruction) {
		a := reg(l, in.Rs1)
		b := imm(l, addr, ir.TypeI64, in.Imm1)
		one := imm(l, addr, ir.TypeI64, 1)
		zero := imm(l, addr, ir.TypeI64, 0)
		o := ir.NewOperation(op, a, b, one, zero)
		r := emit(l, addr, ir.TypeI64, o)
		setReg(l, in.Rd, r)
	}
}

// riShift implements the "shifts" contract: mask the shift amount by 0x1F (i32) or
// 0x3F (i64) before applying.
func riShift(op ir.Opcode, typ ir.Type) handler {
	return func(l *Lifter, addr uint64, in loader.Instruction) {
		a := reg(l, in.Rs1)
		if typ == ir.TypeI32 {
			a = narrowIfNeeded(l, addr, a, typ)
		}
		mask := int64(0x1F)
		if typ == ir.TypeI64 {
			mask = 0x3F
		}
		shamt := imm(l, addr, ir.TypeI64, in.Imm1&mask)
		r := emit(l, addr, typ, ir.NewOperation(op, a, shamt))
		if typ == ir.TypeI32 {
			r = signExtendTo64(l, addr, r)
		}
		setReg(l, in.Rd, r)
	}
}

func liftLUI(l *Lifter, addr uint64, in loader.Instruction) {
	r := imm(l, addr, ir.TypeI64, in.Imm1)
	setReg(l, in.Rd, r)
}

func liftAUIPC(l *Lifter, addr uint64, in loader.Instruction) {
	r := imm(l, addr, ir.TypeI64, int64(addr)+in.Imm1)
	setReg(l, in.Rd, r)
}

// liftJAL implements the JAL contract: if rd != x0 assign the return address and
// emit a jump; when rd is a link register (ra/x1 or x5) emit a call instead so the
// allocator can wire a continuation block.
func liftJAL(l *Lifter, addr uint64, in loader.Instruction) {
	target := uint64(int64(addr) + in.Imm1)
	if in.Rd != 0 {
		ra := imm(l, addr, ir.TypeI64, int64(addr)+int64(in.Size))
		setReg(l, in.Rd, ra)
	}
	if in.Rd == 1 || in.Rd == 5 {
		c := ir.NewCfOp(ir.CfCall)
		c.HasJumpAddr, c.JumpAddr = true, target
		l.cur.AppendCfOp(c)
		return
	}
	c := ir.NewCfOp(ir.CfJump)
	c.HasJumpAddr, c.JumpAddr = true, target
	for i := range l.ir.Statics {
		c.AddTargetInput(l.regs[ir.StaticID(i)])
	}
	l.cur.AppendCfOp(c)
}

// liftJALR implements the JALR contract: zero-offset-and-no-link is an ijump; with a
// link-register destination it is an icall.
func liftJALR(l *Lifter, addr uint64, in loader.Instruction) {
	base := reg(l, in.Rs1)
	var dest *ir.SSAVar
	if in.Imm1 == 0 {
		dest = base
	} else {
		off := imm(l, addr, ir.TypeI64, in.Imm1)
		dest = emit(l, addr, ir.TypeI64, ir.NewOperation(ir.OpAdd, base, off))
	}
	if in.Rd != 0 {
		ra := imm(l, addr, ir.TypeI64, int64(addr)+int64(in.Size))
		setReg(l, in.Rd, ra)
	}
	isLink := in.Rd == 1 || in.Rd == 5
	kind := ir.CfIjump
	if isLink {
		kind = ir.CfIcall
	}
	c := ir.NewCfOp(kind, dest)
	l.cur.AppendCfOp(c)
}

func branch(cmp ir.CmpKind) handler {
	return func(l *Lifter, addr uint64, in loader.Instruction) {
		a, b := reg(l, in.Rs1), reg(l, in.Rs2)
		target := uint64(int64(addr) + in.Imm1)
		fallthroughAddr := addr + uint64(in.Size)

		regsAtBranch := l.regs.clone()

		cj := ir.NewCfOp(ir.CfCjump, a, b)
		cj.Cmp = cmp
		cj.HasJumpAddr, cj.JumpAddr = true, target
		for i := range l.ir.Statics {
			cj.AddTargetInput(regsAtBranch[ir.StaticID(i)])
		}
		l.cur.AppendCfOp(cj)

		fj := ir.NewCfOp(ir.CfJump)
		fj.HasJumpAddr, fj.JumpAddr = true, fallthroughAddr
		for i := range l.ir.Statics {
			fj.AddTargetInput(regsAtBranch[ir.StaticID(i)])
		}
		l.cur.AppendCfOp(fj)
	}
}

// load implements the "loads" contract.
func load(typ ir.Type, signed bool) handler {
	return func(l *Lifter, addr uint64, in loader.Instruction) {
		base := reg(l, in.Rs1)
		off := imm(l, addr, ir.TypeI64, in.Imm1)
		a := emit(l, addr, ir.TypeI64, ir.NewOperation(ir.OpAdd, base, off))
		mt := l.regs[ir.StaticMT]
		lo := ir.NewOperation(ir.OpLoad, a, mt)
		v := ir.FromOperation(l.cur.AllocValueID(), typ, lo)
		v.AssignAddr = addr
		lo.SetOutputs(v)
		l.cur.AppendVar(v)
		var r *ir.SSAVar = v
		if typ != ir.TypeI64 {
			if signed {
				r = signExtendTo64(l, addr, v)
			} else {
				r = zeroExtendTo64(l, addr, v)
			}
		}
		setReg(l, in.Rd, r)
	}
}

// store implements the "stores" contract.
func store(typ ir.Type) handler {
	return func(l *Lifter, addr uint64, in loader.Instruction) {
		base := reg(l, in.Rs1)
		off := imm(l, addr, ir.TypeI64, in.Imm1)
		a := emit(l, addr, ir.TypeI64, ir.NewOperation(ir.OpAdd, base, off))
		val := narrowIfNeeded(l, addr, reg(l, in.Rs2), typ)
		mt := l.regs[ir.StaticMT]
		so := ir.NewOperation(ir.OpStore, a, val, mt)
		newMT := ir.FromOperation(l.cur.AllocValueID(), ir.TypeMT, so)
		newMT.AssignAddr = addr
		so.SetOutputs(newMT)
		l.cur.AppendVar(newMT)
		l.regs[ir.StaticMT] = newMT
	}
}

// liftECALL implements the ECALL contract: a syscall cfop whose inputs are the seven
// guest registers {a7,a0..a5} and whose static_mapping is {a0,a1}. A syscall returns
// to the guest, so it carries a concrete continuation target exactly like a jump;
// the codegen overwrites SyscallStatics with the runtime's actual return values
// before entering that target.
func liftECALL(l *Lifter, addr uint64, in loader.Instruction) {
	a7 := reg(l, 17)
	a0, a1, a2, a3, a4, a5 := reg(l, 10), reg(l, 11), reg(l, 12), reg(l, 13), reg(l, 14), reg(l, 15)
	c := ir.NewCfOp(ir.CfSyscall, a7, a0, a1, a2, a3, a4, a5)
	c.SyscallStatics[0], c.SyscallStatics[1] = ir.GPR(10), ir.GPR(11)
	c.NumSyscallStatics = 2
	c.HasJumpAddr, c.JumpAddr = true, addr+uint64(in.Size)
	for i := range l.ir.Statics {
		c.AddTargetInput(l.regs[ir.StaticID(i)])
	}
	l.cur.AppendCfOp(c)
}

func liftFence(l *Lifter, addr uint64, in loader.Instruction) {
	// Fences are pure memory-ordering hints; the single-threaded-guest target
	// (spec §1 Non-goals) makes them no-ops in the IR.
}

// Atomics (LR/SC/AMO) are lowered to non-atomic load+op+store sequences (spec
// §4.2.1): the system targets single-threaded guests and relies on the host's lack
// of reordering across the lowered sequence.
func amoLoadReserve(l *Lifter, addr uint64, in loader.Instruction) {
	load(ir.TypeI32, true)(l, addr, loader.Instruction{Rd: in.Rd, Rs1: in.Rs1, Imm1: 0, Size: in.Size})
}

func amoStoreConditional(l *Lifter, addr uint64, in loader.Instruction) {
	store(ir.TypeI32)(l, addr, loader.Instruction{Rs1: in.Rs1, Rs2: in.Rs2, Imm1: 0, Size: in.Size})
	zero := imm(l, addr, ir.TypeI64, 0)
	setReg(l, in.Rd, zero) // sc.w always reports success in the non-atomic lowering.
}

// amoRMW lowers an AMO read-modify-write to a non-atomic load, apply, store
// sequence (spec §4.2.1). op==ir.OpInvalid means "store rhs verbatim" (amoswap.w);
// any other opcode combines the loaded value with rhs before storing.
func amoRMW(op ir.Opcode) handler {
	return func(l *Lifter, addr uint64, in loader.Instruction) {
		base := reg(l, in.Rs1)
		zero := imm(l, addr, ir.TypeI64, 0)
		a := emit(l, addr, ir.TypeI64, ir.NewOperation(ir.OpAdd, base, zero))
		mt := l.regs[ir.StaticMT]
		lo := ir.NewOperation(ir.OpLoad, a, mt)
		old := ir.FromOperation(l.cur.AllocValueID(), ir.TypeI32, lo)
		old.AssignAddr = addr
		lo.SetOutputs(old)
		l.cur.AppendVar(old)

		rhs32 := narrowIfNeeded(l, addr, reg(l, in.Rs2), ir.TypeI32)
		newVal := rhs32
		if op != ir.OpInvalid {
			newVal = emit(l, addr, ir.TypeI32, ir.NewOperation(op, old, rhs32))
		}

		so := ir.NewOperation(ir.OpStore, a, newVal, l.regs[ir.StaticMT])
		newMT := ir.FromOperation(l.cur.AllocValueID(), ir.TypeMT, so)
		newMT.AssignAddr = addr
		so.SetOutputs(newMT)
		l.cur.AppendVar(newMT)
		l.regs[ir.StaticMT] = newMT

		setReg(l, in.Rd, signExtendTo64(l, addr, old))
	}
}
