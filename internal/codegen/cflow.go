package codegen

import "github.com/dm-sbt/rv2x86/internal/ir"

// lowerControlFlow lowers b's terminating CfOp(s) (spec §4.5.4). A cjump is
// always immediately followed by its sibling fall-through jump in
// b.ControlFlowOps, so the two are consumed together.
func (c *compiler) lowerControlFlow(b *ir.BasicBlock) {
	ops := b.ControlFlowOps
	for i := 0; i < len(ops); i++ {
		op := ops[i]
		switch op.Kind {
		case ir.CfJump:
			c.writeTargetInputs(op.TargetInputs, op.Target.Inputs)
			c.jumpToBlock(op.Target)
		case ir.CfCjump:
			var fallthroughOp *ir.CfOp
			if i+1 < len(ops) && ops[i+1].Kind == ir.CfJump {
				fallthroughOp = ops[i+1]
				i++
			}
			c.lowerCjump(op, fallthroughOp)
		case ir.CfCall:
			c.lowerCall(op)
		case ir.CfIcall:
			c.lowerIcall(op)
		case ir.CfIjump:
			c.lowerIjump(op)
		case ir.CfReturn:
			c.lowerReturn(op)
		case ir.CfSyscall:
			c.lowerSyscall(op)
		case ir.CfUnreachable:
			c.lowerUnreachable(op)
		}
	}
}

// writeTargetInputs writes each value to the static its corresponding target
// block input is bound to. This always runs, even across an MBRA-carried
// chain where the target block will actually read the value straight from its
// carried register rather than reloading the static: the extra store is
// redundant but harmless in that case. Eliding it requires codegen to know
// which jumps mbra.go actually chained, which is not threaded through yet
// (documented simplification, see DESIGN.md).
func (c *compiler) writeTargetInputs(values []*ir.SSAVar, targets []*ir.SSAVar) {
	for i, v := range values {
		src := allocRegToReg[v.Loc.Reg]
		c.buf.regMemRIP(0x89, true, src)
		c.buf.relocPCRel32(Symbol{Name: staticSymbolName(targets[i].StaticIdx)})
	}
}

func (c *compiler) writeMapping(m []ir.StaticMapping) {
	for _, sm := range m {
		src := allocRegToReg[sm.Value.Loc.Reg]
		c.buf.regMemRIP(0x89, true, src)
		c.buf.relocPCRel32(Symbol{Name: staticSymbolName(sm.Static)})
	}
}

func (c *compiler) jumpToBlock(target *ir.BasicBlock) {
	c.buf.u8(0xE9) // JMP rel32
	c.buf.relocPCRel32(Symbol{BlockAddr: target.StartAddr})
}

func (c *compiler) callBlock(target *ir.BasicBlock) {
	c.buf.u8(0xE8) // CALL rel32
	c.buf.relocPCRel32(Symbol{BlockAddr: target.StartAddr})
}

func cmpToCC(cmp ir.CmpKind) byte {
	switch cmp {
	case ir.CmpEq:
		return ccE
	case ir.CmpNeq:
		return ccNE
	case ir.CmpLt:
		return ccB
	case ir.CmpGt:
		return ccA
	case ir.CmpSlt:
		return ccL
	default: // ir.CmpSgt
		return ccG
	}
}

// lowerCjump emits `cmp a, b` then a short branch over the taken path's
// target-input writes and jump; falling through instead writes the
// fall-through jump's own target inputs. Both legs end in an unconditional
// jmp rel32 to their respective block (layout never guarantees physical
// fall-through, since block order in .ttext is an elfwriter decision).
func (c *compiler) lowerCjump(cj *ir.CfOp, fallthroughOp *ir.CfOp) {
	a := allocRegToReg[cj.Inputs[0].Loc.Reg]
	b := allocRegToReg[cj.Inputs[1].Loc.Reg]
	c.buf.regRegOp(0x39, true, b, a) // cmp a, b

	cc := cmpToCC(cj.Cmp)
	skipPos := c.buf.Len()
	c.buf.u8(0x70 + (cc ^ 1)) // Jcc rel8, inverted condition
	c.buf.u8(0)
	skipStart := c.buf.Len()

	c.writeTargetInputs(cj.TargetInputs, cj.Target.Inputs)
	c.jumpToBlock(cj.Target)
	c.buf.Bytes[skipPos+1] = byte(c.buf.Len() - skipStart)

	if fallthroughOp != nil {
		c.writeTargetInputs(fallthroughOp.TargetInputs, fallthroughOp.Target.Inputs)
		c.jumpToBlock(fallthroughOp.Target)
	}
}

// lowerCall lowers a direct guest call: enter the callee via a real x86 CALL
// (so the callee's eventual CfReturn's RET lands back here), then once it
// returns, write the continuation's mapping and jump to the resume block.
func (c *compiler) lowerCall(cj *ir.CfOp) {
	c.writeTargetInputs(cj.TargetInputs, cj.Target.Inputs)
	c.callBlock(cj.Target)
	c.writeMapping(cj.ContMapping)
	c.jumpToBlock(cj.Continuation)
}

// lowerIcall is CfCall's indirect counterpart: the callee address is not
// known at translation time, so it is resolved at runtime by icall_lookup
// against the .ijumps table (a CHD perfect hash over guest addresses, or the
// dense table when that was built instead; spec §4.5.5), which returns here
// once the callee itself eventually returns.
func (c *compiler) lowerIcall(cj *ir.CfOp) {
	c.writeIjumpMapping(cj.IjumpMapping)
	c.stageIjumpTarget(cj)
	c.callIjumpTrampoline("icall_lookup")
	c.writeMapping(cj.ContMapping)
	c.jumpToBlock(cj.Continuation)
}

// lowerIjump is a guest indirect jump: ijump_lookup resolves and dispatches
// to the target block directly, so nothing here ever regains control on the
// success path; on a miss the trampoline jumps to the runtime's panic path.
func (c *compiler) lowerIjump(cj *ir.CfOp) {
	c.writeIjumpMapping(cj.IjumpMapping)
	c.stageIjumpTarget(cj)
	c.callIjumpTrampoline("ijump_lookup")
}

func (c *compiler) writeIjumpMapping(m []ir.StaticMapping) {
	for _, sm := range m {
		src := allocRegToReg[sm.Value.Loc.Reg]
		c.buf.regMemRIP(0x89, true, src)
		c.buf.relocPCRel32(Symbol{Name: staticSymbolName(sm.Static)})
	}
}

func (c *compiler) lowerReturn(cj *ir.CfOp) {
	c.writeMapping(cj.Mapping)
	c.buf.u8(0xC3) // RET
}

// lowerSyscall marshals up to 6 register arguments (rdi, rsi, rdx, rcx, r8,
// r9) plus a 7th stack argument into the runtime helper's C calling
// convention, calls it, copies its (value, err)-shaped result into the two
// syscall-result statics, writes the continuation mapping, and resumes.
func (c *compiler) lowerSyscall(cj *ir.CfOp) {
	argRegs := [6]reg{rDI, rSI, rDX, rCX, r8, r9}
	for i := 0; i < cj.NumIn; i++ {
		src := allocRegToReg[cj.Inputs[i].Loc.Reg]
		if i < len(argRegs) {
			if argRegs[i] != src {
				c.buf.regRegOp(0x89, true, src, argRegs[i])
			}
		} else {
			c.buf.u8(rexOf(false, false, false, extBit(src)))
			c.buf.u8(0x50 + low3(src)) // PUSH r64
		}
	}

	c.buf.u8(0xE8) // CALL rel32
	c.buf.relocPCRel32(Symbol{Name: "syscall_impl"})

	resultRegs := [2]reg{rAX, rDX}
	for i := 0; i < cj.NumSyscallStatics; i++ {
		c.buf.regMemRIP(0x89, true, resultRegs[i])
		c.buf.relocPCRel32(Symbol{Name: staticSymbolName(cj.SyscallStatics[i])})
	}

	c.writeMapping(cj.Mapping)
	c.jumpToBlock(cj.Continuation)
}

func (c *compiler) lowerUnreachable(cj *ir.CfOp) {
	c.buf.u8(0xE8) // CALL rel32
	c.buf.relocPCRel32(Symbol{Name: "panic"})
}
