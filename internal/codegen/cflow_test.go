package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dm-sbt/rv2x86/internal/ir"
)

func blockAt(addr uint64, name string) *ir.BasicBlock {
	return &ir.BasicBlock{StartAddr: addr, DebugName: name}
}

func TestJumpToBlockEmitsRel32WithBlockAddrReloc(t *testing.T) {
	c := &compiler{}
	target := blockAt(0x4000, "bb7")

	c.jumpToBlock(target)

	require.Equal(t, byte(0xE9), c.buf.Bytes[0])
	require.Len(t, c.buf.Relocs, 1)
	require.Equal(t, RelocPCRel32, c.buf.Relocs[0].Kind)
	require.EqualValues(t, 0x4000, c.buf.Relocs[0].Target.BlockAddr)
	require.Equal(t, 1, c.buf.Relocs[0].Offset)
}

func TestCallBlockEmitsCallRel32(t *testing.T) {
	c := &compiler{}
	target := blockAt(0x5000, "bb9")

	c.callBlock(target)

	require.Equal(t, byte(0xE8), c.buf.Bytes[0])
	require.EqualValues(t, 0x5000, c.buf.Relocs[0].Target.BlockAddr)
}

func TestCmpToCCMapsEveryCmpKind(t *testing.T) {
	require.Equal(t, byte(ccE), cmpToCC(ir.CmpEq))
	require.Equal(t, byte(ccNE), cmpToCC(ir.CmpNeq))
	require.Equal(t, byte(ccB), cmpToCC(ir.CmpLt))
	require.Equal(t, byte(ccA), cmpToCC(ir.CmpGt))
	require.Equal(t, byte(ccL), cmpToCC(ir.CmpSlt))
	require.Equal(t, byte(ccG), cmpToCC(ir.CmpSgt))
}

func TestLowerCjumpEmitsCmpShortBranchAndBothLegs(t *testing.T) {
	c := &compiler{}
	a := regVar(ir.TypeI64, 0)
	b := regVar(ir.TypeI64, 1)
	taken := blockAt(0x100, "taken")
	fallthru := blockAt(0x200, "fallthru")

	cj := ir.NewCfOp(ir.CfCjump, a, b)
	cj.Cmp = ir.CmpEq
	cj.Target = taken

	fj := ir.NewCfOp(ir.CfJump)
	fj.Target = fallthru

	c.lowerCjump(cj, fj)

	require.Equal(t, byte(0x39), c.buf.Bytes[0]) // cmp
	require.Equal(t, byte(0x70+(ccE^1)), c.buf.Bytes[3])
	require.Len(t, c.buf.Relocs, 2)
	require.EqualValues(t, 0x100, c.buf.Relocs[0].Target.BlockAddr)
	require.EqualValues(t, 0x200, c.buf.Relocs[1].Target.BlockAddr)
}

func TestLowerCjumpWithoutFallthroughOnlyEmitsTakenLeg(t *testing.T) {
	c := &compiler{}
	a := regVar(ir.TypeI64, 0)
	b := regVar(ir.TypeI64, 1)
	taken := blockAt(0x300, "taken")

	cj := ir.NewCfOp(ir.CfCjump, a, b)
	cj.Cmp = ir.CmpSlt
	cj.Target = taken

	c.lowerCjump(cj, nil)

	require.Len(t, c.buf.Relocs, 1)
}

func TestLowerCallEmitsWritesCallThenContinuation(t *testing.T) {
	c := &compiler{}
	callee := blockAt(0x900, "callee")
	cont := blockAt(0x910, "cont")

	cj := ir.NewCfOp(ir.CfCall)
	cj.Target = callee
	cj.Continuation = cont

	c.lowerCall(cj)

	require.Equal(t, byte(0xE8), c.buf.Bytes[0])
	require.Len(t, c.buf.Relocs, 2)
	require.EqualValues(t, 0x900, c.buf.Relocs[0].Target.BlockAddr)
	require.Equal(t, byte(0xE9), c.buf.Bytes[c.buf.Relocs[1].Offset-1])
}

func TestLowerReturnWritesMappingThenRET(t *testing.T) {
	c := &compiler{}
	val := regVar(ir.TypeI64, 0)

	cj := ir.NewCfOp(ir.CfReturn)
	cj.Mapping = []ir.StaticMapping{{Value: val, Static: 3}}

	c.lowerReturn(cj)

	require.Equal(t, byte(0xC3), c.buf.Bytes[len(c.buf.Bytes)-1])
	require.Len(t, c.buf.Relocs, 1)
	require.Equal(t, "s3", c.buf.Relocs[0].Target.Name)
}

func TestLowerUnreachableCallsPanic(t *testing.T) {
	c := &compiler{}

	c.lowerUnreachable(nil)

	require.Equal(t, byte(0xE8), c.buf.Bytes[0])
	require.Equal(t, "panic", c.buf.Relocs[0].Target.Name)
}

func TestLowerSyscallMarshalsArgsAndCopiesResults(t *testing.T) {
	c := &compiler{}
	arg0 := regVar(ir.TypeI64, 1) // rBX, needs moving into rdi
	cont := blockAt(0x700, "cont")

	cj := ir.NewCfOp(ir.CfSyscall, arg0)
	cj.NumIn = 1
	cj.NumSyscallStatics = 1
	cj.SyscallStatics[0] = 5
	cj.Continuation = cont

	c.lowerSyscall(cj)

	// mov rdi,src (3) + call syscall_impl (5) + mov [rip+s5],rax (7) + jmp cont (5)
	require.Equal(t, byte(0x89), c.buf.Bytes[1])
	foundCallSyscall := false
	for _, r := range c.buf.Relocs {
		if r.Target.Name == "syscall_impl" {
			foundCallSyscall = true
		}
	}
	require.True(t, foundCallSyscall)
}

func TestLowerControlFlowConsumesCjumpAndItsFallthroughTogether(t *testing.T) {
	b := &ir.BasicBlock{}
	a := regVar(ir.TypeI64, 0)
	bv := regVar(ir.TypeI64, 1)
	taken := blockAt(0x10, "taken")
	fallthru := blockAt(0x20, "fallthru")

	cj := ir.NewCfOp(ir.CfCjump, a, bv)
	cj.Cmp = ir.CmpEq
	cj.Target = taken
	fj := ir.NewCfOp(ir.CfJump)
	fj.Target = fallthru
	b.ControlFlowOps = []*ir.CfOp{cj, fj}

	c := &compiler{}
	c.lowerControlFlow(b)

	require.Len(t, c.buf.Relocs, 2)
}
