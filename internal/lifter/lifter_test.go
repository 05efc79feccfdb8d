package lifter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dm-sbt/rv2x86/internal/config"
	"github.com/dm-sbt/rv2x86/internal/ir"
	"github.com/dm-sbt/rv2x86/internal/loader"
)

type fakeSrc struct {
	addrs []uint64
	insts map[uint64]loader.Instruction
	meta  loader.Metadata
}

func (f *fakeSrc) Addresses() []uint64 { return f.addrs }

func (f *fakeSrc) At(addr uint64) (loader.PayloadKind, loader.Instruction, byte) {
	if in, ok := f.insts[addr]; ok {
		return loader.PayloadInstruction, in, 0
	}
	return loader.PayloadAbsent, loader.Instruction{}, 0
}

func (f *fakeSrc) Metadata() loader.Metadata { return f.meta }

func straightLineProgram() *fakeSrc {
	insts := map[uint64]loader.Instruction{
		0x1000: {Mnemonic: "addi", Rd: 10, Rs1: 0, Imm1: 5, Size: 4},
		0x1004: {Mnemonic: "addi", Rd: 11, Rs1: 0, Imm1: 7, Size: 4},
		0x1008: {Mnemonic: "add", Rd: 10, Rs1: 10, Rs2: 11, Size: 4},
		0x100c: {Mnemonic: "ecall", Size: 4},
	}
	return &fakeSrc{
		addrs: []uint64{0x1000, 0x1004, 0x1008, 0x100c},
		insts: insts,
		meta: loader.Metadata{
			BaseAddr:  0x1000,
			LoadSize:  0x1000,
			EntryAddr: 0x1000,
		},
	}
}

func TestLiftStraightLineProgram(t *testing.T) {
	cfg := config.New()
	prog, err := Lift(cfg, straightLineProgram())
	require.NoError(t, err)
	require.NoError(t, ir.Verify(prog))

	entry := prog.Entry()
	require.NotEqual(t, ir.DummyBlockID, entry.ID)
	require.Len(t, entry.ControlFlowOps, 1)
	require.Equal(t, ir.CfJump, entry.ControlFlowOps[0].Kind)

	target := entry.ControlFlowOps[0].Target
	require.NotNil(t, target)
	require.Equal(t, uint64(0x1000), target.StartAddr)

	// No branch in the program, so the ecall closes the single block at 0x1000.
	ecallBlock, ok := prog.BlockAt(0x1000)
	require.True(t, ok)
	require.Len(t, ecallBlock.ControlFlowOps, 1)
	sc := ecallBlock.ControlFlowOps[0]
	require.Equal(t, ir.CfSyscall, sc.Kind)
	require.True(t, sc.HasJumpAddr)
	require.EqualValues(t, 0x1010, sc.JumpAddr)
	require.Equal(t, ir.GPR(10), sc.SyscallStatics[0])
	require.Equal(t, ir.GPR(11), sc.SyscallStatics[1])
}

func TestLiftUnreachableOnUndecodedOpcode(t *testing.T) {
	src := &fakeSrc{
		addrs: []uint64{0x2000},
		insts: map[uint64]loader.Instruction{
			0x2000: {Mnemonic: "bogus.opcode", Size: 4},
		},
		meta: loader.Metadata{BaseAddr: 0x2000, LoadSize: 0x10, EntryAddr: 0x2000},
	}
	cfg := config.New()
	prog, err := Lift(cfg, src)
	require.NoError(t, err)
	require.NoError(t, ir.Verify(prog))

	b, ok := prog.BlockAt(0x2000)
	require.True(t, ok)
	require.Len(t, b.ControlFlowOps, 1)
	require.Equal(t, ir.CfUnreachable, b.ControlFlowOps[0].Kind)
}

func TestLiftBranchSplitsBlocks(t *testing.T) {
	insts := map[uint64]loader.Instruction{
		0x1000: {Mnemonic: "addi", Rd: 10, Rs1: 0, Imm1: 1, Size: 4},
		0x1004: {Mnemonic: "beq", Rs1: 10, Rs2: 0, Imm1: 8, Size: 4}, // -> 0x100c
		0x1008: {Mnemonic: "addi", Rd: 11, Rs1: 0, Imm1: 2, Size: 4},
		0x100c: {Mnemonic: "ecall", Size: 4},
	}
	src := &fakeSrc{
		addrs: []uint64{0x1000, 0x1004, 0x1008, 0x100c},
		insts: insts,
		meta:  loader.Metadata{BaseAddr: 0x1000, LoadSize: 0x1000, EntryAddr: 0x1000},
	}
	cfg := config.New()
	prog, err := Lift(cfg, src)
	require.NoError(t, err)
	require.NoError(t, ir.Verify(prog))

	target, ok := prog.BlockAt(0x100c)
	require.True(t, ok)
	require.GreaterOrEqual(t, len(target.Predecessors), 2)
}
