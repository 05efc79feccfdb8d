package analyzer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dm-sbt/rv2x86/internal/config"
	"github.com/dm-sbt/rv2x86/internal/ir"
	"github.com/dm-sbt/rv2x86/internal/loader"
)

type fakeProgram struct {
	bytes map[uint64]byte
}

func (f *fakeProgram) Addresses() []uint64 { return nil }

func (f *fakeProgram) At(addr uint64) (loader.PayloadKind, loader.Instruction, byte) {
	if b, ok := f.bytes[addr]; ok {
		return loader.PayloadByte, loader.Instruction{}, b
	}
	return loader.PayloadAbsent, loader.Instruction{}, 0
}

func (f *fakeProgram) Metadata() loader.Metadata { return loader.Metadata{} }

func putU32LE(m map[uint64]byte, addr uint64, v uint32) {
	m[addr+0] = byte(v)
	m[addr+1] = byte(v >> 8)
	m[addr+2] = byte(v >> 16)
	m[addr+3] = byte(v >> 24)
}

func TestResolveIndirectJumpsBacktracksAddOfImmediates(t *testing.T) {
	prog := ir.NewProgram(ir.Header{BBAddrLo: 0x1000, BBAddrHi: 0x2000})
	b := prog.NewBlock(0x1000, "")

	a := ir.Immediate(b.AllocValueID(), ir.TypeI64, 0x1008, false)
	b.AppendVar(a)
	off := ir.Immediate(b.AllocValueID(), ir.TypeI64, 0x10, false)
	b.AppendVar(off)
	op := ir.NewOperation(ir.OpAdd, a, off)
	sum := ir.FromOperation(b.AllocValueID(), ir.TypeI64, op)
	op.SetOutputs(sum)
	b.AppendVar(sum)

	c := ir.NewCfOp(ir.CfIjump, sum)
	b.AppendCfOp(c)

	needsBlock := map[uint64]bool{}
	cfg := config.New()
	ResolveIndirectJumps(cfg, prog, &fakeProgram{}, needsBlock)

	require.Len(t, c.Discovered, 1)
	require.EqualValues(t, 0x1018, c.Discovered[0])
	require.True(t, needsBlock[0x1018])
	require.True(t, c.HasJumpAddr)
	require.EqualValues(t, 0x1018, c.JumpAddr)
}

func TestResolveIndirectJumpsBacktracksThroughFromStatic(t *testing.T) {
	prog := ir.NewProgram(ir.Header{BBAddrLo: 0x2000, BBAddrHi: 0x3000})
	pb := prog.NewBlock(0x1000, "pred")
	b := prog.NewBlock(0x1100, "")
	in := b.AddInput(ir.TypeI64, ir.GPR(10))

	val := ir.Immediate(pb.AllocValueID(), ir.TypeI64, 0x2040, false)
	pb.AppendVar(val)
	jmp := ir.NewCfOp(ir.CfJump)
	jmp.Target = b
	for i := 0; i < ir.NumStatics; i++ {
		if ir.StaticID(i) == ir.GPR(10) {
			jmp.AddTargetInput(val)
			continue
		}
		z := ir.Immediate(pb.AllocValueID(), prog.Statics[i].Type, 0, false)
		pb.AppendVar(z)
		jmp.AddTargetInput(z)
	}
	pb.AppendCfOp(jmp)
	prog.Connect(pb.ID, b.ID)

	c := ir.NewCfOp(ir.CfIjump, in)
	b.AppendCfOp(c)

	needsBlock := map[uint64]bool{}
	cfg := config.New()
	ResolveIndirectJumps(cfg, prog, &fakeProgram{}, needsBlock)

	require.Len(t, c.Discovered, 1)
	require.EqualValues(t, 0x2040, c.Discovered[0])
}

func TestResolveIndirectJumpsRecognizesJumpTable(t *testing.T) {
	prog := ir.NewProgram(ir.Header{BBAddrLo: 0x1000, BBAddrHi: 0x2000})
	b := prog.NewBlock(0x1000, "")

	baseHi := ir.Immediate(b.AllocValueID(), ir.TypeI64, 0x9000, false)
	b.AppendVar(baseHi)
	baseLo := ir.Immediate(b.AllocValueID(), ir.TypeI64, 0x40, false)
	b.AppendVar(baseLo)
	baseOp := ir.NewOperation(ir.OpAdd, baseHi, baseLo)
	baseAddr := ir.FromOperation(b.AllocValueID(), ir.TypeI64, baseOp)
	baseOp.SetOutputs(baseAddr)
	b.AppendVar(baseAddr)

	idx := ir.Immediate(b.AllocValueID(), ir.TypeI64, 0, false)
	b.AppendVar(idx)
	addrOp := ir.NewOperation(ir.OpAdd, baseAddr, idx)
	addr := ir.FromOperation(b.AllocValueID(), ir.TypeI64, addrOp)
	addrOp.SetOutputs(addr)
	b.AppendVar(addr)

	mt := ir.FromStatic(b.AllocValueID(), ir.TypeMT, ir.StaticMT)
	b.AppendVar(mt)
	loadOp := ir.NewOperation(ir.OpLoad, addr, mt)
	loaded := ir.FromOperation(b.AllocValueID(), ir.TypeI32, loadOp)
	loadOp.SetOutputs(loaded)
	b.AppendVar(loaded)

	c := ir.NewCfOp(ir.CfIjump, loaded)
	b.AppendCfOp(c)

	fp := &fakeProgram{bytes: map[uint64]byte{}}
	putU32LE(fp.bytes, 0x9040, 0x1500)
	putU32LE(fp.bytes, 0x9044, 0x1600)

	needsBlock := map[uint64]bool{}
	cfg := config.New()
	ResolveIndirectJumps(cfg, prog, fp, needsBlock)

	require.Contains(t, c.Discovered, uint64(0x1500))
	require.Contains(t, c.Discovered, uint64(0x1600))
}

func TestResolveIndirectJumpsLeavesUnresolvedAlone(t *testing.T) {
	prog := ir.NewProgram(ir.Header{BBAddrLo: 0x1000, BBAddrHi: 0x2000})
	b := prog.NewBlock(0x1000, "")
	in := b.AddInput(ir.TypeI64, ir.GPR(11)) // no predecessors: cannot backtrack.

	c := ir.NewCfOp(ir.CfIjump, in)
	b.AppendCfOp(c)

	needsBlock := map[uint64]bool{}
	cfg := config.New()
	ResolveIndirectJumps(cfg, prog, &fakeProgram{}, needsBlock)

	require.Empty(t, c.Discovered)
	require.False(t, c.HasJumpAddr)
}
