// Package lifter walks decoded guest instructions and emits the typed SSA IR,
// recovering control flow by splitting basic blocks at every discovered entry point
// (spec §4.2).
package lifter

import (
	"go.uber.org/zap"

	"github.com/dm-sbt/rv2x86/internal/analyzer"
	"github.com/dm-sbt/rv2x86/internal/config"
	"github.com/dm-sbt/rv2x86/internal/ir"
	"github.com/dm-sbt/rv2x86/internal/loader"
)

// regMap tracks, for each static id, the SSAVar currently holding its value within
// the block being built (spec §4.2 step 3).
type regMap map[ir.StaticID]*ir.SSAVar

func (m regMap) clone() regMap {
	out := make(regMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Lifter performs the linear sweep over a loader.Program and produces a populated
// *ir.Program.
type Lifter struct {
	cfg *config.Config
	log *zap.SugaredLogger

	prog loader.Program
	ir   *ir.Program

	// needsBlock marks guest addresses (aligned to 2 bytes) requiring their own
	// block entry; it is the "per-2-byte needs-block bitmap" of spec §4.2 step 2.
	needsBlock map[uint64]bool

	// pending cfops that could not be resolved to a concrete target during the
	// sweep and are revisited in the post-pass (spec §4.2 step 5).
	unresolved []*ir.CfOp

	cur    *ir.BasicBlock
	regs   regMap
}

// Lift runs the full lifting procedure (spec §4.2 steps 1-6) and returns the
// populated IR.
func Lift(cfg *config.Config, src loader.Program) (*ir.Program, error) {
	meta := src.Metadata()
	prog := ir.NewProgram(ir.Header{
		BaseAddr:    meta.BaseAddr,
		LoadSize:    meta.LoadSize,
		PhdrOffset:  meta.PhdrOffset,
		PhdrCount:   meta.PhdrCount,
		PhdrEntSize: meta.PhdrEntSize,
		EntryAddr:   meta.EntryAddr,
	})

	l := &Lifter{
		cfg:        cfg,
		log:        cfg.Logger(),
		ir:         prog,
		needsBlock: map[uint64]bool{meta.EntryAddr: true},
	}
	l.prog = src

	addrs := src.Addresses()
	prog.Header.BBAddrLo, prog.Header.BBAddrHi = boundAddrs(addrs)

	l.sweep(src, addrs)
	l.postPass(src)
	l.synthesizeEntry(meta.EntryAddr)

	return prog, nil
}

func boundAddrs(addrs []uint64) (lo, hi uint64) {
	if len(addrs) == 0 {
		return 0, 0
	}
	return addrs[0], addrs[len(addrs)-1] + 2
}

// sweep implements spec §4.2 step 3: walk addresses ascending, opening/closing
// blocks at discovered entry points and dispatching to per-opcode lifter routines.
func (l *Lifter) sweep(src loader.Program, addrs []uint64) {
	for _, addr := range addrs {
		if l.needsBlock[addr] && l.cur != nil {
			l.sealFallthrough(addr)
		}
		if l.cur == nil {
			l.openBlock(addr)
		}

		kind, inst, _ := src.At(addr)
		switch kind {
		case loader.PayloadInstruction:
			l.liftOne(addr, inst)
		default:
			l.liftUnreachable(addr)
		}
	}
	if l.cur != nil && len(l.cur.ControlFlowOps) == 0 {
		l.liftUnreachable(l.cur.LastAddress())
	}
}

// openBlock starts lifting into the block at addr (creating it if none exists yet)
// and seeds its register map with a fresh from-static input for every static.
func (l *Lifter) openBlock(addr uint64) {
	b, existed := l.ir.BlockAt(addr)
	if !existed {
		b = l.ir.NewBlock(addr, "")
	}
	l.cur = b
	l.regs = make(regMap, len(l.ir.Statics))
	for i := range l.ir.Statics {
		sid := ir.StaticID(i)
		v := b.AddInput(l.ir.Statics[i].Type, sid)
		v.DestStatic = sid
		l.regs[sid] = v
	}
}

// sealFallthrough closes the current block with a fall-through jump to the block
// starting at addr (spec §4.2 step 3 bullet 1).
func (l *Lifter) sealFallthrough(addr uint64) {
	target, existed := l.ir.BlockAt(addr)
	if !existed {
		target = l.ir.NewBlock(addr, "")
	}
	l.emitJump(target)
	l.cur = nil
}

func (l *Lifter) emitJump(target *ir.BasicBlock) {
	c := ir.NewCfOp(ir.CfJump)
	c.Target = target
	for i := range l.ir.Statics {
		c.AddTargetInput(l.regs[ir.StaticID(i)])
	}
	l.cur.AppendCfOp(c)
	l.ir.Connect(l.cur.ID, target.ID)
}

func (l *Lifter) liftUnreachable(addr uint64) {
	c := ir.NewCfOp(ir.CfUnreachable)
	l.cur.AppendCfOp(c)
	l.ir.Connect(l.cur.ID, ir.DummyBlockID)
	l.cur = nil
}

// liftOne dispatches a single decoded instruction to its per-opcode lift routine
// (spec §4.2.1). At the emission of any cfop, the current block is sealed.
func (l *Lifter) liftOne(addr uint64, in loader.Instruction) {
	h, ok := opcodeTable[in.Mnemonic]
	if !ok {
		l.log.Debugw("unsupported opcode lifted as unreachable", "addr", addr, "mnemonic", in.Mnemonic)
		l.liftUnreachable(addr)
		return
	}
	h(l, addr, in)
	if l.cur != nil && len(l.cur.ControlFlowOps) > 0 {
		l.sealBlock(addr, in)
	}
}

// sealBlock implements spec §4.2 step 4: resolve jump_addr for any cfop emitted,
// splitting or using the dummy block as needed, then close the current block.
func (l *Lifter) sealBlock(addr uint64, in loader.Instruction) {
	b := l.cur
	for _, c := range b.ControlFlowOps {
		l.resolveTarget(b, c, addr, in)
	}
	l.cur = nil
}

func (l *Lifter) resolveTarget(b *ir.BasicBlock, c *ir.CfOp, addr uint64, in loader.Instruction) {
	if c.Kind == ir.CfCall || c.Kind == ir.CfIcall {
		// Both direct and indirect calls return here, so the fall-through address
		// always needs its own block (spec §4.2 step 4).
		l.needsBlock[addr+uint64(in.Size)] = true
	}
	if c.Kind == ir.CfIjump || c.Kind == ir.CfIcall || c.Kind == ir.CfReturn || c.Kind == ir.CfUnreachable {
		if c.Target == nil {
			c.Target = l.ir.Dummy()
			l.ir.Connect(b.ID, ir.DummyBlockID)
			l.unresolved = append(l.unresolved, c)
		}
		return
	}
	if !c.HasJumpAddr {
		return
	}
	lo, hi := l.ir.Header.BBAddrLo, l.ir.Header.BBAddrHi
	if c.JumpAddr < lo || c.JumpAddr >= hi {
		c.Target = l.ir.Dummy()
		l.ir.Connect(b.ID, ir.DummyBlockID)
		l.unresolved = append(l.unresolved, c)
		return
	}
	l.needsBlock[c.JumpAddr] = true
	if existing, ok := l.ir.BlockAt(c.JumpAddr); ok {
		c.Target = existing
		l.ir.Connect(b.ID, existing.ID)
		return
	}
	// The target address falls inside an already-created block: schedule a split
	// (spec §4.2.2), performed in the post-pass once every address is known.
	l.unresolved = append(l.unresolved, c)
}

// postPass implements spec §4.2 step 5.
func (l *Lifter) postPass(src loader.Program) {
	SplitAll(l.ir, l.needsBlock)
	for _, c := range l.unresolved {
		if c.Target != nil && c.Target.ID != ir.DummyBlockID {
			continue
		}
		if c.HasJumpAddr {
			if blk, ok := l.ir.BlockAt(c.JumpAddr); ok {
				l.ir.Disconnect(blockOf(l.ir, c), ir.DummyBlockID)
				c.Target = blk
				l.ir.Connect(blockOf(l.ir, c), blk.ID)
				continue
			}
		}
		if c.Kind == ir.CfIjump || c.Kind == ir.CfIcall {
			continue // left as a dynamic transfer, routed through the runtime lookup.
		}
	}
	RelativizeImmediates(l.ir)
	analyzer.ResolveIndirectJumps(l.cfg, l.ir, src, l.needsBlock)
	SplitAll(l.ir, l.needsBlock)
}

func blockOf(p *ir.Program, c *ir.CfOp) ir.BasicBlockID {
	for _, b := range p.Blocks {
		for _, bc := range b.ControlFlowOps {
			if bc == c {
				return b.ID
			}
		}
	}
	return ir.DummyBlockID
}

// synthesizeEntry implements spec §4.2 step 6.
func (l *Lifter) synthesizeEntry(entryAddr uint64) {
	entry := l.ir.NewBlock(0, "entry")
	// entry is registered under address 0, then its StartAddr is set just below
	// the guest entry; the dummy block is identified by BasicBlockID == 0.
	entry.StartAddr = entryAddr - 1

	sp := entry.AllocValueID()
	spVar := ir.FromOperation(sp, ir.TypeI64, ir.NewOperation(ir.OpSetupStack))
	entry.AppendVar(spVar)
	spVar.Op.SetOutputs(spVar)
	spVar.DestStatic = ir.GPR(2)

	target, ok := l.ir.BlockAt(entryAddr)
	if !ok {
		panic("lifter: BUG: entry address has no block")
	}

	c := ir.NewCfOp(ir.CfJump)
	c.Target = target
	for i := range l.ir.Statics {
		sid := ir.StaticID(i)
		if sid == ir.GPR(2) {
			c.AddTargetInput(spVar)
		} else {
			imm := ir.Immediate(entry.AllocValueID(), l.ir.Statics[i].Type, 0, false)
			entry.AppendVar(imm)
			c.AddTargetInput(imm)
		}
	}
	entry.AppendCfOp(c)
	l.ir.Connect(entry.ID, target.ID)
	l.ir.EntryID = entry.ID
}
