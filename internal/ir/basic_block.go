package ir

import "fmt"

// BasicBlockID is the unique ID of a BasicBlock, and also its index into
// Program.Blocks.
type BasicBlockID uint32

// DummyBlockID is the block standing in for unresolved dynamic targets: the block
// whose guest start address is 0 (spec §3).
const DummyBlockID BasicBlockID = 0

// BasicBlock is a maximal straight-line sequence of SSAVars terminated by control
// flow operations (spec §3).
type BasicBlock struct {
	ID BasicBlockID

	// Identity.
	DebugName    string
	StartAddr    uint64
	EndAddr      uint64 // exclusive

	// Inputs are non-owning pointers to SSAVars inside this block (in Variables)
	// that represent block parameters; each has Kind == InfoFromStatic.
	Inputs []*SSAVar

	// Variables are owned by this block, in definition order.
	Variables []*SSAVar

	// ControlFlowOps terminate the block. Most blocks hold exactly one; a cjump
	// additionally has a sibling fall-through jump appended right after it.
	ControlFlowOps []*CfOp

	// Predecessors/Successors are non-owning index lists into Program.Blocks.
	Predecessors []BasicBlockID
	Successors   []BasicBlockID

	nextVarID ValueID
}

// Name returns the canonical debug name, e.g. "bb3".
func (b *BasicBlock) Name() string {
	if b.DebugName != "" {
		return b.DebugName
	}
	return fmt.Sprintf("bb%d", b.ID)
}

// IsDummy reports whether b is the dummy block for unresolved dynamic targets.
func (b *BasicBlock) IsDummy() bool { return b.StartAddr == 0 && b.ID == DummyBlockID }

// AllocValueID returns a fresh ValueID unique within b.
func (b *BasicBlock) AllocValueID() ValueID {
	id := b.nextVarID
	b.nextVarID++
	return id
}

// AppendVar registers v as owned by b, appending it to Variables in definition
// order. The caller must have already allocated v.ID via AllocValueID.
func (b *BasicBlock) AppendVar(v *SSAVar) {
	b.Variables = append(b.Variables, v)
}

// AddInput appends a new from-static block parameter and registers it both as an
// owned variable and as a block input. Returns the new SSAVar.
func (b *BasicBlock) AddInput(typ Type, static StaticID) *SSAVar {
	v := FromStatic(b.AllocValueID(), typ, static)
	b.AppendVar(v)
	b.Inputs = append(b.Inputs, v)
	return v
}

// AppendCfOp appends a control flow op to b. Predecessor/successor edges (invariant
// 3) are not wired here; callers pair this with a separate Program.Connect call for
// every concrete target.
func (b *BasicBlock) AppendCfOp(c *CfOp) {
	b.ControlFlowOps = append(b.ControlFlowOps, c)
}

// LastAddress returns the virtual address of the last variable appended to b, or
// b.StartAddr if b has no variables yet. Used by block splitting (spec §4.2.2).
func (b *BasicBlock) LastAddress() uint64 {
	if len(b.Variables) == 0 {
		return b.StartAddr
	}
	return b.Variables[len(b.Variables)-1].AssignAddr
}

// Destroy tears b down, releasing owning references in reverse definition order so
// reference counts reach zero cleanly (spec §3 lifecycle).
func (b *BasicBlock) Destroy() {
	for i := len(b.Variables) - 1; i >= 0; i-- {
		v := b.Variables[i]
		if v.Kind == InfoOperation && v.Op != nil {
			for j := 0; j < v.Op.NumIn; j++ {
				if v.Op.Inputs[j] != nil {
					v.Op.Inputs[j].DecRef()
				}
			}
			if v.Op.RoundingVar != nil {
				v.Op.RoundingVar.DecRef()
			}
		}
	}
	for _, c := range b.ControlFlowOps {
		for i := 0; i < c.NumIn; i++ {
			if c.Inputs[i] != nil {
				c.Inputs[i].DecRef()
			}
		}
		for _, tv := range c.TargetInputs {
			tv.DecRef()
		}
	}
	b.Variables = nil
	b.ControlFlowOps = nil
}

// String implements fmt.Stringer for debug dumps.
func (b *BasicBlock) String() string {
	return b.Name()
}
