package regalloc

import (
	"fmt"

	"github.com/dm-sbt/rv2x86/internal/ir"
)

// RealReg is one of the fourteen allocatable x86-64 general-purpose registers of
// spec §4.5.1. rsp/rbp are reserved for the block's stack frame and are never
// handed out by the allocator.
type RealReg int8

const (
	RegA RealReg = iota
	RegB
	RegC
	RegD
	RegDI
	RegSI
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
	NumGPRegs = 14
)

// RegInvalid marks the absence of a register assignment.
const RegInvalid RealReg = -1

var regNames = [NumGPRegs]string{
	"A", "B", "C", "D", "DI", "SI", "R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
}

// String implements fmt.Stringer.
func (r RealReg) String() string {
	if r < 0 || int(r) >= NumGPRegs {
		return "invalid"
	}
	return regNames[r]
}

// ActionKind tags an Allocator decision for codegen to replay.
type ActionKind byte

const (
	// ActionLoad materializes Var into Reg: from its current stack slot, from a
	// static, by recomputing an immediate, or (on first definition) simply
	// reserving Reg as Var's home with no data movement required yet.
	ActionLoad ActionKind = iota
	// ActionSpill writes Reg's outgoing occupant to Slot before Reg is reused.
	ActionSpill
	// ActionBind marks Var as now residing in Reg as an operation's result.
	ActionBind
	// ActionStore closes out a store operation's group in the trace: stores have
	// no result register, so nothing else marks where their operand loads end.
	ActionStore
)

// Action is one step of the trace codegen walks to emit concrete instructions.
type Action struct {
	Kind ActionKind
	Var  *ir.SSAVar
	Reg  RealReg
	Slot int32

	// PrevLoc is Var's location immediately before this Action applied, valid
	// only for ActionLoad: codegen needs it to know whether the load is a
	// static read, a stack reload, or a literal immediate materialization
	// (Var.Loc itself only ever holds the current/final location).
	PrevLoc ir.Location
}

func (a Action) String() string {
	name := "<nil>"
	if a.Var != nil {
		name = a.Var.Name()
	}
	switch a.Kind {
	case ActionSpill:
		return fmt.Sprintf("spill %s(%s) -> slot%d", name, a.Reg, a.Slot)
	case ActionBind:
		return fmt.Sprintf("bind %s -> %s", name, a.Reg)
	case ActionStore:
		return fmt.Sprintf("store %s", name)
	default:
		return fmt.Sprintf("load %s -> %s", name, a.Reg)
	}
}
