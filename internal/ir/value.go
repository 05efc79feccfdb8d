package ir

import "fmt"

// ValueID uniquely identifies an SSAVar within its owning BasicBlock.
type ValueID uint32

// InfoKind is the tag of the SSAVar.info sum type (spec §3).
type InfoKind byte

const (
	// InfoUninitialized marks a variable that has no producer yet (used transiently
	// while the lifter constructs block inputs before they are wired).
	InfoUninitialized InfoKind = iota
	// InfoImmediate marks a variable carrying a literal 64-bit signed value.
	InfoImmediate
	// InfoFromStatic marks a variable that is a block parameter bound to a static.
	InfoFromStatic
	// InfoOperation marks a variable produced by an owned Operation.
	InfoOperation
)

// StaticID indexes into the fixed static table (see static.go).
type StaticID int32

// NoStatic is the sentinel for "no associated static".
const NoStatic StaticID = -1

// UsePos is an opaque position within a basic block used to drive liveness analysis
// (spec §4.5.2): position i for the i-th variable's operand use, |variables| for
// cfop input use, and |variables|+1... for cfop payload mapping uses.
type UsePos int64

// Location describes where codegen has placed an SSAVar's value.
type Location struct {
	Kind LocationKind
	Reg  int8     // valid when Kind == LocInRegister
	Slot int32    // valid when Kind == LocInStackSlot
	Stat StaticID // valid when Kind == LocInStatic
}

// LocationKind is the codegen placement tag.
type LocationKind byte

const (
	LocNotMaterialized LocationKind = iota
	LocInRegister
	LocInStackSlot
	LocInStatic
)

// SSAVar is a value produced exactly once (spec §3).
type SSAVar struct {
	ID   ValueID
	Type Type

	Kind InfoKind

	// InfoImmediate fields.
	ImmValue          int64
	ImmBinaryRelative bool

	// InfoFromStatic field.
	StaticIdx StaticID

	// InfoOperation field: owned. Nil unless Kind == InfoOperation.
	Op *Operation

	refCount uint16

	// Lifter metadata.
	AssignAddr uint64   // guest virtual address at which this value was produced.
	DestStatic StaticID // static this value is destined for, or NoStatic.

	// Codegen metadata.
	Loc        Location
	Spilled    bool
	Uses       []UsePos
	LastUse    UsePos
}

// RefCount returns the number of owning references currently held on v.
func (v *SSAVar) RefCount() uint16 { return v.refCount }

// IncRef increments the reference count. Called whenever a new owning pointer
// (an Operation input slot or a CfOp input slot) is made to reference v.
func (v *SSAVar) IncRef() { v.refCount++ }

// DecRef decrements the reference count. Called when an owning reference to v is
// removed (operand rewritten, owning operation destroyed).
func (v *SSAVar) DecRef() {
	if v.refCount == 0 {
		panic(fmt.Sprintf("ir: BUG: DecRef on %s with refCount already 0", v.Name()))
	}
	v.refCount--
}

// Name returns the canonical debug name of v, e.g. "v3".
func (v *SSAVar) Name() string {
	return fmt.Sprintf("v%d", v.ID)
}

// Immediate constructs an immediate SSAVar. Callers still need to register it with
// a BasicBlock via AppendVar.
func Immediate(id ValueID, typ Type, value int64, binaryRelative bool) *SSAVar {
	return &SSAVar{
		ID: id, Type: typ, Kind: InfoImmediate,
		ImmValue: value, ImmBinaryRelative: binaryRelative,
		StaticIdx: NoStatic, DestStatic: NoStatic,
	}
}

// FromStatic constructs a block-parameter SSAVar bound to static s.
func FromStatic(id ValueID, typ Type, s StaticID) *SSAVar {
	return &SSAVar{
		ID: id, Type: typ, Kind: InfoFromStatic,
		StaticIdx: s, DestStatic: NoStatic,
	}
}

// FromOperation constructs an SSAVar owned by op. Ownership of op transfers to the
// returned SSAVar: the caller must not retain any other owning reference to op.
func FromOperation(id ValueID, typ Type, op *Operation) *SSAVar {
	return &SSAVar{
		ID: id, Type: typ, Kind: InfoOperation, Op: op,
		StaticIdx: NoStatic, DestStatic: NoStatic,
	}
}
