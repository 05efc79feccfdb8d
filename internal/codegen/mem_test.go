package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dm-sbt/rv2x86/internal/ir"
)

func TestSlotDispGrowsDownwardInEightByteUnits(t *testing.T) {
	require.EqualValues(t, 8, slotDisp(0))
	require.EqualValues(t, 16, slotDisp(1))
	require.EqualValues(t, 40, slotDisp(4))
}

func TestStaticByteOffsetIsEightByteStrided(t *testing.T) {
	require.EqualValues(t, 0, staticByteOffset(0))
	require.EqualValues(t, 24, staticByteOffset(3))
}

func TestResolveMapsEveryLocationKind(t *testing.T) {
	reg := &ir.SSAVar{Loc: ir.Location{Kind: ir.LocInRegister, Reg: 2}}
	o := resolve(reg)
	require.Equal(t, opndReg, o.kind)
	require.Equal(t, rCX, o.reg)

	slot := &ir.SSAVar{Loc: ir.Location{Kind: ir.LocInStackSlot, Slot: 3}}
	o = resolve(slot)
	require.Equal(t, opndStackSlot, o.kind)
	require.EqualValues(t, slotDisp(3), o.disp)

	stat := &ir.SSAVar{Loc: ir.Location{Kind: ir.LocInStatic, Stat: 6}}
	o = resolve(stat)
	require.Equal(t, opndStatic, o.kind)
	require.EqualValues(t, 6, o.stat)

	immV := &ir.SSAVar{Loc: ir.Location{Kind: ir.LocNotMaterialized}, ImmValue: 99}
	o = resolve(immV)
	require.Equal(t, opndImmediate, o.kind)
	require.EqualValues(t, 99, o.imm)
}
