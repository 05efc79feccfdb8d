package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dm-sbt/rv2x86/internal/ir"
)

func TestStageIjumpTargetMovesIntoRBXWhenNotAlreadyThere(t *testing.T) {
	c := &compiler{}
	addr := regVar(ir.TypeI64, 0) // rAX, not rBX
	cj := ir.NewCfOp(ir.CfIjump, addr)

	c.stageIjumpTarget(cj)

	require.NotEmpty(t, c.buf.Bytes)
	require.Equal(t, byte(0x89), c.buf.Bytes[1])
}

func TestStageIjumpTargetSkipsMoveWhenAlreadyInRBX(t *testing.T) {
	c := &compiler{}
	addr := regVar(ir.TypeI64, 1) // allocRegToReg[1] == rBX
	cj := ir.NewCfOp(ir.CfIjump, addr)

	c.stageIjumpTarget(cj)

	require.Empty(t, c.buf.Bytes)
}

func TestCallIjumpTrampolineEmitsNamedCall(t *testing.T) {
	c := &compiler{}

	c.callIjumpTrampoline("ijump_lookup")

	require.Equal(t, byte(0xE8), c.buf.Bytes[0])
	require.Equal(t, "ijump_lookup", c.buf.Relocs[0].Target.Name)
}

func TestLowerIjumpStagesMappingTargetThenCallsLookup(t *testing.T) {
	c := &compiler{}
	addr := regVar(ir.TypeI64, 0)
	mapVal := regVar(ir.TypeI64, 2)

	cj := ir.NewCfOp(ir.CfIjump, addr)
	cj.IjumpMapping = []ir.StaticMapping{{Value: mapVal, Static: 1}}

	c.lowerIjump(cj)

	var sawStaticWrite, sawLookupCall bool
	for _, r := range c.buf.Relocs {
		if r.Target.Name == "s1" {
			sawStaticWrite = true
		}
		if r.Target.Name == "ijump_lookup" {
			sawLookupCall = true
		}
	}
	require.True(t, sawStaticWrite)
	require.True(t, sawLookupCall)
}

func TestLowerIcallResumesAtContinuationAfterLookup(t *testing.T) {
	c := &compiler{}
	addr := regVar(ir.TypeI64, 0)
	cont := blockAt(0x600, "cont")

	cj := ir.NewCfOp(ir.CfIcall, addr)
	cj.Continuation = cont

	c.lowerIcall(cj)

	var sawIcallLookup, sawContJump bool
	for _, r := range c.buf.Relocs {
		if r.Target.Name == "icall_lookup" {
			sawIcallLookup = true
		}
		if r.Target.BlockAddr == 0x600 {
			sawContJump = true
		}
	}
	require.True(t, sawIcallLookup)
	require.True(t, sawContJump)
}
