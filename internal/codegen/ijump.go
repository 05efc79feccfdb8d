package codegen

import "github.com/dm-sbt/rv2x86/internal/ir"

// stageIjumpTarget moves cj's guest jump/call target into rbx, the
// register the runtime's ijump_lookup/icall_lookup trampolines read their
// probe key from (grounded on original_source's print_ijump_lookup, which
// hard-codes "mov rsi, rbx" as the hash input). The trampolines themselves
// -- built once, shared by every indirect site -- run internal/chd's CHD
// probe against the .ijumps table internal/elfwriter emits, confirm the
// looked-up key actually matches (guarding a hash collision), and either
// dispatch through the resolved host pointer or jump to the runtime's panic
// path on a miss. Inlining the probe at every call site would repeat the
// same dozen instructions per indirect branch for no benefit over one
// shared trampoline per kind.
func (c *compiler) stageIjumpTarget(cj *ir.CfOp) {
	addr := allocRegToReg[cj.Inputs[0].Loc.Reg]
	if addr != rBX {
		c.buf.regRegOp(0x89, true, addr, rBX)
	}
}

// lowerIcall's and lowerIjump's dispatch both reduce to "stage rbx, call the
// matching trampoline symbol"; icall_lookup falls through to a ret once its
// inner call returns, letting lowerIcall continue with the continuation's
// mapping exactly like a direct call. ijump_lookup's found path never
// returns (it re-dispatches via jmp), so nothing follows it.
func (c *compiler) callIjumpTrampoline(name string) {
	c.buf.u8(0xE8) // CALL rel32
	c.buf.relocPCRel32(Symbol{Name: name})
}
