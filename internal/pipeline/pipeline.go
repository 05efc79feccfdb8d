// Package pipeline wires the loader -> lifter -> optimizer -> regalloc ->
// codegen -> elfwriter stages into the single Translate entry point
// cmd/rv2x86 drives (spec §2's overall pipeline).
package pipeline

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/dm-sbt/rv2x86/internal/chd"
	"github.com/dm-sbt/rv2x86/internal/codegen"
	"github.com/dm-sbt/rv2x86/internal/config"
	"github.com/dm-sbt/rv2x86/internal/elfwriter"
	"github.com/dm-sbt/rv2x86/internal/ir"
	"github.com/dm-sbt/rv2x86/internal/lifter"
	"github.com/dm-sbt/rv2x86/internal/loader"
	"github.com/dm-sbt/rv2x86/internal/optimizer"
	"github.com/dm-sbt/rv2x86/internal/regalloc"
)

const tbssInitSPBytes = 8
const transStackBytes = 2 << 20 // 2 MiB, spec §6's translator stack reservation

// Translate runs the full pipeline over the RISC-V executable at path,
// returning the bytes of the ELF64 relocatable object to hand to the final
// link against libhelper (internal/runtimehelper documents that boundary).
func Translate(cfg *config.Config, path string) ([]byte, error) {
	log := cfg.Logger()

	src, err := loader.LoadELF(path)
	if err != nil {
		return nil, err
	}

	prog, err := lifter.Lift(cfg, src)
	if err != nil {
		return nil, err
	}
	log.Debugw("lifted program", "blocks", len(prog.Blocks))

	lifter.RelativizeImmediates(prog)
	optimizer.Run(prog)

	// Verifier violations are internal bugs (spec §7's "Verifier" row), not a
	// recoverable input error, so this panics rather than returning.
	ir.MustVerify(prog)

	allocs := regalloc.AllocateProgram(prog)
	log.Debugw("register allocation complete", "chains/blocks", len(allocs))

	obj, err := assemble(cfg, log, prog, src, allocs)
	if err != nil {
		return nil, err
	}
	return elfwriter.Write(obj)
}

// assemble compiles every reachable block, builds the indirect-jump dispatch
// table, and lays out the .tbss regions into a ready-to-serialize
// elfwriter.Object.
func assemble(cfg *config.Config, log *zap.SugaredLogger, prog *ir.Program, src loader.Program, allocs map[ir.BasicBlockID]*regalloc.Allocator) (*elfwriter.Object, error) {
	addrNames := buildAddrNameIndex(prog)

	var blocks []elfwriter.Block
	maxSlots := 0

	for _, b := range prog.Blocks {
		if b.IsDummy() {
			continue
		}
		a, ok := allocs[b.ID]
		if !ok {
			// AllocateProgram gives every non-dummy block an allocator; a miss here
			// is a bug in that pass, not a malformed-input condition.
			panic(fmt.Sprintf("pipeline: block %s has no register allocation", b.Name()))
		}
		if a.MaxSlots > maxSlots {
			maxSlots = a.MaxSlots
		}

		buf := codegen.CompileBlock(b, a)
		blocks = append(blocks, elfwriter.Block{
			Name:   b.Name(),
			Code:   buf.Bytes,
			Relocs: convertRelocs(addrNames, buf.Relocs),
		})
	}
	// dummy itself is never compiled (optimizer/regalloc both skip it), but its
	// symbol is a valid jump/call target for any unresolved dynamic site, so it
	// gets one hand-written block that hands off to the runtime panic path.
	blocks = append(blocks, panicStub(prog.Dummy().Name()))

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Name < blocks[j].Name })

	statics := make([]elfwriter.StaticSym, len(prog.Statics))
	for i := range prog.Statics {
		statics[i] = elfwriter.StaticSym{Name: fmt.Sprintf("s%d", i), Offset: uint64(i) * 8}
	}
	staticsBytes := uint64(len(prog.Statics)) * 8

	paramBytes := align16(uint64(8 + 8*maxSlots))
	paramOffset := staticsBytes
	stackOffset := paramOffset + paramBytes
	initSPOffset := stackOffset + transStackBytes
	tbssSize := initSPOffset + tbssInitSPBytes

	ijumps, ijumpRelocs := buildIjumpTable(cfg, log, prog, addrNames)

	start, startRelocs := buildStartThunk(prog, addrNames, paramOffset+paramBytes)

	origBinary := reconstructOrigBinary(src, prog.Header)

	return &elfwriter.Object{
		OrigBinary: origBinary,
		OrigVAddr:  prog.Header.BaseAddr,
		OrigSize:   prog.Header.LoadSize,

		StartThunk:  start,
		StartRelocs: startRelocs,
		Blocks:      blocks,

		Statics:          statics,
		TbssStaticsBytes: staticsBytes,
		TbssParamOffset:  paramOffset,
		TbssParamBytes:   paramBytes,
		TbssStackOffset:  stackOffset,
		TbssStackBytes:   transStackBytes,
		TbssInitSPOffset: initSPOffset,
		TbssSize:         tbssSize,

		Ijumps:      ijumps,
		IjumpRelocs: ijumpRelocs,

		PhdrOff:  prog.Header.PhdrOffset,
		PhdrSize: uint64(prog.Header.PhdrEntSize),
		PhdrNum:  uint64(prog.Header.PhdrCount),
	}, nil
}

func align16(n uint64) uint64 {
	if n%16 == 0 {
		return n
	}
	return n + (16 - n%16)
}

// buildAddrNameIndex maps every block's current StartAddr to its symbol name,
// read directly off prog.Blocks rather than through prog.BlockAt: the
// synthesized entry block's StartAddr is rewritten to entryAddr-1 after
// creation without a matching addrIndex update (internal/lifter/lifter.go's
// synthesizeEntry), so addrIndex alone cannot resolve it. codegen's
// relocations reference a target by this same StartAddr field
// (internal/codegen/cflow.go's jumpToBlock/callBlock), so this index is this
// package's single source of truth for address-to-symbol resolution.
func buildAddrNameIndex(prog *ir.Program) map[uint64]string {
	m := make(map[uint64]string, len(prog.Blocks))
	for _, b := range prog.Blocks {
		m[b.StartAddr] = b.Name()
	}
	return m
}

// convertRelocs turns codegen's block-address-based symbol references into
// elfwriter's flat symbol-name references, resolving each BlockAddr back to
// its owning block's name (codegen never carries block pointers in a Symbol,
// only the guest start address it jumps to).
func convertRelocs(addrNames map[uint64]string, relocs []codegen.Relocation) []elfwriter.Reloc {
	out := make([]elfwriter.Reloc, len(relocs))
	for i, r := range relocs {
		var kind elfwriter.RelocKind
		switch r.Kind {
		case codegen.RelocPCRel32:
			kind = elfwriter.RelocPCRel32
		case codegen.RelocAbs64:
			kind = elfwriter.RelocAbs64
		}
		target := r.Target.Name
		if target == "" {
			target = addrNames[r.Target.BlockAddr]
		}
		out[i] = elfwriter.Reloc{Kind: kind, Offset: r.Offset, Target: target, Addend: r.Target.Addend}
	}
	return out
}

// panicStub is the dummy block's body: any ijump/icall miss or unresolved
// static jump target lands here and immediately traps, since the dummy block
// itself was never lifted from real guest code.
func panicStub(name string) elfwriter.Block {
	return elfwriter.Block{
		Name: name,
		Code: []byte{0xE8, 0, 0, 0, 0}, // CALL rel32
		Relocs: []elfwriter.Reloc{
			{Kind: elfwriter.RelocPCRel32, Offset: 1, Target: "panic"},
		},
	}
}

// buildStartThunk emits _start: fix rbp at the top of the shared parameter/
// spill area for the rest of the process's life (original_source's
// assembler.cpp loads an equivalent fixed base once into r12 via "mov r12,
// offset param_passing"; this object is relocatable so the load is a
// RIP-relative lea against tbss_start instead of an absolute immediate, and
// lands in rbp since that is the base register internal/codegen/encoding.go's
// regMemRBP already assumes), call copy_stack to splice the kernel-provided
// argv/envp/auxv image onto the head of trans_stack, stash the result in
// init_stack_ptr (mirroring original_source's "mov [init_stack_ptr], rax"
// right after the equivalent call), move it into rdi for the entry block's
// OpSetupStack (internal/codegen/select.go's emitSetupStack), switch rsp onto
// trans_stack's reserved top, and jump into the synthesized entry block.
//
// rbp is safe to fix globally rather than re-establish per block or per call:
// execution is single-threaded and never reenters a translated block while
// another invocation of it is live, so one shared spill area never needs more
// than one live generation of its slots at a time.
func buildStartThunk(prog *ir.Program, addrNames map[uint64]string, paramAreaTop uint64) ([]byte, []elfwriter.Reloc) {
	var code []byte
	var relocs []elfwriter.Reloc

	u8 := func(b byte) { code = append(code, b) }
	relocPCRel32 := func(target string, addend int64) {
		relocs = append(relocs, elfwriter.Reloc{Kind: elfwriter.RelocPCRel32, Offset: len(code), Target: target, Addend: addend})
		code = append(code, 0, 0, 0, 0)
	}

	// lea rbp, [rip+tbss_start+paramAreaTop]: fix the frame pointer for every
	// translated block's stack-slot spills, once, for the process's lifetime.
	u8(0x48)
	u8(0x8d)
	u8(0x2d)
	relocPCRel32("tbss_start", int64(paramAreaTop))

	// mov rdi, rsp (argument 1: the kernel-provided initial stack image)
	u8(0x48)
	u8(0x89)
	u8(0xe7)

	// lea rsi, [rip+trans_stack] (argument 2: destination for the copy)
	u8(0x48)
	u8(0x8d)
	u8(0x35)
	relocPCRel32("trans_stack", 0)

	// sub rsp, 8 (the kernel hands control off with rsp 16-byte aligned and
	// pointing at argc; this call site is the thunk's first, so one word
	// restores SysV's mandatory 16-byte alignment at the call instruction)
	u8(0x48)
	u8(0x83)
	u8(0xec)
	u8(0x08)

	// call copy_stack
	u8(0xe8)
	relocPCRel32("copy_stack", 0)

	u8(0x48)
	u8(0x83)
	u8(0xc4)
	u8(0x08) // add rsp, 8

	// mov [rip+init_stack_ptr], rax
	u8(0x48)
	u8(0x89)
	u8(0x05)
	relocPCRel32("init_stack_ptr", 0)

	// mov rdi, rax (install the result where OpSetupStack expects it)
	u8(0x48)
	u8(0x89)
	u8(0xc7)

	// lea rsp, [rip+trans_stack+transStackBytes]: point the host stack at the
	// high end of its reserved region now that the initial splice is done.
	u8(0x48)
	u8(0x8d)
	u8(0x25)
	relocPCRel32("trans_stack", transStackBytes)

	// jmp entry
	u8(0xe9)
	relocPCRel32(addrNames[prog.Header.EntryAddr-1], 0)

	return code, relocs
}

// reconstructOrigBinary rebuilds the non-executable portion of the guest's
// loaded image from the loader.Program interface: instruction-bearing
// regions are never read back from .orig_binary (the translated .ttext
// replaces them entirely), only PayloadByte-backed data matters for
// RelativizeImmediates-marked pointers into .rodata/.data/.bss.
func reconstructOrigBinary(src loader.Program, hdr ir.Header) []byte {
	buf := make([]byte, hdr.LoadSize)
	for _, addr := range src.Addresses() {
		kind, _, b := src.At(addr)
		if kind != loader.PayloadByte {
			continue
		}
		if addr < hdr.BaseAddr || addr >= hdr.BaseAddr+hdr.LoadSize {
			continue
		}
		buf[addr-hdr.BaseAddr] = b
	}
	return buf
}

// buildIjumpTable collects every discovered indirect jump/call target across
// the program and builds the dispatch table configured by cfg.IjumpLookupMode
// (spec §4.5.5), falling back to the dense table when CHD construction
// exhausts its retry budget.
func buildIjumpTable(cfg *config.Config, log *zap.SugaredLogger, prog *ir.Program, addrNames map[uint64]string) ([]byte, []elfwriter.Reloc) {
	seen := make(map[uint64]bool)
	var entries []chd.Entry
	for _, b := range prog.Blocks {
		for _, c := range b.ControlFlowOps {
			if c.Kind != ir.CfIjump && c.Kind != ir.CfIcall {
				continue
			}
			for _, addr := range c.Discovered {
				if seen[addr] {
					continue
				}
				seen[addr] = true
				name, ok := addrNames[addr]
				if !ok {
					name = prog.Dummy().Name()
				}
				entries = append(entries, chd.Entry{Key: addr, Target: name})
			}
		}
	}

	useDense := cfg.IjumpLookupMode == config.IjumpDense
	var table *chd.Table
	if !useDense {
		var ok bool
		table, ok = chd.Build(entries, 1.3, cfg.CHDMaxRetries)
		if !ok {
			log.Warnw("CHD build exhausted retries, falling back to dense ijump table", "entries", len(entries))
			useDense = true
		}
	}

	if useDense {
		byAddr := make(map[uint64]string, len(entries))
		for _, e := range entries {
			byAddr[e.Key] = e.Target
		}
		return elfwriter.BuildDenseIjumps(prog.Header.BBAddrLo, prog.Header.BBAddrHi, func(addr uint64) (string, bool) {
			name, ok := byAddr[addr]
			return name, ok
		})
	}
	return elfwriter.BuildCHDIjumps(table)
}
