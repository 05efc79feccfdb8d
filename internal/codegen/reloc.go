package codegen

// RelocKind tags what a Relocation's 4-byte patch site resolves to, mirroring
// spec §6's .rela.ttext: calls into the runtime and absolute/rip-relative refs
// within the emitted object.
type RelocKind byte

const (
	// RelocPCRel32 patches a signed 32-bit PC-relative displacement (call/jmp
	// rel32, or a RIP-relative mod=00/rm=101 operand) at Offset, relative to the
	// byte immediately following the 4-byte field.
	RelocPCRel32 RelocKind = iota
	// RelocAbs64 patches an absolute 8-byte address. None of the block
	// lowering in this package emits one.
	RelocAbs64
)

// Symbol identifies a relocation's target: either another emitted block (by its
// guest start address, resolved once all blocks are laid out in .ttext) or a
// named external/section symbol the ELF writer resolves (spec §6's symtab:
// syscall_impl, panic, copy_stack, sN, ttext_start, ...).
type Symbol struct {
	BlockAddr uint64 // valid when Name == ""
	Name      string
	Addend    int64
}

// Relocation records one patch site produced while emitting a block's code.
type Relocation struct {
	Kind   RelocKind
	Offset int   // byte offset within Buf.Bytes of the 4- or 8-byte field
	Target Symbol
}

func (b *Buf) relocPCRel32(target Symbol) {
	b.Relocs = append(b.Relocs, Relocation{Kind: RelocPCRel32, Offset: b.Len() - 4, Target: target})
}

func (b *Buf) relocAbs64(target Symbol) {
	b.Relocs = append(b.Relocs, Relocation{Kind: RelocAbs64, Offset: b.Len() - 8, Target: target})
}
