package loader

import (
	"debug/elf"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/dm-sbt/rv2x86/internal/ir"
	"github.com/dm-sbt/rv2x86/internal/loader/rvdecode"
)

// elfProgram is the default concrete Program backed by a parsed RISC-V ELF64
// executable. ELF parsing is explicitly out of scope per spec.md §1/§6 ("specified
// only by their interfaces"); see DESIGN.md for why this uses the standard library's
// debug/elf rather than a third-party parser.
type elfProgram struct {
	addrs []uint64
	insts map[uint64]Instruction
	bytes map[uint64]byte
	meta  Metadata
}

// LoadELF parses path as an ET_EXEC RISC-V ELF64 little-endian object, rejecting
// dynamic executables (PT_INTERP/PT_DYNAMIC present), per spec.md §6.
func LoadELF(path string) (Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, ir.NewError(ir.KindInputFile, 0, "cannot open %q: %v", path, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, ir.NewError(ir.KindInputFile, 0, "not a 64-bit ELF")
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, ir.NewError(ir.KindInputFile, 0, "not little-endian")
	}
	if f.OSABI != elf.ELFOSABI_NONE && f.OSABI != elf.ELFOSABI_LINUX {
		return nil, ir.NewError(ir.KindInputFile, 0, "unsupported ABI %v, want System V/Linux", f.OSABI)
	}
	if f.Type != elf.ET_EXEC {
		return nil, ir.NewError(ir.KindInputFile, 0, "not ET_EXEC (got %v)", f.Type)
	}
	if f.Machine != elf.EM_RISCV && f.Machine != elf.EM_NONE {
		return nil, ir.NewError(ir.KindInputFile, 0, "unsupported machine %v, want EM_RISCV", f.Machine)
	}
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_INTERP || prog.Type == elf.PT_DYNAMIC {
			return nil, ir.NewError(ir.KindInputFile, 0, "dynamically linked executables are rejected")
		}
	}

	p := &elfProgram{
		insts: make(map[uint64]Instruction),
		bytes: make(map[uint64]byte),
	}

	var loadMin uint64 = ^uint64(0)
	var loadMax uint64

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Vaddr < loadMin {
			loadMin = prog.Vaddr
		}
		if end := prog.Vaddr + prog.Memsz; end > loadMax {
			loadMax = end
		}

		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			return nil, ir.NewError(ir.KindInputFile, prog.Vaddr, "failed reading segment: %v", err)
		}

		executable := prog.Flags&elf.PF_X != 0
		if executable {
			decodeSegment(p, prog.Vaddr, data)
		} else {
			for off, b := range data {
				p.bytes[prog.Vaddr+uint64(off)] = b
			}
		}
	}

	phdrOff, phdrCount, phdrEntSize, err := rawPhdrInfo(path)
	if err != nil {
		return nil, ir.NewError(ir.KindInputFile, 0, "failed reading ELF header: %v", err)
	}

	p.meta = Metadata{
		BaseAddr:    loadMin,
		LoadSize:    loadMax - loadMin,
		PhdrOffset:  phdrOff,
		PhdrCount:   phdrCount,
		PhdrEntSize: phdrEntSize,
		EntryAddr:   f.Entry,
	}

	addrs := make([]uint64, 0, len(p.insts)+len(p.bytes))
	for a := range p.insts {
		addrs = append(addrs, a)
	}
	for a := range p.bytes {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	p.addrs = addrs

	return p, nil
}

func decodeSegment(p *elfProgram, base uint64, data []byte) {
	for off := 0; off < len(data); {
		in := rvdecode.Decode(data[off:])
		if !in.Decodable() {
			// Skip the 2-byte slot: no payload is registered for it, so it is
			// absent from Addresses() and no unreachable marker is emitted for it.
			off += 2
			continue
		}
		p.insts[base+uint64(off)] = in
		off += int(in.Size)
	}
}

// rawPhdrInfo re-reads the 64-byte ELF64 file header directly to recover e_phoff,
// e_phnum and e_phentsize verbatim: debug/elf parses and discards these into Progs
// without re-exposing the raw table location, but the output object's .rodata
// header words (spec §6: phdr_off/phdr_size/phdr_num) need the exact values.
func rawPhdrInfo(path string) (off uint64, count, entsize uint16, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	var hdr [64]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return 0, 0, 0, err
	}
	off = binary.LittleEndian.Uint64(hdr[32:40])
	entsize = binary.LittleEndian.Uint16(hdr[54:56])
	count = binary.LittleEndian.Uint16(hdr[56:58])
	return off, count, entsize, nil
}

// Addresses implements Program.
func (p *elfProgram) Addresses() []uint64 { return p.addrs }

// At implements Program.
func (p *elfProgram) At(addr uint64) (PayloadKind, Instruction, byte) {
	if in, ok := p.insts[addr]; ok {
		return PayloadInstruction, in, 0
	}
	if b, ok := p.bytes[addr]; ok {
		return PayloadByte, Instruction{}, b
	}
	return PayloadAbsent, Instruction{}, 0
}

// Metadata implements Program.
func (p *elfProgram) Metadata() Metadata { return p.meta }
