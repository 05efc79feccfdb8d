package elfwriter

const ehdrSize = 64
const shdrSize = 64
const symSize = 24
const relaSize = 24

type section struct {
	name    string
	typ     uint32
	flags   uint64
	addr    uint64
	size    uint64
	link    uint32
	info    uint32
	align   uint64
	entsize uint64
	data    []byte
}

// Write assembles obj into a complete ELF64 ET_REL object (spec §6).
func Write(obj *Object) ([]byte, error) {
	ttext := append(append([]byte{}, obj.StartThunk...), flattenBlocks(obj.Blocks)...)
	ttextOffsets := blockOffsets(len(obj.StartThunk), obj.Blocks)

	rodata, phdrOffSym, phdrSizeSym, phdrNumSym := buildRodata(obj)

	syms := newSymbolTable()
	for _, name := range runtimeImports {
		syms.undefined(name)
	}

	// section-relative markers, defined once section indices are known below;
	// sections: 0 null, 1 .orig_binary, 2 .ttext, 3 .tbss, 4 .ijumps, 5 .rodata,
	// 6 .rela.ttext, 7 .rela.ijumps, 8 .symtab, 9 .strtab, 10 .shstrtab
	const (
		secTtext  = 2
		secTbss   = 3
		secIjumps = 4
		secRodata = 5
	)

	syms.define("_start", secTtext, 0, uint64(len(obj.StartThunk)), sttFunc)
	for _, b := range obj.Blocks {
		syms.define(b.Name, secTtext, ttextOffsets[b.Name], uint64(len(b.Code)), sttFunc)
	}
	for _, s := range obj.Statics {
		syms.define(s.Name, secTbss, s.Offset, 8, sttObject)
	}
	syms.define("ttext_start", secTtext, 0, 0, sttNoType)
	syms.define("tbss_start", secTbss, 0, 0, sttNoType)
	syms.define("ijump_table_start", secIjumps, 0, 0, sttNoType)
	syms.define("rodata_start", secRodata, 0, 0, sttNoType)
	syms.define("init_stack_ptr", secTbss, obj.TbssInitSPOffset, 8, sttObject)
	syms.define("trans_stack", secTbss, obj.TbssStackOffset, obj.TbssStackBytes, sttObject)
	syms.absolute("orig_binary_vaddr", obj.OrigVAddr)
	syms.absolute("orig_binary_size", obj.OrigSize)
	syms.define("phdr_off", secRodata, phdrOffSym, 8, sttObject)
	syms.define("phdr_size", secRodata, phdrSizeSym, 8, sttObject)
	syms.define("phdr_num", secRodata, phdrNumSym, 8, sttObject)

	relas := buildRelas(obj, syms)
	ijumpRelas := buildIjumpRelas(obj, syms)

	strs := newStrtab()
	nameOffsets := make([]uint32, len(syms.syms))
	for i, s := range syms.syms {
		if i == 0 {
			continue
		}
		nameOffsets[i] = strs.add(s.name)
	}

	symtabBytes := make([]byte, 0, len(syms.syms)*symSize)
	for i, s := range syms.syms {
		var row [symSize]byte
		putU32(row[0:4], nameOffsets[i])
		row[4] = s.info
		row[5] = 0
		putU16(row[6:8], s.shndx)
		putU64(row[8:16], s.value)
		putU64(row[16:24], s.size)
		symtabBytes = append(symtabBytes, row[:]...)
	}

	relaBytes := serializeRelas(relas)
	ijumpRelaBytes := serializeRelas(ijumpRelas)

	secs := []section{
		{name: ""},
		{name: ".orig_binary", typ: shtProgBit, flags: shfAlloc | shfWrite, align: 16, data: obj.OrigBinary},
		{name: ".ttext", typ: shtProgBit, flags: shfAlloc | shfExec, align: 16, data: ttext},
		{name: ".tbss", typ: shtNoBits, flags: shfAlloc | shfWrite, align: 16, size: align16(obj.TbssSize)},
		{name: ".ijumps", typ: shtProgBit, flags: shfAlloc, align: 8, data: obj.Ijumps},
		{name: ".rodata", typ: shtProgBit, flags: shfAlloc, align: 8, data: rodata},
		{name: ".rela.ttext", typ: shtRela, align: 8, entsize: relaSize, link: 8, info: secTtext, data: relaBytes},
		{name: ".rela.ijumps", typ: shtRela, align: 8, entsize: relaSize, link: 8, info: secIjumps, data: ijumpRelaBytes},
		// Every symbol this package defines is STB_GLOBAL (see symtab.go), so
		// sh_info (the local/global boundary) is 1, right after the mandatory
		// null symbol at index 0.
		{name: ".symtab", typ: shtSymTab, align: 8, entsize: symSize, link: 9, info: 1, data: symtabBytes},
		{name: ".strtab", typ: shtStrTab, align: 1, data: strs.buf},
		{name: ".shstrtab", typ: shtStrTab, align: 1},
	}

	return layoutAndSerialize(secs)
}

func flattenBlocks(blocks []Block) []byte {
	var out []byte
	for _, b := range blocks {
		out = append(out, b.Code...)
	}
	return out
}

func blockOffsets(startLen int, blocks []Block) map[string]uint64 {
	m := make(map[string]uint64, len(blocks))
	off := uint64(startLen)
	for _, b := range blocks {
		m[b.Name] = off
		off += uint64(len(b.Code))
	}
	return m
}

// buildRodata lays out the three 8-byte header words (phdr_off/size/num)
// followed by the zero-terminated error message strings (spec §6), returning
// each header word's byte offset within .rodata for symtab.go's phdr_*
// symbols.
func buildRodata(obj *Object) (data []byte, offOff, sizeOff, numOff uint64) {
	var buf [24]byte
	putU64(buf[0:8], obj.PhdrOff)
	putU64(buf[8:16], obj.PhdrSize)
	putU64(buf[16:24], obj.PhdrNum)
	data = append(data, buf[:]...)
	offOff, sizeOff, numOff = 0, 8, 16
	for _, m := range obj.Messages {
		data = append(data, []byte(m)...)
		data = append(data, 0)
	}
	return
}

type rela struct {
	offset uint64
	symIdx uint32
	typ    uint32
	addend int64
}

// buildRelas converts every Block's (and the start thunk's) Reloc into a
// .rela.ttext entry. Every relocation is emitted uniformly (including
// branches between two blocks both already placed within this same .ttext):
// a real assembler would often resolve same-section rel32 branches directly
// without a relocation entry, but always emitting one here keeps the
// resolution logic in one place and is still a valid, fully linkable object
// (documented simplification, see DESIGN.md).
func buildRelas(obj *Object, syms *symbolTable) []rela {
	var out []rela
	emit := func(base uint64, r Reloc) {
		var typ uint32
		switch r.Kind {
		case RelocPCRel32:
			typ = rX8664_PC32
		case RelocAbs64:
			typ = rX8664_64
		}
		out = append(out, rela{offset: base + uint64(r.Offset), symIdx: syms.index(r.Target), typ: typ, addend: r.Addend})
	}

	for _, r := range obj.StartRelocs {
		emit(0, r)
	}
	off := uint64(len(obj.StartThunk))
	for _, b := range obj.Blocks {
		for _, r := range b.Relocs {
			emit(off, r)
		}
		off += uint64(len(b.Code))
	}
	return out
}

// buildIjumpRelas converts Object.IjumpRelocs (the CHD/dense table's
// block-symbol references, see ijump_table.go) into .rela.ijumps entries.
func buildIjumpRelas(obj *Object, syms *symbolTable) []rela {
	var out []rela
	for _, r := range obj.IjumpRelocs {
		var typ uint32
		switch r.Kind {
		case RelocPCRel32:
			typ = rX8664_PC32
		case RelocAbs64:
			typ = rX8664_64
		}
		out = append(out, rela{offset: uint64(r.Offset), symIdx: syms.index(r.Target), typ: typ, addend: r.Addend})
	}
	return out
}

func serializeRelas(relas []rela) []byte {
	out := make([]byte, 0, len(relas)*relaSize)
	for _, r := range relas {
		var row [relaSize]byte
		putU64(row[0:8], r.offset)
		putU64(row[8:16], (uint64(r.symIdx)<<32)|uint64(r.typ))
		putU64(row[16:24], uint64(r.addend))
		out = append(out, row[:]...)
	}
	return out
}

func layoutAndSerialize(secs []section) ([]byte, error) {
	// .shstrtab holds every section name (including its own); build it first so
	// its size is known before the layout pass below sizes every section.
	shstrtabIdx := len(secs) - 1
	nameTab := newStrtab()
	nameOffsets := make([]uint32, len(secs))
	for i := range secs {
		nameOffsets[i] = nameTab.add(secs[i].name)
	}
	secs[shstrtabIdx].data = nameTab.buf

	// file layout: Ehdr, then each section's data back-to-back (NOBITS
	// sections contribute no file bytes), then the section header table.
	offsets := make([]uint64, len(secs))
	cursor := uint64(ehdrSize)
	for i := range secs {
		if secs[i].typ == shtNull {
			continue
		}
		if secs[i].align > 1 {
			cursor = alignUp(cursor, secs[i].align)
		}
		offsets[i] = cursor
		if secs[i].typ != shtNoBits {
			if secs[i].size == 0 {
				secs[i].size = uint64(len(secs[i].data))
			}
			cursor += secs[i].size
		}
	}
	shoff := alignUp(cursor, 8)

	var out []byte
	out = append(out, make([]byte, ehdrSize)...)
	for i := range secs {
		if secs[i].typ == shtNull || secs[i].typ == shtNoBits {
			continue
		}
		for uint64(len(out)) < offsets[i] {
			out = append(out, 0)
		}
		out = append(out, secs[i].data...)
	}
	for uint64(len(out)) < shoff {
		out = append(out, 0)
	}

	for i := range secs {
		var row [shdrSize]byte
		putU32(row[0:4], nameOffsets[i])
		putU32(row[4:8], secs[i].typ)
		putU64(row[8:16], secs[i].flags)
		putU64(row[16:24], secs[i].addr)
		putU64(row[24:32], offsets[i])
		putU64(row[32:40], secs[i].size)
		putU32(row[40:44], secs[i].link)
		putU32(row[44:48], secs[i].info)
		putU64(row[48:56], maxu64(secs[i].align, 1))
		putU64(row[56:64], secs[i].entsize)
		out = append(out, row[:]...)
	}

	writeEhdr(out, shoff, uint16(len(secs)), uint16(shstrtabIdx))
	return out, nil
}

func alignUp(n, a uint64) uint64 {
	if a == 0 {
		return n
	}
	if n%a == 0 {
		return n
	}
	return n + (a - n%a)
}

func maxu64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func writeEhdr(buf []byte, shoff uint64, shnum, shstrndx uint16) {
	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	buf[7] = 0 // ELFOSABI_NONE
	putU16(buf[16:18], etREL)
	putU16(buf[18:20], emX8664)
	putU32(buf[20:24], evCurrent)
	putU64(buf[24:32], 0) // e_entry: none, relocatable object
	putU64(buf[32:40], 0) // e_phoff
	putU64(buf[40:48], shoff)
	putU32(buf[48:52], 0) // e_flags
	putU16(buf[52:54], ehdrSize)
	putU16(buf[54:56], 0) // e_phentsize
	putU16(buf[56:58], 0) // e_phnum
	putU16(buf[58:60], shdrSize)
	putU16(buf[60:62], shnum)
	putU16(buf[62:64], shstrndx)
}
