package elfwriter

// symbol is an in-progress symtab entry before final index/offset resolution.
type symbol struct {
	name    string
	shndx   uint16
	value   uint64
	size    uint64
	info    byte
}

// strtab accumulates a null-separated string table, handing back each
// inserted name's byte offset (ELF string tables always start with an empty
// string at offset 0).
type strtab struct {
	buf []byte
}

func newStrtab() *strtab {
	return &strtab{buf: []byte{0}}
}

func (s *strtab) add(name string) uint32 {
	if name == "" {
		return 0
	}
	off := uint32(len(s.buf))
	s.buf = append(s.buf, []byte(name)...)
	s.buf = append(s.buf, 0)
	return off
}

// symbolTable builds the full symtab (§6: one entry per emitted block, plus
// _start, per-static sN, section-start markers, header-word names, and the
// imported runtime helper symbols) along with the shared name -> final
// symbol index map writer.go's buildRelas/buildIjumpRelas need to resolve
// Reloc.Target references.
type symbolTable struct {
	syms    []symbol
	strs    *strtab
	indexOf map[string]int // name -> index into syms (and thus final symtab row)
}

func newSymbolTable() *symbolTable {
	return &symbolTable{
		strs:    newStrtab(),
		indexOf: map[string]int{"": 0},
		syms:    []symbol{{}}, // index 0: the mandatory null symbol
	}
}

func (t *symbolTable) define(name string, shndx uint16, value, size uint64, typ byte) {
	t.indexOf[name] = len(t.syms)
	t.syms = append(t.syms, symbol{name: name, shndx: shndx, value: value, size: size, info: stInfo(stbGlobal, typ)})
}

// undefined registers an imported symbol (syscall_impl, panic, copy_stack,
// helper_start, the sh_* signal trampoline entry points): resolved by the
// final link against the runtime helper library, not by this object.
func (t *symbolTable) undefined(name string) {
	if _, ok := t.indexOf[name]; ok {
		return
	}
	t.define(name, shnUndef, 0, 0, sttNoType)
}

func (t *symbolTable) absolute(name string, value uint64) {
	t.define(name, shnAbs, value, 0, sttNoType)
}

// index returns name's final symtab row, registering it as an undefined
// import on first sight: a Reloc naming a symbol this table never explicitly
// `define`d is, by construction, one of the runtime-provided imports.
func (t *symbolTable) index(name string) uint32 {
	if i, ok := t.indexOf[name]; ok {
		return uint32(i)
	}
	t.undefined(name)
	return uint32(t.indexOf[name])
}

// runtimeImports lists every symbol spec §6 requires as an import that a
// translated program might reference even when no single block's relocations
// happen to name it (e.g. the signal proxies, only reachable through the
// runtime's own signal delivery path rather than a direct call site).
var runtimeImports = []string{
	"syscall_impl", "panic", "copy_stack", "helper_start",
	"ijump_lookup", "icall_lookup",
	"sh_signal_proxy_1", "sh_signal_proxy_3", "sh_signal_restorer",
	"sh_enter_signal", "sh_exit_signal",
}
