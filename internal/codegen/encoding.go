// Package codegen lowers an allocated ir.BasicBlock (internal/regalloc has already
// assigned every SSAVar a Location) into amd64 machine code bytes plus the
// relocations and ijump lookup tables the ELF writer embeds (spec §4.5.3-4.5.5).
package codegen

import "encoding/binary"

// reg is a bare 4-bit x86-64 register encoding (0-15), independent of
// regalloc.RealReg's allocation-order numbering.
type reg byte

const (
	rAX reg = 0
	rCX reg = 1
	rDX reg = 2
	rBX reg = 3
	rSP reg = 4
	rBP reg = 5
	rSI reg = 6
	rDI reg = 7
	r8  reg = 8
	r9  reg = 9
	r10 reg = 10
	r11 reg = 11
	r12 reg = 12
	r13 reg = 13
	r14 reg = 14
	r15 reg = 15
)

// rexOf builds the REX prefix byte (0100WRXB). w selects 64-bit operand size; r
// is the extension bit for a ModRM reg field, x for a SIB index, b for a ModRM
// rm/SIB base/opcode-reg field. It always returns a prefix byte (0x40 when no
// bit is set), and the encode helpers in this package emit it unconditionally,
// even when no operand is r8-15 and w is clear.
func rexOf(w, r, x, b bool) byte {
	var rex byte = 0x40
	if w {
		rex |= 1 << 3
	}
	if r {
		rex |= 1 << 2
	}
	if x {
		rex |= 1 << 1
	}
	if b {
		rex |= 1
	}
	return rex
}

func extBit(r reg) bool { return r >= 8 }
func low3(r reg) byte   { return byte(r) & 0x7 }

// modRM builds a ModRM byte from the 2-bit mod field, 3-bit reg field, and 3-bit
// rm field (already masked to their low 3 bits by the caller).
func modRM(mod, regField, rm byte) byte {
	return mod<<6 | (regField&7)<<3 | (rm & 7)
}

// Buf accumulates emitted machine code and records relocation sites as they are
// produced (reloc.go).
type Buf struct {
	Bytes []byte
	Relocs []Relocation
}

func (b *Buf) u8(v byte)    { b.Bytes = append(b.Bytes, v) }
func (b *Buf) bytes(v ...byte) { b.Bytes = append(b.Bytes, v...) }

func (b *Buf) u32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.Bytes = append(b.Bytes, tmp[:]...)
}

func (b *Buf) u64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	b.Bytes = append(b.Bytes, tmp[:]...)
}

// Len returns the current write offset, used as the base for relative
// displacement patch-ups and as a block/instruction's emitted offset for the
// symbol table.
func (b *Buf) Len() int { return len(b.Bytes) }

// regRegOp emits `op rmReg, regField` (or the reverse direction controlled by the
// caller's opcode choice) as a register-direct ModRM byte: mod=11.
func (b *Buf) regRegOp(opcode byte, w bool, regField, rm reg) {
	b.u8(rexOf(w, extBit(regField), false, extBit(rm)))
	b.u8(opcode)
	b.u8(modRM(3, low3(regField), low3(rm)))
}

// movImm64 emits `mov dst, imm64` (REX.W + B8+rd io): the simplest correct
// encoding for any 64-bit literal, at the cost of always emitting the full
// 8-byte immediate rather than a shorter sign-extended 32-bit form.
func (b *Buf) movImm64(dst reg, imm uint64) {
	b.u8(rexOf(true, false, false, extBit(dst)))
	b.u8(0xB8 + low3(dst))
	b.u64(imm)
}

// regMemRBP emits `op regField, [rbp - disp]` (disp >= 0, slot offsets grow
// downward from rbp, which is fixed once for the whole process rather than
// reestablished per block; see internal/codegen/mem.go's slotDisp).
func (b *Buf) regMemRBP(opcode byte, w bool, regField reg, disp int32) {
	b.u8(rexOf(w, extBit(regField), false, false))
	b.u8(opcode)
	b.u8(modRM(2, low3(regField), low3(rBP)))
	b.u32(uint32(int32(-disp)))
}

// regMemRIP emits `op regField, [rip + disp]` (disp patched later once the
// target symbol's final offset is known; see reloc.go), used for static-area and
// rodata/ijump-table references.
func (b *Buf) regMemRIP(opcode byte, w bool, regField reg) {
	b.u8(rexOf(w, extBit(regField), false, false))
	b.u8(opcode)
	b.u8(modRM(0, low3(regField), 5)) // mod=00, rm=101 => RIP-relative
	b.u32(0)                          // placeholder, patched via Relocation
}

// unaryOp emits a single-operand instruction whose ModRM reg field is an opcode
// extension (not a real register), e.g. NOT/NEG/MUL/DIV/IMUL's one-operand forms
// (0xF7 /2../7).
func (b *Buf) unaryOp(opcode byte, w bool, ext byte, rm reg) {
	b.u8(rexOf(w, false, false, extBit(rm)))
	b.u8(opcode)
	b.u8(modRM(3, ext, low3(rm)))
}

// regRegOp0F emits a two-byte-opcode (0F xx) register-direct instruction, e.g.
// IMUL Gv,Ev or the MOVZX/MOVSX/CMOVcc families.
func (b *Buf) regRegOp0F(opcode byte, w bool, regField, rm reg) {
	b.u8(rexOf(w, extBit(regField), false, extBit(rm)))
	b.u8(0x0F)
	b.u8(opcode)
	b.u8(modRM(3, low3(regField), low3(rm)))
}

// regMemIndirectOp emits `opcodeBytes regField, [base]` (no displacement),
// handling the two x86-64 ModRM/SIB quirks that make plain mod=00 addressing
// ambiguous: base encodings 100 (rsp/r12) require a SIB byte, and 101 (rbp/r13)
// under mod=00 means RIP-relative rather than register-indirect, so that case is
// instead emitted as mod=01 with an explicit disp8 of 0.
func (b *Buf) regMemIndirectOp(opcodeBytes []byte, w bool, regField, base reg) {
	b.u8(rexOf(w, extBit(regField), false, extBit(base)))
	b.bytes(opcodeBytes...)
	switch low3(base) {
	case 4:
		b.u8(modRM(0, low3(regField), 4))
		b.u8(0x24) // SIB: scale=0, index=none, base=base (selected via REX.B)
	case 5:
		b.u8(modRM(1, low3(regField), 5))
		b.u8(0)
	default:
		b.u8(modRM(0, low3(regField), low3(base)))
	}
}

func (b *Buf) regMemIndirect(opcode byte, w bool, regField, base reg) {
	b.regMemIndirectOp([]byte{opcode}, w, regField, base)
}

// xchgRR emits XCHG a, b (0x87 /r): used to temporarily satisfy a fixed-register
// ISA constraint (shift count in cl, dividend in rax) without needing a spare
// fourteenth register, by swapping the constrained register's occupant out and
// back in around the constrained instruction.
func (b *Buf) xchgRR(a, c reg) {
	b.u8(rexOf(true, extBit(a), false, extBit(c)))
	b.u8(0x87)
	b.u8(modRM(3, low3(a), low3(c)))
}

// testRR emits TEST a, a (0x85 /r, both operands the same register): sets SF/ZF
// from a's value without modifying any register.
func (b *Buf) testRR(a, bReg reg) {
	b.u8(rexOf(true, extBit(bReg), false, extBit(a)))
	b.u8(0x85)
	b.u8(modRM(3, low3(bReg), low3(a)))
}

// cqo sign-extends rax's sign bit through rdx (REX.W + 0x99), the standard
// preamble to a signed 64-bit IDIV.
func (b *Buf) cqo() {
	b.u8(rexOf(true, false, false, false))
	b.u8(0x99)
}

// cmovRR emits CMOVcc dst, src (0F 40+cc /r): dst := src iff condition cc holds,
// used to implement select/min/max without a branch.
func (b *Buf) cmovRR(cc byte, dst, src reg) {
	b.regRegOp0F(0x40+cc, true, dst, src)
}

// movsxd emits MOVSXD dst, src (0x63 /r): sign-extends a 32-bit src into a
// 64-bit dst.
func (b *Buf) movsxd(dst, src reg) {
	b.u8(rexOf(true, extBit(dst), false, extBit(src)))
	b.u8(0x63)
	b.u8(modRM(3, low3(dst), low3(src)))
}

// Condition codes (Intel Jcc/SETcc/CMOVcc nibble), named for the comparisons
// select.go builds from them.
const (
	ccB  = 0x2 // below (unsigned <)
	ccAE = 0x3
	ccE  = 0x4
	ccNE = 0x5
	ccBE = 0x6
	ccA  = 0x7 // above (unsigned >)
	ccL  = 0xC // less (signed <)
	ccGE = 0xD
	ccLE = 0xE
	ccG  = 0xF // greater (signed >)
)
