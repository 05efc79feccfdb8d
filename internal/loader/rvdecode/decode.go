// Package rvdecode is a minimal RISC-V RV64IM instruction decoder. Full disassembly
// (covering the base I, M, A, F, D and Zicsr extensions named in spec.md §6) is an
// external collaborator and explicitly out of scope for the translation pipeline;
// this package exists only so the lifter has something concrete to drive in tests
// and so the example end-to-end scenarios (integer-only guest programs) can be
// exercised without a real disassembler dependency. Anything this decoder does not
// recognize reports Size<=0, which the loader/lifter treat as "not decodable" per
// spec.md §4.2 step 1.
package rvdecode

import "github.com/dm-sbt/rv2x86/internal/loader"

// Decode decodes the 32-bit little-endian RISC-V instruction word at the head of
// buf. Returns an Instruction with Size<=0 if buf is too short or the opcode/funct
// bits are not recognized.
func Decode(buf []byte) loader.Instruction {
	if len(buf) < 4 {
		return loader.Instruction{Size: 0}
	}
	w := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	if w&0x3 != 0x3 {
		// Compressed (16-bit) instructions are a RISC-V extension beyond the base
		// integer set this decoder covers (spec.md §1 Non-goals).
		return loader.Instruction{Size: 0}
	}

	opcode := w & 0x7F
	rd := int8((w >> 7) & 0x1F)
	funct3 := (w >> 12) & 0x7
	rs1 := int8((w >> 15) & 0x1F)
	rs2 := int8((w >> 20) & 0x1F)
	funct7 := (w >> 25) & 0x7F

	switch opcode {
	case 0b0110111: // LUI
		return loader.Instruction{Mnemonic: "lui", Rd: rd, Imm1: int64(int32(w & 0xFFFFF000)), Size: 4}
	case 0b0010111: // AUIPC
		return loader.Instruction{Mnemonic: "auipc", Rd: rd, Imm1: int64(int32(w & 0xFFFFF000)), Size: 4}
	case 0b1101111: // JAL
		imm := jImm(w)
		return loader.Instruction{Mnemonic: "jal", Rd: rd, Imm1: imm, Size: 4}
	case 0b1100111: // JALR
		if funct3 != 0 {
			return loader.Instruction{Size: 0}
		}
		return loader.Instruction{Mnemonic: "jalr", Rd: rd, Rs1: rs1, Imm1: iImm(w), Size: 4}
	case 0b1100011: // branches
		m, ok := branchMnemonic(funct3)
		if !ok {
			return loader.Instruction{Size: 0}
		}
		return loader.Instruction{Mnemonic: m, Rs1: rs1, Rs2: rs2, Imm1: bImm(w), Size: 4}
	case 0b0000011: // loads
		m, ok := loadMnemonic(funct3)
		if !ok {
			return loader.Instruction{Size: 0}
		}
		return loader.Instruction{Mnemonic: m, Rd: rd, Rs1: rs1, Imm1: iImm(w), Size: 4}
	case 0b0100011: // stores
		m, ok := storeMnemonic(funct3)
		if !ok {
			return loader.Instruction{Size: 0}
		}
		return loader.Instruction{Mnemonic: m, Rs1: rs1, Rs2: rs2, Imm1: sImm(w), Size: 4}
	case 0b0010011: // reg-imm, 64-bit width
		return decodeRegImm(w, rd, rs1, funct3, funct7, false)
	case 0b0011011: // reg-imm, 32-bit (W) width
		return decodeRegImm(w, rd, rs1, funct3, funct7, true)
	case 0b0110011: // reg-reg, 64-bit width
		return decodeRegReg(rd, rs1, rs2, funct3, funct7, false)
	case 0b0111011: // reg-reg, 32-bit (W) width
		return decodeRegReg(rd, rs1, rs2, funct3, funct7, true)
	case 0b0001111: // FENCE / FENCE.I
		if funct3 == 1 {
			return loader.Instruction{Mnemonic: "fence.i", Size: 4}
		}
		return loader.Instruction{Mnemonic: "fence", Size: 4}
	case 0b1110011: // ECALL/EBREAK/Zicsr
		imm12 := w >> 20
		if funct3 == 0 {
			if imm12 == 0 {
				return loader.Instruction{Mnemonic: "ecall", Size: 4}
			} else if imm12 == 1 {
				return loader.Instruction{Mnemonic: "ebreak", Size: 4}
			}
		}
		// Zicsr instructions are not decoded by this minimal stub.
		return loader.Instruction{Size: 0}
	case 0b0101111: // AMO (A extension)
		m, ok := amoMnemonic(funct7 >> 2)
		if !ok {
			return loader.Instruction{Size: 0}
		}
		return loader.Instruction{Mnemonic: m, Rd: rd, Rs1: rs1, Rs2: rs2, Size: 4}
	default:
		// F/D-extension loads/stores/arith (opcodes 0000111/0100111/1000011../1010011)
		// are outside this minimal decoder's coverage; they report as undecodable.
		return loader.Instruction{Size: 0}
	}
}

func decodeRegImm(w uint32, rd, rs1 int8, funct3, funct7 uint32, w32 bool) loader.Instruction {
	suffix := ""
	if w32 {
		suffix = "w"
	}
	switch funct3 {
	case 0b000:
		return loader.Instruction{Mnemonic: "addi" + suffix, Rd: rd, Rs1: rs1, Imm1: iImm(w), Size: 4}
	case 0b010:
		return loader.Instruction{Mnemonic: "slti", Rd: rd, Rs1: rs1, Imm1: iImm(w), Size: 4}
	case 0b011:
		return loader.Instruction{Mnemonic: "sltiu", Rd: rd, Rs1: rs1, Imm1: iImm(w), Size: 4}
	case 0b100:
		return loader.Instruction{Mnemonic: "xori", Rd: rd, Rs1: rs1, Imm1: iImm(w), Size: 4}
	case 0b110:
		return loader.Instruction{Mnemonic: "ori", Rd: rd, Rs1: rs1, Imm1: iImm(w), Size: 4}
	case 0b111:
		return loader.Instruction{Mnemonic: "andi", Rd: rd, Rs1: rs1, Imm1: iImm(w), Size: 4}
	case 0b001:
		shamt := int64((w >> 20) & 0x3F)
		return loader.Instruction{Mnemonic: "slli" + suffix, Rd: rd, Rs1: rs1, Imm1: shamt, Size: 4}
	case 0b101:
		shamt := int64((w >> 20) & 0x3F)
		if funct7>>1 == 0b0100000>>1 {
			return loader.Instruction{Mnemonic: "srai" + suffix, Rd: rd, Rs1: rs1, Imm1: shamt, Size: 4}
		}
		return loader.Instruction{Mnemonic: "srli" + suffix, Rd: rd, Rs1: rs1, Imm1: shamt, Size: 4}
	}
	return loader.Instruction{Size: 0}
}

func decodeRegReg(rd, rs1, rs2 int8, funct3, funct7 uint32, w32 bool) loader.Instruction {
	suffix := ""
	if w32 {
		suffix = "w"
	}
	if funct7 == 0b0000001 { // M extension
		m, ok := mExtMnemonic(funct3, w32)
		if !ok {
			return loader.Instruction{Size: 0}
		}
		return loader.Instruction{Mnemonic: m, Rd: rd, Rs1: rs1, Rs2: rs2, Size: 4}
	}
	switch funct3 {
	case 0b000:
		if funct7 == 0b0100000 {
			return loader.Instruction{Mnemonic: "sub" + suffix, Rd: rd, Rs1: rs1, Rs2: rs2, Size: 4}
		}
		return loader.Instruction{Mnemonic: "add" + suffix, Rd: rd, Rs1: rs1, Rs2: rs2, Size: 4}
	case 0b001:
		return loader.Instruction{Mnemonic: "sll" + suffix, Rd: rd, Rs1: rs1, Rs2: rs2, Size: 4}
	case 0b010:
		if w32 {
			return loader.Instruction{Size: 0}
		}
		return loader.Instruction{Mnemonic: "slt", Rd: rd, Rs1: rs1, Rs2: rs2, Size: 4}
	case 0b011:
		if w32 {
			return loader.Instruction{Size: 0}
		}
		return loader.Instruction{Mnemonic: "sltu", Rd: rd, Rs1: rs1, Rs2: rs2, Size: 4}
	case 0b100:
		if w32 {
			return loader.Instruction{Size: 0}
		}
		return loader.Instruction{Mnemonic: "xor", Rd: rd, Rs1: rs1, Rs2: rs2, Size: 4}
	case 0b101:
		if funct7 == 0b0100000 {
			return loader.Instruction{Mnemonic: "sra" + suffix, Rd: rd, Rs1: rs1, Rs2: rs2, Size: 4}
		}
		return loader.Instruction{Mnemonic: "srl" + suffix, Rd: rd, Rs1: rs1, Rs2: rs2, Size: 4}
	case 0b110:
		if w32 {
			return loader.Instruction{Size: 0}
		}
		return loader.Instruction{Mnemonic: "or", Rd: rd, Rs1: rs1, Rs2: rs2, Size: 4}
	case 0b111:
		if w32 {
			return loader.Instruction{Size: 0}
		}
		return loader.Instruction{Mnemonic: "and", Rd: rd, Rs1: rs1, Rs2: rs2, Size: 4}
	}
	return loader.Instruction{Size: 0}
}

func mExtMnemonic(funct3 uint32, w32 bool) (string, bool) {
	suffix := ""
	if w32 {
		suffix = "w"
	}
	switch funct3 {
	case 0b000:
		return "mul" + suffix, true
	case 0b001:
		if w32 {
			return "", false
		}
		return "mulh", true
	case 0b010:
		if w32 {
			return "", false
		}
		return "mulhsu", true
	case 0b011:
		if w32 {
			return "", false
		}
		return "mulhu", true
	case 0b100:
		return "div" + suffix, true
	case 0b101:
		return "divu" + suffix, true
	case 0b110:
		return "rem" + suffix, true
	case 0b111:
		return "remu" + suffix, true
	}
	return "", false
}

func amoMnemonic(funct5 uint32) (string, bool) {
	switch funct5 {
	case 0b00010:
		return "lr.w", true
	case 0b00011:
		return "sc.w", true
	case 0b00001:
		return "amoswap.w", true
	case 0b00000:
		return "amoadd.w", true
	default:
		return "", false
	}
}

func branchMnemonic(funct3 uint32) (string, bool) {
	switch funct3 {
	case 0b000:
		return "beq", true
	case 0b001:
		return "bne", true
	case 0b100:
		return "blt", true
	case 0b101:
		return "bge", true
	case 0b110:
		return "bltu", true
	case 0b111:
		return "bgeu", true
	}
	return "", false
}

func loadMnemonic(funct3 uint32) (string, bool) {
	switch funct3 {
	case 0b000:
		return "lb", true
	case 0b001:
		return "lh", true
	case 0b010:
		return "lw", true
	case 0b011:
		return "ld", true
	case 0b100:
		return "lbu", true
	case 0b101:
		return "lhu", true
	case 0b110:
		return "lwu", true
	}
	return "", false
}

func storeMnemonic(funct3 uint32) (string, bool) {
	switch funct3 {
	case 0b000:
		return "sb", true
	case 0b001:
		return "sh", true
	case 0b010:
		return "sw", true
	case 0b011:
		return "sd", true
	}
	return "", false
}

func iImm(w uint32) int64 {
	return int64(int32(w)) >> 20
}

func sImm(w uint32) int64 {
	imm := ((w >> 25) << 5) | ((w >> 7) & 0x1F)
	return int64(int32(imm<<20)) >> 20
}

func bImm(w uint32) int64 {
	imm := ((w >> 31) << 12) | (((w >> 7) & 1) << 11) | (((w >> 25) & 0x3F) << 5) | (((w >> 8) & 0xF) << 1)
	return int64(int32(imm<<19)) >> 19
}

func jImm(w uint32) int64 {
	imm := ((w >> 31) << 20) | (((w >> 12) & 0xFF) << 12) | (((w >> 20) & 1) << 11) | (((w >> 21) & 0x3FF) << 1)
	return int64(int32(imm<<11)) >> 11
}
