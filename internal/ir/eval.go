package ir

import "math/bits"

// EvalBinary implements the reference evaluator for a two-input integer operation,
// carried over unsigned 64-bit and narrowed to typ's width, matching RISC-V modulo
// two's-complement semantics (spec §4.1). The second return is the remainder, valid
// only for OpDiv/OpUdiv.
func EvalBinary(op Opcode, typ Type, a, b uint64) (result, remainder uint64) {
	mask := typ.Mask()
	a &= mask
	b &= mask
	switch op {
	case OpAdd:
		return (a + b) & mask, 0
	case OpSub:
		return (a - b) & mask, 0
	case OpMulL:
		return (a * b) & mask, 0
	case OpSsmulH:
		return uint64(signedMulHigh(int64(signExtend(a, typ)), int64(signExtend(b, typ)), typ)) & mask, 0
	case OpUumulH:
		return unsignedMulHigh(a, b, typ), 0
	case OpSumulH:
		return uint64(mixedMulHigh(int64(signExtend(a, typ)), b, typ)) & mask, 0
	case OpDiv:
		return evalDiv(a, b, typ)
	case OpUdiv:
		return evalUdiv(a, b, typ)
	case OpShl:
		s := shiftAmount(b, typ)
		return (a << s) & mask, 0
	case OpShr:
		s := shiftAmount(b, typ)
		return (a & mask) >> s, 0
	case OpSar:
		s := shiftAmount(b, typ)
		sv := signExtend(a, typ)
		return uint64(sv>>s) & mask, 0
	case OpOr:
		return (a | b) & mask, 0
	case OpAnd:
		return (a & b) & mask, 0
	case OpXor:
		return (a ^ b) & mask, 0
	default:
		panic("ir: EvalBinary: unsupported opcode " + op.String())
	}
}

// EvalUnary implements the reference evaluator for a one-input operation.
func EvalUnary(op Opcode, typ Type, a uint64) uint64 {
	mask := typ.Mask()
	switch op {
	case OpNot:
		return (^a) & mask
	default:
		panic("ir: EvalUnary: unsupported opcode " + op.String())
	}
}

// signExtend interprets a (already masked to typ's width) as a two's-complement
// value of typ's width and sign-extends it to a full 64-bit signed value.
func signExtend(a uint64, typ Type) int64 {
	b := typ.Bits()
	if b == 64 {
		return int64(a)
	}
	shift := 64 - b
	return int64(a<<uint(shift)) >> uint(shift)
}

func shiftAmount(b uint64, typ Type) uint64 {
	switch typ {
	case TypeI32:
		return b & 0x1F
	case TypeI64:
		return b & 0x3F
	default:
		return b & uint64(typ.Bits()-1)
	}
}

func signedMulHigh(a, b int64, typ Type) int64 {
	switch typ.Bits() {
	case 32:
		p := int64(a) * int64(b)
		return p >> 32
	case 64:
		hi, _ := bits.Mul64(uint64(a), uint64(b))
		// Correct the unsigned high part for signed operands.
		if a < 0 {
			hi -= uint64(b)
		}
		if b < 0 {
			hi -= uint64(a)
		}
		return int64(hi)
	default:
		panic("ir: signedMulHigh: unsupported width")
	}
}

func unsignedMulHigh(a, b uint64, typ Type) uint64 {
	switch typ.Bits() {
	case 32:
		return (a * b) >> 32
	case 64:
		hi, _ := bits.Mul64(a, b)
		return hi
	default:
		panic("ir: unsignedMulHigh: unsupported width")
	}
}

func mixedMulHigh(a int64, bUnsigned uint64, typ Type) int64 {
	switch typ.Bits() {
	case 32:
		return (a * int64(bUnsigned)) >> 32
	case 64:
		hi, _ := bits.Mul64(uint64(a), bUnsigned)
		if a < 0 {
			hi -= bUnsigned
		}
		return int64(hi)
	default:
		panic("ir: mixedMulHigh: unsupported width")
	}
}

// evalDiv implements RISC-V signed division semantics: division by zero yields
// quotient = all-ones, remainder = dividend; INT_MIN / -1 overflow yields quotient =
// INT_MIN, remainder = 0 (spec §4.1).
func evalDiv(a, b uint64, typ Type) (quotient, remainder uint64) {
	mask := typ.Mask()
	sa := signExtend(a, typ)
	sbv := signExtend(b, typ)
	if sbv == 0 {
		return mask, uint64(sa) & mask
	}
	minVal := int64(1) << uint(typ.Bits()-1)
	if typ.Bits() == 64 {
		minVal = int64(1) << 63
	}
	if sa == minVal && sbv == -1 {
		return uint64(minVal) & mask, 0
	}
	q := sa / sbv
	r := sa % sbv
	return uint64(q) & mask, uint64(r) & mask
}

// evalUdiv implements unsigned division; RISC-V defines division by zero as
// quotient = all-ones, remainder = dividend.
func evalUdiv(a, b uint64, typ Type) (quotient, remainder uint64) {
	mask := typ.Mask()
	if b&mask == 0 {
		return mask, a & mask
	}
	return (a / b) & mask, (a % b) & mask
}
