package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvalBinaryLaws(t *testing.T) {
	for _, typ := range []Type{TypeI8, TypeI16, TypeI32, TypeI64} {
		r, _ := EvalBinary(OpAdd, typ, 5, 0)
		require.Equal(t, uint64(5), r, "add(a,0)=a for %s", typ)

		r, _ = EvalBinary(OpSub, typ, 5, 5)
		require.Equal(t, uint64(0), r, "sub(a,a)=0 for %s", typ)

		r, _ = EvalBinary(OpXor, typ, 5, 5)
		require.Equal(t, uint64(0), r, "xor(a,a)=0 for %s", typ)

		r, _ = EvalBinary(OpAnd, typ, 5, typ.Mask())
		require.Equal(t, uint64(5), r, "and(a,~0)=a for %s", typ)

		r, _ = EvalBinary(OpOr, typ, 5, 0)
		require.Equal(t, uint64(5), r, "or(a,0)=a for %s", typ)

		r, _ = EvalBinary(OpShl, typ, 5, 0)
		require.Equal(t, uint64(5), r, "shl(a,0)=a for %s", typ)
	}
}

func TestEvalBinarySarMinusOne(t *testing.T) {
	r, _ := EvalBinary(OpSar, TypeI32, TypeI32.Mask(), 5)
	require.Equal(t, TypeI32.Mask(), r, "sar(-1,k)=-1 for i32")
}

func TestEvalBinaryBoundary(t *testing.T) {
	r, _ := EvalBinary(OpAdd, TypeI32, 0xFFFFFFFF, 1)
	require.Equal(t, uint64(0), r)

	r, _ = EvalBinary(OpSub, TypeI32, 0x80000000, 1)
	require.Equal(t, uint64(0x7FFFFFFF), r)

	r, _ = EvalBinary(OpSumulH, TypeI32, uint64(int32(math.MinInt32))&TypeI32.Mask(), 16)
	require.Equal(t, uint64(0xFFFFFFF8), r) // -8 as i32
}

func TestEvalDivByZero(t *testing.T) {
	q, r := evalDiv(5, 0, TypeI64)
	require.Equal(t, TypeI64.Mask(), q)
	require.Equal(t, uint64(5), r)

	q, r = evalUdiv(5, 0, TypeI64)
	require.Equal(t, TypeI64.Mask(), q)
	require.Equal(t, uint64(5), r)
}

func TestEvalDivOverflow(t *testing.T) {
	minI32 := uint64(0x80000000)
	q, r := evalDiv(minI32, TypeI32.Mask() /* -1 */, TypeI32)
	require.Equal(t, minI32, q)
	require.Equal(t, uint64(0), r)
}

func TestEvalCastNarrow(t *testing.T) {
	require.Equal(t, uint64(0xFFFF), uint64(0xFFFFFFFF)&TypeI16.Mask())
}

func TestSignExtend(t *testing.T) {
	require.Equal(t, uint64(0xFFFFFFFF), uint64(signExtend(0xFFFF, TypeI16))&TypeI32.Mask())
}
