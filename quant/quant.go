// Package quant implements the 8x8 forward and inverse quantizers, the
// standard's per-QP tables, and the selection of a CPU-specific
// implementation at session start.
//
// Forward quantization of a coefficient c at position i:
//
//	level = (f[i] + ((|c|*mf[i] + 1<<18) >> 19) * quant8[qp]) >> 15
//
// with the sign of c restored afterwards, so the deadzone is symmetric
// around zero. Reconstruction is
//
//	coef = clamp16((level*dq[qp][y][x] + 1<<(shift-1)) >> shift)
//
// Every implementation in the catalog produces bit-identical output for
// identical input; only speed differs.
package quant

import "github.com/passerbya/xavs/util"

// quantOne quantizes a single coefficient. Negative input is quantized by
// magnitude and negated.
func quantOne(c, mf, qtable, f int32) int32 {
	if c > 0 {
		return (f + ((c*mf+(1<<18))>>19)*qtable) >> 15
	}
	return -((f + (((-c)*mf+(1<<18))>>19)*qtable) >> 15)
}

// dequantOne reconstructs a single level and saturates it to 16 bits.
// The product is formed in 64 bits so custom weightings cannot wrap
// before the clamp.
func dequantOne(level int16, m int32, round int64, shift uint) int16 {
	return util.ClampInt16((int64(level)*int64(m) + round) >> shift)
}

// quant8x8C is the portable reference quantizer.
func quant8x8C(b *Block, mf *QuantMatrix, bias *BiasVector, qp int) bool {
	qtable := Quant8(qp)
	var nz int32
	for i := 0; i < BlockSize; i++ {
		level := quantOne(int32(b[i]), mf[i], qtable, bias[i])
		b[i] = int16(level)
		nz |= level
	}
	return nz != 0
}

// dequant8x8C is the portable reference dequantizer.
func dequant8x8C(b *Block, dq *DequantMatrix, qp int) {
	shift := DequantShift(qp)
	round := int64(1) << (shift - 1)
	m := &dq[qp]
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			b[y*8+x] = dequantOne(b[y*8+x], m[y][x], round, shift)
		}
	}
}

// Quant8x8 quantizes b in place with the reference implementation and
// reports whether any level is non-zero. It panics if qp is outside [0,63].
func Quant8x8(b *Block, mf *QuantMatrix, bias *BiasVector, qp int) bool {
	return quant8x8C(b, mf, bias, qp)
}

// Dequant8x8 reconstructs b in place with the reference implementation,
// clamping every coefficient to [-32768, 32767]. It panics if qp is
// outside [0,63].
func Dequant8x8(b *Block, dq *DequantMatrix, qp int) {
	dequant8x8C(b, dq, qp)
}
