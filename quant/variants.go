package quant

import "github.com/passerbya/xavs/util"

// Alternative implementations of the reference quantizers. Each one trades
// the reference loop for a layout that suits a wider register file; all
// of them must stay bit-exact with quant8x8C and dequant8x8C.

// quant8x8Unrolled handles one row per iteration with the eight positions
// written out.
func quant8x8Unrolled(b *Block, mf *QuantMatrix, bias *BiasVector, qp int) bool {
	qt := Quant8(qp)
	var nz int32
	for i := 0; i < BlockSize; i += 8 {
		r := b[i : i+8 : i+8]
		m := mf[i : i+8 : i+8]
		f := bias[i : i+8 : i+8]
		l0 := quantOne(int32(r[0]), m[0], qt, f[0])
		l1 := quantOne(int32(r[1]), m[1], qt, f[1])
		l2 := quantOne(int32(r[2]), m[2], qt, f[2])
		l3 := quantOne(int32(r[3]), m[3], qt, f[3])
		l4 := quantOne(int32(r[4]), m[4], qt, f[4])
		l5 := quantOne(int32(r[5]), m[5], qt, f[5])
		l6 := quantOne(int32(r[6]), m[6], qt, f[6])
		l7 := quantOne(int32(r[7]), m[7], qt, f[7])
		r[0], r[1], r[2], r[3] = int16(l0), int16(l1), int16(l2), int16(l3)
		r[4], r[5], r[6], r[7] = int16(l4), int16(l5), int16(l6), int16(l7)
		nz |= l0 | l1 | l2 | l3 | l4 | l5 | l6 | l7
	}
	return nz != 0
}

// quantLanes runs the branch-free form over n lanes at a time: the sign
// is split off as a mask, the magnitude quantized, and the mask applied
// back with xor/subtract. The mask is taken from c-1 so that zero follows
// the reference's non-positive path.
func quantLanes(b *Block, mf *QuantMatrix, bias *BiasVector, qp int, n int) bool {
	qt := Quant8(qp)
	var nz int32
	var mag, sign [16]int32
	for i := 0; i < BlockSize; i += n {
		for l := 0; l < n; l++ {
			c := int32(b[i+l])
			s := (c - 1) >> 31
			sign[l] = s
			mag[l] = (c ^ s) - s
		}
		for l := 0; l < n; l++ {
			mag[l] = (mag[l]*mf[i+l] + (1 << 18)) >> 19
		}
		for l := 0; l < n; l++ {
			mag[l] = (bias[i+l] + mag[l]*qt) >> 15
		}
		for l := 0; l < n; l++ {
			v := (mag[l] ^ sign[l]) - sign[l]
			b[i+l] = int16(v)
			nz |= v
		}
	}
	return nz != 0
}

func quant8x8Lanes4(b *Block, mf *QuantMatrix, bias *BiasVector, qp int) bool {
	return quantLanes(b, mf, bias, qp, 4)
}

func quant8x8Lanes16(b *Block, mf *QuantMatrix, bias *BiasVector, qp int) bool {
	return quantLanes(b, mf, bias, qp, 16)
}

// quant8x8SignMask is the single-pass branch-free form.
func quant8x8SignMask(b *Block, mf *QuantMatrix, bias *BiasVector, qp int) bool {
	qt := Quant8(qp)
	var nz int32
	for i := range b {
		c := int32(b[i])
		s := (c - 1) >> 31
		m := (c ^ s) - s
		m = (bias[i] + ((m*mf[i]+(1<<18))>>19)*qt) >> 15
		v := (m ^ s) - s
		b[i] = int16(v)
		nz |= v
	}
	return nz != 0
}

// quant8x8Rows quantizes a row into a local vector and tests the whole row
// for non-zero levels at once before storing it.
func quant8x8Rows(b *Block, mf *QuantMatrix, bias *BiasVector, qp int) bool {
	qt := Quant8(qp)
	nz := false
	for y := 0; y < 8; y++ {
		row := b.Row(y)
		var out [8]int16
		var rowNZ int32
		for x := 0; x < 8; x++ {
			i := y*8 + x
			c := int32(row[x])
			s := (c - 1) >> 31
			m := (c ^ s) - s
			m = (bias[i] + ((m*mf[i]+(1<<18))>>19)*qt) >> 15
			v := (m ^ s) - s
			out[x] = int16(v)
			rowNZ |= v
		}
		*row = out
		if rowNZ != 0 {
			nz = true
		}
	}
	return nz
}

// dequant8x8Unrolled reconstructs one row per iteration.
func dequant8x8Unrolled(b *Block, dq *DequantMatrix, qp int) {
	shift := DequantShift(qp)
	round := int64(1) << (shift - 1)
	m := &dq[qp]
	for y := 0; y < 8; y++ {
		r := b.Row(y)
		w := &m[y]
		r[0] = dequantOne(r[0], w[0], round, shift)
		r[1] = dequantOne(r[1], w[1], round, shift)
		r[2] = dequantOne(r[2], w[2], round, shift)
		r[3] = dequantOne(r[3], w[3], round, shift)
		r[4] = dequantOne(r[4], w[4], round, shift)
		r[5] = dequantOne(r[5], w[5], round, shift)
		r[6] = dequantOne(r[6], w[6], round, shift)
		r[7] = dequantOne(r[7], w[7], round, shift)
	}
}

// dequant8x8Lanes widens four levels at a time, then saturates the batch.
func dequant8x8Lanes(b *Block, dq *DequantMatrix, qp int) {
	shift := DequantShift(qp)
	round := int64(1) << (shift - 1)
	m := &dq[qp]
	var acc [4]int64
	for i := 0; i < BlockSize; i += 4 {
		y, x := i>>3, i&7
		w := m[y][x : x+4 : x+4]
		for l := 0; l < 4; l++ {
			acc[l] = (int64(b[i+l])*int64(w[l]) + round) >> shift
		}
		for l := 0; l < 4; l++ {
			b[i+l] = util.ClampInt16(acc[l])
		}
	}
}

// dequant8x8Flat assumes every position of dq[qp] carries the same
// multiplier, which holds only for the flat CQM preset. The dispatcher
// selects it for nothing else.
func dequant8x8Flat(b *Block, dq *DequantMatrix, qp int) {
	shift := DequantShift(qp)
	round := int64(1) << (shift - 1)
	m := int64(dq[qp][0][0])
	for i, v := range b {
		b[i] = util.ClampInt16((int64(v)*m + round) >> shift)
	}
}
