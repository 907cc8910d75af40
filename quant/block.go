package quant

import "github.com/passerbya/xavs/types"

// BlockSize is the number of coefficients in an 8x8 block.
const BlockSize = 64

// Block is an 8x8 grid of transform coefficients in row-major order.
// Quantization and dequantization rewrite it in place.
type Block [BlockSize]int16

// At returns the coefficient at row y, column x.
func (b *Block) At(y, x int) int16 {
	return b[y*8+x]
}

// Set stores v at row y, column x.
func (b *Block) Set(y, x int, v int16) {
	b[y*8+x] = v
}

// Row returns row y as a fixed-size array pointer aliasing b.
func (b *Block) Row(y int) *[8]int16 {
	return (*[8]int16)(b[y*8 : y*8+8])
}

// IsZero reports whether every coefficient is zero.
func (b *Block) IsZero() bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// QuantMatrix holds the per-position forward multipliers (mf) for one
// QP and CQM preset. It is shared read-only by every block coded at that QP.
type QuantMatrix [BlockSize]int32

// BiasVector holds the per-position Q15 rounding offsets (deadzone) added
// before the final forward shift.
type BiasVector [BlockSize]int32

// DequantMatrix holds the per-QP, per-position reconstruction multipliers.
type DequantMatrix [types.QPCount][8][8]int32

// QuantFunc quantizes b in place and reports whether any level is non-zero.
type QuantFunc func(b *Block, mf *QuantMatrix, bias *BiasVector, qp int) bool

// DequantFunc reconstructs b in place from quantized levels.
type DequantFunc func(b *Block, dq *DequantMatrix, qp int)
