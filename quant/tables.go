package quant

import (
	"fmt"

	"github.com/passerbya/xavs/types"
)

// dequantShiftTable is the per-QP reconstruction shift (standard Table 23).
var dequantShiftTable = [types.QPCount]uint8{
	14, 14, 14, 14, 14, 14, 14, 14,
	13, 13, 13, 13, 13, 13, 13, 13,
	13, 12, 12, 12, 12, 12, 12, 12,
	11, 11, 11, 11, 11, 11, 11, 11,
	11, 10, 10, 10, 10, 10, 10, 10,
	10, 9, 9, 9, 9, 9, 9, 9,
	9, 8, 8, 8, 8, 8, 8, 8,
	7, 7, 7, 7, 7, 7, 7, 7,
}

// dequant8Table is the per-QP reconstruction multiplier paired with
// dequantShiftTable. The step size is dequant8Table[qp] >> dequantShiftTable[qp].
var dequant8Table = [types.QPCount]int32{
	32768, 36061, 38968, 42495, 46341, 50535, 55437, 60424,
	32932, 35734, 38968, 42495, 46177, 50535, 55109, 59933,
	65535, 35734, 38968, 42577, 46341, 50617, 55027, 60097,
	32809, 35734, 38968, 42454, 46382, 50576, 55109, 60056,
	65535, 35734, 38968, 42495, 46320, 50515, 55109, 60076,
	65535, 35744, 38968, 42495, 46341, 50535, 55099, 60087,
	65535, 35740, 38968, 42500, 46341, 50535, 55109, 60097,
	32771, 35734, 38965, 42497, 46341, 50535, 55109, 60099,
}

// quant8Table is the Q15 per-QP forward multiplier. It halves every 8 QP.
var quant8Table = [types.QPCount]int32{
	32768, 29775, 27554, 25268, 23170, 21247, 19369, 17770,
	16302, 15024, 13777, 12634, 11626, 10624, 9742, 8958,
	8192, 7512, 6889, 6305, 5793, 5303, 4878, 4467,
	4091, 3756, 3444, 3161, 2894, 2654, 2435, 2235,
	2048, 1878, 1722, 1579, 1449, 1329, 1218, 1117,
	1024, 939, 861, 790, 724, 664, 609, 558,
	512, 470, 430, 395, 362, 332, 304, 279,
	256, 235, 215, 197, 181, 166, 152, 140,
}

// scaleM normalizes the forward 8x8 integer transform. It repeats with
// period 4 in both directions and is folded into every QuantMatrix.
var scaleM = [4][4]int32{
	{32768, 37958, 36158, 37958},
	{37958, 43969, 41884, 43969},
	{36158, 41884, 39898, 41884},
	{37958, 43969, 41884, 43969},
}

// mustQP panics when qp is outside the table range. Quantizer callers own
// this contract; an out-of-range QP is a programming error.
func mustQP(qp int) {
	if !types.ValidQP(qp) {
		panic(fmt.Sprintf("quant: qp %d out of range [%d,%d]", qp, types.QPMin, types.QPMax))
	}
}

// Quant8 returns the Q15 forward multiplier for qp.
func Quant8(qp int) int32 {
	mustQP(qp)
	return quant8Table[qp]
}

// DequantShift returns the reconstruction right-shift for qp.
func DequantShift(qp int) uint {
	mustQP(qp)
	return uint(dequantShiftTable[qp])
}

// Dequant8 returns the flat reconstruction multiplier for qp.
func Dequant8(qp int) int32 {
	mustQP(qp)
	return dequant8Table[qp]
}

// ScaleM returns the transform normalization factor for position (y, x).
func ScaleM(y, x int) int32 {
	return scaleM[y&3][x&3]
}
