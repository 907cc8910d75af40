package quant

import (
	"github.com/pkg/errors"

	"github.com/passerbya/xavs/types"
)

// Errors returned while building quantization tables.
var (
	// ErrInvalidCQM indicates a weighting matrix the quantizers cannot use.
	ErrInvalidCQM = errors.New("quant: invalid quantization matrix")

	// ErrInvalidDeadzone indicates a rounding offset outside [0, 1<<15).
	ErrInvalidDeadzone = errors.New("quant: invalid deadzone")
)

// FlatWeight is the unity weight of a quantization matrix.
const FlatWeight = 16

// Deadzone holds the Q15 rounding offsets used for intra and inter blocks.
type Deadzone struct {
	Intra int32
	Inter int32
}

// DefaultDeadzone returns the reference encoder's offsets: 10/31 of a step
// for intra blocks and 10/62 for inter blocks.
func DefaultDeadzone() Deadzone {
	return Deadzone{
		Intra: (1 << 15) * 10 / 31,
		Inter: (1 << 15) * 10 / 62,
	}
}

// maxMF keeps |c|*mf + 1<<18 inside 32 bits for any 16-bit coefficient.
const maxMF = (1<<31 - 1 - 1<<18) / 32768

// Tables holds every matrix derived from one CQM preset. A Tables value is
// immutable after NewTables returns and may be shared by any number of
// goroutines.
type Tables struct {
	preset  types.CQMPreset
	weights [BlockSize]uint8
	mf      QuantMatrix
	intra   BiasVector
	inter   BiasVector
	dequant DequantMatrix
}

// NewTables builds the quantization tables for preset. weights is read only
// for CQMCustom and holds 64 row-major weights where 16 is unity.
func NewTables(preset types.CQMPreset, weights *[BlockSize]uint8, dz Deadzone) (*Tables, error) {
	if dz.Intra < 0 || dz.Intra >= 1<<15 {
		return nil, errors.Wrapf(ErrInvalidDeadzone, "intra offset %d", dz.Intra)
	}
	if dz.Inter < 0 || dz.Inter >= 1<<15 {
		return nil, errors.Wrapf(ErrInvalidDeadzone, "inter offset %d", dz.Inter)
	}

	t := &Tables{preset: preset}
	switch preset {
	case types.CQMFlat:
		for i := range t.weights {
			t.weights[i] = FlatWeight
		}
	case types.CQMCustom:
		if weights == nil {
			return nil, errors.Wrap(ErrInvalidCQM, "custom preset without weights")
		}
		t.weights = *weights
	default:
		return nil, errors.Wrapf(ErrInvalidCQM, "unknown preset %d", preset)
	}

	for i, w := range t.weights {
		if w == 0 {
			return nil, errors.Wrapf(ErrInvalidCQM, "zero weight at position %d", i)
		}
		y, x := i>>3, i&7
		mf := ScaleM(y, x) * FlatWeight / int32(w)
		if mf > maxMF {
			return nil, errors.Wrapf(ErrInvalidCQM, "weight %d at position %d overflows the quantizer", w, i)
		}
		t.mf[i] = mf
		t.intra[i] = dz.Intra
		t.inter[i] = dz.Inter
	}

	for qp := 0; qp < types.QPCount; qp++ {
		for i, w := range t.weights {
			t.dequant[qp][i>>3][i&7] = dequant8Table[qp] * int32(w) / FlatWeight
		}
	}
	return t, nil
}

// Preset returns the CQM preset the tables were built from.
func (t *Tables) Preset() types.CQMPreset { return t.preset }

// Flat reports whether every weight is unity, which makes every row of the
// dequantization matrix uniform.
func (t *Tables) Flat() bool {
	for _, w := range t.weights {
		if w != FlatWeight {
			return false
		}
	}
	return true
}

// QuantMatrix returns the forward multipliers used at qp. The weighting is
// the same at every QP; the per-QP scale comes from the constant table
// inside the quantizer.
func (t *Tables) QuantMatrix(qp int) *QuantMatrix {
	mustQP(qp)
	return &t.mf
}

// Bias returns the rounding offsets for intra or inter blocks.
func (t *Tables) Bias(intra bool) *BiasVector {
	if intra {
		return &t.intra
	}
	return &t.inter
}

// DequantMatrix returns the per-QP reconstruction multipliers.
func (t *Tables) DequantMatrix() *DequantMatrix { return &t.dequant }
