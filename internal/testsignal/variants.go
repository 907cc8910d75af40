// Package testsignal generates deterministic synthetic residual content for
// exercising the quantizer and rate controller without a real transform
// stage.
package testsignal

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/passerbya/xavs/quant"
)

const (
	VariantSteadyV1   = "steady_v1"
	VariantSceneCutV1 = "scene_cut_v1"
	VariantRampV1     = "ramp_v1"
	VariantFlashV1    = "flash_v1"
)

// SceneLength is the number of frames between cuts in VariantSceneCutV1.
const SceneLength = 60

var variants = []string{
	VariantSteadyV1,
	VariantSceneCutV1,
	VariantRampV1,
	VariantFlashV1,
}

// ErrUnknownVariant is returned for a variant name not in Variants.
var ErrUnknownVariant = errors.New("testsignal: unknown variant")

// Variants returns the names of every content variant.
func Variants() []string {
	out := make([]string, len(variants))
	copy(out, variants)
	return out
}

// Activity returns the residual magnitude of frame in the given variant.
func Activity(variant string, seed int64, frame int) (float64, error) {
	if frame < 0 {
		return 0, errors.Errorf("testsignal: negative frame %d", frame)
	}
	switch variant {
	case VariantSteadyV1:
		return 900, nil
	case VariantSceneCutV1:
		scene := frame / SceneLength
		base := 200 + 1800*unitNoise(seed, scene, 31)
		return base * (1 + 0.15*math.Sin(float64(frame)/9)), nil
	case VariantRampV1:
		return 150 + 12*float64(frame%400), nil
	case VariantFlashV1:
		if frame%48 == 47 {
			return 6000, nil
		}
		return 500 * (1 + 0.1*unitNoise(seed, frame, 7)), nil
	}
	return 0, errors.Wrapf(ErrUnknownVariant, "%q", variant)
}

// FillBlock draws a residual block whose energy falls off along the zigzag
// scan, as transformed prediction residuals do.
func FillBlock(b *quant.Block, rng *rand.Rand, activity float64) {
	for pos, idx := range quant.ZigzagScan {
		v := rng.NormFloat64() * activity / (1 + 0.5*float64(pos))
		b[idx] = int16(math.Max(-32768, math.Min(32767, math.Round(v))))
	}
}

// HashBlocks returns a hex digest of the blocks' coefficients.
func HashBlocks(blocks []quant.Block) string {
	h := sha256.New()
	var buf [2]byte
	for i := range blocks {
		for _, c := range blocks[i] {
			binary.LittleEndian.PutUint16(buf[:], uint16(c))
			_, _ = h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// unitNoise returns a deterministic value in [0,1).
func unitNoise(seed int64, idx, salt int) float64 {
	x := uint32(int64(idx)*1664525 + seed*1013904223 + int64(salt)*2246822519)
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	return float64(x) / 4294967296.0
}
