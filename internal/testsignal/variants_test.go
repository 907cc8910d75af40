package testsignal

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"

	"github.com/passerbya/xavs/quant"
)

func TestActivityVariants(t *testing.T) {
	for _, v := range Variants() {
		for frame := 0; frame < 500; frame++ {
			a, err := Activity(v, 3, frame)
			if err != nil {
				t.Fatalf("%s frame %d: %v", v, frame, err)
			}
			if a <= 0 {
				t.Fatalf("%s frame %d: activity %f, want > 0", v, frame, a)
			}
		}
	}
}

func TestSceneCutIsStableWithinScene(t *testing.T) {
	a0, _ := Activity(VariantSceneCutV1, 1, 0)
	again, _ := Activity(VariantSceneCutV1, 1, 0)
	if a0 != again {
		t.Fatalf("activity not deterministic: %f vs %f", a0, again)
	}
	next, _ := Activity(VariantSceneCutV1, 1, SceneLength)
	if next == a0 {
		t.Fatalf("scene cut did not change activity (%f)", a0)
	}
}

func TestActivityErrors(t *testing.T) {
	if _, err := Activity("nope", 0, 0); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("unknown variant error = %v", err)
	}
	if _, err := Activity(VariantSteadyV1, 0, -1); err == nil {
		t.Fatal("negative frame accepted")
	}
}

func TestFillBlockDeterministic(t *testing.T) {
	gen := func() []quant.Block {
		rng := rand.New(rand.NewSource(42))
		out := make([]quant.Block, 8)
		for i := range out {
			FillBlock(&out[i], rng, 1000)
		}
		return out
	}
	a, b := HashBlocks(gen()), HashBlocks(gen())
	if a != b {
		t.Fatalf("hash mismatch: %s vs %s", a, b)
	}
	if a == HashBlocks(make([]quant.Block, 8)) {
		t.Fatal("filled blocks hash like zero blocks")
	}
}

func TestFillBlockEnergyFallsAlongScan(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var head, tail float64
	var b quant.Block
	for n := 0; n < 200; n++ {
		FillBlock(&b, rng, 2000)
		for pos, idx := range quant.ZigzagScan {
			v := float64(b[idx])
			if pos < 8 {
				head += v * v
			} else if pos >= 56 {
				tail += v * v
			}
		}
	}
	if head <= tail*10 {
		t.Fatalf("low-frequency energy %f not well above high-frequency %f", head, tail)
	}
}

func TestVariantsIsACopy(t *testing.T) {
	v := Variants()
	v[0] = "mutated"
	if Variants()[0] != VariantSteadyV1 {
		t.Fatal("Variants exposed internal slice")
	}
}
