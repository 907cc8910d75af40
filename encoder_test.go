package xavs

import (
	"math/bits"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passerbya/xavs/internal/testsignal"
	"github.com/passerbya/xavs/quant"
	"github.com/passerbya/xavs/ratecontrol"
	"github.com/passerbya/xavs/types"
	"github.com/passerbya/xavs/util"
)

func newTestEncoder(t testing.TB, cpu types.CPUFlags, mutate func(*Config)) *Encoder {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CPU = &cpu
	if mutate != nil {
		mutate(&cfg)
	}
	enc, err := NewEncoder(cfg)
	require.NoError(t, err)
	return enc
}

func testBlock(rng *rand.Rand, spread int) quant.Block {
	var b quant.Block
	testsignal.FillBlock(&b, rng, float64(spread))
	return b
}

// levelBits is a rough entropy estimate: an exp-Golomb style cost per
// non-zero level plus one bit per zero run.
func levelBits(b *quant.Block) int {
	n := 0
	run := false
	for _, l := range b {
		if l == 0 {
			if !run {
				n++
				run = true
			}
			continue
		}
		run = false
		n += 2*bits.Len32(uint32(util.Abs(int32(l)))) + 1
	}
	return n
}

func TestNewEncoderSelectsFunctions(t *testing.T) {
	tests := []struct {
		name   string
		cpu    types.CPUFlags
		preset types.CQMPreset
		unity  bool
		want   string
	}{
		{"portable", 0, types.CQMFlat, false, "quant=c dequant=c"},
		{"mmx flat", types.CPUMMX, types.CQMFlat, false, "quant=mmx dequant=flat16"},
		{"mmx custom", types.CPUMMX, types.CQMCustom, false, "quant=mmx dequant=mmx"},
		{"custom with unity weights", types.CPUMMX | types.CPUSSE2, types.CQMCustom, true, "quant=sse2 dequant=flat16"},
		{"neon", types.CPUNEON, types.CQMCustom, false, "quant=neon dequant=neon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := newTestEncoder(t, tt.cpu, func(cfg *Config) {
				cfg.Preset = tt.preset
				if tt.preset == types.CQMCustom {
					var w [quant.BlockSize]uint8
					for i := range w {
						w[i] = quant.FlatWeight
						if !tt.unity {
							w[i] = uint8(12 + i%20)
						}
					}
					cfg.Weights = &w
				}
			})
			assert.Equal(t, tt.want, enc.Functions().String())
			assert.Equal(t, tt.cpu, enc.CPU())
			assert.Equal(t, tt.preset, enc.Tables().Preset())
		})
	}
}

func TestNewEncoderErrors(t *testing.T) {
	t.Run("unknown cpu bits", func(t *testing.T) {
		cpu := types.CPUFlags(1 << 20)
		cfg := DefaultConfig()
		cfg.CPU = &cpu
		_, err := NewEncoder(cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidCPU))
	})
	t.Run("custom without weights", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Preset = types.CQMCustom
		_, err := NewEncoder(cfg)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.ErrorIs(t, err, quant.ErrInvalidCQM)
		assert.True(t, strings.HasPrefix(err.Error(), "xavs: quant: "), err.Error())
	})
	t.Run("bad deadzone", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Deadzone.Inter = -1
		_, err := NewEncoder(cfg)
		assert.ErrorIs(t, err, quant.ErrInvalidDeadzone)
	})
	t.Run("bad rate control", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RateControl.Bitrate = 0
		_, err := NewEncoder(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.ErrorIs(t, err, ratecontrol.ErrInvalidBitrate)
		assert.Contains(t, err.Error(), "xavs: ratecontrol: ")
	})
}

func TestQuantizeMatchesReferenceOnEveryCPU(t *testing.T) {
	cpus := []types.CPUFlags{
		0,
		types.CPUMMX,
		types.CPUMMX | types.CPUSSE2,
		types.CPUMMX | types.CPUSSE2 | types.CPUSSSE3,
		types.CPUMMX | types.CPUSSE2 | types.CPUSSSE3 | types.CPUSSE4,
		types.CPUMMX | types.CPUSSE2 | types.CPUSSSE3 | types.CPUSSE4 | types.CPUAVX2,
		types.CPUAltivec,
		types.CPUNEON,
	}
	ref := newTestEncoder(t, 0, nil)
	rng := rand.New(rand.NewSource(3))
	blocks := make([]quant.Block, 32)
	for i := range blocks {
		blocks[i] = testBlock(rng, 4000)
	}

	for _, cpu := range cpus {
		enc := newTestEncoder(t, cpu, nil)
		for qp := 0; qp < types.QPCount; qp += 3 {
			for i := range blocks {
				want, got := blocks[i], blocks[i]
				wantNZ := quant.Quant8x8(&want, ref.Tables().QuantMatrix(qp), ref.Tables().Bias(i%2 == 0), qp)
				gotNZ := enc.Quantize(&got, qp, i%2 == 0)
				require.Equal(t, wantNZ, gotNZ)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("cpu %s qp %d block %d quantize mismatch:\n%s", cpu, qp, i, diff)
				}
				quant.Dequant8x8(&want, ref.Tables().DequantMatrix(), qp)
				enc.Dequantize(&got, qp)
				if diff := cmp.Diff(want, got); diff != "" {
					t.Fatalf("cpu %s qp %d block %d dequantize mismatch:\n%s", cpu, qp, i, diff)
				}
			}
		}
	}
}

func TestConcurrentQuantize(t *testing.T) {
	enc := newTestEncoder(t, types.CPUMMX|types.CPUSSE2|types.CPUSSSE3, nil)
	rng := rand.New(rand.NewSource(5))
	blocks := make([]quant.Block, 64)
	want := make([]quant.Block, len(blocks))
	for i := range blocks {
		blocks[i] = testBlock(rng, 2000)
		want[i] = blocks[i]
		enc.Quantize(&want[i], 28, false)
		enc.Dequantize(&want[i], 28)
	}

	var wg sync.WaitGroup
	for i := range blocks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			enc.Quantize(&blocks[i], 28, false)
			enc.Dequantize(&blocks[i], 28)
		}(i)
	}
	wg.Wait()
	if diff := cmp.Diff(want, blocks); diff != "" {
		t.Fatalf("concurrent results differ:\n%s", diff)
	}
}

func TestEncodeLoopTracksBitrate(t *testing.T) {
	const mbs = 40
	enc := newTestEncoder(t, types.CPUMMX|types.CPUSSE2, func(cfg *Config) {
		cfg.RateControl.Bitrate = 250000
		cfg.RateControl.MBCount = mbs
		cfg.RateControl.KeyintMax = 25
	})
	rc := enc.RateControl()
	rng := rand.New(rand.NewSource(9))

	var frames []ratecontrol.FrameStats
	rc.SetFrameHook(func(fs ratecontrol.FrameStats) { frames = append(frames, fs) })

	for i := 0; i < 150; i++ {
		st := rc.SliceType(i)
		f := rc.StartFrame(st, ratecontrol.QPAuto)
		total := 0
		for mb := 0; mb < mbs; mb++ {
			qp := f.NextQP()
			mbBits := 0
			for blk := 0; blk < 4; blk++ {
				b := testBlock(rng, 3000)
				if enc.Quantize(&b, qp, st == types.SliceI) {
					mbBits += levelBits(&b)
				}
				enc.Dequantize(&b, qp)
			}
			f.RecordMacroblockBits(mbBits)
			total += mbBits
		}
		f.End(total + 32)
	}

	s := enc.Close()
	require.Len(t, frames, 150)
	assert.Equal(t, 150, s.Frames)
	assert.Equal(t, 6, s.Types[types.SliceI].Count)
	assert.Equal(t, 144, s.Types[types.SliceP].Count)
	for _, fs := range frames {
		assert.True(t, types.ValidQP(fs.QP), "frame %d qp %d", fs.Index, fs.QP)
	}
	assert.Less(t, s.Types[types.SliceI].AvgQP, s.Types[types.SliceP].AvgQP)
}
