package ratecontrol

import (
	"testing"

	"github.com/passerbya/xavs/types"
)

func TestHotPathAllocsMacroblockLoop(t *testing.T) {
	c := newController(t, func(cfg *Config) { cfg.InitQP = 34 })
	codeFrames(c, 3, steadyComplexity)

	f := c.StartFrame(types.SliceP, QPAuto)
	allocs := testing.AllocsPerRun(1000, func() {
		_ = f.NextQP()
		f.RecordMacroblockBits(100)
	})
	if allocs != 0 {
		t.Fatalf("macroblock loop allocs/op = %.2f, want 0", allocs)
	}
	f.End(40000)

	allocs = testing.AllocsPerRun(1000, func() {
		_ = c.PredictQP(types.SliceP)
	})
	if allocs != 0 {
		t.Fatalf("PredictQP allocs/op = %.2f, want 0", allocs)
	}
}
