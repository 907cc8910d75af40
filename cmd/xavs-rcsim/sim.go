package main

import (
	"math/bits"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/passerbya/xavs"
	"github.com/passerbya/xavs/internal/testsignal"
	"github.com/passerbya/xavs/quant"
	"github.com/passerbya/xavs/ratecontrol"
	"github.com/passerbya/xavs/types"
	"github.com/passerbya/xavs/util"
)

const (
	frameHeaderBits = 48
	mbHeaderBits    = 2
	blocksPerMB     = 4 // luma only
)

// residualScale is the energy of inter residuals relative to intra blocks.
var residualScale = [types.NumSliceTypes]float64{
	types.SliceP: 0.35,
	types.SliceB: 0.25,
	types.SliceI: 1,
}

type simulator struct {
	enc     *xavs.Encoder
	rc      *ratecontrol.Controller
	mbs     int
	content string
	seed    int64

	// digests holds the reconstruction digest of each frame in display
	// order after run.
	digests []string
}

// codedFrame is a frame scheduled in coding order.
type codedFrame struct {
	display int
	typ     types.SliceType
}

// codingOrder reorders the display-order GOP so that each run of B frames
// is coded after the anchor that follows it. A trailing run with no
// following anchor is coded as P frames.
func codingOrder(rc *ratecontrol.Controller, frames int) []codedFrame {
	order := make([]codedFrame, 0, frames)
	var bs []codedFrame
	for i := 0; i < frames; i++ {
		t := rc.SliceType(i)
		if t == types.SliceB {
			bs = append(bs, codedFrame{display: i, typ: t})
			continue
		}
		order = append(order, codedFrame{display: i, typ: t})
		order = append(order, bs...)
		bs = bs[:0]
	}
	for _, cf := range bs {
		order = append(order, codedFrame{display: cf.display, typ: types.SliceP})
	}
	return order
}

func newSimulator(enc *xavs.Encoder, content string, seed int64) (*simulator, error) {
	if _, err := testsignal.Activity(content, seed, 0); err != nil {
		return nil, err
	}
	return &simulator{
		enc:     enc,
		rc:      enc.RateControl(),
		mbs:     enc.RateControl().Config().MBCount,
		content: content,
		seed:    seed,
	}, nil
}

// run codes display positions [0,frames) in coding order. With threads > 1
// up to threads frames are in flight at once.
func (s *simulator) run(frames, threads int) error {
	if frames < 1 {
		return errors.Errorf("frames must be >= 1, got %d", frames)
	}
	if threads < 1 {
		return errors.Errorf("threads must be >= 1, got %d", threads)
	}
	order := codingOrder(s.rc, frames)
	s.digests = make([]string, frames)
	if threads == 1 {
		for _, cf := range order {
			s.codeFrame(s.rc.StartFrame(cf.typ, ratecontrol.QPAuto), cf.display)
		}
		return nil
	}

	s.rc.ThreadsStart()
	sem := make(chan struct{}, threads)
	var wg sync.WaitGroup
	for _, cf := range order {
		sem <- struct{}{}
		f := s.rc.StartFrame(cf.typ, ratecontrol.QPAuto)
		wg.Add(1)
		go func(display int) {
			defer wg.Done()
			s.codeFrame(f, display)
			<-sem
		}(cf.display)
	}
	wg.Wait()
	return nil
}

// codeFrame codes the frame shown at display position i. Its content
// depends only on i, not on the coding position.
func (s *simulator) codeFrame(f *ratecontrol.Frame, i int) {
	rng := rand.New(rand.NewSource(s.seed*7919 + int64(i)))
	activity, _ := testsignal.Activity(s.content, s.seed, i)
	activity *= residualScale[f.Type()]
	intra := f.Type() == types.SliceI

	total := frameHeaderBits
	recon := make([]quant.Block, s.mbs*blocksPerMB)
	for mb := 0; mb < s.mbs; mb++ {
		qp := f.NextQP()
		mbBits := mbHeaderBits
		for blk := 0; blk < blocksPerMB; blk++ {
			b := &recon[mb*blocksPerMB+blk]
			testsignal.FillBlock(b, rng, activity)
			if s.enc.Quantize(b, qp, intra) {
				mbBits += levelBits(b)
			} else {
				mbBits++ // coded block pattern bit
			}
			s.enc.Dequantize(b, qp)
		}
		f.RecordMacroblockBits(mbBits)
		total += mbBits
	}
	f.End(total)
	s.digests[i] = testsignal.HashBlocks(recon)
}

// expGolombBits is the length of the order-0 exp-Golomb code for v.
func expGolombBits(v uint32) int {
	return 2*bits.Len32(v+1) - 1
}

// levelBits estimates the entropy-coded size of a quantized block as
// run-level pairs in scan order followed by an end-of-block symbol.
func levelBits(b *quant.Block) int {
	n := 0
	var run uint32
	for _, idx := range quant.ZigzagScan {
		l := int32(b[idx])
		if l == 0 {
			run++
			continue
		}
		n += expGolombBits(run) + expGolombBits(uint32(2*(util.Abs(l)-1))) + 1
		run = 0
	}
	return n + expGolombBits(0)
}
