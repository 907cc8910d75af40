package ratecontrol

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/passerbya/xavs/types"
)

// TypeStats aggregates the frames of one slice type.
type TypeStats struct {
	Count int
	Bits  int64
	AvgQP float64
}

// Summary is a read-only report of a rate control session.
type Summary struct {
	Mode      Mode
	Frames    int
	TotalBits int64

	// Bitrates in bits per second. BitrateError is (avg-target)/target and
	// stays zero without a target.
	TargetBitrate float64
	AvgBitrate    float64
	BitrateError  float64

	Types       [types.NumSliceTypes]TypeStats
	QPHistogram [types.QPCount]int

	// Saturated counts frames planned at QPMax that were still predicted
	// to exceed their budget. DeficitBits sums the predicted excess.
	Saturated   int
	DeficitBits int64

	VBVUnderflows int
	MinBufferFill float64
	BufferFill    float64
}

// summaryLocked builds the report. Caller holds c.mu.
func (c *Controller) summaryLocked() Summary {
	s := Summary{
		Mode:          c.cfg.Mode,
		Frames:        c.frames,
		TotalBits:     c.totalBits,
		QPHistogram:   c.stats.hist,
		Saturated:     c.stats.saturated,
		DeficitBits:   c.stats.deficit,
		VBVUnderflows: c.stats.underflows,
		MinBufferFill: c.stats.minFill,
		BufferFill:    c.state.fill,
	}
	if c.cfg.Mode != ModeCQP {
		s.TargetBitrate = float64(c.cfg.Bitrate)
	}
	for t := range s.Types {
		n := c.stats.count[t]
		s.Types[t].Count = n
		s.Types[t].Bits = c.stats.bits[t]
		if n > 0 {
			s.Types[t].AvgQP = c.stats.qpSum[t] / float64(n)
		}
	}
	if c.frames > 0 {
		s.AvgBitrate = float64(c.totalBits) * float64(c.cfg.FPSNum) / (float64(c.frames) * float64(c.cfg.FPSDen))
		if s.TargetBitrate > 0 {
			s.BitrateError = (s.AvgBitrate - s.TargetBitrate) / s.TargetBitrate
		}
	}
	return s
}

// AvgQP returns the frame-weighted mean QP over every slice type.
func (s Summary) AvgQP() float64 {
	var sum float64
	var n int
	for _, ts := range s.Types {
		sum += ts.AvgQP * float64(ts.Count)
		n += ts.Count
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (s Summary) String() string {
	var b strings.Builder
	for _, t := range []types.SliceType{types.SliceI, types.SliceP, types.SliceB} {
		ts := s.Types[t]
		if ts.Count == 0 {
			continue
		}
		fmt.Fprintf(&b, "slice %s:%-6d Avg QP:%5.2f  size:%8.0f\n",
			t, ts.Count, ts.AvgQP, float64(ts.Bits)/8/float64(ts.Count))
	}
	fmt.Fprintf(&b, "%s frames:%d kb/s:%.2f", s.Mode, s.Frames, s.AvgBitrate/1000)
	if s.TargetBitrate > 0 {
		fmt.Fprintf(&b, " target:%.2f error:%+.2f%%", s.TargetBitrate/1000, 100*s.BitrateError)
	}
	if s.Saturated > 0 {
		fmt.Fprintf(&b, " saturated:%d deficit:%d", s.Saturated, s.DeficitBits)
	}
	if s.VBVUnderflows > 0 {
		fmt.Fprintf(&b, " vbv-underflows:%d", s.VBVUnderflows)
	}
	return b.String()
}

// LogValue implements slog.LogValuer.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("mode", s.Mode.String()),
		slog.Int("frames", s.Frames),
		slog.Int64("bits", s.TotalBits),
		slog.Float64("kbps", s.AvgBitrate/1000),
		slog.Float64("target_kbps", s.TargetBitrate/1000),
		slog.Float64("error", s.BitrateError),
		slog.Float64("avg_qp", s.AvgQP()),
		slog.Int("saturated", s.Saturated),
		slog.Int64("deficit_bits", s.DeficitBits),
		slog.Int("vbv_underflows", s.VBVUnderflows),
	)
}
