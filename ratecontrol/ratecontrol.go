package ratecontrol

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/passerbya/xavs/types"
	"github.com/passerbya/xavs/util"
)

const (
	shortDecay = 0.5
	longDecay  = 0.95

	// Overflow correction limits for the ABR target.
	minOverflow = 0.5
	maxOverflow = 2.0

	// vbvFloor is the buffer fraction kept in reserve when planning a frame.
	// In CBR mode QP is lowered when the buffer would rise above vbvCeil.
	vbvFloor = 0.1
	vbvCeil  = 0.9

	// mbTolerance is the projected overshoot that moves macroblock QP by one.
	mbTolerance = 0.1

	// mbReserveStep is the macroblock QP step once the running buffer
	// estimate is below the reserve.
	mbReserveStep = 2
)

// FrameStats describes a frame after its bits were folded into the
// controller state.
type FrameStats struct {
	Index      int
	Type       types.SliceType
	QP         int
	AvgQP      float64
	Bits       int64
	Target     float64
	BufferFill float64
	Forced     bool
	Saturated  bool
}

// planState is everything frame planning reads. Planning never mutates it,
// so a published copy can serve lookahead without the controller lock.
type planState struct {
	spent  float64
	wanted float64
	fill   float64
	short  [types.NumSliceTypes]predictor
	long   [types.NumSliceTypes]predictor
	lastQP [types.NumSliceTypes]int
}

// predictBits estimates the size of a frame of type t coded at qp. It falls
// back to the P-frame model when t has no history yet.
func (st *planState) predictBits(t types.SliceType, qp int) float64 {
	p := &st.short[t]
	if !p.valid() {
		p = &st.short[types.SliceP]
	}
	return p.predict(qp2qscale(float64(qp)))
}

func (st *planState) hasModel(t types.SliceType) bool {
	return st.short[t].valid() || st.short[types.SliceP].valid()
}

type framePlan struct {
	qp        int
	target    float64
	saturated bool
	deficit   float64
}

type accum struct {
	count      [types.NumSliceTypes]int
	bits       [types.NumSliceTypes]int64
	qpSum      [types.NumSliceTypes]float64
	hist       [types.QPCount]int
	saturated  int
	deficit    int64
	underflows int
	minFill    float64
}

// Controller is the rate control state of one encoder session.
//
// Frames are planned with StartFrame and folded back with Frame.End. Without
// ThreadsStart at most one frame may be open at a time. After ThreadsStart
// several frames may be open concurrently, each owned by one goroutine;
// their results are folded in coding order regardless of the order in which
// End is called.
type Controller struct {
	cfg        Config
	log        *slog.Logger
	frameBits  float64
	drainBits  float64
	bufferSize float64
	abrBuffer  float64
	initQP     int
	typeOffset [types.NumSliceTypes]int

	snap atomic.Pointer[planState]

	mu        sync.Mutex
	threaded  bool
	closed    bool
	nextIndex int
	nextFold  int
	pending   map[int]*Frame
	open      int
	inflight  float64
	hook      func(FrameStats)
	state     planState
	frames    int
	totalBits int64
	stats     accum
}

// New creates a controller for cfg.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}

	c := &Controller{
		cfg:     cfg,
		log:     logger.With("component", "ratecontrol"),
		pending: make(map[int]*Frame),
	}
	if cfg.Mode != ModeCQP {
		c.frameBits = FrameBits(cfg.Bitrate, cfg.FPSNum, cfg.FPSDen)
		c.abrBuffer = 2 * cfg.RateTolerance * float64(cfg.Bitrate)
	}
	if cfg.vbvEnabled() {
		c.bufferSize = float64(cfg.BufferSize)
		c.drainBits = FrameBits(cfg.drainRate(), cfg.FPSNum, cfg.FPSDen)
		c.state.fill = cfg.BufferInit * c.bufferSize
	}
	c.typeOffset[types.SliceI] = -int(math.Round(8 * math.Log2(cfg.IPFactor)))
	c.typeOffset[types.SliceB] = int(math.Round(8 * math.Log2(cfg.PBFactor)))

	c.initQP = cfg.InitQP
	if c.initQP == QPAuto {
		c.initQP = c.estimateQP()
	}
	for t := range c.state.short {
		c.state.short[t] = newPredictor(shortDecay)
		c.state.long[t] = newPredictor(longDecay)
		c.state.lastQP[t] = -1
	}
	c.stats.minFill = c.state.fill
	c.publish()

	c.log.Debug("rate control initialized",
		"mode", cfg.Mode.String(),
		"bitrate", cfg.Bitrate,
		"frame_bits", c.frameBits,
		"buffer_size", cfg.BufferSize,
		"init_qp", c.initQP)
	return c, nil
}

// estimateQP derives a starting QP from the bits available per pixel.
func (c *Controller) estimateQP() int {
	if c.frameBits <= 0 {
		return c.clampQP(c.cfg.QP)
	}
	bpp := c.frameBits / (float64(c.cfg.MBCount) * 256)
	return c.clampQP(int(math.Round(28 - 8*math.Log2(bpp/0.4))))
}

func (c *Controller) clampQP(qp int) int {
	return util.Clamp(qp, c.cfg.QPMin, c.cfg.QPMax)
}

// typeScale converts a P-frame qscale into the qscale for slice type t.
func (c *Controller) typeScale(qscale float64, t types.SliceType) float64 {
	switch t {
	case types.SliceI:
		return qscale / c.cfg.IPFactor
	case types.SliceB:
		return qscale * c.cfg.PBFactor
	}
	return qscale
}

// complexity blends short- and long-term complexity; QCompress weights the
// long-term side.
func (c *Controller) complexity(st *planState, t types.SliceType) float64 {
	qc := c.cfg.QCompress
	return math.Pow(st.short[t].complexity(), 1-qc) * math.Pow(st.long[t].complexity(), qc)
}

// plan picks the QP and bit target of a frame of type t from st.
func (c *Controller) plan(st *planState, t types.SliceType) framePlan {
	cfg := &c.cfg
	if cfg.Mode == ModeCQP {
		return framePlan{qp: c.clampQP(cfg.QP + c.typeOffset[t])}
	}

	overflow := util.Clamp(1+(st.spent-st.wanted)/c.abrBuffer, minOverflow, maxOverflow)
	target := c.frameBits / overflow

	var qscale float64
	switch {
	case st.short[types.SliceP].valid():
		qscale = c.typeScale(c.complexity(st, types.SliceP)/target, t)
	case st.short[t].valid():
		qscale = c.complexity(st, t) / target
	default:
		return framePlan{qp: c.clampQP(c.initQP + c.typeOffset[t]), target: target}
	}

	ideal := int(math.Round(qscale2qp(qscale)))
	qp := ideal
	if last := st.lastQP[t]; last >= 0 {
		qp = util.Clamp(qp, last-cfg.QPStep, last+cfg.QPStep)
	}
	qp = c.clampQP(qp)

	p := framePlan{qp: qp}
	if ideal > cfg.QPMax && qp == cfg.QPMax {
		p.saturated = true
		p.deficit = math.Max(0, st.predictBits(t, qp)-target)
	}

	if c.bufferSize > 0 {
		floor := vbvFloor * c.bufferSize
		for p.qp < cfg.QPMax && st.fill-st.predictBits(t, p.qp) < floor {
			p.qp++
		}
		if short := floor - (st.fill - st.predictBits(t, p.qp)); short > 0 {
			p.saturated = true
			p.deficit = math.Max(p.deficit, short)
		}
		if cfg.Mode == ModeCBR {
			ceil := vbvCeil * c.bufferSize
			for p.qp > cfg.QPMin &&
				st.fill-st.predictBits(t, p.qp)+c.drainBits > ceil &&
				st.fill-st.predictBits(t, p.qp-1) >= floor {
				p.qp--
			}
		}
	}
	p.target = st.predictBits(t, p.qp)
	return p
}

// inflightState returns the folded state adjusted for frames that have
// been planned but not yet ended. Caller holds c.mu.
func (c *Controller) inflightState() planState {
	st := c.state
	st.spent += c.inflight
	st.wanted += float64(c.open) * c.frameBits
	if c.bufferSize > 0 {
		st.fill = math.Min(st.fill-c.inflight+float64(c.open)*c.drainBits, c.bufferSize)
	}
	return st
}

func (c *Controller) publish() {
	st := c.state
	c.snap.Store(&st)
}

// StartFrame plans the next frame in coding order. forceQP overrides the
// planned QP unless it is QPAuto. StartFrame panics if forceQP is outside
// [0,63], after Close, or when another frame is still open and ThreadsStart
// has not been called.
func (c *Controller) StartFrame(t types.SliceType, forceQP int) *Frame {
	mustSliceType(t)
	if forceQP != QPAuto && !types.ValidQP(forceQP) {
		panic(fmt.Sprintf("ratecontrol: forced qp %d out of range [0,63]", forceQP))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		panic("ratecontrol: StartFrame after Close")
	}
	if !c.threaded && c.open > 0 {
		panic("ratecontrol: StartFrame with a frame still open; call ThreadsStart for concurrent frames")
	}

	st := c.inflightState()
	var p framePlan
	if forceQP != QPAuto {
		p.qp = forceQP
		if c.cfg.Mode != ModeCQP {
			p.target = c.frameBits
			if st.hasModel(t) {
				p.target = st.predictBits(t, forceQP)
			}
		}
	} else {
		p = c.plan(&st, t)
	}

	f := &Frame{
		c:         c,
		index:     c.nextIndex,
		typ:       t,
		qp:        p.qp,
		mbQP:      p.qp,
		forced:    forceQP != QPAuto,
		target:    p.target,
		saturated: p.saturated,
		deficit:   p.deficit,
		fill:      st.fill,
	}
	f.adaptive = !f.forced && c.cfg.Mode != ModeCQP && c.cfg.MBQPRange > 0 && f.target > 0
	c.nextIndex++
	c.open++
	c.inflight += f.target
	return f
}

// PredictQP returns the QP StartFrame would choose for a frame of type t
// given every frame folded so far. It reads a published snapshot and does
// not take the controller lock, so lookahead may call it while frames are
// being coded.
func (c *Controller) PredictQP(t types.SliceType) int {
	mustSliceType(t)
	return c.plan(c.snap.Load(), t).qp
}

// SliceType predicts the slice type of the frame at frameIndex in display
// order from the configured GOP structure.
func (c *Controller) SliceType(frameIndex int) types.SliceType {
	if frameIndex < 0 {
		panic(fmt.Sprintf("ratecontrol: negative frame index %d", frameIndex))
	}
	pos := frameIndex % c.cfg.KeyintMax
	if pos == 0 {
		return types.SliceI
	}
	if c.cfg.BFrames > 0 && pos%(c.cfg.BFrames+1) != 0 {
		return types.SliceB
	}
	return types.SliceP
}

// ThreadsStart switches the controller to concurrent operation. Frames
// started afterwards may overlap; each plans against the state folded so
// far plus the targets of frames still in flight.
func (c *Controller) ThreadsStart() {
	c.mu.Lock()
	c.threaded = true
	c.mu.Unlock()
	c.log.Debug("rate control threads started")
}

// SetFrameHook installs fn to observe every folded frame. fn runs with the
// controller locked and must not call back into the controller.
func (c *Controller) SetFrameHook(fn func(FrameStats)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// Config returns the configuration the controller was created with.
func (c *Controller) Config() Config {
	return c.cfg
}

func (c *Controller) end(f *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[f.index] = f
	for {
		next, ok := c.pending[c.nextFold]
		if !ok {
			break
		}
		delete(c.pending, c.nextFold)
		c.fold(next)
		c.nextFold++
	}
	c.publish()
}

// fold applies a finished frame to the controller state. Caller holds c.mu.
func (c *Controller) fold(f *Frame) {
	st := &c.state
	bits := f.total
	avg := f.avgQP()

	c.open--
	c.inflight -= f.target
	c.frames++
	c.totalBits += bits
	st.spent += float64(bits)
	st.wanted += c.frameBits
	if bits > 0 {
		qscale := qp2qscale(avg)
		st.short[f.typ].update(float64(bits), qscale)
		st.long[f.typ].update(float64(bits), qscale)
	}
	st.lastQP[f.typ] = f.qp

	if c.bufferSize > 0 {
		st.fill -= float64(bits)
		if st.fill < 0 {
			c.stats.underflows++
			c.log.Warn("vbv underflow", "frame", f.index, "bits", bits, "short", -st.fill)
			st.fill = 0
		}
		c.stats.minFill = math.Min(c.stats.minFill, st.fill)
		st.fill = math.Min(st.fill+c.drainBits, c.bufferSize)
	}

	c.stats.count[f.typ]++
	c.stats.bits[f.typ] += bits
	c.stats.qpSum[f.typ] += avg
	c.stats.hist[f.qp]++
	if f.saturated {
		c.stats.saturated++
		c.stats.deficit += int64(math.Ceil(f.deficit))
	}

	fs := FrameStats{
		Index:      f.index,
		Type:       f.typ,
		QP:         f.qp,
		AvgQP:      avg,
		Bits:       bits,
		Target:     f.target,
		BufferFill: st.fill,
		Forced:     f.forced,
		Saturated:  f.saturated,
	}
	c.log.Debug("frame",
		"index", fs.Index,
		"type", fs.Type.String(),
		"qp", fs.QP,
		"avg_qp", fs.AvgQP,
		"bits", fs.Bits,
		"target", fs.Target,
		"fill", fs.BufferFill,
		"saturated", fs.Saturated)
	if c.hook != nil {
		c.hook(fs)
	}
}

// Summary reports the statistics accumulated so far. It does not change
// controller state.
func (c *Controller) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summaryLocked()
}

// Close ends the session and logs the summary. Frames still open are
// reported and left unfolded. StartFrame panics after Close.
func (c *Controller) Close() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.summaryLocked()
	if c.closed {
		return s
	}
	c.closed = true
	if c.open > 0 {
		c.log.Warn("rate control closed with frames in flight", "open", c.open)
	}
	c.log.Info("rate control summary", "summary", s)
	return s
}

func mustSliceType(t types.SliceType) {
	if t >= types.NumSliceTypes {
		panic(fmt.Sprintf("ratecontrol: invalid slice type %d", t))
	}
}

// Frame is one frame being coded. Its methods must be called from a single
// goroutine; different frames may be coded concurrently after ThreadsStart.
type Frame struct {
	c         *Controller
	index     int
	typ       types.SliceType
	qp        int
	forced    bool
	adaptive  bool
	target    float64
	saturated bool
	deficit   float64

	// fill is the buffer estimate taken at StartFrame less the macroblock
	// bits recorded since.
	fill float64

	mbs   int
	bits  int64
	mbQP  int
	qpSum int
	qpN   int
	total int64
	ended bool
}

// Index returns the frame's position in coding order.
func (f *Frame) Index() int { return f.index }

// Type returns the slice type the frame was started with.
func (f *Frame) Type() types.SliceType { return f.typ }

// QP returns the frame-level QP.
func (f *Frame) QP() int { return f.qp }

// Target returns the planned size in bits.
func (f *Frame) Target() float64 { return f.target }

// BufferFill returns the buffer fill estimate after the macroblocks
// recorded so far. It is zero without a VBV.
func (f *Frame) BufferFill() float64 {
	if f.c.bufferSize <= 0 {
		return 0
	}
	return f.fill
}

// RecordMacroblockBits reports the bits the entropy coder spent on the
// macroblock just coded. Calls must follow macroblock scan order.
func (f *Frame) RecordMacroblockBits(bits int) {
	if bits < 0 {
		panic(fmt.Sprintf("ratecontrol: negative macroblock bits %d", bits))
	}
	if f.ended {
		panic("ratecontrol: RecordMacroblockBits after End")
	}
	f.mbs++
	f.bits += int64(bits)
	f.fill -= float64(bits)
}

// NextQP returns the QP for the next macroblock. Adaptive frames move it
// one step at a time toward the frame target, staying within MBQPRange of
// the frame QP. With a VBV, QP also rises while the frame is projected to
// leave the buffer below its reserve, and rises faster once the running
// estimate is already below it.
func (f *Frame) NextQP() int {
	if f.ended {
		panic("ratecontrol: NextQP after End")
	}
	qp := f.qp
	if f.adaptive && f.mbs > 0 {
		qp = f.adaptMB()
	}
	f.mbQP = qp
	f.qpSum += qp
	f.qpN++
	return qp
}

func (f *Frame) adaptMB() int {
	cfg := &f.c.cfg
	remaining := cfg.MBCount - f.mbs
	if remaining <= 0 {
		return f.mbQP
	}
	done := float64(f.mbs) / float64(cfg.MBCount)
	rate := float64(f.bits)/float64(f.mbs)*done + f.target/float64(cfg.MBCount)*(1-done)
	projected := float64(f.bits) + rate*float64(remaining)

	qp := f.mbQP
	switch {
	case projected > f.target*(1+mbTolerance):
		qp++
	case projected < f.target*(1-mbTolerance):
		qp--
	}
	if size := f.c.bufferSize; size > 0 {
		floor := vbvFloor * size
		switch {
		case f.fill < floor:
			qp = f.mbQP + mbReserveStep
		case f.fill-(projected-float64(f.bits)) < floor:
			qp = max(qp, f.mbQP+1)
		}
	}
	lo := max(cfg.QPMin, f.qp-cfg.MBQPRange)
	hi := min(cfg.QPMax, f.qp+cfg.MBQPRange)
	return util.Clamp(qp, lo, hi)
}

// avgQP is the mean macroblock QP, or the frame QP when NextQP was never
// called.
func (f *Frame) avgQP() float64 {
	if f.qpN == 0 {
		return float64(f.qp)
	}
	return float64(f.qpSum) / float64(f.qpN)
}

// End finalizes the frame with the total bits written, headers included.
// It panics on negative totals or a second call.
func (f *Frame) End(totalBits int) {
	if totalBits < 0 {
		panic(fmt.Sprintf("ratecontrol: negative frame bits %d", totalBits))
	}
	if f.ended {
		panic("ratecontrol: frame ended twice")
	}
	f.ended = true
	f.total = int64(totalBits)
	f.c.end(f)
}
