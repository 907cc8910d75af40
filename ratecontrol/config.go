// Package ratecontrol chooses the quantization parameter of every frame and
// macroblock so the coded size tracks a target bitrate. It models the
// decoder's input buffer as a leaky bucket (VBV) and learns the content's
// complexity from the bits the entropy coder reports back.
package ratecontrol

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/passerbya/xavs/types"
)

// Mode selects how frame sizes are managed.
type Mode int

const (
	// ModeABR targets an average bitrate. Individual frames vary with
	// content complexity. A VBV buffer is optional.
	ModeABR Mode = iota

	// ModeCBR targets a constant bitrate and requires a VBV buffer that
	// drains at exactly the target rate.
	ModeCBR

	// ModeCQP codes every frame at a fixed QP, offset by slice type.
	ModeCQP
)

func (m Mode) String() string {
	switch m {
	case ModeABR:
		return "abr"
	case ModeCBR:
		return "cbr"
	case ModeCQP:
		return "cqp"
	}
	return "unknown"
}

// QPAuto asks StartFrame to choose the QP adaptively. It is also the
// InitQP value that requests a bits-per-pixel estimate.
const QPAuto = -1

// Errors for rate control configuration.
var (
	// ErrInvalidMode indicates an unknown rate control mode.
	ErrInvalidMode = errors.New("ratecontrol: invalid mode")

	// ErrInvalidBitrate indicates a non-positive target bitrate outside CQP mode.
	ErrInvalidBitrate = errors.New("ratecontrol: invalid bitrate (must be > 0)")

	// ErrInvalidFrameRate indicates a non-positive frame rate.
	ErrInvalidFrameRate = errors.New("ratecontrol: invalid frame rate")

	// ErrInvalidMBCount indicates fewer than one macroblock per frame.
	ErrInvalidMBCount = errors.New("ratecontrol: invalid macroblock count (must be >= 1)")

	// ErrInvalidBuffer indicates inconsistent VBV buffer parameters.
	ErrInvalidBuffer = errors.New("ratecontrol: invalid buffer model")

	// ErrInvalidQPRange indicates QP limits outside [0,63] or out of order.
	ErrInvalidQPRange = errors.New("ratecontrol: invalid qp range")

	// ErrInvalidFactor indicates a non-positive ratio or a QCompress outside [0,1].
	ErrInvalidFactor = errors.New("ratecontrol: invalid rate factor")

	// ErrInvalidGOP indicates an invalid keyframe interval or B-frame count.
	ErrInvalidGOP = errors.New("ratecontrol: invalid gop structure")
)

// Config holds the rate control parameters of one encoder session. The
// controller reads it once at New and never modifies it.
type Config struct {
	Mode Mode

	// Bitrate is the target in bits per second. Ignored in ModeCQP.
	Bitrate int

	// Frame rate as a fraction.
	FPSNum int
	FPSDen int

	// MBCount is the number of macroblocks per frame.
	MBCount int

	// VBV model. BufferSize is in bits; zero disables the model in ModeABR.
	// BufferInit is the initial fullness as a fraction of BufferSize.
	// MaxRate is the drain rate in bits per second; zero means Bitrate.
	BufferSize int
	BufferInit float64
	MaxRate    int

	// QP is the constant QP used in ModeCQP.
	QP int
	// InitQP is the QP of the first frame; QPAuto estimates it.
	InitQP int
	// QPMin and QPMax bound every QP the controller returns.
	QPMin int
	QPMax int
	// QPStep is the largest frame-to-frame QP change for one slice type.
	QPStep int
	// MBQPRange is the largest macroblock deviation from the frame QP.
	MBQPRange int

	// IPFactor is the qscale ratio between P and I frames, PBFactor
	// between B and P frames.
	IPFactor float64
	PBFactor float64
	// QCompress flattens QP variation: 0 follows complexity frame by
	// frame, 1 holds QP constant.
	QCompress float64
	// RateTolerance scales how far the running total may drift from the
	// target before frame sizes are corrected, in seconds of bitrate.
	RateTolerance float64

	// GOP structure used by slice type prediction.
	KeyintMax int
	BFrames   int

	// Logger receives per-frame debug records and warnings. Nil discards.
	Logger *slog.Logger
}

// DefaultConfig returns a 1 Mbit/s ABR configuration for 25 fps CIF.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeABR,
		Bitrate:       1000000,
		FPSNum:        25,
		FPSDen:        1,
		MBCount:       396,
		BufferInit:    0.9,
		QP:            32,
		InitQP:        QPAuto,
		QPMin:         types.QPMin,
		QPMax:         types.QPMax,
		QPStep:        4,
		MBQPRange:     4,
		IPFactor:      1.4,
		PBFactor:      1.3,
		QCompress:     0.6,
		RateTolerance: 1.0,
		KeyintMax:     250,
	}
}

// ValidBitrate reports whether bitrate can be targeted.
func ValidBitrate(bitrate int) bool {
	return bitrate > 0
}

// FrameBits returns the per-frame share of bitrate.
func FrameBits(bitrate, fpsNum, fpsDen int) float64 {
	return float64(bitrate) * float64(fpsDen) / float64(fpsNum)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeABR, ModeCBR, ModeCQP:
	default:
		return errors.Wrapf(ErrInvalidMode, "mode %d", c.Mode)
	}
	if c.Mode != ModeCQP && !ValidBitrate(c.Bitrate) {
		return errors.Wrapf(ErrInvalidBitrate, "bitrate %d", c.Bitrate)
	}
	if c.FPSNum <= 0 || c.FPSDen <= 0 {
		return errors.Wrapf(ErrInvalidFrameRate, "%d/%d", c.FPSNum, c.FPSDen)
	}
	if c.MBCount < 1 {
		return errors.Wrapf(ErrInvalidMBCount, "mb count %d", c.MBCount)
	}
	if err := c.validateBuffer(); err != nil {
		return err
	}
	if err := c.validateQP(); err != nil {
		return err
	}
	if c.IPFactor <= 0 || c.PBFactor <= 0 {
		return errors.Wrapf(ErrInvalidFactor, "ip %.3f pb %.3f", c.IPFactor, c.PBFactor)
	}
	if c.RateTolerance <= 0 {
		return errors.Wrapf(ErrInvalidFactor, "rate tolerance %.3f", c.RateTolerance)
	}
	if c.QCompress < 0 || c.QCompress > 1 {
		return errors.Wrapf(ErrInvalidFactor, "qcompress %.3f", c.QCompress)
	}
	if c.KeyintMax < 1 || c.BFrames < 0 {
		return errors.Wrapf(ErrInvalidGOP, "keyint %d bframes %d", c.KeyintMax, c.BFrames)
	}
	return nil
}

func (c *Config) validateBuffer() error {
	if c.BufferSize < 0 || c.MaxRate < 0 {
		return errors.Wrapf(ErrInvalidBuffer, "size %d maxrate %d", c.BufferSize, c.MaxRate)
	}
	if c.BufferInit < 0 || c.BufferInit > 1 {
		return errors.Wrapf(ErrInvalidBuffer, "initial fullness %.3f outside [0,1]", c.BufferInit)
	}
	switch c.Mode {
	case ModeCBR:
		if c.BufferSize == 0 {
			return errors.Wrap(ErrInvalidBuffer, "cbr requires a buffer size")
		}
		if c.MaxRate != 0 && c.MaxRate != c.Bitrate {
			return errors.Wrapf(ErrInvalidBuffer, "cbr maxrate %d differs from bitrate %d", c.MaxRate, c.Bitrate)
		}
	case ModeABR:
		if c.BufferSize > 0 && c.MaxRate != 0 && c.MaxRate < c.Bitrate {
			return errors.Wrapf(ErrInvalidBuffer, "maxrate %d below bitrate %d", c.MaxRate, c.Bitrate)
		}
	}
	return nil
}

func (c *Config) validateQP() error {
	if !types.ValidQP(c.QPMin) || !types.ValidQP(c.QPMax) || c.QPMin > c.QPMax {
		return errors.Wrapf(ErrInvalidQPRange, "qp range [%d,%d]", c.QPMin, c.QPMax)
	}
	if c.Mode == ModeCQP && (c.QP < c.QPMin || c.QP > c.QPMax) {
		return errors.Wrapf(ErrInvalidQPRange, "constant qp %d outside [%d,%d]", c.QP, c.QPMin, c.QPMax)
	}
	if c.InitQP != QPAuto && !types.ValidQP(c.InitQP) {
		return errors.Wrapf(ErrInvalidQPRange, "initial qp %d", c.InitQP)
	}
	if c.QPStep < 1 || c.MBQPRange < 0 {
		return errors.Wrapf(ErrInvalidQPRange, "qp step %d mb range %d", c.QPStep, c.MBQPRange)
	}
	return nil
}

// vbvEnabled reports whether the leaky bucket constrains planning.
func (c *Config) vbvEnabled() bool {
	return c.Mode != ModeCQP && c.BufferSize > 0
}

// drainRate returns the VBV drain rate in bits per second.
func (c *Config) drainRate() int {
	if c.MaxRate > 0 {
		return c.MaxRate
	}
	return c.Bitrate
}
