// encoder.go implements the public Encoder session API.

package xavs

import (
	"io"
	"log/slog"
	"math"

	"github.com/pkg/errors"

	"github.com/passerbya/xavs/internal/cpuid"
	"github.com/passerbya/xavs/quant"
	"github.com/passerbya/xavs/ratecontrol"
	"github.com/passerbya/xavs/types"
)

// Config configures an encoder session.
type Config struct {
	// Preset selects the quantization matrix. Weights is read only for
	// types.CQMCustom and holds 64 row-major weights where 16 is unity.
	Preset  types.CQMPreset
	Weights *[quant.BlockSize]uint8

	// Deadzone holds the intra and inter rounding offsets.
	Deadzone quant.Deadzone

	// CPU overrides feature detection when non-nil.
	CPU *types.CPUFlags

	RateControl ratecontrol.Config

	// Logger is used by the session and, when RateControl.Logger is nil,
	// by the rate controller. Nil discards.
	Logger *slog.Logger
}

// DefaultConfig returns a flat-matrix session with default rate control.
func DefaultConfig() Config {
	return Config{
		Preset:      types.CQMFlat,
		Deadzone:    quant.DefaultDeadzone(),
		RateControl: ratecontrol.DefaultConfig(),
	}
}

// Encoder holds the per-session quantization state: the tables derived
// from the CQM, the implementations bound for this CPU, and the rate
// controller.
//
// Quantize and Dequantize only read session state and may be called from
// any number of goroutines on distinct blocks.
type Encoder struct {
	cpu    types.CPUFlags
	tables *quant.Tables
	funcs  quant.Functions
	rc     *ratecontrol.Controller
	log    *slog.Logger
}

// NewEncoder creates an encoder session.
//
// Returns an error wrapping ErrInvalidConfig and the failing component's
// sentinel when the CQM or rate control configuration is invalid.
func NewEncoder(cfg Config) (*Encoder, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}

	cpu := cpuid.Detect()
	if cfg.CPU != nil {
		if *cfg.CPU&^types.CPUAll != 0 {
			return nil, errors.Wrapf(ErrInvalidCPU, "flags %#x", uint32(*cfg.CPU))
		}
		cpu = *cfg.CPU
	}

	tables, err := quant.NewTables(cfg.Preset, cfg.Weights, cfg.Deadzone)
	if err != nil {
		return nil, wrapConfig("quant", err)
	}

	// A custom matrix of unity weights can use the flat dequantizer.
	preset := cfg.Preset
	if tables.Flat() {
		preset = types.CQMFlat
	}

	rcCfg := cfg.RateControl
	if rcCfg.Logger == nil {
		rcCfg.Logger = logger
	}
	rc, err := ratecontrol.New(rcCfg)
	if err != nil {
		return nil, wrapConfig("ratecontrol", err)
	}

	e := &Encoder{
		cpu:    cpu,
		tables: tables,
		funcs:  quant.Init(cpu, preset),
		rc:     rc,
		log:    logger,
	}
	e.log.Info("encoder initialized",
		"cpu", cpu.String(),
		"cqm", cfg.Preset.String(),
		"quant", e.funcs.QuantName(),
		"dequant", e.funcs.DequantName(),
		"rc", rcCfg.Mode.String())
	return e, nil
}

// Quantize quantizes b in place at qp and reports whether any level is
// non-zero. intra selects the intra rounding offset. It panics if qp is
// outside [0,63].
func (e *Encoder) Quantize(b *quant.Block, qp int, intra bool) bool {
	return e.funcs.Quant(b, e.tables.QuantMatrix(qp), e.tables.Bias(intra), qp)
}

// Dequantize reconstructs b in place from levels coded at qp. It panics if
// qp is outside [0,63].
func (e *Encoder) Dequantize(b *quant.Block, qp int) {
	e.funcs.Dequant(b, e.tables.DequantMatrix(), qp)
}

// CPU returns the feature flags the implementations were selected for.
func (e *Encoder) CPU() types.CPUFlags { return e.cpu }

// Functions returns the bound implementations.
func (e *Encoder) Functions() quant.Functions { return e.funcs }

// Tables returns the session's quantization tables.
func (e *Encoder) Tables() *quant.Tables { return e.tables }

// RateControl returns the session's rate controller.
func (e *Encoder) RateControl() *ratecontrol.Controller { return e.rc }

// Close ends the rate control session and returns its summary. Quantize
// and Dequantize remain usable afterwards.
func (e *Encoder) Close() ratecontrol.Summary {
	return e.rc.Close()
}
