// Package xavs implements the quantization core and rate control of an
// AVS (GB/T 20090.2) video encoder in pure Go.
//
// AVS codes residuals as 8x8 integer transform blocks. The quantizer maps
// each coefficient to a level with a QP-dependent step that doubles every
// eight QP steps, over the 64 QP values 0 to 63. Optional custom
// quantization matrices (CQM) weight each position; the flat preset uses
// unity weights everywhere.
//
// # Packages
//
//   - quant: constant tables, the 8x8 quantizer and dequantizer, CQM
//     table construction, and the implementation catalog.
//   - ratecontrol: per-frame and per-macroblock QP selection against a
//     bitrate target with an optional VBV buffer model.
//   - types: QP bounds, slice types, CQM presets, and CPU feature flags.
//
// # Dispatch
//
// Several equivalent quantizer implementations exist. NewEncoder probes the
// CPU once and binds one implementation per operation; every binding
// produces bit-identical output, so the choice only affects speed. The
// flat preset additionally selects a dequantizer that relies on uniform
// rows.
//
// # Sessions
//
// An Encoder owns the tables, the bound functions, and a rate controller.
// Quantize and Dequantize are safe for concurrent use on distinct blocks.
// Rate control follows a start/record/end cycle per frame; see the
// ratecontrol package for its concurrency rules.
package xavs
