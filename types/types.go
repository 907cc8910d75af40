// Package types defines shared types used across xavs packages.
// This package exists to break import cycles between packages.
package types

import "strings"

// QP bounds fixed by the standard's 64-entry tables.
const (
	QPMin = 0
	QPMax = 63
	// QPCount is the number of valid quantization parameters.
	QPCount = QPMax + 1
)

// ValidQP reports whether qp indexes the standard's tables.
func ValidQP(qp int) bool {
	return qp >= QPMin && qp <= QPMax
}

// SliceType is the prediction class of a coded picture.
type SliceType uint8

const (
	SliceP SliceType = iota // inter, forward predicted
	SliceB                  // inter, bi-predicted
	SliceI                  // intra only
)

// NumSliceTypes is the number of distinct slice types.
const NumSliceTypes = 3

func (t SliceType) String() string {
	switch t {
	case SliceI:
		return "I"
	case SliceP:
		return "P"
	case SliceB:
		return "B"
	}
	return "?"
}

// CQMPreset selects the quantization weighting matrix.
type CQMPreset uint8

const (
	CQMFlat   CQMPreset = iota // uniform weighting (all 16)
	CQMCustom                  // per-position weights supplied by the caller
)

func (p CQMPreset) String() string {
	switch p {
	case CQMFlat:
		return "flat"
	case CQMCustom:
		return "custom"
	}
	return "unknown"
}

// CPUFlags is a bitmask of instruction-set tiers usable by the quantizer
// implementations. It is produced once per process and never changes.
type CPUFlags uint32

const (
	CPUMMX CPUFlags = 1 << iota
	CPUSSE2
	CPUSSSE3
	CPUSSE4
	CPUAVX2
	CPUAltivec
	CPUNEON

	// CPUAll is the union of every known tier.
	CPUAll = CPUMMX | CPUSSE2 | CPUSSSE3 | CPUSSE4 | CPUAVX2 | CPUAltivec | CPUNEON
)

var cpuNames = [...]struct {
	flag CPUFlags
	name string
}{
	{CPUMMX, "MMX"},
	{CPUSSE2, "SSE2"},
	{CPUSSSE3, "SSSE3"},
	{CPUSSE4, "SSE4"},
	{CPUAVX2, "AVX2"},
	{CPUAltivec, "Altivec"},
	{CPUNEON, "NEON"},
}

// Has reports whether every bit in want is set.
func (f CPUFlags) Has(want CPUFlags) bool {
	return f&want == want
}

func (f CPUFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range cpuNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " ")
}
