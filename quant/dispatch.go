package quant

import (
	"fmt"

	"github.com/passerbya/xavs/types"
)

// Impl is one candidate in the implementation catalog. A nil function
// leaves the previously selected implementation of that operation in place.
type Impl struct {
	Name     string
	Requires types.CPUFlags
	Quant    QuantFunc
	Dequant  DequantFunc
}

// catalog is ordered from the portable baseline to the narrowest tier.
// Later entries override earlier ones when their feature bits are present.
var catalog = []Impl{
	{Name: "c", Requires: 0, Quant: quant8x8C, Dequant: dequant8x8C},
	{Name: "mmx", Requires: types.CPUMMX, Quant: quant8x8Unrolled, Dequant: dequant8x8Unrolled},
	{Name: "sse2", Requires: types.CPUSSE2, Quant: quant8x8Lanes4, Dequant: dequant8x8Lanes},
	{Name: "ssse3", Requires: types.CPUSSSE3, Quant: quant8x8SignMask},
	{Name: "sse4", Requires: types.CPUSSE4, Quant: quant8x8Rows},
	{Name: "avx2", Requires: types.CPUAVX2, Quant: quant8x8Lanes16},
	{Name: "altivec", Requires: types.CPUAltivec, Quant: quant8x8Lanes4, Dequant: dequant8x8Lanes},
	{Name: "neon", Requires: types.CPUNEON, Quant: quant8x8Rows, Dequant: dequant8x8Lanes},
}

// flatDequant replaces the dequantizer for the flat CQM preset. It is
// applied after every feature check.
var flatDequant = Impl{Name: "flat16", Requires: types.CPUMMX, Dequant: dequant8x8Flat}

// Catalog returns a copy of every selectable implementation, including the
// flat-matrix dequantizer as the last entry.
func Catalog() []Impl {
	out := make([]Impl, 0, len(catalog)+1)
	out = append(out, catalog...)
	return append(out, flatDequant)
}

// Functions is the set of implementations bound for one encoder session.
// It is an immutable value; copies may be shared freely across goroutines.
type Functions struct {
	quant       QuantFunc
	dequant     DequantFunc
	quantName   string
	dequantName string
}

// Init selects one implementation per operation for the given CPU
// features and CQM preset. Selection happens once; the returned Functions
// never branches on features again.
func Init(cpu types.CPUFlags, preset types.CQMPreset) Functions {
	var f Functions
	for _, impl := range catalog {
		if !cpu.Has(impl.Requires) {
			continue
		}
		if impl.Quant != nil {
			f.quant = impl.Quant
			f.quantName = impl.Name
		}
		if impl.Dequant != nil {
			f.dequant = impl.Dequant
			f.dequantName = impl.Name
		}
	}
	if preset == types.CQMFlat && cpu.Has(flatDequant.Requires) {
		f.dequant = flatDequant.Dequant
		f.dequantName = flatDequant.Name
	}
	return f
}

// Quant quantizes b in place and reports whether any level is non-zero.
func (f Functions) Quant(b *Block, mf *QuantMatrix, bias *BiasVector, qp int) bool {
	return f.quant(b, mf, bias, qp)
}

// Dequant reconstructs b in place.
func (f Functions) Dequant(b *Block, dq *DequantMatrix, qp int) {
	f.dequant(b, dq, qp)
}

// QuantName returns the catalog name of the bound quantizer.
func (f Functions) QuantName() string { return f.quantName }

// DequantName returns the catalog name of the bound dequantizer.
func (f Functions) DequantName() string { return f.dequantName }

func (f Functions) String() string {
	return fmt.Sprintf("quant=%s dequant=%s", f.quantName, f.dequantName)
}
