package quant_test

import (
	"fmt"
	"log"

	"github.com/passerbya/xavs/quant"
	"github.com/passerbya/xavs/types"
)

func ExampleInit() {
	f := quant.Init(types.CPUMMX|types.CPUSSE2, types.CQMFlat)
	fmt.Println(f)
	// Output: quant=sse2 dequant=flat16
}

func ExampleQuant8x8() {
	tab, err := quant.NewTables(types.CQMFlat, nil, quant.DefaultDeadzone())
	if err != nil {
		log.Fatal(err)
	}

	var b quant.Block
	b[0] = 100
	b[1] = -100
	nz := quant.Quant8x8(&b, tab.QuantMatrix(0), tab.Bias(true), 0)
	fmt.Println(nz, b[0], b[1])

	quant.Dequant8x8(&b, tab.DequantMatrix(), 0)
	fmt.Println(b[0], b[1])

	// Output:
	// true 6 -7
	// 12 -14
}
