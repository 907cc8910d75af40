//go:build (386 || amd64) && !purego

package cpuid

import (
	"golang.org/x/sys/cpu"

	"github.com/passerbya/xavs/types"
)

func probe() types.CPUFlags {
	var f types.CPUFlags
	// MMX predates SSE2; every SSE2 part has it.
	if cpu.X86.HasSSE2 {
		f |= types.CPUMMX | types.CPUSSE2
	}
	if cpu.X86.HasSSSE3 {
		f |= types.CPUSSSE3
	}
	if cpu.X86.HasSSE41 {
		f |= types.CPUSSE4
	}
	if cpu.X86.HasAVX2 {
		f |= types.CPUAVX2
	}
	return f
}
