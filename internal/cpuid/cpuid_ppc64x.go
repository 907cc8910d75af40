//go:build (ppc64 || ppc64le) && !purego

package cpuid

import (
	"golang.org/x/sys/cpu"

	"github.com/passerbya/xavs/types"
)

func probe() types.CPUFlags {
	if cpu.PPC64.IsPOWER8 {
		return types.CPUAltivec
	}
	return 0
}
