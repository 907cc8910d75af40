//go:build arm64 && !purego

package cpuid

import (
	"golang.org/x/sys/cpu"

	"github.com/passerbya/xavs/types"
)

func probe() types.CPUFlags {
	if cpu.ARM64.HasASIMD {
		return types.CPUNEON
	}
	return 0
}
