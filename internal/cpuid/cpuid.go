// Package cpuid reports the instruction-set tiers the quantizers may use on
// the running machine.
package cpuid

import (
	"sync"

	"github.com/passerbya/xavs/types"
)

var (
	detectOnce sync.Once
	detected   types.CPUFlags
)

// Detect returns the feature bitmask for this process. The probe runs once.
func Detect() types.CPUFlags {
	detectOnce.Do(func() {
		detected = probe()
	})
	return detected
}
