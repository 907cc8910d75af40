package cpuid

import (
	"runtime"
	"testing"

	"github.com/passerbya/xavs/types"
)

func TestDetectStable(t *testing.T) {
	a := Detect()
	b := Detect()
	if a != b {
		t.Fatalf("Detect() changed between calls: %v then %v", a, b)
	}
}

func TestDetectArch(t *testing.T) {
	f := Detect()
	switch runtime.GOARCH {
	case "amd64", "386":
		if f.Has(types.CPUSSE2) && !f.Has(types.CPUMMX) {
			t.Errorf("SSE2 without MMX: %v", f)
		}
		if f&(types.CPUNEON|types.CPUAltivec) != 0 {
			t.Errorf("non-x86 tiers reported on %s: %v", runtime.GOARCH, f)
		}
	case "arm64":
		if f&^types.CPUNEON != 0 {
			t.Errorf("unexpected tiers on arm64: %v", f)
		}
	}
}
