//go:build purego || !(386 || amd64 || arm64 || ppc64 || ppc64le)

package cpuid

import "github.com/passerbya/xavs/types"

func probe() types.CPUFlags { return 0 }
