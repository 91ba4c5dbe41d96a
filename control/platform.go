// control/platform.go
// Author: momentics <momentics@gmail.com>
//
// Platform facts relevant to memory registration.

package control

import (
	"runtime"

	"github.com/momentics/hioload-dma/internal/memlock"
)

// RegisterPlatformProbes sets platform debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.page_size", func() any {
		return memlock.PageSize()
	})
	dp.RegisterProbe("platform.memlock", func() any {
		return memlock.Supported()
	})
}
