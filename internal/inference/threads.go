package inference

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// ThreadCount resolves the interpreter thread count. Zero selects the number
// of physical cores, which on hybrid CPUs keeps inference off SMT siblings.
func ThreadCount(configured int) int {
	available := runtime.NumCPU()
	if configured > 0 {
		return min(configured, available)
	}
	if cores := cpuid.CPU.PhysicalCores; cores > 0 {
		return min(cores, available)
	}
	if cores := cpuid.CPU.LogicalCores; cores > 0 {
		return min(cores, available)
	}
	return available
}
