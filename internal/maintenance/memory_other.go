//go:build !linux

package maintenance

import (
	"errors"
	"runtime"
)

// ResidentMemory approximates resident memory with the bytes the Go runtime
// has obtained from the OS.
func ResidentMemory() (uint64, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Sys, nil
}

func TotalMemory() (uint64, error) {
	return 0, errors.New("total memory is only available on linux")
}
