//go:build linux

package maintenance

import (
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// ResidentMemory samples the process's current resident set size. When
// /proc is unavailable it falls back to the peak RSS from getrusage.
func ResidentMemory() (uint64, error) {
	if proc, err := procfs.Self(); err == nil {
		if stat, err := proc.Stat(); err == nil {
			return uint64(stat.ResidentMemory()), nil
		}
	}
	var usage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &usage); err != nil {
		return 0, err
	}
	// Maxrss is reported in kilobytes on linux.
	return uint64(usage.Maxrss) * 1024, nil
}

func TotalMemory() (uint64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return uint64(info.Totalram) * uint64(info.Unit), nil
}
