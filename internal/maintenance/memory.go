package maintenance

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseMemoryLimit accepts a byte size ("384MiB", "1GB", "500000000") or a
// percentage of system memory ("70%"). An empty value disables the limit.
func ParseMemoryLimit(raw string, totalMemory func() (uint64, error)) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "0" {
		return 0, nil
	}
	if pct, ok := strings.CutSuffix(raw, "%"); ok {
		value, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil || value <= 0 || value > 100 {
			return 0, fmt.Errorf("invalid memory percentage %q", raw)
		}
		if totalMemory == nil {
			totalMemory = TotalMemory
		}
		total, err := totalMemory()
		if err != nil {
			return 0, fmt.Errorf("memory limit %s: %w", raw, err)
		}
		return uint64(float64(total) * value / 100), nil
	}
	limit, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", raw, err)
	}
	return limit, nil
}
