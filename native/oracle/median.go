package oracle

import "sort"

// median returns the middle value of prices. For an even count it returns the
// floored mean of the two middle values. The input is not modified.
func median(prices []uint64) uint64 {
	if len(prices) == 0 {
		return 0
	}
	values := append([]uint64(nil), prices...)
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	lo, hi := values[mid-1], values[mid]
	return lo + (hi-lo)/2
}
