package compact

// Converged decides whether a sequence of storage-size measurements (MB,
// oldest first, starting with the pre-compaction size) has stopped making
// progress.
//
// Two rules, checked in order:
//
//  1. Repeat short-circuit: once three measurements exist, two identical
//     consecutive readings mean compaction is returning nothing more.
//  2. Tolerance: the latest reading differs from the first by at most
//     tolerance (a fraction of the first). Only applies when the size
//     actually changed and both readings sit above the minSizeMB floor;
//     tiny collections bounce around too much for a relative test.
func Converged(measurements []int64, tolerance float64, minSizeMB int64) bool {
	n := len(measurements)
	if n < 2 {
		return false
	}
	if n >= 3 && measurements[n-1] == measurements[n-2] {
		return true
	}

	first, last := measurements[0], measurements[n-1]
	if last == first {
		return false
	}
	if first < minSizeMB || last < minSizeMB {
		return false
	}

	diff := first - last
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= tolerance*float64(first)
}
