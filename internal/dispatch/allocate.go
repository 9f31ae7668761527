package dispatch

// Starving reports whether any class other than 0 holds more than threshold
// messages. Class 0 never triggers starvation mode.
func Starving(depths []int64, threshold int64) bool {
	for c := 1; c < len(depths); c++ {
		if depths[c] > threshold {
			return true
		}
	}
	return false
}

// Allocate splits a batch of at most max slots across classes in proportion
// to their depths. It returns the number of ids to take from each class.
//
// Every non-empty class gets at least one slot while slots remain; when there
// are fewer slots than non-empty classes the lowest class indexes win. The
// result sums to min(max, sum(depths)) and never exceeds a class's depth.
func Allocate(depths []int64, max int) []int {
	alloc := make([]int, len(depths))
	var total int64
	for _, d := range depths {
		if d > 0 {
			total += d
		}
	}
	if max <= 0 || total == 0 {
		return alloc
	}
	target := int64(max)
	if total < target {
		target = total
	}

	// nonEmptyAfter[c] is the number of non-empty classes above index c.
	nonEmptyAfter := make([]int64, len(depths))
	var seen int64
	for c := len(depths) - 1; c >= 0; c-- {
		nonEmptyAfter[c] = seen
		if depths[c] > 0 {
			seen++
		}
	}

	var allocated int64
	for c, d := range depths {
		if d <= 0 {
			continue
		}
		remaining := target - allocated
		if remaining <= 0 {
			break
		}
		share := target * d / total
		if share < 1 {
			share = 1
		}
		// keep one slot for each later non-empty class
		limit := remaining - nonEmptyAfter[c]
		if limit < 1 {
			limit = 1
		}
		share = min(share, d, limit)
		alloc[c] = int(share)
		allocated += share
	}

	// hand rounding leftovers to the highest classes first
	for c, d := range depths {
		if allocated >= target {
			break
		}
		spare := d - int64(alloc[c])
		if spare <= 0 {
			continue
		}
		extra := min(spare, target-allocated)
		alloc[c] += int(extra)
		allocated += extra
	}
	return alloc
}
