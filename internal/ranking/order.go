package ranking

import (
	"strings"
	"time"
)

// Ranked carries the sort keys for one visible detective. The read path builds
// one Ranked per candidate after scoring; detectives with the visibility gate
// off never reach the comparator.
type Ranked struct {
	DetectiveID     string
	ManualRank      *int
	VisibilityScore int
	ReviewCount     int
	LastActiveAt    time.Time
}

// Compare implements the ranking tie-break chain as a total order. It returns
// a negative value when a ranks before b, positive when b ranks before a, and
// zero only when every key compares equal (which implies equal detective IDs).
//
// Keys in precedence order:
//  1. manual rank, descending; a present rank sorts before an absent one
//  2. visibility score, descending
//  3. published review count, descending
//  4. last-active time, descending
//  5. detective ID, ascending, so the order is fully deterministic
//
// Compare is pure and suitable for slices.SortFunc or sort.Slice.
func Compare(a, b Ranked) int {
	// Manual rank dominates everything, including higher computed scores.
	switch {
	case a.ManualRank != nil && b.ManualRank == nil:
		return -1
	case a.ManualRank == nil && b.ManualRank != nil:
		return 1
	case a.ManualRank != nil && b.ManualRank != nil:
		if *a.ManualRank != *b.ManualRank {
			if *a.ManualRank > *b.ManualRank {
				return -1
			}
			return 1
		}
	}

	if a.VisibilityScore != b.VisibilityScore {
		if a.VisibilityScore > b.VisibilityScore {
			return -1
		}
		return 1
	}

	if a.ReviewCount != b.ReviewCount {
		if a.ReviewCount > b.ReviewCount {
			return -1
		}
		return 1
	}

	if !a.LastActiveAt.Equal(b.LastActiveAt) {
		if a.LastActiveAt.After(b.LastActiveAt) {
			return -1
		}
		return 1
	}

	return strings.Compare(a.DetectiveID, b.DetectiveID)
}
