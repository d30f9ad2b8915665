// Package ranking provides the visibility score model used to order
// detective listings across search, home-page, and directory surfaces.
package ranking

import (
	"time"
)

// Level is a detective's subscription level. The set is closed; anything else
// scores as Level1.
type Level string

// Detective levels.
const (
	Level1   Level = "level1"
	Level2   Level = "level2"
	Level3   Level = "level3"
	LevelPro Level = "pro"
)

// Manual rank bounds. A manual rank outside this range is rejected at the
// admin write path, never clamped here.
const (
	ManualRankMin = 0
	ManualRankMax = 1000
)

// Badges holds the boolean eligibility flags that contribute additive score
// terms. All fields are mandatory with false as the zero value, so the score
// model never needs nil checks.
type Badges struct {
	// BlueTick is the verified badge.
	BlueTick bool
	// Pro indicates an active paid subscription.
	Pro bool
	// Recommended is reserved for a future signal. No computation path sets it
	// yet, but the term stays in the formula so enabling it later is not a
	// formula change.
	Recommended bool
}

// Signals is the per-detective input to the score model. Zero values are the
// documented safe defaults: an unknown level scores as Level1, a zero
// LastActiveAt scores no activity points, and zero reviews score no review
// points.
type Signals struct {
	Level        Level
	Badges       Badges
	LastActiveAt time.Time
	ReviewCount  int
	AvgRating    float64
	ManualRank   *int
}

// LevelPoints returns the level term. Exactly one value applies; unknown or
// empty levels default to the Level1 value rather than zero so incomplete
// profiles do not fall off a score cliff.
func LevelPoints(level Level, p *Points) int {
	if p == nil {
		p = DefaultPoints()
	}
	switch level {
	case Level2:
		return p.Level2
	case Level3:
		return p.Level3
	case LevelPro:
		return p.LevelPro
	default:
		return p.Level1
	}
}

// BadgePoints returns the badge term. Badges are independent and stack.
func BadgePoints(b Badges, p *Points) int {
	if p == nil {
		p = DefaultPoints()
	}
	points := 0
	if b.BlueTick {
		points += p.BlueTick
	}
	if b.Pro {
		points += p.ProBadge
	}
	if b.Recommended {
		points += p.Recommended
	}
	return points
}

// ActivityPoints returns the time-decayed activity term based on the age of
// lastActiveAt relative to now. Buckets are left-closed/right-open on the day
// boundary, first match wins:
//
//	< 1 day  -> 100
//	< 7 days -> 75
//	< 30 days -> 50
//	< 90 days -> 25
//	otherwise -> 0
//
// A zero lastActiveAt (unknown) and a negative age (clock skew) both score 0.
func ActivityPoints(lastActiveAt, now time.Time) int {
	if lastActiveAt.IsZero() {
		return 0
	}
	age := now.Sub(lastActiveAt)
	if age < 0 {
		return 0
	}
	switch {
	case age < 24*time.Hour:
		return 100
	case age < 7*24*time.Hour:
		return 75
	case age < 30*24*time.Hour:
		return 50
	case age < 90*24*time.Hour:
		return 25
	default:
		return 0
	}
}

// ReviewCountPoints returns the count sub-score in [0, 250]. The step table is
// monotonically non-decreasing in published review count and saturates at 50
// reviews so high-volume detectives cannot dominate indefinitely.
func ReviewCountPoints(count int) int {
	switch {
	case count >= 50:
		return 250
	case count >= 30:
		return 200
	case count >= 20:
		return 150
	case count >= 10:
		return 100
	case count >= 5:
		return 50
	case count >= 1:
		return 25
	default:
		return 0
	}
}

// ReviewRatingPoints returns the rating sub-score in [0, 250] from the average
// rating on a 1-5 scale. Monotonically non-decreasing, saturating at 4.8.
// A detective with zero reviews must be scored through ReviewPoints, which
// forces both sub-scores to zero.
func ReviewRatingPoints(avgRating float64) int {
	switch {
	case avgRating >= 4.8:
		return 250
	case avgRating >= 4.5:
		return 200
	case avgRating >= 4.2:
		return 150
	case avgRating >= 4.0:
		return 100
	case avgRating >= 3.5:
		return 50
	default:
		return 0
	}
}

// ReviewPoints returns the combined review term in [0, 500]. Zero published
// reviews score 0 on both sub-terms regardless of the reported average.
func ReviewPoints(count int, avgRating float64) int {
	if count <= 0 {
		return 0
	}
	return ReviewCountPoints(count) + ReviewRatingPoints(avgRating)
}

// Score computes the visibility score for one detective at the given instant.
// The formula is additive: manual + level + badges + activity + reviews.
// It is pure and total: malformed inputs degrade to their documented default
// term values and the result is never negative.
func Score(sig Signals, now time.Time, p *Points) int {
	score := 0
	if sig.ManualRank != nil {
		score += *sig.ManualRank
	}
	score += LevelPoints(sig.Level, p)
	score += BadgePoints(sig.Badges, p)
	score += ActivityPoints(sig.LastActiveAt, now)
	score += ReviewPoints(sig.ReviewCount, sig.AvgRating)

	if score < 0 {
		return 0
	}
	return score
}
