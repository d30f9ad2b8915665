// Package ranking provides the visibility score model and the total order
// used to rank detective listings.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	points, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		log.Warn("using default points", "error", err)
//	}
//
//	// Score one detective
//	sig := ranking.Signals{
//		Level:        ranking.Level2,
//		Badges:       ranking.Badges{BlueTick: true},
//		LastActiveAt: det.LastActiveAt,
//		ReviewCount:  agg.Count,
//		AvgRating:    agg.AvgRating,
//		ManualRank:   record.ManualRank,
//	}
//	score := ranking.Score(sig, time.Now(), points)
//
//	// Order visible detectives
//	slices.SortFunc(candidates, func(a, b ranking.Ranked) int {
//		return ranking.Compare(a, b)
//	})
//
// Score Formula:
//
// The visibility score is additive: manual rank + level term + badge term +
// activity term + review term. Every term function is pure and total; missing
// or malformed fields score their documented defaults instead of failing, so
// one bad row can never break a whole listing.
//
// Ordering:
//
// Compare implements the tie-break chain (manual rank, score, review count,
// last-active time, detective ID) as a strict total order with no randomness.
// Detectives whose visibility gate is off must be filtered out before scoring;
// the comparator never sees them.
//
// Calibration:
//
// The calibration system allows deploy-time tuning of the level and badge
// point values via JSON configuration files loaded at startup. The activity
// decay buckets and the review step tables are fixed product rules and are
// not calibrated.
package ranking
