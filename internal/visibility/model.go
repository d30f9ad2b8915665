// Package visibility provides the admin-controlled visibility override record
// and the validated write path that listing surfaces must honor with highest
// precedence.
package visibility

import (
	"errors"
	"fmt"
	"time"

	"github.com/sleuthsite/detectory/internal/ranking"
)

// Common errors for visibility operations.
var (
	// ErrManualRankRange is returned when a manual rank falls outside
	// [0, 1000]. Out-of-range values are rejected, never clamped.
	ErrManualRankRange = errors.New("manual rank must be between 0 and 1000")

	// ErrRecordNotFound is returned when no override record exists for a
	// detective.
	ErrRecordNotFound = errors.New("visibility record not found")
)

// Record is the per-detective visibility override. It is created lazily the
// first time a detective is edited through the admin path and never deleted
// while the detective exists.
//
// A detective with no record at all is treated as visible by the read path,
// and the lazy record is created visible to match: an admin touching only
// manual_rank or is_featured must not change whether the detective is listed.
// Hiding a detective always takes an explicit IsVisible=false write.
type Record struct {
	DetectiveID string `json:"detective_id"`

	// IsVisible gates ranked listings unconditionally: when false the
	// detective never appears, regardless of score.
	IsVisible bool `json:"is_visible"`

	// IsFeatured is advisory for featured placement; it does not affect
	// score ordering.
	IsFeatured bool `json:"is_featured"`

	// ManualRank, when present, is both an additive score term and the
	// highest-precedence tie-break key. Range [0, 1000].
	ManualRank *int `json:"manual_rank,omitempty"`

	// VisibilityScore is a persisted display copy of the computed score.
	// It is diagnostic only; the read path always recomputes.
	VisibilityScore int `json:"visibility_score"`

	LastEvaluatedAt time.Time `json:"last_evaluated_at,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Update is the admin-supplied change set. Nil fields leave the current value
// untouched; ManualRank uses a double pointer so "set to null" (clear the
// manual rank) and "leave unchanged" stay distinguishable.
type Update struct {
	IsVisible  *bool
	IsFeatured *bool
	ManualRank **int
}

// Validate checks the update against the manual rank bounds.
func (u Update) Validate() error {
	if u.ManualRank == nil || *u.ManualRank == nil {
		return nil
	}
	rank := **u.ManualRank
	if rank < ranking.ManualRankMin || rank > ranking.ManualRankMax {
		return fmt.Errorf("%w: got %d", ErrManualRankRange, rank)
	}
	return nil
}

// NewRecord returns a record with the lazy-creation defaults: visible (the
// effective state of a detective no admin has touched), not featured, no
// manual rank.
func NewRecord(detectiveID string) *Record {
	return &Record{
		DetectiveID: detectiveID,
		IsVisible:   true,
		IsFeatured:  false,
		ManualRank:  nil,
	}
}

// Apply merges the update into the record, last write wins.
func (r *Record) Apply(u Update) {
	if u.IsVisible != nil {
		r.IsVisible = *u.IsVisible
	}
	if u.IsFeatured != nil {
		r.IsFeatured = *u.IsFeatured
	}
	if u.ManualRank != nil {
		if *u.ManualRank == nil {
			r.ManualRank = nil
		} else {
			rank := **u.ManualRank
			r.ManualRank = &rank
		}
	}
}
