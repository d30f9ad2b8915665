// Package detective provides models and repositories for detective profiles,
// their services, and published-review aggregates. The ranking read path
// consumes these as read-only inputs.
package detective

import (
	"errors"
	"time"

	"github.com/sleuthsite/detectory/internal/ranking"
)

// Common errors for detective operations.
var (
	ErrDetectiveNotFound = errors.New("detective not found")
	ErrServiceNotFound   = errors.New("service not found")
)

// Detective statuses. Only active detectives are eligible for ranking.
const (
	StatusActive    = "active"
	StatusPending   = "pending"
	StatusSuspended = "suspended"
	StatusInactive  = "inactive"
)

// Detective represents a detective profile as consumed by listing surfaces.
type Detective struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	BusinessName string         `json:"business_name"`
	Slug         string         `json:"slug"`
	Level        ranking.Level  `json:"level"`
	Status       string         `json:"status"`
	Badges       ranking.Badges `json:"badges"`
	Country      string         `json:"country,omitempty"`
	City         string         `json:"city,omitempty"`
	LastActiveAt time.Time      `json:"last_active_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Service represents one offered service belonging to a detective.
type Service struct {
	ID          string    `json:"id"`
	DetectiveID string    `json:"detective_id"`
	Title       string    `json:"title"`
	Category    string    `json:"category,omitempty"`
	Description string    `json:"description,omitempty"`
	Images      []string  `json:"images,omitempty"`
	BasePrice   int64     `json:"base_price,omitempty"`
	OfferPrice  int64     `json:"offer_price,omitempty"`
	IsOnEnquiry bool      `json:"is_on_enquiry"`
	OrderCount  int       `json:"order_count"`
	IsActive    bool      `json:"is_active"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasImages reports whether the service carries at least one non-empty image
// reference. Featured surfaces only show image-bearing services.
func (s *Service) HasImages() bool {
	for _, img := range s.Images {
		if img != "" {
			return true
		}
	}
	return false
}

// ReviewAggregate holds the published-review statistics for one detective.
// Count and AvgRating cover published reviews only.
type ReviewAggregate struct {
	DetectiveID string  `json:"detective_id"`
	Count       int     `json:"count"`
	AvgRating   float64 `json:"avg_rating"`
}

// CandidateFilter selects the detectives a listing surface considers.
// Status defaults to active when empty; empty Country and Query match all.
type CandidateFilter struct {
	Status  string
	Country string
	Query   string
	Limit   int
}
