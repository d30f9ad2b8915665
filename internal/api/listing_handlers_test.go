package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sleuthsite/detectory/internal/cache"
	"github.com/sleuthsite/detectory/internal/detective"
	"github.com/sleuthsite/detectory/internal/listing"
	"github.com/sleuthsite/detectory/internal/middleware"
	"github.com/sleuthsite/detectory/internal/ranking"
	"github.com/sleuthsite/detectory/internal/visibility"
)

// newListingFixture seeds two active detectives with distinct scores plus one
// hidden detective, and returns the wired handlers.
func newListingFixture(t *testing.T) (*ListingHandlers, *detective.InMemoryRepository, *visibility.InMemoryRepository) {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	detectives := detective.NewInMemoryRepository()
	detectives.PutDetective(&detective.Detective{
		ID:           "det-strong",
		BusinessName: "Strong Agency",
		Slug:         "strong-agency",
		Level:        ranking.LevelPro,
		Status:       detective.StatusActive,
		Badges:       ranking.Badges{Pro: true},
		Country:      "US",
		LastActiveAt: now.Add(-2 * time.Hour),
	})
	detectives.PutDetective(&detective.Detective{
		ID:           "det-weak",
		BusinessName: "Weak Agency",
		Slug:         "weak-agency",
		Level:        ranking.Level1,
		Status:       detective.StatusActive,
		Country:      "US",
		LastActiveAt: now.Add(-60 * 24 * time.Hour),
	})
	detectives.PutDetective(&detective.Detective{
		ID:           "det-hidden",
		BusinessName: "Hidden Agency",
		Slug:         "hidden-agency",
		Level:        ranking.LevelPro,
		Status:       detective.StatusActive,
		Country:      "US",
		LastActiveAt: now,
	})
	detectives.PutService(&detective.Service{
		ID:          "svc-strong",
		DetectiveID: "det-strong",
		Title:       "Background Check",
		Images:      []string{"https://img.example/strong.jpg"},
		OrderCount:  12,
		IsActive:    true,
	})
	detectives.PutService(&detective.Service{
		ID:          "svc-weak",
		DetectiveID: "det-weak",
		Title:       "Surveillance",
		Images:      []string{"https://img.example/weak.jpg"},
		OrderCount:  2,
		IsActive:    true,
	})

	overrides := visibility.NewInMemoryRepository()
	hidden := visibility.NewRecord("det-hidden")
	hidden.IsVisible = false
	if err := overrides.Upsert(context.Background(), hidden); err != nil {
		t.Fatalf("failed to seed hidden record: %v", err)
	}

	svc := listing.NewService(detectives, overrides, cache.New(), nil,
		listing.WithClock(func() time.Time { return now }))

	return NewListingHandlers(svc), detectives, overrides
}

func TestRankedDetectives_Success(t *testing.T) {
	handlers, _, _ := newListingFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/detectives/ranked?country=US", nil)
	w := httptest.NewRecorder()

	handlers.RankedDetectives(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp RankedListingResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Count != 2 {
		t.Fatalf("expected 2 detectives, got %d", resp.Count)
	}
	if resp.Detectives[0].Detective.ID != "det-strong" {
		t.Errorf("expected det-strong first, got %s", resp.Detectives[0].Detective.ID)
	}
	if resp.Detectives[1].Detective.ID != "det-weak" {
		t.Errorf("expected det-weak second, got %s", resp.Detectives[1].Detective.ID)
	}
	for i, d := range resp.Detectives {
		if d.RankPosition != i+1 {
			t.Errorf("entry %d: expected rank position %d, got %d", i, i+1, d.RankPosition)
		}
	}
}

func TestRankedDetectives_HiddenExcluded(t *testing.T) {
	handlers, _, _ := newListingFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/detectives/ranked", nil)
	w := httptest.NewRecorder()

	handlers.RankedDetectives(w, req)

	var resp RankedListingResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	for _, d := range resp.Detectives {
		if d.Detective.ID == "det-hidden" {
			t.Error("hidden detective should not appear in ranked listing")
		}
	}
}

func TestRankedDetectives_SearchFilter(t *testing.T) {
	handlers, _, _ := newListingFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/detectives/ranked?q=weak", nil)
	w := httptest.NewRecorder()

	handlers.RankedDetectives(w, req)

	var resp RankedListingResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Count != 1 {
		t.Fatalf("expected 1 detective, got %d", resp.Count)
	}
	if resp.Detectives[0].Detective.ID != "det-weak" {
		t.Errorf("expected det-weak, got %s", resp.Detectives[0].Detective.ID)
	}
}

func TestRankedDetectives_InvalidLimit(t *testing.T) {
	handlers, _, _ := newListingFixture(t)

	tests := []struct {
		name  string
		limit string
	}{
		{"non-numeric", "abc"},
		{"zero", "0"},
		{"negative", "-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/detectives/ranked?limit="+tt.limit, nil)
			w := httptest.NewRecorder()

			handlers.RankedDetectives(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", w.Code)
			}

			var errResp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if errResp.Error.Code != ErrCodeInvalidLimit {
				t.Errorf("expected error code %s, got %s", ErrCodeInvalidLimit, errResp.Error.Code)
			}
		})
	}
}

func TestRankedDetectives_LimitApplied(t *testing.T) {
	handlers, _, _ := newListingFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/detectives/ranked?limit=1", nil)
	w := httptest.NewRecorder()

	handlers.RankedDetectives(w, req)

	var resp RankedListingResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Count != 1 {
		t.Fatalf("expected 1 detective, got %d", resp.Count)
	}
	if resp.Detectives[0].Detective.ID != "det-strong" {
		t.Errorf("expected the top-ranked detective, got %s", resp.Detectives[0].Detective.ID)
	}
}

func TestRankedDetectives_MethodNotAllowed(t *testing.T) {
	handlers, _, _ := newListingFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/detectives/ranked", nil)
	w := httptest.NewRecorder()

	handlers.RankedDetectives(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

// TestRankedDetectives_AuthenticatedSeesFreshData verifies that a request
// with an authenticated principal bypasses the anonymous cache.
func TestRankedDetectives_AuthenticatedSeesFreshData(t *testing.T) {
	handlers, detectives, _ := newListingFixture(t)

	// Prime the anonymous cache
	req := httptest.NewRequest(http.MethodGet, "/detectives/ranked", nil)
	handlers.RankedDetectives(httptest.NewRecorder(), req)

	// Add a new strong detective after the cache was primed
	detectives.PutDetective(&detective.Detective{
		ID:           "det-new",
		BusinessName: "New Agency",
		Slug:         "new-agency",
		Level:        ranking.LevelPro,
		Status:       detective.StatusActive,
		LastActiveAt: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	})

	// Anonymous request still sees the cached snapshot
	w := httptest.NewRecorder()
	handlers.RankedDetectives(w, httptest.NewRequest(http.MethodGet, "/detectives/ranked", nil))
	var anonResp RankedListingResponse
	if err := json.NewDecoder(w.Body).Decode(&anonResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if anonResp.Count != 2 {
		t.Errorf("anonymous request: expected cached 2 detectives, got %d", anonResp.Count)
	}

	// Authenticated request sees the new detective immediately
	authReq := httptest.NewRequest(http.MethodGet, "/detectives/ranked", nil)
	authReq = authReq.WithContext(middleware.SetUserID(authReq.Context(), "user-1"))
	w = httptest.NewRecorder()
	handlers.RankedDetectives(w, authReq)
	var authResp RankedListingResponse
	if err := json.NewDecoder(w.Body).Decode(&authResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if authResp.Count != 3 {
		t.Errorf("authenticated request: expected 3 detectives, got %d", authResp.Count)
	}
}

func TestFeaturedHome_Success(t *testing.T) {
	handlers, _, _ := newListingFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/services/featured-home", nil)
	w := httptest.NewRecorder()

	handlers.FeaturedHome(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp FeaturedHomeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Count != 2 {
		t.Fatalf("expected 2 featured services, got %d", resp.Count)
	}

	// One service per detective, in rank order
	if resp.Services[0].DetectiveID != "det-strong" {
		t.Errorf("expected det-strong's service first, got %s", resp.Services[0].DetectiveID)
	}
	seen := make(map[string]bool)
	for _, s := range resp.Services {
		if seen[s.DetectiveID] {
			t.Errorf("detective %s appears more than once", s.DetectiveID)
		}
		seen[s.DetectiveID] = true
	}
}

func TestFeaturedHome_MethodNotAllowed(t *testing.T) {
	handlers, _, _ := newListingFixture(t)

	req := httptest.NewRequest(http.MethodDelete, "/services/featured-home", nil)
	w := httptest.NewRecorder()

	handlers.FeaturedHome(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}
