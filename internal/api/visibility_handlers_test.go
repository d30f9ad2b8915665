package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sleuthsite/detectory/internal/cache"
	"github.com/sleuthsite/detectory/internal/detective"
	"github.com/sleuthsite/detectory/internal/listing"
	"github.com/sleuthsite/detectory/internal/ranking"
	"github.com/sleuthsite/detectory/internal/visibility"
)

// newVisibilityFixture wires the admin write path against in-memory stores
// with one seeded detective and returns the handlers plus the shared cache.
func newVisibilityFixture(t *testing.T) (*VisibilityHandlers, *cache.Cache) {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	detectives := detective.NewInMemoryRepository()
	detectives.PutDetective(&detective.Detective{
		ID:           "det-1",
		BusinessName: "First Agency",
		Slug:         "first-agency",
		Level:        ranking.Level2,
		Status:       detective.StatusActive,
		LastActiveAt: now.Add(-2 * time.Hour),
	})

	c := cache.New()
	svc := visibility.NewService(
		visibility.NewInMemoryRepository(),
		detectives,
		c,
		[]string{listing.CacheKeyPrefix, listing.FeaturedCachePrefix},
		nil,
		visibility.WithClock(func() time.Time { return now }),
	)

	return NewVisibilityHandlers(svc), c
}

func TestGetVisibility_NoRecordReturnsDefaults(t *testing.T) {
	handlers, _ := newVisibilityFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/detectives/det-1/visibility", nil)
	w := httptest.NewRecorder()

	handlers.Visibility(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var record visibility.Record
	if err := json.NewDecoder(w.Body).Decode(&record); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if record.DetectiveID != "det-1" {
		t.Errorf("expected detective_id det-1, got %s", record.DetectiveID)
	}
	if !record.IsVisible {
		t.Error("untouched record should report visible, matching the listing behavior")
	}
	if record.ManualRank != nil {
		t.Errorf("expected no manual rank, got %d", *record.ManualRank)
	}
}

func TestGetVisibility_UnknownDetective(t *testing.T) {
	handlers, _ := newVisibilityFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/detectives/det-missing/visibility", nil)
	w := httptest.NewRecorder()

	handlers.Visibility(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.Code != ErrCodeDetectiveNotFound {
		t.Errorf("expected error code %s, got %s", ErrCodeDetectiveNotFound, errResp.Error.Code)
	}
}

func TestPutVisibility_Success(t *testing.T) {
	handlers, _ := newVisibilityFixture(t)

	body := `{"is_visible": true, "is_featured": true, "manual_rank": 250}`
	req := httptest.NewRequest(http.MethodPut, "/admin/detectives/det-1/visibility", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handlers.Visibility(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var record visibility.Record
	if err := json.NewDecoder(w.Body).Decode(&record); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !record.IsVisible {
		t.Error("expected is_visible true")
	}
	if !record.IsFeatured {
		t.Error("expected is_featured true")
	}
	if record.ManualRank == nil || *record.ManualRank != 250 {
		t.Errorf("expected manual_rank 250, got %v", record.ManualRank)
	}
}

func TestPutVisibility_PartialUpdate(t *testing.T) {
	handlers, _ := newVisibilityFixture(t)

	// First write sets everything
	body := `{"is_visible": true, "manual_rank": 100}`
	req := httptest.NewRequest(http.MethodPut, "/admin/detectives/det-1/visibility", strings.NewReader(body))
	handlers.Visibility(httptest.NewRecorder(), req)

	// Second write touches only is_featured; the rest must survive
	body = `{"is_featured": true}`
	req = httptest.NewRequest(http.MethodPut, "/admin/detectives/det-1/visibility", strings.NewReader(body))
	w := httptest.NewRecorder()
	handlers.Visibility(w, req)

	var record visibility.Record
	if err := json.NewDecoder(w.Body).Decode(&record); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !record.IsVisible {
		t.Error("is_visible should survive a partial update")
	}
	if !record.IsFeatured {
		t.Error("expected is_featured true")
	}
	if record.ManualRank == nil || *record.ManualRank != 100 {
		t.Errorf("manual_rank should survive a partial update, got %v", record.ManualRank)
	}
}

func TestPutVisibility_ExplicitNullClearsManualRank(t *testing.T) {
	handlers, _ := newVisibilityFixture(t)

	body := `{"manual_rank": 400}`
	req := httptest.NewRequest(http.MethodPut, "/admin/detectives/det-1/visibility", strings.NewReader(body))
	handlers.Visibility(httptest.NewRecorder(), req)

	body = `{"manual_rank": null}`
	req = httptest.NewRequest(http.MethodPut, "/admin/detectives/det-1/visibility", strings.NewReader(body))
	w := httptest.NewRecorder()
	handlers.Visibility(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var record visibility.Record
	if err := json.NewDecoder(w.Body).Decode(&record); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if record.ManualRank != nil {
		t.Errorf("expected manual_rank cleared, got %d", *record.ManualRank)
	}
}

func TestPutVisibility_ManualRankOutOfRange(t *testing.T) {
	handlers, _ := newVisibilityFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"above maximum", `{"manual_rank": 1001}`},
		{"below minimum", `{"manual_rank": -1}`},
		{"not an integer", `{"manual_rank": "high"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/admin/detectives/det-1/visibility", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			handlers.Visibility(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", w.Code)
			}

			var errResp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if errResp.Error.Code != ErrCodeInvalidManualRank {
				t.Errorf("expected error code %s, got %s", ErrCodeInvalidManualRank, errResp.Error.Code)
			}
		})
	}
}

func TestPutVisibility_InvalidJSON(t *testing.T) {
	handlers, _ := newVisibilityFixture(t)

	req := httptest.NewRequest(http.MethodPut, "/admin/detectives/det-1/visibility", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()

	handlers.Visibility(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestPutVisibility_UnknownDetective(t *testing.T) {
	handlers, _ := newVisibilityFixture(t)

	body := `{"is_visible": true}`
	req := httptest.NewRequest(http.MethodPut, "/admin/detectives/det-missing/visibility", strings.NewReader(body))
	w := httptest.NewRecorder()

	handlers.Visibility(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}

	var errResp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if errResp.Error.Code != ErrCodeDetectiveNotFound {
		t.Errorf("expected error code %s, got %s", ErrCodeDetectiveNotFound, errResp.Error.Code)
	}
}

// TestPutVisibility_InvalidatesListingCaches verifies that a successful
// override write clears the listing and featured cache namespaces but leaves
// unrelated entries alone.
func TestPutVisibility_InvalidatesListingCaches(t *testing.T) {
	handlers, c := newVisibilityFixture(t)

	c.Set(listing.CacheKeyPrefix+"ranked:US::100", []string{"stale"}, 300)
	c.Set(listing.FeaturedCachePrefix+"home:8unique", []string{"stale"}, 300)
	c.Set("cms:page:about", "keep", 300)

	body := `{"is_visible": true}`
	req := httptest.NewRequest(http.MethodPut, "/admin/detectives/det-1/visibility", strings.NewReader(body))
	w := httptest.NewRecorder()

	handlers.Visibility(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var dest []string
	if c.Get(listing.CacheKeyPrefix+"ranked:US::100", &dest) {
		t.Error("listing cache entry should have been invalidated")
	}
	if c.Get(listing.FeaturedCachePrefix+"home:8unique", &dest) {
		t.Error("featured cache entry should have been invalidated")
	}
	var kept string
	if !c.Get("cms:page:about", &kept) {
		t.Error("unrelated cache entry should have survived")
	}
}

func TestVisibility_MalformedPath(t *testing.T) {
	handlers, _ := newVisibilityFixture(t)

	paths := []string{
		"/admin/detectives//visibility",
		"/admin/detectives/visibility",
		"/admin/detectives/det-1/extra/visibility",
	}

	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()

		handlers.Visibility(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("path %s: expected status 404, got %d", path, w.Code)
		}
	}
}

func TestVisibility_MethodNotAllowed(t *testing.T) {
	handlers, _ := newVisibilityFixture(t)

	req := httptest.NewRequest(http.MethodDelete, "/admin/detectives/det-1/visibility", nil)
	w := httptest.NewRecorder()

	handlers.Visibility(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestRecalculate_Success(t *testing.T) {
	handlers, _ := newVisibilityFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/detectives/det-1/recalculate", nil)
	w := httptest.NewRecorder()

	handlers.Recalculate(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var record visibility.Record
	if err := json.NewDecoder(w.Body).Decode(&record); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	// Level2 (200) + two hours since activity (100)
	if record.VisibilityScore != 300 {
		t.Errorf("expected visibility_score 300, got %d", record.VisibilityScore)
	}
	if record.LastEvaluatedAt.IsZero() {
		t.Error("expected last_evaluated_at to be set")
	}
}

func TestRecalculate_UnknownDetective(t *testing.T) {
	handlers, _ := newVisibilityFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/detectives/det-missing/recalculate", nil)
	w := httptest.NewRecorder()

	handlers.Recalculate(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestRecalculate_MethodNotAllowed(t *testing.T) {
	handlers, _ := newVisibilityFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/detectives/det-1/recalculate", nil)
	w := httptest.NewRecorder()

	handlers.Recalculate(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}
