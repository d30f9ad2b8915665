// Package api provides HTTP handlers for the Detectory API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sleuthsite/detectory/internal/listing"
	"github.com/sleuthsite/detectory/internal/middleware"
)

// ListingHandlers holds dependencies for the public listing HTTP handlers.
type ListingHandlers struct {
	listings *listing.Service
}

// NewListingHandlers creates a new ListingHandlers instance.
func NewListingHandlers(listings *listing.Service) *ListingHandlers {
	return &ListingHandlers{listings: listings}
}

// RankedListingResponse represents the response body for GET /detectives/ranked.
type RankedListingResponse struct {
	Detectives []listing.RankedDetective `json:"detectives"`
	Count      int                       `json:"count"`
}

// FeaturedHomeResponse represents the response body for GET /services/featured-home.
type FeaturedHomeResponse struct {
	Services []listing.FeaturedService `json:"services"`
	Count    int                       `json:"count"`
}

// validateLimit parses the limit query parameter.
// Returns an error message if the value is present but not a positive integer.
func validateLimit(raw string) (int, string) {
	if raw == "" {
		return 0, ""
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, "limit must be a positive integer"
	}
	return limit, ""
}

// RankedDetectives handles GET /detectives/ranked - returns the ranked public listing.
//
// Query parameters:
//   - country: optional exact-match country filter
//   - q: optional case-insensitive business name search
//   - limit: optional positive integer, capped server-side
//
// Anonymous requests are served from cache when possible; authenticated
// requests always see a freshly assembled listing.
func (h *ListingHandlers) RankedDetectives(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	limit, msg := validateLimit(r.URL.Query().Get("limit"))
	if msg != "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidLimit)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidLimit, msg)
		return
	}

	query := listing.Query{
		Country:   strings.TrimSpace(r.URL.Query().Get("country")),
		Search:    strings.TrimSpace(r.URL.Query().Get("q")),
		Limit:     limit,
		Anonymous: middleware.GetUserID(r.Context()) == "",
	}

	detectives, err := h.listings.RankDetectives(r.Context(), query)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to rank detectives", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load listing")
		return
	}

	writeJSON(w, r, http.StatusOK, RankedListingResponse{
		Detectives: detectives,
		Count:      len(detectives),
	})
}

// FeaturedHome handles GET /services/featured-home - returns the featured
// services for the home page, at most one service per detective, in rank order.
func (h *ListingHandlers) FeaturedHome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	anonymous := middleware.GetUserID(r.Context()) == ""

	services, err := h.listings.FeaturedHomeServices(r.Context(), anonymous)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load featured services", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load featured services")
		return
	}

	writeJSON(w, r, http.StatusOK, FeaturedHomeResponse{
		Services: services,
		Count:    len(services),
	})
}

// writeJSON encodes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
