// Package api provides HTTP handlers for the Detectory API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sleuthsite/detectory/internal/detective"
	"github.com/sleuthsite/detectory/internal/middleware"
	"github.com/sleuthsite/detectory/internal/visibility"
)

// UpdateVisibilityRequest represents the request body for updating a
// detective's visibility override. Absent fields leave the current value
// untouched. manual_rank distinguishes "absent" (unchanged) from an explicit
// null (clear the manual rank).
type UpdateVisibilityRequest struct {
	IsVisible  *bool            `json:"is_visible,omitempty"`
	IsFeatured *bool            `json:"is_featured,omitempty"`
	ManualRank *json.RawMessage `json:"manual_rank,omitempty"`
}

// VisibilityHandlers holds dependencies for the admin visibility HTTP handlers.
type VisibilityHandlers struct {
	visibility *visibility.Service
}

// NewVisibilityHandlers creates a new VisibilityHandlers instance.
func NewVisibilityHandlers(svc *visibility.Service) *VisibilityHandlers {
	return &VisibilityHandlers{visibility: svc}
}

// detectiveIDFromPath extracts the detective ID from paths of the form
// /admin/detectives/{id}/<suffix>. Returns empty string if the path does not
// match.
func detectiveIDFromPath(path, suffix string) string {
	rest, ok := strings.CutPrefix(path, "/admin/detectives/")
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, "/"+suffix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return ""
	}
	return id
}

// Visibility handles GET and PUT /admin/detectives/{id}/visibility.
func (h *VisibilityHandlers) Visibility(w http.ResponseWriter, r *http.Request) {
	id := detectiveIDFromPath(r.URL.Path, "visibility")
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getVisibility(w, r, id)
	case http.MethodPut:
		h.putVisibility(w, r, id)
	default:
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
	}
}

// getVisibility returns the current override record for a detective.
// A detective that exists but has never been touched by an admin returns the
// lazy-creation defaults without persisting anything.
func (h *VisibilityHandlers) getVisibility(w http.ResponseWriter, r *http.Request, id string) {
	record, err := h.visibility.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, visibility.ErrRecordNotFound) {
			// Detective exists but no admin has touched it: report the
			// lazy-creation defaults without persisting anything.
			writeJSON(w, r, http.StatusOK, visibility.NewRecord(id))
			return
		}
		h.writeServiceError(w, r, id, err)
		return
	}

	writeJSON(w, r, http.StatusOK, record)
}

// putVisibility applies an admin override update.
func (h *VisibilityHandlers) putVisibility(w http.ResponseWriter, r *http.Request, id string) {
	var req UpdateVisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON request body")
		return
	}

	update := visibility.Update{
		IsVisible:  req.IsVisible,
		IsFeatured: req.IsFeatured,
	}

	if req.ManualRank != nil {
		raw := strings.TrimSpace(string(*req.ManualRank))
		if raw == "null" {
			// Explicit null clears the manual rank.
			var cleared *int
			update.ManualRank = &cleared
		} else {
			var rank int
			if err := json.Unmarshal(*req.ManualRank, &rank); err != nil {
				ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidManualRank)
				WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidManualRank, "manual_rank must be an integer or null")
				return
			}
			rankPtr := &rank
			update.ManualRank = &rankPtr
		}
	}

	record, err := h.visibility.SetOverride(r.Context(), id, update)
	if err != nil {
		h.writeServiceError(w, r, id, err)
		return
	}

	writeJSON(w, r, http.StatusOK, record)
}

// Recalculate handles POST /admin/detectives/{id}/recalculate - recomputes
// and persists the detective's visibility score for display.
func (h *VisibilityHandlers) Recalculate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	id := detectiveIDFromPath(r.URL.Path, "recalculate")
	if id == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
		return
	}

	record, err := h.visibility.Recalculate(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, id, err)
		return
	}

	writeJSON(w, r, http.StatusOK, record)
}

// writeServiceError maps visibility service errors to API error responses.
func (h *VisibilityHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, detective.ErrDetectiveNotFound):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeDetectiveNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeDetectiveNotFound, "Detective not found")
	case errors.Is(err, visibility.ErrManualRankRange):
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidManualRank)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidManualRank, "manual_rank must be between 0 and 1000")
	default:
		slog.ErrorContext(r.Context(), "visibility operation failed", "detective_id", id, "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Visibility operation failed")
	}
}
