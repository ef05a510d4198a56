// Package transport provides HTTP handlers for the verification run history.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/contraverify/internal/storage"
	"github.com/pendergraft/contraverify/internal/validation"
)

// Service defines the run history the HTTP transport reads from.
type Service interface {
	GetRun(ctx context.Context, id string) (*storage.Run, error)
	ListRuns(ctx context.Context, filter storage.RunFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Run], error)
	ListResultsByAddress(ctx context.Context, network, address string, limit int) ([]storage.Result, error)
}

// Handler handles HTTP requests for the run history.
type Handler struct {
	svc Service
}

// NewHandler creates a new run history HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the history routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/runs", h.handleListRuns)
	r.Get("/runs/{id}", h.handleGetRun)
	r.Get("/contracts/{address}", h.handleContractHistory)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	result, err := h.svc.ListRuns(r.Context(), storage.RunFilter{
		Network: r.URL.Query().Get("network"),
	}, storage.PaginationParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid cursor")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs")
		return
	}

	data := make([]RunSummary, len(result.Data))
	for i, run := range result.Data {
		data[i] = NewRunSummary(run)
	}

	writeJSON(w, http.StatusOK, RunListResponse{
		Data: data,
		Pagination: Pagination{
			Limit:      limit,
			HasMore:    result.HasMore,
			NextCursor: result.NextCursor,
		},
	})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, NewRunResponse(*run))
}

func (h *Handler) handleContractHistory(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if err := validation.ValidateAddress(address); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	results, err := h.svc.ListResultsByAddress(r.Context(), r.URL.Query().Get("network"), address, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list contract history")
		return
	}

	data := make([]ResultResponse, len(results))
	for i, res := range results {
		data[i] = NewResultResponse(res)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"data":    data,
	})
}

func parseLimit(r *http.Request) int {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return limit
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}
