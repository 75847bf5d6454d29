package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/screenwatch/internal/flows"
)

const (
	defaultCaptureLimit = 20
	maxCaptureLimit     = 200
)

var errInvalidLimit = errors.New("limit must be a positive integer")

type flowsResponse struct {
	ProductID string `json:"product_id"`
	flows.Overview
}

func (s *Server) getFlows(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	if _, err := s.deps.Repo.GetProduct(r.Context(), productID); err != nil {
		s.writeStoreError(w, err, "product")
		return
	}
	routes, err := s.deps.Repo.ListRoutes(r.Context(), productID)
	if err != nil {
		s.writeStoreError(w, err, "routes")
		return
	}
	conns, err := s.deps.Repo.ListConnections(r.Context(), productID)
	if err != nil {
		s.writeStoreError(w, err, "connections")
		return
	}
	writeJSON(w, http.StatusOK, flowsResponse{ProductID: productID, Overview: flows.Describe(routes, conns)})
}

func (s *Server) listCaptures(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "route_id")
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.deps.Repo.GetRoute(r.Context(), routeID); err != nil {
		s.writeStoreError(w, err, "route")
		return
	}
	captures, err := s.deps.Repo.ListCaptures(r.Context(), routeID, limit)
	if err != nil {
		s.writeStoreError(w, err, "captures")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"route_id": routeID, "captures": captures})
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Repo.Summarize(r.Context(), chi.URLParam(r, "product_id"))
	if err != nil {
		s.writeStoreError(w, err, "product")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultCaptureLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errInvalidLimit
	}
	if limit > maxCaptureLimit {
		limit = maxCaptureLimit
	}
	return limit, nil
}
