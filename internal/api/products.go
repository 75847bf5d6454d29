package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

type createProductRequest struct {
	ID         string `json:"id" validate:"omitempty,max=128"`
	Name       string `json:"name" validate:"required,max=200"`
	StagingURL string `json:"staging_url" validate:"required,http_url"`
}

type createRouteRequest struct {
	ID           string  `json:"id" validate:"omitempty,max=128"`
	Name         string  `json:"name" validate:"required,max=200"`
	Path         string  `json:"path" validate:"required,startswith=/"`
	FlowName     string  `json:"flow_name" validate:"omitempty,max=200"`
	ParentFlowID *string `json:"parent_flow_id" validate:"omitempty,max=128"`
	FlowLevel    *int    `json:"flow_level" validate:"omitempty,min=0"`
	FlowOrder    *int    `json:"flow_order" validate:"omitempty,min=0"`
}

type connectionRequest struct {
	SourceRouteID string `json:"source_route_id" validate:"required"`
	DestRouteID   string `json:"destination_route_id" validate:"required,nefield=SourceRouteID"`
}

func (s *Server) newID(provided string) (string, error) {
	if id := strings.TrimSpace(provided); id != "" {
		return id, nil
	}
	return s.deps.IDs.NewID()
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.deps.Repo.ListProducts(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "products")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.newID(req.ID)
	if err != nil {
		s.logger.Error("generate product id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	product := screens.Product{
		ID:        id,
		Name:      strings.TrimSpace(req.Name),
		BaseURL:   strings.TrimSpace(req.StagingURL),
		CreatedAt: s.deps.Clock.Now(),
	}
	if err := s.deps.Repo.CreateProduct(r.Context(), product); err != nil {
		s.writeStoreError(w, err, "product")
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.deps.Repo.GetProduct(r.Context(), chi.URLParam(r, "product_id"))
	if err != nil {
		s.writeStoreError(w, err, "product")
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) listRoutes(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

func (s *Server) createRoute(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	var req createRouteRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.newID(req.ID)
	if err != nil {
		s.logger.Error("generate route id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	route := screens.Route{
		ID:           id,
		ProductID:    productID,
		Name:         strings.TrimSpace(req.Name),
		Path:         req.Path,
		FlowName:     strings.TrimSpace(req.FlowName),
		ParentFlowID: req.ParentFlowID,
		FlowLevel:    req.FlowLevel,
		FlowOrder:    req.FlowOrder,
	}
	if err := s.deps.Repo.CreateRoute(r.Context(), route); err != nil {
		what := "route"
		if errors.Is(err, screens.ErrNotFound) {
			what = "product"
		}
		s.writeStoreError(w, err, what)
		return
	}
	writeJSON(w, http.StatusCreated, route)
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	if _, err := s.deps.Repo.GetProduct(r.Context(), productID); err != nil {
		s.writeStoreError(w, err, "product")
		return
	}
	conns, err := s.deps.Repo.ListConnections(r.Context(), productID)
	if err != nil {
		s.writeStoreError(w, err, "connections")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

// addConnection records a navigation edge. Self-loops are rejected; duplicates are accepted and ignored.
func (s *Server) addConnection(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	var req connectionRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.deps.Repo.GetProduct(r.Context(), productID); err != nil {
		s.writeStoreError(w, err, "product")
		return
	}
	for _, routeID := range []string{req.SourceRouteID, req.DestRouteID} {
		route, err := s.deps.Repo.GetRoute(r.Context(), routeID)
		if err == nil && route.ProductID != productID {
			err = screens.ErrNotFound
		}
		if err != nil {
			s.writeStoreError(w, err, "route "+routeID)
			return
		}
	}
	conn := screens.Connection{
		ProductID:     productID,
		SourceRouteID: req.SourceRouteID,
		DestRouteID:   req.DestRouteID,
	}
	if err := s.deps.Repo.AddConnection(r.Context(), conn); err != nil {
		s.writeStoreError(w, err, "connection")
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}
