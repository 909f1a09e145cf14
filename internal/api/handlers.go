package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nexusai/promptgate/internal/model"
	"github.com/nexusai/promptgate/internal/sweep"
)

// ---------------------------------------------------------------------------
// POST /api/products
// ---------------------------------------------------------------------------

// createProductRequest mirrors the field shape the upstream generator writes.
type createProductRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Price          *float64 `json:"price"`
	Currency       string   `json:"currency"`
	ProductType    string   `json:"productType"`
	Tags           []string `json:"tags"`
	PromptCount    *int     `json:"promptCount"`
	CoverURL       string   `json:"coverUrl"`
	ArtifactPath   string   `json:"artifactPath"`
	ArtifactURL    string   `json:"artifactUrl"`
	ProductGroupID string   `json:"productGroupId"`
	VariantOf      string   `json:"variantOf"`
	Source         string   `json:"source"`
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	p := model.NewProduct(uuid.New().String())
	p.Title = req.Title
	p.Description = req.Description
	p.Price = req.Price
	p.Currency = req.Currency
	p.ProductType = req.ProductType
	p.Tags = req.Tags
	p.PromptCount = req.PromptCount
	p.CoverURL = req.CoverURL
	p.ArtifactPath = req.ArtifactPath
	p.ArtifactURL = req.ArtifactURL
	p.ProductGroupID = req.ProductGroupID
	p.VariantOf = req.VariantOf
	p.Source = req.Source

	if err := s.store.CreateProduct(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create product")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":     p.ID,
		"status": p.Status,
	})
}

// ---------------------------------------------------------------------------
// GET /api/products
// ---------------------------------------------------------------------------

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	filter := model.ProductFilter{
		Status: splitComma(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	products, err := s.store.ListProducts(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

// ---------------------------------------------------------------------------
// GET /api/products/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	p, err := s.store.GetProduct(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get product")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// ---------------------------------------------------------------------------
// POST /api/products/{id}/evaluate
// ---------------------------------------------------------------------------

// handleEvaluate triggers an on-demand single-record check. It bypasses the
// sweep throttle: the throttle belongs to the scheduler, not the evaluator.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	result, err := s.gate.EvaluateOne(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ---------------------------------------------------------------------------
// POST /api/sweep
// ---------------------------------------------------------------------------

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.gate.SweepOnce(r.Context())
	if errors.Is(err, sweep.ErrSweepInProgress) {
		writeError(w, http.StatusConflict, "sweep already in progress")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"processed": n})
}

// ---------------------------------------------------------------------------
// GET /api/health
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	resp := map[string]interface{}{
		"status": "ok",
		"counts": counts,
	}
	if last := s.gate.LastSweep(); !last.IsZero() {
		resp["last_sweep"] = last.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}
