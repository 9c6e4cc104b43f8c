package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"price-tracker/internal/chart"
	"price-tracker/internal/database"
	"price-tracker/internal/domain"
	"price-tracker/internal/middleware"
	"price-tracker/internal/pipeline"
	"price-tracker/internal/repository"
	"price-tracker/internal/source"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// RefreshRequest selects the articles of a batch refresh. An empty list
// refreshes every tracked product.
type RefreshRequest struct {
	Articles []int64 `json:"articles" validate:"omitempty,dive,gt=0"`
}

// SwitchCatalogRequest selects the active catalog store.
type SwitchCatalogRequest struct {
	Name string `json:"name" validate:"required"`
}

// CatalogsResponse lists selectable catalogs and the active one.
type CatalogsResponse struct {
	Catalogs []string `json:"catalogs"`
	Current  string   `json:"current"`
}

// ProductResponse is a tracked product row for the UI table.
type ProductResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Brand       string  `json:"brand"`
	Available   bool    `json:"available"`
	LatestPrice *int64  `json:"latest_price"`
	LatestDate  *string `json:"latest_date"`
}

// PricePointResponse is one price history row with an ISO calendar date.
type PricePointResponse struct {
	Date  string `json:"date"`
	Price int64  `json:"price"`
}

// ProductHandler handles HTTP requests for the price tracking core
type ProductHandler struct {
	pipeline *pipeline.Pipeline
	store    repository.PriceStore
	chart    *chart.Projection
	catalogs *database.Manager
	logger   *zap.Logger
}

// NewProductHandler creates a new ProductHandler
func NewProductHandler(
	pl *pipeline.Pipeline,
	store repository.PriceStore,
	projection *chart.Projection,
	catalogs *database.Manager,
	logger *zap.Logger,
) *ProductHandler {
	return &ProductHandler{
		pipeline: pl,
		store:    store,
		chart:    projection,
		catalogs: catalogs,
		logger:   logger,
	}
}

// RegisterRoutes registers all product routes
func (h *ProductHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Post("/products/{article}/refresh", h.RefreshProduct)
		r.Get("/products/{article}/history", h.GetPriceHistory)
		r.Get("/products/{article}/chart", h.GetChart)

		r.Post("/refresh", h.RefreshMany)

		r.Get("/catalogs", h.ListCatalogs)
		r.Put("/catalogs/current", h.SwitchCatalog)
	})
}

// ListProducts returns tracked products with their latest prices
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	onlyAvailable := r.URL.Query().Get("available") == "true"

	products, err := h.store.ListProducts(r.Context(), onlyAvailable)
	if err != nil {
		h.respondError(w, "failed to list products", err)
		return
	}

	response := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		response = append(response, toProductResponse(p))
	}

	middleware.RespondWithJSON(w, http.StatusOK, response)
}

// RefreshProduct fetches the current state of one article and persists it
func (h *ProductHandler) RefreshProduct(w http.ResponseWriter, r *http.Request) {
	article, err := parseArticle(r)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "article must be a positive integer")
		return
	}

	snap, err := h.pipeline.FetchOne(r.Context(), article)
	if err != nil {
		h.respondError(w, "failed to refresh product", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, snap)
}

// GetPriceHistory returns the full price history of a product, oldest first
func (h *ProductHandler) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	article, err := parseArticle(r)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "article must be a positive integer")
		return
	}

	history, err := h.store.PriceHistory(r.Context(), article)
	if err != nil {
		h.respondError(w, "failed to read price history", err)
		return
	}

	response := make([]PricePointResponse, 0, len(history))
	for _, point := range history {
		response = append(response, PricePointResponse{
			Date:  point.Date.Format(domain.DateLayout),
			Price: point.Price,
		})
	}

	middleware.RespondWithJSON(w, http.StatusOK, response)
}

// GetChart returns the plot-ready series of a product. Products without
// history get an empty series, not an error.
func (h *ProductHandler) GetChart(w http.ResponseWriter, r *http.Request) {
	article, err := parseArticle(r)
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "article must be a positive integer")
		return
	}

	series, err := h.chart.Project(r.Context(), article)
	if err != nil {
		h.respondError(w, "failed to build chart series", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, series)
}

// RefreshMany starts a batch refresh and streams its events as NDJSON lines
// until the terminating completed event. An empty or absent article list
// refreshes every tracked product.
func (h *ProductHandler) RefreshMany(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil && !errors.Is(err, io.EOF) {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		events <-chan pipeline.Event
		err    error
	)
	if len(req.Articles) == 0 {
		events, err = h.pipeline.RefreshAll(r.Context())
	} else {
		events, err = h.pipeline.FetchMany(r.Context(), req.Articles)
	}
	if err != nil {
		h.respondError(w, "failed to start batch refresh", err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	encoder := json.NewEncoder(w)
	for event := range events {
		if err := encoder.Encode(event); err != nil {
			// Client went away; the pipeline stops via the request context.
			h.logger.Debug("event stream closed by client", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// ListCatalogs returns the selectable catalog stores
func (h *ProductHandler) ListCatalogs(w http.ResponseWriter, r *http.Request) {
	catalogs, err := h.catalogs.ListCatalogs(r.Context())
	if err != nil {
		h.respondError(w, "failed to list catalogs", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, CatalogsResponse{
		Catalogs: catalogs,
		Current:  h.catalogs.Catalog(),
	})
}

// SwitchCatalog closes the active catalog store and opens the named one
func (h *ProductHandler) SwitchCatalog(w http.ResponseWriter, r *http.Request) {
	var req SwitchCatalogRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The batch is the only other writer; never yank the store out from
	// under it.
	if h.pipeline.Running() {
		middleware.RespondWithError(w, http.StatusConflict, "a batch refresh is in flight")
		return
	}

	if err := h.catalogs.Switch(r.Context(), req.Name); err != nil {
		if errors.Is(err, database.ErrInvalidCatalog) {
			middleware.RespondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondError(w, "failed to switch catalog", err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, map[string]string{
		"current": h.catalogs.Catalog(),
	})
}

// respondError maps core errors onto HTTP statuses: validation problems are
// 400, a busy pipeline is 409, fetch failures are 502 and storage failures
// stay 500.
func (h *ProductHandler) respondError(w http.ResponseWriter, msg string, err error) {
	var fetchErr *source.FetchError
	var storageErr *repository.StorageError

	switch {
	case errors.Is(err, pipeline.ErrInvalidArticle), errors.Is(err, pipeline.ErrEmptyBatch):
		middleware.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrBatchInFlight):
		middleware.RespondWithError(w, http.StatusConflict, err.Error())
	case errors.As(err, &fetchErr):
		h.logger.Warn(msg, zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadGateway, "could not determine current product state")
	case errors.As(err, &storageErr):
		h.logger.Error(msg, zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "storage failure")
	default:
		h.logger.Error(msg, zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, msg)
	}
}

func parseArticle(r *http.Request) (int64, error) {
	article, err := strconv.ParseInt(chi.URLParam(r, "article"), 10, 64)
	if err != nil {
		return 0, err
	}
	if article <= 0 {
		return 0, pipeline.ErrInvalidArticle
	}
	return article, nil
}

func toProductResponse(p *domain.Product) ProductResponse {
	resp := ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Brand:       p.Brand,
		Available:   p.Available,
		LatestPrice: p.LatestPrice,
	}
	if p.LatestDate != nil {
		date := p.LatestDate.Format(domain.DateLayout)
		resp.LatestDate = &date
	}
	return resp
}
