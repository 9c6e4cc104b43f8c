package server

import (
	"fmt"
	"net/http"
	"time"

	"price-tracker/internal/chart"
	"price-tracker/internal/config"
	"price-tracker/internal/database"
	custommiddleware "price-tracker/internal/middleware"
	"price-tracker/internal/pipeline"
	"price-tracker/internal/repository"
	"price-tracker/internal/source"
	"price-tracker/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Server struct {
	*http.Server
	config   *config.Config
	logger   *zap.Logger
	catalogs *database.Manager
}

func NewServer(cfg *config.Config, logger *zap.Logger, catalogs *database.Manager) *Server {
	// Create router
	router := chi.NewRouter()

	// Add basic middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(nil, cfg.Server.Env != "production"))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))

	// Health check endpoint
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Initialize the ingestion core
	store := repository.NewPriceStore(catalogs)
	card := source.NewClient(cfg.Source.BaseURL, cfg.Source.Timeout, logger)
	ingest := pipeline.New(card, store, cfg.Batch.Delay, logger)
	projection := chart.NewProjection(store)

	// Initialize handlers
	productHandler := transport.NewProductHandler(ingest, store, projection, catalogs, logger)
	productHandler.RegisterRoutes(router)

	server := &Server{
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:     router,
			IdleTimeout: time.Minute,
			ReadTimeout: 10 * time.Second,
			// Batch refresh streams stay open for the whole run:
			// N articles times the inter-article delay plus fetch time.
			WriteTimeout: 0,
		},
		config:   cfg,
		logger:   logger,
		catalogs: catalogs,
	}

	return server
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	// Close the active catalog store
	if s.catalogs != nil {
		if err := s.catalogs.Close(); err != nil {
			s.logger.Error("Failed to close catalog store", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}
