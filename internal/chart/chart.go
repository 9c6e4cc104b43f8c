package chart

import (
	"context"

	"price-tracker/internal/domain"
	"price-tracker/internal/repository"
)

// Point is one plottable (date, price) pair. Dates cross the boundary as
// ISO calendar days.
type Point struct {
	Date  string `json:"date"`
	Price int64  `json:"price"`
}

// Series is a plot-ready price history for one product. Points carries the
// stored price points in stored order, without aggregation or gap filling.
type Series struct {
	ProductID int64   `json:"product_id"`
	Points    []Point `json:"points"`
}

// Projection turns stored price history into plot-ready series.
type Projection struct {
	store repository.PriceStore
}

// NewProjection creates a projection reading from the given store.
func NewProjection(store repository.PriceStore) *Projection {
	return &Projection{store: store}
}

// Project builds the series for one product. A product without history
// yields a series with an empty Points slice so the caller can clear its
// chart instead of treating the product as an error.
func (p *Projection) Project(ctx context.Context, productID int64) (*Series, error) {
	history, err := p.store.PriceHistory(ctx, productID)
	if err != nil {
		return nil, err
	}

	series := &Series{
		ProductID: productID,
		Points:    make([]Point, 0, len(history)),
	}
	for _, point := range history {
		series.Points = append(series.Points, Point{
			Date:  point.Date.Format(domain.DateLayout),
			Price: point.Price,
		})
	}

	return series, nil
}
