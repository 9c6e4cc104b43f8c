package source

import (
	"context"
	"fmt"

	"price-tracker/internal/domain"
)

// Source fetches the current state of a single catalog item.
type Source interface {
	Fetch(ctx context.Context, article int64) (*domain.Snapshot, error)
}

// FetchError means the current state of an item could not be determined:
// transport failure, timeout, malformed payload or the item missing from the
// response. It is not the same as the item being out of stock.
type FetchError struct {
	Article int64
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch article %d: %v", e.Article, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
