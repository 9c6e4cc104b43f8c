package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"price-tracker/internal/domain"
)

var ErrNoStore = errors.New("no catalog store is open")

// StorageError marks a failed store operation. A batch refresh treats it as
// fatal, unlike a per-item fetch failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DBProvider hands out the connection of the currently selected catalog.
// It returns nil when no catalog is open.
type DBProvider interface {
	DB() *sql.DB
}

// PriceStore reads and writes tracked products and their price history.
type PriceStore interface {
	UpsertSnapshot(ctx context.Context, snap *domain.Snapshot) error
	ListProducts(ctx context.Context, onlyAvailable bool) ([]*domain.Product, error)
	ListProductIDs(ctx context.Context) ([]int64, error)
	PriceHistory(ctx context.Context, productID int64) ([]*domain.PricePoint, error)
}

type priceStore struct {
	db DBProvider
	// now lets tests pin the snapshot day.
	now func() time.Time
}

// NewPriceStore creates a PriceStore over the provider's current catalog.
func NewPriceStore(db DBProvider) PriceStore {
	return &priceStore{db: db, now: time.Now}
}

func (s *priceStore) conn() (*sql.DB, error) {
	db := s.db.DB()
	if db == nil {
		return nil, &StorageError{Op: "connect", Err: ErrNoStore}
	}
	return db, nil
}

// UpsertSnapshot commits one fetch result atomically: the product row is
// inserted if absent (existing name and brand are kept), availability is set
// from the snapshot, and when a price is present today's price point is
// written, overwriting an earlier same-day point.
func (s *priceStore) UpsertSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "begin upsert", Err: err}
	}
	defer tx.Rollback()

	available := snap.Available()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, name, brand, available)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, snap.ID, snap.Name, snap.Brand, available)
	if err != nil {
		return &StorageError{Op: "insert product", Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE products SET available = $2 WHERE id = $1
	`, snap.ID, available)
	if err != nil {
		return &StorageError{Op: "update availability", Err: err}
	}

	if snap.Price != nil {
		today := s.now().Format(domain.DateLayout)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO price_history (product_id, date, price)
			VALUES ($1, $2, $3)
			ON CONFLICT (product_id, date) DO UPDATE SET price = EXCLUDED.price
		`, snap.ID, today, *snap.Price)
		if err != nil {
			return &StorageError{Op: "write price point", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "commit upsert", Err: err}
	}

	return nil
}

// ListProducts returns all tracked products joined with their most recent
// price point. With onlyAvailable, out-of-stock products are dropped;
// otherwise they sort last.
func (s *priceStore) ListProducts(ctx context.Context, onlyAvailable bool) ([]*domain.Product, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	query := `
		SELECT p.id, p.name, p.brand, p.available, latest.price, latest.date
		FROM products p
		LEFT JOIN LATERAL (
			SELECT price, date
			FROM price_history ph
			WHERE ph.product_id = p.id
			ORDER BY date DESC
			LIMIT 1
		) latest ON true
	`
	if onlyAvailable {
		query += ` WHERE p.available ORDER BY p.id`
	} else {
		query += ` ORDER BY p.available DESC, p.id`
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, &StorageError{Op: "list products", Err: err}
	}
	defer rows.Close()

	products := []*domain.Product{}
	for rows.Next() {
		product := &domain.Product{}
		var price sql.NullInt64
		var date sql.NullTime
		if err := rows.Scan(&product.ID, &product.Name, &product.Brand, &product.Available, &price, &date); err != nil {
			return nil, &StorageError{Op: "scan product", Err: err}
		}
		if price.Valid {
			v := price.Int64
			product.LatestPrice = &v
		}
		if date.Valid {
			d := date.Time
			product.LatestDate = &d
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "iterate products", Err: err}
	}

	return products, nil
}

// ListProductIDs returns every tracked product id in ascending order. A batch
// refresh of the whole catalog starts from this list.
func (s *priceStore) ListProductIDs(ctx context.Context) ([]int64, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT id FROM products ORDER BY id`)
	if err != nil {
		return nil, &StorageError{Op: "list product ids", Err: err}
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, &StorageError{Op: "scan product id", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "iterate product ids", Err: err}
	}

	return ids, nil
}

// PriceHistory returns every price point of a product in ascending date
// order. A product without history yields an empty slice, not an error.
func (s *priceStore) PriceHistory(ctx context.Context, productID int64) ([]*domain.PricePoint, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT product_id, date, price
		FROM price_history
		WHERE product_id = $1
		ORDER BY date
	`, productID)
	if err != nil {
		return nil, &StorageError{Op: "read price history", Err: err}
	}
	defer rows.Close()

	points := []*domain.PricePoint{}
	for rows.Next() {
		point := &domain.PricePoint{}
		if err := rows.Scan(&point.ProductID, &point.Date, &point.Price); err != nil {
			return nil, &StorageError{Op: "scan price point", Err: err}
		}
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "iterate price history", Err: err}
	}

	return points, nil
}
