package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

// cartItemRow — формат позиции корзины в колонке items (JSONB).
type cartItemRow struct {
	ProductID    string `json:"product_id"`
	StoreID      string `json:"store_id"`
	StoreName    string `json:"store_name"`
	Name         string `json:"name"`
	Image        string `json:"image,omitempty"`
	PriceMinor   int64  `json:"price_minor"`
	AvailableQty int32  `json:"available_qty"`
	Quantity     int32  `json:"quantity"`
}

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{db: store.DB()}
}

func (r *cartRepository) Get(userID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		cart domain.Cart
		raw  []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, store_id, store_name, items, updated_at
		FROM carts
		WHERE user_id = $1
	`, userID).Scan(&cart.UserID, &cart.StoreID, &cart.StoreName, &raw, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("select cart: %w", err)
	}

	var rows []cartItemRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return domain.Cart{}, fmt.Errorf("decode cart items: %w", err)
	}
	for _, row := range rows {
		cart.Items = append(cart.Items, domain.CartItem{
			Product: domain.Product{
				ID:           row.ProductID,
				StoreID:      row.StoreID,
				StoreName:    row.StoreName,
				Name:         row.Name,
				Image:        row.Image,
				PriceMinor:   row.PriceMinor,
				AvailableQty: row.AvailableQty,
			},
			Quantity: row.Quantity,
		})
	}
	cart.UpdatedAt = cart.UpdatedAt.UTC()
	return cart, nil
}

func (r *cartRepository) Save(cart domain.Cart) error {
	if cart.UserID == "" {
		return domain.ErrBuyerRequired
	}

	rows := make([]cartItemRow, 0, len(cart.Items))
	for _, item := range cart.Items {
		rows = append(rows, cartItemRow{
			ProductID:    item.Product.ID,
			StoreID:      item.Product.StoreID,
			StoreName:    item.Product.StoreName,
			Name:         item.Product.Name,
			Image:        item.Product.Image,
			PriceMinor:   item.Product.PriceMinor,
			AvailableQty: item.Product.AvailableQty,
			Quantity:     item.Quantity,
		})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode cart items: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO carts (user_id, store_id, store_name, items, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id) DO UPDATE
		SET store_id = EXCLUDED.store_id,
		    store_name = EXCLUDED.store_name,
		    items = EXCLUDED.items,
		    updated_at = EXCLUDED.updated_at
	`, cart.UserID, cart.StoreID, cart.StoreName, raw, cart.UpdatedAt); err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}
	return nil
}

func (r *cartRepository) Delete(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
