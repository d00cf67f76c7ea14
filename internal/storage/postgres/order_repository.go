package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

const orderColumns = `
	id, number, buyer_id, store_id, store_name, status, currency,
	subtotal_minor, service_fee_minor, delivery_fee_minor, discount_minor, total_minor,
	delivery_method, delivery_address, delivery_notes, buyer_note, buyer_phone,
	institution_id, hall_id, payment_method, payment_provider, payment_ref, cancel_reason,
	version, created_at, updated_at,
	paid_at, shipped_at, delivered_at, completed_at, cancelled_at, refunded_at`

const escrowColumns = `
	id, order_id, store_id, buyer_id, status, currency,
	amount_minor, buyer_fee_minor, seller_commission_minor, platform_fee_minor, seller_amount_minor,
	hold_until, released_at, refunded_at, created_at, updated_at`

// queryer — общее подмножество *sql.DB и *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner — общее подмножество *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
		        $21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32)
	`,
		order.ID, order.Number, order.BuyerID, order.StoreID, order.StoreName, string(order.Status), order.Currency,
		order.SubtotalMinor, order.ServiceFeeMinor, order.DeliveryFeeMinor, order.DiscountMinor, order.TotalMinor,
		string(order.DeliveryMethod), order.DeliveryAddress, order.DeliveryNotes, order.BuyerNote, order.BuyerPhone,
		order.InstitutionID, order.HallID, string(order.PaymentMethod), string(order.PaymentProvider), order.PaymentRef, order.CancelReason,
		order.Version, order.CreatedAt, order.UpdatedAt,
		nullTime(order.PaidAt), nullTime(order.ShippedAt), nullTime(order.DeliveredAt),
		nullTime(order.CompletedAt), nullTime(order.CancelledAt), nullTime(order.RefundedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, product_id, name, image, unit_price_minor, quantity
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
			item.ID, order.ID, i, item.ProductID, item.Name, item.Image, item.UnitPriceMinor, item.Quantity,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	items, err := loadItems(ctx, r.db, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items
	return order, nil
}

func (r *orderRepository) ListByBuyer(buyerID string, limit int) ([]domain.Order, error) {
	return r.list("buyer_id", buyerID, limit)
}

func (r *orderRepository) ListByStore(storeID string, limit int) ([]domain.Order, error) {
	return r.list("store_id", storeID, limit)
}

func (r *orderRepository) Save(order domain.Order) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = updateOrderTx(ctx, tx, order); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order: %w", err)
	}
	return nil
}

// SaveWithEscrow обновляет заказ и удержание в одной транзакции.
func (r *orderRepository) SaveWithEscrow(order domain.Order, escrow domain.Escrow) (err error) {
	if escrow.OrderID != order.ID {
		return domain.ErrEscrowNotFound
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = updateOrderTx(ctx, tx, order); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO escrows (`+escrowColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (order_id) DO UPDATE
		SET status = EXCLUDED.status,
		    released_at = EXCLUDED.released_at,
		    refunded_at = EXCLUDED.refunded_at,
		    updated_at = EXCLUDED.updated_at
	`,
		escrow.ID, escrow.OrderID, escrow.StoreID, escrow.BuyerID, string(escrow.Status), escrow.Currency,
		escrow.AmountMinor, escrow.BuyerFeeMinor, escrow.SellerCommissionMinor, escrow.PlatformFeeMinor, escrow.SellerAmountMinor,
		escrow.HoldUntil, nullTime(escrow.ReleasedAt), nullTime(escrow.RefundedAt), escrow.CreatedAt, escrow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert escrow: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save order with escrow: %w", err)
	}
	return nil
}

func (r *orderRepository) GetEscrow(orderID string) (domain.Escrow, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	escrow, err := scanEscrow(r.db.QueryRowContext(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE order_id = $1`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Escrow{}, domain.ErrEscrowNotFound
		}
		return domain.Escrow{}, fmt.Errorf("select escrow: %w", err)
	}
	return escrow, nil
}

func (r *orderRepository) ListDueEscrows(before time.Time, limit int) ([]domain.Escrow, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+escrowColumns+`
		FROM escrows
		WHERE status = $1 AND hold_until <= $2
		ORDER BY hold_until ASC, order_id ASC
		LIMIT $3
	`, string(domain.EscrowStatusHolding), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list due escrows: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Escrow, 0)
	for rows.Next() {
		escrow, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escrow row: %w", err)
		}
		result = append(result, escrow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escrow rows: %w", err)
	}
	return result, nil
}

func (r *orderRepository) list(column, value string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + column + ` = $1 ORDER BY created_at DESC, id DESC`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", value, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, value)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	rows.Close()

	// Позиции грузим после закрытия курсора, чтобы не держать два запроса на одном соединении.
	for i := range orders {
		items, err := loadItems(ctx, r.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func updateOrderTx(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_method = $2,
		    payment_provider = $3,
		    payment_ref = $4,
		    cancel_reason = $5,
		    version = version + 1,
		    updated_at = $6,
		    paid_at = $7,
		    shipped_at = $8,
		    delivered_at = $9,
		    completed_at = $10,
		    cancelled_at = $11,
		    refunded_at = $12
		WHERE id = $13
		  AND version = $14
	`,
		string(order.Status),
		string(order.PaymentMethod),
		string(order.PaymentProvider),
		order.PaymentRef,
		order.CancelReason,
		order.UpdatedAt,
		nullTime(order.PaidAt),
		nullTime(order.ShippedAt),
		nullTime(order.DeliveredAt),
		nullTime(order.CompletedAt),
		nullTime(order.CancelledAt),
		nullTime(order.RefundedAt),
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := orderExists(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}
	return nil
}

func loadItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, name, image, unit_price_minor, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Name, &item.Image, &item.UnitPriceMinor, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                                  domain.Order
		status, method, payMethod, payProvider string
		paid, shipped, delivered, completed    sql.NullTime
		cancelled, refunded                    sql.NullTime
	)

	if err := row.Scan(
		&order.ID, &order.Number, &order.BuyerID, &order.StoreID, &order.StoreName, &status, &order.Currency,
		&order.SubtotalMinor, &order.ServiceFeeMinor, &order.DeliveryFeeMinor, &order.DiscountMinor, &order.TotalMinor,
		&method, &order.DeliveryAddress, &order.DeliveryNotes, &order.BuyerNote, &order.BuyerPhone,
		&order.InstitutionID, &order.HallID, &payMethod, &payProvider, &order.PaymentRef, &order.CancelReason,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
		&paid, &shipped, &delivered, &completed, &cancelled, &refunded,
	); err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(status)
	order.DeliveryMethod = domain.DeliveryMethod(method)
	order.PaymentMethod = domain.PaymentMethod(payMethod)
	order.PaymentProvider = domain.MobileMoneyProvider(payProvider)
	order.PaidAt = fromNullTime(paid)
	order.ShippedAt = fromNullTime(shipped)
	order.DeliveredAt = fromNullTime(delivered)
	order.CompletedAt = fromNullTime(completed)
	order.CancelledAt = fromNullTime(cancelled)
	order.RefundedAt = fromNullTime(refunded)
	return order, nil
}

func scanEscrow(row rowScanner) (domain.Escrow, error) {
	var (
		escrow             domain.Escrow
		status             string
		released, refunded sql.NullTime
	)

	if err := row.Scan(
		&escrow.ID, &escrow.OrderID, &escrow.StoreID, &escrow.BuyerID, &status, &escrow.Currency,
		&escrow.AmountMinor, &escrow.BuyerFeeMinor, &escrow.SellerCommissionMinor, &escrow.PlatformFeeMinor, &escrow.SellerAmountMinor,
		&escrow.HoldUntil, &released, &refunded, &escrow.CreatedAt, &escrow.UpdatedAt,
	); err != nil {
		return domain.Escrow{}, err
	}

	escrow.Status = domain.EscrowStatus(status)
	escrow.ReleasedAt = fromNullTime(released)
	escrow.RefundedAt = fromNullTime(refunded)
	return escrow, nil
}

func orderExists(ctx context.Context, q queryer, orderID string) (bool, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
