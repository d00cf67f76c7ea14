package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

type refundRepository struct {
	db *sql.DB
}

// NewRefundRepository создаёт PostgreSQL-реализацию RefundRepository.
func NewRefundRepository(store *Store) domain.RefundRepository {
	return &refundRepository{db: store.DB()}
}

// Create сохраняет заявку. Вторую открытую заявку по заказу отсекает частичный уникальный индекс.
func (r *refundRepository) Create(req domain.RefundRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refund_requests (
			id, order_id, buyer_id, reason, status, review_note, created_at, resolved_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		req.ID, req.OrderID, req.BuyerID, req.Reason, string(req.Status), req.ReviewNote,
		req.CreatedAt, nullTime(req.ResolvedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrRefundAlreadyRequested
		}
		return fmt.Errorf("insert refund request: %w", err)
	}
	return nil
}

func (r *refundRepository) Get(id string) (domain.RefundRequest, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	req, err := scanRefund(r.db.QueryRowContext(ctx, `
		SELECT id, order_id, buyer_id, reason, status, review_note, created_at, resolved_at
		FROM refund_requests
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RefundRequest{}, domain.ErrRefundRequestNotFound
		}
		return domain.RefundRequest{}, fmt.Errorf("select refund request: %w", err)
	}
	return req, nil
}

func (r *refundRepository) ListByOrder(orderID string) ([]domain.RefundRequest, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, buyer_id, reason, status, review_note, created_at, resolved_at
		FROM refund_requests
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list refund requests: %w", err)
	}
	defer rows.Close()

	result := make([]domain.RefundRequest, 0)
	for rows.Next() {
		req, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refund request: %w", err)
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund requests: %w", err)
	}
	return result, nil
}

func (r *refundRepository) Save(req domain.RefundRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE refund_requests
		SET status = $1,
		    review_note = $2,
		    resolved_at = $3
		WHERE id = $4
	`, string(req.Status), req.ReviewNote, nullTime(req.ResolvedAt), req.ID)
	if err != nil {
		return fmt.Errorf("update refund request: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("refund rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrRefundRequestNotFound
	}
	return nil
}

func scanRefund(row rowScanner) (domain.RefundRequest, error) {
	var (
		req      domain.RefundRequest
		status   string
		resolved sql.NullTime
	)
	if err := row.Scan(&req.ID, &req.OrderID, &req.BuyerID, &req.Reason, &status, &req.ReviewNote, &req.CreatedAt, &resolved); err != nil {
		return domain.RefundRequest{}, err
	}
	req.Status = domain.RefundRequestStatus(status)
	req.ResolvedAt = fromNullTime(resolved)
	return req, nil
}

var _ domain.RefundRepository = (*refundRepository)(nil)
