package domain

import (
	"strings"
	"time"
)

// RefundRequestStatus — состояние заявки на возврат.
type RefundRequestStatus string

const (
	RefundRequestPending  RefundRequestStatus = "pending"
	RefundRequestApproved RefundRequestStatus = "approved"
	RefundRequestRejected RefundRequestStatus = "rejected"
)

// RefundRequest — заявка покупателя на возврат. Статус заказа меняется
// только после одобрения заявки.
type RefundRequest struct {
	ID         string
	OrderID    string
	BuyerID    string
	Reason     string
	Status     RefundRequestStatus
	ReviewNote string
	CreatedAt  time.Time
	ResolvedAt time.Time
}

// NewRefundRequest создаёт заявку в статусе pending.
func NewRefundRequest(id, orderID, buyerID, reason string, at time.Time) (RefundRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return RefundRequest{}, ErrReasonRequired
	}
	return RefundRequest{
		ID:        id,
		OrderID:   orderID,
		BuyerID:   buyerID,
		Reason:    reason,
		Status:    RefundRequestPending,
		CreatedAt: at,
	}, nil
}

// Open сообщает, что заявка ещё не рассмотрена.
func (r *RefundRequest) Open() bool {
	return r.Status == RefundRequestPending
}

// Resolve фиксирует решение по заявке.
func (r *RefundRequest) Resolve(approve bool, note string, at time.Time) error {
	if !r.Open() {
		return ErrRefundRequestResolved
	}
	if approve {
		r.Status = RefundRequestApproved
	} else {
		r.Status = RefundRequestRejected
	}
	r.ReviewNote = strings.TrimSpace(note)
	r.ResolvedAt = at
	return nil
}
