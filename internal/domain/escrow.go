package domain

import "time"

// EscrowStatus описывает состояние удержанных средств.
type EscrowStatus string

const (
	// EscrowStatusHolding — деньги покупателя удерживаются платформой.
	EscrowStatusHolding EscrowStatus = "holding"
	// EscrowStatusReleased — деньги переведены продавцу.
	EscrowStatusReleased EscrowStatus = "released"
	// EscrowStatusRefunded — деньги возвращены покупателю.
	EscrowStatusRefunded EscrowStatus = "refunded"
)

// Escrow — удержание оплаты заказа до подтверждения получения.
type Escrow struct {
	ID                    string
	OrderID               string
	StoreID               string
	BuyerID               string
	Status                EscrowStatus
	Currency              string
	AmountMinor           int64
	BuyerFeeMinor         int64
	SellerCommissionMinor int64
	PlatformFeeMinor      int64
	SellerAmountMinor     int64
	HoldUntil             time.Time
	ReleasedAt            time.Time
	RefundedAt            time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewEscrow рассчитывает удержание по оплаченному заказу.
// Продавец получает сумму заказа за вычетом сервисного сбора и своей комиссии.
func NewEscrow(id string, order Order, cfg PricingConfig, paidAt time.Time) Escrow {
	buyerFee := order.ServiceFeeMinor
	commission := cfg.SellerCommission(order.SubtotalMinor)
	platformFee := buyerFee + commission

	return Escrow{
		ID:                    id,
		OrderID:               order.ID,
		StoreID:               order.StoreID,
		BuyerID:               order.BuyerID,
		Status:                EscrowStatusHolding,
		Currency:              order.Currency,
		AmountMinor:           order.TotalMinor,
		BuyerFeeMinor:         buyerFee,
		SellerCommissionMinor: commission,
		PlatformFeeMinor:      platformFee,
		SellerAmountMinor:     order.TotalMinor - platformFee,
		HoldUntil:             paidAt.Add(cfg.EscrowHold),
		CreatedAt:             paidAt,
		UpdatedAt:             paidAt,
	}
}

// Due сообщает, что срок удержания истёк.
func (e *Escrow) Due(now time.Time) bool {
	return e.Status == EscrowStatusHolding && !e.HoldUntil.After(now)
}

// Release переводит средства продавцу.
func (e *Escrow) Release(at time.Time) error {
	if e.Status != EscrowStatusHolding {
		return ErrEscrowNotHolding
	}
	e.Status = EscrowStatusReleased
	e.ReleasedAt = at
	e.UpdatedAt = at
	return nil
}

// Refund возвращает средства покупателю.
func (e *Escrow) Refund(at time.Time) error {
	if e.Status != EscrowStatusHolding {
		return ErrEscrowNotHolding
	}
	e.Status = EscrowStatusRefunded
	e.RefundedAt = at
	e.UpdatedAt = at
	return nil
}
