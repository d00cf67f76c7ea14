package domain

import (
	"fmt"
	"time"
)

// OrderStatus описывает жизненный цикл заказа на витрине.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid — оплата подтверждена, деньги удерживаются платформой.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusProcessing — продавец собирает заказ.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — продавец отметил вручение, ждём подтверждения покупателя.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCompleted — покупатель подтвердил получение, средства переведены продавцу.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled — заказ отменён до отправки.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded — средства возвращены покупателю.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusDisputed — по заказу открыт спор, решение принимается вне системы.
	OrderStatusDisputed OrderStatus = "disputed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// orderTransitions — разрешённые переходы. Вручение без отправки возможно
// только при самовывозе, это проверяет CanTransition.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:       {OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusDisputed},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusDelivered, OrderStatusDisputed},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusDisputed},
	OrderStatusDelivered:  {OrderStatusCompleted, OrderStatusRefunded, OrderStatusDisputed},
	OrderStatusCompleted:  {OrderStatusRefunded},
	OrderStatusCancelled:  nil,
	OrderStatusRefunded:   nil,
	OrderStatusDisputed:   nil,
}

// CanTransition проверяет переход from -> to для заказа с указанным способом доставки.
func CanTransition(from, to OrderStatus, method DeliveryMethod) bool {
	if to == OrderStatusDelivered && (from == OrderStatusPaid || from == OrderStatusProcessing) {
		return method == DeliveryMethodPickup
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderItem — позиция заказа со снимком товара на момент оформления.
type OrderItem struct {
	ID             string
	ProductID      string
	Name           string
	Image          string
	UnitPriceMinor int64
	Quantity       int32
}

// LineTotalMinor возвращает стоимость позиции.
func (i OrderItem) LineTotalMinor() int64 {
	return int64(i.Quantity) * i.UnitPriceMinor
}

// Order агрегирует состояние заказа, его позиции и расчёт стоимости.
type Order struct {
	ID        string
	Number    string
	BuyerID   string
	StoreID   string
	StoreName string
	Status    OrderStatus

	Currency         string
	Items            []OrderItem
	SubtotalMinor    int64
	ServiceFeeMinor  int64
	DeliveryFeeMinor int64
	DiscountMinor    int64
	TotalMinor       int64

	DeliveryMethod  DeliveryMethod
	DeliveryAddress string
	DeliveryNotes   string
	BuyerNote       string
	BuyerPhone      string
	InstitutionID   string
	HallID          string

	PaymentMethod   PaymentMethod
	PaymentProvider MobileMoneyProvider
	PaymentRef      string
	CancelReason    string

	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      time.Time
	ShippedAt   time.Time
	DeliveredAt time.Time
	CompletedAt time.Time
	CancelledAt time.Time
	RefundedAt  time.Time
}

// Pricing возвращает расчёт стоимости заказа.
func (o *Order) Pricing() Pricing {
	return Pricing{
		Currency:         o.Currency,
		SubtotalMinor:    o.SubtotalMinor,
		ServiceFeeMinor:  o.ServiceFeeMinor,
		DeliveryFeeMinor: o.DeliveryFeeMinor,
		DiscountMinor:    o.DiscountMinor,
		TotalMinor:       o.TotalMinor,
	}
}

// ApplyPricing переносит расчёт стоимости в заказ.
func (o *Order) ApplyPricing(p Pricing) {
	o.Currency = p.Currency
	o.SubtotalMinor = p.SubtotalMinor
	o.ServiceFeeMinor = p.ServiceFeeMinor
	o.DeliveryFeeMinor = p.DeliveryFeeMinor
	o.DiscountMinor = p.DiscountMinor
	o.TotalMinor = p.TotalMinor
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if o.StoreID == "" {
		errs = append(errs, ErrStoreIDRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.SubtotalMinor < 0 || o.ServiceFeeMinor < 0 || o.DeliveryFeeMinor < 0 || o.DiscountMinor < 0 || o.TotalMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем subtotal с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += item.LineTotalMinor()
	}
	if calc != o.SubtotalMinor {
		errs = append(errs, ErrAmountMismatch)
	}
	if !o.Pricing().Balanced() {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// CanTransitionTo проверяет переход из текущего статуса.
func (o *Order) CanTransitionTo(to OrderStatus) bool {
	return CanTransition(o.Status, to, o.DeliveryMethod)
}

// TransitionTo меняет статус и проставляет отметку времени соответствующего этапа.
func (o *Order) TransitionTo(to OrderStatus, at time.Time) error {
	if !o.CanTransitionTo(to) {
		return &TransitionError{From: o.Status, To: to}
	}

	o.Status = to
	o.UpdatedAt = at
	switch to {
	case OrderStatusPaid:
		o.PaidAt = at
	case OrderStatusShipped:
		o.ShippedAt = at
	case OrderStatusDelivered:
		o.DeliveredAt = at
	case OrderStatusCompleted:
		o.CompletedAt = at
	case OrderStatusCancelled:
		o.CancelledAt = at
	case OrderStatusRefunded:
		o.RefundedAt = at
	}
	return nil
}

// FormatOrderNumber собирает человекочитаемый номер заказа: CM-YYYYMMDD-XXXXXXXX.
func FormatOrderNumber(at time.Time, suffix string) string {
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("CM-%s-%s", at.UTC().Format("20060102"), suffix)
}
