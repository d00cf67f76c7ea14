package grpcsvc

import (
	"time"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

// MarkPaidRequest подтверждает оплату заказа по ссылке провайдера.
type MarkPaidRequest struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
}

// TransitionRequest — переход статуса продавцом. Пустой StoreID означает оператора площадки.
type TransitionRequest struct {
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id,omitempty"`
}

// ResolveRefundRequest — решение по заявке на возврат.
type ResolveRefundRequest struct {
	RequestID string `json:"request_id"`
	Approve   bool   `json:"approve"`
	Note      string `json:"note,omitempty"`
}

// OpenDisputeRequest открывает спор по заказу.
type OpenDisputeRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// GetOrderRequest запрашивает карточку заказа. С StoreID чужой заказ не отдаётся.
type GetOrderRequest struct {
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id,omitempty"`
}

// ListStoreOrdersRequest — последние заказы магазина.
type ListStoreOrdersRequest struct {
	StoreID  string `json:"store_id"`
	PageSize int32  `json:"page_size,omitempty"`
}

// OrderResponse возвращает заказ после изменения.
type OrderResponse struct {
	Order *Order `json:"order"`
}

// ResolveRefundResponse — рассмотренная заявка и состояние заказа.
type ResolveRefundResponse struct {
	Refund *RefundRequest `json:"refund"`
	Order  *Order         `json:"order"`
}

// GetOrderResponse — заказ с историей, удержанием и заявками на возврат.
type GetOrderResponse struct {
	Order    *Order           `json:"order"`
	Timeline []TimelineEvent  `json:"timeline"`
	Escrow   *Escrow          `json:"escrow,omitempty"`
	Refunds  []*RefundRequest `json:"refunds"`
}

// ListStoreOrdersResponse — заказы магазина, новые первыми.
type ListStoreOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

// Order — представление заказа в back-office API.
type Order struct {
	ID               string      `json:"id"`
	Number           string      `json:"number"`
	BuyerID          string      `json:"buyer_id"`
	StoreID          string      `json:"store_id"`
	StoreName        string      `json:"store_name"`
	Status           string      `json:"status"`
	Currency         string      `json:"currency"`
	Items            []OrderItem `json:"items"`
	SubtotalMinor    int64       `json:"subtotal_minor"`
	ServiceFeeMinor  int64       `json:"service_fee_minor"`
	DeliveryFeeMinor int64       `json:"delivery_fee_minor"`
	DiscountMinor    int64       `json:"discount_minor"`
	TotalMinor       int64       `json:"total_minor"`
	DeliveryMethod   string      `json:"delivery_method"`
	DeliveryAddress  string      `json:"delivery_address,omitempty"`
	BuyerNote        string      `json:"buyer_note,omitempty"`
	BuyerPhone       string      `json:"buyer_phone,omitempty"`
	PaymentMethod    string      `json:"payment_method"`
	PaymentProvider  string      `json:"payment_provider,omitempty"`
	PaymentRef       string      `json:"payment_ref,omitempty"`
	CancelReason     string      `json:"cancel_reason,omitempty"`
	Version          int64       `json:"version"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// OrderItem — позиция заказа.
type OrderItem struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Quantity       int32  `json:"quantity"`
}

// TimelineEvent — запись истории заказа.
type TimelineEvent struct {
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
	UnixTime int64  `json:"unix_time"`
}

// Escrow — удержание средств по заказу.
type Escrow struct {
	Status                string    `json:"status"`
	AmountMinor           int64     `json:"amount_minor"`
	SellerCommissionMinor int64     `json:"seller_commission_minor"`
	PlatformFeeMinor      int64     `json:"platform_fee_minor"`
	SellerAmountMinor     int64     `json:"seller_amount_minor"`
	HoldUntil             time.Time `json:"hold_until"`
}

// RefundRequest — заявка покупателя на возврат.
type RefundRequest struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	Reason     string `json:"reason"`
	Status     string `json:"status"`
	ReviewNote string `json:"review_note,omitempty"`
}

func toOrder(order domain.Order) *Order {
	items := make([]OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			UnitPriceMinor: item.UnitPriceMinor,
			Quantity:       item.Quantity,
		})
	}

	return &Order{
		ID:               order.ID,
		Number:           order.Number,
		BuyerID:          order.BuyerID,
		StoreID:          order.StoreID,
		StoreName:        order.StoreName,
		Status:           string(order.Status),
		Currency:         order.Currency,
		Items:            items,
		SubtotalMinor:    order.SubtotalMinor,
		ServiceFeeMinor:  order.ServiceFeeMinor,
		DeliveryFeeMinor: order.DeliveryFeeMinor,
		DiscountMinor:    order.DiscountMinor,
		TotalMinor:       order.TotalMinor,
		DeliveryMethod:   string(order.DeliveryMethod),
		DeliveryAddress:  order.DeliveryAddress,
		BuyerNote:        order.BuyerNote,
		BuyerPhone:       order.BuyerPhone,
		PaymentMethod:    string(order.PaymentMethod),
		PaymentProvider:  string(order.PaymentProvider),
		PaymentRef:       order.PaymentRef,
		CancelReason:     order.CancelReason,
		Version:          order.Version,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
}

func toRefundRequest(req domain.RefundRequest) *RefundRequest {
	return &RefundRequest{
		ID:         req.ID,
		OrderID:    req.OrderID,
		Reason:     req.Reason,
		Status:     string(req.Status),
		ReviewNote: req.ReviewNote,
	}
}

func toEscrow(escrow domain.Escrow) *Escrow {
	return &Escrow{
		Status:                string(escrow.Status),
		AmountMinor:           escrow.AmountMinor,
		SellerCommissionMinor: escrow.SellerCommissionMinor,
		PlatformFeeMinor:      escrow.PlatformFeeMinor,
		SellerAmountMinor:     escrow.SellerAmountMinor,
		HoldUntil:             escrow.HoldUntil,
	}
}

func toTimeline(events []domain.TimelineEvent) []TimelineEvent {
	result := make([]TimelineEvent, 0, len(events))
	for _, event := range events {
		result = append(result, TimelineEvent{
			Type:     event.Type,
			Reason:   event.Reason,
			UnixTime: event.Occurred.Unix(),
		})
	}
	return result
}
