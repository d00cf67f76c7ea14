package httpapi

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
	"github.com/vladislavdragonenkov/campusmart/internal/service/checkout"
)

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	Replace   bool   `json:"replace"`
}

type updateQuantityRequest struct {
	Quantity int32 `json:"quantity"`
}

type deliveryRequest struct {
	Method  string `json:"method"`
	Address string `json:"address"`
	Notes   string `json:"notes"`
}

type paymentRequest struct {
	Method      string `json:"method"`
	Provider    string `json:"provider"`
	PhoneNumber string `json:"phone_number"`
}

func (p paymentRequest) selection() domain.PaymentSelection {
	selection := domain.PaymentSelection{Method: domain.PaymentMethod(p.Method)}
	if selection.Method == domain.PaymentMethodMobileMoney {
		selection.MobileMoney = &domain.MobileMoneyDetails{
			Provider:    domain.MobileMoneyProvider(p.Provider),
			PhoneNumber: p.PhoneNumber,
		}
	}
	return selection
}

type noteRequest struct {
	Note string `json:"note"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type pricingResponse struct {
	Currency         string `json:"currency"`
	SubtotalMinor    int64  `json:"subtotal_minor"`
	ServiceFeeMinor  int64  `json:"service_fee_minor"`
	DeliveryFeeMinor int64  `json:"delivery_fee_minor"`
	DiscountMinor    int64  `json:"discount_minor"`
	TotalMinor       int64  `json:"total_minor"`
	Total            string `json:"total"`
}

type cartItemResponse struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Image          string `json:"image,omitempty"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Quantity       int32  `json:"quantity"`
	AvailableQty   int32  `json:"available_qty"`
	LineTotalMinor int64  `json:"line_total_minor"`
}

type cartResponse struct {
	StoreID   string             `json:"store_id,omitempty"`
	StoreName string             `json:"store_name,omitempty"`
	Items     []cartItemResponse `json:"items"`
	Pricing   *pricingResponse   `json:"pricing,omitempty"`
}

type deliveryResponse struct {
	Method  string `json:"method"`
	Address string `json:"address,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

type paymentResponse struct {
	Method      string `json:"method"`
	Provider    string `json:"provider,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

type checkoutResponse struct {
	Step      string           `json:"step"`
	Cart      cartResponse     `json:"cart"`
	Delivery  deliveryResponse `json:"delivery"`
	Payment   paymentResponse  `json:"payment"`
	BuyerNote string           `json:"buyer_note,omitempty"`
	Pricing   pricingResponse  `json:"pricing"`
	LastError string           `json:"last_error,omitempty"`
	Order     *orderResponse   `json:"order,omitempty"`
}

type orderItemResponse struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Image          string `json:"image,omitempty"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	Quantity       int32  `json:"quantity"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	Number          string              `json:"number"`
	Status          string              `json:"status"`
	StoreID         string              `json:"store_id"`
	StoreName       string              `json:"store_name"`
	Items           []orderItemResponse `json:"items"`
	Pricing         pricingResponse     `json:"pricing"`
	DeliveryMethod  string              `json:"delivery_method"`
	DeliveryAddress string              `json:"delivery_address,omitempty"`
	BuyerNote       string              `json:"buyer_note,omitempty"`
	PaymentMethod   string              `json:"payment_method"`
	CancelReason    string              `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type timelineEventResponse struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type refundRequestResponse struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// formatMinor печатает сумму в основных единицах: 21000 -> "210.00".
func formatMinor(amountMinor int64) string {
	sign := ""
	if amountMinor < 0 {
		sign = "-"
		amountMinor = -amountMinor
	}
	return fmt.Sprintf("%s%d.%02d", sign, amountMinor/100, amountMinor%100)
}

func toPricing(p domain.Pricing) pricingResponse {
	return pricingResponse{
		Currency:         p.Currency,
		SubtotalMinor:    p.SubtotalMinor,
		ServiceFeeMinor:  p.ServiceFeeMinor,
		DeliveryFeeMinor: p.DeliveryFeeMinor,
		DiscountMinor:    p.DiscountMinor,
		TotalMinor:       p.TotalMinor,
		Total:            formatMinor(p.TotalMinor),
	}
}

func toCart(cart domain.Cart) cartResponse {
	items := make([]cartItemResponse, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemResponse{
			ProductID:      item.Product.ID,
			Name:           item.Product.Name,
			Image:          item.Product.Image,
			UnitPriceMinor: item.Product.PriceMinor,
			Quantity:       item.Quantity,
			AvailableQty:   item.Product.AvailableQty,
			LineTotalMinor: item.LineTotalMinor(),
		})
	}
	return cartResponse{
		StoreID:   cart.StoreID,
		StoreName: cart.StoreName,
		Items:     items,
	}
}

func toCheckout(view checkout.View) checkoutResponse {
	resp := checkoutResponse{
		Step: string(view.Step),
		Cart: toCart(view.Cart),
		Delivery: deliveryResponse{
			Method:  string(view.Delivery.Method),
			Address: view.Delivery.Address,
			Notes:   view.Delivery.Notes,
		},
		Payment:   paymentResponse{Method: string(view.Payment.Method)},
		BuyerNote: view.BuyerNote,
		Pricing:   toPricing(view.Pricing),
	}
	if mm := view.Payment.MobileMoney; mm != nil {
		resp.Payment.Provider = string(mm.Provider)
		resp.Payment.PhoneNumber = mm.PhoneNumber
	}
	if view.LastError != nil {
		resp.LastError = view.LastError.Error()
	}
	if view.Order != nil {
		order := toOrder(*view.Order)
		resp.Order = &order
	}
	return resp
}

func toOrder(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Image:          item.Image,
			UnitPriceMinor: item.UnitPriceMinor,
			Quantity:       item.Quantity,
		})
	}
	return orderResponse{
		ID:              order.ID,
		Number:          order.Number,
		Status:          string(order.Status),
		StoreID:         order.StoreID,
		StoreName:       order.StoreName,
		Items:           items,
		Pricing:         toPricing(order.Pricing()),
		DeliveryMethod:  string(order.DeliveryMethod),
		DeliveryAddress: order.DeliveryAddress,
		BuyerNote:       order.BuyerNote,
		PaymentMethod:   string(order.PaymentMethod),
		CancelReason:    order.CancelReason,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func toOrders(orders []domain.Order) []orderResponse {
	result := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		result = append(result, toOrder(order))
	}
	return result
}

func toTimeline(events []domain.TimelineEvent) []timelineEventResponse {
	result := make([]timelineEventResponse, 0, len(events))
	for _, event := range events {
		result = append(result, timelineEventResponse{
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return result
}

func toRefundRequest(req domain.RefundRequest) refundRequestResponse {
	return refundRequestResponse{
		ID:        req.ID,
		OrderID:   req.OrderID,
		Reason:    req.Reason,
		Status:    string(req.Status),
		CreatedAt: req.CreatedAt,
	}
}
