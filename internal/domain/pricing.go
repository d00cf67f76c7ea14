package domain

import "time"

// DeliveryMethod — способ получения заказа.
type DeliveryMethod string

const (
	// DeliveryMethodPickup — самовывоз на кампусе, без платы за доставку.
	DeliveryMethodPickup DeliveryMethod = "pickup"
	// DeliveryMethodDelivery — доставка по адресу за фиксированную плату.
	DeliveryMethodDelivery DeliveryMethod = "delivery"
)

// Valid проверяет, что способ доставки поддерживается.
func (m DeliveryMethod) Valid() bool {
	switch m {
	case DeliveryMethodPickup, DeliveryMethodDelivery:
		return true
	default:
		return false
	}
}

const (
	// DefaultServiceFeeBps — комиссия платформы с покупателя, 5%.
	DefaultServiceFeeBps int64 = 500
	// DefaultDeliveryFeeMinor — фиксированная плата за доставку, 15.00.
	DefaultDeliveryFeeMinor int64 = 1500
	// DefaultEscrowHold — срок удержания средств до автоматического перевода продавцу.
	DefaultEscrowHold = 7 * 24 * time.Hour
	// DefaultCurrency — валюта витрины.
	DefaultCurrency = "GHS"
)

// PricingConfig задаёт тарифы витрины.
type PricingConfig struct {
	Currency            string
	ServiceFeeBps       int64
	DeliveryFeeMinor    int64
	SellerCommissionBps int64
	EscrowHold          time.Duration
}

// DefaultPricingConfig возвращает тарифы по умолчанию.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Currency:         DefaultCurrency,
		ServiceFeeBps:    DefaultServiceFeeBps,
		DeliveryFeeMinor: DefaultDeliveryFeeMinor,
		EscrowHold:       DefaultEscrowHold,
	}
}

// Pricing — расчёт стоимости заказа в минимальных единицах.
type Pricing struct {
	Currency         string
	SubtotalMinor    int64
	ServiceFeeMinor  int64
	DeliveryFeeMinor int64
	DiscountMinor    int64
	TotalMinor       int64
}

// Balanced проверяет инвариант total = subtotal + delivery + service - discount.
func (p Pricing) Balanced() bool {
	return p.TotalMinor == p.SubtotalMinor+p.DeliveryFeeMinor+p.ServiceFeeMinor-p.DiscountMinor
}

// ServiceFee считает комиссию платформы от суммы позиций.
func (c PricingConfig) ServiceFee(subtotalMinor int64) int64 {
	return ApplyBps(subtotalMinor, c.ServiceFeeBps)
}

// SellerCommission считает комиссию, удерживаемую с продавца.
func (c PricingConfig) SellerCommission(subtotalMinor int64) int64 {
	return ApplyBps(subtotalMinor, c.SellerCommissionBps)
}

// DeliveryFee возвращает плату за выбранный способ доставки.
func (c PricingConfig) DeliveryFee(method DeliveryMethod) int64 {
	if method == DeliveryMethodDelivery {
		return c.DeliveryFeeMinor
	}
	return 0
}

// Quote рассчитывает итог по сумме позиций, способу доставки и скидке.
// Скидка ограничивается диапазоном [0, subtotal].
func (c PricingConfig) Quote(subtotalMinor int64, method DeliveryMethod, discountMinor int64) Pricing {
	if discountMinor < 0 {
		discountMinor = 0
	}
	if discountMinor > subtotalMinor {
		discountMinor = subtotalMinor
	}

	p := Pricing{
		Currency:         c.Currency,
		SubtotalMinor:    subtotalMinor,
		ServiceFeeMinor:  c.ServiceFee(subtotalMinor),
		DeliveryFeeMinor: c.DeliveryFee(method),
		DiscountMinor:    discountMinor,
	}
	p.TotalMinor = p.SubtotalMinor + p.DeliveryFeeMinor + p.ServiceFeeMinor - p.DiscountMinor
	return p
}

// QuoteCart рассчитывает итог для корзины без скидки.
func (c PricingConfig) QuoteCart(cart *Cart, method DeliveryMethod) Pricing {
	var subtotal int64
	if cart != nil {
		subtotal = cart.Subtotal()
	}
	return c.Quote(subtotal, method, 0)
}
