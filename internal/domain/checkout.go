package domain

import (
	"context"
	"strings"
)

// CheckoutStep — шаг оформления заказа.
type CheckoutStep string

const (
	CheckoutStepDelivery  CheckoutStep = "delivery"
	CheckoutStepPayment   CheckoutStep = "payment"
	CheckoutStepReview    CheckoutStep = "review"
	CheckoutStepSubmitted CheckoutStep = "submitted"
)

// DeliveryDetails — данные шага доставки.
type DeliveryDetails struct {
	Method  DeliveryMethod
	Address string
	Notes   string
}

// DraftItem — позиция черновика: товар и количество.
type DraftItem struct {
	ProductID string
	Quantity  int32
}

// OrderDraft — черновик заказа, собранный по шагам оформления.
type OrderDraft struct {
	StoreID          string
	Items            []DraftItem
	DeliveryMethod   DeliveryMethod
	DeliveryFeeMinor int64
	DeliveryAddress  string
	DeliveryNotes    string
	BuyerNote        string
	InstitutionID    string
	HallID           string
	Payment          PaymentSelection
}

// OrderPlacer создаёт заказ из черновика (внешний сервис создания заказов).
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, buyer Buyer, draft OrderDraft) (Order, error)
}

// OrderPlacerFunc адаптирует функцию к OrderPlacer.
type OrderPlacerFunc func(ctx context.Context, buyer Buyer, draft OrderDraft) (Order, error)

// PlaceOrder вызывает f.
func (f OrderPlacerFunc) PlaceOrder(ctx context.Context, buyer Buyer, draft OrderDraft) (Order, error) {
	return f(ctx, buyer, draft)
}

// Checkout — конечный автомат оформления: delivery → payment → review → submitted.
// Переходы только последовательные, вперёд с проверкой полей шага, назад без проверок.
type Checkout struct {
	buyer   Buyer
	cart    *Cart
	pricing PricingConfig

	step      CheckoutStep
	delivery  DeliveryDetails
	payment   PaymentSelection
	buyerNote string

	lastErr error
	placed  *Order
}

// NewCheckout начинает оформление корзины. Телефон, учебное заведение и общежитие
// подставляются из сессии покупателя.
func NewCheckout(cart *Cart, buyer Buyer, pricing PricingConfig) (*Checkout, error) {
	if buyer.ID == "" {
		return nil, ErrUnauthenticated
	}
	if cart == nil || cart.IsEmpty() {
		return nil, ErrCartEmpty
	}

	return &Checkout{
		buyer:    buyer,
		cart:     cart,
		pricing:  pricing,
		step:     CheckoutStepDelivery,
		delivery: DeliveryDetails{Method: DeliveryMethodPickup},
		payment:  MobileMoney(MobileMoneyMTN, buyer.PhoneNumber),
	}, nil
}

// Step возвращает текущий шаг.
func (c *Checkout) Step() CheckoutStep { return c.step }

// Buyer возвращает покупателя.
func (c *Checkout) Buyer() Buyer { return c.buyer }

// Cart возвращает оформляемую корзину.
func (c *Checkout) Cart() *Cart { return c.cart }

// Delivery возвращает введённые данные доставки.
func (c *Checkout) Delivery() DeliveryDetails { return c.delivery }

// Payment возвращает выбранный способ оплаты.
func (c *Checkout) Payment() PaymentSelection { return c.payment }

// BuyerNote возвращает комментарий покупателя продавцу.
func (c *Checkout) BuyerNote() string { return c.buyerNote }

// LastError возвращает ошибку последнего перехода: *ValidationError или *SubmissionError.
func (c *Checkout) LastError() error { return c.lastErr }

// PlacedOrder возвращает созданный заказ после успешной отправки.
func (c *Checkout) PlacedOrder() (Order, bool) {
	if c.placed == nil {
		return Order{}, false
	}
	return *c.placed, true
}

// SetDelivery сохраняет данные доставки. Проверка адреса выполняется при переходе вперёд.
func (c *Checkout) SetDelivery(details DeliveryDetails) error {
	if c.step == CheckoutStepSubmitted {
		return ErrCheckoutSubmitted
	}
	if !details.Method.Valid() {
		return &ValidationError{Step: CheckoutStepDelivery, Field: "delivery_method", Message: "unsupported delivery method"}
	}
	details.Address = strings.TrimSpace(details.Address)
	details.Notes = strings.TrimSpace(details.Notes)
	c.delivery = details
	return nil
}

// SetPayment сохраняет способ оплаты. Для карты данные мобильного кошелька сбрасываются.
func (c *Checkout) SetPayment(selection PaymentSelection) error {
	if c.step == CheckoutStepSubmitted {
		return ErrCheckoutSubmitted
	}
	if !selection.Method.Valid() {
		return &ValidationError{Step: CheckoutStepPayment, Field: "payment_method", Message: "unsupported payment method"}
	}
	if selection.Method == PaymentMethodCard {
		selection.MobileMoney = nil
	} else if selection.MobileMoney != nil {
		details := *selection.MobileMoney
		details.PhoneNumber = strings.TrimSpace(details.PhoneNumber)
		selection.MobileMoney = &details
	}
	c.payment = selection
	return nil
}

// SetBuyerNote сохраняет комментарий к заказу.
func (c *Checkout) SetBuyerNote(note string) error {
	if c.step == CheckoutStepSubmitted {
		return ErrCheckoutSubmitted
	}
	c.buyerNote = strings.TrimSpace(note)
	return nil
}

// Next переводит оформление на следующий шаг, если поля текущего шага заполнены.
// При ошибке шаг не меняется, а ошибка доступна через LastError.
func (c *Checkout) Next() error {
	var verr *ValidationError

	switch c.step {
	case CheckoutStepDelivery:
		if verr = c.validateDelivery(); verr == nil {
			c.step = CheckoutStepPayment
		}
	case CheckoutStepPayment:
		if verr = c.validatePayment(); verr == nil {
			c.step = CheckoutStepReview
		}
	case CheckoutStepReview:
		return ErrCheckoutNotReady
	default:
		return ErrCheckoutSubmitted
	}

	if verr != nil {
		c.lastErr = verr
		return verr
	}
	c.lastErr = nil
	return nil
}

// Back возвращает на предыдущий шаг, сохраняя введённые данные.
func (c *Checkout) Back() error {
	switch c.step {
	case CheckoutStepPayment:
		c.step = CheckoutStepDelivery
	case CheckoutStepReview:
		c.step = CheckoutStepPayment
	case CheckoutStepDelivery:
		return ErrNoPreviousStep
	default:
		return ErrCheckoutSubmitted
	}
	c.lastErr = nil
	return nil
}

// Quote рассчитывает стоимость по текущей корзине и способу доставки.
func (c *Checkout) Quote() Pricing {
	return c.pricing.QuoteCart(c.cart, c.delivery.Method)
}

// Draft собирает черновик заказа из корзины и введённых данных.
func (c *Checkout) Draft() OrderDraft {
	items := make([]DraftItem, 0, len(c.cart.Items))
	for _, item := range c.cart.Items {
		items = append(items, DraftItem{ProductID: item.Product.ID, Quantity: item.Quantity})
	}

	draft := OrderDraft{
		StoreID:          c.cart.StoreID,
		Items:            items,
		DeliveryMethod:   c.delivery.Method,
		DeliveryFeeMinor: c.pricing.DeliveryFee(c.delivery.Method),
		DeliveryNotes:    c.delivery.Notes,
		BuyerNote:        c.buyerNote,
		InstitutionID:    c.buyer.InstitutionID,
		HallID:           c.buyer.HallID,
		Payment:          c.payment,
	}
	if c.delivery.Method == DeliveryMethodDelivery {
		draft.DeliveryAddress = c.delivery.Address
	}
	return draft
}

// Submit отправляет черновик в placer. При ошибке оформление остаётся на review,
// а ошибка оборачивается в *SubmissionError. При успехе корзина очищается.
func (c *Checkout) Submit(ctx context.Context, placer OrderPlacer) (Order, error) {
	if c.step == CheckoutStepSubmitted {
		return Order{}, ErrCheckoutSubmitted
	}
	if c.step != CheckoutStepReview {
		return Order{}, ErrCheckoutNotReady
	}
	if c.cart.IsEmpty() {
		verr := &ValidationError{Step: CheckoutStepReview, Field: "items", Message: "cart is empty"}
		c.lastErr = verr
		return Order{}, verr
	}
	// Поля могли поменяться после перехода на review.
	if verr := c.validateDelivery(); verr != nil {
		c.lastErr = verr
		return Order{}, verr
	}
	if verr := c.validatePayment(); verr != nil {
		c.lastErr = verr
		return Order{}, verr
	}

	order, err := placer.PlaceOrder(ctx, c.buyer, c.Draft())
	if err != nil {
		serr := &SubmissionError{Err: err}
		c.lastErr = serr
		return Order{}, serr
	}

	c.placed = &order
	c.step = CheckoutStepSubmitted
	c.lastErr = nil
	c.cart.Clear()
	return order, nil
}

func (c *Checkout) validateDelivery() *ValidationError {
	if c.delivery.Method == DeliveryMethodDelivery && c.delivery.Address == "" {
		return &ValidationError{Step: CheckoutStepDelivery, Field: "delivery_address", Message: "delivery address is required"}
	}
	return nil
}

func (c *Checkout) validatePayment() *ValidationError {
	if c.payment.Method != PaymentMethodMobileMoney {
		return nil
	}
	if c.payment.PhoneNumber() == "" {
		return &ValidationError{Step: CheckoutStepPayment, Field: "phone_number", Message: "mobile money phone number is required"}
	}
	if !c.payment.MobileMoney.Provider.Valid() {
		return &ValidationError{Step: CheckoutStepPayment, Field: "provider", Message: "unsupported mobile money provider"}
	}
	return nil
}
