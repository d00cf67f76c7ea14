package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

// PaymentInitiator ставит созданный заказ в очередь на оплату.
type PaymentInitiator interface {
	Enqueue(orderID string, selection domain.PaymentSelection)
}

// Dependencies — зависимости витрины. Carts, Catalog и Placer обязательны.
type Dependencies struct {
	Carts    domain.CartRepository
	Catalog  domain.ProductCatalog
	Placer   domain.OrderPlacer
	Payments PaymentInitiator
	Pricing  domain.PricingConfig
	Logger   *log.Entry
}

// View — снимок оформления для отображения.
type View struct {
	Step      domain.CheckoutStep
	Cart      domain.Cart
	Delivery  domain.DeliveryDetails
	Payment   domain.PaymentSelection
	BuyerNote string
	Pricing   domain.Pricing
	LastError error
	Order     *domain.Order
}

// Service — корзина и оформление заказа покупателя. Активное оформление
// живёт в памяти процесса, по одному на пользователя.
type Service struct {
	carts    domain.CartRepository
	catalog  domain.ProductCatalog
	placer   domain.OrderPlacer
	payments PaymentInitiator
	pricing  domain.PricingConfig
	logger   *log.Entry

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu       sync.Mutex
	checkout *domain.Checkout
	evicted  bool
}

// NewService собирает сервис витрины.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Carts == nil || deps.Catalog == nil || deps.Placer == nil {
		return nil, errors.New("checkout: carts, catalog and placer are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	pricing := deps.Pricing
	if pricing.Currency == "" {
		pricing = domain.DefaultPricingConfig()
	}

	return &Service{
		carts:    deps.Carts,
		catalog:  deps.Catalog,
		placer:   deps.Placer,
		payments: deps.Payments,
		pricing:  pricing,
		logger:   logger,
		sessions: make(map[string]*session),
	}, nil
}

// Cart возвращает корзину покупателя и расчёт для текущего способа доставки.
func (s *Service) Cart(_ context.Context, sess domain.Session, method domain.DeliveryMethod) (domain.Cart, domain.Pricing, error) {
	buyer, err := sess.RequireBuyer()
	if err != nil {
		return domain.Cart{}, domain.Pricing{}, err
	}
	cart, err := s.loadCart(buyer.ID)
	if err != nil {
		return domain.Cart{}, domain.Pricing{}, err
	}
	if !method.Valid() {
		method = domain.DeliveryMethodPickup
	}
	return cart, s.pricing.QuoteCart(&cart, method), nil
}

// AddItem кладёт товар в корзину по актуальной карточке каталога. С replace
// корзина другого магазина очищается, иначе возвращается ErrCartStoreMismatch.
func (s *Service) AddItem(ctx context.Context, sess domain.Session, productID string, qty int32, replace bool) (domain.Cart, error) {
	return s.updateCart(ctx, sess, func(cart *domain.Cart) error {
		product, err := s.catalog.Product(ctx, strings.TrimSpace(productID))
		if err != nil {
			return err
		}
		err = cart.AddItem(product, qty)
		if errors.Is(err, domain.ErrCartStoreMismatch) && replace {
			cart.Clear()
			err = cart.AddItem(product, qty)
		}
		return err
	})
}

// UpdateQuantity меняет количество позиции; 0 и меньше удаляет её.
// Новое количество ограничивается текущим остатком из каталога.
func (s *Service) UpdateQuantity(ctx context.Context, sess domain.Session, productID string, qty int32) (domain.Cart, error) {
	return s.updateCart(ctx, sess, func(cart *domain.Cart) error {
		if _, ok := cart.Item(productID); !ok {
			return domain.ErrCartItemNotFound
		}
		if qty > 0 {
			product, err := s.catalog.Product(ctx, productID)
			if err != nil {
				return err
			}
			if !product.InStock() {
				return domain.ErrOutOfStock
			}
			cart.RefreshProduct(product)
		}
		return cart.UpdateQuantity(productID, qty)
	})
}

// RemoveItem удаляет позицию. Отсутствующая позиция не считается ошибкой.
func (s *Service) RemoveItem(ctx context.Context, sess domain.Session, productID string) (domain.Cart, error) {
	return s.updateCart(ctx, sess, func(cart *domain.Cart) error {
		cart.RemoveItem(productID)
		return nil
	})
}

// ClearCart очищает корзину.
func (s *Service) ClearCart(ctx context.Context, sess domain.Session) (domain.Cart, error) {
	return s.updateCart(ctx, sess, func(cart *domain.Cart) error {
		cart.Clear()
		return nil
	})
}

// RefreshCart обновляет цены и остатки позиций из каталога.
func (s *Service) RefreshCart(ctx context.Context, sess domain.Session) (domain.Cart, error) {
	return s.updateCart(ctx, sess, func(cart *domain.Cart) error {
		return s.refresh(ctx, cart)
	})
}

// updateCart применяет изменение и сохраняет корзину. Незавершённое оформление
// при этом сбрасывается: оно собрано по прежнему составу корзины.
func (s *Service) updateCart(_ context.Context, sess domain.Session, apply func(cart *domain.Cart) error) (domain.Cart, error) {
	buyer, err := sess.RequireBuyer()
	if err != nil {
		return domain.Cart{}, err
	}

	st := s.lockSession(buyer.ID)
	defer s.unlockSession(buyer.ID, st)

	cart, err := s.loadCart(buyer.ID)
	if err != nil {
		return domain.Cart{}, err
	}
	if err := apply(&cart); err != nil {
		return cart, err
	}
	if err := s.saveCart(cart); err != nil {
		return domain.Cart{}, err
	}
	if st.checkout != nil && st.checkout.Step() != domain.CheckoutStepSubmitted {
		st.checkout = nil
	}
	return cart, nil
}

// StartCheckout начинает оформление текущей корзины. Цены и остатки
// перед этим сверяются с каталогом.
func (s *Service) StartCheckout(ctx context.Context, sess domain.Session) (View, error) {
	buyer, err := sess.RequireBuyer()
	if err != nil {
		return View{}, err
	}

	st := s.lockSession(buyer.ID)
	defer s.unlockSession(buyer.ID, st)

	cart, err := s.loadCart(buyer.ID)
	if err != nil {
		return View{}, err
	}
	if err := s.refresh(ctx, &cart); err != nil {
		return View{}, err
	}
	if err := s.saveCart(cart); err != nil {
		return View{}, err
	}

	co, err := domain.NewCheckout(&cart, buyer, s.pricing)
	if err != nil {
		return View{}, err
	}
	st.checkout = co
	return viewOf(co), nil
}

// Checkout возвращает активное оформление.
func (s *Service) Checkout(ctx context.Context, sess domain.Session) (View, error) {
	return s.withCheckout(ctx, sess, func(*domain.Checkout) error { return nil })
}

// SetDelivery сохраняет данные доставки.
func (s *Service) SetDelivery(ctx context.Context, sess domain.Session, details domain.DeliveryDetails) (View, error) {
	return s.withCheckout(ctx, sess, func(co *domain.Checkout) error {
		return co.SetDelivery(details)
	})
}

// SetPayment сохраняет способ оплаты.
func (s *Service) SetPayment(ctx context.Context, sess domain.Session, selection domain.PaymentSelection) (View, error) {
	return s.withCheckout(ctx, sess, func(co *domain.Checkout) error {
		return co.SetPayment(selection)
	})
}

// SetBuyerNote сохраняет комментарий продавцу.
func (s *Service) SetBuyerNote(ctx context.Context, sess domain.Session, note string) (View, error) {
	return s.withCheckout(ctx, sess, func(co *domain.Checkout) error {
		return co.SetBuyerNote(note)
	})
}

// Next переходит на следующий шаг.
func (s *Service) Next(ctx context.Context, sess domain.Session) (View, error) {
	return s.withCheckout(ctx, sess, func(co *domain.Checkout) error {
		return co.Next()
	})
}

// Back возвращается на предыдущий шаг.
func (s *Service) Back(ctx context.Context, sess domain.Session) (View, error) {
	return s.withCheckout(ctx, sess, func(co *domain.Checkout) error {
		return co.Back()
	})
}

// Submit создаёт заказ. При сбое оформление остаётся на review с
// *domain.SubmissionError, при успехе корзина удаляется и заказ ставится в очередь на оплату.
func (s *Service) Submit(ctx context.Context, sess domain.Session) (domain.Order, View, error) {
	var order domain.Order
	view, err := s.withCheckout(ctx, sess, func(co *domain.Checkout) error {
		placed, err := co.Submit(ctx, s.placer)
		if err != nil {
			return err
		}
		order = placed

		if err := s.carts.Delete(co.Buyer().ID); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("delete cart after submit failed")
		}
		if s.payments != nil {
			s.payments.Enqueue(order.ID, co.Payment())
		}
		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"user_id":  co.Buyer().ID,
		}).Info("checkout submitted")
		return nil
	})
	if err != nil {
		return domain.Order{}, view, err
	}
	return order, view, nil
}

// Cancel сбрасывает активное оформление, корзина остаётся.
func (s *Service) Cancel(_ context.Context, sess domain.Session) error {
	buyer, err := sess.RequireBuyer()
	if err != nil {
		return err
	}
	st := s.lockSession(buyer.ID)
	defer s.unlockSession(buyer.ID, st)
	st.checkout = nil
	return nil
}

func (s *Service) withCheckout(_ context.Context, sess domain.Session, fn func(co *domain.Checkout) error) (View, error) {
	buyer, err := sess.RequireBuyer()
	if err != nil {
		return View{}, err
	}

	st := s.lockSession(buyer.ID)
	defer s.unlockSession(buyer.ID, st)

	if st.checkout == nil {
		return View{}, domain.ErrCheckoutNotFound
	}
	err = fn(st.checkout)
	return viewOf(st.checkout), err
}

// lockSession возвращает захваченное состояние пользователя. Удалённое
// из карты состояние пропускается, берётся новое.
func (s *Service) lockSession(userID string) *session {
	for {
		s.mu.Lock()
		st, ok := s.sessions[userID]
		if !ok {
			st = &session{}
			s.sessions[userID] = st
		}
		s.mu.Unlock()

		st.mu.Lock()
		if !st.evicted {
			return st
		}
		st.mu.Unlock()
	}
}

// unlockSession освобождает состояние пользователя. Состояние без
// незавершённого оформления удаляется из карты.
func (s *Service) unlockSession(userID string, st *session) {
	defer st.mu.Unlock()
	if st.checkout != nil && st.checkout.Step() != domain.CheckoutStepSubmitted {
		return
	}
	st.evicted = true
	s.mu.Lock()
	if s.sessions[userID] == st {
		delete(s.sessions, userID)
	}
	s.mu.Unlock()
}

func (s *Service) loadCart(userID string) (domain.Cart, error) {
	cart, err := s.carts.Get(userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return *domain.NewCart(userID), nil
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("load cart: %w", err)
	}
	return cart, nil
}

func (s *Service) saveCart(cart domain.Cart) error {
	if cart.IsEmpty() {
		if err := s.carts.Delete(cart.UserID); err != nil {
			return fmt.Errorf("delete cart: %w", err)
		}
		return nil
	}
	if err := s.carts.Save(cart); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// refresh сверяет позиции с каталогом. Снятые с продажи товары удаляются.
func (s *Service) refresh(ctx context.Context, cart *domain.Cart) error {
	for _, item := range append([]domain.CartItem(nil), cart.Items...) {
		product, err := s.catalog.Product(ctx, item.Product.ID)
		switch {
		case errors.Is(err, domain.ErrProductNotFound):
			cart.RemoveItem(item.Product.ID)
		case err != nil:
			return fmt.Errorf("refresh product %s: %w", item.Product.ID, err)
		default:
			cart.RefreshProduct(product)
		}
	}
	return nil
}

func viewOf(co *domain.Checkout) View {
	v := View{
		Step:      co.Step(),
		Cart:      co.Cart().Clone(),
		Delivery:  co.Delivery(),
		Payment:   co.Payment(),
		BuyerNote: co.BuyerNote(),
		Pricing:   co.Quote(),
		LastError: co.LastError(),
	}
	if order, ok := co.PlacedOrder(); ok {
		v.Order = &order
	}
	return v
}
