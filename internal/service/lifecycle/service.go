package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
	"github.com/vladislavdragonenkov/campusmart/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/campusmart/internal/metrics"
)

const (
	defaultMaxVersionRetries = 3
	defaultRetryBaseDelay    = 10 * time.Millisecond
	defaultListLimit         = 50
)

// EventPublisher публикует события жизненного цикла во внешнюю шину.
type EventPublisher interface {
	PublishOrderEvent(event *kafka.OrderEvent) error
}

// Dependencies — внешние зависимости сервиса. Orders и Catalog обязательны.
type Dependencies struct {
	Orders    domain.OrderRepository
	Refunds   domain.RefundRepository
	Outbox    domain.OutboxRepository
	Timeline  domain.TimelineRepository
	Catalog   domain.ProductCatalog
	Inventory domain.InventoryService
	Payments  domain.PaymentGateway
	Events    EventPublisher
	Metrics   *metrics.LifecycleMetrics
	Logger    *log.Entry
}

// Config задаёт тарифы и параметры повторов при конфликте версий.
type Config struct {
	Pricing           domain.PricingConfig
	MaxVersionRetries int
	RetryBaseDelay    time.Duration
	Now               func() time.Time
}

// Service управляет заказом от создания до перевода средств продавцу.
type Service struct {
	orders    domain.OrderRepository
	refunds   domain.RefundRepository
	outbox    domain.OutboxRepository
	timeline  domain.TimelineRepository
	catalog   domain.ProductCatalog
	inventory domain.InventoryService
	payments  domain.PaymentGateway
	events    EventPublisher
	metrics   *metrics.LifecycleMetrics
	logger    *log.Entry

	pricing    domain.PricingConfig
	maxRetries int
	baseDelay  time.Duration
	now        func() time.Time
}

// ReleaseResult — итог прохода автоматического перевода средств.
type ReleaseResult struct {
	Released  int
	Completed int
	Skipped   int
	Failed    int
}

// NewService собирает сервис жизненного цикла.
func NewService(deps Dependencies, cfg Config) (*Service, error) {
	if deps.Orders == nil {
		return nil, errors.New("lifecycle: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("lifecycle: product catalog is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.New().WithField("component", "lifecycle")
	}
	if cfg.Pricing.Currency == "" {
		cfg.Pricing = domain.DefaultPricingConfig()
	}
	if cfg.MaxVersionRetries <= 0 {
		cfg.MaxVersionRetries = defaultMaxVersionRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		orders:     deps.Orders,
		refunds:    deps.Refunds,
		outbox:     deps.Outbox,
		timeline:   deps.Timeline,
		catalog:    deps.Catalog,
		inventory:  deps.Inventory,
		payments:   deps.Payments,
		events:     deps.Events,
		metrics:    deps.Metrics,
		logger:     logger,
		pricing:    cfg.Pricing,
		maxRetries: cfg.MaxVersionRetries,
		baseDelay:  cfg.RetryBaseDelay,
		now:        now,
	}, nil
}

// Pricing возвращает действующие тарифы.
func (s *Service) Pricing() domain.PricingConfig {
	return s.pricing
}

// PlaceOrder реализует domain.OrderPlacer.
func (s *Service) PlaceOrder(ctx context.Context, buyer domain.Buyer, draft domain.OrderDraft) (domain.Order, error) {
	return s.Place(ctx, buyer, draft)
}

// Place создаёт заказ в статусе pending. Позиции берутся из каталога по текущим ценам,
// сумма пересчитывается по тарифу, остатки списываются до сохранения заказа.
func (s *Service) Place(ctx context.Context, buyer domain.Buyer, draft domain.OrderDraft) (order domain.Order, err error) {
	done := s.metrics.StartOperation(string(domain.LifecycleOpPlace))
	defer func() { done(err) }()

	if buyer.ID == "" {
		return domain.Order{}, domain.ErrUnauthenticated
	}
	if draft.StoreID == "" {
		return domain.Order{}, domain.ErrStoreIDRequired
	}
	if len(draft.Items) == 0 {
		return domain.Order{}, domain.ErrItemsRequired
	}
	if !draft.DeliveryMethod.Valid() {
		return domain.Order{}, &domain.ValidationError{Step: domain.CheckoutStepDelivery, Field: "delivery_method", Message: "unsupported delivery method"}
	}
	if draft.DeliveryMethod == domain.DeliveryMethodDelivery && strings.TrimSpace(draft.DeliveryAddress) == "" {
		return domain.Order{}, &domain.ValidationError{Step: domain.CheckoutStepDelivery, Field: "delivery_address", Message: "delivery address is required"}
	}
	if !draft.Payment.Method.Valid() {
		return domain.Order{}, &domain.ValidationError{Step: domain.CheckoutStepPayment, Field: "payment_method", Message: "unsupported payment method"}
	}
	if draft.DeliveryFeeMinor != s.pricing.DeliveryFee(draft.DeliveryMethod) {
		return domain.Order{}, domain.ErrDeliveryFeeMismatch
	}

	orderID := uuid.NewString()
	now := s.now()

	items, storeName, err := s.snapshotItems(ctx, orderID, draft)
	if err != nil {
		return domain.Order{}, err
	}

	order = domain.Order{
		ID:              orderID,
		Number:          domain.FormatOrderNumber(now, strings.ToUpper(strings.ReplaceAll(orderID, "-", ""))),
		BuyerID:         buyer.ID,
		StoreID:         draft.StoreID,
		StoreName:       storeName,
		Status:          domain.OrderStatusPending,
		Items:           items,
		DeliveryMethod:  draft.DeliveryMethod,
		DeliveryNotes:   draft.DeliveryNotes,
		BuyerNote:       draft.BuyerNote,
		BuyerPhone:      buyer.PhoneNumber,
		InstitutionID:   draft.InstitutionID,
		HallID:          draft.HallID,
		PaymentMethod:   draft.Payment.Method,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if draft.DeliveryMethod == domain.DeliveryMethodDelivery {
		order.DeliveryAddress = strings.TrimSpace(draft.DeliveryAddress)
	}
	if draft.Payment.MobileMoney != nil {
		order.PaymentProvider = draft.Payment.MobileMoney.Provider
		if phone := draft.Payment.PhoneNumber(); phone != "" {
			order.BuyerPhone = phone
		}
	}

	var subtotal int64
	for _, item := range items {
		subtotal += item.LineTotalMinor()
	}
	order.ApplyPricing(s.pricing.Quote(subtotal, draft.DeliveryMethod, 0))

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	if s.inventory != nil {
		if err := s.inventory.Reserve(ctx, order.ID, order.Items); err != nil {
			return domain.Order{}, fmt.Errorf("reserve stock: %w", err)
		}
	}
	if err := s.orders.Create(order); err != nil {
		s.releaseInventory(ctx, &order)
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"number":      order.Number,
		"store_id":    order.StoreID,
		"total_minor": order.TotalMinor,
	}).Info("order placed")
	s.metrics.RecordOrderPlaced(order.TotalMinor)
	s.emit(&order, kafka.EventTypeOrderPlaced, "", map[string]interface{}{
		"total_minor":     order.TotalMinor,
		"currency":        order.Currency,
		"delivery_method": string(order.DeliveryMethod),
		"items_count":     len(order.Items),
	})
	return order, nil
}

// snapshotItems фиксирует название, изображение и цену товаров на момент оформления.
func (s *Service) snapshotItems(ctx context.Context, orderID string, draft domain.OrderDraft) ([]domain.OrderItem, string, error) {
	items := make([]domain.OrderItem, 0, len(draft.Items))
	var storeName string

	for i, line := range draft.Items {
		if line.ProductID == "" {
			return nil, "", domain.ErrProductIDRequired
		}
		if line.Quantity <= 0 {
			return nil, "", domain.ErrItemQtyInvalid
		}
		product, err := s.catalog.Product(ctx, line.ProductID)
		if err != nil {
			return nil, "", fmt.Errorf("product %s: %w", line.ProductID, err)
		}
		if product.StoreID != draft.StoreID {
			return nil, "", domain.ErrCartStoreMismatch
		}
		if !product.InStock() || product.AvailableQty < line.Quantity {
			return nil, "", fmt.Errorf("product %s: %w", line.ProductID, domain.ErrOutOfStock)
		}
		storeName = product.StoreName
		items = append(items, domain.OrderItem{
			ID:             fmt.Sprintf("%s-%d", orderID, i+1),
			ProductID:      product.ID,
			Name:           product.Name,
			Image:          product.Image,
			UnitPriceMinor: product.PriceMinor,
			Quantity:       line.Quantity,
		})
	}
	return items, storeName, nil
}

// Pay списывает оплату через шлюз. Ответ pending оставляет заказ неоплаченным
// до уведомления шлюза, failed возвращает ErrPaymentDeclined.
func (s *Service) Pay(ctx context.Context, orderID string, selection domain.PaymentSelection) (order domain.Order, err error) {
	done := s.metrics.StartOperation(string(domain.LifecycleOpPay))
	defer func() { done(err) }()

	if s.payments == nil {
		return domain.Order{}, errors.New("lifecycle: payment gateway is not configured")
	}
	order, err = s.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderStatusPending {
		if !order.PaidAt.IsZero() {
			return order, nil
		}
		return domain.Order{}, &domain.TransitionError{From: order.Status, To: domain.OrderStatusPaid}
	}
	if !selection.Method.Valid() {
		selection = domain.PaymentSelection{Method: order.PaymentMethod}
		if order.PaymentMethod == domain.PaymentMethodMobileMoney {
			selection = domain.MobileMoney(order.PaymentProvider, order.BuyerPhone)
		}
	}

	result, err := s.payments.Charge(ctx, order, selection)
	if err != nil {
		return domain.Order{}, fmt.Errorf("charge order %s: %w", order.ID, err)
	}

	switch result.Status {
	case domain.PaymentStatusCaptured, domain.PaymentStatusAuthorized:
		return s.markPaid(ctx, orderID, result.Reference)
	case domain.PaymentStatusPending:
		s.logger.WithFields(log.Fields{
			"order_id":    order.ID,
			"payment_ref": result.Reference,
		}).Info("payment pending, waiting for gateway callback")
		return order, nil
	case domain.PaymentStatusFailed:
		return domain.Order{}, domain.ErrPaymentDeclined
	default:
		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"status":   result.Status,
		}).Warn("unexpected payment status")
		return domain.Order{}, domain.ErrPaymentIndeterminate
	}
}

// MarkPaid подтверждает оплату и открывает удержание средств.
// Повторное подтверждение оплаченного заказа ничего не меняет.
func (s *Service) MarkPaid(ctx context.Context, orderID, paymentRef string) (order domain.Order, err error) {
	done := s.metrics.StartOperation(string(domain.LifecycleOpPay))
	defer func() { done(err) }()

	return s.markPaid(ctx, orderID, paymentRef)
}

func (s *Service) markPaid(ctx context.Context, orderID, paymentRef string) (domain.Order, error) {
	var escrow domain.Escrow
	order, from, applied, err := s.mutate(ctx, orderID, func(order *domain.Order, now time.Time) (change, error) {
		if order.Status != domain.OrderStatusPending && !order.PaidAt.IsZero() {
			return change{noop: true}, nil
		}
		if err := order.TransitionTo(domain.OrderStatusPaid, now); err != nil {
			return change{}, err
		}
		order.PaymentRef = strings.TrimSpace(paymentRef)
		escrow = domain.NewEscrow(uuid.NewString(), *order, s.pricing, now)
		return change{escrow: &escrow}, nil
	})
	var transition *domain.TransitionError
	if errors.As(err, &transition) && transition.From == domain.OrderStatusCancelled {
		return s.reverseCharge(ctx, orderID, paymentRef)
	}
	if err != nil || !applied {
		return order, err
	}

	s.metrics.RecordTransition(string(from), string(order.Status))
	s.emit(&order, kafka.EventTypeOrderPaid, "", map[string]interface{}{
		"payment_ref":         order.PaymentRef,
		"escrow_id":           escrow.ID,
		"hold_until":          escrow.HoldUntil.Format(time.RFC3339Nano),
		"seller_amount_minor": escrow.SellerAmountMinor,
	})
	return order, nil
}

// StartProcessing — продавец начал собирать заказ.
func (s *Service) StartProcessing(ctx context.Context, orderID, storeID string) (domain.Order, error) {
	return s.sellerTransition(ctx, domain.LifecycleOpProcess, orderID, storeID, domain.OrderStatusProcessing)
}

// Ship — заказ передан в доставку.
func (s *Service) Ship(ctx context.Context, orderID, storeID string) (domain.Order, error) {
	return s.sellerTransition(ctx, domain.LifecycleOpShip, orderID, storeID, domain.OrderStatusShipped)
}

// MarkDelivered — продавец отметил вручение. Без отправки допустимо только для самовывоза.
func (s *Service) MarkDelivered(ctx context.Context, orderID, storeID string) (domain.Order, error) {
	return s.sellerTransition(ctx, domain.LifecycleOpDeliver, orderID, storeID, domain.OrderStatusDelivered)
}

// sellerTransition выполняет переход от имени магазина. Пустой storeID —
// оператор платформы без проверки принадлежности.
func (s *Service) sellerTransition(ctx context.Context, op domain.LifecycleOp, orderID, storeID string, to domain.OrderStatus) (order domain.Order, err error) {
	done := s.metrics.StartOperation(string(op))
	defer func() { done(err) }()

	order, from, applied, err := s.mutate(ctx, orderID, func(order *domain.Order, now time.Time) (change, error) {
		if storeID != "" && order.StoreID != storeID {
			return change{}, domain.ErrOrderAccessDenied
		}
		if order.Status == to {
			return change{noop: true}, nil
		}
		return change{}, order.TransitionTo(to, now)
	})
	if err != nil || !applied {
		return order, err
	}

	s.metrics.RecordTransition(string(from), string(order.Status))
	s.emit(&order, kafka.EventTypeOrderStatusChanged, "", map[string]interface{}{
		"from": string(from),
	})
	return order, nil
}

// ConfirmDelivery — покупатель подтвердил получение: заказ завершается,
// удержание переводится продавцу одной записью.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, buyerID string) (order domain.Order, err error) {
	done := s.metrics.StartOperation(string(domain.LifecycleOpConfirm))
	defer func() { done(err) }()

	var (
		escrow   domain.Escrow
		released bool
	)
	order, from, applied, err := s.mutate(ctx, orderID, func(order *domain.Order, now time.Time) (change, error) {
		if order.BuyerID != buyerID {
			return change{}, domain.ErrOrderAccessDenied
		}
		if order.Status == domain.OrderStatusCompleted {
			return change{noop: true}, nil
		}
		if err := order.TransitionTo(domain.OrderStatusCompleted, now); err != nil {
			return change{}, err
		}

		released = false
		current, err := s.orders.GetEscrow(order.ID)
		switch {
		case errors.Is(err, domain.ErrEscrowNotFound):
			return change{}, nil
		case err != nil:
			return change{}, err
		}
		escrow = current
		if escrow.Release(now) != nil {
			return change{}, nil
		}
		released = true
		return change{escrow: &escrow}, nil
	})
	if err != nil || !applied {
		return order, err
	}

	s.metrics.RecordTransition(string(from), string(order.Status))
	s.emit(&order, kafka.EventTypeOrderStatusChanged, "", map[string]interface{}{
		"from": string(from),
	})
	if released {
		s.recordRelease(&order, escrow, "buyer confirmed delivery")
	}
	return order, nil
}

// Cancel отменяет заказ до отправки. Оплаченный заказ возвращается через шлюз,
// удержание закрывается как возвращённое, остатки освобождаются.
// Удержание, уже переведённое продавцу, блокирует отмену с ErrEscrowNotHolding.
func (s *Service) Cancel(ctx context.Context, orderID, buyerID, reason string) (order domain.Order, err error) {
	done := s.metrics.StartOperation(string(domain.LifecycleOpCancel))
	defer func() { done(err) }()

	reason = strings.TrimSpace(reason)
	var (
		before domain.Order
		held   *domain.Escrow
	)
	// Статус фиксируется до обращения к шлюзу: параллельный Ship или
	// повторная отмена увидят cancelled и не пройдут.
	order, from, applied, err := s.mutate(ctx, orderID, func(order *domain.Order, now time.Time) (change, error) {
		if buyerID != "" && order.BuyerID != buyerID {
			return change{}, domain.ErrOrderAccessDenied
		}
		if order.Status == domain.OrderStatusCancelled {
			return change{noop: true}, nil
		}
		before, held = *order, nil
		if err := order.TransitionTo(domain.OrderStatusCancelled, now); err != nil {
			return change{}, err
		}
		order.CancelReason = reason
		if before.Status != domain.OrderStatusPaid {
			return change{}, nil
		}
		ch, prior, err := s.claimEscrowRefund(order.ID, before.Status, now)
		held = prior
		return ch, err
	})
	if err != nil || !applied {
		return order, err
	}

	if from == domain.OrderStatusPaid {
		if err := s.refundPayment(ctx, before); err != nil {
			s.restore(ctx, before, held)
			return domain.Order{}, err
		}
	}

	s.releaseInventory(ctx, &order)
	s.metrics.RecordTransition(string(from), string(order.Status))
	s.emit(&order, kafka.EventTypeOrderCanceled, reason, map[string]interface{}{
		"from": string(from),
	})
	return order, nil
}

// RequestRefund регистрирует заявку на возврат. Статус заказа не меняется до рассмотрения.
func (s *Service) RequestRefund(ctx context.Context, orderID, buyerID, reason string) (req domain.RefundRequest, err error) {
	done := s.metrics.StartOperation(string(domain.LifecycleOpRefundRequest))
	defer func() { done(err) }()

	if s.refunds == nil {
		return domain.RefundRequest{}, errors.New("lifecycle: refund repository is not configured")
	}
	order, err := s.orders.Get(orderID)
	if err != nil {
		return domain.RefundRequest{}, err
	}
	if order.BuyerID != buyerID {
		return domain.RefundRequest{}, domain.ErrOrderAccessDenied
	}
	if !order.CanTransitionTo(domain.OrderStatusRefunded) {
		return domain.RefundRequest{}, &domain.TransitionError{From: order.Status, To: domain.OrderStatusRefunded}
	}

	req, err = domain.NewRefundRequest(uuid.NewString(), order.ID, buyerID, reason, s.now())
	if err != nil {
		return domain.RefundRequest{}, err
	}
	if err := s.refunds.Create(req); err != nil {
		return domain.RefundRequest{}, err
	}

	s.emit(&order, kafka.EventTypeOrderRefundRequested, req.Reason, map[string]interface{}{
		"refund_request_id": req.ID,
	})
	return req, nil
}

// ResolveRefund рассматривает заявку. Одобрение возвращает деньги через шлюз
// и переводит заказ в refunded, отказ только закрывает заявку.
func (s *Service) ResolveRefund(ctx context.Context, requestID string, approve bool, note string) (req domain.RefundRequest, order domain.Order, err error) {
	done := s.metrics.StartOperation(string(domain.LifecycleOpRefund))
	defer func() { done(err) }()

	if s.refunds == nil {
		return domain.RefundRequest{}, domain.Order{}, errors.New("lifecycle: refund repository is not configured")
	}
	req, err = s.refunds.Get(requestID)
	if err != nil {
		return domain.RefundRequest{}, domain.Order{}, err
	}
	if !req.Open() {
		return domain.RefundRequest{}, domain.Order{}, domain.ErrRefundRequestResolved
	}

	if !approve {
		if err := req.Resolve(false, note, s.now()); err != nil {
			return domain.RefundRequest{}, domain.Order{}, err
		}
		if err := s.refunds.Save(req); err != nil {
			return domain.RefundRequest{}, domain.Order{}, err
		}
		order, err = s.orders.Get(req.OrderID)
		if err != nil {
			return req, domain.Order{}, err
		}
		s.emit(&order, kafka.EventTypeOrderRefundRejected, req.ReviewNote, map[string]interface{}{
			"refund_request_id": req.ID,
		})
		return req, order, nil
	}

	var (
		before domain.Order
		held   *domain.Escrow
	)
	order, from, _, err := s.mutate(ctx, req.OrderID, func(order *domain.Order, now time.Time) (change, error) {
		before, held = *order, nil
		if err := order.TransitionTo(domain.OrderStatusRefunded, now); err != nil {
			return change{}, err
		}
		ch, prior, err := s.claimEscrowRefund(order.ID, before.Status, now)
		held = prior
		return ch, err
	})
	if err != nil {
		return domain.RefundRequest{}, domain.Order{}, err
	}
	if err := s.refundPayment(ctx, before); err != nil {
		s.restore(ctx, before, held)
		return domain.RefundRequest{}, domain.Order{}, err
	}

	if err := req.Resolve(true, note, s.now()); err != nil {
		return domain.RefundRequest{}, order, err
	}
	if err := s.refunds.Save(req); err != nil {
		return domain.RefundRequest{}, order, err
	}

	s.metrics.RecordTransition(string(from), string(order.Status))
	s.emit(&order, kafka.EventTypeOrderRefunded, req.Reason, map[string]interface{}{
		"from":              string(from),
		"refund_request_id": req.ID,
		"amount_minor":      order.TotalMinor,
	})
	return req, order, nil
}

// OpenDispute переводит заказ в спор. Удержание остаётся на платформе
// и автоматически не переводится.
func (s *Service) OpenDispute(ctx context.Context, orderID, reason string) (order domain.Order, err error) {
	done := s.metrics.StartOperation(string(domain.LifecycleOpDispute))
	defer func() { done(err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Order{}, domain.ErrReasonRequired
	}

	order, from, applied, err := s.mutate(ctx, orderID, func(order *domain.Order, now time.Time) (change, error) {
		if order.Status == domain.OrderStatusDisputed {
			return change{noop: true}, nil
		}
		return change{}, order.TransitionTo(domain.OrderStatusDisputed, now)
	})
	if err != nil || !applied {
		return order, err
	}

	s.metrics.RecordTransition(string(from), string(order.Status))
	s.emit(&order, kafka.EventTypeOrderDisputed, reason, map[string]interface{}{
		"from": string(from),
	})
	return order, nil
}

// ReleaseDueEscrows переводит продавцам удержания с истёкшим сроком.
// Заказы в споре, отменённые и возвращённые пропускаются, вручённый заказ
// завершается той же записью.
func (s *Service) ReleaseDueEscrows(ctx context.Context, now time.Time, limit int) (ReleaseResult, error) {
	var result ReleaseResult
	if now.IsZero() {
		now = s.now()
	}

	due, err := s.orders.ListDueEscrows(now, limit)
	if err != nil {
		return result, fmt.Errorf("list due escrows: %w", err)
	}

	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		released, completed, err := s.releaseEscrow(ctx, candidate.OrderID, now)
		switch {
		case err != nil:
			result.Failed++
			s.logger.WithError(err).WithField("order_id", candidate.OrderID).Warn("escrow release failed")
		case !released:
			result.Skipped++
		default:
			result.Released++
			if completed {
				result.Completed++
			}
		}
	}
	return result, nil
}

func (s *Service) releaseEscrow(ctx context.Context, orderID string, now time.Time) (released, completed bool, err error) {
	done := s.metrics.StartOperation(string(domain.LifecycleOpRelease))
	defer func() { done(err) }()

	var escrow domain.Escrow
	order, from, applied, err := s.mutate(ctx, orderID, func(order *domain.Order, _ time.Time) (change, error) {
		switch order.Status {
		case domain.OrderStatusDisputed, domain.OrderStatusCancelled, domain.OrderStatusRefunded:
			return change{noop: true}, nil
		}

		current, err := s.orders.GetEscrow(order.ID)
		if err != nil {
			return change{}, err
		}
		if !current.Due(now) {
			return change{noop: true}, nil
		}
		escrow = current
		if err := escrow.Release(now); err != nil {
			return change{}, err
		}
		if order.Status == domain.OrderStatusDelivered {
			if err := order.TransitionTo(domain.OrderStatusCompleted, now); err != nil {
				return change{}, err
			}
		} else {
			order.UpdatedAt = now
		}
		return change{escrow: &escrow}, nil
	})
	if err != nil || !applied {
		return false, false, err
	}

	completed = from != order.Status
	if completed {
		s.metrics.RecordTransition(string(from), string(order.Status))
		s.emit(&order, kafka.EventTypeOrderStatusChanged, "escrow hold expired", map[string]interface{}{
			"from": string(from),
		})
	}
	s.recordRelease(&order, escrow, "escrow hold expired")
	return true, completed, nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(_ context.Context, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	return s.orders.Get(orderID)
}

// GetForBuyer возвращает заказ, только если он принадлежит покупателю.
func (s *Service) GetForBuyer(ctx context.Context, orderID, buyerID string) (domain.Order, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.BuyerID != buyerID {
		return domain.Order{}, domain.ErrOrderAccessDenied
	}
	return order, nil
}

// ListByBuyer возвращает заказы покупателя, новые первыми.
func (s *Service) ListByBuyer(_ context.Context, buyerID string, limit int) ([]domain.Order, error) {
	if buyerID == "" {
		return nil, domain.ErrBuyerRequired
	}
	return s.orders.ListByBuyer(buyerID, normalizeLimit(limit))
}

// ListByStore возвращает заказы магазина, новые первыми.
func (s *Service) ListByStore(_ context.Context, storeID string, limit int) ([]domain.Order, error) {
	if storeID == "" {
		return nil, domain.ErrStoreIDRequired
	}
	return s.orders.ListByStore(storeID, normalizeLimit(limit))
}

// Timeline возвращает историю событий заказа.
func (s *Service) Timeline(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if s.timeline == nil {
		return []domain.TimelineEvent{}, nil
	}
	return s.timeline.List(orderID)
}

// Escrow возвращает удержание по заказу.
func (s *Service) Escrow(_ context.Context, orderID string) (domain.Escrow, error) {
	return s.orders.GetEscrow(orderID)
}

// RefundRequests возвращает заявки на возврат по заказу.
func (s *Service) RefundRequests(_ context.Context, orderID string) ([]domain.RefundRequest, error) {
	if s.refunds == nil {
		return []domain.RefundRequest{}, nil
	}
	return s.refunds.ListByOrder(orderID)
}

// change описывает результат изменения заказа внутри mutate.
type change struct {
	escrow *domain.Escrow // сохраняется вместе с заказом
	noop   bool           // заказ уже в нужном состоянии
}

// mutate перечитывает заказ, применяет apply и сохраняет результат.
// При конфликте версий попытка повторяется на свежей копии с экспоненциальной паузой.
func (s *Service) mutate(ctx context.Context, orderID string, apply func(order *domain.Order, now time.Time) (change, error)) (domain.Order, domain.OrderStatus, bool, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, "", false, domain.ErrOrderIDRequired
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		order, err := s.orders.Get(orderID)
		if err != nil {
			return domain.Order{}, "", false, err
		}
		from := order.Status

		ch, err := apply(&order, s.now())
		if err != nil {
			return domain.Order{}, from, false, err
		}
		if ch.noop {
			return order, from, false, nil
		}

		if ch.escrow != nil {
			err = s.orders.SaveWithEscrow(order, *ch.escrow)
		} else {
			err = s.orders.Save(order)
		}
		if err == nil {
			order.Version++
			return order, from, true, nil
		}
		if !domain.IsVersionConflict(err) || attempt == s.maxRetries-1 {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": orderID,
				"attempt":  attempt + 1,
			}).Error("failed to persist order")
			return domain.Order{}, from, false, err
		}

		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")

		delay := s.baseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return domain.Order{}, from, false, ctx.Err()
		case <-time.After(delay):
		}
	}
	return domain.Order{}, "", false, domain.ErrOrderVersionConflict
}

func (s *Service) refundPayment(ctx context.Context, order domain.Order) error {
	if s.payments == nil {
		return errors.New("lifecycle: payment gateway is not configured")
	}
	result, err := s.payments.Refund(ctx, order)
	if err != nil {
		return fmt.Errorf("refund order %s: %w", order.ID, err)
	}
	if result.Status != domain.PaymentStatusRefunded {
		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"status":   result.Status,
		}).Warn("unexpected refund status")
		return domain.ErrPaymentIndeterminate
	}
	return nil
}

// claimEscrowRefund закрывает удержание как возвращённое покупателю.
// У завершённого заказа деньги уже у продавца, удержание остаётся released.
// В остальных случаях удержание должно быть holding, иначе ErrEscrowNotHolding.
func (s *Service) claimEscrowRefund(orderID string, from domain.OrderStatus, now time.Time) (change, *domain.Escrow, error) {
	escrow, err := s.orders.GetEscrow(orderID)
	if errors.Is(err, domain.ErrEscrowNotFound) {
		return change{}, nil, nil
	}
	if err != nil {
		return change{}, nil, err
	}
	if from == domain.OrderStatusCompleted && escrow.Status == domain.EscrowStatusReleased {
		return change{}, nil, nil
	}
	prior := escrow
	if err := escrow.Refund(now); err != nil {
		return change{}, nil, err
	}
	return change{escrow: &escrow}, &prior, nil
}

// restore откатывает заказ и удержание к снимку before после отказа шлюза.
// Заказ в этот момент в конечном статусе, поэтому снимок не затирает чужих изменений.
func (s *Service) restore(ctx context.Context, before domain.Order, escrow *domain.Escrow) {
	_, _, _, err := s.mutate(context.WithoutCancel(ctx), before.ID, func(order *domain.Order, _ time.Time) (change, error) {
		version := order.Version
		*order = before
		order.Version = version
		if escrow == nil {
			return change{}, nil
		}
		held := *escrow
		return change{escrow: &held}, nil
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": before.ID,
			"status":   before.Status,
		}).Error("gateway refund failed and order was not restored")
	}
}

// reverseCharge возвращает списание, подтверждённое уже после отмены
// неоплаченного заказа. Повтор с тем же paymentRef ничего не меняет.
func (s *Service) reverseCharge(ctx context.Context, orderID, paymentRef string) (domain.Order, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	var before domain.Order
	order, _, applied, err := s.mutate(ctx, orderID, func(order *domain.Order, now time.Time) (change, error) {
		if order.Status != domain.OrderStatusCancelled {
			return change{}, &domain.TransitionError{From: order.Status, To: domain.OrderStatusPaid}
		}
		if paymentRef != "" && order.PaymentRef == paymentRef {
			return change{noop: true}, nil
		}
		before = *order
		order.PaymentRef = paymentRef
		order.UpdatedAt = now
		return change{}, nil
	})
	if err != nil || !applied {
		return order, err
	}

	fields := log.Fields{
		"order_id":    order.ID,
		"payment_ref": paymentRef,
		"total_minor": order.TotalMinor,
	}
	if err := s.refundPayment(ctx, order); err != nil {
		s.restore(ctx, before, nil)
		s.logger.WithError(err).WithFields(fields).Error("charge captured for cancelled order, refund failed")
		return domain.Order{}, fmt.Errorf("reverse charge of cancelled order %s: %w", orderID, err)
	}

	s.logger.WithFields(fields).Warn("charge captured for cancelled order was refunded")
	s.emit(&order, kafka.EventTypePaymentReversed, "order cancelled before payment was confirmed", map[string]interface{}{
		"payment_ref":  paymentRef,
		"amount_minor": order.TotalMinor,
	})
	return order, nil
}

func (s *Service) recordRelease(order *domain.Order, escrow domain.Escrow, reason string) {
	s.metrics.RecordEscrowReleased(escrow.SellerAmountMinor)
	s.logger.WithFields(log.Fields{
		"order_id":            order.ID,
		"escrow_id":           escrow.ID,
		"seller_amount_minor": escrow.SellerAmountMinor,
	}).Info("escrow released")
	s.emit(order, kafka.EventTypeEscrowReleased, reason, map[string]interface{}{
		"escrow_id":           escrow.ID,
		"seller_amount_minor": escrow.SellerAmountMinor,
		"platform_fee_minor":  escrow.PlatformFeeMinor,
	})
}

func (s *Service) releaseInventory(ctx context.Context, order *domain.Order) {
	if s.inventory == nil {
		return
	}
	if err := s.inventory.Release(ctx, order.ID, order.Items); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("release stock failed")
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
