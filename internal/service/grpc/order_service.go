package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
	"github.com/vladislavdragonenkov/campusmart/internal/service/idempotency"
	"github.com/vladislavdragonenkov/campusmart/internal/service/lifecycle"
)

// OrderOps — операции жизненного цикла, доступные back-office.
type OrderOps interface {
	MarkPaid(ctx context.Context, orderID, paymentRef string) (domain.Order, error)
	StartProcessing(ctx context.Context, orderID, storeID string) (domain.Order, error)
	Ship(ctx context.Context, orderID, storeID string) (domain.Order, error)
	MarkDelivered(ctx context.Context, orderID, storeID string) (domain.Order, error)
	ResolveRefund(ctx context.Context, requestID string, approve bool, note string) (domain.RefundRequest, domain.Order, error)
	OpenDispute(ctx context.Context, orderID, reason string) (domain.Order, error)
	Get(ctx context.Context, orderID string) (domain.Order, error)
	ListByStore(ctx context.Context, storeID string, limit int) ([]domain.Order, error)
	Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
	Escrow(ctx context.Context, orderID string) (domain.Escrow, error)
	RefundRequests(ctx context.Context, orderID string) ([]domain.RefundRequest, error)
}

var _ OrderOps = (*lifecycle.Service)(nil)

const (
	idempotencyKeyHeader = "idempotency-key"

	defaultListOrdersLimit = 100
	maxListOrdersLimit     = 500
)

// OrderService реализует back-office gRPC API поверх сервиса жизненного цикла.
type OrderService struct {
	ops    OrderOps
	guard  *idempotency.Guard
	logger *log.Entry
}

var _ OrderOpsServer = (*OrderService)(nil)

// NewOrderService конструирует сервис. С guard изменяющие вызовы требуют
// metadata idempotency-key.
func NewOrderService(ops OrderOps, guard *idempotency.Guard, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "order-ops")
	}
	return &OrderService{
		ops:    ops,
		guard:  guard,
		logger: logger,
	}
}

// MarkPaid подтверждает оплату, например после ручной сверки с провайдером.
func (s *OrderService) MarkPaid(ctx context.Context, req *MarkPaidRequest) (*OrderResponse, error) {
	if req == nil || strings.TrimSpace(req.OrderID) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	if strings.TrimSpace(req.PaymentRef) == "" {
		return nil, status.Error(codes.InvalidArgument, "payment_ref is required")
	}

	return withIdempotency(s, ctx, methodMarkPaid, req, func(ctx context.Context) (*OrderResponse, error) {
		order, err := s.ops.MarkPaid(ctx, req.OrderID, req.PaymentRef)
		if err != nil {
			return nil, s.statusError(err, methodMarkPaid, req.OrderID)
		}
		return &OrderResponse{Order: toOrder(order)}, nil
	})
}

// StartProcessing переводит оплаченный заказ в сборку.
func (s *OrderService) StartProcessing(ctx context.Context, req *TransitionRequest) (*OrderResponse, error) {
	return s.transition(ctx, methodStartProcessing, req, s.ops.StartProcessing)
}

// Ship отмечает передачу заказа в доставку.
func (s *OrderService) Ship(ctx context.Context, req *TransitionRequest) (*OrderResponse, error) {
	return s.transition(ctx, methodShip, req, s.ops.Ship)
}

// MarkDelivered отмечает вручение заказа.
func (s *OrderService) MarkDelivered(ctx context.Context, req *TransitionRequest) (*OrderResponse, error) {
	return s.transition(ctx, methodMarkDelivered, req, s.ops.MarkDelivered)
}

func (s *OrderService) transition(
	ctx context.Context,
	method string,
	req *TransitionRequest,
	apply func(ctx context.Context, orderID, storeID string) (domain.Order, error),
) (*OrderResponse, error) {
	if req == nil || strings.TrimSpace(req.OrderID) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	return withIdempotency(s, ctx, method, req, func(ctx context.Context) (*OrderResponse, error) {
		order, err := apply(ctx, req.OrderID, strings.TrimSpace(req.StoreID))
		if err != nil {
			return nil, s.statusError(err, method, req.OrderID)
		}
		return &OrderResponse{Order: toOrder(order)}, nil
	})
}

// ResolveRefund одобряет или отклоняет заявку на возврат.
func (s *OrderService) ResolveRefund(ctx context.Context, req *ResolveRefundRequest) (*ResolveRefundResponse, error) {
	if req == nil || strings.TrimSpace(req.RequestID) == "" {
		return nil, status.Error(codes.InvalidArgument, "request_id is required")
	}

	return withIdempotency(s, ctx, methodResolveRefund, req, func(ctx context.Context) (*ResolveRefundResponse, error) {
		refund, order, err := s.ops.ResolveRefund(ctx, req.RequestID, req.Approve, req.Note)
		if err != nil {
			return nil, s.statusError(err, methodResolveRefund, refund.OrderID)
		}
		return &ResolveRefundResponse{Refund: toRefundRequest(refund), Order: toOrder(order)}, nil
	})
}

// OpenDispute открывает спор и замораживает автоматическую выплату.
func (s *OrderService) OpenDispute(ctx context.Context, req *OpenDisputeRequest) (*OrderResponse, error) {
	if req == nil || strings.TrimSpace(req.OrderID) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	return withIdempotency(s, ctx, methodOpenDispute, req, func(ctx context.Context) (*OrderResponse, error) {
		order, err := s.ops.OpenDispute(ctx, req.OrderID, req.Reason)
		if err != nil {
			return nil, s.statusError(err, methodOpenDispute, req.OrderID)
		}
		return &OrderResponse{Order: toOrder(order)}, nil
	})
}

// GetOrder возвращает заказ, его историю, удержание и заявки на возврат.
func (s *OrderService) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	if req == nil || strings.TrimSpace(req.OrderID) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	order, err := s.ops.Get(ctx, req.OrderID)
	if err != nil {
		return nil, s.statusError(err, methodGetOrder, req.OrderID)
	}
	if storeID := strings.TrimSpace(req.StoreID); storeID != "" && order.StoreID != storeID {
		return nil, s.statusError(domain.ErrOrderAccessDenied, methodGetOrder, req.OrderID)
	}

	resp := &GetOrderResponse{Order: toOrder(order), Refunds: []*RefundRequest{}}

	entry := s.logger.WithField("order_id", order.ID)
	if events, err := s.ops.Timeline(ctx, order.ID); err != nil {
		entry.WithError(err).Warn("failed to list timeline events")
	} else {
		resp.Timeline = toTimeline(events)
	}

	escrow, err := s.ops.Escrow(ctx, order.ID)
	switch {
	case err == nil:
		resp.Escrow = toEscrow(escrow)
	case errors.Is(err, domain.ErrEscrowNotFound):
	default:
		entry.WithError(err).Warn("failed to load escrow")
	}

	if refunds, err := s.ops.RefundRequests(ctx, order.ID); err != nil {
		entry.WithError(err).Warn("failed to list refund requests")
	} else {
		for _, refund := range refunds {
			resp.Refunds = append(resp.Refunds, toRefundRequest(refund))
		}
	}

	return resp, nil
}

// ListStoreOrders возвращает последние заказы магазина.
func (s *OrderService) ListStoreOrders(ctx context.Context, req *ListStoreOrdersRequest) (*ListStoreOrdersResponse, error) {
	if req == nil || strings.TrimSpace(req.StoreID) == "" {
		return nil, status.Error(codes.InvalidArgument, "store_id is required")
	}

	limit := int(req.PageSize)
	if limit <= 0 {
		limit = defaultListOrdersLimit
	}
	if limit > maxListOrdersLimit {
		limit = maxListOrdersLimit
	}

	orders, err := s.ops.ListByStore(ctx, req.StoreID, limit)
	if err != nil {
		return nil, s.statusError(err, methodListStoreOrders, "")
	}

	result := make([]*Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, toOrder(order))
	}
	return &ListStoreOrdersResponse{Orders: result}, nil
}

// statusError переводит доменную ошибку в gRPC status. Внутренние ошибки
// логируются и наружу уходят без подробностей.
func (s *OrderService) statusError(err error, method, orderID string) error {
	code := codeFor(err)
	entry := s.logger.WithError(err).WithFields(log.Fields{
		"method":   method,
		"order_id": orderID,
		"code":     code.String(),
	})
	if code == codes.Internal {
		entry.Error("order operation failed")
		return status.Error(codes.Internal, "internal error")
	}
	entry.Warn("order operation rejected")
	return status.Error(code, err.Error())
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, domain.ErrStoreIDRequired),
		errors.Is(err, domain.ErrReasonRequired),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrRefundRequestNotFound),
		errors.Is(err, domain.ErrEscrowNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrOrderAccessDenied):
		return codes.PermissionDenied
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrEscrowNotHolding),
		errors.Is(err, domain.ErrRefundRequestResolved),
		errors.Is(err, domain.ErrRefundAlreadyRequested),
		errors.Is(err, domain.ErrPaymentDeclined):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrOrderVersionConflict),
		errors.Is(err, domain.ErrIdempotencyInProgress):
		return codes.Aborted
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrPaymentTemporary),
		errors.Is(err, domain.ErrPaymentIndeterminate),
		errors.Is(err, lifecycle.ErrCircuitOpen):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// withIdempotency выполняет изменяющий вызов не более одного раза на ключ.
// Успешный ответ воспроизводится из хранилища, после ошибки ключ можно использовать повторно.
func withIdempotency[T any](
	s *OrderService,
	ctx context.Context,
	method string,
	req any,
	handler func(context.Context) (*T, error),
) (*T, error) {
	if s.guard == nil {
		return handler(ctx)
	}

	key, err := readIdempotencyKey(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("failed to build idempotency request hash")
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	var fresh *T
	cached, replayed, err := s.guard.Execute(key, idempotency.HashRequest([]byte(fullMethod(method)), payload), func() (idempotency.Response, error) {
		resp, err := handler(ctx)
		if err != nil {
			return idempotency.Response{}, err
		}
		body, err := json.Marshal(resp)
		if err != nil {
			return idempotency.Response{}, status.Error(codes.Internal, "failed to encode response")
		}
		fresh = resp
		return idempotency.Response{Status: int(codes.OK), Body: body}, nil
	})
	if err != nil {
		if _, ok := status.FromError(err); ok {
			return nil, err
		}
		return nil, s.statusError(err, method, "")
	}
	if !replayed {
		return fresh, nil
	}

	resp := new(T)
	if err := json.Unmarshal(cached.Body, resp); err != nil {
		s.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to decode cached idempotency response")
		return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
	}
	return resp, nil
}

func readIdempotencyKey(ctx context.Context) (string, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}

	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		values := md.Get(idempotencyKeyHeader)
		if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0]), nil
		}
	}

	return "", status.Error(codes.InvalidArgument, "idempotency-key metadata is required")
}
