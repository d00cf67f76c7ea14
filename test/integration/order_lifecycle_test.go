package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
	"github.com/vladislavdragonenkov/campusmart/internal/service/checkout"
	"github.com/vladislavdragonenkov/campusmart/internal/service/escrow"
	grpcsvc "github.com/vladislavdragonenkov/campusmart/internal/service/grpc"
	"github.com/vladislavdragonenkov/campusmart/internal/service/idempotency"
	"github.com/vladislavdragonenkov/campusmart/internal/service/inventory"
	"github.com/vladislavdragonenkov/campusmart/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/campusmart/internal/service/outbox"
	"github.com/vladislavdragonenkov/campusmart/internal/service/payment"
	"github.com/vladislavdragonenkov/campusmart/internal/storage/memory"
	"github.com/vladislavdragonenkov/campusmart/internal/transport/httpapi"
)

const (
	buyerID = "student-42"
	storeID = "store-1"
)

// clock — управляемое время для проверки удержаний.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type capturedPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *capturedPublisher) Publish(event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturedPublisher) types(orderID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.AggregateID == orderID {
			out = append(out, e.EventType)
		}
	}
	return out
}

// OrderLifecycleTestSuite проводит заказ через витрину и back-office.
type OrderLifecycleTestSuite struct {
	suite.Suite

	clock      *clock
	catalog    *inventory.Catalog
	lifecycle  *lifecycle.Service
	backOffice *grpcsvc.OrderService
	storefront *httptest.Server
	outbox     *outbox.Worker
	escrow     *escrow.Worker
	published  *capturedPublisher
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	base := log.New()
	base.SetLevel(log.WarnLevel)
	logger := base.WithField("component", "integration-test")

	s.clock = &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	s.catalog = inventory.NewCatalog(
		domain.Product{ID: "calculus", StoreID: storeID, StoreName: "Campus Books", Name: "Calculus", PriceMinor: 12000, AvailableQty: 3},
		domain.Product{ID: "pens", StoreID: storeID, StoreName: "Campus Books", Name: "Pens", PriceMinor: 500, AvailableQty: 50},
	)
	outboxRepo := memory.NewOutboxRepository()

	lc, err := lifecycle.NewService(lifecycle.Dependencies{
		Orders:    memory.NewOrderRepository(),
		Refunds:   memory.NewRefundRepository(),
		Outbox:    outboxRepo,
		Timeline:  memory.NewTimelineRepository(),
		Catalog:   s.catalog,
		Inventory: s.catalog,
		Payments:  payment.NewMockGateway(),
		Logger:    logger,
	}, lifecycle.Config{Now: s.clock.Now})
	s.Require().NoError(err)
	s.lifecycle = lc

	store, err := checkout.NewService(checkout.Dependencies{
		Carts:   memory.NewCartRepository(),
		Catalog: s.catalog,
		Placer:  lc,
		Logger:  logger,
	})
	s.Require().NoError(err)

	handler, err := httpapi.NewHandler(httpapi.Config{
		Storefront: store,
		Orders:     lc,
		Guard:      idempotency.NewGuard(memory.NewIdempotencyRepository(), time.Hour, logger),
		Logger:     logger,
	})
	s.Require().NoError(err)
	s.storefront = httptest.NewServer(handler.Router())
	s.T().Cleanup(s.storefront.Close)

	s.backOffice = grpcsvc.NewOrderService(lc, nil, logger)

	s.published = &capturedPublisher{}
	s.outbox = outbox.NewWorker(outboxRepo, s.published,
		outbox.WithLogger(logger),
		outbox.WithRegisterer(prometheus.NewRegistry()),
	)
	s.escrow = escrow.NewWorker(lc,
		escrow.WithLogger(logger),
		escrow.WithRegisterer(prometheus.NewRegistry()),
		escrow.WithClock(s.clock.Now),
	)
}

func (s *OrderLifecycleTestSuite) buyer(method, path string, body any) (int, map[string]any) {
	s.T().Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.storefront.URL+path, reader)
	s.Require().NoError(err)
	req.Header.Set(httpapi.HeaderUserID, buyerID)

	resp, err := s.storefront.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp.StatusCode, decoded
}

// placeOrder проходит корзину и оформление, возвращает id заказа.
func (s *OrderLifecycleTestSuite) placeOrder() string {
	steps := []struct {
		method, path string
		body         any
		want         int
	}{
		{http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": "calculus", "quantity": 1}, http.StatusOK},
		{http.MethodPost, "/api/v1/cart/items", map[string]any{"product_id": "pens", "quantity": 4}, http.StatusOK},
		{http.MethodPost, "/api/v1/checkout", nil, http.StatusCreated},
		{http.MethodPut, "/api/v1/checkout/delivery", map[string]any{"method": "delivery", "address": "Hall 2, Room 7"}, http.StatusOK},
		{http.MethodPost, "/api/v1/checkout/next", nil, http.StatusOK},
		{http.MethodPut, "/api/v1/checkout/payment", map[string]any{"method": "card"}, http.StatusOK},
		{http.MethodPost, "/api/v1/checkout/next", nil, http.StatusOK},
	}
	for _, step := range steps {
		code, body := s.buyer(step.method, step.path, step.body)
		s.Require().Equal(step.want, code, "%s %s: %v", step.method, step.path, body)
	}

	code, body := s.buyer(http.MethodPost, "/api/v1/checkout/submit", nil)
	s.Require().Equal(http.StatusCreated, code, "submit: %v", body)
	order, ok := body["order"].(map[string]any)
	s.Require().True(ok, "submit must return the order: %v", body)
	s.Require().Equal(string(domain.OrderStatusPending), order["status"])
	return order["id"].(string)
}

func (s *OrderLifecycleTestSuite) advance(orderID string) {
	ctx := context.Background()

	_, err := s.backOffice.MarkPaid(ctx, &grpcsvc.MarkPaidRequest{OrderID: orderID, PaymentRef: "card-ref-1"})
	s.Require().NoError(err)
	for _, step := range []func(context.Context, *grpcsvc.TransitionRequest) (*grpcsvc.OrderResponse, error){
		s.backOffice.StartProcessing,
		s.backOffice.Ship,
		s.backOffice.MarkDelivered,
	} {
		_, err := step(ctx, &grpcsvc.TransitionRequest{OrderID: orderID, StoreID: storeID})
		s.Require().NoError(err)
	}
}

func (s *OrderLifecycleTestSuite) TestBuyerConfirmsDelivery() {
	orderID := s.placeOrder()
	s.advance(orderID)

	code, body := s.buyer(http.MethodPost, "/api/v1/orders/"+orderID+"/confirm-delivery", nil)
	s.Require().Equal(http.StatusOK, code, "%v", body)
	s.Require().Equal(string(domain.OrderStatusCompleted), body["status"])

	resp, err := s.backOffice.GetOrder(context.Background(), &grpcsvc.GetOrderRequest{OrderID: orderID, StoreID: storeID})
	s.Require().NoError(err)
	s.Require().NotNil(resp.Escrow)
	s.Require().Equal(string(domain.EscrowStatusReleased), resp.Escrow.Status)
	s.Require().Equal(resp.Order.TotalMinor, resp.Escrow.AmountMinor)
	s.Require().GreaterOrEqual(len(resp.Timeline), 6)

	result := s.outbox.ProcessOnce(context.Background())
	s.Require().Zero(result.Failed)
	s.Require().NotEmpty(s.published.types(orderID))
}

func (s *OrderLifecycleTestSuite) TestEscrowReleasedAfterHold() {
	orderID := s.placeOrder()
	s.advance(orderID)

	released, err := s.escrow.ReleaseDue(context.Background(), time.Time{})
	s.Require().NoError(err)
	s.Require().Zero(released.Released)

	s.clock.Advance(domain.DefaultEscrowHold + time.Minute)
	released, err = s.escrow.ReleaseDue(context.Background(), time.Time{})
	s.Require().NoError(err)
	s.Require().Equal(1, released.Released)
	s.Require().Equal(1, released.Completed)

	order, err := s.lifecycle.Get(context.Background(), orderID)
	s.Require().NoError(err)
	s.Require().Equal(domain.OrderStatusCompleted, order.Status)
}

func (s *OrderLifecycleTestSuite) TestApprovedRefundSettlesEscrow() {
	orderID := s.placeOrder()
	s.advance(orderID)

	code, body := s.buyer(http.MethodPost, "/api/v1/orders/"+orderID+"/refund-requests", map[string]any{"reason": "wrong edition"})
	s.Require().Equal(http.StatusCreated, code, "%v", body)
	requestID := body["id"].(string)

	resolved, err := s.backOffice.ResolveRefund(context.Background(), &grpcsvc.ResolveRefundRequest{RequestID: requestID, Approve: true, Note: "confirmed"})
	s.Require().NoError(err)
	s.Require().Equal(string(domain.OrderStatusRefunded), resolved.Order.Status)

	escrowState, err := s.lifecycle.Escrow(context.Background(), orderID)
	s.Require().NoError(err)
	s.Require().Equal(domain.EscrowStatusRefunded, escrowState.Status)

	s.clock.Advance(domain.DefaultEscrowHold + time.Hour)
	released, err := s.escrow.ReleaseDue(context.Background(), time.Time{})
	s.Require().NoError(err)
	s.Require().Zero(released.Released)
}

func (s *OrderLifecycleTestSuite) TestCancelPendingOrderReleasesStock() {
	orderID := s.placeOrder()

	product, err := s.catalog.Product(context.Background(), "calculus")
	s.Require().NoError(err)
	s.Require().EqualValues(2, product.AvailableQty)

	code, body := s.buyer(http.MethodPost, "/api/v1/orders/"+orderID+"/cancel", map[string]any{"reason": "found it cheaper"})
	s.Require().Equal(http.StatusOK, code, "%v", body)
	s.Require().Equal(string(domain.OrderStatusCancelled), body["status"])

	product, err = s.catalog.Product(context.Background(), "calculus")
	s.Require().NoError(err)
	s.Require().EqualValues(3, product.AvailableQty)

	_, err = s.backOffice.MarkPaid(context.Background(), &grpcsvc.MarkPaidRequest{OrderID: orderID, PaymentRef: "late"})
	s.Require().Equal(codes.FailedPrecondition, status.Code(err))
}

func (s *OrderLifecycleTestSuite) TestForeignStoreCannotAdvance() {
	orderID := s.placeOrder()
	_, err := s.backOffice.MarkPaid(context.Background(), &grpcsvc.MarkPaidRequest{OrderID: orderID, PaymentRef: "ref"})
	s.Require().NoError(err)

	_, err = s.backOffice.StartProcessing(context.Background(), &grpcsvc.TransitionRequest{OrderID: orderID, StoreID: "store-9"})
	require.Error(s.T(), err)
	s.Require().Contains([]codes.Code{codes.PermissionDenied, codes.NotFound}, status.Code(err))
}

func (s *OrderLifecycleTestSuite) TestDisputeBlocksAutoRelease() {
	orderID := s.placeOrder()
	s.advance(orderID)

	resp, err := s.backOffice.OpenDispute(context.Background(), &grpcsvc.OpenDisputeRequest{OrderID: orderID, Reason: "item damaged"})
	s.Require().NoError(err)
	s.Require().Equal(string(domain.OrderStatusDisputed), resp.Order.Status)

	s.clock.Advance(domain.DefaultEscrowHold * 2)
	released, err := s.escrow.ReleaseDue(context.Background(), time.Time{})
	s.Require().NoError(err)
	s.Require().Zero(released.Released)
}
