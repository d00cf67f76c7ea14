// Package httpapi содержит HTTP API покупателя: корзину, оформление и заказы.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
	"github.com/vladislavdragonenkov/campusmart/internal/metrics"
	"github.com/vladislavdragonenkov/campusmart/internal/service/checkout"
	"github.com/vladislavdragonenkov/campusmart/internal/service/idempotency"
)

const (
	defaultLoginPath   = "/login"
	defaultOrdersLimit = 20
	maxOrdersLimit     = 100
	maxBodyBytes       = 64 << 10
)

// Storefront — корзина и оформление заказа.
type Storefront interface {
	Cart(ctx context.Context, sess domain.Session, method domain.DeliveryMethod) (domain.Cart, domain.Pricing, error)
	AddItem(ctx context.Context, sess domain.Session, productID string, qty int32, replace bool) (domain.Cart, error)
	UpdateQuantity(ctx context.Context, sess domain.Session, productID string, qty int32) (domain.Cart, error)
	RemoveItem(ctx context.Context, sess domain.Session, productID string) (domain.Cart, error)
	ClearCart(ctx context.Context, sess domain.Session) (domain.Cart, error)
	StartCheckout(ctx context.Context, sess domain.Session) (checkout.View, error)
	Checkout(ctx context.Context, sess domain.Session) (checkout.View, error)
	SetDelivery(ctx context.Context, sess domain.Session, details domain.DeliveryDetails) (checkout.View, error)
	SetPayment(ctx context.Context, sess domain.Session, selection domain.PaymentSelection) (checkout.View, error)
	SetBuyerNote(ctx context.Context, sess domain.Session, note string) (checkout.View, error)
	Next(ctx context.Context, sess domain.Session) (checkout.View, error)
	Back(ctx context.Context, sess domain.Session) (checkout.View, error)
	Submit(ctx context.Context, sess domain.Session) (domain.Order, checkout.View, error)
	Cancel(ctx context.Context, sess domain.Session) error
}

// Orders — заказы покупателя.
type Orders interface {
	GetForBuyer(ctx context.Context, orderID, buyerID string) (domain.Order, error)
	ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error)
	Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error)
	ConfirmDelivery(ctx context.Context, orderID, buyerID string) (domain.Order, error)
	Cancel(ctx context.Context, orderID, buyerID, reason string) (domain.Order, error)
	RequestRefund(ctx context.Context, orderID, buyerID, reason string) (domain.RefundRequest, error)
}

var _ Storefront = (*checkout.Service)(nil)

// Config — зависимости HTTP API. Storefront и Orders обязательны.
type Config struct {
	Storefront Storefront
	Orders     Orders
	// Sessions по умолчанию читает сессию, разобранную HeaderSession.
	Sessions domain.SessionProvider
	// Guard включает идемпотентную отправку заказа по заголовку Idempotency-Key.
	Guard     *idempotency.Guard
	Metrics   *metrics.HTTPMetrics
	Logger    *log.Entry
	LoginPath string
}

// Handler обслуживает /api/v1.
type Handler struct {
	store     Storefront
	orders    Orders
	sessions  domain.SessionProvider
	guard     *idempotency.Guard
	metrics   *metrics.HTTPMetrics
	logger    *log.Entry
	loginPath string
}

// NewHandler создаёт обработчик.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Storefront == nil || cfg.Orders == nil {
		return nil, errors.New("httpapi: storefront and orders are required")
	}
	h := &Handler{
		store:     cfg.Storefront,
		orders:    cfg.Orders,
		sessions:  cfg.Sessions,
		guard:     cfg.Guard,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		loginPath: cfg.LoginPath,
	}
	if h.sessions == nil {
		h.sessions = ContextSessions{}
	}
	if h.logger == nil {
		h.logger = log.WithField("component", "http-api")
	}
	if h.loginPath == "" {
		h.loginPath = defaultLoginPath
	}
	return h, nil
}

// Router собирает маршруты.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observe(h.metrics, h.logger))
	r.Use(middleware.Recoverer)
	r.Use(HeaderSession)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.requireSession)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.getCart)
			r.Delete("/", h.clearCart)
			r.Post("/items", h.addCartItem)
			r.Patch("/items/{productID}", h.updateCartItem)
			r.Delete("/items/{productID}", h.removeCartItem)
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/", h.startCheckout)
			r.Get("/", h.getCheckout)
			r.Delete("/", h.cancelCheckout)
			r.Put("/delivery", h.setDelivery)
			r.Put("/payment", h.setPayment)
			r.Put("/note", h.setBuyerNote)
			r.Post("/next", h.nextStep)
			r.Post("/back", h.previousStep)
			r.Post("/submit", h.submitCheckout)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.listOrders)
			r.Get("/{orderID}", h.getOrder)
			r.Get("/{orderID}/timeline", h.getOrderTimeline)
			r.Post("/{orderID}/confirm-delivery", h.confirmDelivery)
			r.Post("/{orderID}/cancel", h.cancelOrder)
			r.Post("/{orderID}/refund-requests", h.requestRefund)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: http.StatusText(http.StatusNotFound)})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: http.StatusText(http.StatusMethodNotAllowed)})
	})

	return r
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errBadRequestBody
	}
	return nil
}

func buyerOf(r *http.Request) domain.Buyer {
	return sessionFrom(r).User
}

// Корзина.

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	method := domain.DeliveryMethod(r.URL.Query().Get("delivery_method"))
	cart, pricing, err := h.store.Cart(r.Context(), sessionFrom(r), method)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := toCart(cart)
	p := toPricing(pricing)
	resp.Pricing = &p
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		h.writeError(w, r, domain.ErrProductIDRequired)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	cart, err := h.store.AddItem(r.Context(), sessionFrom(r), req.ProductID, req.Quantity, req.Replace)
	h.respondCart(w, r, cart, err)
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateQuantityRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	cart, err := h.store.UpdateQuantity(r.Context(), sessionFrom(r), chi.URLParam(r, "productID"), req.Quantity)
	h.respondCart(w, r, cart, err)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	cart, err := h.store.RemoveItem(r.Context(), sessionFrom(r), chi.URLParam(r, "productID"))
	h.respondCart(w, r, cart, err)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.store.ClearCart(r.Context(), sessionFrom(r))
	h.respondCart(w, r, cart, err)
}

func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, cart domain.Cart, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCart(cart))
}

// Оформление.

func (h *Handler) startCheckout(w http.ResponseWriter, r *http.Request) {
	view, err := h.store.StartCheckout(r.Context(), sessionFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCheckout(view))
}

func (h *Handler) getCheckout(w http.ResponseWriter, r *http.Request) {
	view, err := h.store.Checkout(r.Context(), sessionFrom(r))
	h.respondCheckout(w, r, view, err)
}

func (h *Handler) cancelCheckout(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Cancel(r.Context(), sessionFrom(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setDelivery(w http.ResponseWriter, r *http.Request) {
	var req deliveryRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.store.SetDelivery(r.Context(), sessionFrom(r), domain.DeliveryDetails{
		Method:  domain.DeliveryMethod(req.Method),
		Address: req.Address,
		Notes:   req.Notes,
	})
	h.respondCheckout(w, r, view, err)
}

func (h *Handler) setPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.store.SetPayment(r.Context(), sessionFrom(r), req.selection())
	h.respondCheckout(w, r, view, err)
}

func (h *Handler) setBuyerNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.store.SetBuyerNote(r.Context(), sessionFrom(r), req.Note)
	h.respondCheckout(w, r, view, err)
}

func (h *Handler) nextStep(w http.ResponseWriter, r *http.Request) {
	view, err := h.store.Next(r.Context(), sessionFrom(r))
	h.respondCheckout(w, r, view, err)
}

func (h *Handler) previousStep(w http.ResponseWriter, r *http.Request) {
	view, err := h.store.Back(r.Context(), sessionFrom(r))
	h.respondCheckout(w, r, view, err)
}

func (h *Handler) respondCheckout(w http.ResponseWriter, r *http.Request, view checkout.View, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckout(view))
}

// submitCheckout создаёт заказ. С заголовком Idempotency-Key повтор запроса
// отдаёт сохранённый ответ, неудачную отправку можно повторить с тем же ключом.
func (h *Handler) submitCheckout(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" || h.guard == nil {
		status, body := h.submit(r)
		writeJSON(w, status, body)
		return
	}

	buyer := buyerOf(r)
	hash := idempotency.HashRequest([]byte("POST /api/v1/checkout/submit"), []byte(buyer.ID))
	resp, replayed, err := h.guard.Execute(domain.ScopedIdempotencyKey(buyer.ID, key), hash, func() (idempotency.Response, error) {
		status, body := h.submit(r)
		data, err := json.Marshal(body)
		if err != nil {
			return idempotency.Response{}, err
		}
		return idempotency.Response{Status: status, Body: data}, nil
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (h *Handler) submit(r *http.Request) (int, any) {
	order, view, err := h.store.Submit(r.Context(), sessionFrom(r))
	if err != nil {
		status, body := h.errorBody(r, err)
		h.logger.WithError(err).WithField("status", status).Warn("checkout submit failed")
		return status, body
	}
	resp := toCheckout(view)
	if resp.Order == nil {
		o := toOrder(order)
		resp.Order = &o
	}
	return http.StatusCreated, resp
}

// Заказы.

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultOrdersLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, r, errBadRequestBody)
			return
		}
		limit = min(parsed, maxOrdersLimit)
	}
	orders, err := h.orders.ListByBuyer(r.Context(), buyerOf(r).ID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": toOrders(orders)})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetForBuyer(r.Context(), chi.URLParam(r, "orderID"), buyerOf(r).ID)
	h.respondOrder(w, r, order, err)
}

func (h *Handler) getOrderTimeline(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetForBuyer(r.Context(), chi.URLParam(r, "orderID"), buyerOf(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events, err := h.orders.Timeline(r.Context(), order.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": order.ID, "events": toTimeline(events)})
}

func (h *Handler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.ConfirmDelivery(r.Context(), chi.URLParam(r, "orderID"), buyerOf(r).ID)
	h.respondOrder(w, r, order, err)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.orders.Cancel(r.Context(), chi.URLParam(r, "orderID"), buyerOf(r).ID, req.Reason)
	h.respondOrder(w, r, order, err)
}

func (h *Handler) requestRefund(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	refund, err := h.orders.RequestRefund(r.Context(), chi.URLParam(r, "orderID"), buyerOf(r).ID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRefundRequest(refund))
}

func (h *Handler) respondOrder(w http.ResponseWriter, r *http.Request, order domain.Order, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(order))
}
