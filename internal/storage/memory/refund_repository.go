package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

type refundRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.RefundRequest
}

// NewRefundRepository создаёт in-memory хранилище заявок на возврат.
func NewRefundRepository() domain.RefundRepository {
	return &refundRepositoryInMemory{items: make(map[string]domain.RefundRequest)}
}

// Create сохраняет заявку; по заказу допускается одна открытая заявка.
func (r *refundRepositoryInMemory) Create(req domain.RefundRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.items {
		if existing.OrderID == req.OrderID && existing.Open() {
			return domain.ErrRefundAlreadyRequested
		}
	}
	r.items[req.ID] = req
	return nil
}

func (r *refundRepositoryInMemory) Get(id string) (domain.RefundRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.items[id]
	if !ok {
		return domain.RefundRequest{}, domain.ErrRefundRequestNotFound
	}
	return req, nil
}

// ListByOrder возвращает заявки заказа в порядке создания.
func (r *refundRepositoryInMemory) ListByOrder(orderID string) ([]domain.RefundRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.RefundRequest, 0)
	for _, req := range r.items {
		if req.OrderID == orderID {
			result = append(result, req)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *refundRepositoryInMemory) Save(req domain.RefundRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[req.ID]; !ok {
		return domain.ErrRefundRequestNotFound
	}
	r.items[req.ID] = req
	return nil
}

var _ domain.RefundRepository = (*refundRepositoryInMemory)(nil)
