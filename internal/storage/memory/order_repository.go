package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository.
// Заказы и удержания лежат под одним мьютексом, поэтому SaveWithEscrow атомарен.
type orderRepositoryInMemory struct {
	mu      sync.RWMutex
	items   map[string]domain.Order
	escrows map[string]domain.Escrow // по order_id
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:   make(map[string]domain.Order),
		escrows: make(map[string]domain.Escrow),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByBuyer возвращает заказы покупателя, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByBuyer(buyerID string, limit int) ([]domain.Order, error) {
	return r.list(func(o domain.Order) bool { return o.BuyerID == buyerID }, limit), nil
}

// ListByStore возвращает заказы магазина, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByStore(storeID string, limit int) ([]domain.Order, error) {
	return r.list(func(o domain.Order) bool { return o.StoreID == storeID }, limit), nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.saveLocked(order)
}

// SaveWithEscrow сохраняет заказ и удержание под одной блокировкой.
func (r *orderRepositoryInMemory) SaveWithEscrow(order domain.Order, escrow domain.Escrow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if escrow.OrderID != order.ID {
		return domain.ErrEscrowNotFound
	}
	if err := r.saveLocked(order); err != nil {
		return err
	}
	r.escrows[escrow.OrderID] = escrow
	return nil
}

// GetEscrow возвращает удержание по заказу.
func (r *orderRepositoryInMemory) GetEscrow(orderID string) (domain.Escrow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	escrow, ok := r.escrows[orderID]
	if !ok {
		return domain.Escrow{}, domain.ErrEscrowNotFound
	}
	return escrow, nil
}

// ListDueEscrows возвращает удержания holding с истёкшим сроком, самые старые первыми.
func (r *orderRepositoryInMemory) ListDueEscrows(before time.Time, limit int) ([]domain.Escrow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Escrow, 0)
	for _, escrow := range r.escrows {
		if escrow.Due(before) {
			result = append(result, escrow)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].HoldUntil.Equal(result[j].HoldUntil) {
			return result[i].HoldUntil.Before(result[j].HoldUntil)
		}
		return result[i].OrderID < result[j].OrderID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *orderRepositoryInMemory) saveLocked(order domain.Order) error {
	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	r.items[order.ID] = cloneOrder(order)
	return nil
}

func (r *orderRepositoryInMemory) list(match func(domain.Order) bool, limit int) []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if !match(order) {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// cloneOrder копирует позиции, чтобы вызывающий код не менял хранилище.
func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
