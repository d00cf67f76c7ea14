package inventory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

// Catalog — in-memory каталог товаров с остатками. Используется как ProductCatalog
// и InventoryService, пока каталог магазинов живёт во внешнем сервисе.
type Catalog struct {
	mu           sync.RWMutex
	products     map[string]domain.Product
	reservations map[string][]domain.OrderItem // по order_id

	// ReserveErr позволяет в тестах сымитировать недоступность склада.
	ReserveErr error
}

// NewCatalog создаёт каталог с начальным набором товаров.
func NewCatalog(products ...domain.Product) *Catalog {
	c := &Catalog{
		products:     make(map[string]domain.Product, len(products)),
		reservations: make(map[string][]domain.OrderItem),
	}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// Upsert добавляет или обновляет карточку товара.
func (c *Catalog) Upsert(product domain.Product) error {
	if errs := product.Validate(); len(errs) > 0 {
		return errs[0]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.products[product.ID] = product
	return nil
}

// Product возвращает актуальный снимок товара.
func (c *Catalog) Product(_ context.Context, productID string) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// Reserve списывает остатки под заказ целиком или не списывает ничего.
// Повторный резерв того же заказа ничего не меняет.
func (c *Catalog) Reserve(_ context.Context, orderID string, items []domain.OrderItem) error {
	if c.ReserveErr != nil {
		return c.ReserveErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.reservations[orderID]; done {
		return nil
	}

	need := make(map[string]int32, len(items))
	for _, item := range items {
		need[item.ProductID] += item.Quantity
	}
	for productID, qty := range need {
		p, ok := c.products[productID]
		if !ok {
			return domain.ErrProductNotFound
		}
		if p.AvailableQty < qty {
			return domain.ErrInventoryUnavailable
		}
	}

	for productID, qty := range need {
		p := c.products[productID]
		p.AvailableQty -= qty
		c.products[productID] = p
	}
	c.reservations[orderID] = append([]domain.OrderItem(nil), items...)
	return nil
}

// Release возвращает остатки по заказу. Без резерва ничего не делает.
func (c *Catalog) Release(_ context.Context, orderID string, _ []domain.OrderItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	reserved, ok := c.reservations[orderID]
	if !ok {
		return nil
	}
	for _, item := range reserved {
		if p, exists := c.products[item.ProductID]; exists {
			p.AvailableQty += item.Quantity
			c.products[item.ProductID] = p
		}
	}
	delete(c.reservations, orderID)
	return nil
}

var (
	_ domain.ProductCatalog   = (*Catalog)(nil)
	_ domain.InventoryService = (*Catalog)(nil)
)
