package domain

import "time"

// CartItem — позиция корзины со снимком товара на момент добавления.
type CartItem struct {
	Product  Product
	Quantity int32
}

// LineTotalMinor возвращает стоимость позиции: цена * количество.
func (i CartItem) LineTotalMinor() int64 {
	return int64(i.Quantity) * i.Product.PriceMinor
}

// Cart — корзина покупателя. Все позиции принадлежат одному магазину.
type Cart struct {
	UserID    string
	StoreID   string
	StoreName string
	Items     []CartItem
	UpdatedAt time.Time
}

// NewCart создаёт пустую корзину пользователя.
func NewCart(userID string) *Cart {
	return &Cart{UserID: userID}
}

// AddItem добавляет товар или увеличивает количество уже лежащей позиции.
// Количество ограничивается остатком товара; товар другого магазина отклоняется.
func (c *Cart) AddItem(product Product, qty int32) error {
	if product.ID == "" {
		return ErrProductIDRequired
	}
	if product.StoreID == "" {
		return ErrStoreIDRequired
	}
	if qty <= 0 {
		qty = 1
	}
	if !product.InStock() {
		return ErrOutOfStock
	}
	if len(c.Items) > 0 && c.StoreID != product.StoreID {
		return ErrCartStoreMismatch
	}

	if len(c.Items) == 0 {
		c.StoreID = product.StoreID
		c.StoreName = product.StoreName
	}

	if idx := c.indexOf(product.ID); idx >= 0 {
		item := &c.Items[idx]
		item.Product = product
		item.Quantity = clampQty(int64(item.Quantity)+int64(qty), product.AvailableQty)
	} else {
		c.Items = append(c.Items, CartItem{
			Product:  product,
			Quantity: clampQty(int64(qty), product.AvailableQty),
		})
	}

	c.touch()
	return nil
}

// UpdateQuantity выставляет количество позиции в пределах [1, остаток].
// Количество 0 и меньше удаляет позицию.
func (c *Cart) UpdateQuantity(productID string, qty int32) error {
	idx := c.indexOf(productID)
	if idx < 0 {
		return ErrCartItemNotFound
	}
	if qty <= 0 {
		c.RemoveItem(productID)
		return nil
	}

	item := &c.Items[idx]
	item.Quantity = clampQty(int64(qty), item.Product.AvailableQty)
	c.touch()
	return nil
}

// RemoveItem удаляет позицию. Возвращает false, если её не было.
func (c *Cart) RemoveItem(productID string) bool {
	idx := c.indexOf(productID)
	if idx < 0 {
		return false
	}

	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	if len(c.Items) == 0 {
		c.resetStore()
	}
	c.touch()
	return true
}

// RefreshProduct обновляет снимок товара из каталога и заново ограничивает количество.
// Позиция товара, которого больше нет в наличии, удаляется.
func (c *Cart) RefreshProduct(product Product) {
	idx := c.indexOf(product.ID)
	if idx < 0 {
		return
	}
	if !product.InStock() {
		c.RemoveItem(product.ID)
		return
	}

	item := &c.Items[idx]
	item.Product = product
	item.Quantity = clampQty(int64(item.Quantity), product.AvailableQty)
	c.touch()
}

// Clear очищает корзину и отвязывает её от магазина.
func (c *Cart) Clear() {
	c.Items = nil
	c.resetStore()
	c.touch()
}

// Item возвращает позицию по идентификатору товара.
func (c *Cart) Item(productID string) (CartItem, bool) {
	idx := c.indexOf(productID)
	if idx < 0 {
		return CartItem{}, false
	}
	return c.Items[idx], true
}

// IsEmpty сообщает, что в корзине нет позиций.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Subtotal возвращает сумму позиций: Σ(цена * количество).
func (c *Cart) Subtotal() int64 {
	var sum int64
	for _, item := range c.Items {
		sum += item.LineTotalMinor()
	}
	return sum
}

// Clone возвращает независимую копию корзины.
func (c *Cart) Clone() Cart {
	dst := *c
	dst.Items = append([]CartItem(nil), c.Items...)
	return dst
}

func (c *Cart) indexOf(productID string) int {
	for i := range c.Items {
		if c.Items[i].Product.ID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) resetStore() {
	c.StoreID = ""
	c.StoreName = ""
}

func (c *Cart) touch() {
	c.UpdatedAt = time.Now().UTC()
}

// clampQty считает в int64: сумма двух int32 не должна переполняться.
func clampQty(qty int64, available int32) int32 {
	if qty > int64(available) {
		qty = int64(available)
	}
	if qty < 1 {
		qty = 1
	}
	return int32(qty)
}
