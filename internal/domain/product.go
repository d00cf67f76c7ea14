package domain

// Product — карточка товара из каталога магазина.
type Product struct {
	ID        string
	StoreID   string
	StoreName string
	Name      string
	Image     string
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// AvailableQty — остаток, доступный для покупки.
	AvailableQty int32
}

// Validate проверяет обязательные поля товара.
func (p Product) Validate() []error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if p.StoreID == "" {
		errs = append(errs, ErrStoreIDRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrItemPriceInvalid)
	}
	if p.AvailableQty < 0 {
		errs = append(errs, ErrItemQtyInvalid)
	}

	return errs
}

// InStock сообщает, можно ли положить товар в корзину.
func (p Product) InStock() bool {
	return p.AvailableQty > 0
}
