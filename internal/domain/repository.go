package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов и удержаний.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByBuyer возвращает заказы покупателя, новые первыми.
	ListByBuyer(buyerID string, limit int) ([]Order, error)
	// ListByStore возвращает заказы магазина, новые первыми.
	ListByStore(storeID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
	// SaveWithEscrow атомарно сохраняет заказ (с проверкой версии) и удержание по нему.
	SaveWithEscrow(order Order, escrow Escrow) error
	// GetEscrow возвращает удержание по заказу или ErrEscrowNotFound.
	GetEscrow(orderID string) (Escrow, error)
	// ListDueEscrows возвращает удержания в статусе holding со сроком до before.
	ListDueEscrows(before time.Time, limit int) ([]Escrow, error)
}

// CartRepository хранит корзины покупателей.
type CartRepository interface {
	// Get возвращает корзину или ErrCartNotFound.
	Get(userID string) (Cart, error)
	Save(cart Cart) error
	Delete(userID string) error
}

// RefundRepository хранит заявки на возврат.
type RefundRepository interface {
	// Create сохраняет заявку. ErrRefundAlreadyRequested, если по заказу есть открытая.
	Create(req RefundRequest) error
	Get(id string) (RefundRequest, error)
	ListByOrder(orderID string) ([]RefundRequest, error)
	Save(req RefundRequest) error
}
