package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора покупателя.
	ErrBuyerRequired = errors.New("user_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amounts must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия subtotal и сумм позиций.
	ErrAmountMismatch = errors.New("order subtotal does not match items sum")
	// Ошибка нарушения инварианта total = subtotal + delivery + service - discount.
	ErrTotalMismatch = errors.New("order total does not match subtotal, fees and discount")
	// ErrDeliveryFeeMismatch — стоимость доставки в черновике расходится с действующим тарифом.
	ErrDeliveryFeeMismatch = errors.New("delivery fee does not match current pricing")
	// ErrProductIDRequired — не указан товар.
	ErrProductIDRequired = errors.New("product_id is required")
	// ErrStoreIDRequired — не указан магазин.
	ErrStoreIDRequired = errors.New("store_id is required")
	// ErrProductNotFound — товара нет в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrOutOfStock — товара нет в наличии.
	ErrOutOfStock = errors.New("product is out of stock")
	// ErrCartStoreMismatch — корзина уже содержит товары другого магазина.
	ErrCartStoreMismatch = errors.New("cart already holds items from another store")
	// ErrCartItemNotFound — позиции нет в корзине.
	ErrCartItemNotFound = errors.New("cart item not found")
	// ErrCartNotFound — корзина пользователя не сохранена.
	ErrCartNotFound = errors.New("cart not found")
	// ErrCartEmpty — оформление пустой корзины.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrValidation — общий маркер ошибок валидации полей оформления.
	ErrValidation = errors.New("validation failed")
	// ErrNoPreviousStep — шаг назад с первого шага оформления.
	ErrNoPreviousStep = errors.New("checkout is already at the first step")
	// ErrCheckoutSubmitted — оформление уже отправлено и не меняется.
	ErrCheckoutSubmitted = errors.New("checkout is already submitted")
	// ErrCheckoutNotReady — отправка заказа не с шага review.
	ErrCheckoutNotReady = errors.New("checkout is not at the review step")
	// ErrCheckoutNotFound — у пользователя нет активного оформления.
	ErrCheckoutNotFound = errors.New("checkout session not found")
	// ErrUnauthenticated — действие без авторизованной сессии.
	ErrUnauthenticated = errors.New("authentication required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderAccessDenied — заказ принадлежит другому покупателю или магазину.
	ErrOrderAccessDenied = errors.New("order belongs to another account")
	// ErrInvalidTransition — переход статуса не разрешён.
	ErrInvalidTransition = errors.New("order status transition is not allowed")
	// ErrEscrowNotFound — по заказу нет удержания.
	ErrEscrowNotFound = errors.New("escrow not found")
	// ErrEscrowNotHolding — удержание уже переведено продавцу или возвращено.
	ErrEscrowNotHolding = errors.New("escrow is not holding funds")
	// ErrRefundRequestNotFound — заявка на возврат не найдена.
	ErrRefundRequestNotFound = errors.New("refund request not found")
	// ErrRefundAlreadyRequested — по заказу уже есть открытая заявка.
	ErrRefundAlreadyRequested = errors.New("refund already requested for order")
	// ErrRefundRequestResolved — заявка уже рассмотрена.
	ErrRefundRequestResolved = errors.New("refund request is already resolved")
	// ErrReasonRequired — не указана причина возврата или спора.
	ErrReasonRequired = errors.New("reason is required")
	// ErrInventoryUnavailable — бизнес-ошибка склада (нет стока/недоступность позиции).
	ErrInventoryUnavailable = errors.New("inventory unavailable")
	// ErrInventoryTemporary — временная ошибка при обращении к складу, можно повторить попытку.
	ErrInventoryTemporary = errors.New("inventory temporary error")
	// ErrPaymentDeclined — платёж отклонён провайдером (бизнес-ошибка).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentIndeterminate — неопределённый статус платежа; требуется сверка.
	ErrPaymentIndeterminate = errors.New("payment indeterminate state")
	// ErrPaymentTemporary — временная ошибка платёжного провайдера.
	ErrPaymentTemporary = errors.New("payment temporary error")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrIdempotencyKeyRequired — пустой ключ идемпотентности.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хеш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyNotFound — ключ не найден.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyKeyAlreadyExists — ключ уже использован тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyInProgress — запрос с этим ключом ещё выполняется.
	ErrIdempotencyInProgress = errors.New("request with this idempotency key is still in progress")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// ValidationError — ошибка конкретного поля на шаге оформления.
type ValidationError struct {
	Step    CheckoutStep
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// AsValidationError извлекает ValidationError из цепочки.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// SubmissionError — сбой создания заказа при отправке оформления.
// Черновик при этом сохраняется, отправку можно повторить вручную.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("order submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Retryable сообщает, имеет ли смысл повторить отправку без изменений черновика.
func (e *SubmissionError) Retryable() bool {
	switch {
	case errors.Is(e.Err, ErrValidation),
		errors.Is(e.Err, ErrCartStoreMismatch),
		errors.Is(e.Err, ErrOutOfStock),
		errors.Is(e.Err, ErrInventoryUnavailable),
		errors.Is(e.Err, ErrProductNotFound),
		errors.Is(e.Err, ErrDeliveryFeeMismatch),
		errors.Is(e.Err, ErrTotalMismatch):
		return false
	default:
		return true
	}
}

// TransitionError описывает отклонённый переход статуса заказа.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order status transition %s -> %s is not allowed", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
