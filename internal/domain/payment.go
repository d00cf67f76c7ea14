package domain

// PaymentMethod — способ оплаты, выбранный покупателем.
type PaymentMethod string

const (
	// PaymentMethodMobileMoney — оплата через мобильный кошелёк.
	PaymentMethodMobileMoney PaymentMethod = "mobile_money"
	// PaymentMethodCard — оплата картой; данные карты проверяет платёжный шлюз.
	PaymentMethodCard PaymentMethod = "card"
)

// Valid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodMobileMoney, PaymentMethodCard:
		return true
	default:
		return false
	}
}

// MobileMoneyProvider — оператор мобильного кошелька.
type MobileMoneyProvider string

const (
	MobileMoneyMTN        MobileMoneyProvider = "mtn"
	MobileMoneyVodafone   MobileMoneyProvider = "vodafone"
	MobileMoneyAirtelTigo MobileMoneyProvider = "airteltigo"
)

// Valid проверяет, что оператор поддерживается.
func (p MobileMoneyProvider) Valid() bool {
	switch p {
	case MobileMoneyMTN, MobileMoneyVodafone, MobileMoneyAirtelTigo:
		return true
	default:
		return false
	}
}

// MobileMoneyDetails — данные, которые нужны только для оплаты мобильным кошельком.
type MobileMoneyDetails struct {
	Provider    MobileMoneyProvider
	PhoneNumber string
}

// PaymentSelection — выбранный способ оплаты. MobileMoney заполнен только
// для PaymentMethodMobileMoney.
type PaymentSelection struct {
	Method      PaymentMethod
	MobileMoney *MobileMoneyDetails
}

// MobileMoney собирает выбор оплаты мобильным кошельком.
func MobileMoney(provider MobileMoneyProvider, phoneNumber string) PaymentSelection {
	return PaymentSelection{
		Method:      PaymentMethodMobileMoney,
		MobileMoney: &MobileMoneyDetails{Provider: provider, PhoneNumber: phoneNumber},
	}
}

// CardPayment собирает выбор оплаты картой.
func CardPayment() PaymentSelection {
	return PaymentSelection{Method: PaymentMethodCard}
}

// PhoneNumber возвращает номер кошелька или пустую строку.
func (s PaymentSelection) PhoneNumber() string {
	if s.MobileMoney == nil {
		return ""
	}
	return s.MobileMoney.PhoneNumber
}

// PaymentStatus описывает ответ платёжного шлюза.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж инициирован, но не подтверждён.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusAuthorized — сумма успешно зарезервирована у провайдера.
	PaymentStatusAuthorized PaymentStatus = "authorized"
	// PaymentStatusCaptured — деньги списаны и удерживаются платформой.
	PaymentStatusCaptured PaymentStatus = "captured"
	// PaymentStatusRefunded — деньги возвращены покупателю.
	PaymentStatusRefunded PaymentStatus = "refunded"
	// PaymentStatusFailed — провайдер отклонил платёж.
	PaymentStatusFailed PaymentStatus = "failed"
)

// PaymentResult — результат списания через шлюз.
type PaymentResult struct {
	Status    PaymentStatus
	Reference string // Может быть пустым, если провайдер не возвращает идентификатор.
}
