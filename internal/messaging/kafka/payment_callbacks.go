package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

// PaymentConfirmer фиксирует подтверждённую оплату заказа.
type PaymentConfirmer interface {
	MarkPaid(ctx context.Context, orderID, paymentRef string) (domain.Order, error)
}

// NewPaymentCallbackHandler возвращает обработчик topic уведомлений платёжного шлюза.
// Неуспешные списания только логируются: заказ остаётся pending и может быть оплачен повторно.
func NewPaymentCallbackHandler(confirmer PaymentConfirmer, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-callbacks")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		callback, err := ParsePaymentCallback(message)
		if err != nil {
			return err
		}

		entry := logger.WithFields(log.Fields{
			"order_id":    callback.OrderID,
			"payment_ref": callback.PaymentRef,
			"status":      callback.Status,
		})
		if !callback.Succeeded() {
			entry.Warn("payment callback reports unsuccessful charge")
			return nil
		}

		order, err := confirmer.MarkPaid(ctx, callback.OrderID, callback.PaymentRef)
		if err != nil {
			return fmt.Errorf("mark order %s paid: %w", callback.OrderID, err)
		}
		if order.Status == domain.OrderStatusCancelled {
			entry.Warn("charge for cancelled order reversed")
			return nil
		}
		entry.Info("order paid via gateway callback")
		return nil
	}
}
