package domain

import (
	"strings"
	"time"
)

// TimelineEvent — запись в истории заказа, которую видит покупатель.
// Type совпадает с типом события в outbox (order.paid, escrow.released и т.д.).
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// NewTimelineEvent собирает запись истории. Нулевое время заменяется на now.
func NewTimelineEvent(orderID, eventType, reason string, occurred, now time.Time) TimelineEvent {
	if occurred.IsZero() {
		occurred = now
	}
	return TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   strings.TrimSpace(reason),
		Occurred: occurred.UTC(),
	}
}

// Before задаёт хронологический порядок истории.
func (e TimelineEvent) Before(other TimelineEvent) bool {
	return e.Occurred.Before(other.Occurred)
}
