package domain

import (
	"strings"
	"time"
)

// IdempotencyStatus — состояние ключа повторной отправки.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed освобождает ключ: с ним можно отправить запрос заново.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус известен.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	}
	return false
}

// IdempotencyRecord — сохранённый результат оформления или операции back office
// под ключом клиента. ResponseBody отдаётся повторно без выполнения операции.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Replayable сообщает, что сохранённый ответ можно вернуть вместо повторного выполнения.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status == IdempotencyStatusDone
}

// Reusable сообщает, что ключ можно занять заново тем же запросом.
func (r IdempotencyRecord) Reusable() bool {
	return r.Status == IdempotencyStatusFailed
}

// Expired сообщает, что срок хранения ключа истёк к моменту now.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// ScopedIdempotencyKey привязывает ключ клиента к владельцу: одинаковые ключи
// разных покупателей не пересекаются.
func ScopedIdempotencyKey(owner, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return strings.TrimSpace(owner) + ":" + key
}
