package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

const defaultKeyTTL = 24 * time.Hour

// Response — ответ, сохраняемый под ключом идемпотентности.
type Response struct {
	Status int
	Body   []byte
}

// Guard выполняет запрос не более одного раза на ключ и воспроизводит сохранённый ответ.
// Ответы со статусом 4xx/5xx сохраняются как failed: тот же запрос с тем же ключом
// можно повторить, например после временного сбоя создания заказа.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
}

// NewGuard создаёт Guard. ttl<=0 означает сутки.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{repo: repo, ttl: ttl, logger: logger}
}

// HashRequest строит отпечаток запроса из его значимых частей.
func HashRequest(parts ...[]byte) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Execute вызывает fn, если ключ свободен. replayed=true означает, что ответ взят из хранилища.
func (g *Guard) Execute(key, requestHash string, fn func() (Response, error)) (resp Response, replayed bool, err error) {
	record, err := g.repo.CreateProcessing(key, requestHash, time.Now().UTC().Add(g.ttl))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Key == "" {
			if record, err = g.repo.Get(key); err != nil {
				return Response{}, false, err
			}
		}
		if record.Replayable() {
			return Response{Status: record.HTTPStatus, Body: record.ResponseBody}, true, nil
		}
		return Response{}, false, domain.ErrIdempotencyInProgress
	default:
		return Response{}, false, err
	}

	entry := g.logger.WithField("idempotency_key", key)
	resp, err = fn()
	if err != nil {
		if markErr := g.repo.MarkFailed(key, nil, 0); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark idempotency key as failed")
		}
		return resp, false, err
	}

	mark := g.repo.MarkDone
	if resp.Status >= 400 {
		mark = g.repo.MarkFailed
	}
	if markErr := mark(key, resp.Body, resp.Status); markErr != nil {
		entry.WithError(markErr).Warn("failed to store idempotent response")
	}
	return resp, false, nil
}
