package lifecycle

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/campusmart/internal/domain"
)

// Payer инициирует оплату заказа.
type Payer interface {
	Pay(ctx context.Context, orderID string, selection domain.PaymentSelection) (domain.Order, error)
}

type payRequest struct {
	orderID   string
	selection domain.PaymentSelection
}

// AsyncPayer копит заявки на оплату и отправляет их в шлюз пачками,
// чтобы оформление заказа не ждало ответа провайдера.
type AsyncPayer struct {
	payer  Payer
	logger *log.Entry

	batchSize      int
	flushTimeout   time.Duration
	maxParallelOps int
	callTimeout    time.Duration

	queue  chan payRequest
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	mu    sync.Mutex
	batch []payRequest
}

// NewAsyncPayer создаёт очередь оплат.
func NewAsyncPayer(payer Payer, logger *log.Entry) *AsyncPayer {
	if logger == nil {
		logger = log.New().WithField("component", "async-payer")
	}

	return &AsyncPayer{
		payer:          payer,
		logger:         logger,
		batchSize:      10,
		flushTimeout:   100 * time.Millisecond,
		maxParallelOps: 8,
		callTimeout:    30 * time.Second,
		queue:          make(chan payRequest, 100),
		stopCh:         make(chan struct{}),
	}
}

// Start запускает обработку очереди.
func (p *AsyncPayer) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
	p.logger.Info("async payer started")
}

// Stop дожидается отправки накопленных заявок.
func (p *AsyncPayer) Stop() {
	p.once.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Info("async payer stopped")
}

// Enqueue ставит заказ в очередь на оплату. При переполненной очереди оплата
// выполняется синхронно.
func (p *AsyncPayer) Enqueue(orderID string, selection domain.PaymentSelection) {
	req := payRequest{orderID: orderID, selection: selection}
	select {
	case p.queue <- req:
	default:
		p.logger.WithField("order_id", orderID).Warn("payment queue full, processing synchronously")
		p.pay(context.Background(), req)
	}
}

func (p *AsyncPayer) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.drain()
			p.flush(context.WithoutCancel(ctx))
			return
		case <-p.stopCh:
			p.drain()
			p.flush(ctx)
			return
		case req := <-p.queue:
			p.mu.Lock()
			p.batch = append(p.batch, req)
			shouldFlush := len(p.batch) >= p.batchSize
			p.mu.Unlock()

			if shouldFlush {
				p.flush(ctx)
			}
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

// drain переносит оставшиеся в канале заявки в текущую пачку.
func (p *AsyncPayer) drain() {
	for {
		select {
		case req := <-p.queue:
			p.mu.Lock()
			p.batch = append(p.batch, req)
			p.mu.Unlock()
		default:
			return
		}
	}
}

func (p *AsyncPayer) flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.batch
	p.batch = nil
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	p.logger.WithField("batch_size", len(batch)).Debug("processing payment batch")

	limit := p.maxParallelOps
	if limit <= 0 {
		limit = 1
	}
	if limit > len(batch) {
		limit = len(batch)
	}

	semaphore := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for _, req := range batch {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(req payRequest) {
			defer wg.Done()
			defer func() { <-semaphore }()
			p.pay(ctx, req)
		}(req)
	}
	wg.Wait()
}

func (p *AsyncPayer) pay(ctx context.Context, req payRequest) {
	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	order, err := p.payer.Pay(ctx, req.orderID, req.selection)
	if err != nil {
		p.logger.WithError(err).WithField("order_id", req.orderID).Warn("payment failed")
		return
	}
	p.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	}).Debug("payment processed")
}
