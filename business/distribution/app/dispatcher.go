package app

import (
	"context"
	"sync"

	"github.com/fd1az/token-distributor/business/distribution/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/logger"
)

// Distributor runs one distribution synchronously.
type Distributor interface {
	Distribute(ctx context.Context, req domain.DistributionRequest) (*domain.Result, error)
}

// Dispatcher feeds queued requests to a fixed set of workers.
type Dispatcher struct {
	distributor Distributor
	workers     int
	queue       chan domain.DistributionRequest
	logger      logger.LoggerInterface

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool

	wg sync.WaitGroup
}

func NewDispatcher(distributor Distributor, workers, queueSize int, log logger.LoggerInterface) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		distributor: distributor,
		workers:     workers,
		queue:       make(chan domain.DistributionRequest, queueSize),
		logger:      log,
		inflight:    make(map[string]struct{}),
	}
}

// Start launches the workers. They exit when the queue is closed by Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx, i)
	}
	d.logger.Info(ctx, "dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
}

// Submit enqueues req. It fails with DISTRIBUTION_IN_FLIGHT when the id is
// already queued or running and QUEUE_FULL when there is no room.
func (d *Dispatcher) Submit(req domain.DistributionRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return apperror.New(apperror.CodeServiceUnavailable, apperror.WithContext("dispatcher stopped"))
	}
	if _, busy := d.inflight[req.TransactionID]; busy {
		return apperror.New(apperror.CodeDistributionInFlight, apperror.WithContext(req.TransactionID))
	}

	select {
	case d.queue <- req:
		d.inflight[req.TransactionID] = struct{}{}
		return nil
	default:
		return apperror.New(apperror.CodeQueueFull, apperror.WithContext(req.TransactionID))
	}
}

// InFlight reports whether id is queued or running.
func (d *Dispatcher) InFlight(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[id]
	return ok
}

// Stop refuses new work and waits for queued requests to drain. Once the
// context given to Start is done, workers drain the queue without running it.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context, n int) {
	defer d.wg.Done()

	for req := range d.queue {
		// Requests still queued after ctx is done are dropped unrun.
		if err := ctx.Err(); err != nil {
			d.logger.Warn(ctx, "dropping queued distribution",
				"worker", n,
				"transaction_id", req.TransactionID,
				"error", err)
			d.release(req.TransactionID)
			continue
		}

		res, err := d.distributor.Distribute(ctx, req)
		if err != nil {
			d.logger.Warn(ctx, "queued distribution did not complete",
				"worker", n,
				"transaction_id", req.TransactionID,
				"status", res.Status,
				"error", err)
		} else {
			d.logger.Info(ctx, "queued distribution finished",
				"worker", n,
				"transaction_id", req.TransactionID,
				"status", res.Status,
				"tx_hash", res.TxHash)
		}

		d.release(req.TransactionID)
	}
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.inflight, id)
	d.mu.Unlock()
}
