package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/fd1az/token-distributor/business/distribution/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
	"github.com/fd1az/token-distributor/internal/logger"
)

// Store is the durable side of the ledger.
type Store interface {
	Get(ctx context.Context, transactionID string) (*domain.TransactionRecord, error)
	Update(ctx context.Context, transactionID string, u domain.RecordUpdate) error
}

// ResilientLedger fronts a Store with a process-lifetime cache. Writes the
// store rejects for availability reasons are kept and replayed by Flush.
// It does not replace durability: the cache dies with the process.
//
// Only records this process has read from the store, or seen the store
// report missing, are cached. A write for any other id cannot know the
// stored record, so it is never served back from the cache.
type ResilientLedger struct {
	store  Store
	logger logger.LoggerInterface

	mu     sync.Mutex
	cache  map[string]domain.TransactionRecord
	absent map[string]struct{}
	dirty  map[string]domain.RecordUpdate
}

func NewResilientLedger(store Store, log logger.LoggerInterface) *ResilientLedger {
	return &ResilientLedger{
		store:  store,
		logger: log,
		cache:  make(map[string]domain.TransactionRecord),
		absent: make(map[string]struct{}),
		dirty:  make(map[string]domain.RecordUpdate),
	}
}

// Get prefers the store, falling back to the cache when the store fails or
// lags behind a write this process already made.
func (l *ResilientLedger) Get(ctx context.Context, transactionID string) (*domain.TransactionRecord, error) {
	rec, err := l.store.Get(ctx, transactionID)

	l.mu.Lock()
	defer l.mu.Unlock()

	cached, ok := l.cache[transactionID]
	switch {
	case err == nil:
		if ok && cached.Settled() && !rec.Settled() {
			return &cached, nil
		}
		l.cache[transactionID] = *rec
		delete(l.absent, transactionID)
		return rec, nil
	case ok:
		if !apperror.HasCode(err, apperror.CodeRecordNotFound) {
			l.logger.Warn(ctx, "ledger store unavailable, serving cached record",
				"transaction_id", transactionID, "error", err)
		}
		return &cached, nil
	case apperror.HasCode(err, apperror.CodeRecordNotFound):
		l.absent[transactionID] = struct{}{}
		return nil, err
	default:
		return nil, apperror.Wrap(err, apperror.CodeLedgerUnavailable, transactionID)
	}
}

// Update writes through to the store. When the store is unavailable the
// write is cached and queued for Flush, and Update succeeds.
func (l *ResilientLedger) Update(ctx context.Context, transactionID string, u domain.RecordUpdate) error {
	l.mu.Lock()
	cached, ok := l.cache[transactionID]
	if ok && cached.Regresses(u) {
		l.mu.Unlock()
		return apperror.New(apperror.CodeLedgerRegression, apperror.WithContext(transactionID))
	}
	if !ok {
		if _, missing := l.absent[transactionID]; missing {
			cached, ok = domain.TransactionRecord{TransactionID: transactionID}, true
		}
	}
	if ok {
		l.cache[transactionID] = cached.Apply(u)
		delete(l.absent, transactionID)
	}
	l.mu.Unlock()

	err := l.store.Update(ctx, transactionID, u)

	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case err == nil:
		delete(l.dirty, transactionID)
		return nil
	case apperror.HasCode(err, apperror.CodeLedgerRegression):
		return err
	default:
		l.dirty[transactionID] = merge(l.dirty[transactionID], u)
		l.logger.Warn(ctx, "ledger store unavailable, write buffered",
			"transaction_id", transactionID,
			"status", u.Status,
			"buffered", len(l.dirty),
			"error", err)
		return nil
	}
}

// merge folds next over a buffered write, keeping creation fields.
func merge(prev, next domain.RecordUpdate) domain.RecordUpdate {
	if next.TargetAmount == "" {
		next.TargetAmount = prev.TargetAmount
	}
	if next.Recipient == "" {
		next.Recipient = prev.Recipient
	}
	if next.AmountSent == "" {
		next.AmountSent = prev.AmountSent
	}
	if next.TxHash == "" && !next.ClearTxHash {
		next.TxHash = prev.TxHash
		next.ClearTxHash = prev.ClearTxHash
	}
	if next.CompletedAt == nil {
		next.CompletedAt = prev.CompletedAt
	}
	return next
}

// Pending is the number of buffered writes.
func (l *ResilientLedger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.dirty)
}

// Flush replays buffered writes. Writes the store refuses as regressions
// are dropped; others stay buffered.
func (l *ResilientLedger) Flush(ctx context.Context) error {
	l.mu.Lock()
	batch := make(map[string]domain.RecordUpdate, len(l.dirty))
	for id, u := range l.dirty {
		batch[id] = u
	}
	l.mu.Unlock()

	var firstErr error
	for id, u := range batch {
		err := l.store.Update(ctx, id, u)

		l.mu.Lock()
		switch {
		case err == nil, apperror.HasCode(err, apperror.CodeLedgerRegression):
			// A newer write may have been buffered while this one was in flight.
			if cur, ok := l.dirty[id]; ok && cur == u {
				delete(l.dirty, id)
			}
			if err != nil {
				l.logger.Warn(ctx, "dropping buffered ledger write", "transaction_id", id, "error", err)
			}
		default:
			if firstErr == nil {
				firstErr = err
			}
		}
		l.mu.Unlock()
	}

	if n := len(batch); n > 0 {
		l.logger.Info(ctx, "ledger flush", "attempted", n, "remaining", l.Pending())
	}
	return firstErr
}

// Run flushes on every tick until ctx is done, then makes a final attempt.
func (l *ResilientLedger) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := l.Flush(final); err != nil {
				l.logger.Error(final, "final ledger flush failed", "pending", l.Pending(), "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			if err := l.Flush(ctx); err != nil {
				l.logger.Debug(ctx, "ledger flush incomplete", "pending", l.Pending(), "error", err)
			}
		}
	}
}

type lister interface {
	List(ctx context.Context, status domain.Status, limit int) ([]domain.TransactionRecord, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// List reads from the store only; buffered writes are not listed.
func (l *ResilientLedger) List(ctx context.Context, status domain.Status, limit int) ([]domain.TransactionRecord, error) {
	ls, ok := l.store.(lister)
	if !ok {
		return nil, apperror.New(apperror.CodeServiceUnavailable, apperror.WithContext("ledger listing"))
	}
	return ls.List(ctx, status, limit)
}

// Ping reports store reachability.
func (l *ResilientLedger) Ping(ctx context.Context) error {
	if p, ok := l.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
