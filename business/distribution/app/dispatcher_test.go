package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fd1az/token-distributor/business/distribution/domain"
	"github.com/fd1az/token-distributor/internal/apperror"
)

// blockingDistributor holds every run until release is closed.
type blockingDistributor struct {
	mu      sync.Mutex
	release chan struct{}
	ran     []string
}

func (b *blockingDistributor) Distribute(_ context.Context, req domain.DistributionRequest) (*domain.Result, error) {
	<-b.release
	b.mu.Lock()
	b.ran = append(b.ran, req.TransactionID)
	b.mu.Unlock()
	return &domain.Result{TransactionID: req.TransactionID, Status: domain.StatusCompleted, TxHash: "0x1"}, nil
}

func TestDispatcher_RejectsDuplicatesAndOverflow(t *testing.T) {
	dist := &blockingDistributor{release: make(chan struct{})}
	d := NewDispatcher(dist, 1, 2, &mockLogger{})

	if err := d.Submit(request("a", "1", "")); err != nil {
		t.Fatalf("Submit(a) error = %v", err)
	}
	if err := d.Submit(request("a", "1", "")); !apperror.HasCode(err, apperror.CodeDistributionInFlight) {
		t.Errorf("duplicate Submit error = %v, want DISTRIBUTION_IN_FLIGHT", err)
	}
	if err := d.Submit(request("b", "1", "")); err != nil {
		t.Fatalf("Submit(b) error = %v", err)
	}
	if err := d.Submit(request("c", "1", "")); !apperror.HasCode(err, apperror.CodeQueueFull) {
		t.Errorf("overflow Submit error = %v, want QUEUE_FULL", err)
	}
	if !d.InFlight("a") || d.InFlight("c") {
		t.Error("in-flight tracking is wrong")
	}
}

func TestDispatcher_DrainsOnStop(t *testing.T) {
	dist := &blockingDistributor{release: make(chan struct{})}
	d := NewDispatcher(dist, 2, 8, &mockLogger{})
	d.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		if err := d.Submit(request(id, "1", "")); err != nil {
			t.Fatalf("Submit(%s) error = %v", id, err)
		}
	}
	close(dist.release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	dist.mu.Lock()
	defer dist.mu.Unlock()
	if len(dist.ran) != 3 {
		t.Errorf("ran %v, want 3 distributions", dist.ran)
	}
	if d.InFlight("a") {
		t.Error("finished id still in flight")
	}
	if err := d.Submit(request("d", "1", "")); err == nil {
		t.Error("Submit after Stop succeeded")
	}
}

func TestDispatcher_DropsQueuedAfterCancel(t *testing.T) {
	dist := &blockingDistributor{release: make(chan struct{})}
	close(dist.release)
	d := NewDispatcher(dist, 2, 8, &mockLogger{})

	runCtx, stopRuns := context.WithCancel(context.Background())
	d.Start(runCtx)
	stopRuns()

	for _, id := range []string{"a", "b", "c"} {
		if err := d.Submit(request(id, "1", "")); err != nil {
			t.Fatalf("Submit(%s) error = %v", id, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	dist.mu.Lock()
	defer dist.mu.Unlock()
	if len(dist.ran) != 0 {
		t.Errorf("ran %v after cancel, want none", dist.ran)
	}
	for _, id := range []string{"a", "b", "c"} {
		if d.InFlight(id) {
			t.Errorf("%s still in flight", id)
		}
	}
}
