package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/corestratum/eventcore/queue"
)

type fakeRepository struct {
	mu      sync.Mutex
	pending []Record
	acked   []int64
	nacked  []int64
}

func (f *fakeRepository) Append(ctx context.Context, records []NewRecord) error { return nil }

func (f *fakeRepository) Claim(ctx context.Context, queueName string, n int, leaseTTL time.Duration) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	take := n
	if take > len(f.pending) {
		take = len(f.pending)
	}
	batch := f.pending[:take]
	f.pending = f.pending[take:]
	return batch, nil
}

func (f *fakeRepository) Ack(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func (f *fakeRepository) Nack(ctx context.Context, ids []int64, backoff time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, ids...)
	return nil
}

func (f *fakeRepository) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

var _ Repository = (*fakeRepository)(nil)

type fakeFacade struct {
	mu   sync.Mutex
	sent []queue.Message
	fail bool
}

func (f *fakeFacade) Send(ctx context.Context, queueName string, msg queue.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return context.DeadlineExceeded
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeFacade) Subscribe(ctx context.Context, queueName string, handler queue.Handler) error {
	return nil
}
func (f *fakeFacade) Register(ctx context.Context, cfg queue.RegisterConfig) error { return nil }
func (f *fakeFacade) Shutdown(ctx context.Context) error                          { return nil }

var _ queue.Facade = (*fakeFacade)(nil)

func TestPublisher_PublishesAndAcks(t *testing.T) {
	repo := &fakeRepository{pending: []Record{
		{ID: 1, StreamID: "s1", Payload: []byte("a")},
		{ID: 2, StreamID: "s1", Payload: []byte("b")},
	}}
	facade := &fakeFacade{}
	cfg := DefaultConfig
	cfg.ReclaimInterval = time.Hour
	cfg.BackoffBase = time.Millisecond
	pub := NewPublisher(repo, facade, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = pub.Run(ctx, "test-queue")

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.acked) != 2 {
		t.Fatalf("expected 2 acked ids, got %d", len(repo.acked))
	}
	facade.mu.Lock()
	defer facade.mu.Unlock()
	if len(facade.sent) != 2 {
		t.Fatalf("expected 2 sent messages, got %d", len(facade.sent))
	}
}

func TestPublisher_NacksOnSendFailure(t *testing.T) {
	repo := &fakeRepository{pending: []Record{{ID: 1, StreamID: "s1", Payload: []byte("a")}}}
	facade := &fakeFacade{fail: true}
	cfg := DefaultConfig
	cfg.ReclaimInterval = time.Hour
	cfg.BackoffBase = time.Millisecond
	pub := NewPublisher(repo, facade, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = pub.Run(ctx, "test-queue")

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.nacked) != 1 {
		t.Fatalf("expected 1 nacked id, got %d", len(repo.nacked))
	}
	if len(repo.acked) != 0 {
		t.Fatalf("expected no acked ids, got %d", len(repo.acked))
	}
}

func TestBackoffFor_Grows(t *testing.T) {
	cfg := DefaultConfig
	first := backoffFor(cfg, 0)
	later := backoffFor(cfg, 5)
	if later <= first {
		t.Fatalf("expected backoff to grow with attempts: first=%v later=%v", first, later)
	}
	if later > cfg.BackoffMax+cfg.BackoffMax/2 {
		t.Fatalf("expected backoff capped near BackoffMax, got %v", later)
	}
}
