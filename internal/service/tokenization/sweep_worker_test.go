package tokenization

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

var _ domain.TokenVault = (*stubVault)(nil)

func TestSweepWorker_DeleteExpired_Batches(t *testing.T) {
	t.Parallel()

	vault := &stubVault{
		deleteResults: []int{2, 2, 1},
	}

	worker := NewSweepWorker(vault, WithBatchSize(2))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("unexpected deleted total: got=%d want=5", deleted)
	}
	if calls := vault.calls(); calls != 3 {
		t.Fatalf("unexpected delete calls: got=%d want=3", calls)
	}
}

func TestSweepWorker_DeleteExpired_Error(t *testing.T) {
	t.Parallel()

	vault := &stubVault{
		deleteErrors: []error{errors.New("boom")},
	}

	worker := NewSweepWorker(vault, WithBatchSize(10))

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected DeleteExpired error")
	}
	if deleted != 0 {
		t.Fatalf("unexpected deleted total: got=%d want=0", deleted)
	}
}

func TestSweepWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	vault := &stubVault{
		deleteResults: []int{0, 0, 0},
	}

	worker := NewSweepWorker(
		vault,
		WithInterval(5*time.Millisecond),
		WithBatchSize(10),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}

	if calls := vault.calls(); calls == 0 {
		t.Fatal("expected sweep to be called at least once")
	}
}

type stubVault struct {
	mu sync.Mutex

	deleteResults []int
	deleteErrors  []error
	callCount     int
}

func (s *stubVault) Put(context.Context, domain.CardToken) error {
	panic("not implemented")
}

func (s *stubVault) Get(context.Context, string) (domain.CardToken, error) {
	panic("not implemented")
}

func (s *stubVault) Delete(context.Context, string) error {
	panic("not implemented")
}

func (s *stubVault) Count(context.Context) (int, error) {
	return 0, nil
}

func (s *stubVault) DeleteExpired(_ context.Context, _ time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++

	if len(s.deleteErrors) > 0 {
		err := s.deleteErrors[0]
		s.deleteErrors = s.deleteErrors[1:]
		if err != nil {
			return 0, err
		}
	}

	if len(s.deleteResults) == 0 {
		return 0, nil
	}
	result := s.deleteResults[0]
	s.deleteResults = s.deleteResults[1:]
	return result, nil
}

func (s *stubVault) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}
