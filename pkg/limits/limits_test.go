package limits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"llamachat-hq/relay/pkg/storage"
)

type countingQuotaObserver struct {
	mu                sync.Mutex
	charged, rejected int
}

func (o *countingQuotaObserver) QuotaCharged() {
	o.mu.Lock()
	o.charged++
	o.mu.Unlock()
}

func (o *countingQuotaObserver) QuotaRejected() {
	o.mu.Lock()
	o.rejected++
	o.mu.Unlock()
}

func newUser(t *testing.T, s *storage.MemoryStore, quota int) *storage.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), "alice", "h")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.UpdateUser(context.Background(), u.ID, storage.UserUpdate{Quota: &quota}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	return u
}

func TestQuotaGate_ChargesOncePerCall(t *testing.T) {
	store := storage.NewMemoryStore()
	u := newUser(t, store, 10)
	obs := &countingQuotaObserver{}
	gate := NewQuotaGate(store, true, obs)

	updated, err := gate.Charge(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if updated.UsageCount != 1 {
		t.Errorf("expected usage 1, got %d", updated.UsageCount)
	}
	if obs.charged != 1 || obs.rejected != 0 {
		t.Errorf("unexpected observer counts %d/%d", obs.charged, obs.rejected)
	}
}

func TestQuotaGate_Enforced(t *testing.T) {
	store := storage.NewMemoryStore()
	u := newUser(t, store, 2)
	gate := NewQuotaGate(store, true, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := gate.Charge(ctx, u.ID); err != nil {
			t.Fatalf("Charge #%d: %v", i, err)
		}
	}

	_, err := gate.Charge(ctx, u.ID)
	var quotaErr *QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected *QuotaExceededError, got %v", err)
	}
	if quotaErr.Quota != 2 || quotaErr.Usage != 2 {
		t.Errorf("unexpected error fields: %+v", quotaErr)
	}

	got, _ := store.GetUser(ctx, u.ID)
	if got.UsageCount != 2 {
		t.Errorf("refused request must not be charged, usage=%d", got.UsageCount)
	}
}

func TestQuotaGate_NotEnforced(t *testing.T) {
	store := storage.NewMemoryStore()
	u := newUser(t, store, 1)
	gate := NewQuotaGate(store, false, nil)

	for i := 0; i < 3; i++ {
		if _, err := gate.Charge(context.Background(), u.ID); err != nil {
			t.Fatalf("Charge #%d: %v", i, err)
		}
	}
	got, _ := store.GetUser(context.Background(), u.ID)
	if got.UsageCount != 3 {
		t.Errorf("expected usage 3, got %d", got.UsageCount)
	}
}

func TestQuotaGate_ZeroQuotaIsUnlimited(t *testing.T) {
	store := storage.NewMemoryStore()
	u := newUser(t, store, 0)
	gate := NewQuotaGate(store, true, nil)

	for i := 0; i < 5; i++ {
		if _, err := gate.Charge(context.Background(), u.ID); err != nil {
			t.Fatalf("Charge #%d: %v", i, err)
		}
	}
}

func TestQuotaGate_InactiveUser(t *testing.T) {
	store := storage.NewMemoryStore()
	u := newUser(t, store, 10)
	inactive := false
	_, _ = store.UpdateUser(context.Background(), u.ID, storage.UserUpdate{IsActive: &inactive})

	gate := NewQuotaGate(store, true, nil)
	if _, err := gate.Charge(context.Background(), u.ID); !errors.Is(err, ErrInactiveUser) {
		t.Errorf("expected ErrInactiveUser, got %v", err)
	}
}

func TestQuotaGate_ConcurrentChargesRespectQuota(t *testing.T) {
	store := storage.NewMemoryStore()
	u := newUser(t, store, 5)
	gate := NewQuotaGate(store, true, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := gate.Charge(context.Background(), u.ID); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 5 {
		t.Errorf("expected exactly 5 accepted, got %d", accepted)
	}
}

func TestResetScheduler(t *testing.T) {
	store := storage.NewMemoryStore()
	u := newUser(t, store, 10)
	_, _ = store.IncrementUsage(context.Background(), u.ID)

	t.Run("invalid schedule", func(t *testing.T) {
		s := NewResetScheduler(store, "not a cron")
		if err := s.Start(context.Background()); err == nil {
			t.Error("expected error for invalid schedule")
		}
	})

	t.Run("empty schedule is a no-op", func(t *testing.T) {
		s := NewResetScheduler(store, "")
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if s.NextRun() != nil {
			t.Error("expected no next run")
		}
	})

	t.Run("start and stop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s := NewResetScheduler(store, "0 0 1 * *")
		if err := s.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		next := s.NextRun()
		if next == nil || !next.After(time.Now()) {
			t.Errorf("expected a future next run, got %v", next)
		}
		s.Stop()
		s.Stop()
	})

	t.Run("run once", func(t *testing.T) {
		s := NewResetScheduler(store, "")
		s.RunOnce(context.Background())

		got, _ := store.GetUser(context.Background(), u.ID)
		if got.UsageCount != 0 {
			t.Errorf("expected usage reset, got %d", got.UsageCount)
		}
		if s.LastRun().IsZero() {
			t.Error("expected last run to be recorded")
		}
	})
}

func TestKeyedLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewKeyedLimiter(1, 2, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("a") {
		t.Error("third immediate event should be refused")
	}
	if !l.Allow("b") {
		t.Error("other keys have their own bucket")
	}

	ok, retry := l.Reserve("a")
	if ok || retry <= 0 {
		t.Errorf("expected refusal with retry delay, got ok=%v retry=%v", ok, retry)
	}

	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Error("token should refill after one second")
	}

	now = now.Add(2 * time.Minute)
	l.Allow("c")
	if l.Len() != 1 {
		t.Errorf("expected idle keys to be dropped, have %d", l.Len())
	}

	l.Forget("c")
	if l.Len() != 0 {
		t.Errorf("expected 0 keys after Forget, got %d", l.Len())
	}
}
