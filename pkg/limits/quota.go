package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"llamachat-hq/relay/pkg/storage"
)

// ErrInactiveUser is returned when a disabled account tries to generate.
var ErrInactiveUser = errors.New("user account is inactive")

// QuotaExceededError is returned when a user has used up their quota.
type QuotaExceededError struct {
	UserID int64
	Quota  int
	Usage  int
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("request quota exceeded (%d of %d used)", e.Usage, e.Quota)
}

// UsageStore is the subset of storage.Store the gate needs.
type UsageStore interface {
	GetUser(ctx context.Context, id int64) (*storage.User, error)
	IncrementUsage(ctx context.Context, id int64) (*storage.User, error)
}

// QuotaObserver is notified of gate decisions. Used for metrics.
type QuotaObserver interface {
	QuotaCharged()
	QuotaRejected()
}

// QuotaGate checks and charges per-user request quotas.
type QuotaGate struct {
	store    UsageStore
	enforce  bool
	observer QuotaObserver
	logger   *slog.Logger

	// Serializes check-and-increment so two concurrent requests cannot
	// both pass on the last remaining unit.
	mu sync.Mutex
}

// NewQuotaGate creates a gate. With enforce=false usage is counted but
// never refused. observer may be nil.
func NewQuotaGate(store UsageStore, enforce bool, observer QuotaObserver) *QuotaGate {
	return &QuotaGate{
		store:    store,
		enforce:  enforce,
		observer: observer,
		logger:   slog.Default().With("component", "limits.quota"),
	}
}

// Charge verifies the user may make another request and increments their
// usage counter. It returns the updated user.
func (g *QuotaGate) Charge(ctx context.Context, userID int64) (*storage.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	user, err := g.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user for quota check: %w", err)
	}
	if !user.IsActive {
		g.reject()
		return nil, ErrInactiveUser
	}

	if g.enforce && user.Quota > 0 && user.UsageCount >= user.Quota {
		g.reject()
		g.logger.Info("request refused, quota exhausted",
			"user_id", userID,
			"quota", user.Quota,
			"usage", user.UsageCount,
		)
		return nil, &QuotaExceededError{UserID: userID, Quota: user.Quota, Usage: user.UsageCount}
	}

	updated, err := g.store.IncrementUsage(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}
	if g.observer != nil {
		g.observer.QuotaCharged()
	}
	return updated, nil
}

func (g *QuotaGate) reject() {
	if g.observer != nil {
		g.observer.QuotaRejected()
	}
}
