package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

// tokenVaultInMemory — vault токенов карт для разработки и тестов.
type tokenVaultInMemory struct {
	mu     sync.RWMutex
	tokens map[string]domain.CardToken
}

// NewTokenVault создаёт in-memory vault.
func NewTokenVault() *tokenVaultInMemory {
	return &tokenVaultInMemory{tokens: make(map[string]domain.CardToken)}
}

func (v *tokenVaultInMemory) Put(ctx context.Context, card domain.CardToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.tokens[card.Token] = card
	return nil
}

func (v *tokenVaultInMemory) Get(ctx context.Context, token string) (domain.CardToken, error) {
	if err := ctx.Err(); err != nil {
		return domain.CardToken{}, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	card, ok := v.tokens[token]
	if !ok {
		return domain.CardToken{}, domain.ErrTokenNotFound
	}
	return card, nil
}

func (v *tokenVaultInMemory) Delete(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.tokens, token)
	return nil
}

// DeleteExpired удаляет до limit самых старых истёкших токенов.
func (v *tokenVaultInMemory) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	expired := make([]domain.CardToken, 0)
	for _, card := range v.tokens {
		if card.Expired(before) {
			expired = append(expired, card)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, card := range expired {
		delete(v.tokens, card.Token)
	}
	return len(expired), nil
}

func (v *tokenVaultInMemory) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	return len(v.tokens), nil
}

var _ domain.TokenVault = (*tokenVaultInMemory)(nil)
