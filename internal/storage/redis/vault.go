// Package redis хранит токены карт в Redis с нативным TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

const (
	defaultKeyPrefix = "stockflow:"
	connectTimeout   = 5 * time.Second
)

// cmdable — подмножество команд go-redis, которым пользуется vault.
type cmdable interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	ZAdd(ctx context.Context, key string, members ...goredis.Z) *goredis.IntCmd
	ZRem(ctx context.Context, key string, members ...any) *goredis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *goredis.ZRangeBy) *goredis.StringSliceCmd
	ZCount(ctx context.Context, key, min, max string) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
}

// Config описывает подключение к Redis. Непустой URL имеет приоритет над Addr.
type Config struct {
	URL       string
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Vault реализует domain.TokenVault поверх Redis.
//
// Каждый токен лежит в отдельном ключе с TTL до ExpiresAt, а sorted set
// с очками по времени истечения служит индексом для Count и DeleteExpired.
type Vault struct {
	client cmdable
	closer func() error
	prefix string
	now    func() time.Time
}

// Open подключается к Redis и проверяет соединение.
func Open(ctx context.Context, cfg Config) (*Vault, error) {
	opts := &goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	v := newVault(client, cfg.KeyPrefix)
	v.closer = client.Close
	return v, nil
}

func newVault(client cmdable, prefix string) *Vault {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Vault{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (v *Vault) tokenKey(token string) string { return v.prefix + "card_token:" + token }
func (v *Vault) indexKey() string             { return v.prefix + "card_tokens" }

// Put сохраняет токен. Уже истёкший токен не записывается.
func (v *Vault) Put(ctx context.Context, card domain.CardToken) error {
	ttl := card.ExpiresAt.Sub(v.now())
	if ttl <= 0 {
		return domain.ErrTokenExpired
	}

	payload, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("encode card token: %w", err)
	}

	if err := v.client.Set(ctx, v.tokenKey(card.Token), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set token: %w", err)
	}
	score := float64(card.ExpiresAt.Unix())
	if err := v.client.ZAdd(ctx, v.indexKey(), goredis.Z{Score: score, Member: card.Token}).Err(); err != nil {
		return fmt.Errorf("redis index token: %w", err)
	}
	return nil
}

func (v *Vault) Get(ctx context.Context, token string) (domain.CardToken, error) {
	raw, err := v.client.Get(ctx, v.tokenKey(token)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.CardToken{}, domain.ErrTokenNotFound
	}
	if err != nil {
		return domain.CardToken{}, fmt.Errorf("redis get token: %w", err)
	}

	var card domain.CardToken
	if err := json.Unmarshal(raw, &card); err != nil {
		return domain.CardToken{}, fmt.Errorf("decode card token: %w", err)
	}
	return card, nil
}

func (v *Vault) Delete(ctx context.Context, token string) error {
	if err := v.client.Del(ctx, v.tokenKey(token)).Err(); err != nil {
		return fmt.Errorf("redis delete token: %w", err)
	}
	if err := v.client.ZRem(ctx, v.indexKey(), token).Err(); err != nil {
		return fmt.Errorf("redis unindex token: %w", err)
	}
	return nil
}

// DeleteExpired удаляет до limit токенов, истёкших к before, начиная с самых старых.
func (v *Vault) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	opt := &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.Unix(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}

	tokens, err := v.client.ZRangeByScore(ctx, v.indexKey(), opt).Result()
	if err != nil {
		return 0, fmt.Errorf("redis range expired tokens: %w", err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(tokens))
	members := make([]any, 0, len(tokens))
	for _, token := range tokens {
		keys = append(keys, v.tokenKey(token))
		members = append(members, token)
	}
	if err := v.client.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("redis delete expired tokens: %w", err)
	}
	if err := v.client.ZRem(ctx, v.indexKey(), members...).Err(); err != nil {
		return 0, fmt.Errorf("redis unindex expired tokens: %w", err)
	}
	return len(tokens), nil
}

// Count возвращает число ещё не истёкших токенов.
func (v *Vault) Count(ctx context.Context) (int, error) {
	n, err := v.client.ZCount(ctx, v.indexKey(), "("+strconv.FormatInt(v.now().Unix(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis count tokens: %w", err)
	}
	return int(n), nil
}

// Ping проверяет доступность Redis.
func (v *Vault) Ping(ctx context.Context) error {
	return v.client.Ping(ctx).Err()
}

// Close закрывает соединение, если vault открыл его сам.
func (v *Vault) Close() error {
	if v.closer == nil {
		return nil
	}
	return v.closer()
}

var _ domain.TokenVault = (*Vault)(nil)
