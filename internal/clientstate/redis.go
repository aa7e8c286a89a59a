package clientstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultFormTTL   = 24 * time.Hour
	defaultNumberTTL = 90 * 24 * time.Hour
	maxTTLJitter     = 30 * time.Minute
)

// RedisStore keeps client state in Redis so it survives restarts and is shared between replicas.
type RedisStore struct {
	client    redis.Cmdable
	formTTL   time.Duration
	numberTTL time.Duration
}

// NewRedisStore wraps a Redis client. A formTTL of zero uses the default of 24h.
func NewRedisStore(client redis.Cmdable, formTTL time.Duration) *RedisStore {
	if formTTL <= 0 {
		formTTL = defaultFormTTL
	}
	return &RedisStore{client: client, formTTL: formTTL, numberTTL: defaultNumberTTL}
}

// Form returns the form cache for a session.
func (s *RedisStore) Form(sessionID string) FormCache {
	return redisForm{store: s, key: formKey(sessionID)}
}

// OrderNumbers returns the shared order number map.
func (s *RedisStore) OrderNumbers() OrderNumbers {
	return redisNumbers{store: s}
}

type redisForm struct {
	store *RedisStore
	key   string
}

func (f redisForm) Get(ctx context.Context) (ShippingForm, error) {
	data, err := f.store.client.Get(ctx, f.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ShippingForm{}, ErrNotFound
	}
	if err != nil {
		return ShippingForm{}, fmt.Errorf("clientstate: redis get form: %w", err)
	}
	var form ShippingForm
	if err := json.Unmarshal(data, &form); err != nil {
		return ShippingForm{}, fmt.Errorf("clientstate: decode form: %w", err)
	}
	return form, nil
}

func (f redisForm) Set(ctx context.Context, form ShippingForm) error {
	data, err := json.Marshal(form)
	if err != nil {
		return fmt.Errorf("clientstate: encode form: %w", err)
	}
	if err := f.store.client.Set(ctx, f.key, data, withJitter(f.store.formTTL)).Err(); err != nil {
		return fmt.Errorf("clientstate: redis set form: %w", err)
	}
	return nil
}

func (f redisForm) Clear(ctx context.Context) error {
	if err := f.store.client.Del(ctx, f.key).Err(); err != nil {
		return fmt.Errorf("clientstate: redis delete form: %w", err)
	}
	return nil
}

type redisNumbers struct {
	store *RedisStore
}

func (n redisNumbers) Lookup(ctx context.Context, orderID string) (string, error) {
	number, err := n.store.client.Get(ctx, numberKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("clientstate: redis get order number: %w", err)
	}
	return number, nil
}

func (n redisNumbers) Remember(ctx context.Context, orderID, number string) (string, error) {
	if strings.TrimSpace(orderID) == "" {
		return number, nil
	}
	key := numberKey(orderID)
	stored, err := n.store.client.SetNX(ctx, key, number, n.store.numberTTL).Result()
	if err != nil {
		return number, fmt.Errorf("clientstate: redis set order number: %w", err)
	}
	if stored {
		return number, nil
	}
	existing, err := n.store.client.Get(ctx, key).Result()
	if err != nil {
		return number, fmt.Errorf("clientstate: redis get order number: %w", err)
	}
	return existing, nil
}

func formKey(sessionID string) string {
	return fmt.Sprintf("checkout:form:%s", strings.TrimSpace(sessionID))
}

func numberKey(orderID string) string {
	return fmt.Sprintf("checkout:order-number:%s", strings.TrimSpace(orderID))
}

// withJitter spreads expiries so sessions created together do not expire together.
func withJitter(ttl time.Duration) time.Duration {
	return ttl + rand.N(maxTTLJitter)
}
