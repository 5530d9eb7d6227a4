// Package redis implements a Store that keeps its value as JSON under a
// single Redis key, so several processes can share handler state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/GoCodeAlone/actionpipe/interfaces"
)

var _ interfaces.Store = (*Store)(nil)

// ErrUpdateConflict is returned when Update loses the optimistic-lock race
// more than MaxRetries times.
var ErrUpdateConflict = errors.New("redis store: update conflict")

// Client is the subset of go-redis client methods used by Store.
// Keeping it as an interface enables mocking in tests.
type Client interface {
	Ping(ctx context.Context) *goredis.StatusCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Watch(ctx context.Context, fn func(*goredis.Tx) error, keys ...string) error
	Close() error
}

// Config holds connection and key settings for a Store.
type Config struct {
	Address    string        `yaml:"address"`
	Password   string        `yaml:"password,omitempty"`
	DB         int           `yaml:"db,omitempty"`
	Key        string        `yaml:"key"`
	TTL        time.Duration `yaml:"ttl,omitempty"`
	MaxRetries int           `yaml:"max_retries,omitempty"`
}

// Store is a Redis-backed interfaces.Store. Values are JSON encoded, so a
// value read back has the JSON shape of what was written (numbers become
// float64, structs become maps). Subscribers registered on this Store are
// notified synchronously after writes made through it.
type Store struct {
	cfg    Config
	client Client
	logger *slog.Logger

	mu   sync.Mutex
	subs []*subscriber
}

type subscriber struct {
	fn func(any)
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store %q: ping failed: %w", cfg.Key, err)
	}
	s := NewWithClient(cfg, client, logger)
	s.logger.Info("Redis store connected", "address", cfg.Address, "key", cfg.Key)
	return s, nil
}

// NewWithClient creates a Store backed by a pre-built client.
func NewWithClient(cfg Config, client Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	return &Store{cfg: cfg, client: client, logger: logger}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// GetValue returns the decoded value, or nil when the key does not exist.
func (s *Store) GetValue(ctx context.Context) (any, error) {
	raw, err := s.client.Get(ctx, s.cfg.Key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis store %q: get: %w", s.cfg.Key, err)
	}
	return decode(raw)
}

// SetValue encodes value and writes it.
func (s *Store) SetValue(ctx context.Context, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis store %q: encode: %w", s.cfg.Key, err)
	}
	if err := s.client.Set(ctx, s.cfg.Key, raw, s.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("redis store %q: set: %w", s.cfg.Key, err)
	}
	next, err := decode(raw)
	if err != nil {
		return err
	}
	s.notify(next)
	return nil
}

// Update reads, transforms and writes the value inside a WATCH transaction,
// retrying when another writer changes the key concurrently.
func (s *Store) Update(ctx context.Context, fn func(any) any) error {
	var next any
	txf := func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, s.cfg.Key).Bytes()
		var value any
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			if value, err = decode(current); err != nil {
				return err
			}
		}

		raw, err := json.Marshal(fn(value))
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		if next, err = decode(raw); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, s.cfg.Key, raw, s.cfg.TTL)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, s.cfg.Key)
		if err == nil {
			s.notify(next)
			return nil
		}
		if !errors.Is(err, goredis.TxFailedErr) {
			return fmt.Errorf("redis store %q: update: %w", s.cfg.Key, err)
		}
		s.logger.Debug("Redis store update retry", "key", s.cfg.Key, "attempt", attempt)
	}
	return fmt.Errorf("%w: key %q after %d attempts", ErrUpdateConflict, s.cfg.Key, s.cfg.MaxRetries)
}

// Subscribe registers fn for change notifications.
func (s *Store) Subscribe(fn func(any)) func() {
	sub := &subscriber{fn: fn}
	s.mu.Lock()
	s.subs = append(s.subs[:len(s.subs):len(s.subs)], sub)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			next := make([]*subscriber, 0, len(s.subs))
			for _, existing := range s.subs {
				if existing != sub {
					next = append(next, existing)
				}
			}
			s.subs = next
		})
	}
}

func (s *Store) notify(value any) {
	s.mu.Lock()
	subs := s.subs
	s.mu.Unlock()
	for _, sub := range subs {
		sub.fn(value)
	}
}

func decode(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("redis store: decode: %w", err)
	}
	return v, nil
}
