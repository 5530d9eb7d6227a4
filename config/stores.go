package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/GoCodeAlone/actionpipe/store"
	redisstore "github.com/GoCodeAlone/actionpipe/store/redis"
)

// OpenStores creates every configured store. The returned close function
// releases the connections of the stores that hold any.
func OpenStores(ctx context.Context, cfgs map[string]StoreConfig, logger *slog.Logger) (*store.Registry, func() error, error) {
	reg := store.NewRegistry()
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	for _, name := range slices.Sorted(maps.Keys(cfgs)) {
		sc := cfgs[name]
		switch sc.Type {
		case "", "memory":
			_ = reg.Add(name, store.NewMemory(sc.Initial))
		case "redis":
			if sc.Redis.Key == "" {
				sc.Redis.Key = name
			}
			rs, err := redisstore.New(ctx, sc.Redis, logger)
			if err != nil {
				_ = closeAll()
				return nil, nil, fmt.Errorf("store %q: %w", name, err)
			}
			closers = append(closers, rs.Close)
			_ = reg.Add(name, rs)
		default:
			_ = closeAll()
			return nil, nil, fmt.Errorf("store %q: unknown type %q", name, sc.Type)
		}
	}
	return reg, closeAll, nil
}
