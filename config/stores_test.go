package config

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestOpenStores(t *testing.T) {
	mr := miniredis.RunT(t)
	cfgs := map[string]StoreConfig{
		"visits": {Initial: 3},
		"cart":   {Type: "redis"},
	}
	cart := cfgs["cart"]
	cart.Redis.Address = mr.Addr()
	cfgs["cart"] = cart

	reg, closeAll, err := OpenStores(context.Background(), cfgs, discardLogger())
	if err != nil {
		t.Fatalf("OpenStores: %v", err)
	}
	defer func() { _ = closeAll() }()

	visits, ok := reg.Store("visits")
	if !ok {
		t.Fatal("expected visits store")
	}
	if v, _ := visits.GetValue(context.Background()); v != 3 {
		t.Errorf("expected initial 3, got %v", v)
	}

	rs, ok := reg.Store("cart")
	if !ok {
		t.Fatal("expected cart store")
	}
	if err := rs.SetValue(context.Background(), map[string]any{"items": 1}); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if !mr.Exists("cart") {
		t.Error("expected redis key to default to the store name")
	}
}

func TestOpenStores_UnknownType(t *testing.T) {
	if _, _, err := OpenStores(context.Background(), map[string]StoreConfig{"x": {Type: "etcd"}}, discardLogger()); err == nil {
		t.Error("expected error for unknown store type")
	}
}
