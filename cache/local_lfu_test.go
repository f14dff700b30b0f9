package cache

import (
	"testing"
	"time"
)

func TestLFUCacheSetGet(t *testing.T) {
	cache, err := NewLFUCache(DefaultLFUCacheConfig())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	cache.Set("shoes", entryFor("shoes"), 1)

	// Ristretto applies writes asynchronously.
	time.Sleep(10 * time.Millisecond)

	entry, found := cache.Get("shoes")
	if !found {
		t.Fatal("Entry should be found")
	}
	if entry.Data != "data for shoes" {
		t.Fatalf("Unexpected entry: %+v", entry)
	}
}

func TestLFUCacheGetNotFound(t *testing.T) {
	cache, err := NewLFUCache(DefaultLFUCacheConfig())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	if _, found := cache.Get("nonexistent"); found {
		t.Fatal("Entry should not be found")
	}
}

func TestLFUCacheDelete(t *testing.T) {
	cache, err := NewLFUCache(DefaultLFUCacheConfig())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer cache.Close()

	cache.Set("shoes", entryFor("shoes"), 1)
	time.Sleep(10 * time.Millisecond)
	cache.Delete("shoes")

	if _, found := cache.Get("shoes"); found {
		t.Fatal("Deleted entry should not be found")
	}
}

func TestLFUCacheFactory(t *testing.T) {
	factory := NewLFUCacheFactory(DefaultLFUCacheConfig())
	cache, err := factory.Create()
	if err != nil {
		t.Fatalf("Factory create failed: %v", err)
	}
	defer cache.Close()

	cache.Set("shoes", entryFor("shoes"), 1)
	time.Sleep(10 * time.Millisecond)
	if _, found := cache.Get("shoes"); !found {
		t.Fatal("Factory-created cache should work")
	}
}
