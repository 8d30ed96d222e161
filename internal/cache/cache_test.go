package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCacheBasics(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(100)
	defer c.Close()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := c.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "v1" {
			t.Errorf("expected v1, got %s", val)
		}
	})

	t.Run("MissReturnsNil", func(t *testing.T) {
		val, err := c.Get(ctx, "missing")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil on miss, got %s", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		c.Set(ctx, "k2", []byte("v2"), time.Minute)
		if err := c.Delete(ctx, "k2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		val, _ := c.Get(ctx, "k2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("Expiry", func(t *testing.T) {
		c.Set(ctx, "k3", []byte("v3"), time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		val, _ := c.Get(ctx, "k3")
		if val != nil {
			t.Error("expected nil after expiry")
		}
	})
}

func TestLRUCacheEviction(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(3)
	defer c.Close()

	for _, k := range []string{"a", "b", "c"} {
		c.Set(ctx, k, []byte(k), time.Minute)
	}

	// touch "a" so "b" becomes the eviction candidate
	c.Get(ctx, "a")
	c.Set(ctx, "d", []byte("d"), time.Minute)

	if val, _ := c.Get(ctx, "b"); val != nil {
		t.Error("expected b to be evicted")
	}
	if val, _ := c.Get(ctx, "a"); val == nil {
		t.Error("expected a to survive eviction")
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("stats: size %d capacity %d", size, capacity)
	}
}

func TestScoreRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewLRUCache(100)
	defer c.Close()

	rec := &domain.ScoreRecord{
		ID:             "score-001",
		TransactionID:  "TXN_000042",
		UserID:         "USER_0007",
		Amount:         1250.75,
		IsolationScore: 0.82,
		DensityScore:   0.77,
		AnomalyScore:   0.80,
		RiskLevel:      domain.RiskHigh,
		Priority:       2,
		IsAnomaly:      true,
		Timestamp:      time.Now().UTC().Truncate(time.Second),
	}

	if err := c.SetScore(ctx, rec, time.Minute); err != nil {
		t.Fatalf("SetScore failed: %v", err)
	}

	got, err := c.GetScore(ctx, "TXN_000042")
	if err != nil {
		t.Fatalf("GetScore failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached record")
	}
	if got.AnomalyScore != rec.AnomalyScore || got.RiskLevel != rec.RiskLevel {
		t.Errorf("record mismatch: %+v", got)
	}

	missing, err := c.GetScore(ctx, "TXN_NONE")
	if err != nil {
		t.Fatalf("GetScore miss failed: %v", err)
	}
	if missing != nil {
		t.Error("expected nil on miss")
	}
}

func TestNewCacheFactory(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*LRUCache); !ok {
		t.Errorf("expected LRUCache, got %T", c)
	}

	if _, err := New(domain.CacheConfig{Type: "bogus"}); err == nil {
		t.Error("expected error for unsupported cache type")
	}
}
