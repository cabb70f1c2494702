package service

import (
	"testing"
	"time"

	"github.com/bigkaa/pharmatrace/internal/chainclient"
)

// TestTxStatusCache_GetSet проверяет базовые операции Get/Set.
func TestTxStatusCache_GetSet(t *testing.T) {
	cache := NewTxStatusCache(100, 5*time.Minute)

	if _, ok := cache.Get("tx1"); ok {
		t.Fatal("ожидался cache miss для нового ключа")
	}

	block := "blockhash"
	cache.Set("tx1", &chainclient.TxStatus{Status: chainclient.StatusConfirmed, Block: &block})
	got, ok := cache.Get("tx1")
	if !ok {
		t.Fatal("ожидался cache hit после Set")
	}
	if got.Block == nil || *got.Block != block {
		t.Errorf("Block = %v, ожидался %q", got.Block, block)
	}
}

// TestTxStatusCache_OnlyConfirmed проверяет, что неподтверждённые статусы не кэшируются.
func TestTxStatusCache_OnlyConfirmed(t *testing.T) {
	cache := NewTxStatusCache(100, 5*time.Minute)

	cache.Set("pending", &chainclient.TxStatus{Status: chainclient.StatusPending})
	cache.Set("nil", nil)

	if cache.Len() != 0 {
		t.Errorf("Len() = %d, ожидалось 0", cache.Len())
	}
}

// TestTxStatusCache_Eviction проверяет вытеснение при превышении размера.
func TestTxStatusCache_Eviction(t *testing.T) {
	cache := NewTxStatusCache(2, 5*time.Minute)
	confirmed := &chainclient.TxStatus{Status: chainclient.StatusConfirmed}

	cache.Set("a", confirmed)
	cache.Set("b", confirmed)
	cache.Set("c", confirmed)

	if cache.Len() != 2 {
		t.Errorf("Len() = %d, ожидалось 2", cache.Len())
	}
	if _, ok := cache.Get("a"); ok {
		t.Error("самая старая запись должна быть вытеснена")
	}
}

// TestTxStatusCache_TTL проверяет истечение записи.
func TestTxStatusCache_TTL(t *testing.T) {
	cache := NewTxStatusCache(10, 50*time.Millisecond)
	cache.Set("tx", &chainclient.TxStatus{Status: chainclient.StatusConfirmed})

	time.Sleep(120 * time.Millisecond)

	if _, ok := cache.Get("tx"); ok {
		t.Error("запись должна истечь по TTL")
	}
}
