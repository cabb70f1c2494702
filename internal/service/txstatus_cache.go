// TxStatusCache — LRU-кэш подтверждённых статусов транзакций с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable. Кэшируются только
// подтверждённые транзакции: подтверждение в сети не отменяется.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/pharmatrace/internal/chainclient"
)

// Prometheus-метрики кэша.
var (
	txCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pt_tx_status_cache_hits_total",
		Help: "Общее количество попаданий в кэш статусов транзакций.",
	})
	txCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pt_tx_status_cache_misses_total",
		Help: "Общее количество промахов кэша статусов транзакций.",
	})
)

// TxStatusCache — кэш статусов транзакций по хешу.
type TxStatusCache struct {
	cache *expirable.LRU[string, *chainclient.TxStatus]
}

// NewTxStatusCache создаёт кэш с максимальным размером и TTL.
func NewTxStatusCache(maxSize int, ttl time.Duration) *TxStatusCache {
	return &TxStatusCache{
		cache: expirable.NewLRU[string, *chainclient.TxStatus](maxSize, nil, ttl),
	}
}

// Get возвращает статус транзакции из кэша.
func (c *TxStatusCache) Get(txHash string) (*chainclient.TxStatus, bool) {
	val, ok := c.cache.Get(txHash)
	if ok {
		txCacheHitsTotal.Inc()
		return val, true
	}
	txCacheMissesTotal.Inc()
	return nil, false
}

// Set сохраняет статус, если транзакция подтверждена.
func (c *TxStatusCache) Set(txHash string, st *chainclient.TxStatus) {
	if st == nil || st.Status != chainclient.StatusConfirmed {
		return
	}
	c.cache.Add(txHash, st)
}

// Len возвращает количество записей в кэше.
func (c *TxStatusCache) Len() int {
	return c.cache.Len()
}
