package auction

import (
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/gavelworks/gavel/marketplace/database/models"
)

const defaultCacheSize = 10000

type cachedAuction struct {
	auction  *models.Auction
	cachedAt time.Time
}

// Cache is a TTL'd LRU in front of hot auction reads. Every mutation of
// an auction (bid commit, settlement, cancellation) must invalidate its
// entry; a stale read is only ever as old as the TTL.
type Cache struct {
	lru *lru.Cache
	ttl time.Duration
	now func() time.Time
}

func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	c, _ := lru.New(size)
	return &Cache{lru: c, ttl: ttl, now: time.Now}
}

func (c *Cache) Get(id int64) (*models.Auction, bool) {
	v, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	entry := v.(cachedAuction)
	if c.now().Sub(entry.cachedAt) > c.ttl {
		c.lru.Remove(id)
		return nil, false
	}
	return entry.auction, true
}

func (c *Cache) Put(a *models.Auction) {
	c.lru.Add(a.ID, cachedAuction{auction: a, cachedAt: c.now()})
}

func (c *Cache) Invalidate(id int64) {
	c.lru.Remove(id)
}
