package mcp

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
)

const toolCacheSize = 32

// ToolCache keeps tool listings per server URL so retries and later runs
// skip the list round trip.
type ToolCache struct {
	lru *expirable.LRU[string, []mcpproto.Tool]
}

// NewToolCache returns a cache whose entries expire after ttl. A non-positive
// ttl disables caching.
func NewToolCache(ttl time.Duration) *ToolCache {
	if ttl <= 0 {
		return nil
	}
	return &ToolCache{lru: expirable.NewLRU[string, []mcpproto.Tool](toolCacheSize, nil, ttl)}
}

func (c *ToolCache) get(key string) ([]mcpproto.Tool, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

func (c *ToolCache) add(key string, tools []mcpproto.Tool) {
	if c == nil {
		return
	}
	c.lru.Add(key, tools)
}

// Purge drops every cached listing.
func (c *ToolCache) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}
