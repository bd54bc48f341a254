// Package signature implements the four-layer thought-signature cache that
// lets "thinking" continuations survive session rotation, account
// rotation, and client retries. It extends the teacher's two-layer
// internal/format/signature_cache.go (tool_use_id, signature→family) to
// the full session/content/tool/model-family lookup chain, Redis-backed
// with in-memory LRU fallback.
package signature

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/avlabs/gemini-gateway/pkg/redisutil"
)

// Layer identifies which lookup key matched a cache hit, for metrics.
type Layer string

const (
	LayerSession Layer = "session"
	LayerContent Layer = "content"
	LayerTool    Layer = "tool"
	LayerFamily  Layer = "family"
)

// DefaultTTL matches the teacher's GeminiSignatureCacheTTLMs-equivalent
// retention window for in-memory entries; Redis entries carry the same TTL.
const DefaultTTL = 24 * time.Hour

// Cache is the four-layer signature store. Each layer is its own
// bounded LRU map, falling back to Redis when configured so a signature
// written by one process instance is visible to another.
type Cache struct {
	maxPerLayer int
	ttl         time.Duration
	redis       *redisutil.Client

	mu       sync.Mutex
	session  *lru
	content  *lru
	tool     *lru
	family   *lru

	hits   MetricsSink
}

// MetricsSink receives cache hit/miss notifications; the composition root
// wires this to the bounded Prometheus counter set (internal/metrics).
type MetricsSink interface {
	RecordSignatureCache(layer Layer, hit bool)
}

type noopSink struct{}

func (noopSink) RecordSignatureCache(Layer, bool) {}

// New builds a Cache. redis may be nil, in which case every layer is
// purely in-memory (matching the teacher's useRedis=false fallback path).
func New(maxPerLayer int, ttl time.Duration, redisClient *redisutil.Client, sink MetricsSink) *Cache {
	if maxPerLayer <= 0 {
		maxPerLayer = 10_000
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &Cache{
		maxPerLayer: maxPerLayer,
		ttl:         ttl,
		redis:       redisClient,
		session:     newLRU(maxPerLayer),
		content:     newLRU(maxPerLayer),
		tool:        newLRU(maxPerLayer),
		family:      newLRU(maxPerLayer),
		hits:        sink,
	}
}

// Store populates all four layers with the same signature, matching the
// spec's "layered lookup on write" contract. Any empty key is skipped.
func (c *Cache) Store(ctx context.Context, sessionID, contentHash, toolName, modelFamily, sig string) {
	if sig == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if sessionID != "" {
		c.session.put(sessionID, sig, c.ttl)
		c.persist(ctx, redisutil.PrefixSignatureSession+sessionID, sig)
	}
	if contentHash != "" {
		c.content.put(contentHash, sig, c.ttl)
		c.persist(ctx, redisutil.PrefixSignatureContent+contentHash, sig)
	}
	if toolName != "" {
		c.tool.put(toolName, sig, c.ttl)
		c.persist(ctx, redisutil.PrefixSignatureTool+toolName, sig)
	}
	if modelFamily != "" {
		c.family.put(modelFamily, sig, c.ttl)
		c.persist(ctx, redisutil.PrefixSignatureFamily+modelFamily, sig)
	}
}

func (c *Cache) persist(ctx context.Context, key, value string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Set(ctx, key, value, c.ttl)
}

// Lookup tries, in order, session → content → tool → model-family, and
// returns the first hit plus which layer served it.
func (c *Cache) Lookup(ctx context.Context, sessionID, contentHash, toolName, modelFamily string) (string, Layer, bool) {
	type attempt struct {
		layer Layer
		key   string
		l     *lru
		pfx   string
	}
	c.mu.Lock()
	attempts := []attempt{
		{LayerSession, sessionID, c.session, redisutil.PrefixSignatureSession},
		{LayerContent, contentHash, c.content, redisutil.PrefixSignatureContent},
		{LayerTool, toolName, c.tool, redisutil.PrefixSignatureTool},
		{LayerFamily, modelFamily, c.family, redisutil.PrefixSignatureFamily},
	}
	c.mu.Unlock()

	for _, a := range attempts {
		if a.key == "" {
			continue
		}
		c.mu.Lock()
		if sig, ok := a.l.get(a.key); ok {
			c.mu.Unlock()
			c.hits.RecordSignatureCache(a.layer, true)
			return sig, a.layer, true
		}
		c.mu.Unlock()

		if c.redis != nil {
			if sig, err := c.redis.Get(ctx, a.pfx+a.key); err == nil && sig != "" {
				c.mu.Lock()
				a.l.put(a.key, sig, c.ttl)
				c.mu.Unlock()
				c.hits.RecordSignatureCache(a.layer, true)
				return sig, a.layer, true
			}
		}
	}
	c.hits.RecordSignatureCache(LayerContent, false)
	return "", "", false
}

// Clear empties every layer, in-memory only (Redis entries expire via TTL),
// matching the teacher's ClearThinkingSignatureCache semantics.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = newLRU(c.maxPerLayer)
	c.content = newLRU(c.maxPerLayer)
	c.tool = newLRU(c.maxPerLayer)
	c.family = newLRU(c.maxPerLayer)
}

// lru is a bounded least-recently-used map, the textbook container/list +
// map shape; no pack repo carries a dedicated LRU library (see DESIGN.md).
type lru struct {
	max     int
	entries map[string]*list.Element
	order   *list.List
}

type lruEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

func newLRU(max int) *lru {
	return &lru{max: max, entries: make(map[string]*list.Element), order: list.New()}
}

func (c *lru) get(key string) (string, bool) {
	el, ok := c.entries[key]
	if !ok {
		return "", false
	}
	e := el.Value.(*lruEntry)
	if time.Now().After(e.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return "", false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

func (c *lru) put(key, value string, ttl time.Duration) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*lruEntry).value = value
		el.Value.(*lruEntry).expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&lruEntry{key: key, value: value, expiresAt: time.Now().Add(ttl)})
	c.entries[key] = el
	if c.order.Len() > c.max {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruEntry).key)
		}
	}
}
