package util

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// CacheConfig 用于配置LRU缓存的行为。
type CacheConfig struct {
	// Capacity 是缓存的最大元素数量，必须大于 0。
	Capacity int
	// TTL 是元素的默认存活时间。如果为0，则元素永不过期。
	TTL time.Duration
	// Now 用于获取当前时间，为空时使用 time.Now，测试中可替换。
	Now func() time.Time
}

type entry[K comparable, V any] struct {
	key        K
	value      V
	expiration time.Time // 零值表示永不过期
}

// LRUCache 是一个支持泛型、带过期时间且线程安全的LRU缓存。
type LRUCache[K comparable, V any] struct {
	config CacheConfig
	ll     *list.List
	cache  map[K]*list.Element
	lock   sync.Mutex
}

// NewWithConfig 使用指定的配置创建一个LRU缓存实例。
func NewWithConfig[K comparable, V any](config CacheConfig) (*LRUCache[K, V], error) {
	if config.Capacity <= 0 {
		return nil, fmt.Errorf("Capacity 必须大于 0")
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &LRUCache[K, V]{
		config: config,
		ll:     list.New(),
		cache:  make(map[K]*list.Element),
	}, nil
}

// Get 根据键获取一个值，过期的元素会被移除并视为未命中。
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	var zero V
	element, ok := c.cache[key]
	if !ok {
		return zero, false
	}
	e := element.Value.(*entry[K, V])
	if !e.expiration.IsZero() && !c.config.Now().Before(e.expiration) {
		c.removeElement(element)
		return zero, false
	}
	c.ll.MoveToFront(element)
	return e.value, true
}

// Put 使用默认 TTL 写入一个键值对。
func (c *LRUCache[K, V]) Put(key K, value V) {
	c.PutWithTTL(key, value, c.config.TTL)
}

// PutWithTTL 写入一个键值对并指定其存活时间，ttl 为 0 表示永不过期。
func (c *LRUCache[K, V]) PutWithTTL(key K, value V, ttl time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()

	var expiration time.Time
	if ttl > 0 {
		expiration = c.config.Now().Add(ttl)
	}

	if element, ok := c.cache[key]; ok {
		e := element.Value.(*entry[K, V])
		e.value = value
		e.expiration = expiration
		c.ll.MoveToFront(element)
		return
	}

	c.cache[key] = c.ll.PushFront(&entry[K, V]{key: key, value: value, expiration: expiration})
	for c.ll.Len() > c.config.Capacity {
		if back := c.ll.Back(); back != nil {
			c.removeElement(back)
		}
	}
}

// Delete 删除一个键。
func (c *LRUCache[K, V]) Delete(key K) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if element, ok := c.cache[key]; ok {
		c.removeElement(element)
	}
}

// removeElement 从链表和map中移除元素，调用方需持有锁。
func (c *LRUCache[K, V]) removeElement(e *list.Element) {
	c.ll.Remove(e)
	delete(c.cache, e.Value.(*entry[K, V]).key)
}

// Len 返回当前缓存中的条目数量（包含尚未被访问到的过期条目）。
func (c *LRUCache[K, V]) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.ll.Len()
}
