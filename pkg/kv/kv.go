// Package kv is a small in-memory map with per-entry TTL and LRU eviction
// once an entry budget is exceeded.
package kv

import (
	"container/list"
	"sync"
	"time"
)

type entry[V any] struct {
	key      string
	value    V
	expireAt time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// Store holds at most capacity live entries. A capacity of zero or less
// means no limit.
type Store[V any] struct {
	mu   sync.Mutex
	data map[string]*list.Element
	ll   *list.List
	cap  int
	now  func() time.Time

	onEvict func(key string, v V)
}

func NewStore[V any](capacity int) *Store[V] {
	return &Store[V]{
		data: make(map[string]*list.Element),
		ll:   list.New(),
		cap:  capacity,
		now:  time.Now,
	}
}

// OnEvict registers fn to run, under the store lock, for every entry dropped
// by expiry or capacity. Explicit deletes do not trigger it.
func (s *Store[V]) OnEvict(fn func(key string, v V)) {
	s.mu.Lock()
	s.onEvict = fn
	s.mu.Unlock()
}

// Put stores val under key. ttl <= 0 keeps it until deleted or evicted.
func (s *Store[V]) Put(key string, val V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}

	if el, ok := s.data[key]; ok {
		e := el.Value.(*entry[V])
		e.value = val
		e.expireAt = exp
		s.ll.MoveToFront(el)
	} else {
		el := s.ll.PushFront(&entry[V]{key: key, value: val, expireAt: exp})
		s.data[key] = el
	}
	s.evictIfNeeded()
}

func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.live(key)
	if !ok {
		var zero V
		return zero, false
	}
	s.ll.MoveToFront(el)
	return el.Value.(*entry[V]).value, true
}

// Take returns the value under key and removes it.
func (s *Store[V]) Take(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.live(key)
	if !ok {
		var zero V
		return zero, false
	}
	s.removeElement(el)
	return el.Value.(*entry[V]).value, true
}

func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.data[key]
	if ok {
		s.removeElement(el)
	}
	return ok
}

func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return len(s.data)
}

// Keys lists live keys from most to least recently used.
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	keys := make([]string, 0, len(s.data))
	for el := s.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[V]).key)
	}
	return keys
}

func (s *Store[V]) live(key string) (*list.Element, bool) {
	el, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if el.Value.(*entry[V]).expired(s.now()) {
		s.evict(el)
		return nil, false
	}
	return el, true
}

func (s *Store[V]) sweep() {
	now := s.now()
	for el := s.ll.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*entry[V]).expired(now) {
			s.evict(el)
		}
		el = prev
	}
}

func (s *Store[V]) evictIfNeeded() {
	if s.cap <= 0 {
		return
	}
	for len(s.data) > s.cap && s.ll.Back() != nil {
		s.evict(s.ll.Back())
	}
}

func (s *Store[V]) evict(el *list.Element) {
	s.removeElement(el)
	if s.onEvict != nil {
		e := el.Value.(*entry[V])
		s.onEvict(e.key, e.value)
	}
}

func (s *Store[V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[V])
	delete(s.data, e.key)
	s.ll.Remove(el)
}
