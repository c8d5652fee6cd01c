package embeddings

import (
	"container/list"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"
)

// LocalLRU is a simple in-process LRU with TTL for embedding vectors.
type LocalLRU struct {
	mu   sync.Mutex
	cap  int
	list *list.List               // front = most recent
	m    map[string]*list.Element // key -> element
}

type lruEntry struct {
	key string
	vec []float32
	exp time.Time
}

func NewLocalLRU(capacity int) *LocalLRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LocalLRU{cap: capacity, list: list.New(), m: make(map[string]*list.Element, capacity)}
}

func (l *LocalLRU) Get(key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.m[key]; ok {
		ent := el.Value.(lruEntry)
		if ent.exp.After(time.Now()) {
			l.list.MoveToFront(el)
			return ent.vec, true
		}
		// expired: remove
		l.list.Remove(el)
		delete(l.m, key)
	}
	return nil, false
}

func (l *LocalLRU) Set(key string, v []float32, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.m[key]; ok {
		el.Value = lruEntry{key: key, vec: v, exp: time.Now().Add(ttl)}
		l.list.MoveToFront(el)
		return
	}
	el := l.list.PushFront(lruEntry{key: key, vec: v, exp: time.Now().Add(ttl)})
	l.m[key] = el
	if l.list.Len() > l.cap {
		lru := l.list.Back()
		if lru != nil {
			ent := lru.Value.(lruEntry)
			delete(l.m, ent.key)
			l.list.Remove(lru)
		}
	}
}

// Len returns the number of live entries, expired or not.
func (l *LocalLRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list.Len()
}

// MakeKey builds a content-addressed cache key for a model+text pair.
func MakeKey(model, text string) string {
	h := md5.Sum([]byte(model + "|" + text))
	return "emb:" + hex.EncodeToString(h[:])
}
