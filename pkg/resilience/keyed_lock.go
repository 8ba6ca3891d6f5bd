package resilience

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const defaultLockStripes = 32

// KeyedLock hands out non-blocking exclusive tokens per key. Keys are spread
// over stripes so unrelated keys rarely contend on the same mutex.
type KeyedLock struct {
	stripes []lockStripe
}

type lockStripe struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyedLock(stripes int) *KeyedLock {
	if stripes <= 0 {
		stripes = defaultLockStripes
	}
	k := &KeyedLock{stripes: make([]lockStripe, stripes)}
	for i := range k.stripes {
		k.stripes[i].held = make(map[string]struct{})
	}
	return k
}

// TryLock takes the token for key. It returns false when someone else holds it.
func (k *KeyedLock) TryLock(key string) bool {
	s := k.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.held[key]; busy {
		return false
	}
	s.held[key] = struct{}{}
	return true
}

func (k *KeyedLock) Unlock(key string) {
	s := k.stripe(key)
	s.mu.Lock()
	delete(s.held, key)
	s.mu.Unlock()
}

func (k *KeyedLock) Held(key string) bool {
	s := k.stripe(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.held[key]
	return busy
}

func (k *KeyedLock) stripe(key string) *lockStripe {
	// The streaming hasher reads whole blocks by index, which stays within
	// the slice for keys of any length.
	h := murmur3.New32()
	_, _ = h.Write([]byte(key))
	return &k.stripes[h.Sum32()%uint32(len(k.stripes))]
}
