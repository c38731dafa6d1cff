package manager

import (
	"hash/fnv"
	"sync"
)

// stripes serialises operations on the same key without a lock per key.
type stripes []sync.RWMutex

func newStripes(n uint64) stripes {
	if n == 0 {
		n = 1
	}
	return make(stripes, n)
}

func (s stripes) forKey(key string) *sync.RWMutex {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return &s[h.Sum64()%uint64(len(s))]
}
