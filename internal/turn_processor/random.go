package turn_processor

import (
	"math/rand"
	"sync"
	"time"
)

// Rand picks among canned replies. Tests inject a seeded source.
type Rand interface {
	Intn(n int) int
}

type lockedRand struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRand returns a goroutine-safe source seeded with seed.
func NewRand(seed int64) Rand {
	return &lockedRand{rnd: rand.New(rand.NewSource(seed))}
}

// NewTimeSeededRand is the production source.
func NewTimeSeededRand() Rand {
	return NewRand(time.Now().UnixNano())
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rnd.Intn(n)
}
