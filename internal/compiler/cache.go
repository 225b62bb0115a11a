// File: internal/compiler/cache.go
package compiler

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xkilldash9x/pagepilot/internal/intent"
)

// Cached memoizes a Compiler by intent fingerprint. Compilation is pure, so a
// cached plan is always identical to a fresh one. Errors are not cached.
type Cached struct {
	next  Compiler
	plans *lru.Cache[string, Plan]
}

// NewCached wraps next with an LRU of the given size. A non-positive size
// returns next unwrapped.
func NewCached(next Compiler, size int) (Compiler, error) {
	if size <= 0 {
		return next, nil
	}
	plans, err := lru.New[string, Plan](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, plans: plans}, nil
}

func (c *Cached) Compile(in intent.Intent) (Plan, error) {
	key := in.Fingerprint()
	if p, ok := c.plans.Get(key); ok {
		return p, nil
	}
	p, err := c.next.Compile(in)
	if err != nil {
		return Plan{}, err
	}
	c.plans.Add(key, p)
	return p, nil
}

// Len reports how many plans are cached.
func (c *Cached) Len() int { return c.plans.Len() }
