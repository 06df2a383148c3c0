package rooms

import (
	"math"
	"sync"
)

// Truncate returns id as it reads after a round trip through float64.
func Truncate(id int64) int64 {
	f := float64(id)
	if f >= math.MaxInt64 || f <= math.MinInt64 {
		return id
	}
	return int64(f)
}

// AliasTable maps truncated chat ids to their full value.
type AliasTable struct {
	mu    sync.RWMutex
	byKey map[int64]int64
}

func NewAliasTable() *AliasTable {
	return &AliasTable{byKey: make(map[int64]int64)}
}

// Learn records the full id. Ids that survive float64 exactly need no alias.
func (a *AliasTable) Learn(full int64) {
	short := Truncate(full)
	if short == full {
		return
	}
	a.mu.Lock()
	a.byKey[short] = full
	a.mu.Unlock()
}

// Resolve returns the canonical id for either form.
func (a *AliasTable) Resolve(id int64) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if full, ok := a.byKey[id]; ok {
		return full
	}
	return id
}

func (a *AliasTable) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byKey)
}
