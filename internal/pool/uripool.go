// Package pool implements the URI candidate pool, the per-URI failure
// tracker, the backup pool of pre-connected transports, and a file-backed
// watcher that can push URI list updates without a live broker (spec.md
// §4.4, §4.5).
package pool

import (
	"math/rand"
	"strings"
	"sync"
)

// Normalize reduces a URI string to its structural identity: whitespace
// trimmed, nothing else rewritten. Equality between URI entries is
// structural per spec.md §3 ("scheme+host+port+path+query, with whitespace
// normalised") — for the opaque strings this module carries, whitespace
// trimming is the only normalization available without a URI parser, which
// spec.md §1 explicitly excludes from scope.
func Normalize(uri string) string {
	return strings.TrimSpace(uri)
}

// entry is one URI candidate.
type entry struct {
	uri      string
	priority bool
	inUse    bool
}

// Pool is an ordered/randomised multiset of candidate URIs with priority
// tagging and in-use exclusion (spec.md §4.4).
type Pool struct {
	mu        sync.Mutex
	entries   []*entry
	randomize bool
	rng       *rand.Rand
}

// New creates a Pool. If randomize is true, TakeNext shuffles among
// not-in-use entries instead of taking strictly in order.
func New(randomize bool) *Pool {
	return &Pool{
		randomize: randomize,
		rng:       rand.New(rand.NewSource(1)),
	}
}

// Add inserts uri if not already present (by normalized equality). Returns
// true if the pool changed.
func (p *Pool) Add(uri string, priority bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(uri, priority)
}

func (p *Pool) addLocked(uri string, priority bool) bool {
	norm := Normalize(uri)
	for _, e := range p.entries {
		if Normalize(e.uri) == norm {
			return false
		}
	}
	p.entries = append(p.entries, &entry{uri: uri, priority: priority})
	return true
}

// AddAll bulk-inserts uris, reporting whether the pool changed.
func (p *Pool) AddAll(uris []string, priority bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := false
	for _, u := range uris {
		if p.addLocked(u, priority) {
			changed = true
		}
	}
	return changed
}

// RemoveAll removes every uri in uris (by normalized equality), reporting
// whether the pool changed.
func (p *Pool) RemoveAll(uris []string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	remove := make(map[string]bool, len(uris))
	for _, u := range uris {
		remove[Normalize(u)] = true
	}

	changed := false
	kept := p.entries[:0]
	for _, e := range p.entries {
		if remove[Normalize(e.uri)] {
			changed = true
			continue
		}
		kept = append(kept, e)
	}
	p.entries = kept
	return changed
}

// TakeNext returns the next URI not currently in use and marks it in-use.
// Returns ok=false if the pool has no available (not-in-use) entry.
func (p *Pool) TakeNext() (uri string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates []int
	for i, e := range p.entries {
		if !e.inUse {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	idx := candidates[0]
	if p.randomize {
		idx = candidates[p.rng.Intn(len(candidates))]
	}

	p.entries[idx].inUse = true
	return p.entries[idx].uri, true
}

// TakeNextPriority returns the next priority-tagged URI not currently in
// use and marks it in-use, ignoring the randomize flag (BackupPool always
// wants the first available priority candidate, not a random one). Returns
// ok=false if no priority entry is available.
func (p *Pool) TakeNextPriority() (uri string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.priority && !e.inUse {
			e.inUse = true
			return e.uri, true
		}
	}
	return "", false
}

// Return reinserts uri at the tail of the pool, marking it no longer in use
// (spec.md §4.4: "returnUri (on failure) reinserts at the tail").
func (p *Pool) Return(uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	norm := Normalize(uri)
	for i, e := range p.entries {
		if Normalize(e.uri) == norm {
			e.inUse = false
			// Move to tail.
			p.entries = append(append(p.entries[:i], p.entries[i+1:]...), e)
			return
		}
	}
	// Not found (e.g. removed while in flight) — nothing to return.
}

// Contains reports whether uri is present in the pool, in use or not.
func (p *Pool) Contains(uri string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	norm := Normalize(uri)
	for _, e := range p.entries {
		if Normalize(e.uri) == norm {
			return true
		}
	}
	return false
}

// IsPriority reports whether uri is tagged priority.
func (p *Pool) IsPriority(uri string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	norm := Normalize(uri)
	for _, e := range p.entries {
		if Normalize(e.uri) == norm {
			return e.priority
		}
	}
	return false
}

// IsEmpty reports whether the pool has no entries at all.
func (p *Pool) IsEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) == 0
}

// List returns a snapshot of every URI currently in the pool.
func (p *Pool) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.uri
	}
	return out
}
