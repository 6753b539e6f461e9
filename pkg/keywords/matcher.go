// Package keywords implements the blocked-keyword content filter.
package keywords

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Matcher reports whether text contains a blocked keyword. Matching is a
// case-insensitive substring test. It is safe for concurrent use. Readers
// load the keyword set atomically; writers are serialized by mu.
type Matcher struct {
	mu  sync.Mutex
	set atomic.Pointer[[]string]
}

// NewMatcher builds a matcher over keywords.
func NewMatcher(keywords ...string) *Matcher {
	m := &Matcher{}
	m.Set(keywords)
	return m
}

// Set replaces the keyword set. Blank entries and duplicates are dropped.
func (m *Matcher) Set(keywords []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(keywords)
}

func (m *Matcher) store(keywords []string) {
	seen := make(map[string]struct{}, len(keywords))
	list := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		list = append(list, k)
	}
	// Sorted so the reported keyword is stable when several match.
	sort.Strings(list)
	m.set.Store(&list)
}

// Add inserts keyword into the set.
func (m *Matcher) Add(keyword string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(append(m.Keywords(), keyword))
}

// Remove deletes keyword from the set.
func (m *Matcher) Remove(keyword string) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.Keywords()
	next := current[:0]
	for _, k := range current {
		if k != keyword {
			next = append(next, k)
		}
	}
	m.store(next)
}

// Keywords returns a copy of the current set, lowercased and sorted.
func (m *Matcher) Keywords() []string {
	p := m.set.Load()
	if p == nil {
		return nil
	}
	out := make([]string, len(*p))
	copy(out, *p)
	return out
}

// Len returns the number of keywords.
func (m *Matcher) Len() int {
	p := m.set.Load()
	if p == nil {
		return 0
	}
	return len(*p)
}

// Match returns the first keyword contained in text.
func (m *Matcher) Match(text string) (string, bool) {
	p := m.set.Load()
	if p == nil || len(*p) == 0 {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, k := range *p {
		if strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}
