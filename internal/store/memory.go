package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/atikulmunna/warden/internal/model"
	"github.com/atikulmunna/warden/internal/settings"
)

// RegistryFilter narrows registry listings for the dashboard.
type RegistryFilter struct {
	Classification string // substring match, case-insensitive
	AttacksOnly    bool
	Whitelisted    *bool
	Limit          int
}

// Stats summarizes what a store holds.
type Stats struct {
	Accesses         int            `json:"accesses"`
	Alerts           int            `json:"alerts"`
	URLs             int            `json:"urls"`
	ByClassification map[string]int `json:"by_classification"`
}

type alertKey struct {
	accessID int64
	ruleID   string
}

// DefaultHistory is the number of access and alert rows NewMemory keeps.
const DefaultHistory = 10000

// ring keeps the newest len(buf) items.
type ring[T any] struct {
	buf   []T
	start int
	n     int
}

func newRing[T any](capacity int) ring[T] {
	return ring[T]{buf: make([]T, capacity)}
}

// push appends v and returns the item it evicted, if any.
func (r *ring[T]) push(v T) (old T, evicted bool) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return old, false
	}
	old = r.buf[r.start]
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return old, true
}

// at returns the i-th item, oldest first.
func (r *ring[T]) at(i int) T { return r.buf[(r.start+i)%len(r.buf)] }

// Memory is a thread-safe in-process Sink. It also serves registry queries
// and whitelist settings for the dashboard. Raw access and alert history is
// bounded; the URL registry is not.
type Memory struct {
	mu          sync.RWMutex
	nextID      int64
	accesses    ring[AccessRecord]
	alerts      ring[AlertRecord]
	numAccesses int
	numAlerts   int
	seen        map[alertKey]struct{}
	urls        map[string]*RegistryEntry
	order       []string
	wl          settings.Whitelist
}

// NewMemory returns an empty store keeping DefaultHistory rows of history.
func NewMemory() *Memory { return NewMemoryLimit(DefaultHistory) }

// NewMemoryLimit returns an empty store keeping the newest history access
// rows and the newest history alerts. Non-positive means DefaultHistory.
func NewMemoryLimit(history int) *Memory {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Memory{
		accesses: newRing[AccessRecord](history),
		alerts:   newRing[AlertRecord](history),
		seen:     make(map[alertKey]struct{}),
		urls:     make(map[string]*RegistryEntry),
	}
}

func (m *Memory) RecordAccess(_ context.Context, rec AccessRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordAccessLocked(rec), nil
}

func (m *Memory) recordAccessLocked(rec AccessRecord) int64 {
	if rec.ID == 0 {
		m.nextID++
		rec.ID = m.nextID
	} else if rec.ID > m.nextID {
		m.nextID = rec.ID
	}
	m.accesses.push(rec)
	m.numAccesses++
	return rec.ID
}

func (m *Memory) RecordAlert(_ context.Context, accessID int64, f model.Fragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordAlertLocked(accessID, f)
	return nil
}

// recordAlertLocked reports whether the alert was new.
func (m *Memory) recordAlertLocked(accessID int64, f model.Fragment) bool {
	k := alertKey{accessID, f.RuleID}
	if _, dup := m.seen[k]; dup {
		return false
	}
	m.seen[k] = struct{}{}
	if old, ok := m.alerts.push(AlertRecord{AccessID: accessID, Fragment: f}); ok {
		delete(m.seen, alertKey{old.AccessID, old.RuleID})
	}
	m.numAlerts++
	return true
}

func (m *Memory) UpsertURL(_ context.Context, e RegistryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(e)
	return nil
}

// upsertLocked reports whether the registry changed.
func (m *Memory) upsertLocked(e RegistryEntry) bool {
	cur, ok := m.urls[e.URL]
	if !ok {
		cp := e
		m.urls[e.URL] = &cp
		m.order = append(m.order, e.URL)
		return true
	}
	if e.Whitelisted && !cur.Whitelisted {
		cur.Whitelisted = true
		return true
	}
	return false
}

func (m *Memory) Close() error { return nil }

// Lookup returns the registry row for an exact URL.
func (m *Memory) Lookup(url string) (RegistryEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.urls[url]
	if !ok {
		return RegistryEntry{}, false
	}
	return *e, true
}

// Registry lists registry rows, most recently first-seen first.
func (m *Memory) Registry(f RegistryFilter) []RegistryEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]RegistryEntry, 0)
	for i := len(m.order) - 1; i >= 0; i-- {
		e := m.urls[m.order[i]]
		if f.AttacksOnly && !(model.Verdict{Classification: e.Classification}).Attack() {
			continue
		}
		if f.Classification != "" && !strings.Contains(strings.ToLower(e.Classification), strings.ToLower(f.Classification)) {
			continue
		}
		if f.Whitelisted != nil && e.Whitelisted != *f.Whitelisted {
			continue
		}
		out = append(out, *e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Alerts returns the retained alerts recorded for an access row.
func (m *Memory) Alerts(accessID int64) []AlertRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AlertRecord
	for i := 0; i < m.alerts.n; i++ {
		if a := m.alerts.at(i); a.AccessID == accessID {
			out = append(out, a)
		}
	}
	return out
}

// Accesses returns up to limit retained access rows, newest first.
func (m *Memory) Accesses(limit int) []AccessRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := m.accesses.n
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]AccessRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.accesses.at(i))
	}
	return out
}

// Stats returns row counts and registry rows per classification. Access and
// alert counts include rows already evicted from history.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	by := make(map[string]int)
	for _, e := range m.urls {
		by[e.Classification]++
	}
	return Stats{Accesses: m.numAccesses, Alerts: m.numAlerts, URLs: len(m.urls), ByClassification: by}
}

// Classifications returns the distinct classification labels in the registry.
func (m *Memory) Classifications() []string {
	st := m.Stats()
	out := make([]string, 0, len(st.ByClassification))
	for k := range st.ByClassification {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SetWhitelist replaces the settings served by WhitelistSettings.
func (m *Memory) SetWhitelist(w settings.Whitelist) {
	m.mu.Lock()
	m.wl = w
	m.mu.Unlock()
}

func (m *Memory) WhitelistSettings(context.Context) (settings.Whitelist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wl, nil
}

func (m *Memory) Reclassify(_ context.Context, classify func(RegistryEntry) string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reclassifyLocked(classify)), nil
}

// reclassifyLocked returns the rows whose label changed.
func (m *Memory) reclassifyLocked(classify func(RegistryEntry) string) []RegistryEntry {
	var changed []RegistryEntry
	for _, u := range m.order {
		e := m.urls[u]
		if label := classify(*e); label != e.Classification {
			e.Classification = label
			changed = append(changed, *e)
		}
	}
	return changed
}
