// Package aggregator keeps running totals over the classified event stream.
package aggregator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/atikulmunna/warden/internal/model"
)

const epsWindow = 5 * time.Second

// Stats is a point-in-time snapshot.
type Stats struct {
	Uptime           string           `json:"uptime"`
	TotalEvents      int64            `json:"total_events"`
	EPS              float64          `json:"eps"`
	ByClassification map[string]int64 `json:"by_classification"`
	Attacks          int64            `json:"attacks"`
	Blocked          int64            `json:"blocked"`
	Whitelisted      int64            `json:"whitelisted"`
	Unparsed         int64            `json:"unparsed"`
	Rotations        int64            `json:"rotations"`
	DroppedEvents    int64            `json:"dropped_events"`
	FilesTailed      int              `json:"files_tailed"`
	CatalogueVersion string           `json:"catalogue_version"`
}

// Sources supplies live values owned by other components. Nil fields read
// as zero.
type Sources struct {
	Dropped          func() int64
	FilesTailed      func() int
	CatalogueVersion func() string
}

// Aggregator consumes events from a hub subscription. It also receives
// unparsed and rotation notifications from the per-file processors.
type Aggregator struct {
	mu          sync.RWMutex
	startTime   time.Time
	totalEvents int64
	byClass     map[string]int64
	attacks     int64
	blocked     int64
	whitelisted int64
	unparsed    int64
	rotations   int64
	window      []time.Time

	src    Sources
	events <-chan model.Event
}

// New creates an Aggregator reading from events.
func New(events <-chan model.Event, src Sources) *Aggregator {
	return &Aggregator{
		startTime: time.Now(),
		byClass:   make(map[string]int64),
		src:       src,
		events:    events,
	}
}

// Snapshot returns the current metrics.
func (a *Aggregator) Snapshot() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	counts := make(map[string]int64, len(a.byClass))
	for k, v := range a.byClass {
		counts[k] = v
	}

	cutoff := time.Now().Add(-epsWindow)
	var recent int
	for _, t := range a.window {
		if t.After(cutoff) {
			recent++
		}
	}

	st := Stats{
		Uptime:           time.Since(a.startTime).Truncate(time.Second).String(),
		TotalEvents:      a.totalEvents,
		EPS:              float64(recent) / epsWindow.Seconds(),
		ByClassification: counts,
		Attacks:          a.attacks,
		Blocked:          a.blocked,
		Whitelisted:      a.whitelisted,
		Unparsed:         a.unparsed,
		Rotations:        a.rotations,
	}
	if a.src.Dropped != nil {
		st.DroppedEvents = a.src.Dropped()
	}
	if a.src.FilesTailed != nil {
		st.FilesTailed = a.src.FilesTailed()
	}
	if a.src.CatalogueVersion != nil {
		st.CatalogueVersion = a.src.CatalogueVersion()
	}
	return st
}

// Start consumes events until ctx is cancelled or the channel closes.
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.events:
			if !ok {
				return
			}
			a.record(ev)
		case <-ticker.C:
			a.prune()
		}
	}
}

// Unparsed counts a dropped line.
func (a *Aggregator) Unparsed(string) {
	a.mu.Lock()
	a.unparsed++
	a.mu.Unlock()
}

// Rotated counts a detected rotation.
func (a *Aggregator) Rotated(string) {
	a.mu.Lock()
	a.rotations++
	a.mu.Unlock()
}

// record counts each attack type of a multi-type classification separately.
func (a *Aggregator) record(ev model.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalEvents++
	if ev.Verdict.Attack() {
		a.attacks++
		for _, typ := range strings.Split(ev.Verdict.Classification, ",") {
			a.byClass[typ]++
		}
	} else {
		a.byClass[ev.Verdict.Classification]++
	}
	if ev.Blocked {
		a.blocked++
	}
	if ev.Whitelisted {
		a.whitelisted++
	}
	a.window = append(a.window, time.Now())
}

// prune drops window timestamps older than the EPS window.
func (a *Aggregator) prune() {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-epsWindow)
	i := 0
	for _, t := range a.window {
		if t.After(cutoff) {
			a.window[i] = t
			i++
		}
	}
	a.window = a.window[:i]
}
