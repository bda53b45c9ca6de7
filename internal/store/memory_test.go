package store

import (
	"context"
	"testing"
	"time"

	"github.com/atikulmunna/warden/internal/model"
	"github.com/atikulmunna/warden/internal/settings"
)

func TestMemoryAccessIDs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	a, _ := m.RecordAccess(ctx, AccessRecord{Method: "GET", URL: "/a"})
	b, _ := m.RecordAccess(ctx, AccessRecord{Method: "GET", URL: "/b"})
	if a != 1 || b != 2 {
		t.Fatalf("ids = %d, %d", a, b)
	}
	got := m.Accesses(0)
	if len(got) != 2 || got[0].URL != "/b" {
		t.Errorf("Accesses = %+v", got)
	}
	if got := m.Accesses(1); len(got) != 1 {
		t.Errorf("limit ignored: %+v", got)
	}
}

func TestMemoryAlertDedup(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, _ := m.RecordAccess(ctx, AccessRecord{URL: "/x"})

	_ = m.RecordAlert(ctx, id, model.Fragment{RuleID: "942100", Message: "first"})
	_ = m.RecordAlert(ctx, id, model.Fragment{RuleID: "942100", Message: "second"})
	_ = m.RecordAlert(ctx, id, model.Fragment{RuleID: "941100"})
	_ = m.RecordAlert(ctx, id+1, model.Fragment{RuleID: "942100"})

	alerts := m.Alerts(id)
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts for row, got %+v", alerts)
	}
	if alerts[0].Message != "first" {
		t.Errorf("duplicate replaced original: %+v", alerts[0])
	}
	if st := m.Stats(); st.Alerts != 3 {
		t.Errorf("Stats.Alerts = %d", st.Alerts)
	}
}

func TestMemoryUpsertURL(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	ts := time.Date(2024, 3, 10, 13, 55, 36, 0, time.Local)

	_ = m.UpsertURL(ctx, RegistryEntry{Method: "GET", URL: "/p", IP: "1.1.1.1", Timestamp: ts, Classification: "normal"})
	_ = m.UpsertURL(ctx, RegistryEntry{Method: "POST", URL: "/p", IP: "2.2.2.2", Classification: "xss"})

	e, ok := m.Lookup("/p")
	if !ok {
		t.Fatal("url not registered")
	}
	if e.Method != "GET" || e.Classification != "normal" || e.Whitelisted {
		t.Errorf("existing row modified: %+v", e)
	}

	_ = m.UpsertURL(ctx, RegistryEntry{URL: "/p", Whitelisted: true})
	e, _ = m.Lookup("/p")
	if !e.Whitelisted {
		t.Error("whitelisted request did not flip flag")
	}
	_ = m.UpsertURL(ctx, RegistryEntry{URL: "/p"})
	e, _ = m.Lookup("/p")
	if !e.Whitelisted {
		t.Error("non-whitelisted request cleared flag")
	}

	_ = m.UpsertURL(ctx, RegistryEntry{URL: "/P"})
	if st := m.Stats(); st.URLs != 2 {
		t.Errorf("URL match should be exact, got %d rows", st.URLs)
	}
}

func TestMemoryRegistryFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, e := range []RegistryEntry{
		{URL: "/1", Classification: "normal"},
		{URL: "/2", Classification: "xss"},
		{URL: "/3", Classification: "sqli,xss", Whitelisted: true},
		{URL: "/4", Classification: "unknown"},
	} {
		_ = m.UpsertURL(ctx, e)
	}

	all := m.Registry(RegistryFilter{})
	if len(all) != 4 || all[0].URL != "/4" {
		t.Fatalf("Registry = %+v", all)
	}
	if got := m.Registry(RegistryFilter{AttacksOnly: true}); len(got) != 2 {
		t.Errorf("AttacksOnly = %+v", got)
	}
	if got := m.Registry(RegistryFilter{Classification: "XSS"}); len(got) != 2 {
		t.Errorf("Classification filter = %+v", got)
	}
	wl := true
	if got := m.Registry(RegistryFilter{Whitelisted: &wl}); len(got) != 1 || got[0].URL != "/3" {
		t.Errorf("Whitelisted filter = %+v", got)
	}
	if got := m.Registry(RegistryFilter{Limit: 1}); len(got) != 1 {
		t.Errorf("Limit = %+v", got)
	}
	if got := m.Classifications(); len(got) != 4 || got[0] != "normal" {
		t.Errorf("Classifications = %v", got)
	}
}

func TestMemoryReclassify(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.UpsertURL(ctx, RegistryEntry{URL: "/a", Classification: "normal"})
	_ = m.UpsertURL(ctx, RegistryEntry{URL: "/<script>", Classification: "normal"})

	n, err := m.Reclassify(ctx, func(e RegistryEntry) string {
		if e.URL == "/<script>" {
			return "xss"
		}
		return "normal"
	})
	if err != nil || n != 1 {
		t.Fatalf("Reclassify = %d, %v", n, err)
	}
	if e, _ := m.Lookup("/<script>"); e.Classification != "xss" {
		t.Errorf("label not updated: %+v", e)
	}
}

func TestMemoryHistoryIsBounded(t *testing.T) {
	m := NewMemoryLimit(3)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		id, _ := m.RecordAccess(ctx, AccessRecord{URL: "/a"})
		_ = m.RecordAlert(ctx, id, model.Fragment{RuleID: "1"})
	}
	_ = m.UpsertURL(ctx, RegistryEntry{URL: "/a"})

	acc := m.Accesses(0)
	if len(acc) != 3 || acc[0].ID != 5 || acc[2].ID != 3 {
		t.Fatalf("Accesses = %+v", acc)
	}
	if got := m.Alerts(1); len(got) != 0 {
		t.Errorf("evicted alert still listed: %+v", got)
	}
	if got := m.Alerts(5); len(got) != 1 {
		t.Errorf("Alerts(5) = %+v", got)
	}
	if len(m.seen) != 3 {
		t.Errorf("dedup index holds %d keys, want 3", len(m.seen))
	}
	st := m.Stats()
	if st.Accesses != 5 || st.Alerts != 5 || st.URLs != 1 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestMemoryWhitelistSettings(t *testing.T) {
	m := NewMemory()
	m.SetWhitelist(settings.Whitelist{Enabled: true, IP: "10.0.0.1"})
	w, err := m.WhitelistSettings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !w.Allows("10.0.0.1") {
		t.Errorf("settings = %+v", w)
	}
}
