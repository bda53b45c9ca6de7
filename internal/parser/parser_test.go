package parser

import (
	"errors"
	"testing"
	"time"
)

func TestCombinedGrammar(t *testing.T) {
	p := NewCascade(nil)

	line := `203.0.113.7 - - [10/Jul/2025:02:29:57 +0900] "GET /search?q=<script>alert(1)</script> HTTP/1.1" 200 512 "-" "curl/8.0"`
	req, err := p.Parse(line)
	if err != nil {
		t.Fatal(err)
	}

	if req.Grammar != "combined" {
		t.Errorf("expected grammar combined, got %s", req.Grammar)
	}
	if req.Method != "GET" {
		t.Errorf("expected method GET, got %s", req.Method)
	}
	if req.RawURL != "/search?q=<script>alert(1)</script>" {
		t.Errorf("unexpected url %q", req.RawURL)
	}
	if req.Status != 200 {
		t.Errorf("expected status 200, got %d", req.Status)
	}
	if req.ClientAddr != "203.0.113.7" {
		t.Errorf("expected addr 203.0.113.7, got %s", req.ClientAddr)
	}
	if req.Timestamp.Year() != 2025 || req.Timestamp.Month() != time.July {
		t.Errorf("unexpected timestamp %v", req.Timestamp)
	}
}

func TestCommonGrammar(t *testing.T) {
	p := NewCascade(nil)

	req, err := p.Parse(`127.0.0.1 - frank [17/Feb/2026:12:00:00 +0000] "GET /api/health HTTP/1.1" 500 1234`)
	if err != nil {
		t.Fatal(err)
	}
	if req.Grammar != "common" {
		t.Errorf("expected grammar common, got %s", req.Grammar)
	}
	if req.Status != 500 {
		t.Errorf("expected status 500, got %d", req.Status)
	}
	if req.RawURL != "/api/health" {
		t.Errorf("expected /api/health, got %q", req.RawURL)
	}
}

func TestCommonGrammarIPv6(t *testing.T) {
	p := NewCascade(nil)

	req, err := p.Parse(`2001:db8::1 - - [17/Feb/2026:12:00:00 +0000] "HEAD / HTTP/1.1" 200 0`)
	if err != nil {
		t.Fatal(err)
	}
	if req.ClientAddr != "2001:db8::1" {
		t.Errorf("expected IPv6 addr, got %s", req.ClientAddr)
	}
	if req.Method != "HEAD" {
		t.Errorf("expected HEAD, got %s", req.Method)
	}
}

func TestSyslogGrammar(t *testing.T) {
	p := NewCascade(nil)

	line := `Jul 10 02:29:57 otofuserver docker-nginx-LO[1587]: 192.168.10.11 - - [10/Jul/2025:02:29:57 +0900] "POST /epgstation/api HTTP/1.1" 200 12 "-" "ua"`
	req, err := p.Parse(line)
	if err != nil {
		t.Fatal(err)
	}
	if req.Grammar != "syslog" {
		t.Errorf("expected grammar syslog, got %s", req.Grammar)
	}
	if req.Method != "POST" || req.RawURL != "/epgstation/api" {
		t.Errorf("unexpected request %s %s", req.Method, req.RawURL)
	}
	if req.ClientAddr != "192.168.10.11" {
		t.Errorf("unexpected addr %s", req.ClientAddr)
	}
}

func TestSyslogRepeatedGrammar(t *testing.T) {
	p := NewCascade(nil)

	line := `Jul 10 02:26:51 otofuserver docker-nginx-LO[1587]: message repeated 2 times: [ 192.168.10.11 - - [10/Jul/2025:02:26:51 +0900] "GET /x HTTP/1.1" 200 5]`
	req, err := p.Parse(line)
	if err != nil {
		t.Fatal(err)
	}
	if req.Grammar != "syslog-repeated" {
		t.Errorf("expected grammar syslog-repeated, got %s", req.Grammar)
	}
	if req.RawURL != "/x" {
		t.Errorf("expected /x, got %q", req.RawURL)
	}
}

func TestRepeatMarkerWithoutRequest(t *testing.T) {
	p := NewCascade(nil)

	_, err := p.Parse(`Jul 10 02:26:51 host nginx[1]: message repeated 3 times: [ upstream timed out]`)
	if !errors.Is(err, ErrRepeatMarker) {
		t.Errorf("expected ErrRepeatMarker, got %v", err)
	}
}

func TestSyslogInvalidAddressFallsThrough(t *testing.T) {
	p := NewCascade(nil)

	_, err := p.Parse(`Jul 10 02:29:57 host nginx[1]: 999.1.1.1 - - [10/Jul/2025:02:29:57 +0900] "GET / HTTP/1.1" 200 1`)
	if !errors.Is(err, ErrNoGrammar) {
		t.Errorf("expected ErrNoGrammar for invalid syslog address, got %v", err)
	}
}

func TestSplitGrammar(t *testing.T) {
	p := NewCascade(nil)

	req, err := p.Parse(`10.0.0.1 - - [17/Feb/2026:12:00:00 +0000] "get /lower HTTP/1.1" 404`)
	if err != nil {
		t.Fatal(err)
	}
	if req.Grammar != "split" {
		t.Errorf("expected grammar split, got %s", req.Grammar)
	}
	if req.Method != "GET" {
		t.Errorf("expected upper-cased method, got %s", req.Method)
	}
	if req.RawURL != "/lower" || req.Status != 404 {
		t.Errorf("unexpected %q %d", req.RawURL, req.Status)
	}
}

func TestFallbackAcceptsInvalidAddress(t *testing.T) {
	p := NewCascade(nil)

	req, err := p.Parse(`256.1.1.1 - - [17/Feb/2026:12:00:00 +0000] "GET /x HTTP/1.1" 200 1 "-" "-"`)
	if err != nil {
		t.Fatal(err)
	}
	if req.Grammar != "fallback" {
		t.Errorf("expected grammar fallback, got %s", req.Grammar)
	}
	if req.ClientAddr != "256.1.1.1" {
		t.Errorf("expected addr kept verbatim, got %s", req.ClientAddr)
	}

	req, err = p.Parse(`gateway - - [17/Feb/2026:12:00:00 +0000] "GET /y HTTP/1.1" 200`)
	if err != nil {
		t.Fatal(err)
	}
	if req.Grammar != "fallback" || req.ClientAddr != "gateway" {
		t.Errorf("unexpected %s %s", req.Grammar, req.ClientAddr)
	}
}

func TestMalformedQuotedField(t *testing.T) {
	p := NewCascade(nil)

	_, err := p.Parse(`1.2.3.4 - - [17/Feb/2026:12:00:00 +0000] "GET /a"b HTTP/1.1" 200 1`)
	if !errors.Is(err, ErrNoGrammar) {
		t.Errorf("expected ErrNoGrammar, got %v", err)
	}
}

func TestRequestFieldDefaults(t *testing.T) {
	p := NewCascade(nil)

	req, err := p.Parse(`1.2.3.4 - - [17/Feb/2026:12:00:00 +0000] "" 400 0`)
	if err != nil {
		t.Fatal(err)
	}
	if req.Method != "GET" || req.RawURL != "/" {
		t.Errorf("expected GET /, got %s %s", req.Method, req.RawURL)
	}

	req, err = p.Parse(`1.2.3.4 - - [17/Feb/2026:12:00:00 +0000] "GET index.html HTTP/1.0" 200 10`)
	if err != nil {
		t.Fatal(err)
	}
	if req.RawURL != "/index.html" {
		t.Errorf("expected rooted url, got %q", req.RawURL)
	}
}

func TestBadTimestampUsesIngestionTime(t *testing.T) {
	p := NewCascade(nil)
	fixed := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	req, err := p.Parse(`1.2.3.4 - - [not a date] "GET / HTTP/1.1" 200 0`)
	if err != nil {
		t.Fatal(err)
	}
	if !req.Timestamp.Equal(fixed) {
		t.Errorf("expected ingestion time, got %v", req.Timestamp)
	}
}

func TestEmptyAndGarbage(t *testing.T) {
	p := NewCascade(nil)

	if _, err := p.Parse("   \t "); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := p.Parse("2026-02-17 WARN disk usage at 90%"); !errors.Is(err, ErrNoGrammar) {
		t.Errorf("expected ErrNoGrammar, got %v", err)
	}
}

func TestCustomGrammarOrder(t *testing.T) {
	p := NewCascadeWith(nil, FallbackGrammar())

	req, err := p.Parse(`127.0.0.1 - - [17/Feb/2026:12:00:00 +0000] "GET / HTTP/1.1" 200 1 "-" "-"`)
	if err != nil {
		t.Fatal(err)
	}
	if req.Grammar != "fallback" {
		t.Errorf("expected fallback as the only grammar, got %s", req.Grammar)
	}
}
