package normalize

import (
	"fmt"
	"testing"
	"time"
)

func TestValidIPv4Range(t *testing.T) {
	for _, octet := range []int{0, 1, 9, 10, 99, 100, 199, 254, 255} {
		ip := fmt.Sprintf("%d.%d.%d.%d", octet, 255-octet, octet, 255-octet)
		if !ValidIP(ip) {
			t.Errorf("expected %s to be valid", ip)
		}
	}
}

func TestInvalidIPv4(t *testing.T) {
	for _, ip := range []string{"256.1.1.1", "1.1.1.300", "999.0.0.1", "a.b.c.d", "1.2.3", "1.2.3.4.5", "1.2.3.x", "", "-", "frank"} {
		if ValidIP(ip) {
			t.Errorf("expected %q to be invalid", ip)
		}
	}
}

func TestValidIPv6(t *testing.T) {
	for _, ip := range []string{"::1", "2001:db8::1", "fe80::1ff:fe23:4567:890a"} {
		if !ValidIP(ip) {
			t.Errorf("expected %s to be valid", ip)
		}
	}
	if ValidIP("zz::1") {
		t.Error("expected zz::1 to be invalid")
	}
}

func TestParseTimestampCLF(t *testing.T) {
	ts, err := ParseTimestamp("10/Jul/2025:02:29:57 +0900")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 7, 10, 2, 29, 57, 0, time.Local)
	if !ts.Equal(want) {
		t.Errorf("expected %v, got %v", want, ts)
	}
}

func TestParseTimestampAltFormats(t *testing.T) {
	cases := map[string]time.Time{
		"2025-07-10 14:30:45":     time.Date(2025, 7, 10, 14, 30, 45, 0, time.Local),
		"10/07/2025:14:30:45":     time.Date(2025, 7, 10, 14, 30, 45, 0, time.Local),
		"2025-07-10T14:30:45 UTC": time.Date(2025, 7, 10, 14, 30, 45, 0, time.Local),
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Errorf("%q: unexpected error %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestParseTimestampGarbage(t *testing.T) {
	if _, err := ParseTimestamp("yesterday at noon"); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	for _, u := range []string{"", "/", "index.html", "/a/b?c=d", "//double", "?q=1"} {
		once := NormalizeURL(u)
		if once[0] != '/' {
			t.Errorf("%q: expected leading slash, got %q", u, once)
		}
		if twice := NormalizeURL(once); twice != once {
			t.Errorf("%q: not idempotent: %q vs %q", u, once, twice)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	if got := NormalizeMethod("post"); got != "POST" {
		t.Errorf("expected POST, got %s", got)
	}
	if got := NormalizeMethod(""); got != "GET" {
		t.Errorf("expected GET default, got %s", got)
	}
}

func TestDecodeURL(t *testing.T) {
	cases := map[string]string{
		"/page?id=%27%20or%201=1--": "/page?id=' or 1=1--",
		"/a+b":                      "/a b",
		"/x?p=%253Cscript%253E":     "/x?p=<script>",
		"/bad%zzescape%":            "/bad%zzescape%",
		"/plain":                    "/plain",
	}
	for in, want := range cases {
		if got := DecodeURL(in); got != want {
			t.Errorf("DecodeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeURLInvalidUTF8(t *testing.T) {
	got := DecodeURL("/%ff")
	if got != "/\uFFFD" {
		t.Errorf("expected replacement character, got %q", got)
	}
}
