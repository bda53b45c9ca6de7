// Package normalize holds the small, dependency-free helpers shared by the
// parser and the signature engine: address validation, timestamp parsing
// and URL canonicalisation.
package normalize

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ipv4Re = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})$`)
	zoneRe = regexp.MustCompile(`^(?:[+-]\d{2}:?\d{2}|Z|[A-Za-z]{2,5})$`)
)

// timestampFormats are tried in order after the zone token is stripped.
var timestampFormats = []string{
	"02/Jan/2006:15:04:05", // 10/Jul/2025:14:30:45
	"2006-01-02 15:04:05",  // 2025-07-10 14:30:45
	"02/01/2006:15:04:05",  // 10/07/2025:14:30:45
	"2006-01-02T15:04:05",  // ISO 8601 without zone
}

// ValidIP reports whether s is a dotted-quad IPv4 address with every octet
// in [0,255], or a textual IPv6 address.
func ValidIP(s string) bool {
	if m := ipv4Re.FindStringSubmatch(s); m != nil {
		for _, octet := range m[1:] {
			n, err := strconv.Atoi(octet)
			if err != nil || n > 255 {
				return false
			}
		}
		return true
	}
	if !strings.Contains(s, ":") {
		return false
	}
	return net.ParseIP(s) != nil
}

// ParseTimestamp parses the timestamp formats seen in nginx/apache and
// syslog-wrapped logs. Trailing timezone text is ignored and the result is
// expressed in local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	basic := stripZone(s)

	for _, layout := range timestampFormats {
		if t, err := time.ParseInLocation(layout, basic, time.Local); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(time.Local), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// stripZone removes a trailing "+0900", "Z" or "JST" style token.
func stripZone(s string) string {
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return s
	}
	if zoneRe.MatchString(s[i+1:]) {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// NormalizeURL makes sure the URL is rooted. Applying it twice is the same
// as applying it once.
func NormalizeURL(u string) string {
	if strings.HasPrefix(u, "/") {
		return u
	}
	return "/" + u
}

// NormalizeMethod upper-cases an HTTP method, defaulting to GET.
func NormalizeMethod(m string) string {
	if m == "" {
		return "GET"
	}
	return strings.ToUpper(m)
}

// DecodeURL turns '+' into spaces and percent-decodes twice so that
// double-encoded payloads (%2527) surface in plain text. Broken escapes are
// kept as-is, and bytes that do not form valid UTF-8 are replaced.
func DecodeURL(u string) string {
	decoded := strings.ReplaceAll(u, "+", " ")
	for i := 0; i < 2; i++ {
		decoded = unescape(decoded)
	}
	return decoded
}

func unescape(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			buf = append(buf, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
			continue
		}
		buf = append(buf, s[i])
	}
	return strings.ToValidUTF8(string(buf), "\uFFFD")
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
