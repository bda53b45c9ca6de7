package parser

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atikulmunna/warden/internal/model"
	"github.com/atikulmunna/warden/internal/normalize"
)

// Outcomes of a line that did not yield a request.
var (
	ErrEmpty        = errors.New("empty line")
	ErrRepeatMarker = errors.New("syslog repeat marker without request")
	ErrNoGrammar    = errors.New("no grammar matched")
)

// Parser converts a raw access-log line into a canonical Request.
type Parser interface {
	Parse(line string) (model.Request, error)
}

// Fields are the raw captures a grammar pulled out of a line.
type Fields struct {
	Addr      string
	Timestamp string
	Request   string // quoted request field; empty when Method/URL were captured directly
	Method    string
	URL       string
	Status    string
}

// Grammar is one recognised textual layout of an access-log line.
type Grammar interface {
	Name() string
	Match(line string) (Fields, bool)
	// Terminal grammars accept lines whose address fails validation.
	Terminal() bool
}

// ---------------------------------------------------------------------------
// Regex grammars
// ---------------------------------------------------------------------------

const (
	addrPrefix   = `(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}|[a-fA-F0-9:]+)`
	syslogHeader = `^[A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2}\s+\S+\s+\S+\[\d+\]:\s+`
	clfCore      = `\s+\S+\s+\S+\s+\[([^\]]+)\]\s+"([^"]*)"\s+(\d+)`
)

// regexGrammar captures addr, timestamp, request and status, in that order.
// With split set, the request is captured as separate method and URL groups.
type regexGrammar struct {
	name     string
	re       *regexp.Regexp
	split    bool
	terminal bool
}

func (g *regexGrammar) Name() string   { return g.name }
func (g *regexGrammar) Terminal() bool { return g.terminal }

func (g *regexGrammar) Match(line string) (Fields, bool) {
	m := g.re.FindStringSubmatch(line)
	if m == nil {
		return Fields{}, false
	}
	if g.split {
		return Fields{Addr: m[1], Timestamp: m[2], Method: m[3], URL: m[4], Status: m[5]}, true
	}
	return Fields{Addr: m[1], Timestamp: m[2], Request: m[3], Status: m[4]}, true
}

// SyslogGrammar matches nginx lines forwarded through syslog:
// Jul 10 02:29:57 host nginx[1587]: 192.168.10.11 - - [10/Jul/2025:02:29:57 +0900] "GET / HTTP/1.1" 200
func SyslogGrammar() Grammar {
	return &regexGrammar{
		name: "syslog",
		re:   regexp.MustCompile(syslogHeader + addrPrefix + clfCore),
	}
}

// SyslogRepeatedGrammar matches the "message repeated N times: [ ... ]" form
// that still carries the request.
func SyslogRepeatedGrammar() Grammar {
	return &regexGrammar{
		name: "syslog-repeated",
		re:   regexp.MustCompile(syslogHeader + `message repeated \d+ times?: \[\s*` + addrPrefix + clfCore),
	}
}

// CombinedGrammar matches the NCSA combined format with referer and user agent.
func CombinedGrammar() Grammar {
	return &regexGrammar{
		name: "combined",
		re:   regexp.MustCompile(`^` + addrPrefix + clfCore + `\s+(\d+|-)\s+"([^"]*)"\s+"([^"]*)"`),
	}
}

// CommonGrammar matches the Common Log Format.
// Format: host ident authuser [date] "request" status bytes
func CommonGrammar() Grammar {
	return &regexGrammar{
		name: "common",
		re:   regexp.MustCompile(`^` + addrPrefix + clfCore + `\s+(\d+|-)`),
	}
}

// SplitGrammar captures method and URL directly when no byte count follows.
func SplitGrammar() Grammar {
	return &regexGrammar{
		name:  "split",
		re:    regexp.MustCompile(`^` + addrPrefix + `\s+\S+\s+\S+\s+\[([^\]]+)\]\s+"(\S+)\s+(\S+)[^"]*"\s+(\d+)`),
		split: true,
	}
}

// FallbackGrammar treats the first token as the address, whatever it is.
func FallbackGrammar() Grammar {
	return &regexGrammar{
		name:     "fallback",
		re:       regexp.MustCompile(`^(\S+)` + clfCore),
		terminal: true,
	}
}

// DefaultGrammars returns the cascade order used for live ingestion.
func DefaultGrammars() []Grammar {
	return []Grammar{
		SyslogGrammar(),
		SyslogRepeatedGrammar(),
		CombinedGrammar(),
		CommonGrammar(),
		SplitGrammar(),
		FallbackGrammar(),
	}
}

// ---------------------------------------------------------------------------
// Cascade
// ---------------------------------------------------------------------------

var repeatMarkerRe = regexp.MustCompile(`message repeated \d+ times?:`)

// Cascade tries each grammar in order; the first match with an acceptable
// address wins.
type Cascade struct {
	grammars []Grammar
	log      *zap.Logger
	now      func() time.Time
}

// NewCascade builds a cascade over the default grammars.
func NewCascade(logger *zap.Logger) *Cascade {
	return NewCascadeWith(logger, DefaultGrammars()...)
}

// NewCascadeWith builds a cascade over an explicit grammar list.
func NewCascadeWith(logger *zap.Logger, grammars ...Grammar) *Cascade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cascade{
		grammars: grammars,
		log:      logger.Named("parser"),
		now:      time.Now,
	}
}

func (c *Cascade) Parse(line string) (model.Request, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return model.Request{}, ErrEmpty
	}

	for _, g := range c.grammars {
		f, ok := g.Match(trimmed)
		if !ok {
			continue
		}
		status, err := strconv.Atoi(f.Status)
		if err != nil {
			continue
		}
		if !normalize.ValidIP(f.Addr) {
			if !g.Terminal() {
				c.log.Debug("invalid address, trying next grammar",
					zap.String("grammar", g.Name()), zap.String("addr", f.Addr))
				continue
			}
			c.log.Warn("accepting invalid address at terminal grammar",
				zap.String("grammar", g.Name()), zap.String("addr", f.Addr), zap.String("line", clip(trimmed, 100)))
		}
		return c.build(g.Name(), f, status), nil
	}

	if repeatMarkerRe.MatchString(trimmed) {
		return model.Request{}, ErrRepeatMarker
	}
	return model.Request{}, ErrNoGrammar
}

// build turns grammar captures into a canonical request.
func (c *Cascade) build(grammar string, f Fields, status int) model.Request {
	method, url := f.Method, f.URL
	if method == "" && url == "" {
		method, url = splitRequest(f.Request)
	}

	ts, err := normalize.ParseTimestamp(f.Timestamp)
	if err != nil {
		ts = c.now()
		c.log.Warn("timestamp unparseable, using ingestion time",
			zap.String("timestamp", f.Timestamp), zap.Error(err))
	}

	return model.Request{
		ClientAddr: f.Addr,
		Method:     normalize.NormalizeMethod(method),
		RawURL:     normalize.NormalizeURL(url),
		Status:     status,
		Timestamp:  ts,
		Grammar:    grammar,
	}
}

// splitRequest splits `GET /path HTTP/1.1` into method and URL.
func splitRequest(request string) (method, url string) {
	parts := strings.Fields(request)
	method, url = "GET", "/"
	if len(parts) >= 1 {
		method = parts[0]
	}
	if len(parts) >= 2 {
		url = parts[1]
	}
	return method, url
}

// clip truncates s to at most n bytes for log output.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
