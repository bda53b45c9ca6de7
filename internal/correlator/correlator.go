// Package correlator pairs ModSecurity block notices with the access-log
// line that follows them.
package correlator

import (
	"regexp"
	"unicode/utf8"

	"github.com/atikulmunna/warden/internal/model"
)

// State of the correlator.
type State int

const (
	// Idle holds no pending notice.
	Idle State = iota
	// AwaitingRequest holds exactly one notice waiting for the next request.
	AwaitingRequest
)

func (s State) String() string {
	if s == AwaitingRequest {
		return "awaiting-request"
	}
	return "idle"
}

// Markers that identify a denial notice, matched case-insensitively.
var noticeMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ModSecurity: Access denied`),
	regexp.MustCompile(`(?i)ModSecurity.*blocked`),
	regexp.MustCompile(`(?i)ModSecurity.*denied`),
}

// IsNotice reports whether the line is a block notice.
func IsNotice(line string) bool {
	for _, re := range noticeMarkers {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Block is a resolved notice handed to the request that followed it.
type Block struct {
	Notice    string
	Fragments []model.Fragment
}

// Correlator is a two-state machine. The zero value is Idle and ready to use.
// It is not safe for concurrent use; one correlator belongs to one tailed file.
type Correlator struct {
	state  State
	notice string
}

// State returns the current state.
func (c *Correlator) State() State { return c.state }

// Offer inspects a raw line. A notice line is held (replacing any earlier
// pending notice) and Offer returns true; the caller must not parse it.
func (c *Correlator) Offer(line string) bool {
	if !IsNotice(line) {
		return false
	}
	c.notice = line
	c.state = AwaitingRequest
	return true
}

// Resolve is called after a line parsed into a request. When a notice is
// pending it is returned with its fragments and the correlator becomes Idle.
func (c *Correlator) Resolve() (Block, bool) {
	if c.state != AwaitingRequest {
		return Block{}, false
	}
	notice := c.notice
	c.Reset()
	return Block{Notice: notice, Fragments: ExtractFragments(notice)}, true
}

// Reset drops any pending notice. Called on rotation so that a notice never
// attaches across file boundaries.
func (c *Correlator) Reset() {
	c.state = Idle
	c.notice = ""
}

// ---------------------------------------------------------------------------
// Fragment extraction
// ---------------------------------------------------------------------------

var (
	idRe       = regexp.MustCompile(`\[id "(\d+)"\]`)
	msgRe      = regexp.MustCompile(`\[msg "([^"]+)"\]`)
	dataRe     = regexp.MustCompile(`\[data "([^"]+)"\]`)
	severityRe = regexp.MustCompile(`\[severity "([^"]+)"\]`)
)

const maxNoticeData = 500

// ExtractFragments pulls the bracketed id/msg/data/severity fields out of a
// notice. The four lists are paired by position, not by proximity in the
// text. A notice without any of them yields one synthetic "unknown" fragment.
func ExtractFragments(notice string) []model.Fragment {
	ids := captures(idRe, notice)
	msgs := captures(msgRe, notice)
	data := captures(dataRe, notice)
	sevs := captures(severityRe, notice)

	n := max(len(ids), len(msgs), len(data), len(sevs))
	if n == 0 {
		return []model.Fragment{{
			RuleID:   model.ClassUnknown,
			Message:  "generic block detected",
			Data:     truncate(notice, maxNoticeData),
			Severity: model.ClassUnknown,
		}}
	}

	out := make([]model.Fragment, n)
	for i := range out {
		out[i] = model.Fragment{
			RuleID:   at(ids, i),
			Message:  at(msgs, i),
			Data:     at(data, i),
			Severity: at(sevs, i),
		}
	}
	return out
}

func captures(re *regexp.Regexp, s string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		out = append(out, m[1])
	}
	return out
}

func at(list []string, i int) string {
	if i < len(list) {
		return list[i]
	}
	return ""
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
