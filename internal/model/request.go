package model

import "time"

// RawLine is a single newline-terminated line read from a tailed file.
type RawLine struct {
	Seq    uint64 `json:"seq"`    // per-source arrival order
	Text   string `json:"text"`   // line without the trailing newline
	Source string `json:"source"` // originating file path
}

// Request is the canonical record produced from one access-log line.
type Request struct {
	ClientAddr string    `json:"client_addr"`
	Method     string    `json:"method"`
	RawURL     string    `json:"raw_url"`
	Status     int       `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Grammar    string    `json:"grammar"` // name of the grammar that matched
	Source     string    `json:"source"`
	Seq        uint64    `json:"seq"`
}

// Fragment is one denial reason extracted from a ModSecurity notice.
type Fragment struct {
	RuleID   string `json:"rule_id"`
	Message  string `json:"message"`
	Data     string `json:"data"`
	Severity string `json:"severity"`
}
