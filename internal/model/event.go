package model

import "time"

// Classification values that are not attack types.
const (
	ClassNormal  = "normal"
	ClassUnknown = "unknown"
)

// Verdict is the outcome of matching a URL against the attack catalogue.
type Verdict struct {
	Classification   string `json:"classification"`
	CatalogueVersion string `json:"catalogue_version"`
}

// Attack reports whether the verdict names at least one attack type.
func (v Verdict) Attack() bool {
	return v.Classification != ClassNormal && v.Classification != ClassUnknown && v.Classification != ""
}

// Event is a fully classified request ready for persistence and broadcast.
type Event struct {
	ID          string     `json:"id"`
	Request     Request    `json:"request"`
	URL         string     `json:"url"` // decoded form of Request.RawURL
	Blocked     bool       `json:"blocked"`
	Fragments   []Fragment `json:"fragments,omitempty"`
	Verdict     Verdict    `json:"verdict"`
	Whitelisted bool       `json:"whitelisted"`
	ProcessedAt time.Time  `json:"processed_at"`
}
