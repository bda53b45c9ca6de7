package signature

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

// VersionKey is the reserved catalogue key holding the catalogue version.
const VersionKey = "version"

// ErrInvalidCatalogue reports a catalogue that failed validation.
var ErrInvalidCatalogue = errors.New("invalid attack catalogue")

// Entry is one named attack signature.
type Entry struct {
	Type    string
	Pattern string
	re      *regexp.Regexp // nil when the pattern does not compile
}

// Regex reports whether the entry matches as a regular expression rather
// than as a plain substring.
func (e Entry) Regex() bool { return e.re != nil }

func (e Entry) matches(raw, decoded, rawLower, decodedLower string) bool {
	if e.re != nil {
		return e.re.MatchString(raw) || e.re.MatchString(decoded)
	}
	needle := strings.ToLower(e.Pattern)
	return strings.Contains(rawLower, needle) || strings.Contains(decodedLower, needle)
}

// Catalogue is an immutable, versioned set of attack signatures kept in the
// order they appear in the source document.
type Catalogue struct {
	version string
	entries []Entry
}

// Version returns the catalogue version string.
func (c *Catalogue) Version() string { return c.version }

// Entries returns a copy of the catalogue entries in catalogue order.
func (c *Catalogue) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len is the number of attack entries, excluding the version key.
func (c *Catalogue) Len() int { return len(c.entries) }

// ParseCatalogue decodes and validates a catalogue document: a JSON object
// with a string "version" and at least one other key mapping an attack type
// to a pattern string.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrInvalidCatalogue)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalogue, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: top level is not an object", ErrInvalidCatalogue)
	}

	c := &Catalogue{}
	hasVersion := false
	index := make(map[string]int)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCatalogue, err)
		}
		key, _ := tok.(string)

		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrInvalidCatalogue, key, err)
		}

		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: key %q is not a string", ErrInvalidCatalogue, key)
		}
		if key == VersionKey {
			c.version = s
			hasVersion = true
			continue
		}

		entry := Entry{Type: key, Pattern: s}
		if re, err := regexp.Compile("(?i)" + s); err == nil {
			entry.re = re
		}
		// A repeated key keeps its first position and takes the last value.
		if i, dup := index[key]; dup {
			c.entries[i] = entry
			continue
		}
		index[key] = len(c.entries)
		c.entries = append(c.entries, entry)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalogue, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalidCatalogue)
	}

	if !hasVersion {
		return nil, fmt.Errorf("%w: missing %q", ErrInvalidCatalogue, VersionKey)
	}
	if len(c.entries) == 0 {
		return nil, fmt.Errorf("%w: no attack patterns", ErrInvalidCatalogue)
	}
	return c, nil
}

// LoadFile reads and validates a catalogue from disk.
func LoadFile(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	c, err := ParseCatalogue(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}
