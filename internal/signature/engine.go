// Package signature classifies request URLs against a versioned attack
// catalogue that can be replaced while classification is running.
package signature

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/atikulmunna/warden/internal/model"
	"github.com/atikulmunna/warden/internal/normalize"
)

// Classifier is the read side of the engine used by the pipeline.
type Classifier interface {
	Classify(url string) model.Verdict
}

// Engine holds the active catalogue. Readers never lock; a new catalogue is
// published by swapping the pointer.
type Engine struct {
	current atomic.Pointer[Catalogue]
	log     *zap.Logger
}

// NewEngine returns an engine with no catalogue; it classifies everything as
// "unknown" until one is loaded.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{log: logger.Named("signature")}
}

// Current returns the active catalogue, or nil.
func (e *Engine) Current() *Catalogue {
	return e.current.Load()
}

// Version returns the active catalogue version, or "" when none is loaded.
func (e *Engine) Version() string {
	if c := e.current.Load(); c != nil {
		return c.Version()
	}
	return ""
}

// Swap publishes c and returns the catalogue it replaced.
func (e *Engine) Swap(c *Catalogue) *Catalogue {
	prev := e.current.Swap(c)
	e.log.Info("catalogue activated",
		zap.String("version", c.Version()), zap.Int("entries", c.Len()))
	return prev
}

// LoadFile loads the catalogue at path and activates it. On failure the
// active catalogue is left in place.
func (e *Engine) LoadFile(path string) error {
	c, err := LoadFile(path)
	if err != nil {
		e.log.Warn("catalogue load failed, keeping previous", zap.String("path", path), zap.Error(err))
		return err
	}
	e.Swap(c)
	return nil
}

// Classify matches url against the catalogue that is active at call time.
func (e *Engine) Classify(url string) model.Verdict {
	c := e.current.Load()
	if c == nil {
		return model.Verdict{Classification: model.ClassUnknown}
	}
	return c.Classify(url)
}

// Classify matches the raw and the decoded URL against every entry,
// case-insensitively, and joins the matching attack types in catalogue order.
func (c *Catalogue) Classify(url string) model.Verdict {
	return c.classify(url, normalize.DecodeURL(url))
}

// ClassifyDecoded matches a URL that has already been decoded, as stored in
// the registry, without decoding it again.
func (c *Catalogue) ClassifyDecoded(url string) model.Verdict {
	return c.classify(url, url)
}

func (c *Catalogue) classify(raw, decoded string) model.Verdict {
	rawLower, decodedLower := strings.ToLower(raw), strings.ToLower(decoded)

	var matched []string
	for _, entry := range c.entries {
		if entry.matches(raw, decoded, rawLower, decodedLower) {
			matched = append(matched, entry.Type)
		}
	}

	v := model.Verdict{Classification: model.ClassNormal, CatalogueVersion: c.version}
	if len(matched) > 0 {
		v.Classification = strings.Join(matched, ",")
	}
	return v
}
