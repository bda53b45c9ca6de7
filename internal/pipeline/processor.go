// Package pipeline turns tailed lines into classified events and fans them
// out to persistence and live observers.
package pipeline

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atikulmunna/warden/internal/correlator"
	"github.com/atikulmunna/warden/internal/model"
	"github.com/atikulmunna/warden/internal/normalize"
	"github.com/atikulmunna/warden/internal/parser"
	"github.com/atikulmunna/warden/internal/settings"
	"github.com/atikulmunna/warden/internal/signature"
)

// Observer is told about lines that do not become events.
type Observer interface {
	Unparsed(source string)
	Rotated(source string)
}

type nopObserver struct{}

func (nopObserver) Unparsed(string) {}
func (nopObserver) Rotated(string)  {}

// Processor handles the lines of one tailed file in arrival order. It owns
// that file's block correlator and runs on the tailer's goroutine.
type Processor struct {
	corr       correlator.Correlator
	parser     parser.Parser
	classifier signature.Classifier
	whitelist  *settings.Snapshot
	emit       func(model.Event)
	obs        Observer
	log        *zap.Logger
	now        func() time.Time
}

// Options bundles the collaborators shared by every Processor.
type Options struct {
	Parser     parser.Parser
	Classifier signature.Classifier
	Whitelist  *settings.Snapshot
	Emit       func(model.Event)
	Observer   Observer
	Logger     *zap.Logger
}

// NewProcessor creates a Processor. Parser, Classifier and Emit are required.
func NewProcessor(opts Options) *Processor {
	if opts.Whitelist == nil {
		opts.Whitelist = &settings.Snapshot{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Processor{
		parser:     opts.Parser,
		classifier: opts.Classifier,
		whitelist:  opts.Whitelist,
		emit:       opts.Emit,
		obs:        opts.Observer,
		log:        opts.Logger.Named("pipeline"),
		now:        time.Now,
	}
}

// HandleLine consumes a notice or parses, correlates and classifies a request.
func (p *Processor) HandleLine(line model.RawLine) {
	if p.corr.Offer(line.Text) {
		p.log.Debug("block notice pending",
			zap.String("source", line.Source), zap.Uint64("seq", line.Seq))
		return
	}

	req, err := p.parser.Parse(line.Text)
	switch {
	case err == nil:
	case errors.Is(err, parser.ErrEmpty):
		return
	case errors.Is(err, parser.ErrRepeatMarker):
		p.log.Debug("skipping repeat marker", zap.String("source", line.Source), zap.Uint64("seq", line.Seq))
		return
	default:
		p.log.Warn("dropping unparseable line",
			zap.String("source", line.Source), zap.Uint64("seq", line.Seq),
			zap.String("line", clip(line.Text, 200)), zap.Error(err))
		p.obs.Unparsed(line.Source)
		return
	}
	req.Source, req.Seq = line.Source, line.Seq

	ev := model.Event{
		ID:          uuid.NewString(),
		Request:     req,
		URL:         normalize.DecodeURL(req.RawURL),
		Verdict:     p.classifier.Classify(req.RawURL),
		Whitelisted: p.whitelist.Load().Allows(req.ClientAddr),
		ProcessedAt: p.now(),
	}
	if block, ok := p.corr.Resolve(); ok {
		ev.Blocked = true
		ev.Fragments = block.Fragments
	}
	if ev.Verdict.Attack() {
		p.log.Info("attack signature matched",
			zap.String("classification", ev.Verdict.Classification),
			zap.String("ip", req.ClientAddr), zap.String("url", ev.URL), zap.Bool("blocked", ev.Blocked))
	}
	p.emit(ev)
}

// HandleRotation discards any notice left pending by the previous file.
func (p *Processor) HandleRotation(source string) {
	if p.corr.State() == correlator.AwaitingRequest {
		p.log.Warn("discarding block notice across rotation", zap.String("source", source))
	}
	p.corr.Reset()
	p.obs.Rotated(source)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
