// Package tailer follows a growing log file across truncation and
// rename-style rotation and hands every complete line to a Handler.
package tailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/atikulmunna/warden/internal/model"
)

// Handler receives the output of one Tailer, always from the same goroutine.
type Handler interface {
	HandleLine(line model.RawLine)
	// HandleRotation is called after the old file has been drained and
	// before the first line of the replacement is delivered.
	HandleRotation(source string)
}

// Config controls polling. Zero values select the defaults.
type Config struct {
	PollInterval time.Duration // default 500ms
	RetryBackoff time.Duration // default 5s
	StartWindow  int64         // default 10 KiB
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.StartWindow <= 0 {
		c.StartWindow = 10 * 1024
	}
}

const readChunk = 64 * 1024

// Tailer owns the read state of a single path. It is not safe for
// concurrent use; Run drives it from one goroutine.
type Tailer struct {
	path string
	cfg  Config
	h    Handler
	log  *zap.Logger
	wake <-chan struct{}

	file    *os.File
	info    os.FileInfo
	offset  int64
	size    int64 // file size as of the last stat or read
	skip    bool  // drop bytes up to the first newline on the next read
	rotated bool  // replacement seen but not yet opened
	started bool
	seq     uint64
}

// New creates a Tailer for path. wake may be nil.
func New(path string, cfg Config, h Handler, wake <-chan struct{}, logger *zap.Logger) *Tailer {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tailer{
		path: path,
		cfg:  cfg,
		h:    h,
		wake: wake,
		log:  logger.Named("tailer").With(zap.String("path", path)),
	}
}

// Run tails until ctx is cancelled. Missing or unreadable files are retried
// after the backoff and never end the loop.
func (t *Tailer) Run(ctx context.Context) {
	defer t.close()

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := t.poll(); err != nil {
			t.log.Warn("tail failed, retrying", zap.Duration("backoff", t.cfg.RetryBackoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(t.cfg.RetryBackoff):
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-t.wake:
		}
	}
}

// open opens the path. The first successful open positions the reader at
// most StartWindow bytes from the end; later opens start at zero.
func (t *Tailer) open() error {
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	t.file, t.info, t.offset, t.size, t.skip = f, fi, 0, fi.Size(), false
	if !t.started {
		t.started = true
		if fi.Size() > t.cfg.StartWindow {
			t.offset = fi.Size() - t.cfg.StartWindow
			t.skip = true
		}
		t.log.Info("tailing", zap.Int64("size", fi.Size()), zap.Int64("offset", t.offset))
	}
	return nil
}

func (t *Tailer) close() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

// poll checks the path once, handles rotation and delivers new lines.
func (t *Tailer) poll() error {
	if t.file == nil {
		return t.reopen()
	}

	fi, err := os.Stat(t.path)
	if err != nil {
		// Renamed away and not yet recreated: keep draining the old handle.
		if derr := t.read(); derr != nil {
			t.log.Warn("drain failed", zap.Error(derr))
		}
		return err
	}

	switch {
	case !os.SameFile(fi, t.info):
		if err := t.read(); err != nil {
			t.log.Warn("drain before rotation failed", zap.Error(err))
		}
		t.close()
		t.rotated = true
		return t.reopen()
	case fi.Size() < t.size:
		t.log.Info("log rotated", zap.String("reason", "truncated"),
			zap.Int64("offset", t.offset), zap.Int64("was", t.size), zap.Int64("size", fi.Size()))
		t.offset, t.skip = 0, false
		t.info, t.size = fi, fi.Size()
		t.h.HandleRotation(t.path)
	default:
		t.info, t.size = fi, fi.Size()
	}
	return t.read()
}

// reopen opens the path and, when it replaces a rotated file, reports the
// rotation before any line of the new file. A failed open keeps the
// rotation pending for the next attempt.
func (t *Tailer) reopen() error {
	if err := t.open(); err != nil {
		return err
	}
	if t.rotated {
		t.rotated = false
		t.log.Info("log rotated", zap.String("reason", "replaced"))
		t.h.HandleRotation(t.path)
	}
	return t.read()
}

// read delivers every complete line between offset and EOF. A trailing
// fragment without a newline is left for the next read.
func (t *Tailer) read() error {
	buf := make([]byte, readChunk)
	var carry []byte
	for {
		n, err := t.file.ReadAt(buf, t.offset+int64(len(carry)))
		if n > 0 {
			carry = append(carry, buf[:n]...)
			carry = t.emit(carry)
		}
		if err == io.EOF {
			t.size = max(t.size, t.offset+int64(len(carry)))
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", t.path, err)
		}
	}
}

// emit consumes complete lines from data, advancing offset, and returns the
// unconsumed remainder.
func (t *Tailer) emit(data []byte) []byte {
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			return data
		}
		line := data[:i]
		data = data[i+1:]
		t.offset += int64(i + 1)

		if t.skip {
			t.skip = false
			continue
		}
		t.deliver(line)
	}
}

func (t *Tailer) deliver(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	text := string(line)
	if !utf8.ValidString(text) {
		t.log.Warn("invalid UTF-8 replaced", zap.Uint64("seq", t.seq+1))
		text = strings.ToValidUTF8(text, "\uFFFD")
	}
	t.seq++
	t.h.HandleLine(model.RawLine{Seq: t.seq, Text: text, Source: t.path})
}
