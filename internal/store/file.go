package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/atikulmunna/warden/internal/model"
)

// journal record kinds
const (
	kindAccess = "access"
	kindAlert  = "alert"
	kindURL    = "url"
	kindLabel  = "label"
)

type journalRecord struct {
	Kind     string          `json:"kind"`
	Access   *AccessRecord   `json:"access,omitempty"`
	AccessID int64           `json:"access_id,omitempty"`
	Fragment *model.Fragment `json:"fragment,omitempty"`
	URL      *RegistryEntry  `json:"url,omitempty"`
}

// File is a Sink backed by a JSON-lines journal. The journal is replayed
// into memory on open, so queries are served by the embedded Memory.
type File struct {
	*Memory

	fMu  sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// OpenFile opens or creates the journal at path. The newest history access
// and alert rows are kept in memory. A half-written last record, as left by a crash
// mid-append, is dropped with a warning; any other undecodable record is an
// error.
func OpenFile(path string, history int, logger *zap.Logger) (*File, error) {
	if path == "" {
		return nil, errors.New("file sink: empty path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}
	s := &File{Memory: NewMemoryLimit(history)}
	res, err := s.replay(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("file sink replay %s: %w", path, err)
	}
	if res.torn {
		logger.Warn("dropping torn journal record",
			zap.String("path", path), zap.Int64("offset", res.good))
		if err := os.Truncate(path, res.good); err != nil {
			return nil, fmt.Errorf("file sink: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file sink: %w", err)
	}
	if res.unterminated {
		if _, err := f.Write([]byte{'\n'}); err != nil {
			f.Close()
			return nil, fmt.Errorf("file sink: %w", err)
		}
	}
	s.file = f
	s.enc = json.NewEncoder(f)
	return s, nil
}

type replayResult struct {
	good         int64 // end of the last applied record
	torn         bool  // bytes after good are a partial record
	unterminated bool  // the last record lacks its newline
}

func (s *File) replay(path string) (replayResult, error) {
	var res replayResult
	rf, err := os.Open(path)
	if err != nil {
		return res, err
	}
	defer rf.Close()

	br := bufio.NewReader(rf)
	m := s.Memory
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		line, rerr := br.ReadBytes('\n')
		if len(line) > 0 {
			complete := line[len(line)-1] == '\n'
			if body := bytes.TrimSpace(line); len(body) > 0 {
				var r journalRecord
				if err := json.Unmarshal(body, &r); err != nil {
					if !complete {
						res.torn = true
						return res, nil
					}
					return res, fmt.Errorf("record at offset %d: %w", res.good, err)
				}
				m.applyLocked(r)
				res.unterminated = !complete
			}
			res.good += int64(len(line))
		}
		if rerr == io.EOF {
			return res, nil
		}
		if rerr != nil {
			return res, rerr
		}
	}
}

func (m *Memory) applyLocked(r journalRecord) {
	switch {
	case r.Kind == kindAccess && r.Access != nil:
		m.recordAccessLocked(*r.Access)
	case r.Kind == kindAlert && r.Fragment != nil:
		m.recordAlertLocked(r.AccessID, *r.Fragment)
	case r.Kind == kindURL && r.URL != nil:
		m.upsertLocked(*r.URL)
	case r.Kind == kindLabel && r.URL != nil:
		if e, ok := m.urls[r.URL.URL]; ok {
			e.Classification = r.URL.Classification
		}
	}
}

func (s *File) append(r journalRecord) error {
	if err := s.enc.Encode(r); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *File) RecordAccess(_ context.Context, rec AccessRecord) (int64, error) {
	s.fMu.Lock()
	defer s.fMu.Unlock()

	m := s.Memory
	m.mu.Lock()
	rec.ID = m.recordAccessLocked(rec)
	m.mu.Unlock()

	if err := s.append(journalRecord{Kind: kindAccess, Access: &rec}); err != nil {
		return 0, fmt.Errorf("file sink: %w", err)
	}
	return rec.ID, nil
}

func (s *File) RecordAlert(_ context.Context, accessID int64, f model.Fragment) error {
	s.fMu.Lock()
	defer s.fMu.Unlock()

	m := s.Memory
	m.mu.Lock()
	fresh := m.recordAlertLocked(accessID, f)
	m.mu.Unlock()
	if !fresh {
		return nil
	}
	if err := s.append(journalRecord{Kind: kindAlert, AccessID: accessID, Fragment: &f}); err != nil {
		return fmt.Errorf("file sink: %w", err)
	}
	return nil
}

func (s *File) UpsertURL(_ context.Context, e RegistryEntry) error {
	s.fMu.Lock()
	defer s.fMu.Unlock()

	m := s.Memory
	m.mu.Lock()
	changed := m.upsertLocked(e)
	if changed {
		e = *m.urls[e.URL]
	}
	m.mu.Unlock()
	if !changed {
		return nil
	}
	if err := s.append(journalRecord{Kind: kindURL, URL: &e}); err != nil {
		return fmt.Errorf("file sink: %w", err)
	}
	return nil
}

func (s *File) Reclassify(_ context.Context, classify func(RegistryEntry) string) (int, error) {
	s.fMu.Lock()
	defer s.fMu.Unlock()

	m := s.Memory
	m.mu.Lock()
	changed := m.reclassifyLocked(classify)
	m.mu.Unlock()
	for i := range changed {
		if err := s.append(journalRecord{Kind: kindLabel, URL: &changed[i]}); err != nil {
			return i, fmt.Errorf("file sink: %w", err)
		}
	}
	return len(changed), nil
}

func (s *File) Close() error {
	s.fMu.Lock()
	defer s.fMu.Unlock()
	return s.file.Close()
}
