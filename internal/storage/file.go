package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"taskherder/pkg/logx"
)

const compactEvery = 1000

// fileStore is a dependency-free persistence backend.
//
// Runs are appended to <prefix>.runs.jsonl. The newest KeepPerJob runs of
// each job are also kept in memory; every compactEvery writes the file is
// rewritten from that window.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	path   string
	f      *os.File
	keep   int
	recent map[string][]RunRecord // oldest first
	writes int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:    log,
		path:   filepath.Join(dir, base) + ".runs.jsonl",
		keep:   cfg.KeepPerJob,
		recent: map[string][]RunRecord{},
	}
	if n, err := s.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("run history replay incomplete", logx.String("path", s.path), logx.Err(err))
	} else if n > 0 {
		log.Debug("run history replayed", logx.String("path", s.path), logx.Int("runs", n))
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	log.Info("run history opened", logx.String("driver", "file"), logx.String("path", s.path))
	return s, nil
}

// replay loads the tail of the existing file. Malformed lines are skipped.
func (s *fileStore) replay() (int, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			continue
		}
		s.remember(r)
		n++
	}
	return n, sc.Err()
}

func (s *fileStore) remember(r RunRecord) {
	runs := append(s.recent[r.Job], r)
	if over := len(runs) - s.keep; over > 0 {
		runs = slices.Delete(runs, 0, over)
	}
	s.recent[r.Job] = runs
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	r.fill()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("run history closed")
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.remember(r)
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("run history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentRuns(ctx context.Context, job string, limit int) ([]RunRecord, error) {
	_ = ctx
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	var out []RunRecord
	if job != "" {
		out = slices.Clone(s.recent[job])
	} else {
		for _, runs := range s.recent {
			out = append(out, runs...)
		}
	}
	s.mu.Unlock()

	slices.SortStableFunc(out, func(a, b RunRecord) int { return b.At.Compare(a.At) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// compactLocked rewrites the file from the in-memory window.
func (s *fileStore) compactLocked() error {
	var all []RunRecord
	for _, runs := range s.recent {
		all = append(all, runs...)
	}
	slices.SortStableFunc(all, func(a, b RunRecord) int { return a.At.Compare(b.At) })

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range all {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	return nil
}
