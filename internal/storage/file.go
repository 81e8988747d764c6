package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

const fileCompactEvery = 500

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.kv.json                   (whole map, rewritten atomically)
//   - <prefix>.history.snapshot.json     (periodic snapshot)
//   - <prefix>.history.journal.jsonl     (append-only journal of puts/deletes)
//
// The journal is compacted into the snapshot every fileCompactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	kvPath string
	kv     map[string][]byte

	snapshotPath string
	journal      *os.File
	records      map[string]Record
	writes       int
}

type journalEntry struct {
	Op   string `json:"op"` // "put" | "del"
	ID   string `json:"id"`
	At   int64  `json:"at,omitempty"` // unix milli
	Data []byte `json:"data,omitempty"`
}

type snapshotEntry struct {
	At   int64  `json:"at"`
	Data []byte `json:"data"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	kvPath := prefix + ".kv.json"
	snapPath := prefix + ".history.snapshot.json"
	journalPath := prefix + ".history.journal.jsonl"

	kv := map[string][]byte{}
	if err := readJSONFile(kvPath, &kv); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("kv file unreadable; starting empty", logx.String("path", kvPath), logx.Err(err))
		kv = map[string][]byte{}
	}

	records := map[string]Record{}
	if err := loadSnapshot(snapPath, records); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("history snapshot unreadable", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, records); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("history journal replay failed", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		kvPath:       kvPath,
		kv:           kv,
		snapshotPath: snapPath,
		journal:      jf,
		records:      records,
	}, nil
}

func (s *fileStore) GetKV(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, false, ErrClosed
	}
	v, ok := s.kv[strings.TrimSpace(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *fileStore) PutKV(ctx context.Context, key string, value []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	s.kv[strings.TrimSpace(key)] = append([]byte(nil), value...)
	return writeJSONFileAtomic(s.kvPath, s.kv)
}

func (s *fileStore) PutRecord(ctx context.Context, r Record) error {
	_ = ctx
	if strings.TrimSpace(r.ID) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	r.Data = append([]byte(nil), r.Data...)
	s.records[r.ID] = r
	return s.appendLocked(journalEntry{Op: "put", ID: r.ID, At: r.At.UnixMilli(), Data: r.Data})
}

func (s *fileStore) DeleteRecords(ctx context.Context, ids []string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}
	for _, id := range ids {
		if _, ok := s.records[id]; !ok {
			continue
		}
		delete(s.records, id)
		if err := s.appendLocked(journalEntry{Op: "del", ID: id}); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) LoadRecords(ctx context.Context) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return sortedRecords(s.records), nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	if err := s.compactLocked(); err != nil {
		s.log.Warn("history compact on close failed", logx.Err(err))
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) appendLocked(e journalEntry) error {
	if err := json.NewEncoder(s.journal).Encode(e); err != nil {
		return err
	}
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := make(map[string]snapshotEntry, len(s.records))
	for id, r := range s.records {
		snap[id] = snapshotEntry{At: r.At.UnixMilli(), Data: r.Data}
	}
	if err := writeJSONFileAtomic(s.snapshotPath, snap); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err := s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]Record) error {
	var m map[string]snapshotEntry
	if err := readJSONFile(path, &m); err != nil {
		return err
	}
	for id, e := range m {
		out[id] = Record{ID: id, At: time.UnixMilli(e.At), Data: e.Data}
	}
	return nil
}

func replayJournal(path string, out map[string]Record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var e journalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.ID == "" {
			// A torn final line after a crash is expected; skip it.
			continue
		}
		switch e.Op {
		case "put":
			out[e.ID] = Record{ID: e.ID, At: time.UnixMilli(e.At), Data: e.Data}
		case "del":
			delete(out, e.ID)
		}
	}
	return sc.Err()
}

func readJSONFile(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

func writeJSONFileAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
