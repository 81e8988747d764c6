package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memStore struct {
	mu      sync.Mutex
	kv      map[string][]byte
	records map[string]Record
	closed  bool
}

// NewMemory returns a Store that keeps everything in process memory.
func NewMemory() Store {
	return &memStore{kv: map[string][]byte{}, records: map[string]Record{}}
}

func (s *memStore) GetKV(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	v, ok := s.kv[strings.TrimSpace(key)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *memStore) PutKV(ctx context.Context, key string, value []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.kv[strings.TrimSpace(key)] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) PutRecord(ctx context.Context, r Record) error {
	_ = ctx
	if strings.TrimSpace(r.ID) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r.Data = append([]byte(nil), r.Data...)
	s.records[r.ID] = r
	return nil
}

func (s *memStore) DeleteRecords(ctx context.Context, ids []string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

func (s *memStore) LoadRecords(ctx context.Context) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return sortedRecords(s.records), nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func sortedRecords(m map[string]Record) []Record {
	out := make([]Record, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
