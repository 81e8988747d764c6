package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
	logx "github.com/schuttebj/ampro-platform-sub001/pkg/logx"
)

// DefaultKey is the KV key the settings blob is stored under.
const DefaultKey = "notification_settings"

// KV is the key/value persistence collaborator (storage.Store satisfies it).
type KV interface {
	GetKV(ctx context.Context, key string) ([]byte, bool, error)
	PutKV(ctx context.Context, key string, value []byte) error
}

// Change is delivered to watchers after every successful mutation.
type Change struct {
	Old Settings
	New Settings
}

// PollChanged reports whether the poller has to be re-armed.
func (c Change) PollChanged() bool {
	return c.Old.Enabled != c.New.Enabled || c.Old.PollIntervalMs != c.New.PollIntervalMs
}

// Store is the single owner of the effective settings.
// In-memory settings stay authoritative when persistence fails.
type Store struct {
	// umu is held for a whole mutation through persist and notify, so
	// storage and watchers see mutations in memory order.
	umu sync.Mutex

	mu  sync.RWMutex
	cur Settings

	kv      KV
	key     string
	log     logx.Logger
	timeout time.Duration

	wmu      sync.Mutex
	watchers map[uint64]func(Change)
	seq      uint64
}

// NewStore creates a store holding Defaults(). kv may be nil (memory only).
func NewStore(kv KV, key string, log logx.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		cur:      Defaults(),
		kv:       kv,
		key:      key,
		log:      log,
		timeout:  2 * time.Second,
		watchers: map[uint64]func(Change){},
	}
}

// Get returns a copy of the effective settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Clone()
}

// Load reads persisted settings merged over the defaults. On a read or decode
// failure the defaults stay in effect and an ErrPersistence-wrapped error is returned.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	s.umu.Lock()
	defer s.umu.Unlock()

	merged := Defaults()
	var loadErr error

	if s.kv != nil {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		b, ok, err := s.kv.GetKV(cctx, s.key)
		cancel()
		switch {
		case err != nil:
			loadErr = fmt.Errorf("%w: load %s: %v", ErrPersistence, s.key, err)
		case ok:
			m, err := mergeOverDefaults(b)
			if err != nil {
				loadErr = fmt.Errorf("%w: decode %s: %v", ErrPersistence, s.key, err)
			} else if err := m.Validate(); err != nil {
				loadErr = fmt.Errorf("%w: persisted settings rejected: %v", ErrPersistence, err)
			} else {
				merged = m
			}
		}
	}
	if loadErr != nil {
		s.log.Warn("settings load failed; using defaults", logx.Err(loadErr))
	}

	s.mu.Lock()
	s.cur = merged
	s.mu.Unlock()
	s.log.Debug("settings loaded", logx.Bool("enabled", merged.Enabled), logx.Int("poll_interval_ms", merged.PollIntervalMs))
	return merged.Clone(), loadErr
}

// Save validates and persists a full settings object, then notifies watchers.
func (s *Store) Save(ctx context.Context, st Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	st = st.Clone()
	s.umu.Lock()
	defer s.umu.Unlock()

	s.mu.Lock()
	old := s.cur
	s.cur = st
	s.mu.Unlock()

	err := s.persist(ctx, st)
	s.notify(Change{Old: old, New: st.Clone()})
	return err
}

// Update merges p, persists, and returns the effective settings.
// A persistence failure is returned wrapped in ErrPersistence; the update is
// still applied in memory.
func (s *Store) Update(ctx context.Context, p Patch) (Settings, error) {
	s.umu.Lock()
	defer s.umu.Unlock()

	s.mu.Lock()
	old := s.cur
	next, err := p.Apply(old)
	if err != nil {
		s.mu.Unlock()
		return old.Clone(), err
	}
	s.cur = next
	s.mu.Unlock()

	perr := s.persist(ctx, next)
	s.notify(Change{Old: old, New: next.Clone()})
	return next.Clone(), perr
}

// Watch registers fn to run synchronously after each mutation, in mutation
// order. fn must not mutate the store. The returned func unregisters it.
func (s *Store) Watch(fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
	s.wmu.Lock()
	s.seq++
	id := s.seq
	s.watchers[id] = fn
	s.wmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.wmu.Lock()
			delete(s.watchers, id)
			s.wmu.Unlock()
		})
	}
}

func (s *Store) notify(c Change) {
	s.wmu.Lock()
	fns := make([]func(Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.wmu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) persist(ctx context.Context, st Settings) error {
	if s.kv == nil {
		return nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersistence, err)
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.kv.PutKV(cctx, s.key, b); err != nil {
		err = fmt.Errorf("%w: save %s: %v", ErrPersistence, s.key, err)
		s.log.Warn("settings save failed; keeping in-memory settings", logx.Err(err))
		return err
	}
	return nil
}

// persisted mirrors Settings with optional fields so missing keys keep defaults.
type persisted struct {
	Enabled          *bool                      `json:"enabled"`
	SoundEnabled     *bool                      `json:"soundEnabled"`
	DesktopEnabled   *bool                      `json:"desktopEnabled"`
	PollIntervalMs   *int                       `json:"pollIntervalMs"`
	AutoReadDelaySec *int                       `json:"autoReadDelaySec"`
	MaxDisplayCount  *int                       `json:"maxDisplayCount"`
	PerCategory      map[string]json.RawMessage `json:"perCategory"`
}

func mergeOverDefaults(b []byte) (Settings, error) {
	var p persisted
	if err := json.Unmarshal(b, &p); err != nil {
		return Settings{}, err
	}
	out := Defaults()
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.SoundEnabled != nil {
		out.SoundEnabled = *p.SoundEnabled
	}
	if p.DesktopEnabled != nil {
		out.DesktopEnabled = *p.DesktopEnabled
	}
	if p.PollIntervalMs != nil {
		out.PollIntervalMs = *p.PollIntervalMs
	}
	if p.AutoReadDelaySec != nil {
		out.AutoReadDelaySec = *p.AutoReadDelaySec
	}
	if p.MaxDisplayCount != nil {
		out.MaxDisplayCount = *p.MaxDisplayCount
	}
	for k, raw := range p.PerCategory {
		c, ok := notification.ParseCategory(k)
		if !ok {
			continue
		}
		// Decoding onto the default rule keeps fields the blob omits.
		r := out.PerCategory[c]
		if err := json.Unmarshal(raw, &r); err != nil {
			return Settings{}, fmt.Errorf("perCategory.%s: %w", k, err)
		}
		out.PerCategory[c] = r
	}
	return out, nil
}
