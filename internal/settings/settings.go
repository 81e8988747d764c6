// Package settings holds the user-configurable notification policy and
// persists it through a key/value collaborator.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/schuttebj/ampro-platform-sub001/internal/notification"
)

var (
	ErrInvalidSettings = errors.New("invalid settings")
	ErrPersistence     = errors.New("settings persistence failed")
)

const (
	DefaultPollIntervalMs   = 15000
	DefaultAutoReadDelaySec = 30
	DefaultMaxDisplayCount  = 50

	MinPollIntervalMs  = 1000
	MaxMaxDisplayCount = 1000
)

type CategoryRule struct {
	Enabled      bool   `json:"enabled"`
	MinPriority  string `json:"minPriority"`
	EmailEnabled bool   `json:"emailEnabled"`
}

type Settings struct {
	Enabled          bool                                   `json:"enabled"`
	SoundEnabled     bool                                   `json:"soundEnabled"`
	DesktopEnabled   bool                                   `json:"desktopEnabled"`
	PollIntervalMs   int                                    `json:"pollIntervalMs"`
	AutoReadDelaySec int                                    `json:"autoReadDelaySec"`
	MaxDisplayCount  int                                    `json:"maxDisplayCount"`
	PerCategory      map[notification.Category]CategoryRule `json:"perCategory"`
}

// Defaults returns the hard-coded policy. Notifications start disabled.
func Defaults() Settings {
	per := make(map[notification.Category]CategoryRule, len(notification.Categories))
	for _, c := range notification.Categories {
		per[c] = CategoryRule{Enabled: true, MinPriority: notification.MinPriorityAll}
	}
	per[notification.CategoryCompliance] = CategoryRule{Enabled: true, MinPriority: string(notification.PriorityNormal), EmailEnabled: true}
	per[notification.CategorySystem] = CategoryRule{Enabled: true, MinPriority: string(notification.PriorityHigh)}

	return Settings{
		Enabled:          false,
		SoundEnabled:     true,
		DesktopEnabled:   false,
		PollIntervalMs:   DefaultPollIntervalMs,
		AutoReadDelaySec: DefaultAutoReadDelaySec,
		MaxDisplayCount:  DefaultMaxDisplayCount,
		PerCategory:      per,
	}
}

func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

func (s Settings) AutoReadDelay() time.Duration {
	return time.Duration(s.AutoReadDelaySec) * time.Second
}

// Rule returns the per-category rule; ok is false when the category has none.
func (s Settings) Rule(c notification.Category) (CategoryRule, bool) {
	r, ok := s.PerCategory[c]
	return r, ok
}

// Clone deep-copies the category map.
func (s Settings) Clone() Settings {
	cp := s
	cp.PerCategory = make(map[notification.Category]CategoryRule, len(s.PerCategory))
	for k, v := range s.PerCategory {
		cp.PerCategory[k] = v
	}
	return cp
}

func (s Settings) Validate() error {
	if s.PollIntervalMs < MinPollIntervalMs {
		return fmt.Errorf("%w: pollIntervalMs must be >= %d", ErrInvalidSettings, MinPollIntervalMs)
	}
	if s.AutoReadDelaySec < 0 {
		return fmt.Errorf("%w: autoReadDelaySec must be >= 0", ErrInvalidSettings)
	}
	if s.MaxDisplayCount < 1 || s.MaxDisplayCount > MaxMaxDisplayCount {
		return fmt.Errorf("%w: maxDisplayCount must be in 1..%d", ErrInvalidSettings, MaxMaxDisplayCount)
	}
	for c, r := range s.PerCategory {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidSettings, c)
		}
		if !notification.ValidMinPriority(r.MinPriority) {
			return fmt.Errorf("%w: category %s: invalid minPriority %q", ErrInvalidSettings, c, r.MinPriority)
		}
	}
	return nil
}

// CategoryPatch carries optional per-category changes.
type CategoryPatch struct {
	Enabled      *bool   `json:"enabled,omitempty"`
	MinPriority  *string `json:"minPriority,omitempty"`
	EmailEnabled *bool   `json:"emailEnabled,omitempty"`
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Enabled          *bool                                   `json:"enabled,omitempty"`
	SoundEnabled     *bool                                   `json:"soundEnabled,omitempty"`
	DesktopEnabled   *bool                                   `json:"desktopEnabled,omitempty"`
	PollIntervalMs   *int                                    `json:"pollIntervalMs,omitempty"`
	AutoReadDelaySec *int                                    `json:"autoReadDelaySec,omitempty"`
	MaxDisplayCount  *int                                    `json:"maxDisplayCount,omitempty"`
	PerCategory      map[notification.Category]CategoryPatch `json:"perCategory,omitempty"`
}

// Apply returns s with p merged in. Unknown categories are rejected.
func (p Patch) Apply(s Settings) (Settings, error) {
	out := s.Clone()
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
	for c, cp := range p.PerCategory {
		if !c.Valid() {
			return s, fmt.Errorf("%w: unknown category %q", ErrInvalidSettings, c)
		}
		r := out.PerCategory[c]
		if cp.Enabled != nil {
			r.Enabled = *cp.Enabled
		}
		if cp.MinPriority != nil {
			r.MinPriority = strings.ToLower(strings.TrimSpace(*cp.MinPriority))
		}
		if cp.EmailEnabled != nil {
			r.EmailEnabled = *cp.EmailEnabled
		}
		out.PerCategory[c] = r
	}
	if err := out.Validate(); err != nil {
		return s, err
	}
	return out, nil
}
