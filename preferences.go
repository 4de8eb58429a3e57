package caresync

import (
	"context"
	"encoding/json"
	"fmt"

	syncErrors "github.com/telecare/caresync/errors"
)

const preferencesKey = "portal_preferences"

// Preferences holds per-device portal settings that must survive restarts.
// They live beside the offline queue in durable local storage.
type Preferences struct {
	LargeText      bool   `json:"large_text"`
	HighContrast   bool   `json:"high_contrast"`
	ReduceMotion   bool   `json:"reduce_motion"`
	Language       string `json:"language,omitempty"`
	DefaultClinic  string `json:"default_clinic,omitempty"`
	NotifyOnSync   bool   `json:"notify_on_sync"`
	PendingBadge   bool   `json:"pending_badge"`
}

// DefaultPreferences returns the settings a fresh device starts with.
func DefaultPreferences() Preferences {
	return Preferences{
		NotifyOnSync: true,
		PendingBadge: true,
	}
}

// PreferenceStore reads and writes Preferences through a KeyValueStore.
type PreferenceStore struct {
	kv KeyValueStore
}

// NewPreferenceStore wraps kv. The sqlite LocalStore satisfies both this
// store's needs and the queue's ActionStore, so one database serves both.
func NewPreferenceStore(kv KeyValueStore) (*PreferenceStore, error) {
	if kv == nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpPersist,
			fmt.Errorf("key/value store is required"))
	}
	return &PreferenceStore{kv: kv}, nil
}

// Load returns the persisted preferences, or the defaults when none were
// saved yet.
func (p *PreferenceStore) Load(ctx context.Context) (Preferences, error) {
	raw, err := p.kv.Get(ctx, preferencesKey)
	if err != nil {
		if syncErrors.IsKind(err, syncErrors.KindNotFound) {
			return DefaultPreferences(), nil
		}
		return Preferences{}, syncErrors.WrapOpComponent(err, "preferences.Load", "preferences")
	}

	prefs := DefaultPreferences()
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return Preferences{}, syncErrors.E(syncErrors.OpPersist,
			syncErrors.Component("preferences"),
			fmt.Errorf("decoding preferences: %w", err))
	}
	return prefs, nil
}

// Save persists prefs, replacing any previous value.
func (p *PreferenceStore) Save(ctx context.Context, prefs Preferences) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return syncErrors.E(syncErrors.OpPersist,
			syncErrors.Component("preferences"),
			fmt.Errorf("encoding preferences: %w", err))
	}
	if err := p.kv.Set(ctx, preferencesKey, raw); err != nil {
		return syncErrors.WrapOpComponent(err, "preferences.Save", "preferences")
	}
	return nil
}

// Reset removes the persisted preferences so Load returns defaults again.
func (p *PreferenceStore) Reset(ctx context.Context) error {
	if err := p.kv.Remove(ctx, preferencesKey); err != nil {
		return syncErrors.WrapOpComponent(err, "preferences.Reset", "preferences")
	}
	return nil
}
