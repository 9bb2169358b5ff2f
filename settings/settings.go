// Package settings resolves the GlobalSettings singleton: hourly rate, base
// commission rate and base bonus rate. Absent settings resolve to
// core.DefaultGlobalSettings.
package settings

import (
	"context"
	"fmt"

	"github.com/warp/shift-engine/core"
)

// Provider returns the settings in effect and persists admin changes.
type Provider interface {
	Settings(ctx context.Context) (core.GlobalSettings, error)
	Update(ctx context.Context, s core.GlobalSettings) error
}

// StoreProvider reads the singleton straight from the store.
type StoreProvider struct {
	store core.SettingsStore
}

func NewStoreProvider(store core.SettingsStore) *StoreProvider {
	return &StoreProvider{store: store}
}

func (p *StoreProvider) Settings(ctx context.Context) (core.GlobalSettings, error) {
	gs, err := p.store.GlobalSettings(ctx)
	if err != nil {
		return core.GlobalSettings{}, fmt.Errorf("loading global settings: %w", err)
	}
	if gs == nil {
		return core.DefaultGlobalSettings(), nil
	}
	return *gs, nil
}

func (p *StoreProvider) Update(ctx context.Context, s core.GlobalSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return p.store.SaveGlobalSettings(ctx, s)
}
