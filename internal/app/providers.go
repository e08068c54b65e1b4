package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/heroai/internal/config"
	"github.com/MrWong99/heroai/pkg/audio"
	"github.com/MrWong99/heroai/pkg/audio/playback"
	"github.com/MrWong99/heroai/pkg/provider/assist"
	liveprov "github.com/MrWong99/heroai/pkg/provider/live"
)

// AssistBackend is a constructed assist backend together with the config
// entry it came from.
type AssistBackend struct {
	Entry   config.AssistEntry
	Backend assist.Backend
}

// Providers holds the constructed services and devices. Populated by
// [BuildProviders] from the config registry, or directly in tests.
type Providers struct {
	Live   liveprov.Provider
	Assist []AssistBackend
	Mic    audio.Microphone
	Output func(ctx context.Context) (playback.OutputDevice, error)
}

// BuildProviders instantiates every provider and device named in cfg using
// reg. The live provider and both audio devices are required; an assist
// entry whose factory fails is skipped with a warning so one misconfigured
// fallback does not keep the voice session from starting.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}

	live, err := reg.CreateLive(cfg.Providers.Live)
	if err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", cfg.Providers.Live.Name, err)
	}
	ps.Live = live
	slog.Info("provider created", "kind", "live", "name", cfg.Providers.Live.Name)

	for _, entry := range cfg.Providers.Assist {
		b, err := reg.CreateAssist(entry.ProviderEntry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("assist provider not registered; skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			slog.Warn("failed to create assist provider; skipping", "name", entry.Label(), "err", err)
			continue
		}
		ps.Assist = append(ps.Assist, AssistBackend{Entry: entry, Backend: b})
		slog.Info("provider created", "kind", "assist", "name", entry.Label())
	}

	mic, err := reg.CreateInput(cfg.Audio.Input)
	if err != nil {
		return nil, fmt.Errorf("create audio input %q: %w", cfg.Audio.Input.Driver, err)
	}
	ps.Mic = mic

	out, err := reg.Output(cfg.Audio.Output)
	if err != nil {
		return nil, fmt.Errorf("create audio output %q: %w", cfg.Audio.Output.Driver, err)
	}
	ps.Output = out

	return ps, nil
}
