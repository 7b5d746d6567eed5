package main

import (
	"fmt"

	"github.com/dkeye/voicelink/internal/adapters/credential"
	"github.com/dkeye/voicelink/internal/adapters/device"
	"github.com/dkeye/voicelink/internal/adapters/network"
	"github.com/dkeye/voicelink/internal/adapters/rtc"
	"github.com/dkeye/voicelink/internal/adapters/signal"
	"github.com/dkeye/voicelink/internal/app"
	"github.com/dkeye/voicelink/internal/app/orch"
	"github.com/dkeye/voicelink/internal/app/session"
	"github.com/dkeye/voicelink/internal/app/tracks"
	"github.com/dkeye/voicelink/internal/config"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
)

func buildOrchestrator(cfg *config.Config) (*orch.Orchestrator, error) {
	codec, err := signal.CodecByName(cfg.Signal.Codec)
	if err != nil {
		return nil, err
	}
	factory, err := rtc.NewAPIFactory(cfg.WebRTC)
	if err != nil {
		return nil, fmt.Errorf("webrtc: %w", err)
	}

	room := domain.RoomName(cfg.Room)
	identity, err := domain.ParseIdentity(cfg.Identity)
	if err != nil {
		return nil, err
	}

	transport := network.NewTransport(factory, network.Options{
		Room:        room,
		Identity:    identity,
		DisplayName: cfg.DisplayName,
		Signal: signal.Options{
			Codec:      codec,
			PingPeriod: cfg.Signal.PingPeriod,
			PongWait:   cfg.Signal.PongWait,
			ReadLimit:  cfg.Signal.ReadLimit,
		},
		JoinTimeout:    cfg.Signal.JoinTimeout,
		ResumeAttempts: cfg.Signal.ResumeAttempts,
		ResumeDelay:    cfg.Signal.ResumeDelay,
	})

	devCfg := cfg.Devices.Config
	if devCfg.StreamID == "" {
		devCfg.StreamID = string(identity)
	}
	devices := device.NewSource(devCfg)

	return orch.New(newFetcher(cfg), transport, devices, orch.Options{
		Session: sessionOptions(cfg, room, identity),
		Tracks: tracks.Options{
			Video: core.Constraints{
				Width:      cfg.Devices.Video.Width,
				Height:     cfg.Devices.Video.Height,
				FacingMode: cfg.Devices.Video.FacingMode,
			},
			Audio: core.Constraints{
				EchoCancellation: cfg.Devices.Audio.EchoCancellation,
				NoiseSuppression: cfg.Devices.Audio.NoiseSuppression,
			},
		},
	}), nil
}

func newFetcher(cfg *config.Config) core.CredentialFetcher {
	if cfg.Credential.URL == "" {
		return nil
	}
	return credential.NewHTTPFetcher(credential.Options{
		URL:     cfg.Credential.URL,
		Timeout: cfg.Credential.Timeout,
	})
}

func sessionOptions(cfg *config.Config, room domain.RoomName, identity domain.Identity) session.Options {
	role := domain.Role(cfg.Role)
	caps := domain.Capabilities{
		CanPublish:   cfg.AllowPublish && role != domain.RoleListener,
		CanSubscribe: true,
	}
	opts := session.Options{
		Room:         room,
		Identity:     identity,
		DisplayName:  cfg.DisplayName,
		Role:         role,
		Capabilities: caps,
		AutoPublish:  cfg.AutoPublish,
		Policy: app.BackoffPolicy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay,
		},
	}
	if cfg.Credential.Token != "" {
		opts.Credential = &domain.Credential{
			Token:         cfg.Credential.Token,
			ServerAddress: cfg.Credential.ServerAddress,
			Room:          room,
			Capabilities:  caps,
		}
	}
	return opts
}
