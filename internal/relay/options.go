package relay

import (
	"time"

	"github.com/lexiqai/caption-relay/internal/audio"
	"github.com/lexiqai/caption-relay/internal/config"
	"github.com/lexiqai/caption-relay/internal/pool"
)

// Options tunes every session the relay starts.
type Options struct {
	DefaultSourceLang string
	Pool              pool.Config
	Audio             audio.SegmenterConfig // OnSegment and Logger are set per session
	LiveMaxChars      int
	LiveMaxAge        time.Duration
	SendBuffer        int
	StatsInterval     time.Duration
	MaxInflight       int
}

// OptionsFromConfig maps service configuration onto relay options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		DefaultSourceLang: "en",
		Pool: pool.Config{
			Size:                 cfg.PoolSize,
			QueueDepth:           cfg.PoolQueueDepth,
			HandshakeTimeout:     config.Millis(cfg.PoolHandshakeTimeout),
			ReorderHold:          config.Millis(cfg.PoolReorderHold),
			ChunkTimeout:         config.Millis(cfg.PoolChunkTimeout),
			FrameBytes:           cfg.PoolFrameBytes,
			ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
			ReconnectBackoff:     config.Millis(cfg.ReconnectBackoff),
			ReconnectMaxBackoff:  config.Millis(cfg.ReconnectMaxBackoff),
			QuotaRetryLimit:      cfg.QuotaRetryLimit,
		},
		Audio: audio.SegmenterConfig{
			SampleRate:  cfg.AudioSampleRate,
			MinDuration: config.Millis(cfg.SegmentMinMs),
			MaxDuration: config.Millis(cfg.SegmentMaxMs),
			Overlap:     config.Millis(cfg.SegmentOverlapMs),
			Idle:        config.Millis(cfg.SegmentIdleMs),
			VAD: &audio.VADConfig{
				EnergyThreshold: cfg.VADEnergyThreshold,
				SilenceFrames:   cfg.VADSilenceFrames,
				FrameSize:       audio.FrameSizeFor(cfg.AudioSampleRate),
			},
		},
		LiveMaxChars:  cfg.LiveMaxChars,
		LiveMaxAge:    config.Millis(cfg.LiveMaxAgeMs),
		SendBuffer:    cfg.ListenerSendBuffer,
		StatsInterval: config.Seconds(cfg.StatsInterval),
		MaxInflight:   cfg.TranslateMaxInflight,
	}
}
