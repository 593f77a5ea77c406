package generation

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/notepad/internal/notes"
	"go.uber.org/zap"
)

// DefaultLoadTimeout bounds the one-time initialization probe.
const DefaultLoadTimeout = 10 * time.Second

// Load initializes the generator once at startup. It returns nil when the
// capability is disabled, misconfigured, or does not answer within the load
// timeout; callers then run on fallbacks for the process lifetime.
func Load(ctx context.Context, cfg Config, logger *zap.Logger) notes.Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		logger.Info("text generation disabled; using fallback metadata")
		return nil
	}

	client, err := NewClient(cfg, logger)
	if err != nil {
		logger.Warn("text generation unavailable", zap.Error(err))
		return nil
	}

	timeout := cfg.LoadTimeout
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	if err := client.Probe(probeCtx); err != nil {
		logger.Warn("text generation unavailable",
			zap.String("model", client.model),
			zap.Duration("load_timeout", timeout),
			zap.Error(err))
		return nil
	}

	logger.Info("text generation ready",
		zap.String("model", client.model),
		zap.Duration("load_duration", time.Since(started)))
	return client
}
